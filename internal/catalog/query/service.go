// Package query is the read-only view over the event store.
package query

import (
	"context"
	"time"

	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/catalog/store"
	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/catalog/types"
	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/config"
	caterr "github.com/calexyoung/space-weather-reports-CLI-sub001/internal/errors"
	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/logging"
)

// Service answers event queries. It never mutates the store; writes go
// through the ingestion pipeline exclusively.
type Service struct {
	config *config.Config
	store  *store.Store
	log    interface {
		Debug(msg string, args ...any)
	}
}

// NewService creates a query service over the store.
func NewService(cfg *config.Config, st *store.Store) *Service {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Service{
		config: cfg,
		store:  st,
		log:    logging.Component("query"),
	}
}

// Get returns the event with the given canonical ID. Returns ErrNotFound
// when no such event exists.
func (s *Service) Get(ctx context.Context, id string) (*types.CanonicalEvent, error) {
	if id == "" {
		return nil, caterr.NewValidation("id", "must not be empty")
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.Get(ctx, id)
}

// Range returns events with start times in [start, end], ordered by
// start ascending, optionally filtered by type. The result is capped at
// the configured row limit.
func (s *Service) Range(ctx context.Context, start, end time.Time, eventTypes ...types.EventType) ([]types.CanonicalEvent, error) {
	if end.Before(start) {
		return nil, caterr.NewValidation("range", "end before start")
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	events, err := s.store.QueryRange(ctx, start, end, s.config.Query.MaxRows, eventTypes...)
	if err != nil {
		return nil, err
	}
	s.log.Debug("range query",
		"start", start.UTC().Format(time.RFC3339),
		"end", end.UTC().Format(time.RFC3339),
		"events", len(events))
	return events, nil
}

// WithModelRuns returns the CMEs in [start, end] that carry at least one
// model run with a Kp estimate.
func (s *Service) WithModelRuns(ctx context.Context, start, end time.Time) ([]types.CanonicalEvent, error) {
	events, err := s.Range(ctx, start, end, types.EventCME)
	if err != nil {
		return nil, err
	}

	filtered := events[:0]
	for _, ev := range events {
		if ev.HasKpData() {
			filtered = append(filtered, ev)
		}
	}
	return filtered, nil
}

// Ambiguous returns the events in [start, end] that were stored
// separately because more than one match candidate existed.
func (s *Service) Ambiguous(ctx context.Context, start, end time.Time) ([]types.CanonicalEvent, error) {
	events, err := s.Range(ctx, start, end)
	if err != nil {
		return nil, err
	}

	filtered := events[:0]
	for _, ev := range events {
		if ev.Ambiguous {
			filtered = append(filtered, ev)
		}
	}
	return filtered, nil
}

func (s *Service) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.Query.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.config.Query.Timeout)
}
