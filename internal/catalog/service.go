// Package catalog wires the event catalog together: the source
// adapters, the ingestion pipeline, the month-segment store, the
// retention manager and the query service, plus the background workers
// that drive ingestion cycles and retention sweeps.
package catalog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/catalog/pipeline"
	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/catalog/query"
	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/catalog/retention"
	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/catalog/source"
	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/catalog/store"
	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/catalog/types"
	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/config"
	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/logging"
	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/metrics"
)

// Service is the event catalog service orchestrating all components.
type Service struct {
	config *config.Config

	// Components
	store     *store.Store
	pipeline  *pipeline.Pipeline
	retention *retention.Manager
	query     *query.Service
	metrics   *metrics.Metrics

	// State
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	startTime time.Time
	log       interface {
		Info(msg string, args ...any)
		Warn(msg string, args ...any)
		Error(msg string, args ...any)
	}
}

// New creates the catalog service from configuration.
func New(cfg *config.Config) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	var adapters []source.Adapter
	if cfg.Sources.Donki.Enabled {
		adapters = append(adapters, source.NewDonki(cfg.Sources.Donki.URL))
	}
	if cfg.Sources.Lmsal.Enabled {
		adapters = append(adapters, source.NewLmsal(cfg.Sources.Lmsal.URL))
	}
	if cfg.Sources.Noaa.Enabled {
		adapters = append(adapters, source.NewNoaa(cfg.Sources.Noaa.URL))
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		config:    cfg,
		store:     st,
		pipeline:  pipeline.New(cfg, st, m, adapters...),
		retention: retention.NewManager(cfg, st),
		query:     query.NewService(cfg, st),
		metrics:   m,
		ctx:       ctx,
		cancel:    cancel,
		log:       logging.Component("catalog"),
	}, nil
}

// Start launches the background workers.
func (s *Service) Start() error {
	if s.running.Load() {
		return fmt.Errorf("service already running")
	}
	s.running.Store(true)
	s.startTime = time.Now()

	s.wg.Add(1)
	go s.ingestWorker()

	s.wg.Add(1)
	go s.retentionWorker()

	if s.metrics != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.metrics.Serve(s.config.Metrics.Listen); err != nil {
				s.log.Error("metrics listener failed", "error", err)
			}
		}()
	}

	s.log.Info("catalog started",
		"data_dir", s.config.DataDir,
		"ingest_interval", s.config.Ingest.Interval,
		"retention_days", s.config.Retention.MaxAgeDays)
	return nil
}

// Stop stops the workers and closes the store. Safe to call on a
// service that was never started.
func (s *Service) Stop() error {
	if s.running.CompareAndSwap(true, false) {
		s.cancel()

		if s.metrics != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.metrics.Shutdown(ctx)
			cancel()
		}

		s.wg.Wait()
	}

	if err := s.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	s.log.Info("catalog stopped", "uptime", time.Since(s.startTime))
	return nil
}

// RunCycle runs one ingestion cycle immediately.
func (s *Service) RunCycle(ctx context.Context) (*pipeline.CycleResult, error) {
	return s.pipeline.RunCycle(ctx)
}

// RunSweep runs one retention sweep immediately.
func (s *Service) RunSweep(ctx context.Context) (*retention.SweepResult, error) {
	result, err := s.retention.Sweep(ctx, time.Now())
	if err == nil && s.metrics != nil {
		s.metrics.EventsPurged.Add(float64(result.Purged))
		s.metrics.SweepDuration.Observe(result.Duration.Seconds())
	}
	return result, err
}

// Query returns the read-only query service.
func (s *Service) Query() *query.Service {
	return s.query
}

// Get returns one event by canonical ID.
func (s *Service) Get(ctx context.Context, id string) (*types.CanonicalEvent, error) {
	return s.query.Get(ctx, id)
}

// Range returns events in [start, end], optionally filtered by type.
func (s *Service) Range(ctx context.Context, start, end time.Time, eventTypes ...types.EventType) ([]types.CanonicalEvent, error) {
	return s.query.Range(ctx, start, end, eventTypes...)
}

// Stats summarizes the running service.
type Stats struct {
	Uptime time.Duration
	Store  store.StatsSnapshot
}

// Stats returns a snapshot of service statistics.
func (s *Service) Stats() Stats {
	return Stats{
		Uptime: time.Since(s.startTime),
		Store:  s.store.StatsSnapshot(),
	}
}

// ingestWorker runs ingestion cycles at the configured interval. The
// first cycle runs immediately at startup.
func (s *Service) ingestWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Ingest.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.pipeline.RunCycle(s.ctx); err != nil && s.ctx.Err() == nil {
			s.log.Error("ingestion cycle failed", "error", err)
		}

		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// retentionWorker runs sweeps at the configured interval.
func (s *Service) retentionWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Retention.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunSweep(s.ctx); err != nil && s.ctx.Err() == nil {
				s.log.Error("retention sweep failed", "error", err)
			}
		}
	}
}
