// Package store persists canonical events in month-keyed DuckDB
// segments. A segment is created lazily on the first write into its
// month and removed by the retention manager once empty.
//
// Writes go through Upsert, which is safe under concurrent calls for
// different canonical IDs and serialized per ID through the lock table.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/catalog/types"
	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/config"
	caterr "github.com/calexyoung/space-weather-reports-CLI-sub001/internal/errors"
	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/logging"
)

const segmentExt = ".duckdb"

const createTableSQL = `
	CREATE TABLE IF NOT EXISTS events (
		canonical_id   VARCHAR PRIMARY KEY,
		event_type     VARCHAR NOT NULL,
		start_ms       BIGINT NOT NULL,
		peak_ms        BIGINT,
		end_ms         BIGINT,
		region         VARCHAR,
		location       VARCHAR,
		flare_class    VARCHAR,
		ambiguous      BOOLEAN NOT NULL,
		analyses       VARCHAR NOT NULL,
		source_records VARCHAR NOT NULL,
		alternates     VARCHAR NOT NULL,
		field_sources  VARCHAR NOT NULL,
		updated_ms     BIGINT NOT NULL
	)`

const rowColumns = `canonical_id, event_type, start_ms, peak_ms, end_ms,
	region, location, flare_class, ambiguous, analyses, source_records,
	alternates, field_sources, updated_ms`

// MergeFunc folds an incoming candidate into an existing stored event.
// It must be additive: the result keeps the existing canonical ID and
// never drops source records.
type MergeFunc func(existing, incoming *types.CanonicalEvent) *types.CanonicalEvent

// Store is the month-partitioned event store.
type Store struct {
	mu      sync.Mutex
	config  *config.Config
	handles map[string]*sql.DB
	locks   *LockTable
	closed  bool

	stats Stats
	log   interface {
		Info(msg string, args ...any)
		Warn(msg string, args ...any)
		Debug(msg string, args ...any)
	}
}

// Stats holds store statistics.
type Stats struct {
	Inserts       atomic.Int64
	Merges        atomic.Int64
	Deletes       atomic.Int64
	SegmentsMade  atomic.Int64
	SegmentsFreed atomic.Int64
	Errors        atomic.Int64
}

// Open creates a store over cfg's segments directory.
func Open(cfg *config.Config) (*Store, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := os.MkdirAll(cfg.SegmentsDir(), 0755); err != nil {
		return nil, caterr.Wrap(err, "create segments dir")
	}
	return &Store{
		config:  cfg,
		handles: make(map[string]*sql.DB),
		locks:   NewLockTable(),
		log:     logging.Component("store"),
	}, nil
}

// Close releases all segment handles.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []string
	for key, db := range s.handles {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
		delete(s.handles, key)
	}
	if len(errs) > 0 {
		return caterr.Wrapf(caterr.ErrStore, "close segments: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Locks exposes the per-ID lock table shared with the retention manager.
func (s *Store) Locks() *LockTable {
	return s.locks
}

// segmentPath returns the file path for a partition key.
func (s *Store) segmentPath(key string) string {
	return filepath.Join(s.config.SegmentsDir(), key+segmentExt)
}

// handle returns the open database for a partition, creating the segment
// when create is set. Returns (nil, nil) for a missing segment when
// create is false.
func (s *Store) handle(key string, create bool) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, caterr.ErrStoreClosed
	}
	if db, ok := s.handles[key]; ok {
		return db, nil
	}

	path := s.segmentPath(key)
	if !create {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, nil
		}
	}

	fresh := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fresh = true
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		s.stats.Errors.Add(1)
		return nil, caterr.Wrapf(caterr.ErrStore, "open segment %s: %v", key, err)
	}
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		s.stats.Errors.Add(1)
		return nil, caterr.Wrapf(caterr.ErrStore, "init segment %s: %v", key, err)
	}

	s.handles[key] = db
	if fresh {
		s.stats.SegmentsMade.Add(1)
		s.log.Info("segment created", "segment", key)
	}
	return db, nil
}

// Upsert writes a canonical event. If an event with the same ID already
// exists in the partition, merge folds the incoming candidate into it;
// otherwise the candidate is inserted as-is. The write is atomic per
// event and serialized per canonical ID.
func (s *Store) Upsert(ctx context.Context, ev *types.CanonicalEvent, merge MergeFunc) error {
	return s.UpsertIn(ctx, ev.PartitionKey(), ev, merge)
}

// UpsertIn writes into an explicit partition. Merges into a stored event
// target the partition of the stored start time, which may differ from
// the candidate's own month at a boundary.
func (s *Store) UpsertIn(ctx context.Context, key string, ev *types.CanonicalEvent, merge MergeFunc) error {
	s.locks.Lock(ev.CanonicalID)
	defer s.locks.Unlock(ev.CanonicalID)

	db, err := s.handle(key, true)
	if err != nil {
		return err
	}

	existing, err := s.getFrom(ctx, db, ev.CanonicalID)
	if err != nil && !caterr.Is(err, caterr.ErrNotFound) {
		return err
	}

	row := ev
	if existing != nil {
		if merge == nil {
			return caterr.Wrapf(caterr.ErrStore, "duplicate id %s without merge", ev.CanonicalID)
		}
		row = merge(existing, ev)
		s.stats.Merges.Add(1)
	} else {
		s.stats.Inserts.Add(1)
	}

	if err := s.writeRow(ctx, db, row); err != nil {
		s.stats.Errors.Add(1)
		return err
	}
	return nil
}

func (s *Store) writeRow(ctx context.Context, db *sql.DB, ev *types.CanonicalEvent) error {
	row, err := toRow(ev)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT OR REPLACE INTO events (`+rowColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.CanonicalID, row.EventType, row.StartMs, row.PeakMs, row.EndMs,
		row.Region, row.Location, row.FlareClass, row.Ambiguous,
		row.Analyses, row.SourceRecs, row.Alternates, row.FieldSrcs, row.UpdatedMs,
	)
	if err != nil {
		return caterr.Wrapf(caterr.ErrStore, "write %s: %v", ev.CanonicalID, err)
	}
	return nil
}

// Get returns the event with the given canonical ID, searching all
// segments. Returns ErrNotFound when absent.
func (s *Store) Get(ctx context.Context, id string) (*types.CanonicalEvent, error) {
	keys, err := s.Partitions()
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		db, err := s.handle(key, false)
		if err != nil {
			return nil, err
		}
		if db == nil {
			continue
		}
		ev, err := s.getFrom(ctx, db, id)
		if err == nil {
			return ev, nil
		}
		if !caterr.Is(err, caterr.ErrNotFound) {
			return nil, err
		}
	}
	return nil, caterr.NewNotFound("event", id)
}

func (s *Store) getFrom(ctx context.Context, db *sql.DB, id string) (*types.CanonicalEvent, error) {
	r := db.QueryRowContext(ctx, `
		SELECT `+rowColumns+` FROM events WHERE canonical_id = ?`, id)

	var row eventRow
	err := r.Scan(
		&row.CanonicalID, &row.EventType, &row.StartMs, &row.PeakMs, &row.EndMs,
		&row.Region, &row.Location, &row.FlareClass, &row.Ambiguous,
		&row.Analyses, &row.SourceRecs, &row.Alternates, &row.FieldSrcs, &row.UpdatedMs,
	)
	if err == sql.ErrNoRows {
		return nil, caterr.NewNotFound("event", id)
	}
	if err != nil {
		return nil, caterr.Wrapf(caterr.ErrStore, "read %s: %v", id, err)
	}
	return fromRow(row)
}

// QueryRange returns events with start times in [start, end], optionally
// filtered by type, ordered by start time ascending. limit <= 0 means
// unlimited.
func (s *Store) QueryRange(ctx context.Context, start, end time.Time, limit int, eventTypes ...types.EventType) ([]types.CanonicalEvent, error) {
	var results []types.CanonicalEvent

	for _, key := range monthKeys(start, end) {
		db, err := s.handle(key, false)
		if err != nil {
			return nil, err
		}
		if db == nil {
			continue
		}

		events, err := s.queryFrom(ctx, db, start, end, eventTypes)
		if err != nil {
			return nil, err
		}
		results = append(results, events...)

		if limit > 0 && len(results) >= limit {
			results = results[:limit]
			break
		}
	}
	return results, nil
}

func (s *Store) queryFrom(ctx context.Context, db *sql.DB, start, end time.Time, eventTypes []types.EventType) ([]types.CanonicalEvent, error) {
	query := `SELECT ` + rowColumns + ` FROM events WHERE start_ms >= ? AND start_ms <= ?`
	args := []interface{}{start.UTC().UnixMilli(), end.UTC().UnixMilli()}

	if len(eventTypes) > 0 {
		placeholders := make([]string, len(eventTypes))
		for i, t := range eventTypes {
			placeholders[i] = "?"
			args = append(args, t.String())
		}
		query += ` AND event_type IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY start_ms ASC, canonical_id ASC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		s.stats.Errors.Add(1)
		return nil, caterr.Wrapf(caterr.ErrStore, "range query: %v", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]types.CanonicalEvent, error) {
	var events []types.CanonicalEvent
	for rows.Next() {
		var row eventRow
		err := rows.Scan(
			&row.CanonicalID, &row.EventType, &row.StartMs, &row.PeakMs, &row.EndMs,
			&row.Region, &row.Location, &row.FlareClass, &row.Ambiguous,
			&row.Analyses, &row.SourceRecs, &row.Alternates, &row.FieldSrcs, &row.UpdatedMs,
		)
		if err != nil {
			return nil, caterr.Wrapf(caterr.ErrStore, "scan row: %v", err)
		}
		ev, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

// Partitions lists existing segment keys, oldest first.
func (s *Store) Partitions() ([]string, error) {
	entries, err := os.ReadDir(s.config.SegmentsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, caterr.Wrap(err, "list segments")
	}

	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != segmentExt {
			continue
		}
		key := name[:len(name)-len(segmentExt)]
		if _, err := time.Parse("2006-01", key); err != nil {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// PartitionEvents returns all events of one segment with start times
// strictly before cutoff, ordered by start ascending. A zero cutoff
// returns the whole segment.
func (s *Store) PartitionEvents(ctx context.Context, key string, cutoff time.Time) ([]types.CanonicalEvent, error) {
	db, err := s.handle(key, false)
	if err != nil {
		return nil, err
	}
	if db == nil {
		return nil, nil
	}

	query := `SELECT ` + rowColumns + ` FROM events`
	args := []interface{}{}
	if !cutoff.IsZero() {
		query += ` WHERE start_ms < ?`
		args = append(args, cutoff.UTC().UnixMilli())
	}
	query += ` ORDER BY start_ms ASC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, caterr.Wrapf(caterr.ErrStore, "partition query %s: %v", key, err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// DeleteEvent removes one event from a segment. The delete is a single
// statement; an event is never left half-purged.
func (s *Store) DeleteEvent(ctx context.Context, key, id string) error {
	db, err := s.handle(key, false)
	if err != nil {
		return err
	}
	if db == nil {
		return caterr.NewNotFound("segment", key)
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM events WHERE canonical_id = ?`, id); err != nil {
		s.stats.Errors.Add(1)
		return caterr.Wrapf(caterr.ErrStore, "delete %s: %v", id, err)
	}
	s.stats.Deletes.Add(1)
	return nil
}

// CountPartition returns the number of events in a segment.
func (s *Store) CountPartition(ctx context.Context, key string) (int64, error) {
	db, err := s.handle(key, false)
	if err != nil {
		return 0, err
	}
	if db == nil {
		return 0, nil
	}

	var count int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count); err != nil {
		return 0, caterr.Wrapf(caterr.ErrStore, "count %s: %v", key, err)
	}
	return count, nil
}

// DropPartition closes and removes an empty segment file.
func (s *Store) DropPartition(key string) error {
	s.mu.Lock()
	if db, ok := s.handles[key]; ok {
		db.Close()
		delete(s.handles, key)
	}
	s.mu.Unlock()

	if err := os.Remove(s.segmentPath(key)); err != nil && !os.IsNotExist(err) {
		s.stats.Errors.Add(1)
		return caterr.Wrapf(caterr.ErrStore, "remove segment %s: %v", key, err)
	}
	s.stats.SegmentsFreed.Add(1)
	s.log.Info("segment removed", "segment", key)
	return nil
}

// StatsSnapshot returns current statistics.
func (s *Store) StatsSnapshot() StatsSnapshot {
	return StatsSnapshot{
		Inserts:       s.stats.Inserts.Load(),
		Merges:        s.stats.Merges.Load(),
		Deletes:       s.stats.Deletes.Load(),
		SegmentsMade:  s.stats.SegmentsMade.Load(),
		SegmentsFreed: s.stats.SegmentsFreed.Load(),
		Errors:        s.stats.Errors.Load(),
	}
}

// StatsSnapshot holds store statistics.
type StatsSnapshot struct {
	Inserts       int64
	Merges        int64
	Deletes       int64
	SegmentsMade  int64
	SegmentsFreed int64
	Errors        int64
}

// monthKeys enumerates the month partition keys overlapping [start, end].
func monthKeys(start, end time.Time) []string {
	start = start.UTC()
	end = end.UTC()
	if end.Before(start) {
		return nil
	}

	var keys []string
	cur := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cur.After(last) {
		keys = append(keys, cur.Format("2006-01"))
		cur = cur.AddDate(0, 1, 0)
	}
	return keys
}
