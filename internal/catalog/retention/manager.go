// Package retention purges canonical events past the configured age
// horizon, segment by segment, optionally archiving them to Parquet
// before deletion.
package retention

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/catalog/store"
	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/config"
	caterr "github.com/calexyoung/space-weather-reports-CLI-sub001/internal/errors"
	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/logging"
)

// Manager runs retention sweeps over the event store.
type Manager struct {
	config *config.Config
	store  *store.Store
	group  singleflight.Group
	log    interface {
		Info(msg string, args ...any)
		Warn(msg string, args ...any)
		Debug(msg string, args ...any)
	}
}

// SweepResult summarizes one retention sweep.
type SweepResult struct {
	// Partitions is the number of segments examined.
	Partitions int
	// Dropped is the number of segment files removed after draining.
	Dropped int
	// Purged is the number of events deleted.
	Purged int
	// Archived is the number of events written to the Parquet archive.
	Archived int
	// Skipped is the number of events left in place because a merge held
	// their ID lock. The next sweep picks them up.
	Skipped int
	// Duration is the sweep wall time.
	Duration time.Duration
}

// NewManager creates a retention manager over the store.
func NewManager(cfg *config.Config, st *store.Store) *Manager {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Manager{
		config: cfg,
		store:  st,
		log:    logging.Component("retention"),
	}
}

// Cutoff returns the retention horizon for a sweep at now. Events with
// start times before it are purged.
func (m *Manager) Cutoff(now time.Time) time.Time {
	return now.UTC().AddDate(0, 0, -m.config.Retention.MaxAgeDays)
}

// Sweep purges all events older than the retention horizon. Concurrent
// calls collapse into one running sweep and share its result.
func (m *Manager) Sweep(ctx context.Context, now time.Time) (*SweepResult, error) {
	v, err, _ := m.group.Do("sweep", func() (interface{}, error) {
		return m.sweep(ctx, now)
	})
	if err != nil {
		return nil, err
	}
	return v.(*SweepResult), nil
}

func (m *Manager) sweep(ctx context.Context, now time.Time) (*SweepResult, error) {
	begin := time.Now()
	cutoff := m.Cutoff(now)
	result := &SweepResult{}

	keys, err := m.store.Partitions()
	if err != nil {
		return nil, err
	}

	for _, key := range keys {
		month, err := time.Parse("2006-01", key)
		if err != nil {
			continue
		}
		// Segments whose month starts at or after the cutoff contain
		// nothing old enough. Keys are sorted ascending.
		if !month.Before(cutoff) {
			break
		}

		result.Partitions++
		if err := m.sweepPartition(ctx, key, cutoff, now, result); err != nil {
			return result, err
		}
	}

	result.Duration = time.Since(begin)
	m.log.Info("sweep complete",
		"partitions", result.Partitions,
		"purged", result.Purged,
		"archived", result.Archived,
		"skipped", result.Skipped,
		"dropped", result.Dropped,
		"duration", result.Duration)
	return result, nil
}

// sweepPartition purges the expired events of one segment, then removes
// the segment file if it ends up empty.
func (m *Manager) sweepPartition(ctx context.Context, key string, cutoff, now time.Time, result *SweepResult) error {
	expired, err := m.store.PartitionEvents(ctx, key, cutoff)
	if err != nil {
		return err
	}
	if len(expired) == 0 {
		return m.dropIfEmpty(ctx, key, result)
	}

	var writer *ArchiveWriter
	if m.config.Retention.Archive.Enabled {
		path := filepath.Join(m.config.ArchiveDir(),
			fmt.Sprintf("%s-%s.parquet", key, now.UTC().Format("20060102T150405")))
		writer, err = NewArchiveWriter(path, m.config.Retention.Archive.Compression)
		if err != nil {
			return caterr.Wrapf(caterr.ErrStore, "open archive for %s: %v", key, err)
		}
		defer writer.Close()
	}

	locks := m.store.Locks()
	for i := range expired {
		if err := ctx.Err(); err != nil {
			return err
		}

		ev := &expired[i]
		// An event with an in-flight merge is left for the next sweep
		// rather than deleted under the merge's feet.
		if !locks.TryLock(ev.CanonicalID) {
			result.Skipped++
			m.log.Debug("skipping locked event", "id", ev.CanonicalID)
			continue
		}

		err := func() error {
			defer locks.Unlock(ev.CanonicalID)

			if writer != nil {
				if err := writer.Write(expired[i : i+1]); err != nil {
					return err
				}
				result.Archived++
			}
			if err := m.store.DeleteEvent(ctx, key, ev.CanonicalID); err != nil {
				return err
			}
			result.Purged++
			return nil
		}()
		if err != nil {
			return err
		}
	}

	if writer != nil {
		if err := writer.Close(); err != nil {
			return caterr.Wrapf(caterr.ErrStore, "close archive for %s: %v", key, err)
		}
	}
	return m.dropIfEmpty(ctx, key, result)
}

func (m *Manager) dropIfEmpty(ctx context.Context, key string, result *SweepResult) error {
	count, err := m.store.CountPartition(ctx, key)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if err := m.store.DropPartition(key); err != nil {
		return err
	}
	result.Dropped++
	return nil
}
