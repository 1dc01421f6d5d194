package retention

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/catalog/store"
	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/catalog/types"
	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/config"
	caterr "github.com/calexyoung/space-weather-reports-CLI-sub001/internal/errors"
)

func testSetup(t *testing.T) (*config.Config, *store.Store, *Manager) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Retention.MaxAgeDays = 30

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return cfg, st, NewManager(cfg, st)
}

func flareAt(id string, start time.Time) *types.CanonicalEvent {
	return &types.CanonicalEvent{
		CanonicalID: id,
		Type:        types.EventFlare,
		StartTime:   start,
		FlareClass:  "C1.0",
		SourceRecords: []types.SourceRecord{
			{Source: "lmsal", Digest: id, IngestTime: start},
		},
		UpdatedAt: start,
	}
}

func TestSweepHorizon(t *testing.T) {
	_, st, m := testSetup(t)
	ctx := context.Background()
	now := time.Date(2025, 12, 15, 12, 0, 0, 0, time.UTC)

	// A 40-day-old event is past the 30-day horizon, a 10-day-old one is
	// not.
	old := flareAt("flr-old", now.AddDate(0, 0, -40))
	recent := flareAt("flr-recent", now.AddDate(0, 0, -10))
	for _, ev := range []*types.CanonicalEvent{old, recent} {
		if err := st.Upsert(ctx, ev, nil); err != nil {
			t.Fatal(err)
		}
	}

	result, err := m.Sweep(ctx, now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Purged != 1 {
		t.Errorf("purged = %d, want 1", result.Purged)
	}

	if _, err := st.Get(ctx, "flr-old"); !caterr.Is(err, caterr.ErrNotFound) {
		t.Errorf("old event still present: %v", err)
	}
	if _, err := st.Get(ctx, "flr-recent"); err != nil {
		t.Errorf("recent event lost: %v", err)
	}
}

func TestSweepDropsEmptiedSegment(t *testing.T) {
	cfg, st, m := testSetup(t)
	ctx := context.Background()
	now := time.Date(2025, 12, 15, 12, 0, 0, 0, time.UTC)

	// Whole segment two months back expires in one sweep.
	if err := st.Upsert(ctx, flareAt("flr-1", now.AddDate(0, 0, -45)), nil); err != nil {
		t.Fatal(err)
	}
	if err := st.Upsert(ctx, flareAt("flr-2", now.AddDate(0, 0, -46)), nil); err != nil {
		t.Fatal(err)
	}

	result, err := m.Sweep(ctx, now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Purged != 2 || result.Dropped != 1 {
		t.Errorf("result = %+v, want purged=2 dropped=1", result)
	}

	keys, err := st.Partitions()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Errorf("partitions = %v, want none", keys)
	}
	_ = cfg
}

func TestSweepSkipsLockedEvents(t *testing.T) {
	_, st, m := testSetup(t)
	ctx := context.Background()
	now := time.Date(2025, 12, 15, 12, 0, 0, 0, time.UTC)

	if err := st.Upsert(ctx, flareAt("flr-busy", now.AddDate(0, 0, -40)), nil); err != nil {
		t.Fatal(err)
	}

	// Simulate an in-flight merge holding the event's ID lock.
	st.Locks().Lock("flr-busy")
	result, err := m.Sweep(ctx, now)
	st.Locks().Unlock("flr-busy")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Skipped != 1 || result.Purged != 0 {
		t.Errorf("result = %+v, want skipped=1 purged=0", result)
	}
	if _, err := st.Get(ctx, "flr-busy"); err != nil {
		t.Errorf("locked event was purged: %v", err)
	}

	// The next sweep picks it up.
	result, err = m.Sweep(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if result.Purged != 1 {
		t.Errorf("followup purged = %d, want 1", result.Purged)
	}
}

func TestSweepArchivesBeforeDelete(t *testing.T) {
	cfg, st, m := testSetup(t)
	ctx := context.Background()
	now := time.Date(2025, 12, 15, 12, 0, 0, 0, time.UTC)

	cfg.Retention.Archive.Enabled = true
	cfg.Retention.Archive.Compression = "zstd"
	if err := os.MkdirAll(cfg.ArchiveDir(), 0755); err != nil {
		t.Fatal(err)
	}

	if err := st.Upsert(ctx, flareAt("flr-old", now.AddDate(0, 0, -40)), nil); err != nil {
		t.Fatal(err)
	}

	result, err := m.Sweep(ctx, now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Archived != 1 || result.Purged != 1 {
		t.Errorf("result = %+v, want archived=1 purged=1", result)
	}

	entries, err := os.ReadDir(cfg.ArchiveDir())
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".parquet" {
			found = true
			info, err := e.Info()
			if err != nil {
				t.Fatal(err)
			}
			if info.Size() == 0 {
				t.Error("archive file is empty")
			}
		}
	}
	if !found {
		t.Error("no archive file written")
	}
}

func TestSweepIdempotent(t *testing.T) {
	_, st, m := testSetup(t)
	ctx := context.Background()
	now := time.Date(2025, 12, 15, 12, 0, 0, 0, time.UTC)

	if err := st.Upsert(ctx, flareAt("flr-old", now.AddDate(0, 0, -40)), nil); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Sweep(ctx, now); err != nil {
		t.Fatal(err)
	}
	result, err := m.Sweep(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if result.Purged != 0 || result.Dropped != 0 {
		t.Errorf("second sweep = %+v, want nothing to do", result)
	}
}

func TestCutoff(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Retention.MaxAgeDays = 30
	m := NewManager(cfg, nil)

	now := time.Date(2025, 12, 15, 12, 0, 0, 0, time.UTC)
	want := time.Date(2025, 11, 15, 12, 0, 0, 0, time.UTC)
	if got := m.Cutoff(now); !got.Equal(want) {
		t.Errorf("cutoff = %v, want %v", got, want)
	}
}

func TestEventToRow(t *testing.T) {
	peak := time.Date(2025, 11, 2, 12, 39, 0, 0, time.UTC)
	ev := flareAt("flr-x", time.Date(2025, 11, 2, 12, 33, 0, 0, time.UTC))
	ev.PeakTime = &peak
	ev.Region = "4267"

	row, err := EventToRow(ev)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if row.CanonicalID != "flr-x" || row.EventType != "flare" {
		t.Errorf("row identity = %q/%q", row.CanonicalID, row.EventType)
	}
	if row.StartMs != ev.StartTime.UnixMilli() || row.PeakMs != peak.UnixMilli() {
		t.Errorf("row times = %d/%d", row.StartMs, row.PeakMs)
	}
	if row.SourceRecords == "" || row.SourceRecords == "null" {
		t.Errorf("source records JSON = %q", row.SourceRecords)
	}
}
