// Package pipeline runs ingestion cycles: fetch every enabled source in
// parallel, then normalize, deduplicate and store each record.
//
// A cycle is bounded by the slowest source timeout, not the slowest
// source. A failed or timed-out fetch degrades that source for the
// cycle; the other sources still ingest.
package pipeline

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/catalog/dedup"
	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/catalog/normalize"
	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/catalog/source"
	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/catalog/store"
	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/catalog/types"
	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/config"
	caterr "github.com/calexyoung/space-weather-reports-CLI-sub001/internal/errors"
	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/logging"
	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/metrics"
)

// Pipeline ingests raw source records into canonical events.
type Pipeline struct {
	config     *config.Config
	sources    []source.Adapter
	normalizer *normalize.Normalizer
	deduper    *dedup.Deduper
	store      *store.Store
	metrics    *metrics.Metrics
	latency    *FetchLatency
	now        func() time.Time
}

// SourceResult summarizes one source's contribution to a cycle.
type SourceResult struct {
	Source  string
	Fetched int
	// Ingested counts new canonical events, ambiguous ones included.
	Ingested int
	// Merged counts candidates folded into an existing event.
	Merged int
	// Skipped counts observations already present by digest.
	Skipped int
	// Failed counts records discarded during normalization or storage.
	Failed int
	// Ambiguous counts candidates stored separately with the flag set.
	Ambiguous int
	// Degraded marks a failed or timed-out fetch. Counts are zero then.
	Degraded bool
	Err      error
}

// CycleResult summarizes one ingestion cycle.
type CycleResult struct {
	CycleID  string
	Window   types.TimeRange
	Sources  []SourceResult
	Duration time.Duration
}

// Degraded reports whether any source failed to fetch this cycle.
func (r *CycleResult) Degraded() bool {
	for _, s := range r.Sources {
		if s.Degraded {
			return true
		}
	}
	return false
}

// New creates a pipeline over the given sources. m may be nil.
func New(cfg *config.Config, st *store.Store, m *metrics.Metrics, sources ...source.Adapter) *Pipeline {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Pipeline{
		config:     cfg,
		sources:    sources,
		normalizer: normalize.New(cfg.Dedup.Tolerance),
		deduper:    dedup.New(cfg),
		store:      st,
		metrics:    m,
		latency:    NewFetchLatency(),
		now:        time.Now,
	}
}

// Latency exposes the per-source fetch latency tracker.
func (p *Pipeline) Latency() *FetchLatency {
	return p.latency
}

// RunCycle runs one ingestion cycle over the configured lookback window.
func (p *Pipeline) RunCycle(ctx context.Context) (*CycleResult, error) {
	end := p.now().UTC()
	window := types.TimeRange{
		Start: end.AddDate(0, 0, -p.config.Ingest.WindowDays),
		End:   end,
	}
	return p.RunWindow(ctx, window)
}

// RunWindow runs one ingestion cycle over an explicit window.
func (p *Pipeline) RunWindow(ctx context.Context, window types.TimeRange) (*CycleResult, error) {
	begin := time.Now()
	cycleID := uuid.NewString()
	ctx = logging.ContextWithCycleID(ctx, cycleID)
	log := logging.WithContext(ctx).With("component", "pipeline")

	log.Info("cycle start",
		"window_start", window.Start.UTC().Format(time.RFC3339),
		"window_end", window.End.UTC().Format(time.RFC3339))

	batches, results := p.fetchAll(ctx, window)

	// Sources are processed sequentially in merge-priority order, so a
	// higher-priority record is the stored one when two sources report
	// the same event in the same cycle.
	order := make([]int, len(p.sources))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return p.config.SourcePriority(p.sources[order[a]].Name()) <
			p.config.SourcePriority(p.sources[order[b]].Name())
	})

	for _, i := range order {
		if results[i].Degraded {
			continue
		}
		p.processBatch(ctx, batches[i], &results[i])
	}

	result := &CycleResult{
		CycleID:  cycleID,
		Window:   window,
		Sources:  results,
		Duration: time.Since(begin),
	}
	if p.metrics != nil {
		p.metrics.CycleDuration.Observe(result.Duration.Seconds())
	}

	for _, sr := range result.Sources {
		log.Info("source result",
			"source", sr.Source,
			"fetched", sr.Fetched,
			"ingested", sr.Ingested,
			"merged", sr.Merged,
			"skipped", sr.Skipped,
			"failed", sr.Failed,
			"degraded", sr.Degraded)
	}
	log.Info("cycle complete", "duration", result.Duration, "degraded", result.Degraded())
	return result, ctx.Err()
}

// fetchAll fetches every source in parallel under its own timeout.
func (p *Pipeline) fetchAll(ctx context.Context, window types.TimeRange) ([][]types.RawRecord, []SourceResult) {
	batches := make([][]types.RawRecord, len(p.sources))
	results := make([]SourceResult, len(p.sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range p.sources {
		i, src := i, src
		results[i].Source = src.Name()

		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, p.sourceTimeout(src.Name()))
			defer cancel()
			fctx = logging.ContextWithSource(fctx, src.Name())

			start := time.Now()
			records, err := src.Fetch(fctx, window)
			p.latency.Observe(src.Name(), time.Since(start))

			if err != nil {
				results[i].Degraded = true
				results[i].Err = err
				if p.metrics != nil {
					p.metrics.FetchFailures.WithLabelValues(src.Name()).Inc()
				}
				logging.WithContext(fctx).Warn("fetch failed",
					"error", err, "timeout", caterr.Is(err, caterr.ErrFetchTimeout))
				// Degradation is contained; never cancel the sibling fetches.
				return nil
			}

			batches[i] = records
			results[i].Fetched = len(records)
			return nil
		})
	}
	g.Wait()
	return batches, results
}

// processBatch normalizes, deduplicates and stores one source's records.
// Record-level failures are counted and skipped; the batch continues.
func (p *Pipeline) processBatch(ctx context.Context, records []types.RawRecord, result *SourceResult) {
	log := logging.WithContext(ctx).With("source", result.Source)

	for _, rec := range records {
		if ctx.Err() != nil {
			return
		}
		if err := p.ingestRecord(ctx, rec, result); err != nil {
			result.Failed++
			if p.metrics != nil {
				p.metrics.RecordsFailed.WithLabelValues(result.Source).Inc()
			}
			log.Warn("record discarded", "external_id", rec.ExternalID, "error", err)
		}
	}
}

func (p *Pipeline) ingestRecord(ctx context.Context, rec types.RawRecord, result *SourceResult) error {
	candidate, err := p.normalizer.Normalize(rec)
	if err != nil {
		return err
	}

	window := p.deduper.Window(candidate.StartTime)
	stored, err := p.store.QueryRange(ctx, window.Start, window.End, 0, candidate.Type)
	if err != nil {
		return err
	}

	// Same observation seen before: nothing to do. Re-running a cycle
	// over an overlapping window is a no-op.
	digest := rec.Digest()
	for i := range stored {
		if stored[i].HasSourceDigest(digest) {
			result.Skipped++
			if p.metrics != nil {
				p.metrics.EventsSkipped.WithLabelValues(result.Source).Inc()
			}
			return nil
		}
	}

	decision := p.deduper.Decide(candidate, stored)
	switch decision.Action {
	case dedup.ActionMerge:
		candidate.CanonicalID = decision.Target.CanonicalID
		if err := p.store.UpsertIn(ctx, decision.Target.PartitionKey(), candidate, p.deduper.Merge); err != nil {
			return err
		}
		result.Merged++
		if p.metrics != nil {
			p.metrics.EventsMerged.WithLabelValues(result.Source).Inc()
		}

	case dedup.ActionAmbiguous:
		// Stored separately under a source-suffixed ID so it cannot
		// collide with any of its match candidates.
		candidate.Ambiguous = true
		candidate.CanonicalID += "-amb-" + result.Source
		if err := p.store.Upsert(ctx, candidate, p.deduper.Merge); err != nil {
			return err
		}
		result.Ingested++
		result.Ambiguous++
		if p.metrics != nil {
			p.metrics.EventsIngested.WithLabelValues(result.Source).Inc()
		}

	default:
		if err := p.store.Upsert(ctx, candidate, p.deduper.Merge); err != nil {
			return err
		}
		result.Ingested++
		if p.metrics != nil {
			p.metrics.EventsIngested.WithLabelValues(result.Source).Inc()
		}
	}
	return nil
}

func (p *Pipeline) sourceTimeout(name string) time.Duration {
	var sc config.SourceConfig
	switch name {
	case source.DonkiName:
		sc = p.config.Sources.Donki
	case source.LmsalName:
		sc = p.config.Sources.Lmsal
	case source.NoaaName:
		sc = p.config.Sources.Noaa
	}
	if sc.Timeout <= 0 {
		return 30 * time.Second
	}
	return sc.Timeout
}
