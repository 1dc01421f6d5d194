// Package metrics exposes catalog counters over a Prometheus endpoint.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the catalog's Prometheus collectors. Each instance
// carries its own registry so daemon and tests never collide on
// registration.
type Metrics struct {
	registry *prometheus.Registry
	server   *http.Server

	EventsIngested *prometheus.CounterVec
	EventsMerged   *prometheus.CounterVec
	EventsSkipped  *prometheus.CounterVec
	RecordsFailed  *prometheus.CounterVec
	FetchFailures  *prometheus.CounterVec
	CycleDuration  prometheus.Histogram
	EventsPurged   prometheus.Counter
	SweepDuration  prometheus.Summary
}

// New creates and registers the catalog collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.EventsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalog",
		Name:      "events_ingested_total",
		Help:      "New canonical events stored, by source",
	}, []string{"source"})
	m.EventsMerged = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalog",
		Name:      "events_merged_total",
		Help:      "Candidates folded into an existing event, by source",
	}, []string{"source"})
	m.EventsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalog",
		Name:      "events_skipped_total",
		Help:      "Candidates already present by digest, by source",
	}, []string{"source"})
	m.RecordsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalog",
		Name:      "records_failed_total",
		Help:      "Raw records discarded during normalization, by source",
	}, []string{"source"})
	m.FetchFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalog",
		Name:      "fetch_failures_total",
		Help:      "Source fetches that failed or timed out, by source",
	}, []string{"source"})
	m.CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "catalog",
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of one ingestion cycle",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})
	m.EventsPurged = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "catalog",
		Name:      "events_purged_total",
		Help:      "Events removed by retention sweeps",
	})
	m.SweepDuration = prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace: "catalog",
		Name:      "sweep_duration_seconds",
		Help:      "Wall time of one retention sweep",
	})

	m.registry.MustRegister(
		m.EventsIngested, m.EventsMerged, m.EventsSkipped,
		m.RecordsFailed, m.FetchFailures,
		m.CycleDuration, m.EventsPurged, m.SweepDuration,
	)
	return m
}

// Handler returns the scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts the metrics listener on addr. Blocks until Shutdown.
func (m *Metrics) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	m.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	err := m.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the metrics listener.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
