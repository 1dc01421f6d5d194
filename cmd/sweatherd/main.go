// sweatherd is the solar-activity event catalog daemon. It periodically
// ingests CMEs and flares from the configured sources, deduplicates them
// into canonical events, serves queries and enforces retention.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/catalog"
	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/config"
	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/logging"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// CLI flags
	cfgPath := flag.String("config", "config.yaml", "config file path")
	dataDir := flag.String("data-dir", "", "data directory (overrides config)")
	metricsListen := flag.String("metrics-listen", "", "metrics listen address (overrides config)")
	once := flag.Bool("once", false, "run a single ingestion cycle and exit")
	sweep := flag.Bool("sweep", false, "run a single retention sweep and exit")
	debug := flag.Bool("debug", false, "debug logging")
	jsonLogs := flag.Bool("json-logs", false, "JSON log output")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logging.Init(level, *jsonLogs)
	logging.Info("sweatherd starting", "version", Version)

	// Load config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Warn("no config file found, using defaults", "path", *cfgPath)
			cfg = config.DefaultConfig()
		} else {
			logging.Error("load config", "error", err)
			os.Exit(1)
		}
	}

	// CLI overrides
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *metricsListen != "" {
		cfg.Metrics.Listen = *metricsListen
		cfg.Metrics.Enabled = true
	}

	svc, err := catalog.New(cfg)
	if err != nil {
		logging.Error("create catalog", "error", err)
		os.Exit(1)
	}

	// One-shot modes for cron-style operation.
	if *once || *sweep {
		err := runOnce(svc, *once, *sweep)
		if stopErr := svc.Stop(); stopErr != nil {
			logging.Warn("stop catalog", "error", stopErr)
		}
		if err != nil {
			logging.Error("one-shot run failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := svc.Start(); err != nil {
		logging.Error("start catalog", "error", err)
		os.Exit(1)
	}

	logging.Info("sweatherd running",
		"data_dir", cfg.DataDir,
		"ingest_interval", cfg.Ingest.Interval,
		"metrics", cfg.Metrics.Enabled)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logging.Info("shutting down")
	if err := svc.Stop(); err != nil {
		logging.Error("stop catalog", "error", err)
		os.Exit(1)
	}
}

func runOnce(svc *catalog.Service, cycle, sweep bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if cycle {
		result, err := svc.RunCycle(ctx)
		if err != nil {
			return fmt.Errorf("ingestion cycle: %w", err)
		}
		for _, sr := range result.Sources {
			logging.Info("source result",
				"source", sr.Source,
				"fetched", sr.Fetched,
				"ingested", sr.Ingested,
				"merged", sr.Merged,
				"skipped", sr.Skipped,
				"failed", sr.Failed,
				"degraded", sr.Degraded)
		}
	}
	if sweep {
		result, err := svc.RunSweep(ctx)
		if err != nil {
			return fmt.Errorf("retention sweep: %w", err)
		}
		logging.Info("sweep result",
			"partitions", result.Partitions,
			"purged", result.Purged,
			"archived", result.Archived,
			"dropped", result.Dropped)
	}
	return nil
}
