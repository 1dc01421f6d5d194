// Package config holds the event catalog configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	caterr "github.com/calexyoung/space-weather-reports-CLI-sub001/internal/errors"
)

// Config represents the complete catalog configuration.
type Config struct {
	// DataDir is the root directory for all storage files.
	DataDir string `yaml:"data_dir"`

	// Sources configures the upstream event sources.
	Sources SourcesConfig `yaml:"sources"`

	// Dedup configures cross-source matching and merging.
	Dedup DedupConfig `yaml:"dedup"`

	// Retention defines how long canonical events are kept.
	Retention RetentionConfig `yaml:"retention"`

	// Ingest configures the periodic ingestion cycle.
	Ingest IngestConfig `yaml:"ingest"`

	// Query configures the query service.
	Query QueryConfig `yaml:"query"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`
}

// SourcesConfig configures all upstream sources.
type SourcesConfig struct {
	// Donki is the structured NASA DONKI API source.
	Donki SourceConfig `yaml:"donki"`

	// Lmsal is the markup (HTML table) flare source.
	Lmsal SourceConfig `yaml:"lmsal"`

	// Noaa is the plain-text SWPC discussion source.
	Noaa SourceConfig `yaml:"noaa"`
}

// SourceConfig configures one upstream source.
type SourceConfig struct {
	// Enabled enables the source for ingestion cycles.
	Enabled bool `yaml:"enabled"`

	// URL is the base URL (donki) or document URL (lmsal, noaa).
	URL string `yaml:"url"`

	// Timeout bounds one fetch. A fetch exceeding it degrades the source
	// for the cycle without failing the other sources.
	Timeout time.Duration `yaml:"timeout"`
}

// DedupConfig configures cross-source matching and merging.
type DedupConfig struct {
	// Tolerance is the start-time window within which two events of the
	// same type are considered match candidates.
	Tolerance time.Duration `yaml:"tolerance"`

	// PeakTolerance matches a candidate start time against a stored peak
	// time. Text sources report the peak, not the start.
	PeakTolerance time.Duration `yaml:"peak_tolerance"`

	// MagnitudeThreshold is the flare-class magnitude difference above
	// which a lower-priority value is recorded as an alternate.
	MagnitudeThreshold float64 `yaml:"magnitude_threshold"`

	// Priority orders sources for scalar merge decisions, highest first.
	Priority []string `yaml:"priority"`
}

// RetentionConfig defines how long canonical events are kept.
type RetentionConfig struct {
	// MaxAgeDays is the retention horizon for event start times.
	MaxAgeDays int `yaml:"max_age_days"`

	// SweepInterval is how often the retention worker runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// Archive configures the optional Parquet archive of purged events.
	Archive ArchiveConfig `yaml:"archive"`
}

// ArchiveConfig configures the Parquet archive written before deletion.
type ArchiveConfig struct {
	// Enabled enables archival.
	Enabled bool `yaml:"enabled"`

	// Dir is the archive directory. Defaults to {DataDir}/archive.
	Dir string `yaml:"dir"`

	// Compression is the Parquet compression algorithm: zstd, snappy,
	// lz4, gzip, none.
	Compression string `yaml:"compression"`
}

// IngestConfig configures the periodic ingestion cycle.
type IngestConfig struct {
	// Interval is the time between cycles.
	Interval time.Duration `yaml:"interval"`

	// WindowDays is the lookback window fetched each cycle.
	WindowDays int `yaml:"window_days"`
}

// QueryConfig configures the query service.
type QueryConfig struct {
	// Timeout bounds one query.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRows is the maximum number of events returned per query.
	MaxRows int `yaml:"max_rows"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled enables the /metrics listener.
	Enabled bool `yaml:"enabled"`

	// Listen is the metrics listen address.
	Listen string `yaml:"listen"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "/var/lib/sweather/catalog",
		Sources: SourcesConfig{
			Donki: SourceConfig{
				Enabled: true,
				URL:     "https://kauai.ccmc.gsfc.nasa.gov/DONKI",
				Timeout: 30 * time.Second,
			},
			Lmsal: SourceConfig{
				Enabled: true,
				URL:     "https://www.lmsal.com/solarsoft/last_events/",
				Timeout: 30 * time.Second,
			},
			Noaa: SourceConfig{
				Enabled: true,
				URL:     "https://services.swpc.noaa.gov/text/discussion.txt",
				Timeout: 30 * time.Second,
			},
		},
		Dedup: DedupConfig{
			Tolerance:          5 * time.Minute,
			PeakTolerance:      2 * time.Minute,
			MagnitudeThreshold: 0.2,
			Priority:           []string{"donki", "lmsal", "noaa"},
		},
		Retention: RetentionConfig{
			MaxAgeDays:    30,
			SweepInterval: 6 * time.Hour,
			Archive: ArchiveConfig{
				Enabled:     false,
				Compression: "zstd",
			},
		},
		Ingest: IngestConfig{
			Interval:   4 * time.Hour,
			WindowDays: 7,
		},
		Query: QueryConfig{
			Timeout: 30 * time.Second,
			MaxRows: 10000,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9402",
		},
	}
}

// Validate checks the configuration for errors. Failures satisfy
// errors.Is against ErrInvalidConfig.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return caterr.NewInvalidConfig("data_dir", "required")
	}
	if c.Dedup.Tolerance <= 0 {
		return caterr.NewInvalidConfig("dedup.tolerance", "must be positive")
	}
	if c.Dedup.MagnitudeThreshold < 0 {
		return caterr.NewInvalidConfig("dedup.magnitude_threshold", "must not be negative")
	}
	if len(c.Dedup.Priority) == 0 {
		return caterr.NewInvalidConfig("dedup.priority", "must list at least one source")
	}
	if c.Retention.MaxAgeDays <= 0 {
		return caterr.NewInvalidConfig("retention.max_age_days", "must be positive")
	}
	if c.Ingest.WindowDays <= 0 {
		return caterr.NewInvalidConfig("ingest.window_days", "must be positive")
	}
	for name, src := range map[string]SourceConfig{
		"donki": c.Sources.Donki,
		"lmsal": c.Sources.Lmsal,
		"noaa":  c.Sources.Noaa,
	} {
		if src.Enabled && src.URL == "" {
			return caterr.NewInvalidConfig("sources."+name+".url", "required when enabled")
		}
		if src.Enabled && src.Timeout <= 0 {
			return caterr.NewInvalidConfig("sources."+name+".timeout", "must be positive")
		}
	}
	return nil
}

// SegmentsDir returns the month-segment directory.
func (c *Config) SegmentsDir() string {
	return filepath.Join(c.DataDir, "segments")
}

// ArchiveDir returns the Parquet archive directory.
func (c *Config) ArchiveDir() string {
	if c.Retention.Archive.Dir != "" {
		return c.Retention.Archive.Dir
	}
	return filepath.Join(c.DataDir, "archive")
}

// SourcePriority returns the merge priority rank of a source, lower is
// higher priority. Unknown sources sort last.
func (c *Config) SourcePriority(source string) int {
	for i, s := range c.Dedup.Priority {
		if s == source {
			return i
		}
	}
	return len(c.Dedup.Priority)
}

// EnsureDirectories creates the storage directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, c.SegmentsDir()}
	if c.Retention.Archive.Enabled {
		dirs = append(dirs, c.ArchiveDir())
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
