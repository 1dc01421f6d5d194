package retention

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/catalog/types"
)

// ArchiveRow is the Parquet representation of a purged event. Nested
// structures are carried as JSON strings, mirroring the segment schema.
type ArchiveRow struct {
	CanonicalID   string `parquet:"canonical_id,zstd"`
	EventType     string `parquet:"event_type,zstd"`
	StartMs       int64  `parquet:"start_ms"`
	PeakMs        int64  `parquet:"peak_ms,optional"`
	EndMs         int64  `parquet:"end_ms,optional"`
	Region        string `parquet:"region,optional,zstd"`
	Location      string `parquet:"location,optional,zstd"`
	FlareClass    string `parquet:"flare_class,optional,zstd"`
	Ambiguous     bool   `parquet:"ambiguous"`
	Analyses      string `parquet:"analyses,zstd"`
	SourceRecords string `parquet:"source_records,zstd"`
	Alternates    string `parquet:"alternates,zstd"`
	FieldSources  string `parquet:"field_sources,zstd"`
	UpdatedMs     int64  `parquet:"updated_ms"`
}

// getCompression returns the parquet-go codec for a config value.
func getCompression(name string) compress.Codec {
	switch name {
	case "snappy":
		return &parquet.Snappy
	case "zstd":
		return &parquet.Zstd
	case "lz4":
		return &parquet.Lz4Raw
	case "gzip":
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// EventToRow converts a canonical event to its archive row.
func EventToRow(ev *types.CanonicalEvent) (ArchiveRow, error) {
	analyses, err := json.Marshal(ev.Analyses)
	if err != nil {
		return ArchiveRow{}, fmt.Errorf("encode analyses: %w", err)
	}
	sources, err := json.Marshal(ev.SourceRecords)
	if err != nil {
		return ArchiveRow{}, fmt.Errorf("encode source records: %w", err)
	}
	alternates, err := json.Marshal(ev.Alternates)
	if err != nil {
		return ArchiveRow{}, fmt.Errorf("encode alternates: %w", err)
	}
	fieldSources, err := json.Marshal(ev.FieldSources)
	if err != nil {
		return ArchiveRow{}, fmt.Errorf("encode field sources: %w", err)
	}

	row := ArchiveRow{
		CanonicalID:   ev.CanonicalID,
		EventType:     ev.Type.String(),
		StartMs:       ev.StartTime.UTC().UnixMilli(),
		Region:        ev.Region,
		Location:      ev.Location,
		FlareClass:    ev.FlareClass,
		Ambiguous:     ev.Ambiguous,
		Analyses:      string(analyses),
		SourceRecords: string(sources),
		Alternates:    string(alternates),
		FieldSources:  string(fieldSources),
		UpdatedMs:     ev.UpdatedAt.UTC().UnixMilli(),
	}
	if ev.PeakTime != nil {
		row.PeakMs = ev.PeakTime.UTC().UnixMilli()
	}
	if ev.EndTime != nil {
		row.EndMs = ev.EndTime.UTC().UnixMilli()
	}
	return row, nil
}

// ArchiveWriter writes purged events to a Parquet file.
type ArchiveWriter struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[ArchiveRow]
	rowCount int64
	closed   bool
}

// NewArchiveWriter creates an archive writer at path.
func NewArchiveWriter(path, compression string) (*ArchiveWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	writerOpts := []parquet.WriterOption{
		parquet.Compression(getCompression(compression)),
	}

	return &ArchiveWriter{
		path:   path,
		file:   f,
		writer: parquet.NewGenericWriter[ArchiveRow](f, writerOpts...),
	}, nil
}

// Write appends events to the archive.
func (w *ArchiveWriter) Write(events []types.CanonicalEvent) error {
	if len(events) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("archive writer closed")
	}

	rows := make([]ArchiveRow, 0, len(events))
	for i := range events {
		row, err := EventToRow(&events[i])
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	w.rowCount += int64(n)
	return nil
}

// Close flushes and closes the archive file.
func (w *ArchiveWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}
	return w.file.Close()
}

// RowCount returns the number of rows written.
func (w *ArchiveWriter) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the archive file path.
func (w *ArchiveWriter) Path() string {
	return w.path
}
