package store

import (
	"database/sql"
	"time"

	"github.com/goccy/go-json"

	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/catalog/types"
	caterr "github.com/calexyoung/space-weather-reports-CLI-sub001/internal/errors"
)

// eventRow is the flat segment-table representation of a canonical
// event. Nested structures (analyses, provenance, alternates) are stored
// as JSON columns; everything compared or ranged over is a scalar column.
type eventRow struct {
	CanonicalID string
	EventType   string
	StartMs     int64
	PeakMs      sql.NullInt64
	EndMs       sql.NullInt64
	Region      sql.NullString
	Location    sql.NullString
	FlareClass  sql.NullString
	Ambiguous   bool
	Analyses    string
	SourceRecs  string
	Alternates  string
	FieldSrcs   string
	UpdatedMs   int64
}

func toRow(ev *types.CanonicalEvent) (eventRow, error) {
	analyses, err := json.Marshal(ev.Analyses)
	if err != nil {
		return eventRow{}, caterr.Wrap(err, "encode analyses")
	}
	sources, err := json.Marshal(ev.SourceRecords)
	if err != nil {
		return eventRow{}, caterr.Wrap(err, "encode source records")
	}
	alternates, err := json.Marshal(ev.Alternates)
	if err != nil {
		return eventRow{}, caterr.Wrap(err, "encode alternates")
	}
	fieldSources, err := json.Marshal(ev.FieldSources)
	if err != nil {
		return eventRow{}, caterr.Wrap(err, "encode field sources")
	}

	row := eventRow{
		CanonicalID: ev.CanonicalID,
		EventType:   ev.Type.String(),
		StartMs:     ev.StartTime.UTC().UnixMilli(),
		Ambiguous:   ev.Ambiguous,
		Analyses:    string(analyses),
		SourceRecs:  string(sources),
		Alternates:  string(alternates),
		FieldSrcs:   string(fieldSources),
		UpdatedMs:   ev.UpdatedAt.UTC().UnixMilli(),
	}
	if ev.PeakTime != nil {
		row.PeakMs = sql.NullInt64{Int64: ev.PeakTime.UTC().UnixMilli(), Valid: true}
	}
	if ev.EndTime != nil {
		row.EndMs = sql.NullInt64{Int64: ev.EndTime.UTC().UnixMilli(), Valid: true}
	}
	if ev.Region != "" {
		row.Region = sql.NullString{String: ev.Region, Valid: true}
	}
	if ev.Location != "" {
		row.Location = sql.NullString{String: ev.Location, Valid: true}
	}
	if ev.FlareClass != "" {
		row.FlareClass = sql.NullString{String: ev.FlareClass, Valid: true}
	}
	return row, nil
}

func fromRow(row eventRow) (*types.CanonicalEvent, error) {
	eventType, err := types.ParseEventType(row.EventType)
	if err != nil {
		return nil, caterr.Wrap(err, "decode event type")
	}

	ev := &types.CanonicalEvent{
		CanonicalID: row.CanonicalID,
		Type:        eventType,
		StartTime:   time.UnixMilli(row.StartMs).UTC(),
		Ambiguous:   row.Ambiguous,
		UpdatedAt:   time.UnixMilli(row.UpdatedMs).UTC(),
	}
	if row.PeakMs.Valid {
		t := time.UnixMilli(row.PeakMs.Int64).UTC()
		ev.PeakTime = &t
	}
	if row.EndMs.Valid {
		t := time.UnixMilli(row.EndMs.Int64).UTC()
		ev.EndTime = &t
	}
	if row.Region.Valid {
		ev.Region = row.Region.String
	}
	if row.Location.Valid {
		ev.Location = row.Location.String
	}
	if row.FlareClass.Valid {
		ev.FlareClass = row.FlareClass.String
	}

	if err := json.Unmarshal([]byte(row.Analyses), &ev.Analyses); err != nil {
		return nil, caterr.Wrap(err, "decode analyses")
	}
	if err := json.Unmarshal([]byte(row.SourceRecs), &ev.SourceRecords); err != nil {
		return nil, caterr.Wrap(err, "decode source records")
	}
	if err := json.Unmarshal([]byte(row.Alternates), &ev.Alternates); err != nil {
		return nil, caterr.Wrap(err, "decode alternates")
	}
	if err := json.Unmarshal([]byte(row.FieldSrcs), &ev.FieldSources); err != nil {
		return nil, caterr.Wrap(err, "decode field sources")
	}
	return ev, nil
}
