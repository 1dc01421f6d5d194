package types

import "time"

// RecordKind tags the shape of a raw record.
type RecordKind int

const (
	// KindFlare is a flare observation (all sources).
	KindFlare RecordKind = iota
	// KindCME is a CME observation (structured source only).
	KindCME
)

// String returns a human-readable representation of the RecordKind.
func (k RecordKind) String() string {
	switch k {
	case KindFlare:
		return "flare"
	case KindCME:
		return "cme"
	default:
		return "unknown"
	}
}

// RawRecord is the untyped intermediate record a source adapter emits.
// Fields carries source field values as strings; structured CME payloads
// additionally carry the decoded nested arrays in CME.
type RawRecord struct {
	Source     string
	Kind       RecordKind
	ExternalID string

	// Fields holds raw string values keyed by source field name
	// ("start_time", "class", "location", ...).
	Fields map[string]string

	// CME is set only for structured CME payloads.
	CME *RawCME
}

// Digest returns the content address of this observation.
func (r *RawRecord) Digest() string {
	return DigestFields(r.Source, r.Fields)
}

// RawCME mirrors the structured source's nested CME shape before
// normalization.
type RawCME struct {
	ActivityID string
	Catalog    string
	StartTime  string
	Location   string
	RegionNum  string
	Analyses   []RawAnalysis
}

// RawAnalysis is one analysis object from the structured source.
type RawAnalysis struct {
	FeatureCode string
	Speed       *float64
	Longitude   *float64
	Latitude    *float64
	HalfAngle   *float64
	Time215     string
	ModelRuns   []RawModelRun
}

// RawModelRun is one model-run object from the structured source.
type RawModelRun struct {
	CompletionTime   string
	ShockArrivalTime string
	Kp90             *int
	Kp135            *int
	Kp180            *int
	RminRe           *float64
	Duration         *float64
	Impacts          []RawImpact
}

// RawImpact is one impact-list entry from the structured source.
type RawImpact struct {
	Location    string
	ArrivalTime string
}

// TimeRange is the fetch window passed to source adapters.
type TimeRange struct {
	Start time.Time
	End   time.Time
}
