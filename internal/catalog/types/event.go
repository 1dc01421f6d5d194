package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// EventType indicates the kind of solar-activity event.
type EventType int

const (
	// EventCME is a coronal mass ejection.
	EventCME EventType = iota
	// EventFlare is a solar flare, classified by letter + magnitude.
	EventFlare
)

// String returns a human-readable representation of the EventType.
func (t EventType) String() string {
	switch t {
	case EventCME:
		return "cme"
	case EventFlare:
		return "flare"
	default:
		return "unknown"
	}
}

// ParseEventType parses an event type string as stored in segment rows.
func ParseEventType(s string) (EventType, error) {
	switch s {
	case "cme":
		return EventCME, nil
	case "flare":
		return EventFlare, nil
	default:
		return 0, fmt.Errorf("unknown event type %q", s)
	}
}

// CanonicalEvent is the single deduplicated record for one physical
// phenomenon across all sources. Once persisted it is mutated only
// additively: source records, analyses and alternates are appended,
// previously accepted scalar fields are never removed.
type CanonicalEvent struct {
	// CanonicalID is derived from the event type, the rounded start time
	// and a source-independent discriminator. Stable across re-ingestion.
	CanonicalID string

	Type EventType

	// Timing. StartTime is always set and UTC, second precision.
	StartTime time.Time
	PeakTime  *time.Time
	EndTime   *time.Time

	// Region is the NOAA active-region number, when reported.
	Region string
	// Location is the heliographic coordinate string (e.g. "N00W60").
	Location string

	// FlareClass holds letter + magnitude for flares (e.g. "C8.2").
	FlareClass string

	// Analyses holds CME measurement analyses in source order.
	// Flare events never carry analyses.
	Analyses []Analysis

	// SourceRecords is append-only provenance. Never empty, never shrinks.
	SourceRecords []SourceRecord

	// Alternates records lower-priority values that differed materially
	// from the accepted ones.
	Alternates []FieldAlternate

	// FieldSources maps a scalar field name to the source whose value is
	// currently accepted. Fields never touched by a merge belong to the
	// first source record.
	FieldSources map[string]string

	// Ambiguous marks an event kept separate because more than one stored
	// event matched it within the tolerance window.
	Ambiguous bool

	UpdatedAt time.Time
}

// Analysis is one CME measurement (leading edge, shock front, ...).
type Analysis struct {
	// FeatureCode identifies the measured feature: "LE", "SH", etc.
	FeatureCode string

	SpeedKmS     *float64
	Longitude    *float64
	Latitude     *float64
	HalfAngleDeg *float64

	// Time215 is the time the feature reached 21.5 solar radii.
	Time215 *time.Time

	ModelRuns []ModelRun
}

// ModelRun is one WSA-ENLIL+Cone model result attached to an analysis.
type ModelRun struct {
	CompletionTime   *time.Time
	ShockArrivalTime *time.Time

	// Kp estimates at the 90, 135 and 180 degree sensitivity thresholds.
	Kp90  *int
	Kp135 *int
	Kp180 *int

	// RminRe is the minimum standoff distance in Earth radii.
	RminRe *float64
	// DurationHours is the estimated disturbance duration.
	DurationHours *float64

	Impacts []Impact
}

// Impact is a predicted arrival at a spacecraft or planetary location.
type Impact struct {
	Location    string
	ArrivalTime *time.Time
}

// SourceRecord ties a canonical event back to one raw observation.
type SourceRecord struct {
	Source     string
	ExternalID string
	IngestTime time.Time
	// Digest content-addresses the raw payload; duplicate ingestion of the
	// same observation is detected by digest equality.
	Digest string
}

// FieldAlternate is a value reported by a lower-priority source that
// differed materially from the accepted one.
type FieldAlternate struct {
	Field  string
	Value  string
	Source string
}

// HasSourceDigest reports whether the event already incorporates the
// observation with the given digest.
func (e *CanonicalEvent) HasSourceDigest(digest string) bool {
	for _, r := range e.SourceRecords {
		if r.Digest == digest {
			return true
		}
	}
	return false
}

// HasKpData reports whether any model run carries a Kp estimate.
func (e *CanonicalEvent) HasKpData() bool {
	for _, a := range e.Analyses {
		for _, m := range a.ModelRuns {
			if m.Kp90 != nil || m.Kp135 != nil || m.Kp180 != nil {
				return true
			}
		}
	}
	return false
}

// AcceptedSource returns the source whose value is currently accepted
// for a scalar field. Fields never touched by a merge belong to the
// first source record.
func (e *CanonicalEvent) AcceptedSource(field string) string {
	if src, ok := e.FieldSources[field]; ok {
		return src
	}
	if len(e.SourceRecords) > 0 {
		return e.SourceRecords[0].Source
	}
	return ""
}

// FeatureCodes returns the set of analysis feature codes, sorted.
func (e *CanonicalEvent) FeatureCodes() []string {
	seen := make(map[string]bool)
	var codes []string
	for _, a := range e.Analyses {
		if a.FeatureCode != "" && !seen[a.FeatureCode] {
			seen[a.FeatureCode] = true
			codes = append(codes, a.FeatureCode)
		}
	}
	sort.Strings(codes)
	return codes
}

// PartitionKey returns the month segment this event belongs to ("2025-11").
func (e *CanonicalEvent) PartitionKey() string {
	return e.StartTime.UTC().Format("2006-01")
}

// DigestFields computes the content digest for a raw observation.
// Fields are hashed in key order so the digest is deterministic.
func DigestFields(source string, fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(source))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(fields[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FlareClassParts splits a flare class token into letter and magnitude.
// Returns ok=false if the token does not look like a class.
func FlareClassParts(class string) (letter string, magnitude float64, ok bool) {
	if len(class) < 2 {
		return "", 0, false
	}
	c := class[0]
	if c < 'A' || c > 'Z' {
		return "", 0, false
	}
	var mag float64
	// Tolerate trailing qualifiers like "X1.5/2B".
	num := class[1:]
	if i := strings.IndexAny(num, "/- "); i >= 0 {
		num = num[:i]
	}
	if _, err := fmt.Sscanf(num, "%f", &mag); err != nil {
		return "", 0, false
	}
	return string(c), mag, true
}
