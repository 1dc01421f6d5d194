// Package normalize maps intermediate source records into the canonical
// event schema, coercing units, timezones and optional sub-structures.
package normalize

import (
	"regexp"
	"strings"
	"time"

	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/catalog/types"
	caterr "github.com/calexyoung/space-weather-reports-CLI-sub001/internal/errors"
	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/logging"
)

// Normalizer converts raw records into canonical event candidates.
// The canonical ID it assigns is provisional: the deduplicator may fold
// the candidate into an existing event under that event's ID.
type Normalizer struct {
	// round is the start-time rounding granularity for ID derivation,
	// aligned with the dedup tolerance window.
	round time.Duration
	now   func() time.Time
	log   interface {
		Warn(msg string, args ...any)
	}
}

// New creates a normalizer. round aligns canonical-ID time rounding with
// the deduplicator's tolerance window.
func New(round time.Duration) *Normalizer {
	return &Normalizer{
		round: round,
		now:   time.Now,
		log:   logging.Component("normalize"),
	}
}

var (
	parenRegion = regexp.MustCompile(`\(\s*(\d{3,5})\s*\)`)
	bareRegion  = regexp.MustCompile(`^\d{3,5}$`)
	helioCoord  = regexp.MustCompile(`[NS]\d{2}[EW]\d{2}`)
)

// timeLayouts are tried in order when coercing source timestamps.
// All sources report UTC; none carries an explicit offset besides Z.
var timeLayouts = []string{
	"2006-01-02T15:04Z",
	"2006-01-02T15:04:05Z",
	time.RFC3339,
	"2006/01/02 15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// Normalize converts one raw record. Records whose timestamp cannot be
// parsed or that lack a required field return a record-level error and
// are discarded by the caller; the batch continues.
func (n *Normalizer) Normalize(rec types.RawRecord) (*types.CanonicalEvent, error) {
	switch rec.Kind {
	case types.KindCME:
		return n.normalizeCME(rec)
	case types.KindFlare:
		return n.normalizeFlare(rec)
	default:
		return nil, caterr.NewValidation("kind", "unknown record kind")
	}
}

func (n *Normalizer) normalizeFlare(rec types.RawRecord) (*types.CanonicalEvent, error) {
	class := strings.TrimSpace(rec.Fields["class"])
	if class == "" {
		return nil, caterr.NewMissingField("class")
	}

	start, err := ParseUTC(rec.Fields["start_time"])
	if err != nil {
		return nil, caterr.NewParse(rec.Source, "start_time "+rec.Fields["start_time"])
	}

	region, location := SplitLocation(rec.Fields["location"], rec.Fields["region"])

	ev := &types.CanonicalEvent{
		Type:       types.EventFlare,
		StartTime:  start,
		Region:     region,
		Location:   location,
		FlareClass: class,
		UpdatedAt:  n.now().UTC(),
	}

	// End and peak may be bare clocks relative to the start date (markup
	// source) or full timestamps (structured source). Either absent is fine.
	if t, ok := n.clockOrTimestamp(rec.Fields["peak_time"], start); ok {
		ev.PeakTime = &t
	}
	if t, ok := n.clockOrTimestamp(rec.Fields["end_time"], start); ok {
		ev.EndTime = &t
	}

	ev.CanonicalID = types.CanonicalID(types.EventFlare, start, n.round,
		types.FlareDiscriminator(class, region, location))
	ev.SourceRecords = []types.SourceRecord{n.provenance(rec)}
	return ev, nil
}

func (n *Normalizer) normalizeCME(rec types.RawRecord) (*types.CanonicalEvent, error) {
	if rec.CME == nil {
		return nil, caterr.NewMissingField("cme payload")
	}

	start, err := ParseUTC(rec.CME.StartTime)
	if err != nil {
		return nil, caterr.NewParse(rec.Source, "start_time "+rec.CME.StartTime)
	}

	region, location := SplitLocation(rec.CME.Location, rec.CME.RegionNum)

	ev := &types.CanonicalEvent{
		Type:      types.EventCME,
		StartTime: start,
		Region:    region,
		Location:  location,
		UpdatedAt: n.now().UTC(),
	}

	for _, a := range rec.CME.Analyses {
		analysis := types.Analysis{
			FeatureCode:  a.FeatureCode,
			SpeedKmS:     a.Speed,
			Longitude:    a.Longitude,
			Latitude:     a.Latitude,
			HalfAngleDeg: a.HalfAngle,
		}
		if t, err := ParseUTC(a.Time215); err == nil {
			analysis.Time215 = &t
		}
		for _, r := range a.ModelRuns {
			run := types.ModelRun{
				Kp90:          r.Kp90,
				Kp135:         r.Kp135,
				Kp180:         r.Kp180,
				RminRe:        r.RminRe,
				DurationHours: r.Duration,
			}
			if t, err := ParseUTC(r.CompletionTime); err == nil {
				run.CompletionTime = &t
			}
			if t, err := ParseUTC(r.ShockArrivalTime); err == nil {
				run.ShockArrivalTime = &t
			}
			for _, imp := range r.Impacts {
				impact := types.Impact{Location: imp.Location}
				if t, err := ParseUTC(imp.ArrivalTime); err == nil {
					impact.ArrivalTime = &t
				}
				run.Impacts = append(run.Impacts, impact)
			}
			analysis.ModelRuns = append(analysis.ModelRuns, run)
		}
		ev.Analyses = append(ev.Analyses, analysis)
	}

	discriminator := types.ActivityRoot(rec.CME.ActivityID)
	ev.CanonicalID = types.CanonicalID(types.EventCME, start, n.round, discriminator)
	ev.SourceRecords = []types.SourceRecord{n.provenance(rec)}
	return ev, nil
}

// provenance builds the initial source record for a raw observation.
func (n *Normalizer) provenance(rec types.RawRecord) types.SourceRecord {
	return types.SourceRecord{
		Source:     rec.Source,
		ExternalID: rec.ExternalID,
		IngestTime: n.now().UTC(),
		Digest:     rec.Digest(),
	}
}

// clockOrTimestamp resolves a field that may be a full timestamp or a
// bare HH:MM:SS clock on the start date.
func (n *Normalizer) clockOrTimestamp(value string, start time.Time) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	if t, err := ParseUTC(value); err == nil {
		return t, true
	}
	for _, layout := range []string{"15:04:05", "15:04"} {
		if c, err := time.Parse(layout, value); err == nil {
			return time.Date(start.Year(), start.Month(), start.Day(),
				c.Hour(), c.Minute(), c.Second(), 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// ParseUTC coerces a source timestamp string to a UTC instant at second
// precision.
func ParseUTC(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, caterr.ErrParse
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC().Truncate(time.Second), nil
		}
	}
	return time.Time{}, caterr.NewParse("timestamp", value)
}

// SplitLocation separates a combined location field into the active
// region number and the heliographic coordinate, tolerating either being
// absent. An explicit region value wins over one embedded in the
// location string.
func SplitLocation(location, region string) (string, string) {
	region = strings.TrimSpace(region)
	location = strings.TrimSpace(location)

	if region == "" {
		if m := parenRegion.FindStringSubmatch(location); m != nil {
			region = m[1]
		}
	} else if m := parenRegion.FindStringSubmatch(region); m != nil {
		region = m[1]
	} else if !bareRegion.MatchString(region) {
		region = ""
	}

	coord := ""
	if m := helioCoord.FindString(location); m != "" {
		coord = m
	}
	return region, coord
}
