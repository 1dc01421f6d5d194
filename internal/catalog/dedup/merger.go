package dedup

import (
	"time"

	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/catalog/types"
)

// Merge folds an incoming candidate into an existing stored event. The
// result keeps the existing canonical ID and start time, unions
// provenance by digest, and resolves scalar conflicts by source
// priority. Re-ingesting an observation already present is a no-op.
//
// The signature matches the store's merge callback, so Merge runs under
// the event's ID lock.
func (d *Deduper) Merge(existing, incoming *types.CanonicalEvent) *types.CanonicalEvent {
	merged := *existing

	fresh := false
	for _, rec := range incoming.SourceRecords {
		if !merged.HasSourceDigest(rec.Digest) {
			merged.SourceRecords = append(merged.SourceRecords, rec)
			fresh = true
		}
	}
	if !fresh {
		return existing
	}

	incomingRank := d.candidateRank(incoming)
	existingRank := d.bestRank(existing)
	incomingWins := incomingRank < existingRank
	incomingSrc := candidateSource(incoming)

	// Start time is fixed at first insert; a disagreeing later source is
	// recorded, not applied, so the canonical ID and partition stay put.
	if !incoming.StartTime.Equal(merged.StartTime) {
		d.addAlternate(&merged, "start_time",
			incoming.StartTime.UTC().Format(time.RFC3339), incomingSrc)
	}

	d.mergeTime(&merged, &merged.PeakTime, incoming.PeakTime, incomingWins, "peak_time", incomingSrc)
	d.mergeTime(&merged, &merged.EndTime, incoming.EndTime, incomingWins, "end_time", incomingSrc)
	d.mergeString(&merged, &merged.Region, incoming.Region, incomingWins, "region", incomingSrc)
	d.mergeString(&merged, &merged.Location, incoming.Location, incomingWins, "location", incomingSrc)
	d.mergeClass(&merged, incoming, incomingWins, incomingSrc)

	merged.Analyses = mergeAnalyses(merged.Analyses, incoming.Analyses)

	if incoming.UpdatedAt.After(merged.UpdatedAt) {
		merged.UpdatedAt = incoming.UpdatedAt
	}
	return &merged
}

// candidateRank is the merge priority of an incoming candidate.
func (d *Deduper) candidateRank(ev *types.CanonicalEvent) int {
	return d.config.SourcePriority(candidateSource(ev))
}

// bestRank is the highest priority among the sources already merged into
// a stored event. Its accepted scalars are treated as coming from that
// source.
func (d *Deduper) bestRank(ev *types.CanonicalEvent) int {
	best := d.config.SourcePriority("")
	for _, rec := range ev.SourceRecords {
		if r := d.config.SourcePriority(rec.Source); r < best {
			best = r
		}
	}
	return best
}

// candidateSource is the source of an incoming candidate, which carries
// exactly one source record.
func candidateSource(ev *types.CanonicalEvent) string {
	if len(ev.SourceRecords) == 0 {
		return ""
	}
	return ev.SourceRecords[0].Source
}

// setFieldSource records which source supplied the accepted value for a
// field. The map is copied before mutation so the stored event is never
// aliased.
func setFieldSource(merged *types.CanonicalEvent, field, source string) {
	owners := make(map[string]string, len(merged.FieldSources)+1)
	for k, v := range merged.FieldSources {
		owners[k] = v
	}
	owners[field] = source
	merged.FieldSources = owners
}

func (d *Deduper) mergeTime(merged *types.CanonicalEvent, dst **time.Time, src *time.Time,
	incomingWins bool, field, incomingSrc string) {
	if src == nil {
		return
	}
	if *dst == nil {
		t := *src
		*dst = &t
		setFieldSource(merged, field, incomingSrc)
		return
	}
	if (*dst).Equal(*src) {
		return
	}
	if incomingWins {
		d.addAlternate(merged, field, (*dst).UTC().Format(time.RFC3339), merged.AcceptedSource(field))
		t := *src
		*dst = &t
		setFieldSource(merged, field, incomingSrc)
	} else {
		d.addAlternate(merged, field, src.UTC().Format(time.RFC3339), incomingSrc)
	}
}

func (d *Deduper) mergeString(merged *types.CanonicalEvent, dst *string, src string,
	incomingWins bool, field, incomingSrc string) {
	if src == "" {
		return
	}
	if *dst == "" {
		*dst = src
		setFieldSource(merged, field, incomingSrc)
		return
	}
	if *dst == src {
		return
	}
	if incomingWins {
		d.addAlternate(merged, field, *dst, merged.AcceptedSource(field))
		*dst = src
		setFieldSource(merged, field, incomingSrc)
	} else {
		d.addAlternate(merged, field, src, incomingSrc)
	}
}

// mergeClass resolves flare-class conflicts. Magnitude differences within
// the threshold are not material; the higher-priority value stands
// silently. Beyond the threshold the losing value becomes an alternate.
func (d *Deduper) mergeClass(merged, incoming *types.CanonicalEvent, incomingWins bool, incomingSrc string) {
	if incoming.FlareClass == "" {
		return
	}
	if merged.FlareClass == "" {
		merged.FlareClass = incoming.FlareClass
		setFieldSource(merged, "flare_class", incomingSrc)
		return
	}
	if merged.FlareClass == incoming.FlareClass {
		return
	}

	material := true
	ml, mm, mok := types.FlareClassParts(merged.FlareClass)
	il, im, iok := types.FlareClassParts(incoming.FlareClass)
	if mok && iok && ml == il {
		diff := mm - im
		if diff < 0 {
			diff = -diff
		}
		material = diff > d.config.Dedup.MagnitudeThreshold
	}

	if incomingWins {
		if material {
			d.addAlternate(merged, "flare_class", merged.FlareClass, merged.AcceptedSource("flare_class"))
		}
		merged.FlareClass = incoming.FlareClass
		setFieldSource(merged, "flare_class", incomingSrc)
	} else if material {
		d.addAlternate(merged, "flare_class", incoming.FlareClass, incomingSrc)
	}
}

// addAlternate records a displaced or rejected value, attributed to the
// source that carried it. Duplicate alternates are dropped.
func (d *Deduper) addAlternate(merged *types.CanonicalEvent, field, value, source string) {
	for _, a := range merged.Alternates {
		if a.Field == field && a.Value == value && a.Source == source {
			return
		}
	}
	merged.Alternates = append(merged.Alternates, types.FieldAlternate{
		Field:  field,
		Value:  value,
		Source: source,
	})
}

// mergeAnalyses appends incoming analyses not already present. Two
// analyses are the same measurement when their feature code and 21.5
// solar radii time agree.
func mergeAnalyses(existing, incoming []types.Analysis) []types.Analysis {
	for _, in := range incoming {
		found := false
		for _, ex := range existing {
			if sameAnalysis(ex, in) {
				found = true
				break
			}
		}
		if !found {
			existing = append(existing, in)
		}
	}
	return existing
}

func sameAnalysis(a, b types.Analysis) bool {
	if a.FeatureCode != b.FeatureCode {
		return false
	}
	if a.Time215 == nil || b.Time215 == nil {
		return a.Time215 == nil && b.Time215 == nil
	}
	return a.Time215.Equal(*b.Time215)
}
