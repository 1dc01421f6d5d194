// Package dedup decides whether an incoming event candidate is the same
// physical phenomenon as an already stored event, and folds matching
// candidates into their canonical record.
package dedup

import (
	"time"

	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/catalog/types"
	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/config"
	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/logging"
)

// Action is the outcome of a dedup decision.
type Action int

const (
	// ActionInsert stores the candidate as a new canonical event.
	ActionInsert Action = iota
	// ActionMerge folds the candidate into exactly one stored event.
	ActionMerge
	// ActionAmbiguous stores the candidate separately, flagged, because
	// more than one stored event matched within the tolerance window.
	ActionAmbiguous
)

// Decision is the result of matching a candidate against stored events.
type Decision struct {
	Action Action
	// Target is the stored event to merge into. Set only for ActionMerge.
	Target *types.CanonicalEvent
}

// Deduper matches and merges event candidates.
type Deduper struct {
	config *config.Config
	log    interface {
		Debug(msg string, args ...any)
		Warn(msg string, args ...any)
	}
}

// New creates a deduper from the dedup configuration.
func New(cfg *config.Config) *Deduper {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Deduper{
		config: cfg,
		log:    logging.Component("dedup"),
	}
}

// Window returns the query window around a candidate start time that can
// contain match partners. It covers both the start tolerance and the
// peak-vs-start tolerance for text-source mentions.
func (d *Deduper) Window(start time.Time) types.TimeRange {
	pad := d.config.Dedup.Tolerance
	if d.config.Dedup.PeakTolerance > pad {
		pad = d.config.Dedup.PeakTolerance
	}
	// Flares can run long in either direction: a stored start may sit
	// well before a mentioned peak, and a candidate's own peak may sit
	// well after a stored start. Pad both bounds by a few hours.
	return types.TimeRange{
		Start: start.Add(-pad - 4*time.Hour),
		End:   start.Add(pad + 4*time.Hour),
	}
}

// Decide matches the candidate against the stored events of its window.
func (d *Deduper) Decide(candidate *types.CanonicalEvent, stored []types.CanonicalEvent) Decision {
	var matches []*types.CanonicalEvent
	for i := range stored {
		if stored[i].Ambiguous {
			continue
		}
		if d.Matches(candidate, &stored[i]) {
			matches = append(matches, &stored[i])
		}
	}

	switch len(matches) {
	case 0:
		return Decision{Action: ActionInsert}
	case 1:
		return Decision{Action: ActionMerge, Target: matches[0]}
	default:
		d.log.Warn("ambiguous candidate",
			"candidate", candidate.CanonicalID,
			"matches", len(matches))
		return Decision{Action: ActionAmbiguous}
	}
}

// Matches reports whether candidate and stored describe the same event.
func (d *Deduper) Matches(candidate, stored *types.CanonicalEvent) bool {
	if candidate.Type != stored.Type {
		return false
	}

	switch candidate.Type {
	case types.EventFlare:
		return d.matchFlare(candidate, stored)
	case types.EventCME:
		return d.matchCME(candidate, stored)
	default:
		return false
	}
}

func (d *Deduper) matchFlare(candidate, stored *types.CanonicalEvent) bool {
	if !d.timesMatch(candidate, stored) {
		return false
	}

	// Class letters must agree when both sides report a class. The
	// magnitude may disagree within the configured threshold; beyond it
	// the mentions are treated as distinct events.
	cl, cm, cok := types.FlareClassParts(candidate.FlareClass)
	sl, sm, sok := types.FlareClassParts(stored.FlareClass)
	if cok && sok {
		if cl != sl {
			return false
		}
		if diff := cm - sm; diff > d.config.Dedup.MagnitudeThreshold ||
			-diff > d.config.Dedup.MagnitudeThreshold {
			return false
		}
	}

	// Regions must agree when both sides report one.
	if candidate.Region != "" && stored.Region != "" && candidate.Region != stored.Region {
		return false
	}
	return true
}

// timesMatch accepts a start-vs-start match within the tolerance window,
// or a start-vs-peak match within the tighter peak tolerance. Text
// sources report the moment of the peak, not the onset.
func (d *Deduper) timesMatch(candidate, stored *types.CanonicalEvent) bool {
	if within(candidate.StartTime, stored.StartTime, d.config.Dedup.Tolerance) {
		return true
	}
	if stored.PeakTime != nil && within(candidate.StartTime, *stored.PeakTime, d.config.Dedup.PeakTolerance) {
		return true
	}
	if candidate.PeakTime != nil && within(*candidate.PeakTime, stored.StartTime, d.config.Dedup.PeakTolerance) {
		return true
	}
	return false
}

func (d *Deduper) matchCME(candidate, stored *types.CanonicalEvent) bool {
	if !within(candidate.StartTime, stored.StartTime, d.config.Dedup.Tolerance) {
		return false
	}

	// When both sides carry a catalog activity ID, the IDs must share a
	// root. Different roots at the same time are distinct eruptions.
	cr := externalRoot(candidate)
	sr := externalRoot(stored)
	if cr != "" && sr != "" {
		return cr == sr
	}

	// Without catalog IDs on both sides, overlapping feature codes tie
	// the analyses to the same eruption. A side without analyses matches
	// on time alone.
	if len(candidate.Analyses) > 0 && len(stored.Analyses) > 0 {
		return featureOverlap(candidate, stored)
	}
	return true
}

func featureOverlap(a, b *types.CanonicalEvent) bool {
	codes := make(map[string]bool)
	for _, c := range a.FeatureCodes() {
		codes[c] = true
	}
	for _, c := range b.FeatureCodes() {
		if codes[c] {
			return true
		}
	}
	return false
}

// externalRoot returns the activity-ID root from the event's provenance,
// or "" when no source reported one.
func externalRoot(ev *types.CanonicalEvent) string {
	for _, rec := range ev.SourceRecords {
		if rec.ExternalID != "" {
			if root := types.ActivityRoot(rec.ExternalID); root != "" {
				return root
			}
		}
	}
	return ""
}

func within(a, b time.Time, tolerance time.Duration) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}
