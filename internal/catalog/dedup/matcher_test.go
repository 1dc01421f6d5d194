package dedup

import (
	"testing"
	"time"

	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/catalog/types"
	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/config"
)

func flareAt(start time.Time, class, region, source string) *types.CanonicalEvent {
	return &types.CanonicalEvent{
		Type:       types.EventFlare,
		StartTime:  start,
		FlareClass: class,
		Region:     region,
		SourceRecords: []types.SourceRecord{
			{Source: source, Digest: source + "-" + start.Format("150405") + class},
		},
	}
}

func cmeAt(start time.Time, activityID string) *types.CanonicalEvent {
	return &types.CanonicalEvent{
		Type:      types.EventCME,
		StartTime: start,
		SourceRecords: []types.SourceRecord{
			{Source: "donki", ExternalID: activityID, Digest: activityID},
		},
	}
}

func TestMatchFlareCrossSource(t *testing.T) {
	d := New(config.DefaultConfig())
	base := time.Date(2025, 11, 2, 12, 33, 0, 0, time.UTC)

	tests := []struct {
		name      string
		candidate *types.CanonicalEvent
		stored    *types.CanonicalEvent
		want      bool
	}{
		{
			name:      "ninety seconds apart same class and region",
			candidate: flareAt(base.Add(90*time.Second), "C8.2", "4267", "lmsal"),
			stored:    flareAt(base, "C8.3", "4267", "donki"),
			want:      true,
		},
		{
			name:      "outside tolerance",
			candidate: flareAt(base.Add(6*time.Minute), "C8.2", "4267", "lmsal"),
			stored:    flareAt(base, "C8.2", "4267", "donki"),
			want:      false,
		},
		{
			name:      "class letter differs",
			candidate: flareAt(base.Add(time.Minute), "M8.2", "4267", "lmsal"),
			stored:    flareAt(base, "C8.2", "4267", "donki"),
			want:      false,
		},
		{
			name:      "magnitude beyond threshold",
			candidate: flareAt(base.Add(time.Minute), "C8.5", "4267", "lmsal"),
			stored:    flareAt(base, "C8.2", "4267", "donki"),
			want:      false,
		},
		{
			name:      "regions disagree",
			candidate: flareAt(base.Add(time.Minute), "C8.2", "4268", "lmsal"),
			stored:    flareAt(base, "C8.2", "4267", "donki"),
			want:      false,
		},
		{
			name:      "one region unknown",
			candidate: flareAt(base.Add(time.Minute), "C8.2", "", "noaa"),
			stored:    flareAt(base, "C8.2", "4267", "donki"),
			want:      true,
		},
		{
			name:      "one class unknown",
			candidate: flareAt(base.Add(time.Minute), "", "4267", "lmsal"),
			stored:    flareAt(base, "C8.2", "4267", "donki"),
			want:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.Matches(tt.candidate, tt.stored); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchFlareAgainstStoredPeak(t *testing.T) {
	d := New(config.DefaultConfig())

	// A text mention reports the peak instant. The stored flare started
	// earlier but peaked within the peak tolerance of the mention.
	start := time.Date(2025, 11, 2, 12, 20, 0, 0, time.UTC)
	peak := time.Date(2025, 11, 2, 12, 39, 0, 0, time.UTC)
	stored := flareAt(start, "C8.2", "4267", "donki")
	stored.PeakTime = &peak

	mention := flareAt(peak.Add(time.Minute), "C8.2", "", "noaa")
	if !d.Matches(mention, stored) {
		t.Error("expected peak-based match")
	}

	farMention := flareAt(peak.Add(4*time.Minute), "C8.2", "", "noaa")
	if d.Matches(farMention, stored) {
		t.Error("mention outside peak tolerance should not match")
	}
}

func TestMatchFlareCandidatePeakAgainstStoredStart(t *testing.T) {
	d := New(config.DefaultConfig())

	// The candidate reports an early onset and a peak; the stored record
	// started near that peak.
	onset := time.Date(2025, 11, 2, 12, 20, 0, 0, time.UTC)
	peak := time.Date(2025, 11, 2, 12, 39, 0, 0, time.UTC)
	candidate := flareAt(onset, "C8.2", "4267", "lmsal")
	candidate.PeakTime = &peak

	stored := flareAt(peak.Add(-time.Minute), "C8.2", "4267", "donki")
	if !d.Matches(candidate, stored) {
		t.Error("expected candidate-peak match against stored start")
	}

	// The candidate's query window must reach that stored start, which
	// sits well after the candidate's own onset.
	w := d.Window(candidate.StartTime)
	if w.End.Before(stored.StartTime) {
		t.Errorf("window end %v does not cover stored start %v", w.End, stored.StartTime)
	}
}

func TestMatchCME(t *testing.T) {
	d := New(config.DefaultConfig())
	base := time.Date(2025, 11, 5, 10, 53, 0, 0, time.UTC)

	a := cmeAt(base, "2025-11-05T10:53:00-CME-001")
	b := cmeAt(base.Add(2*time.Minute), "2025-11-05T10:53:00-CME-002")
	if !d.Matches(a, b) {
		t.Error("revisions of the same activity root should match")
	}

	other := cmeAt(base.Add(2*time.Minute), "2025-11-05T10:55:00-CME-001")
	if d.Matches(a, other) {
		t.Error("different activity roots should not match")
	}

	// Type mismatch never matches, regardless of timing.
	flare := flareAt(base, "C8.2", "4267", "donki")
	if d.Matches(a, flare) {
		t.Error("cme should not match flare")
	}
}

func TestMatchCMEByFeatureOverlap(t *testing.T) {
	d := New(config.DefaultConfig())
	base := time.Date(2025, 11, 5, 10, 53, 0, 0, time.UTC)

	// No catalog IDs on either side: overlapping feature codes decide.
	le := cmeAt(base, "")
	le.Analyses = []types.Analysis{{FeatureCode: "LE"}}
	both := cmeAt(base.Add(2*time.Minute), "")
	both.Analyses = []types.Analysis{{FeatureCode: "LE"}, {FeatureCode: "SH"}}
	if !d.Matches(le, both) {
		t.Error("shared feature code should match")
	}

	sh := cmeAt(base.Add(2*time.Minute), "")
	sh.Analyses = []types.Analysis{{FeatureCode: "SH"}}
	if d.Matches(le, sh) {
		t.Error("disjoint feature codes should not match")
	}

	// A side without analyses matches on time alone.
	bare := cmeAt(base.Add(2*time.Minute), "")
	if !d.Matches(le, bare) {
		t.Error("analyses-free side should match on time")
	}
}

func TestDecide(t *testing.T) {
	d := New(config.DefaultConfig())
	base := time.Date(2025, 11, 2, 12, 33, 0, 0, time.UTC)
	candidate := flareAt(base.Add(90*time.Second), "C8.2", "4267", "lmsal")

	// No stored events: insert.
	if got := d.Decide(candidate, nil); got.Action != ActionInsert {
		t.Errorf("action = %v, want insert", got.Action)
	}

	// One match: merge into it.
	one := []types.CanonicalEvent{*flareAt(base, "C8.2", "4267", "donki")}
	one[0].CanonicalID = "flr-a"
	decision := d.Decide(candidate, one)
	if decision.Action != ActionMerge {
		t.Fatalf("action = %v, want merge", decision.Action)
	}
	if decision.Target.CanonicalID != "flr-a" {
		t.Errorf("target = %q", decision.Target.CanonicalID)
	}

	// Two matches: ambiguous, kept separate.
	two := append(one, *flareAt(base.Add(time.Minute), "C8.2", "4267", "donki"))
	two[1].CanonicalID = "flr-b"
	if got := d.Decide(candidate, two); got.Action != ActionAmbiguous {
		t.Errorf("action = %v, want ambiguous", got.Action)
	}

	// Events already flagged ambiguous never participate in matching.
	two[0].Ambiguous = true
	decision = d.Decide(candidate, two)
	if decision.Action != ActionMerge || decision.Target.CanonicalID != "flr-b" {
		t.Errorf("decision = %+v, want merge into flr-b", decision)
	}
}

func TestWindowCoversPeakMentions(t *testing.T) {
	d := New(config.DefaultConfig())
	at := time.Date(2025, 11, 2, 12, 39, 0, 0, time.UTC)

	w := d.Window(at)
	if !w.Start.Before(at.Add(-time.Hour)) {
		t.Errorf("window start %v too late for long flares", w.Start)
	}
	if w.End.Before(at.Add(5 * time.Minute)) {
		t.Errorf("window end %v does not cover tolerance", w.End)
	}
}
