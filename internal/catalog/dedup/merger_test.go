package dedup

import (
	"testing"
	"time"

	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/catalog/types"
	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/config"
)

func TestMergeCrossSourceFlare(t *testing.T) {
	d := New(config.DefaultConfig())
	start := time.Date(2025, 11, 2, 12, 33, 0, 0, time.UTC)
	peak := time.Date(2025, 11, 2, 12, 39, 0, 0, time.UTC)

	existing := &types.CanonicalEvent{
		CanonicalID: "flr-20251102T1235-c4267",
		Type:        types.EventFlare,
		StartTime:   start,
		FlareClass:  "C8.3",
		Region:      "4267",
		SourceRecords: []types.SourceRecord{
			{Source: "donki", ExternalID: "2025-11-02T12:33:00-FLR-001", Digest: "d1"},
		},
	}

	incoming := &types.CanonicalEvent{
		CanonicalID: "flr-20251102T1235-c4267",
		Type:        types.EventFlare,
		StartTime:   start.Add(90 * time.Second),
		FlareClass:  "C8.2",
		Region:      "4267",
		Location:    "N00W60",
		PeakTime:    &peak,
		SourceRecords: []types.SourceRecord{
			{Source: "lmsal", ExternalID: "gev_20251102_1233", Digest: "d2"},
		},
	}

	merged := d.Merge(existing, incoming)

	// One canonical event with both provenance entries.
	if len(merged.SourceRecords) != 2 {
		t.Fatalf("source records = %d, want 2", len(merged.SourceRecords))
	}

	// The stored start and ID stay fixed; the disagreeing start is kept
	// as an alternate.
	if !merged.StartTime.Equal(start) {
		t.Errorf("start = %v, want %v", merged.StartTime, start)
	}
	if merged.CanonicalID != "flr-20251102T1235-c4267" {
		t.Errorf("id = %q", merged.CanonicalID)
	}
	foundStartAlt := false
	for _, a := range merged.Alternates {
		if a.Field == "start_time" && a.Source == "lmsal" {
			foundStartAlt = true
		}
	}
	if !foundStartAlt {
		t.Errorf("missing start_time alternate, got %+v", merged.Alternates)
	}

	// The higher-priority class wins; the 0.1 difference is within the
	// threshold so no class alternate is recorded.
	if merged.FlareClass != "C8.3" {
		t.Errorf("class = %q, want C8.3", merged.FlareClass)
	}
	for _, a := range merged.Alternates {
		if a.Field == "flare_class" {
			t.Errorf("unexpected class alternate %+v", a)
		}
	}

	// Fields only the lower-priority source had are filled in.
	if merged.Location != "N00W60" {
		t.Errorf("location = %q", merged.Location)
	}
	if merged.PeakTime == nil || !merged.PeakTime.Equal(peak) {
		t.Errorf("peak = %v", merged.PeakTime)
	}
}

func TestMergeIdempotentByDigest(t *testing.T) {
	d := New(config.DefaultConfig())
	start := time.Date(2025, 11, 2, 12, 33, 0, 0, time.UTC)

	existing := &types.CanonicalEvent{
		CanonicalID: "flr-x",
		Type:        types.EventFlare,
		StartTime:   start,
		FlareClass:  "C8.2",
		SourceRecords: []types.SourceRecord{
			{Source: "lmsal", Digest: "same"},
		},
	}
	incoming := &types.CanonicalEvent{
		Type:       types.EventFlare,
		StartTime:  start,
		FlareClass: "C8.2",
		SourceRecords: []types.SourceRecord{
			{Source: "lmsal", Digest: "same"},
		},
	}

	merged := d.Merge(existing, incoming)
	if merged != existing {
		t.Error("re-ingesting a known digest should be a no-op")
	}
	if len(merged.SourceRecords) != 1 {
		t.Errorf("source records = %d, want 1", len(merged.SourceRecords))
	}
}

func TestMergeHigherPriorityOverwrites(t *testing.T) {
	d := New(config.DefaultConfig())
	start := time.Date(2025, 11, 2, 12, 33, 0, 0, time.UTC)

	// Text mention arrived first; the structured record then outranks it.
	existing := &types.CanonicalEvent{
		CanonicalID: "flr-x",
		Type:        types.EventFlare,
		StartTime:   start,
		FlareClass:  "C9.0",
		SourceRecords: []types.SourceRecord{
			{Source: "noaa", Digest: "n1"},
		},
	}
	incoming := &types.CanonicalEvent{
		Type:       types.EventFlare,
		StartTime:  start,
		FlareClass: "C8.2",
		Region:     "4267",
		SourceRecords: []types.SourceRecord{
			{Source: "donki", Digest: "d1"},
		},
	}

	merged := d.Merge(existing, incoming)

	if merged.FlareClass != "C8.2" {
		t.Errorf("class = %q, want C8.2", merged.FlareClass)
	}
	// The displaced value differs materially (0.8) and is recorded.
	found := false
	for _, a := range merged.Alternates {
		if a.Field == "flare_class" && a.Value == "C9.0" && a.Source == "noaa" {
			found = true
		}
	}
	if !found {
		t.Errorf("missing displaced class alternate, got %+v", merged.Alternates)
	}
	if merged.Region != "4267" {
		t.Errorf("region = %q", merged.Region)
	}
}

func TestMergeLowerPriorityNeverOverwrites(t *testing.T) {
	d := New(config.DefaultConfig())
	start := time.Date(2025, 11, 2, 12, 33, 0, 0, time.UTC)

	existing := &types.CanonicalEvent{
		CanonicalID: "flr-x",
		Type:        types.EventFlare,
		StartTime:   start,
		FlareClass:  "C8.2",
		Region:      "4267",
		SourceRecords: []types.SourceRecord{
			{Source: "donki", Digest: "d1"},
		},
	}
	incoming := &types.CanonicalEvent{
		Type:       types.EventFlare,
		StartTime:  start,
		FlareClass: "C9.0",
		Region:     "4268",
		SourceRecords: []types.SourceRecord{
			{Source: "noaa", Digest: "n1"},
		},
	}

	merged := d.Merge(existing, incoming)

	if merged.FlareClass != "C8.2" || merged.Region != "4267" {
		t.Errorf("accepted values changed: %q/%q", merged.FlareClass, merged.Region)
	}
	byField := map[string]types.FieldAlternate{}
	for _, a := range merged.Alternates {
		byField[a.Field] = a
	}
	if byField["flare_class"].Value != "C9.0" || byField["flare_class"].Source != "noaa" {
		t.Errorf("class alternate = %+v", byField["flare_class"])
	}
	if byField["region"].Value != "4268" {
		t.Errorf("region alternate = %+v", byField["region"])
	}
}

func TestMergeAttributesDisplacedValueToItsSource(t *testing.T) {
	d := New(config.DefaultConfig())
	start := time.Date(2025, 11, 2, 12, 33, 0, 0, time.UTC)

	// The event originates from lmsal without a region.
	existing := &types.CanonicalEvent{
		CanonicalID: "flr-x",
		Type:        types.EventFlare,
		StartTime:   start,
		FlareClass:  "C8.2",
		SourceRecords: []types.SourceRecord{
			{Source: "lmsal", Digest: "l1"},
		},
	}

	// noaa fills in the region.
	noaa := &types.CanonicalEvent{
		Type:       types.EventFlare,
		StartTime:  start,
		FlareClass: "C8.2",
		Region:     "4268",
		SourceRecords: []types.SourceRecord{
			{Source: "noaa", Digest: "n1"},
		},
	}
	merged := d.Merge(existing, noaa)
	if merged.Region != "4268" {
		t.Fatalf("region = %q, want filled by noaa", merged.Region)
	}

	// donki displaces the region. The alternate must name noaa, the
	// source that supplied the displaced value, not the event's first
	// source.
	donki := &types.CanonicalEvent{
		Type:       types.EventFlare,
		StartTime:  start,
		FlareClass: "C8.2",
		Region:     "4267",
		SourceRecords: []types.SourceRecord{
			{Source: "donki", Digest: "d1"},
		},
	}
	final := d.Merge(merged, donki)

	if final.Region != "4267" {
		t.Errorf("region = %q, want donki value", final.Region)
	}
	found := false
	for _, a := range final.Alternates {
		if a.Field == "region" && a.Value == "4268" {
			found = true
			if a.Source != "noaa" {
				t.Errorf("alternate source = %q, want noaa", a.Source)
			}
		}
	}
	if !found {
		t.Errorf("missing displaced region alternate, got %+v", final.Alternates)
	}
	if final.FieldSources["region"] != "donki" {
		t.Errorf("accepted region source = %q, want donki", final.FieldSources["region"])
	}
}

func TestMergeAnalysesByFeatureAndTime(t *testing.T) {
	d := New(config.DefaultConfig())
	start := time.Date(2025, 11, 5, 10, 53, 0, 0, time.UTC)
	t215 := time.Date(2025, 11, 5, 14, 6, 0, 0, time.UTC)
	speedOld := 1123.0
	speedNew := 1529.0

	existing := &types.CanonicalEvent{
		CanonicalID: "cme-x",
		Type:        types.EventCME,
		StartTime:   start,
		Analyses: []types.Analysis{
			{FeatureCode: "LE", SpeedKmS: &speedOld, Time215: &t215},
		},
		SourceRecords: []types.SourceRecord{{Source: "donki", Digest: "d1"}},
	}
	incoming := &types.CanonicalEvent{
		Type:      types.EventCME,
		StartTime: start,
		Analyses: []types.Analysis{
			{FeatureCode: "LE", SpeedKmS: &speedOld, Time215: &t215},
			{FeatureCode: "SH", SpeedKmS: &speedNew},
		},
		SourceRecords: []types.SourceRecord{{Source: "donki", Digest: "d2"}},
	}

	merged := d.Merge(existing, incoming)

	if len(merged.Analyses) != 2 {
		t.Fatalf("analyses = %d, want 2", len(merged.Analyses))
	}
	codes := merged.FeatureCodes()
	if codes[0] != "LE" || codes[1] != "SH" {
		t.Errorf("codes = %v", codes)
	}
}
