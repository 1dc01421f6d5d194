package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/catalog/types"
)

const noaaDiscussion = `
:Product: Forecast Discussion
:Issued: 2025 Nov 10 0030 UTC

Solar activity reached moderate levels. Region 4274 (S08E34) produced
an M7.4 flare occurred at 05/1119 UTC, the largest event of the period.
Region 4267 (N00W60) produced a C8.2 flare at 1239 UTC on 02 Nov.

The rest of the solar disk remained quiet.
`

func fixedNoaa(url string) *Noaa {
	n := NewNoaa(url)
	n.now = func() time.Time {
		return time.Date(2025, 11, 10, 0, 30, 0, 0, time.UTC)
	}
	return n
}

func TestNoaaParse(t *testing.T) {
	n := fixedNoaa("http://unused")
	records := n.parse(noaaDiscussion)

	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}

	byClass := map[string]types.RawRecord{}
	for _, r := range records {
		byClass[r.Fields["class"]] = r
		if r.Source != NoaaName || r.Kind != types.KindFlare {
			t.Errorf("unexpected provenance %q/%v", r.Source, r.Kind)
		}
	}

	// "at 1239 UTC on 02 Nov" resolves against the issue year.
	c82, ok := byClass["C8.2"]
	if !ok {
		t.Fatal("missing C8.2 mention")
	}
	if c82.Fields["start_time"] != "2025-11-02 12:39:00" {
		t.Errorf("C8.2 start_time = %q", c82.Fields["start_time"])
	}
	if c82.Fields["region"] != "4267" {
		t.Errorf("C8.2 region = %q", c82.Fields["region"])
	}

	// "occurred at 05/1119 UTC" carries only a day; the month comes from
	// the issue date.
	m74, ok := byClass["M7.4"]
	if !ok {
		t.Fatal("missing M7.4 mention")
	}
	if m74.Fields["start_time"] != "2025-11-05 11:19:00" {
		t.Errorf("M7.4 start_time = %q", m74.Fields["start_time"])
	}
}

func TestNoaaParseMonthRollback(t *testing.T) {
	n := fixedNoaa("http://unused")
	// Day 28 is in the future relative to Nov 10, so the mention belongs
	// to the previous month.
	records := n.parse("Region 4255 produced an X1.0 flare occurred at 28/0455 UTC.")

	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	if got := records[0].Fields["start_time"]; got != "2025-10-28 04:55:00" {
		t.Errorf("start_time = %q, want 2025-10-28 04:55:00", got)
	}
}

func TestNoaaParseDeduplicates(t *testing.T) {
	n := fixedNoaa("http://unused")
	text := `An M1.0 flare at 0026 UTC on 02 Nov was observed.
Later in the summary, the M1.0 flare at 0026 UTC on 02 Nov was mentioned again.`

	records := n.parse(text)
	if len(records) != 1 {
		t.Errorf("records = %d, want 1", len(records))
	}
}

func TestNoaaParseIgnoresTimelessMentions(t *testing.T) {
	n := fixedNoaa("http://unused")
	records := n.parse("Further M-class flares are likely. C-class activity continues.")
	if len(records) != 0 {
		t.Errorf("records = %d, want 0", len(records))
	}
}

func TestNoaaFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(noaaDiscussion))
	}))
	defer srv.Close()

	n := fixedNoaa(srv.URL)
	records, err := n.Fetch(context.Background(), types.TimeRange{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("records = %d, want 2", len(records))
	}
}
