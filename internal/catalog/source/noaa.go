package source

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/catalog/types"
	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/logging"
)

// NoaaName is the text source's provenance name.
const NoaaName = "noaa"

// Noaa extracts flare mentions from the SWPC forecast discussion text.
// The discussion is free prose; only mentions carrying a parseable UTC
// time are kept. Mentions of a class with no time are discarded.
type Noaa struct {
	url    string
	client *http.Client
	now    func() time.Time
	log    interface {
		Warn(msg string, args ...any)
		Debug(msg string, args ...any)
	}
}

// NewNoaa creates the text-source adapter.
func NewNoaa(url string) *Noaa {
	return &Noaa{
		url:    url,
		client: newHTTPClient(),
		now:    time.Now,
		log:    logging.Component("source.noaa"),
	}
}

// Name returns the source name.
func (n *Noaa) Name() string { return NoaaName }

var (
	// "M1.0 flare at 0026 UTC on 02 Nov"
	mentionFull = regexp.MustCompile(`(?i)([A-Z]\d+\.?\d*)[/-]?\d?[A-Z]?\s+(?:flare|event).*?(?:at\s+)?(\d{4})\s*UTC.*?(?:on\s+)?(\d{1,2})\s+(Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)`)

	// "M7.4 flare occurred at 05/1119 UTC"
	mentionCompact = regexp.MustCompile(`(?i)([A-Z]\d+\.?\d*)[/-]?\d?[A-Z]?\s+(?:flare|event).*?(?:at\s+)?(\d{2})/(\d{4})\s*UTC`)

	mentionRegion = regexp.MustCompile(`(?i)[Rr]egion\s+(\d{4})`)
)

var monthsByName = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// Fetch retrieves the discussion and extracts flare mentions.
func (n *Noaa) Fetch(ctx context.Context, window types.TimeRange) ([]types.RawRecord, error) {
	body, err := httpGet(ctx, n.client, n.url)
	if err != nil {
		return nil, err
	}
	return n.parse(string(body)), nil
}

// parse applies the mention patterns in priority order. The compact
// pattern only adds mentions the full pattern missed.
func (n *Noaa) parse(text string) []types.RawRecord {
	now := n.now().UTC()
	var records []types.RawRecord

	seen := map[string]bool{}
	add := func(class string, at time.Time, region, matched string) {
		key := class + "@" + at.Format(time.RFC3339)
		if seen[key] {
			return
		}
		seen[key] = true

		fields := map[string]string{
			"class":      class,
			"start_time": at.Format("2006-01-02 15:04:05"),
			"mention":    strings.Join(strings.Fields(matched), " "),
		}
		if region != "" {
			fields["region"] = region
		}
		records = append(records, types.RawRecord{
			Source: NoaaName,
			Kind:   types.KindFlare,
			Fields: fields,
		})
	}

	for _, idx := range mentionFull.FindAllStringSubmatchIndex(text, -1) {
		m := submatches(text, idx)
		class := strings.ToUpper(m[1])
		hour, minute, ok := splitClock(m[2])
		if !ok {
			continue
		}
		var day int
		fmt.Sscanf(m[3], "%d", &day)
		month, ok := monthsByName[strings.ToLower(m[4])]
		if !ok {
			continue
		}
		at := time.Date(now.Year(), month, day, hour, minute, 0, 0, time.UTC)
		add(class, at, n.regionNear(text, idx), m[0])
	}

	for _, idx := range mentionCompact.FindAllStringSubmatchIndex(text, -1) {
		m := submatches(text, idx)
		class := strings.ToUpper(m[1])
		var day int
		fmt.Sscanf(m[2], "%d", &day)
		hour, minute, ok := splitClock(m[3])
		if !ok {
			continue
		}

		// The compact form carries no month; infer it from the clock,
		// rolling back one month when the day is in the future.
		year, month := now.Year(), now.Month()
		if day > now.Day() {
			month--
			if month < time.January {
				month = time.December
				year--
			}
		}
		at := time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
		add(class, at, n.regionNear(text, idx), m[0])
	}

	n.log.Debug("parsed discussion", "mentions", len(records))
	return records
}

// regionNear finds a "Region NNNN" token within a hundred characters of
// the mention. The region usually precedes it ("Region 4274 produced an
// M7.4 flare...") but trailing attribution occurs too.
func (n *Noaa) regionNear(text string, matchIdx []int) string {
	start := matchIdx[0] - 100
	if start < 0 {
		start = 0
	}
	end := matchIdx[1] + 100
	if end > len(text) {
		end = len(text)
	}
	if m := mentionRegion.FindStringSubmatch(text[start:end]); m != nil {
		return m[1]
	}
	return ""
}

func splitClock(hhmm string) (hour, minute int, ok bool) {
	if len(hhmm) != 4 {
		return 0, 0, false
	}
	if _, err := fmt.Sscanf(hhmm, "%02d%02d", &hour, &minute); err != nil {
		return 0, 0, false
	}
	if hour > 23 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}

// submatches materializes submatch strings from a match index slice.
func submatches(text string, idx []int) []string {
	out := make([]string, len(idx)/2)
	for i := range out {
		if idx[2*i] >= 0 {
			out[i] = text[idx[2*i]:idx[2*i+1]]
		}
	}
	return out
}
