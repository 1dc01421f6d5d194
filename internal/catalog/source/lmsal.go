package source

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/catalog/types"
	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/logging"
)

// LmsalName is the markup source's provenance name.
const LmsalName = "lmsal"

// Lmsal fetches the solarsoft latest-events page and extracts flare rows
// from its HTML table.
//
// The table varies its inline tagging row to row: the location cell may be
// plain text, wrapped in font tags, or wrapped in a link. Each field is
// therefore extracted with fallback rules applied to the stripped cell
// text rather than one rigid row pattern. A row missing its start time or
// class token is discarded and logged, never fatal to the page parse.
type Lmsal struct {
	url    string
	client *http.Client
	log    interface {
		Warn(msg string, args ...any)
		Debug(msg string, args ...any)
	}
}

// NewLmsal creates the markup-source adapter.
func NewLmsal(url string) *Lmsal {
	return &Lmsal{
		url:    url,
		client: newHTTPClient(),
		log:    logging.Component("source.lmsal"),
	}
}

// Name returns the source name.
func (l *Lmsal) Name() string { return LmsalName }

var (
	rowPattern  = regexp.MustCompile(`(?is)<tr[^>]*>(.*?)</tr>`)
	cellPattern = regexp.MustCompile(`(?is)<td[^>]*>(.*?)(?:</td>|$)`)
	tagPattern  = regexp.MustCompile(`<[^>]+>`)

	eventIDPattern   = regexp.MustCompile(`gev_(\d{8})_(\d{4})`)
	startPattern     = regexp.MustCompile(`(\d{4}/\d{2}/\d{2})\s+(\d{2}:\d{2}:\d{2})`)
	clockPattern     = regexp.MustCompile(`^\d{2}:\d{2}:\d{2}$`)
	classPattern     = regexp.MustCompile(`^([A-Z]\d+(?:\.\d+)?)$`)
	regionPattern    = regexp.MustCompile(`\(\s*(\d{4})\s*\)`)
	helioCoordinates = regexp.MustCompile(`([NS]\d{2}[EW]\d{2})`)
)

// Fetch retrieves the page and parses its table rows. The window is not
// passed upstream (the page always shows the latest events); records
// outside the window are filtered later by the normalizer's consumers.
func (l *Lmsal) Fetch(ctx context.Context, window types.TimeRange) ([]types.RawRecord, error) {
	body, err := httpGet(ctx, l.client, l.url)
	if err != nil {
		return nil, err
	}
	return l.parse(string(body)), nil
}

// parse extracts flare records from the page HTML.
func (l *Lmsal) parse(html string) []types.RawRecord {
	var records []types.RawRecord
	skipped := 0

	for _, row := range rowPattern.FindAllStringSubmatch(html, -1) {
		rec, ok := l.parseRow(row[1])
		if !ok {
			// Header and spacer rows fall out here too; only count rows
			// that looked like event rows.
			if eventIDPattern.MatchString(row[1]) {
				skipped++
				l.log.Warn("discarding malformed event row",
					"row", truncate(tagPattern.ReplaceAllString(row[1], " "), 80))
			}
			continue
		}
		records = append(records, rec)
	}

	l.log.Debug("parsed event table", "rows", len(records), "skipped", skipped)
	return records
}

// parseRow applies the per-field extraction rules to one table row.
func (l *Lmsal) parseRow(rowHTML string) (types.RawRecord, bool) {
	cells := cellPattern.FindAllStringSubmatch(rowHTML, -1)
	if len(cells) == 0 {
		return types.RawRecord{}, false
	}

	stripped := make([]string, len(cells))
	for i, c := range cells {
		stripped[i] = strings.TrimSpace(tagPattern.ReplaceAllString(c[1], ""))
	}

	fields := map[string]string{}

	// Event identifier: anchor text embeds gev_YYYYMMDD_HHMM. Searched in
	// the raw row HTML because it usually sits inside the link href too.
	if m := eventIDPattern.FindStringSubmatch(rowHTML); m != nil {
		fields["external_id"] = "gev_" + m[1] + "_" + m[2]
	}

	// Start timestamp: the only cell carrying a full date. Required.
	startIdx := -1
	for i, cell := range stripped {
		if m := startPattern.FindStringSubmatch(cell); m != nil {
			fields["start_time"] = m[1] + " " + m[2]
			startIdx = i
			break
		}
	}
	if fields["start_time"] == "" {
		return types.RawRecord{}, false
	}

	// Stop and peak occupy the two columns after the start, in that
	// order, each a bare HH:MM:SS clock. An empty cell leaves its field
	// unset; a filled peak never shifts into the stop slot.
	if i := startIdx + 1; i < len(stripped) && clockPattern.MatchString(stripped[i]) {
		fields["end_time"] = stripped[i]
	}
	if i := startIdx + 2; i < len(stripped) && clockPattern.MatchString(stripped[i]) {
		fields["peak_time"] = stripped[i]
	}

	// Class token. Required.
	for _, cell := range stripped {
		if m := classPattern.FindStringSubmatch(cell); m != nil {
			fields["class"] = m[1]
			break
		}
	}
	if fields["class"] == "" {
		return types.RawRecord{}, false
	}

	// Combined location/region cell: heliographic coordinate optionally
	// followed by a parenthesized region number, with varying inline tags.
	// Region digits survive tag stripping; the coordinate rule runs on
	// stripped text so link and font wrappers don't matter.
	for _, cell := range stripped {
		if m := regionPattern.FindStringSubmatch(cell); m != nil && fields["region"] == "" {
			fields["region"] = m[1]
		}
		if m := helioCoordinates.FindStringSubmatch(cell); m != nil && fields["location"] == "" {
			fields["location"] = m[1]
		}
	}

	return types.RawRecord{
		Source:     LmsalName,
		Kind:       types.KindFlare,
		ExternalID: fields["external_id"],
		Fields:     fields,
	}, true
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n]
}
