package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/catalog/types"
	caterr "github.com/calexyoung/space-weather-reports-CLI-sub001/internal/errors"
	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/logging"
)

// DonkiName is the structured source's provenance name.
const DonkiName = "donki"

// Donki fetches CMEs and flares from the DONKI M2M catalog web service.
// One request per window and endpoint; query parameters are ISO dates.
type Donki struct {
	baseURL string
	client  *http.Client
	log     interface {
		Warn(msg string, args ...any)
		Debug(msg string, args ...any)
	}
}

// NewDonki creates the structured-source adapter. baseURL is the service
// root, e.g. "https://kauai.ccmc.gsfc.nasa.gov/DONKI".
func NewDonki(baseURL string) *Donki {
	return &Donki{
		baseURL: baseURL,
		client:  newHTTPClient(),
		log:     logging.Component("source.donki"),
	}
}

// Name returns the source name.
func (d *Donki) Name() string { return DonkiName }

// donkiCME mirrors the CME endpoint's response objects.
type donkiCME struct {
	ActivityID      string `json:"activityID"`
	Catalog         string `json:"catalog"`
	StartTime       string `json:"startTime"`
	SourceLocation  string `json:"sourceLocation"`
	ActiveRegionNum *int   `json:"activeRegionNum"`
	Note            string `json:"note"`
	CMEAnalyses     []struct {
		FeatureCode string   `json:"featureCode"`
		Speed       *float64 `json:"speed"`
		Longitude   *float64 `json:"longitude"`
		Latitude    *float64 `json:"latitude"`
		HalfAngle   *float64 `json:"halfAngle"`
		Time215     string   `json:"time21_5"`
		EnlilList   []struct {
			ModelCompletionTime       string   `json:"modelCompletionTime"`
			EstimatedShockArrivalTime string   `json:"estimatedShockArrivalTime"`
			EstimatedDuration         *float64 `json:"estimatedDuration"`
			RminRe                    *float64 `json:"rmin_re"`
			Kp90                      *int     `json:"kp_90"`
			Kp135                     *int     `json:"kp_135"`
			Kp180                     *int     `json:"kp_180"`
			ImpactList                []struct {
				Location    string `json:"location"`
				ArrivalTime string `json:"arrivalTime"`
			} `json:"impactList"`
		} `json:"enlilList"`
	} `json:"cmeAnalyses"`
}

// donkiFlare mirrors the FLR endpoint's response objects.
type donkiFlare struct {
	FlrID           string `json:"flrID"`
	ClassType       string `json:"classType"`
	SourceLocation  string `json:"sourceLocation"`
	ActiveRegionNum *int   `json:"activeRegionNum"`
	BeginTime       string `json:"beginTime"`
	PeakTime        string `json:"peakTime"`
	EndTime         string `json:"endTime"`
}

// Fetch retrieves CMEs and flares for the window.
func (d *Donki) Fetch(ctx context.Context, window types.TimeRange) ([]types.RawRecord, error) {
	var records []types.RawRecord

	cmes, err := d.fetchCMEs(ctx, window)
	if err != nil {
		return nil, err
	}
	records = append(records, cmes...)

	flares, err := d.fetchFlares(ctx, window)
	if err != nil {
		return nil, err
	}
	records = append(records, flares...)

	d.log.Debug("fetched records", "cmes", len(cmes), "flares", len(flares))
	return records, nil
}

func (d *Donki) endpoint(name string, window types.TimeRange) string {
	q := url.Values{}
	q.Set("startDate", window.Start.UTC().Format("2006-01-02"))
	q.Set("endDate", window.End.UTC().Format("2006-01-02"))
	return fmt.Sprintf("%s/WS/get/%s?%s", d.baseURL, name, q.Encode())
}

func (d *Donki) fetchCMEs(ctx context.Context, window types.TimeRange) ([]types.RawRecord, error) {
	body, err := httpGet(ctx, d.client, d.endpoint("CME", window))
	if err != nil {
		return nil, err
	}

	var payload []donkiCME
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode CME response: %v: %w", err, caterr.ErrParse)
	}

	records := make([]types.RawRecord, 0, len(payload))
	for _, c := range payload {
		if c.ActivityID == "" || c.StartTime == "" {
			d.log.Warn("discarding CME without identity", "activity_id", c.ActivityID)
			continue
		}
		records = append(records, d.cmeRecord(c))
	}
	return records, nil
}

func (d *Donki) cmeRecord(c donkiCME) types.RawRecord {
	raw := &types.RawCME{
		ActivityID: c.ActivityID,
		Catalog:    c.Catalog,
		StartTime:  c.StartTime,
		Location:   c.SourceLocation,
	}
	if c.ActiveRegionNum != nil {
		raw.RegionNum = strconv.Itoa(*c.ActiveRegionNum)
	}

	for _, a := range c.CMEAnalyses {
		analysis := types.RawAnalysis{
			FeatureCode: a.FeatureCode,
			Speed:       a.Speed,
			Longitude:   a.Longitude,
			Latitude:    a.Latitude,
			HalfAngle:   a.HalfAngle,
			Time215:     a.Time215,
		}
		for _, e := range a.EnlilList {
			run := types.RawModelRun{
				CompletionTime:   e.ModelCompletionTime,
				ShockArrivalTime: e.EstimatedShockArrivalTime,
				Kp90:             e.Kp90,
				Kp135:            e.Kp135,
				Kp180:            e.Kp180,
				RminRe:           e.RminRe,
				Duration:         e.EstimatedDuration,
			}
			for _, imp := range e.ImpactList {
				run.Impacts = append(run.Impacts, types.RawImpact{
					Location:    imp.Location,
					ArrivalTime: imp.ArrivalTime,
				})
			}
			analysis.ModelRuns = append(analysis.ModelRuns, run)
		}
		raw.Analyses = append(raw.Analyses, analysis)
	}

	// The digest covers the analysis payload so an updated analysis set
	// produces a new provenance entry while an identical re-fetch is a no-op.
	analysesJSON, _ := json.Marshal(raw.Analyses)
	fields := map[string]string{
		"activity_id": c.ActivityID,
		"start_time":  c.StartTime,
		"location":    c.SourceLocation,
		"region":      raw.RegionNum,
		"analyses":    string(analysesJSON),
	}

	return types.RawRecord{
		Source:     DonkiName,
		Kind:       types.KindCME,
		ExternalID: c.ActivityID,
		Fields:     fields,
		CME:        raw,
	}
}

func (d *Donki) fetchFlares(ctx context.Context, window types.TimeRange) ([]types.RawRecord, error) {
	body, err := httpGet(ctx, d.client, d.endpoint("FLR", window))
	if err != nil {
		return nil, err
	}

	var payload []donkiFlare
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode FLR response: %v: %w", err, caterr.ErrParse)
	}

	records := make([]types.RawRecord, 0, len(payload))
	for _, f := range payload {
		if f.BeginTime == "" || f.ClassType == "" {
			d.log.Warn("discarding flare without time or class", "flr_id", f.FlrID)
			continue
		}

		fields := map[string]string{
			"class":      f.ClassType,
			"start_time": f.BeginTime,
			"peak_time":  f.PeakTime,
			"end_time":   f.EndTime,
			"location":   f.SourceLocation,
		}
		if f.ActiveRegionNum != nil {
			fields["region"] = strconv.Itoa(*f.ActiveRegionNum)
		}

		records = append(records, types.RawRecord{
			Source:     DonkiName,
			Kind:       types.KindFlare,
			ExternalID: f.FlrID,
			Fields:     fields,
		})
	}
	return records, nil
}
