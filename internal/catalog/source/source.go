// Package source implements the per-source adapters that fetch raw
// payloads for a time window and parse them into intermediate records.
//
// Adapters are tolerant by contract: a malformed row is discarded and
// logged, never fatal to the batch. Only a failed or timed-out fetch
// surfaces as an error, and the pipeline treats that as a degraded
// source for the cycle.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/calexyoung/space-weather-reports-CLI-sub001/internal/catalog/types"
	caterr "github.com/calexyoung/space-weather-reports-CLI-sub001/internal/errors"
)

// Adapter fetches raw records for a time window.
type Adapter interface {
	// Name returns the source name used for provenance and merge priority.
	Name() string

	// Fetch retrieves and parses all records in the window. It has no
	// side effects beyond the return value.
	Fetch(ctx context.Context, window types.TimeRange) ([]types.RawRecord, error)
}

// httpGet issues one GET and returns the response body. Timeouts and
// cancellation map to the fetch error taxonomy.
func httpGet(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, caterr.Wrap(caterr.ErrFetch, err.Error())
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", url, caterr.ErrFetchTimeout)
		}
		return nil, fmt.Errorf("%s: %v: %w", url, err, caterr.ErrFetch)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d: %w", url, resp.StatusCode, caterr.ErrFetch)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", url, caterr.ErrFetchTimeout)
		}
		return nil, fmt.Errorf("%s: read body: %v: %w", url, err, caterr.ErrFetch)
	}
	return body, nil
}

// newHTTPClient returns the client shared by adapters. Per-fetch deadlines
// come from the caller's context; the transport timeout is a backstop.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 2 * time.Minute,
	}
}
