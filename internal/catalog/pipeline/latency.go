package pipeline

import (
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// FetchLatency tracks per-source fetch durations with DDSketch, giving
// percentile estimates at 1% relative accuracy without storing samples.
type FetchLatency struct {
	mu       sync.Mutex
	sketches map[string]*ddsketch.DDSketch
	counts   map[string]int64
}

// NewFetchLatency creates an empty latency tracker.
func NewFetchLatency() *FetchLatency {
	return &FetchLatency{
		sketches: make(map[string]*ddsketch.DDSketch),
		counts:   make(map[string]int64),
	}
}

// Observe records one fetch duration for a source.
func (f *FetchLatency) Observe(source string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sketch := f.sketches[source]
	if sketch == nil {
		s, err := ddsketch.NewDefaultDDSketch(0.01)
		if err != nil {
			return
		}
		sketch = s
		f.sketches[source] = sketch
	}
	if err := sketch.Add(d.Seconds()); err == nil {
		f.counts[source]++
	}
}

// Quantile returns the latency estimate for a source at q in [0, 1].
// Returns false when the source has no observations.
func (f *FetchLatency) Quantile(source string, q float64) (time.Duration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sketch := f.sketches[source]
	if sketch == nil || f.counts[source] == 0 {
		return 0, false
	}
	seconds, err := sketch.GetValueAtQuantile(q)
	if err != nil {
		return 0, false
	}
	return time.Duration(seconds * float64(time.Second)), true
}

// Count returns the number of observations for a source.
func (f *FetchLatency) Count(source string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[source]
}
