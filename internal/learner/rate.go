package learner

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/HendryAvila/wayfinder/internal/graph"
)

// Rate is the adaptive learning rate 1 - exp(-Δt/τ̂) clipped to
// [minRate, maxRate]. A non-positive τ̂ is treated as an instant update.
func Rate(dt, tau time.Duration, minRate, maxRate float64) float64 {
	if dt < 0 {
		dt = 0
	}
	eta := maxRate
	if tau > 0 {
		eta = 1 - math.Exp(-dt.Seconds()/tau.Seconds())
	}
	return math.Min(maxRate, math.Max(minRate, eta))
}

type cohortID struct {
	kind   graph.Kind
	cohort graph.CohortKey
}

// tauEstimator tracks per-cohort inter-update intervals and reports their
// rolling median once enough samples exist.
type tauEstimator struct {
	mu         sync.Mutex
	window     int
	minSamples int
	fallback   time.Duration
	samples    map[cohortID][]time.Duration
}

func newTauEstimator(window, minSamples int, fallback time.Duration) *tauEstimator {
	return &tauEstimator{
		window:     window,
		minSamples: minSamples,
		fallback:   fallback,
		samples:    make(map[cohortID][]time.Duration),
	}
}

func (t *tauEstimator) observe(id cohortID, dt time.Duration) {
	if dt <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s := append(t.samples[id], dt)
	if len(s) > t.window {
		s = s[len(s)-t.window:]
	}
	t.samples[id] = s
}

func (t *tauEstimator) estimate(id cohortID) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.samples[id]
	if len(s) < t.minSamples || len(s) == 0 {
		return t.fallback
	}
	sorted := append([]time.Duration(nil), s...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
