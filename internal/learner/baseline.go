package learner

import (
	"math"
	"sync"

	"github.com/HendryAvila/wayfinder/internal/graph"
)

const baselineEpsilon = 1e-6

// Baseline is a cohort's log-weight mean and population deviation.
type Baseline struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Size   int     `json:"size"`
}

// Baselines holds the rolling per-cohort statistics used for read-time
// standardization. They are refreshed on an interval rather than on every
// write so readers do not chase their own updates.
type Baselines struct {
	mu      sync.RWMutex
	minSize int
	byKey   map[cohortID]Baseline
}

// NewBaselines returns an empty set requiring minSize records per cohort.
func NewBaselines(minSize int) *Baselines {
	return &Baselines{minSize: minSize, byKey: make(map[cohortID]Baseline)}
}

// Refresh recomputes every cohort of the given kind from records. Cohorts
// below the minimum size keep whatever baseline they had.
func (b *Baselines) Refresh(kind graph.Kind, records []graph.LearningRecord) int {
	groups := make(map[graph.CohortKey][]float64)
	for _, r := range records {
		groups[r.Cohort] = append(groups[r.Cohort], r.State.LogWeight)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for key, lws := range groups {
		if len(lws) < b.minSize {
			continue
		}
		b.byKey[cohortID{kind, key}] = meanStd(lws)
		n++
	}
	return n
}

// Get returns the baseline of a cohort.
func (b *Baselines) Get(kind graph.Kind, cohort graph.CohortKey) (Baseline, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bl, ok := b.byKey[cohortID{kind, cohort}]
	return bl, ok
}

// Standardize returns z_W = (lw-μ)/(σ+ε), or lw unchanged when the cohort
// has no baseline yet.
func (b *Baselines) Standardize(kind graph.Kind, cohort graph.CohortKey, logWeight float64) float64 {
	bl, ok := b.Get(kind, cohort)
	if !ok {
		return logWeight
	}
	return (logWeight - bl.Mean) / (bl.StdDev + baselineEpsilon)
}

// Len returns the number of cohorts with a baseline.
func (b *Baselines) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byKey)
}

func meanStd(xs []float64) Baseline {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return Baseline{Mean: mean, StdDev: math.Sqrt(ss / float64(len(xs))), Size: len(xs)}
}
