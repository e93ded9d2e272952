package learner

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/wayfinder/internal/graph"
)

var (
	t0      = time.Date(2025, 10, 21, 9, 0, 0, 0, time.UTC)
	concept = graph.CohortKey{Type: "Concept", Scope: graph.DefaultScope}
)

func rec(id string, st graph.LearningState) graph.LearningRecord {
	return graph.LearningRecord{ID: id, Kind: graph.KindNode, Cohort: concept, State: st}
}

func apply(pop []graph.LearningRecord, updates []Update) {
	for _, u := range updates {
		for i := range pop {
			if pop[i].ID == u.ID {
				pop[i].State = u.State
			}
		}
	}
}

func qual(v float64) *float64 { return &v }

// ─── Ranks & z-scores ────────────────────────────────────────────────────────

func TestAverageRanks_Ties(t *testing.T) {
	assert.Equal(t, []float64{1, 2.5, 2.5, 4}, AverageRanks([]float64{0, 3, 3, 9}))
	assert.Equal(t, []float64{2, 2, 2}, AverageRanks([]float64{1, 1, 1}))
	assert.Equal(t, []float64{3, 1, 2}, AverageRanks([]float64{5, -1, 0}))
}

func TestProbit(t *testing.T) {
	assert.InDelta(t, 0, Probit(0.5), 1e-12)
	assert.InDelta(t, 1.959964, Probit(0.975), 1e-5)
	assert.InDelta(t, -1.959964, Probit(0.025), 1e-5)
}

func TestVanDerWaerden_SymmetricForPerfectOrder(t *testing.T) {
	for _, n := range []int{5, 6, 11, 40} {
		vals := make([]float64, n)
		for i := range vals {
			vals[i] = float64(i) * 1.5
		}
		z := VanDerWaerden(vals)
		var mean float64
		for i := range z {
			if i > 0 {
				assert.Greater(t, z[i], z[i-1], "n=%d i=%d", n, i)
			}
			mean += z[i]
		}
		assert.InDelta(t, 0, mean/float64(n), 1e-9, "n=%d", n)
	}
}

func TestVanDerWaerden_SingleValueIsZero(t *testing.T) {
	assert.InDelta(t, 0, VanDerWaerden([]float64{42})[0], 1e-12)
}

// ─── EMA & learning rate ─────────────────────────────────────────────────────

func TestEMA_Converges(t *testing.T) {
	const v = 1.0
	ema := 0.0
	for i := 0; i < 50; i++ {
		ema = EMA(0.1, v, ema)
	}
	assert.Less(t, math.Abs(ema-v), 0.01)
}

func TestRate_MonotonicAndBounded(t *testing.T) {
	prev := -1.0
	for s := 0; s <= 10*3600; s += 60 {
		eta := Rate(time.Duration(s)*time.Second, time.Hour, 0.01, 0.95)
		assert.GreaterOrEqual(t, eta, 0.01)
		assert.LessOrEqual(t, eta, 0.95)
		assert.GreaterOrEqual(t, eta, prev)
		prev = eta
	}
	assert.Equal(t, 0.01, Rate(0, time.Hour, 0.01, 0.95))
	assert.Equal(t, 0.95, Rate(100*time.Hour, time.Hour, 0.01, 0.95))
	assert.InDelta(t, 1-math.Exp(-1), Rate(time.Hour, time.Hour, 0.01, 0.95), 1e-12)
}

func TestTauEstimator_RollingMedian(t *testing.T) {
	est := newTauEstimator(4, 3, time.Hour)
	id := cohortID{graph.KindNode, concept}

	est.observe(id, time.Minute)
	est.observe(id, 3*time.Minute)
	assert.Equal(t, time.Hour, est.estimate(id), "too few samples")

	est.observe(id, 2*time.Minute)
	assert.Equal(t, 2*time.Minute, est.estimate(id))

	// Window of 4 drops the oldest sample.
	est.observe(id, 10*time.Minute)
	est.observe(id, 20*time.Minute)
	assert.Equal(t, (3*time.Minute+10*time.Minute)/2, est.estimate(id))
}

// ─── Compute ─────────────────────────────────────────────────────────────────

// Five rounds of three seats on a node already seen at zero signal, ranked
// fourth of five in its cohort: the EMA climbs to ~1.23 and log_weight to ~0.08.
func TestCompute_ConsistentReinforcementOnSeenNode(t *testing.T) {
	l := New(DefaultConfig(), nil)
	pop := []graph.LearningRecord{
		rec("node_hot", graph.LearningState{EMASignal: 10, SignalSeen: true}),
		rec("node_a", graph.LearningState{SignalSeen: true}),
		rec("node_b", graph.LearningState{SignalSeen: true}),
		rec("node_c", graph.LearningState{SignalSeen: true}),
		rec("node_new", graph.LearningState{SignalSeen: true}),
	}

	var deltas, rates []float64
	var last Update
	for cycle := 0; cycle < 5; cycle++ {
		now := t0.Add(time.Duration(cycle) * time.Second)
		ups, err := l.Compute(graph.KindNode, pop, []Target{{ID: "node_new", Seats: 3}}, now)
		require.NoError(t, err)
		require.Len(t, ups, 1)
		last = ups[0]
		deltas = append(deltas, last.DeltaLogWeight)
		rates = append(rates, last.LearningRate)
		apply(pop, ups)
	}

	assert.InDelta(t, 1.2285, last.EMASignal, 1e-4)
	assert.Equal(t, 1.23, math.Round(last.EMASignal*100)/100)
	assert.Greater(t, last.LogWeight, 0.0)
	assert.InDelta(t, 0.0818, last.LogWeight, 5e-4)
	assert.Equal(t, 0.08, math.Round(last.LogWeight*100)/100)
	assert.InDelta(t, Probit(4.0/6.0), last.ZSignal, 1e-12)

	assert.Equal(t, 0.15, rates[0], "first update uses the fixed rate")
	for i := 1; i < len(deltas); i++ {
		assert.Equal(t, 0.01, rates[i], "rapid updates clip to the minimum rate")
		assert.LessOrEqual(t, deltas[i], deltas[i-1])
		assert.Greater(t, deltas[i], 0.0)
	}
}

// The same five rounds on a never-seen node: the first value seeds the EMA,
// so constant input holds it there.
func TestCompute_ConsistentReinforcementOnFreshNode(t *testing.T) {
	l := New(DefaultConfig(), nil)
	pop := []graph.LearningRecord{
		rec("node_hot", graph.LearningState{EMASignal: 10, SignalSeen: true}),
		rec("node_a", graph.LearningState{SignalSeen: true}),
		rec("node_b", graph.LearningState{SignalSeen: true}),
		rec("node_c", graph.LearningState{SignalSeen: true}),
		rec("node_new", graph.LearningState{}),
	}

	for cycle := 0; cycle < 5; cycle++ {
		now := t0.Add(time.Duration(cycle) * time.Second)
		ups, err := l.Compute(graph.KindNode, pop, []Target{{ID: "node_new", Seats: 3}}, now)
		require.NoError(t, err)
		require.Len(t, ups, 1)
		assert.Equal(t, 3.0, ups[0].EMASignal, "cycle %d", cycle)
		apply(pop, ups)
	}
}

func TestCompute_BootstrapsUnseenEMA(t *testing.T) {
	l := New(DefaultConfig(), nil)
	pop := []graph.LearningRecord{rec("n", graph.LearningState{})}

	ups, err := l.Compute(graph.KindNode, pop, []Target{{ID: "n", Seats: 40}}, t0)
	require.NoError(t, err)
	assert.Equal(t, 40.0, ups[0].EMASignal)
	assert.True(t, ups[0].State.SignalSeen)
}

func TestCompute_SmallCohortUsesRawEMA(t *testing.T) {
	l := New(DefaultConfig(), nil)
	pop := []graph.LearningRecord{
		rec("a", graph.LearningState{SignalSeen: true}),
		rec("b", graph.LearningState{SignalSeen: true}),
	}
	ups, err := l.Compute(graph.KindNode, pop, []Target{{ID: "a", Seats: 2}}, t0)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, ups[0].ZSignal, 1e-12)
	assert.InDelta(t, 0.15*0.2, ups[0].DeltaLogWeight, 1e-12)
	assert.Equal(t, 2, ups[0].CohortSize)
}

func TestCompute_QualityOnlyOnFormation(t *testing.T) {
	l := New(DefaultConfig(), nil)
	pop := []graph.LearningRecord{
		rec("a", graph.LearningState{EMAQuality: 0.6, QualitySeen: true, SignalSeen: true}),
		rec("b", graph.LearningState{SignalSeen: true}),
		rec("c", graph.LearningState{SignalSeen: true}),
	}

	ups, err := l.Compute(graph.KindNode, pop, []Target{{ID: "a", Seats: 5}}, t0)
	require.NoError(t, err)
	assert.Equal(t, 0.6, ups[0].EMAQuality, "not re-formed, quality EMA untouched")
	assert.Zero(t, ups[0].ZQuality)
	assert.False(t, ups[0].Formed)

	ups, err = l.Compute(graph.KindNode, pop, []Target{{ID: "a", Seats: 5, Quality: qual(0.9)}}, t0)
	require.NoError(t, err)
	assert.InDelta(t, 0.63, ups[0].EMAQuality, 1e-12)
	assert.True(t, ups[0].Formed)
	// Only one member has quality, below the minimum: raw EMA stands in.
	assert.InDelta(t, 0.63, ups[0].ZQuality, 1e-12)
}

func TestCompute_SeparatesCohorts(t *testing.T) {
	l := New(DefaultConfig(), nil)
	other := graph.CohortKey{Type: "Principle", Scope: graph.DefaultScope}
	pop := []graph.LearningRecord{
		rec("a", graph.LearningState{SignalSeen: true}),
		rec("b", graph.LearningState{SignalSeen: true}),
		rec("c", graph.LearningState{SignalSeen: true}),
		{ID: "p", Kind: graph.KindNode, Cohort: other, State: graph.LearningState{SignalSeen: true}},
	}
	ups, err := l.Compute(graph.KindNode, pop, []Target{{ID: "a", Seats: 10}, {ID: "p", Seats: 10}}, t0)
	require.NoError(t, err)
	require.Len(t, ups, 2)
	assert.InDelta(t, Probit(3.0/4.0), ups[0].ZSignal, 1e-12, "top of a three-member cohort")
	assert.InDelta(t, 1.0, ups[1].ZSignal, 1e-12, "singleton cohort keeps raw EMA")
}

func TestCompute_NegativeSeatsPullWeightDown(t *testing.T) {
	l := New(DefaultConfig(), nil)
	pop := []graph.LearningRecord{
		rec("a", graph.LearningState{SignalSeen: true, EMASignal: 1}),
		rec("b", graph.LearningState{SignalSeen: true, EMASignal: 1}),
		rec("c", graph.LearningState{SignalSeen: true, EMASignal: 1}),
	}
	ups, err := l.Compute(graph.KindNode, pop, []Target{{ID: "a", Seats: -100}}, t0)
	require.NoError(t, err)
	assert.Less(t, ups[0].DeltaLogWeight, 0.0)
}

func TestCompute_MergesDuplicateTargets(t *testing.T) {
	l := New(DefaultConfig(), nil)
	pop := []graph.LearningRecord{rec("a", graph.LearningState{SignalSeen: true})}
	ups, err := l.Compute(graph.KindNode, pop, []Target{{ID: "a", Seats: 3}, {ID: "a", Seats: 7}}, t0)
	require.NoError(t, err)
	require.Len(t, ups, 1)
	assert.InDelta(t, 1.0, ups[0].EMASignal, 1e-12)
}

func TestCompute_UnknownTarget(t *testing.T) {
	l := New(DefaultConfig(), nil)
	_, err := l.Compute(graph.KindNode, nil, []Target{{ID: "ghost", Seats: 1}}, t0)
	assert.ErrorIs(t, err, ErrUnknownTarget)
}

func TestCompute_LateBatchKeepsLastUpdate(t *testing.T) {
	l := New(DefaultConfig(), nil)
	pop := []graph.LearningRecord{rec("a", graph.LearningState{SignalSeen: true, LastUpdate: t0})}

	ups, err := l.Compute(graph.KindNode, pop, []Target{{ID: "a", Seats: 5}}, t0.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, t0, ups[0].State.LastUpdate)
	assert.Equal(t, l.cfg.MinRate, ups[0].LearningRate)
	assert.InDelta(t, 0.5, ups[0].EMASignal, 1e-12)
}

func TestCompute_ZeroSeatsKeepLastUpdate(t *testing.T) {
	l := New(DefaultConfig(), nil)
	pop := []graph.LearningRecord{rec("a", graph.LearningState{SignalSeen: true, LastUpdate: t0})}
	ups, err := l.Compute(graph.KindNode, pop, []Target{{ID: "a"}}, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, t0, ups[0].State.LastUpdate)
}

func TestStats_Heartbeat(t *testing.T) {
	l := New(DefaultConfig(), nil)
	pop := []graph.LearningRecord{rec("a", graph.LearningState{SignalSeen: true})}
	_, err := l.Compute(graph.KindNode, pop, []Target{{ID: "a", Seats: 2}}, t0)
	require.NoError(t, err)

	st := l.Stats()
	assert.Equal(t, int64(1), st.Updates)
	assert.Equal(t, int64(1), st.Batches)
	assert.InDelta(t, 0.15*0.2, st.MeanAbsDelta, 1e-12)
}

// ─── Baselines ───────────────────────────────────────────────────────────────

func TestBaselines_Standardize(t *testing.T) {
	l := New(DefaultConfig(), nil)
	key := concept

	assert.Equal(t, 0.7, l.Standardize(graph.KindNode, key, 0.7), "no baseline yet")

	l.RefreshBaselines(graph.KindNode, []graph.LearningRecord{
		rec("a", graph.LearningState{LogWeight: -1}),
		rec("b", graph.LearningState{LogWeight: 0}),
		rec("c", graph.LearningState{LogWeight: 1}),
	})
	bl, ok := l.Baselines().Get(graph.KindNode, key)
	require.True(t, ok)
	assert.InDelta(t, 0, bl.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(2.0/3.0), bl.StdDev, 1e-12)

	assert.InDelta(t, 1/math.Sqrt(2.0/3.0), l.Standardize(graph.KindNode, key, 1), 1e-5)
	assert.Equal(t, 0.7, l.Standardize(graph.KindEdge, key, 0.7), "edges have their own baselines")
}

func TestBaselines_SmallCohortSkipped(t *testing.T) {
	b := NewBaselines(3)
	n := b.Refresh(graph.KindNode, []graph.LearningRecord{rec("a", graph.LearningState{LogWeight: 2})})
	assert.Zero(t, n)
	assert.Zero(t, b.Len())
}
