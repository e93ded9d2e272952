package traversal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/wayfinder/internal/graph"
	"github.com/HendryAvila/wayfinder/internal/linkstrength"
)

var t0 = time.Date(2025, 10, 21, 9, 0, 0, 0, time.UTC)

// fixture: start → t1 (on-goal), start → t2 (off-goal), start → t3 (diagonal).
func fixture(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New(graph.WithClock(func() time.Time { return t0 }))
	nodes := map[string][]float64{
		"start": {1, 0},
		"t1":    {1, 0},
		"t2":    {0, 1},
		"t3":    {0.7071, 0.7071},
	}
	for _, id := range []string{"start", "t1", "t2", "t3"} {
		_, err := g.AddNode(graph.NodeSpec{ID: id, Type: "Concept", Embedding: nodes[id]})
		require.NoError(t, err)
	}
	for _, to := range []string{"t1", "t2", "t3"} {
		_, err := g.AddEdge(graph.EdgeSpec{ID: "start-" + to, From: "start", To: to, Type: "ENABLES"})
		require.NoError(t, err)
	}
	return g
}

func warm(t *testing.T, g *graph.Graph, agent string, affinity map[string]float64) {
	t.Helper()
	for edge, a := range affinity {
		_, err := g.UpdateAgentState(edge, agent, func(st *graph.AgentEdgeState) { st.Affinity = a })
		require.NoError(t, err)
	}
}

func newSelector(g *graph.Graph, cfg Config, opts ...Option) *Selector {
	opts = append([]Option{
		WithRand(rand.New(rand.NewPCG(1, 2))),
		WithClock(func() time.Time { return t0 }),
	}, opts...)
	return NewSelector(g, NewActivation(cfg.MaxActivation), cfg, opts...)
}

func greedy() Config {
	cfg := DefaultConfig()
	cfg.Epsilon = 0
	return cfg
}

func goal() []Demand {
	return []Demand{{ID: "d1", Embedding: []float64{1, 0}, Priority: 1}}
}

// ─── Presets & pure scoring ──────────────────────────────────────────────────

func TestWeightsFor_Presets(t *testing.T) {
	cases := []struct {
		urgency float64
		want    Weights
		preset  Preset
	}{
		{0.95, Weights{0.50, 0.20, 0.30}, PresetExplore},
		{0.71, Weights{0.50, 0.20, 0.30}, PresetExplore},
		{0.70, Weights{0.35, 0.25, 0.40}, PresetBalanced},
		{0.31, Weights{0.35, 0.25, 0.40}, PresetBalanced},
		{0.30, Weights{0.20, 0.30, 0.50}, PresetExploit},
		{0.00, Weights{0.20, 0.30, 0.50}, PresetExploit},
	}
	for _, c := range cases {
		w, p := WeightsFor(c.urgency)
		assert.Equal(t, c.want, w, "urgency %.2f", c.urgency)
		assert.Equal(t, c.preset, p, "urgency %.2f", c.urgency)
	}
}

func TestActivationCost_BoundedFeedback(t *testing.T) {
	cfg := DefaultConfig()

	calm := cfg.ActivationCost(1, 0, 0, Levels{})
	hot := cfg.ActivationCost(1, 0, 0, Levels{Global: 1, Agent: 1})
	runaway := cfg.ActivationCost(1, 0, 0, Levels{Global: 1e9, Agent: 1e9})
	assert.Equal(t, 1.0, calm)
	assert.InDelta(t, 0.25, hot, 1e-12)
	assert.Equal(t, hot, runaway, "activation is clamped before it reaches the cost")

	assert.Equal(t, cfg.MinActivationCost, cfg.ActivationCost(1, 0, 50, Levels{Global: 1, Agent: 1}))
	assert.InDelta(t, 1.3, cfg.ActivationCost(1, 3, 0, Levels{}), 1e-12, "three competing agents")
}

func TestScore_BoostsAreClamped(t *testing.T) {
	cfg := DefaultConfig()
	d := Demand{Completeness: 0.5}
	b := cfg.Score(d, 0, 1, 1, 1, 1, Levels{Global: 7, Agent: 7})
	assert.InDelta(t, 1.5, b.GlobalBoost, 1e-12)
	assert.InDelta(t, 1.3, b.AgentBoost, 1e-12)
	assert.Equal(t, PresetBalanced, b.Preset)
}

func TestActivation_TickPublishes(t *testing.T) {
	a := NewActivation(1)
	a.SetGlobal(0.4)
	a.SetAgent("felix", 3)
	assert.Equal(t, Levels{}, a.Levels("felix"), "staged values are invisible until the tick")

	a.Tick()
	assert.Equal(t, Levels{Global: 0.4, Agent: 1}, a.Levels("felix"))
	assert.Equal(t, Levels{Global: 0.4}, a.Levels("ada"))
}

func TestColdWeight(t *testing.T) {
	assert.InDelta(t, 1.0, ColdWeight(1, false), 1e-12)
	assert.InDelta(t, 0.85, ColdWeight(1, true), 1e-12)
	assert.InDelta(t, 0.15, ColdWeight(0, true), 1e-12)
}

// ─── Valence ─────────────────────────────────────────────────────────────────

func run(outcomes ...Outcome) float64 {
	a := 0.0
	for _, o := range outcomes {
		a = applyAffinity(a, o)
	}
	return a
}

func TestAffinity_Asymmetric(t *testing.T) {
	U, H := OutcomeUseful, OutcomeUnhelpful
	mostlyGood := run(U, U, U, H, H)
	mostlyBad := run(H, H, H, U, U)

	assert.InDelta(t, 0.0, mostlyGood, 1e-9)
	assert.InDelta(t, -0.25, mostlyBad, 1e-9)
	assert.Greater(t, mostlyGood, mostlyBad)
	assert.NotEqual(t, math.Abs(mostlyGood), math.Abs(mostlyBad), "punishment outweighs reward")

	assert.InDelta(t, 0.02, run(OutcomeNeutral), 1e-12)
}

func TestAffinity_Clamped(t *testing.T) {
	var seq []Outcome
	for i := 0; i < 30; i++ {
		seq = append(seq, OutcomeUnhelpful)
	}
	assert.Equal(t, -1.0, run(seq...))
	for i := range seq {
		seq[i] = OutcomeUseful
	}
	assert.Equal(t, 1.0, run(seq...))
}

func TestOutcome_Parse(t *testing.T) {
	for _, o := range []Outcome{OutcomeUseful, OutcomeNeutral, OutcomeUnhelpful} {
		got, err := ParseOutcome(o.String())
		require.NoError(t, err)
		assert.Equal(t, o, got)
	}
	_, err := ParseOutcome("meh")
	assert.Error(t, err)
	assert.False(t, Outcome(0).Valid())
}

// ─── Selection ───────────────────────────────────────────────────────────────

func TestSelectNext_ScoresKnownEdges(t *testing.T) {
	g := fixture(t)
	warm(t, g, "felix", map[string]float64{"start-t1": 0.5, "start-t2": 0.5, "start-t3": 0.5})
	s := newSelector(g, greedy())

	sel, err := s.SelectNext(context.Background(), SelectRequest{AgentID: "felix", CurrentNodeID: "start", Demands: goal()})
	require.NoError(t, err)
	assert.Equal(t, StatusSelected, sel.Status)
	assert.Equal(t, "start-t1", sel.EdgeID)
	assert.Equal(t, "t1", sel.TargetNodeID)
	assert.Equal(t, ReasonScored, sel.Reason)
	assert.Equal(t, "d1", sel.DemandID)
	assert.NotEmpty(t, sel.TraversalID)
	require.NotNil(t, sel.Breakdown)
	assert.Equal(t, PresetExplore, sel.Breakdown.Preset)
	// (0.5·1 + 0.2·0 + 0.3·1) · 0.5 · 0.5 / 1
	assert.InDelta(t, 0.2, sel.Score, 1e-9)
}

func TestSelectNext_TieKeepsInsertionOrder(t *testing.T) {
	g := fixture(t)
	warm(t, g, "felix", map[string]float64{"start-t1": 0.5, "start-t2": 0.5, "start-t3": 0.5})
	s := newSelector(g, greedy())

	sel, err := s.SelectNext(context.Background(), SelectRequest{
		AgentID: "felix", CurrentNodeID: "start",
		Demands: []Demand{{ID: "blind", Priority: 1}},
		DryRun:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, "start-t1", sel.EdgeID)
}

func TestSelectNext_ColdStartMandatoryWithoutKnownEdges(t *testing.T) {
	g := fixture(t)
	// Another agent has written every edge off and the links are unproven.
	warm(t, g, "felix", map[string]float64{"start-t1": -1, "start-t2": -1, "start-t3": -1})
	for _, e := range []string{"start-t1", "start-t2", "start-t3"} {
		_, err := g.UpdateLinkStrength(e, func(float64, graph.StrengthSource) (float64, graph.StrengthSource) { return 0, graph.SourceDecayed })
		require.NoError(t, err)
	}
	s := newSelector(g, greedy())

	picked := map[string]int{}
	for i := 0; i < 300; i++ {
		sel, err := s.SelectNext(context.Background(), SelectRequest{AgentID: "ada", CurrentNodeID: "start", Demands: goal(), DryRun: true})
		require.NoError(t, err)
		require.Equal(t, ReasonColdExplore, sel.Reason)
		picked[sel.EdgeID]++
	}
	for _, e := range []string{"start-t1", "start-t2", "start-t3"} {
		assert.Positive(t, picked[e], "cold edge %s never sampled", e)
	}
	assert.Greater(t, picked["start-t1"], picked["start-t2"], "goal fit dominates the sampling weight")
}

func TestSelectNext_EpsilonOneAlwaysExploresColdEdges(t *testing.T) {
	g := fixture(t)
	warm(t, g, "felix", map[string]float64{"start-t1": 1})
	cfg := DefaultConfig()
	cfg.Epsilon = 1
	s := newSelector(g, cfg)

	for i := 0; i < 20; i++ {
		sel, err := s.SelectNext(context.Background(), SelectRequest{AgentID: "felix", CurrentNodeID: "start", Demands: goal(), DryRun: true})
		require.NoError(t, err)
		assert.Equal(t, ReasonColdExplore, sel.Reason)
		assert.NotEqual(t, "start-t1", sel.EdgeID)
	}
}

func TestSelectNext_Satisfied(t *testing.T) {
	s := newSelector(fixture(t), greedy())
	sel, err := s.SelectNext(context.Background(), SelectRequest{
		AgentID: "felix", CurrentNodeID: "start",
		Demands: []Demand{{ID: "a", Completeness: 0.9}, {ID: "b", Completeness: 0.95}},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSatisfied, sel.Status)
	assert.True(t, sel.Terminal())
	_, pending := s.Pending("felix")
	assert.False(t, pending)
}

func TestSelectNext_Exhausted(t *testing.T) {
	g := fixture(t)
	s := newSelector(g, greedy())

	budget := 0.05
	sel, err := s.SelectNext(context.Background(), SelectRequest{AgentID: "felix", CurrentNodeID: "start", Demands: goal(), Budget: &budget})
	require.NoError(t, err)
	assert.Equal(t, StatusExhausted, sel.Status)

	sel, err = s.SelectNext(context.Background(), SelectRequest{AgentID: "felix", CurrentNodeID: "t1", Demands: goal()})
	require.NoError(t, err)
	assert.Equal(t, StatusExhausted, sel.Status, "dead end")
}

func TestSelectNext_Errors(t *testing.T) {
	s := newSelector(fixture(t), greedy())
	ctx := context.Background()

	_, err := s.SelectNext(ctx, SelectRequest{CurrentNodeID: "start", Demands: goal()})
	assert.ErrorIs(t, err, ErrUnknownAgent)

	_, err = s.SelectNext(ctx, SelectRequest{AgentID: "felix", CurrentNodeID: "start"})
	assert.ErrorIs(t, err, ErrNoDemand)

	_, err = s.SelectNext(ctx, SelectRequest{AgentID: "felix", CurrentNodeID: "nowhere", Demands: goal()})
	assert.ErrorIs(t, err, ErrUnknownNode)
	assert.False(t, IsInfra(err))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.SelectNext(cancelled, SelectRequest{AgentID: "felix", CurrentNodeID: "start", Demands: goal()})
	assert.True(t, IsInfra(err))
	assert.ErrorIs(t, err, context.Canceled)

	// Failed selections never leave the agent blocked.
	_, pending := s.Pending("felix")
	assert.False(t, pending)
}

// ─── Execute / outcome ───────────────────────────────────────────────────────

func TestSelectNext_ExecuteCreatesAgentEntry(t *testing.T) {
	g := fixture(t)
	s := newSelector(g, greedy())

	sel, err := s.SelectNext(context.Background(), SelectRequest{
		AgentID: "ada", CurrentNodeID: "start", Demands: goal(), Emotion: []float64{0.2, 0.8},
	})
	require.NoError(t, err)

	st, ok, err := g.AgentState(sel.EdgeID, "ada")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, st.Traversals)
	assert.Zero(t, st.Affinity)
	assert.Equal(t, []float64{0.2, 0.8}, st.Emotion)

	e, _ := g.Edge(sel.EdgeID)
	assert.Equal(t, t0, e.LastTraversed)
}

func TestOutcomePending_BlocksUntilReported(t *testing.T) {
	g := fixture(t)
	s := newSelector(g, greedy())
	ctx := context.Background()
	req := SelectRequest{AgentID: "ada", CurrentNodeID: "start", Demands: goal()}

	sel, err := s.SelectNext(ctx, req)
	require.NoError(t, err)

	_, err = s.SelectNext(ctx, req)
	assert.ErrorIs(t, err, ErrOutcomePending)

	_, err = s.ReportOutcome(ctx, "ada", "some-other-edge", OutcomeUseful)
	assert.ErrorIs(t, err, ErrNoPendingTraversal)

	rcpt, err := s.ReportOutcome(ctx, "ada", sel.EdgeID, OutcomeUseful)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, rcpt.Affinity, 1e-12)
	assert.InDelta(t, 0.25, rcpt.Completeness, 1e-12)
	assert.False(t, rcpt.Satisfied)

	_, err = s.SelectNext(ctx, req)
	assert.NoError(t, err)

	_, err = s.ReportOutcome(ctx, "nobody", sel.EdgeID, OutcomeUseful)
	assert.ErrorIs(t, err, ErrNoPendingTraversal)
}

func TestReportOutcome_LearningVisibleToNextSelection(t *testing.T) {
	g := fixture(t)
	warm(t, g, "felix", map[string]float64{"start-t1": 0.5, "start-t2": 0.5, "start-t3": 0.5})
	s := newSelector(g, greedy())
	ctx := context.Background()
	req := SelectRequest{AgentID: "felix", CurrentNodeID: "start", Demands: goal()}

	sel, err := s.SelectNext(ctx, req)
	require.NoError(t, err)
	require.Equal(t, "start-t1", sel.EdgeID)
	_, err = s.ReportOutcome(ctx, "felix", sel.EdgeID, OutcomeUnhelpful)
	require.NoError(t, err)

	sel, err = s.SelectNext(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "start-t3", sel.EdgeID, "punished edge drops below the diagonal one")
}

func TestAbandon(t *testing.T) {
	s := newSelector(fixture(t), greedy())
	_, err := s.SelectNext(context.Background(), SelectRequest{AgentID: "ada", CurrentNodeID: "start", Demands: goal()})
	require.NoError(t, err)

	assert.True(t, s.Abandon("ada"))
	assert.False(t, s.Abandon("ada"))
	_, pending := s.Pending("ada")
	assert.False(t, pending)
}

// ─── Step ────────────────────────────────────────────────────────────────────

type recordingSink struct {
	mu     sync.Mutex
	events []OutcomeEvent
	err    error
}

func (r *recordingSink) RecordOutcome(_ context.Context, ev OutcomeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func TestStep_FullDecision(t *testing.T) {
	g := graph.New(graph.WithClock(func() time.Time { return t0 }))
	for id, emb := range map[string][]float64{"start": {0, 1}, "goal": {1, 0}, "beyond": {1, 0}} {
		_, err := g.AddNode(graph.NodeSpec{ID: id, Type: "Concept", Embedding: emb})
		require.NoError(t, err)
	}
	_, err := g.AddEdge(graph.EdgeSpec{ID: "start-goal", From: "start", To: "goal", Type: "ENABLES"})
	require.NoError(t, err)
	_, err = g.AddEdge(graph.EdgeSpec{ID: "goal-beyond", From: "goal", To: "beyond", Type: "ENABLES"})
	require.NoError(t, err)

	sink := &recordingSink{}
	links := linkstrength.New(linkstrength.DefaultConfig(), g, nil)
	s := newSelector(g, greedy(), WithSink(sink), WithRecorder(links))

	var executed []string
	exec := ExecutorFunc(func(_ context.Context, sel Selection) error {
		executed = append(executed, sel.EdgeID)
		return nil
	})

	res, err := s.Step(context.Background(), SelectRequest{AgentID: "ada", CurrentNodeID: "start", Demands: goal()}, exec, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"start-goal"}, executed)
	require.NotNil(t, res.Observation)
	assert.InDelta(t, 1.0, res.Observation.Relevance, 1e-12)
	assert.Equal(t, 1, res.Observation.ReachabilityGain)
	require.NotNil(t, res.Receipt)
	assert.Equal(t, OutcomeUseful, res.Receipt.Outcome)

	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	assert.Equal(t, "start-goal", ev.EdgeID)
	assert.Equal(t, "start", ev.FromNodeID)
	assert.Equal(t, "goal", ev.TargetNodeID)
	assert.Equal(t, res.Selection.TraversalID, ev.TraversalID)
}

func TestStep_ExecutorFailureAbandons(t *testing.T) {
	s := newSelector(fixture(t), greedy())
	boom := errors.New("host crashed")

	_, err := s.Step(context.Background(), SelectRequest{AgentID: "ada", CurrentNodeID: "start", Demands: goal()},
		ExecutorFunc(func(context.Context, Selection) error { return boom }), nil)
	assert.ErrorIs(t, err, boom)
	assert.True(t, IsInfra(err))
	_, pending := s.Pending("ada")
	assert.False(t, pending)
}

func TestStep_SinkFailureIsInfraButLearns(t *testing.T) {
	g := fixture(t)
	sink := &recordingSink{err: errors.New("queue closed")}
	s := newSelector(g, greedy(), WithSink(sink))

	res, err := s.Step(context.Background(), SelectRequest{AgentID: "ada", CurrentNodeID: "start", Demands: goal()}, nil, nil)
	assert.True(t, IsInfra(err))
	require.NotNil(t, res.Receipt)
	_, pending := s.Pending("ada")
	assert.False(t, pending, "affinity landed, agent released")
}

func TestThresholdEvaluator(t *testing.T) {
	e := NewThresholdEvaluator(DefaultConfig())
	ctx := context.Background()
	assert.Equal(t, OutcomeUseful, e.Evaluate(ctx, Observation{Relevance: 0.8}))
	assert.Equal(t, OutcomeUseful, e.Evaluate(ctx, Observation{Relevance: 0.1, ReachabilityGain: 2}))
	assert.Equal(t, OutcomeUseful, e.Evaluate(ctx, Observation{Relevance: 0.1, ActivationSpike: 0.3}))
	assert.Equal(t, OutcomeNeutral, e.Evaluate(ctx, Observation{Relevance: 0.5}))
	assert.Equal(t, OutcomeUnhelpful, e.Evaluate(ctx, Observation{Relevance: 0.1}))
}

// ─── Concurrency ─────────────────────────────────────────────────────────────

func TestStep_ConcurrentAgentsShareEdges(t *testing.T) {
	g := fixture(t)
	s := NewSelector(g, nil, DefaultConfig(), WithRand(rand.New(rand.NewPCG(3, 4))))

	const agents, steps = 8, 25
	var wg sync.WaitGroup
	errs := make(chan error, agents)
	for i := 0; i < agents; i++ {
		wg.Add(1)
		go func(agent string) {
			defer wg.Done()
			for j := 0; j < steps; j++ {
				if _, err := s.Step(context.Background(), SelectRequest{AgentID: agent, CurrentNodeID: "start", Demands: goal()}, nil, nil); err != nil {
					errs <- err
					return
				}
			}
		}(fmt.Sprintf("agent-%d", i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	for i := 0; i < agents; i++ {
		agent := fmt.Sprintf("agent-%d", i)
		total := 0
		for _, e := range []string{"start-t1", "start-t2", "start-t3"} {
			if st, ok, _ := g.AgentState(e, agent); ok {
				total += st.Traversals
			}
		}
		assert.Equal(t, steps, total, agent)
	}
}
