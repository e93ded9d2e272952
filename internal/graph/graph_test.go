package graph

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 10, 21, 12, 0, 0, 0, time.UTC)

func newTestGraph(t *testing.T) *Graph {
	t.Helper()
	g := New(WithClock(func() time.Time { return epoch }))
	for _, id := range []string{"a", "b", "c"} {
		_, err := g.AddNode(NodeSpec{ID: id, Type: "Concept", Scope: "organizational"})
		require.NoError(t, err)
	}
	_, err := g.AddEdge(EdgeSpec{ID: "a-b", From: "a", To: "b", Type: "ENABLES"})
	require.NoError(t, err)
	_, err = g.AddEdge(EdgeSpec{ID: "a-c", From: "a", To: "c", Type: "ENABLES"})
	require.NoError(t, err)
	return g
}

// ─── Construction ────────────────────────────────────────────────────────────

func TestAddNode_RejectsDuplicateAcrossKinds(t *testing.T) {
	g := newTestGraph(t)

	_, err := g.AddNode(NodeSpec{ID: "a"})
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = g.AddNode(NodeSpec{ID: "a-b"})
	assert.ErrorIs(t, err, ErrDuplicate, "edge ids share the namespace")
}

func TestReformNode_RefreshesDescriptionKeepsLearning(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.ApplyLearning(KindNode, []LearningWrite{{ID: "a", State: LearningState{LogWeight: 0.3}}}))

	v, err := g.ReformNode(NodeSpec{ID: "a", Type: "Concept", Scope: "organizational",
		Fields: map[string]string{"name": "Flow"}, Embedding: []float64{1, 0}})
	require.NoError(t, err)
	assert.Equal(t, "Flow", v.Fields["name"])
	assert.Equal(t, []float64{1, 0}, v.Embedding)
	assert.Equal(t, 0.3, v.Learning.LogWeight)

	_, err = g.ReformNode(NodeSpec{ID: "a", Type: "Concept"})
	assert.ErrorIs(t, err, ErrMismatch, "scope is part of the cohort")
	_, err = g.ReformNode(NodeSpec{ID: "a-b", Type: "Concept"})
	assert.ErrorIs(t, err, ErrMismatch)
	_, err = g.ReformNode(NodeSpec{ID: "zz", Type: "Concept"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReformEdge_EndpointsMustMatch(t *testing.T) {
	g := newTestGraph(t)

	v, err := g.ReformEdge(EdgeSpec{ID: "a-b", From: "a", To: "b", Type: "ENABLES", BaseCost: 2})
	require.NoError(t, err)
	assert.Equal(t, 2.0, v.BaseCost)

	_, err = g.ReformEdge(EdgeSpec{ID: "a-b", From: "a", To: "c", Type: "ENABLES"})
	assert.ErrorIs(t, err, ErrMismatch)
	_, err = g.ReformEdge(EdgeSpec{ID: "a-b", From: "a", To: "b", Type: "REQUIRES"})
	assert.ErrorIs(t, err, ErrMismatch)
}

func TestAddEdge_Validation(t *testing.T) {
	g := newTestGraph(t)

	_, err := g.AddEdge(EdgeSpec{ID: "x", From: "a", To: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = g.AddEdge(EdgeSpec{ID: "loop", From: "a", To: "a"})
	assert.Error(t, err)
}

func TestAddEdge_Defaults(t *testing.T) {
	g := newTestGraph(t)

	e, err := g.Edge("a-b")
	require.NoError(t, err)
	assert.Equal(t, 1.0, e.BaseCost)
	assert.Equal(t, DefaultInitialLinkStrength, e.LinkStrength)
	assert.Equal(t, CohortKey{Type: "ENABLES", Scope: DefaultScope}, e.Cohort)
	assert.Equal(t, epoch, e.CreatedAt)
}

func TestNeighborhood_InsertionOrder(t *testing.T) {
	g := newTestGraph(t)

	nb, err := g.Neighborhood("a")
	require.NoError(t, err)
	require.Len(t, nb.Edges, 2)
	assert.Equal(t, "a-b", nb.Edges[0].ID)
	assert.Equal(t, "b", nb.Targets[0].ID)
	assert.Equal(t, "a-c", nb.Edges[1].ID)
	assert.Equal(t, "c", nb.Targets[1].ID)

	_, err = g.Neighborhood("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

// ─── Learning ────────────────────────────────────────────────────────────────

func TestApplyLearning_AllOrNothing(t *testing.T) {
	g := newTestGraph(t)

	err := g.ApplyLearning(KindNode, []LearningWrite{
		{ID: "a", State: LearningState{LogWeight: 1}},
		{ID: "ghost", State: LearningState{LogWeight: 2}},
	})
	require.ErrorIs(t, err, ErrNotFound)

	n, err := g.Node("a")
	require.NoError(t, err)
	assert.Zero(t, n.Learning.LogWeight, "no write may land when the batch fails")

	require.NoError(t, g.ApplyLearning(KindNode, []LearningWrite{{ID: "a", State: LearningState{LogWeight: 1}}}))
	n, _ = g.Node("a")
	assert.Equal(t, 1.0, n.Learning.LogWeight)
}

func TestLearningRecords_ByKind(t *testing.T) {
	g := newTestGraph(t)

	assert.Len(t, g.LearningRecords(KindNode), 3)
	edges := g.LearningRecords(KindEdge)
	require.Len(t, edges, 2)
	assert.Equal(t, KindEdge, edges[0].Kind)
}

// ─── Per-agent state ─────────────────────────────────────────────────────────

func TestAgentState_ColdUntilFirstUpdate(t *testing.T) {
	g := newTestGraph(t)

	_, ok, err := g.AgentState("a-b", "felix")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, g.ExploredByOther("a-b", "felix"))

	_, err = g.UpdateAgentState("a-b", "ada", func(st *AgentEdgeState) { st.Affinity = 0.1 })
	require.NoError(t, err)

	assert.True(t, g.ExploredByOther("a-b", "felix"))
	assert.False(t, g.ExploredByOther("a-b", "ada"), "own state does not count as another explorer")

	st, ok, err := g.AgentState("a-b", "ada")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0.1, st.Affinity)
}

func TestAgentState_ConcurrentAgentsDoNotInterfere(t *testing.T) {
	g := newTestGraph(t)

	const agents, rounds = 8, 200
	var wg sync.WaitGroup
	for i := 0; i < agents; i++ {
		wg.Add(1)
		go func(agent string) {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				_, _ = g.UpdateAgentState("a-b", agent, func(st *AgentEdgeState) { st.Traversals++ })
			}
		}(fmt.Sprintf("agent-%d", i))
	}
	wg.Wait()

	for i := 0; i < agents; i++ {
		st, ok, err := g.AgentState("a-b", fmt.Sprintf("agent-%d", i))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, rounds, st.Traversals)
	}
	e, _ := g.Edge("a-b")
	assert.Len(t, e.Agents, agents)
}

// ─── Link strength & co-activation ───────────────────────────────────────────

func TestUpdateLinkStrength_Clamps(t *testing.T) {
	g := newTestGraph(t)

	v, err := g.UpdateLinkStrength("a-b", func(s float64, _ StrengthSource) (float64, StrengthSource) {
		return s + 5, SourceConsciousConfirm
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, v.LinkStrength)
	assert.Equal(t, SourceConsciousConfirm, v.StrengthSource)
}

func TestCoactivate_Symmetric(t *testing.T) {
	g := newTestGraph(t)

	n, err := g.Coactivate("a-b", "a-c")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, _ = g.Coactivate("a-c", "a-b")
	assert.Equal(t, 2, n)

	ab, _ := g.Edge("a-b")
	ac, _ := g.Edge("a-c")
	assert.Equal(t, map[string]int{"a-c": 2}, ab.Coactivation)
	assert.Equal(t, map[string]int{"a-b": 2}, ac.Coactivation)
}

func TestStaleEdges_UsesCreationWhenNeverTraversed(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.MarkTraversed("a-b", epoch.Add(40*24*time.Hour)))

	stale := g.StaleEdges(epoch.Add(31 * 24 * time.Hour))
	assert.Equal(t, []string{"a-c"}, stale)
}

// ─── Snapshot & records ──────────────────────────────────────────────────────

func TestSnapshot_IsDetached(t *testing.T) {
	g := newTestGraph(t)
	_, err := g.AddNode(NodeSpec{ID: "d", Fields: map[string]string{"name": "d"}, Embedding: []float64{1, 0}})
	require.NoError(t, err)

	snap := g.Snapshot()
	snap.Nodes[3].Fields["name"] = "mutated"
	snap.Nodes[3].Embedding[0] = 42

	n, _ := g.Node("d")
	assert.Equal(t, "d", n.Fields["name"])
	assert.Equal(t, 1.0, n.Embedding[0])
}

func TestFromRecords_RestoresSharedAndAgentState(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.ApplyLearning(KindEdge, []LearningWrite{{ID: "a-b", State: LearningState{LogWeight: 0.4, SignalSeen: true}}}))
	_, _ = g.Coactivate("a-b", "a-c")
	_, _ = g.UpdateAgentState("a-c", "felix", func(st *AgentEdgeState) { st.Affinity = -0.15; st.Traversals = 1 })
	_, _ = g.UpdateLinkStrength("a-c", func(float64, StrengthSource) (float64, StrengthSource) { return 0.8, SourceValidated })

	restored, err := FromRecords(g.Records(), WithClock(func() time.Time { return epoch }))
	require.NoError(t, err)

	if diff := cmp.Diff(g.Snapshot(), restored.Snapshot()); diff != "" {
		t.Errorf("restored snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float64{1, 2}, []float64{2, 4}), 1e-12)
	assert.InDelta(t, 0.0, Cosine([]float64{1, 0}, []float64{0, 1}), 1e-12)
	assert.Zero(t, Cosine([]float64{1}, []float64{1, 2}))
	assert.Zero(t, Cosine([]float64{0, 0}, []float64{1, 2}))
}
