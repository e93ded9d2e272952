package graph

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultInitialLinkStrength is the link strength of an edge created
// without an explicit value.
const DefaultInitialLinkStrength = 0.5

// Graph is the shared arena. All methods are safe for concurrent use.
type Graph struct {
	mu      sync.RWMutex
	nodes   []*Node
	edges   []*Edge
	nodeIdx map[string]NodeIndex
	edgeIdx map[string]EdgeIndex
	out     [][]EdgeIndex

	initialStrength float64
	now             func() time.Time
}

// Option configures a Graph.
type Option func(*Graph)

// WithInitialLinkStrength sets the strength given to new edges.
func WithInitialLinkStrength(v float64) Option {
	return func(g *Graph) { g.initialStrength = clamp01(v) }
}

// WithClock injects the time source used for creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Graph) { g.now = now }
}

// New creates an empty graph.
func New(opts ...Option) *Graph {
	g := &Graph{
		nodeIdx:         make(map[string]NodeIndex),
		edgeIdx:         make(map[string]EdgeIndex),
		initialStrength: DefaultInitialLinkStrength,
		now:             time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Now returns the graph clock's current time.
func (g *Graph) Now() time.Time {
	return g.now()
}

// ─── Construction ────────────────────────────────────────────────────────────

// AddNode inserts a node and returns its arena index.
func (g *Graph) AddNode(spec NodeSpec) (NodeIndex, error) {
	id := strings.TrimSpace(spec.ID)
	if id == "" {
		return 0, fmt.Errorf("graph: node id is required")
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idTakenLocked(id) {
		return 0, fmt.Errorf("%w: %q", ErrDuplicate, id)
	}
	n := &Node{
		Index:     NodeIndex(len(g.nodes)),
		ID:        id,
		Cohort:    CohortOf(spec.Type, spec.Scope),
		Fields:    cloneFields(spec.Fields),
		Embedding: cloneVec(spec.Embedding),
		CreatedAt: spec.CreatedAt,
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = g.now()
	}
	if spec.Learning != nil {
		n.Learning = *spec.Learning
	}
	g.nodes = append(g.nodes, n)
	g.out = append(g.out, nil)
	g.nodeIdx[id] = n.Index
	return n.Index, nil
}

// AddEdge inserts a directed edge between two existing nodes.
func (g *Graph) AddEdge(spec EdgeSpec) (EdgeIndex, error) {
	id := strings.TrimSpace(spec.ID)
	if id == "" {
		return 0, fmt.Errorf("graph: edge id is required")
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idTakenLocked(id) {
		return 0, fmt.Errorf("%w: %q", ErrDuplicate, id)
	}
	from, ok := g.nodeIdx[spec.From]
	if !ok {
		return 0, fmt.Errorf("%w: source node %q", ErrNotFound, spec.From)
	}
	to, ok := g.nodeIdx[spec.To]
	if !ok {
		return 0, fmt.Errorf("%w: target node %q", ErrNotFound, spec.To)
	}
	if from == to {
		return 0, fmt.Errorf("graph: self-edge on %q", spec.From)
	}

	e := &Edge{
		Index:        EdgeIndex(len(g.edges)),
		ID:           id,
		From:         from,
		To:           to,
		Cohort:       CohortOf(spec.Type, spec.Scope),
		Fields:       cloneFields(spec.Fields),
		Embedding:    cloneVec(spec.Embedding),
		BaseCost:     spec.BaseCost,
		LinkStrength: g.initialStrength,
		CreatedAt:    spec.CreatedAt,
		coactivation: make(map[EdgeIndex]int),
		agents:       newAgentShards(),
	}
	if e.BaseCost <= 0 {
		e.BaseCost = 1
	}
	if spec.LinkStrength != nil {
		e.LinkStrength = clamp01(*spec.LinkStrength)
	}
	if spec.Learning != nil {
		e.Learning = *spec.Learning
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = g.now()
	}
	g.edges = append(g.edges, e)
	g.edgeIdx[id] = e.Index
	g.out[from] = append(g.out[from], e.Index)
	return e.Index, nil
}

// ReformNode refreshes an existing node from a new formation of it. The
// cohort must match. Non-empty fields and embedding replace the stored ones;
// learning state is untouched.
func (g *Graph) ReformNode(spec NodeSpec) (NodeView, error) {
	id := strings.TrimSpace(spec.ID)
	g.mu.Lock()
	defer g.mu.Unlock()
	idx, ok := g.nodeIdx[id]
	if !ok {
		if _, isEdge := g.edgeIdx[id]; isEdge {
			return NodeView{}, fmt.Errorf("%w: %q is an edge", ErrMismatch, id)
		}
		return NodeView{}, fmt.Errorf("%w: node %q", ErrNotFound, id)
	}
	n := g.nodes[idx]
	if c := CohortOf(spec.Type, spec.Scope); c != n.Cohort {
		return NodeView{}, fmt.Errorf("%w: node %q is %s, not %s", ErrMismatch, id, n.Cohort, c)
	}
	if len(spec.Fields) > 0 {
		n.Fields = cloneFields(spec.Fields)
	}
	if len(spec.Embedding) > 0 {
		n.Embedding = cloneVec(spec.Embedding)
	}
	return g.nodeViewLocked(n), nil
}

// ReformEdge refreshes an existing edge from a new formation of it. The
// endpoints and cohort must match. Non-empty fields, embedding and a
// positive base cost replace the stored ones.
func (g *Graph) ReformEdge(spec EdgeSpec) (EdgeView, error) {
	id := strings.TrimSpace(spec.ID)
	g.mu.Lock()
	defer g.mu.Unlock()
	idx, ok := g.edgeIdx[id]
	if !ok {
		if _, isNode := g.nodeIdx[id]; isNode {
			return EdgeView{}, fmt.Errorf("%w: %q is a node", ErrMismatch, id)
		}
		return EdgeView{}, fmt.Errorf("%w: edge %q", ErrNotFound, id)
	}
	e := g.edges[idx]
	if g.nodes[e.From].ID != spec.From || g.nodes[e.To].ID != spec.To {
		return EdgeView{}, fmt.Errorf("%w: edge %q runs %s→%s", ErrMismatch, id, g.nodes[e.From].ID, g.nodes[e.To].ID)
	}
	if c := CohortOf(spec.Type, spec.Scope); c != e.Cohort {
		return EdgeView{}, fmt.Errorf("%w: edge %q is %s, not %s", ErrMismatch, id, e.Cohort, c)
	}
	if len(spec.Fields) > 0 {
		e.Fields = cloneFields(spec.Fields)
	}
	if len(spec.Embedding) > 0 {
		e.Embedding = cloneVec(spec.Embedding)
	}
	if spec.BaseCost > 0 {
		e.BaseCost = spec.BaseCost
	}
	return g.edgeViewLocked(e), nil
}

func (g *Graph) idTakenLocked(id string) bool {
	if _, ok := g.nodeIdx[id]; ok {
		return true
	}
	_, ok := g.edgeIdx[id]
	return ok
}

// ─── Lookup ──────────────────────────────────────────────────────────────────

// Resolve reports whether id names a node or an edge.
func (g *Graph) Resolve(id string) (Kind, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.nodeIdx[id]; ok {
		return KindNode, true
	}
	if _, ok := g.edgeIdx[id]; ok {
		return KindEdge, true
	}
	return "", false
}

// Index returns the arena position of a node or edge, which is its
// insertion order within its kind.
func (g *Graph) Index(id string) (int, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if i, ok := g.nodeIdx[id]; ok {
		return int(i), true
	}
	if i, ok := g.edgeIdx[id]; ok {
		return int(i), true
	}
	return -1, false
}

// Node returns a read-only view of a node.
func (g *Graph) Node(id string) (NodeView, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	idx, ok := g.nodeIdx[id]
	if !ok {
		return NodeView{}, fmt.Errorf("%w: node %q", ErrNotFound, id)
	}
	return g.nodeViewLocked(g.nodes[idx]), nil
}

// Edge returns a read-only view of an edge.
func (g *Graph) Edge(id string) (EdgeView, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	idx, ok := g.edgeIdx[id]
	if !ok {
		return EdgeView{}, fmt.Errorf("%w: edge %q", ErrNotFound, id)
	}
	return g.edgeViewLocked(g.edges[idx]), nil
}

// Neighborhood is a consistent read of a node and its outgoing edges.
// Targets[i] is the node Edges[i] points to.
type Neighborhood struct {
	From    NodeView
	Edges   []EdgeView
	Targets []NodeView
}

// Neighborhood returns the outgoing edges of nodeID in insertion order.
func (g *Graph) Neighborhood(nodeID string) (Neighborhood, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	idx, ok := g.nodeIdx[nodeID]
	if !ok {
		return Neighborhood{}, fmt.Errorf("%w: node %q", ErrNotFound, nodeID)
	}
	nb := Neighborhood{From: g.nodeViewLocked(g.nodes[idx])}
	for _, ei := range g.out[idx] {
		e := g.edges[ei]
		nb.Edges = append(nb.Edges, g.edgeViewLocked(e))
		nb.Targets = append(nb.Targets, g.nodeViewLocked(g.nodes[e.To]))
	}
	return nb, nil
}

// OutDegree returns the number of outgoing edges of nodeID, or 0 when unknown.
func (g *Graph) OutDegree(nodeID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	idx, ok := g.nodeIdx[nodeID]
	if !ok {
		return 0
	}
	return len(g.out[idx])
}

// Successors returns the ids of nodes one hop from nodeID.
func (g *Graph) Successors(nodeID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	idx, ok := g.nodeIdx[nodeID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(g.out[idx]))
	for _, ei := range g.out[idx] {
		ids = append(ids, g.nodes[g.edges[ei].To].ID)
	}
	return ids
}

// CohortEmbeddings returns the embeddings of nodes in a cohort, skipping
// nodes without one.
func (g *Graph) CohortEmbeddings(key CohortKey) map[string][]float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string][]float64)
	for _, n := range g.nodes {
		if n.Cohort == key && len(n.Embedding) > 0 {
			out[n.ID] = cloneVec(n.Embedding)
		}
	}
	return out
}

// Counts returns the number of nodes and edges.
func (g *Graph) Counts() (nodes, edges int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes), len(g.edges)
}

// ─── Learning ────────────────────────────────────────────────────────────────

// LearningRecord is a point-in-time copy of one record's learning state.
type LearningRecord struct {
	ID     string
	Kind   Kind
	Cohort CohortKey
	State  LearningState
}

// LearningRecords returns every record of the given kind, read under a
// single lock so the caller sees one consistent snapshot.
func (g *Graph) LearningRecords(kind Kind) []LearningRecord {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []LearningRecord
	switch kind {
	case KindNode:
		out = make([]LearningRecord, 0, len(g.nodes))
		for _, n := range g.nodes {
			out = append(out, LearningRecord{ID: n.ID, Kind: KindNode, Cohort: n.Cohort, State: n.Learning})
		}
	case KindEdge:
		out = make([]LearningRecord, 0, len(g.edges))
		for _, e := range g.edges {
			out = append(out, LearningRecord{ID: e.ID, Kind: KindEdge, Cohort: e.Cohort, State: e.Learning})
		}
	}
	return out
}

// LearningWrite replaces one record's learning state.
type LearningWrite struct {
	ID    string
	State LearningState
}

// ApplyLearning writes a batch of learning states atomically. Unknown ids
// fail the whole batch before anything is written.
func (g *Graph) ApplyLearning(kind Kind, writes []LearningWrite) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, w := range writes {
		if !g.hasLocked(kind, w.ID) {
			return fmt.Errorf("%w: %s %q", ErrNotFound, kind, w.ID)
		}
	}
	for _, w := range writes {
		switch kind {
		case KindNode:
			g.nodes[g.nodeIdx[w.ID]].Learning = w.State
		case KindEdge:
			g.edges[g.edgeIdx[w.ID]].Learning = w.State
		}
	}
	return nil
}

func (g *Graph) hasLocked(kind Kind, id string) bool {
	switch kind {
	case KindNode:
		_, ok := g.nodeIdx[id]
		return ok
	case KindEdge:
		_, ok := g.edgeIdx[id]
		return ok
	}
	return false
}

// ─── Link strength & co-activation ───────────────────────────────────────────

// UpdateLinkStrength applies fn to an edge's link strength under the graph
// lock. The result is clamped to [0,1].
func (g *Graph) UpdateLinkStrength(edgeID string, fn func(strength float64, src StrengthSource) (float64, StrengthSource)) (EdgeView, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	idx, ok := g.edgeIdx[edgeID]
	if !ok {
		return EdgeView{}, fmt.Errorf("%w: edge %q", ErrNotFound, edgeID)
	}
	e := g.edges[idx]
	s, src := fn(e.LinkStrength, e.StrengthSource)
	e.LinkStrength = clamp01(s)
	e.StrengthSource = src
	return g.edgeViewLocked(e), nil
}

// Coactivate increments the co-activation count between two edges in both
// directions and returns the new count.
func (g *Graph) Coactivate(a, b string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ia, ok := g.edgeIdx[a]
	if !ok {
		return 0, fmt.Errorf("%w: edge %q", ErrNotFound, a)
	}
	ib, ok := g.edgeIdx[b]
	if !ok {
		return 0, fmt.Errorf("%w: edge %q", ErrNotFound, b)
	}
	if ia == ib {
		return 0, nil
	}
	g.edges[ia].coactivation[ib]++
	g.edges[ib].coactivation[ia]++
	return g.edges[ia].coactivation[ib], nil
}

// MarkTraversed stamps an edge as traversed at t.
func (g *Graph) MarkTraversed(edgeID string, t time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	idx, ok := g.edgeIdx[edgeID]
	if !ok {
		return fmt.Errorf("%w: edge %q", ErrNotFound, edgeID)
	}
	if t.After(g.edges[idx].LastTraversed) {
		g.edges[idx].LastTraversed = t
	}
	return nil
}

// StaleEdges returns ids of edges whose last traversal (or creation, when
// never traversed) is before cutoff, in insertion order.
func (g *Graph) StaleEdges(cutoff time.Time) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var ids []string
	for _, e := range g.edges {
		last := e.LastTraversed
		if last.IsZero() {
			last = e.CreatedAt
		}
		if last.Before(cutoff) {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// ─── Per-agent state ─────────────────────────────────────────────────────────

// AgentState returns one agent's state on an edge. ok is false while the
// edge is cold for that agent.
func (g *Graph) AgentState(edgeID, agentID string) (st AgentEdgeState, ok bool, err error) {
	shards, err := g.shards(edgeID)
	if err != nil {
		return AgentEdgeState{}, false, err
	}
	st, ok = shards.Get(agentID)
	return st, ok, nil
}

// UpdateAgentState mutates one agent's state on an edge, creating it on
// first use. Only the agent's shard is locked.
func (g *Graph) UpdateAgentState(edgeID, agentID string, fn func(st *AgentEdgeState)) (AgentEdgeState, error) {
	shards, err := g.shards(edgeID)
	if err != nil {
		return AgentEdgeState{}, err
	}
	return shards.Update(agentID, fn), nil
}

// ExploredByOther reports whether an agent other than agentID has traversed
// the edge.
func (g *Graph) ExploredByOther(edgeID, agentID string) bool {
	shards, err := g.shards(edgeID)
	if err != nil {
		return false
	}
	return shards.ExploredByOther(agentID)
}

func (g *Graph) shards(edgeID string) (*AgentShards, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	idx, ok := g.edgeIdx[edgeID]
	if !ok {
		return nil, fmt.Errorf("%w: edge %q", ErrNotFound, edgeID)
	}
	return g.edges[idx].agents, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// CohortOf normalizes a type and scope into a cohort key. A blank scope is
// DefaultScope.
func CohortOf(typ, scope string) CohortKey {
	typ = strings.TrimSpace(typ)
	if typ == "" {
		typ = "unknown"
	}
	scope = strings.TrimSpace(scope)
	if scope == "" {
		scope = DefaultScope
	}
	return CohortKey{Type: typ, Scope: scope}
}

func cloneFields(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneVec(v []float64) []float64 {
	if v == nil {
		return nil
	}
	return append([]float64(nil), v...)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func coactivationByID(g *Graph, e *Edge) map[string]int {
	if len(e.coactivation) == 0 {
		return nil
	}
	out := make(map[string]int, len(e.coactivation))
	for k, n := range e.coactivation {
		out[g.edges[k].ID] = n
	}
	return out
}
