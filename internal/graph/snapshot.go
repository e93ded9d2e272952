package graph

import (
	"fmt"
	"time"
)

// NodeView is a detached copy of a node. Mutating it has no effect on the
// graph.
type NodeView struct {
	ID        string            `json:"id"`
	Cohort    CohortKey         `json:"cohort"`
	Fields    map[string]string `json:"fields,omitempty"`
	Embedding []float64         `json:"embedding,omitempty"`
	Learning  LearningState     `json:"learning"`
	CreatedAt time.Time         `json:"created_at"`
}

// EdgeView is a detached copy of an edge, including every agent's state.
type EdgeView struct {
	ID             string                    `json:"id"`
	From           string                    `json:"from"`
	To             string                    `json:"to"`
	Cohort         CohortKey                 `json:"cohort"`
	Fields         map[string]string         `json:"fields,omitempty"`
	Embedding      []float64                 `json:"embedding,omitempty"`
	BaseCost       float64                   `json:"base_cost"`
	Learning       LearningState             `json:"learning"`
	LinkStrength   float64                   `json:"link_strength"`
	StrengthSource StrengthSource            `json:"strength_source,omitempty"`
	LastTraversed  time.Time                 `json:"last_traversed"`
	CreatedAt      time.Time                 `json:"created_at"`
	Coactivation   map[string]int            `json:"coactivation_counts,omitempty"`
	Agents         map[string]AgentEdgeState `json:"per_agent,omitempty"`
}

// Snapshot is the read-only picture of the whole graph handed to
// visualization consumers.
type Snapshot struct {
	TakenAt time.Time  `json:"taken_at"`
	Nodes   []NodeView `json:"nodes"`
	Edges   []EdgeView `json:"edges"`
}

func (g *Graph) nodeViewLocked(n *Node) NodeView {
	return NodeView{
		ID:        n.ID,
		Cohort:    n.Cohort,
		Fields:    cloneFields(n.Fields),
		Embedding: cloneVec(n.Embedding),
		Learning:  n.Learning,
		CreatedAt: n.CreatedAt,
	}
}

func (g *Graph) edgeViewLocked(e *Edge) EdgeView {
	v := EdgeView{
		ID:             e.ID,
		From:           g.nodes[e.From].ID,
		To:             g.nodes[e.To].ID,
		Cohort:         e.Cohort,
		Fields:         cloneFields(e.Fields),
		Embedding:      cloneVec(e.Embedding),
		BaseCost:       e.BaseCost,
		Learning:       e.Learning,
		LinkStrength:   e.LinkStrength,
		StrengthSource: e.StrengthSource,
		LastTraversed:  e.LastTraversed,
		CreatedAt:      e.CreatedAt,
		Coactivation:   coactivationByID(g, e),
	}
	if agents := e.agents.All(); len(agents) > 0 {
		v.Agents = agents
	}
	return v
}

// Snapshot copies every node and edge under one read lock.
func (g *Graph) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s := Snapshot{
		TakenAt: g.now(),
		Nodes:   make([]NodeView, 0, len(g.nodes)),
		Edges:   make([]EdgeView, 0, len(g.edges)),
	}
	for _, n := range g.nodes {
		s.Nodes = append(s.Nodes, g.nodeViewLocked(n))
	}
	for _, e := range g.edges {
		s.Edges = append(s.Edges, g.edgeViewLocked(e))
	}
	return s
}

// ─── Persisted layout ────────────────────────────────────────────────────────

// NodeRecord is the persisted form of a node.
type NodeRecord struct {
	ID        string
	Type      string
	Scope     string
	Fields    map[string]string
	Embedding []float64
	Learning  LearningState
	CreatedAt time.Time
}

// EdgeRecord is the persisted form of an edge's shared state.
type EdgeRecord struct {
	ID             string
	From           string
	To             string
	Type           string
	Scope          string
	Fields         map[string]string
	Embedding      []float64
	BaseCost       float64
	Learning       LearningState
	LinkStrength   float64
	StrengthSource StrengthSource
	LastTraversed  time.Time
	CreatedAt      time.Time
	Coactivation   map[string]int
}

// AgentRecord is the persisted form of one (edge, agent) entry.
type AgentRecord struct {
	EdgeID  string
	AgentID string
	State   AgentEdgeState
}

// Records is a full dump of the graph in persisted layout.
type Records struct {
	Nodes  []NodeRecord
	Edges  []EdgeRecord
	Agents []AgentRecord
}

// NodeRecord returns the persisted form of one node.
func (g *Graph) NodeRecord(id string) (NodeRecord, error) {
	v, err := g.Node(id)
	if err != nil {
		return NodeRecord{}, err
	}
	return NodeRecord{
		ID: v.ID, Type: v.Cohort.Type, Scope: v.Cohort.Scope,
		Fields: v.Fields, Embedding: v.Embedding, Learning: v.Learning, CreatedAt: v.CreatedAt,
	}, nil
}

// EdgeRecord returns the persisted form of one edge's shared state.
func (g *Graph) EdgeRecord(id string) (EdgeRecord, error) {
	v, err := g.Edge(id)
	if err != nil {
		return EdgeRecord{}, err
	}
	return edgeRecordOf(v), nil
}

func edgeRecordOf(v EdgeView) EdgeRecord {
	return EdgeRecord{
		ID: v.ID, From: v.From, To: v.To, Type: v.Cohort.Type, Scope: v.Cohort.Scope,
		Fields: v.Fields, Embedding: v.Embedding, BaseCost: v.BaseCost, Learning: v.Learning,
		LinkStrength: v.LinkStrength, StrengthSource: v.StrengthSource,
		LastTraversed: v.LastTraversed, CreatedAt: v.CreatedAt, Coactivation: v.Coactivation,
	}
}

// Records dumps the graph in persisted layout.
func (g *Graph) Records() *Records {
	snap := g.Snapshot()
	r := &Records{}
	for _, n := range snap.Nodes {
		r.Nodes = append(r.Nodes, NodeRecord{
			ID: n.ID, Type: n.Cohort.Type, Scope: n.Cohort.Scope,
			Fields: n.Fields, Embedding: n.Embedding, Learning: n.Learning, CreatedAt: n.CreatedAt,
		})
	}
	for _, e := range snap.Edges {
		r.Edges = append(r.Edges, edgeRecordOf(e))
		g.mu.RLock()
		shards := g.edges[g.edgeIdx[e.ID]].agents
		g.mu.RUnlock()
		for _, agentID := range shards.agentIDs() {
			st, _ := shards.Get(agentID)
			r.Agents = append(r.Agents, AgentRecord{EdgeID: e.ID, AgentID: agentID, State: st})
		}
	}
	return r
}

// FromRecords rebuilds a graph from persisted records. Edges are restored
// in the order given, which the store keeps stable.
func FromRecords(r *Records, opts ...Option) (*Graph, error) {
	g := New(opts...)
	if r == nil {
		return g, nil
	}
	for _, n := range r.Nodes {
		learning := n.Learning
		if _, err := g.AddNode(NodeSpec{
			ID: n.ID, Type: n.Type, Scope: n.Scope, Fields: n.Fields,
			Embedding: n.Embedding, Learning: &learning, CreatedAt: n.CreatedAt,
		}); err != nil {
			return nil, fmt.Errorf("graph: restore node %q: %w", n.ID, err)
		}
	}
	for _, e := range r.Edges {
		learning, strength := e.Learning, e.LinkStrength
		if _, err := g.AddEdge(EdgeSpec{
			ID: e.ID, From: e.From, To: e.To, Type: e.Type, Scope: e.Scope,
			Fields: e.Fields, Embedding: e.Embedding, BaseCost: e.BaseCost,
			LinkStrength: &strength, Learning: &learning, CreatedAt: e.CreatedAt,
		}); err != nil {
			return nil, fmt.Errorf("graph: restore edge %q: %w", e.ID, err)
		}
		g.mu.Lock()
		edge := g.edges[g.edgeIdx[e.ID]]
		edge.StrengthSource = e.StrengthSource
		edge.LastTraversed = e.LastTraversed
		g.mu.Unlock()
	}
	// Co-activation counts reference other edges, so they are restored
	// once every edge exists.
	g.mu.Lock()
	for _, e := range r.Edges {
		edge := g.edges[g.edgeIdx[e.ID]]
		for other, n := range e.Coactivation {
			if oi, ok := g.edgeIdx[other]; ok {
				edge.coactivation[oi] = n
			}
		}
	}
	g.mu.Unlock()
	for _, a := range r.Agents {
		st := a.State
		if _, err := g.UpdateAgentState(a.EdgeID, a.AgentID, func(dst *AgentEdgeState) { *dst = st.clone() }); err != nil {
			return nil, fmt.Errorf("graph: restore agent %q on %q: %w", a.AgentID, a.EdgeID, err)
		}
	}
	return g, nil
}
