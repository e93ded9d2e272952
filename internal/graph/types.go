// Package graph holds the shared weighted graph that agents traverse.
//
// Nodes and edges live in arenas addressed by integer indices, so the
// cyclic structure never holds pointers between records. Shared scalars
// (learning state, link strength, co-activation counts) are guarded by the
// graph lock; per-agent edge state lives in sharded maps so distinct agents
// never contend on the same entry.
package graph

import (
	"errors"
	"time"
)

// ─── Errors ──────────────────────────────────────────────────────────────────

var (
	// ErrNotFound is returned when a node or edge id is unknown.
	ErrNotFound = errors.New("graph: not found")
	// ErrDuplicate is returned when an id is already taken by a node or edge.
	ErrDuplicate = errors.New("graph: duplicate id")
	// ErrMismatch is returned when a re-formation disagrees with the entity
	// it names on kind, cohort or endpoints.
	ErrMismatch = errors.New("graph: re-formation does not match existing entity")
)

// ─── Identity ────────────────────────────────────────────────────────────────

// NodeIndex addresses a node in the node arena.
type NodeIndex int32

// EdgeIndex addresses an edge in the edge arena.
type EdgeIndex int32

// Kind distinguishes the two learnable record kinds. Nodes and edges are
// normalized in separate cohorts.
type Kind string

const (
	KindNode Kind = "node"
	KindEdge Kind = "edge"
)

// CohortKey groups records for rank-based normalization.
type CohortKey struct {
	Type  string `json:"type"`
	Scope string `json:"scope"`
}

// String renders the key as "type/scope".
func (k CohortKey) String() string {
	return k.Type + "/" + k.Scope
}

// DefaultScope is applied when a spec omits its scope.
const DefaultScope = "personal"

// ─── Learning state ──────────────────────────────────────────────────────────

// LearningState is the per-record state owned by the weight learner.
// SignalSeen and QualitySeen mark whether the corresponding EMA has been
// initialized; an unseen EMA bootstraps to its first observation.
type LearningState struct {
	LogWeight   float64   `json:"log_weight"`
	EMASignal   float64   `json:"ema_signal"`
	EMAQuality  float64   `json:"ema_quality"`
	SignalSeen  bool      `json:"signal_seen"`
	QualitySeen bool      `json:"quality_seen"`
	LastUpdate  time.Time `json:"last_update_time"`
}

// StrengthSource tags the pathway that last moved an edge's link strength.
type StrengthSource string

const (
	SourceNone             StrengthSource = ""
	SourceHebbian          StrengthSource = "hebbian"
	SourceValidated        StrengthSource = "validated"
	SourceConsciousConfirm StrengthSource = "conscious-confirm"
	SourceDecayed          StrengthSource = "decayed"
)

// ─── Records ─────────────────────────────────────────────────────────────────

// Node is a unit of knowledge or capability.
type Node struct {
	Index     NodeIndex
	ID        string
	Cohort    CohortKey
	Fields    map[string]string
	Embedding []float64
	Learning  LearningState
	CreatedAt time.Time
}

// Edge is a directed, typed connection between two nodes.
type Edge struct {
	Index          EdgeIndex
	ID             string
	From           NodeIndex
	To             NodeIndex
	Cohort         CohortKey
	Fields         map[string]string
	Embedding      []float64
	BaseCost       float64
	Learning       LearningState
	LinkStrength   float64
	StrengthSource StrengthSource
	LastTraversed  time.Time
	CreatedAt      time.Time

	coactivation map[EdgeIndex]int
	agents       *AgentShards
}

// NodeSpec describes a node to add. Learning is optional; when nil the
// node starts cold with zero weight and unseen EMAs.
type NodeSpec struct {
	ID        string
	Type      string
	Scope     string
	Fields    map[string]string
	Embedding []float64
	Learning  *LearningState
	CreatedAt time.Time
}

// EdgeSpec describes an edge to add. A zero BaseCost defaults to 1 and a
// nil LinkStrength uses the graph's initial strength.
type EdgeSpec struct {
	ID           string
	From         string
	To           string
	Type         string
	Scope        string
	Fields       map[string]string
	Embedding    []float64
	BaseCost     float64
	LinkStrength *float64
	Learning     *LearningState
	CreatedAt    time.Time
}
