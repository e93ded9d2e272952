package graph

import (
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const agentShardCount = 16

// AgentEdgeState is one agent's private view of an edge. The entry exists
// only once the agent has traversed the edge; before that the edge is cold
// for that agent.
type AgentEdgeState struct {
	Affinity      float64   `json:"affinity"`
	Traversals    int       `json:"traversals"`
	Emotion       []float64 `json:"emotion,omitempty"`
	LastTraversed time.Time `json:"last_traversed"`
}

func (s AgentEdgeState) clone() AgentEdgeState {
	if s.Emotion != nil {
		s.Emotion = append([]float64(nil), s.Emotion...)
	}
	return s
}

type agentShard struct {
	mu sync.Mutex
	m  map[string]*AgentEdgeState
}

// AgentShards partitions per-agent edge state by agent id. Each shard has
// its own lock, so updates for different agents rarely share a mutex and
// never share a map entry.
type AgentShards struct {
	shards    [agentShardCount]agentShard
	explorers atomic.Int32
}

func newAgentShards() *AgentShards {
	return &AgentShards{}
}

func (a *AgentShards) shard(agentID string) *agentShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(agentID))
	return &a.shards[h.Sum32()%agentShardCount]
}

// Get returns a copy of the agent's state and whether it exists.
func (a *AgentShards) Get(agentID string) (AgentEdgeState, bool) {
	sh := a.shard(agentID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	st, ok := sh.m[agentID]
	if !ok {
		return AgentEdgeState{}, false
	}
	return st.clone(), true
}

// Update applies fn to the agent's entry, creating it when absent, and
// returns a copy of the result.
func (a *AgentShards) Update(agentID string, fn func(st *AgentEdgeState)) AgentEdgeState {
	sh := a.shard(agentID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.m == nil {
		sh.m = make(map[string]*AgentEdgeState)
	}
	st, ok := sh.m[agentID]
	if !ok {
		st = &AgentEdgeState{}
		sh.m[agentID] = st
		a.explorers.Add(1)
	}
	fn(st)
	return st.clone()
}

// Explorers returns how many agents hold state on this edge.
func (a *AgentShards) Explorers() int {
	return int(a.explorers.Load())
}

// ExploredByOther reports whether any agent other than agentID has state.
func (a *AgentShards) ExploredByOther(agentID string) bool {
	n := a.Explorers()
	if n == 0 {
		return false
	}
	if _, mine := a.Get(agentID); mine {
		return n > 1
	}
	return true
}

// All returns every agent's state keyed by agent id, sorted iteration is
// left to the caller.
func (a *AgentShards) All() map[string]AgentEdgeState {
	out := make(map[string]AgentEdgeState)
	for i := range a.shards {
		sh := &a.shards[i]
		sh.mu.Lock()
		for id, st := range sh.m {
			out[id] = st.clone()
		}
		sh.mu.Unlock()
	}
	return out
}

// agentIDs returns the agent ids in sorted order.
func (a *AgentShards) agentIDs() []string {
	all := a.All()
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
