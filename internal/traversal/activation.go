package traversal

import (
	"sync"
	"sync/atomic"
)

// Levels is the activation pair read by one scoring call.
type Levels struct {
	Global float64 `json:"global"`
	Agent  float64 `json:"agent"`
}

type activationFrame struct {
	global float64
	agents map[string]float64
}

// Activation holds the system-wide and per-agent activation scalars.
// Writers stage values with Set*; Tick publishes them as one immutable
// frame. Scoring only ever reads the published frame, so values never
// change in the middle of a decision. Every value is clamped to
// [0, ceiling] so the boost/cost feedback loop stays bounded.
type Activation struct {
	ceiling float64

	mu           sync.Mutex
	stagedGlobal float64
	stagedAgents map[string]float64
	published    atomic.Pointer[activationFrame]
}

// NewActivation returns activation state clamped to [0, ceiling].
func NewActivation(ceiling float64) *Activation {
	if ceiling <= 0 {
		ceiling = 1
	}
	a := &Activation{ceiling: ceiling, stagedAgents: make(map[string]float64)}
	a.published.Store(&activationFrame{agents: map[string]float64{}})
	return a
}

// Max returns the clamp ceiling.
func (a *Activation) Max() float64 { return a.ceiling }

// SetGlobal stages the system-wide activation.
func (a *Activation) SetGlobal(v float64) {
	a.mu.Lock()
	a.stagedGlobal = clamp(v, 0, a.ceiling)
	a.mu.Unlock()
}

// SetAgent stages one agent's activation.
func (a *Activation) SetAgent(agentID string, v float64) {
	a.mu.Lock()
	a.stagedAgents[agentID] = clamp(v, 0, a.ceiling)
	a.mu.Unlock()
}

// Staged returns the staged, not yet published, activation of an agent.
func (a *Activation) Staged(agentID string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stagedAgents[agentID]
}

// Tick publishes the staged values.
func (a *Activation) Tick() {
	a.mu.Lock()
	f := &activationFrame{global: a.stagedGlobal, agents: make(map[string]float64, len(a.stagedAgents))}
	for k, v := range a.stagedAgents {
		f.agents[k] = v
	}
	a.mu.Unlock()
	a.published.Store(f)
}

// Levels reads the published frame for one agent.
func (a *Activation) Levels(agentID string) Levels {
	f := a.published.Load()
	return Levels{Global: f.global, Agent: f.agents[agentID]}
}
