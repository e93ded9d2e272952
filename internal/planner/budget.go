package planner

import "sync"

// EnergyBudget is one agent's traversal energy. It is never shared across
// agents, so spending never contends with another agent's plan.
type EnergyBudget struct {
	mu        sync.Mutex
	capacity  float64
	remaining float64
	spent     float64
}

// NewEnergyBudget returns a full budget of the given capacity.
func NewEnergyBudget(capacity float64) *EnergyBudget {
	if capacity < 0 {
		capacity = 0
	}
	return &EnergyBudget{capacity: capacity, remaining: capacity}
}

// Remaining returns the energy left.
func (b *EnergyBudget) Remaining() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}

// Spent returns the energy spent since the last refill.
func (b *EnergyBudget) Spent() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spent
}

// Spend deducts cost when it fits and reports whether it did.
func (b *EnergyBudget) Spend(cost float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cost < 0 || cost > b.remaining {
		return false
	}
	b.remaining -= cost
	b.spent += cost
	return true
}

// Refill restores the budget to capacity.
func (b *EnergyBudget) Refill() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remaining = b.capacity
	b.spent = 0
}
