// Package planner runs multi-hop traversal plans against a per-agent energy
// budget. A plan stops at the first terminal status, when the budget can no
// longer cover a hop, or when its context is cancelled; hops already taken
// keep everything they learned.
package planner

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/HendryAvila/wayfinder/internal/traversal"
)

// DefaultMaxHops bounds a plan that never reaches a terminal status.
const DefaultMaxHops = 16

// DefaultCapacity is the energy each agent starts with.
const DefaultCapacity = 10.0

// StopReason tells why a plan ended.
type StopReason string

const (
	StopSatisfied StopReason = "SATISFIED"
	StopExhausted StopReason = "EXHAUSTED"
	StopMaxHops   StopReason = "MAX_HOPS"
	StopCancelled StopReason = "CANCELLED"
)

// PlanRequest describes a plan. MaxHops ≤ 0 uses DefaultMaxHops.
type PlanRequest struct {
	AgentID     string             `json:"agent_id"`
	StartNodeID string             `json:"start_node_id"`
	Demands     []traversal.Demand `json:"demands"`
	Emotion     []float64          `json:"emotion,omitempty"`
	MaxHops     int                `json:"max_hops,omitempty"`

	// Executor performs host-side work for each hop. Nil skips it.
	Executor traversal.Executor `json:"-"`
}

// Hop is one executed or previewed step.
type Hop struct {
	Selection traversal.Selection       `json:"selection"`
	Outcome   *traversal.Outcome        `json:"outcome,omitempty"`
	Receipt   *traversal.OutcomeReceipt `json:"receipt,omitempty"`
}

// PlanResult is the record of a plan.
type PlanResult struct {
	AgentID     string             `json:"agent_id"`
	Hops        []Hop              `json:"hops"`
	Stop        StopReason         `json:"stop"`
	FinalNodeID string             `json:"final_node_id"`
	Spent       float64            `json:"spent"`
	Remaining   float64            `json:"remaining"`
	Demands     []traversal.Demand `json:"demands"`
}

// Planner owns the per-agent budgets and drives the selector.
type Planner struct {
	sel      *traversal.Selector
	eval     traversal.Evaluator
	capacity float64
	logger   *zap.Logger

	mu      sync.Mutex
	budgets map[string]*EnergyBudget
}

// New returns a planner. A nil evaluator uses the selector's thresholds.
func New(sel *traversal.Selector, eval traversal.Evaluator, capacity float64, logger *zap.Logger) *Planner {
	if eval == nil {
		eval = traversal.NewThresholdEvaluator(sel.Config())
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{sel: sel, eval: eval, capacity: capacity, logger: logger.Named("planner"), budgets: make(map[string]*EnergyBudget)}
}

// Budget returns the agent's budget, creating a full one on first use.
func (p *Planner) Budget(agentID string) *EnergyBudget {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.budgets[agentID]
	if !ok {
		b = NewEnergyBudget(p.capacity)
		p.budgets[agentID] = b
	}
	return b
}

// Execute runs hops until a stop condition.
func (p *Planner) Execute(ctx context.Context, req PlanRequest) (*PlanResult, error) {
	budget := p.Budget(req.AgentID)
	res := &PlanResult{
		AgentID:     req.AgentID,
		FinalNodeID: req.StartNodeID,
		Demands:     append([]traversal.Demand(nil), req.Demands...),
	}
	maxHops := req.MaxHops
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	defer func() {
		res.Remaining = budget.Remaining()
	}()

	for {
		if ctx.Err() != nil {
			res.Stop = StopCancelled
			return res, nil
		}
		if len(res.Hops) >= maxHops {
			res.Stop = StopMaxHops
			return res, nil
		}
		remaining := budget.Remaining()
		step, err := p.sel.Step(ctx, traversal.SelectRequest{
			AgentID:       req.AgentID,
			CurrentNodeID: res.FinalNodeID,
			Demands:       res.Demands,
			Emotion:       req.Emotion,
			Budget:        &remaining,
		}, req.Executor, p.eval)
		// A selection without an observation was abandoned.
		if step.Selection.Status == traversal.StatusSelected && step.Observation != nil {
			if !budget.Spend(step.Selection.Cost) {
				// Another caller drained the agent's budget between
				// selection and spend; the hop still happened.
				p.logger.Warn("hop exceeded remaining budget", zap.String("agent", req.AgentID), zap.Float64("cost", step.Selection.Cost))
			}
			res.Spent += step.Selection.Cost
			res.FinalNodeID = step.Selection.TargetNodeID
			hop := Hop{Selection: step.Selection, Receipt: step.Receipt}
			if step.Receipt != nil {
				o := step.Receipt.Outcome
				hop.Outcome = &o
				res.applyReceipt(*step.Receipt)
			}
			res.Hops = append(res.Hops, hop)
		}
		if err != nil {
			if traversal.IsInfra(err) && ctx.Err() != nil {
				res.Stop = StopCancelled
				return res, nil
			}
			return res, err
		}
		switch step.Selection.Status {
		case traversal.StatusSatisfied:
			res.Stop = StopSatisfied
			return res, nil
		case traversal.StatusExhausted:
			res.Stop = StopExhausted
			return res, nil
		}
	}
}

func (r *PlanResult) applyReceipt(rc traversal.OutcomeReceipt) {
	for i := range r.Demands {
		if r.Demands[i].ID == rc.DemandID {
			r.Demands[i].Completeness = rc.Completeness
		}
	}
}

// Preview walks the same decision loop with dry-run selections. Nothing is
// executed, learned or spent; the budget is simulated from the agent's
// current remaining energy.
func (p *Planner) Preview(ctx context.Context, req PlanRequest) (*PlanResult, error) {
	remaining := p.Budget(req.AgentID).Remaining()
	res := &PlanResult{
		AgentID:     req.AgentID,
		FinalNodeID: req.StartNodeID,
		Demands:     append([]traversal.Demand(nil), req.Demands...),
	}
	maxHops := req.MaxHops
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	for {
		if ctx.Err() != nil {
			res.Stop = StopCancelled
			break
		}
		if len(res.Hops) >= maxHops {
			res.Stop = StopMaxHops
			break
		}
		budget := remaining
		sel, err := p.sel.SelectNext(ctx, traversal.SelectRequest{
			AgentID:       req.AgentID,
			CurrentNodeID: res.FinalNodeID,
			Demands:       res.Demands,
			Emotion:       req.Emotion,
			Budget:        &budget,
			DryRun:        true,
		})
		if err != nil {
			return res, err
		}
		if sel.Status == traversal.StatusSatisfied {
			res.Stop = StopSatisfied
			break
		}
		if sel.Status == traversal.StatusExhausted {
			res.Stop = StopExhausted
			break
		}
		remaining -= sel.Cost
		res.Spent += sel.Cost
		res.FinalNodeID = sel.TargetNodeID
		res.Hops = append(res.Hops, Hop{Selection: sel})
	}
	res.Remaining = remaining
	return res, nil
}
