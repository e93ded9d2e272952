package traversal

import (
	"context"
	"errors"
	"math"

	"github.com/HendryAvila/wayfinder/internal/graph"
)

// Observation is what EVALUATE_OUTCOME measures after a traversal.
type Observation struct {
	Relevance        float64 `json:"relevance"`
	ReachabilityGain int     `json:"reachability_gain"`
	ActivationSpike  float64 `json:"activation_spike"`
}

// Evaluator classifies an observation.
type Evaluator interface {
	Evaluate(ctx context.Context, obs Observation) Outcome
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, obs Observation) Outcome

// Evaluate calls f.
func (f EvaluatorFunc) Evaluate(ctx context.Context, obs Observation) Outcome { return f(ctx, obs) }

// ThresholdEvaluator is the default classifier: a relevant target, newly
// reachable relevant nodes or an activation spike make the traversal
// useful; an irrelevant target with none of those makes it unhelpful.
type ThresholdEvaluator struct {
	RelevanceUseful    float64
	RelevanceUnhelpful float64
	SpikeThreshold     float64
}

// NewThresholdEvaluator takes its thresholds from cfg.
func NewThresholdEvaluator(cfg Config) ThresholdEvaluator {
	return ThresholdEvaluator{
		RelevanceUseful:    cfg.RelevanceUseful,
		RelevanceUnhelpful: cfg.RelevanceUnhelpful,
		SpikeThreshold:     cfg.SpikeThreshold,
	}
}

// Evaluate implements Evaluator.
func (e ThresholdEvaluator) Evaluate(_ context.Context, obs Observation) Outcome {
	switch {
	case obs.Relevance > e.RelevanceUseful, obs.ReachabilityGain > 0, obs.ActivationSpike > e.SpikeThreshold:
		return OutcomeUseful
	case obs.Relevance < e.RelevanceUnhelpful:
		return OutcomeUnhelpful
	default:
		return OutcomeNeutral
	}
}

// Executor performs the host-side work of a traversal.
type Executor interface {
	Traverse(ctx context.Context, sel Selection) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, sel Selection) error

// Traverse calls f.
func (f ExecutorFunc) Traverse(ctx context.Context, sel Selection) error { return f(ctx, sel) }

// StepResult is the record of one full decision.
type StepResult struct {
	Selection   Selection       `json:"selection"`
	Observation *Observation    `json:"observation,omitempty"`
	Receipt     *OutcomeReceipt `json:"receipt,omitempty"`
}

// Step runs one full decision: select, execute through exec (may be nil),
// observe, classify with eval, and learn. Terminal selections return
// without an outcome. A failing executor abandons the traversal without
// learning from it.
func (s *Selector) Step(ctx context.Context, req SelectRequest, exec Executor, eval Evaluator) (StepResult, error) {
	req.DryRun = false
	sel, err := s.SelectNext(ctx, req)
	if err != nil || sel.Terminal() {
		return StepResult{Selection: sel}, err
	}
	if exec != nil {
		if err := exec.Traverse(ctx, sel); err != nil {
			s.Abandon(req.AgentID)
			return StepResult{Selection: sel}, infra("execute", err)
		}
	}
	if eval == nil {
		eval = NewThresholdEvaluator(s.cfg)
	}
	var demand Demand
	for _, d := range req.Demands {
		if d.ID == sel.DemandID {
			demand = d
			break
		}
	}
	obs, err := s.Observe(req.AgentID, req.CurrentNodeID, sel, demand)
	if err != nil {
		s.Abandon(req.AgentID)
		return StepResult{Selection: sel}, err
	}
	outcome := eval.Evaluate(ctx, obs)
	rcpt, err := s.ReportOutcome(ctx, req.AgentID, sel.EdgeID, outcome)
	res := StepResult{Selection: sel, Observation: &obs}
	if err != nil && !IsInfra(err) {
		return res, err
	}
	res.Receipt = &rcpt
	return res, err
}

// Observe measures a traversal from fromNodeID: relevance of the target
// to the demand, how many demand-relevant nodes became newly reachable,
// and how far the agent's staged activation rose since selection.
func (s *Selector) Observe(agentID, fromNodeID string, sel Selection, d Demand) (Observation, error) {
	target, err := s.g.Node(sel.TargetNodeID)
	if errors.Is(err, graph.ErrNotFound) {
		return Observation{}, ErrUnknownNode
	}
	if err != nil {
		return Observation{}, infra("observe", err)
	}
	obs := Observation{
		Relevance:       math.Max(0, graph.Cosine(target.Embedding, d.Embedding)),
		ActivationSpike: s.act.Staged(agentID) - sel.Levels.Agent,
	}

	before := map[string]bool{fromNodeID: true}
	for _, id := range s.g.Successors(fromNodeID) {
		before[id] = true
	}
	for _, id := range s.g.Successors(target.ID) {
		if before[id] {
			continue
		}
		n, err := s.g.Node(id)
		if err != nil {
			continue
		}
		if graph.Cosine(n.Embedding, d.Embedding) > s.cfg.RelevanceUseful {
			obs.ReachabilityGain++
		}
	}
	return obs, nil
}
