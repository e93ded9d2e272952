// Package traversal selects which edge an agent traverses next and learns
// the agent's per-edge affinity from the outcome.
//
// One decision moves through SCORE_CANDIDATES, SELECT, EXECUTE,
// EVALUATE_OUTCOME and LEARN. SelectNext covers the first three and leaves
// the traversal pending; ReportOutcome covers the last two. Step runs all
// five with an Executor and an Evaluator. EXHAUSTED and SATISFIED are
// statuses on the Selection, never errors.
package traversal

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HendryAvila/wayfinder/internal/graph"
	"github.com/HendryAvila/wayfinder/internal/linkstrength"
	"github.com/HendryAvila/wayfinder/internal/metrics"
)

// Status is the result kind of a selection.
type Status string

const (
	StatusSelected  Status = "SELECTED"
	StatusExhausted Status = "EXHAUSTED"
	StatusSatisfied Status = "SATISFIED"
)

// Reason tells how a selected edge was chosen.
type Reason string

const (
	ReasonScored      Reason = "scored"
	ReasonColdExplore Reason = "cold_explore"
)

// Standardizer converts a raw log-weight into its cohort-relative z value.
type Standardizer interface {
	Standardize(kind graph.Kind, cohort graph.CohortKey, logWeight float64) float64
}

// TraversalRecorder is told about every executed traversal, after the edge
// is stamped and the agent's entry written, so co-activation can be tracked
// and the touched state saved. Abandoned traversals were still executed.
type TraversalRecorder interface {
	OnTraversal(agentID, edgeID string, t time.Time) (linkstrength.Coactivation, error)
}

// OutcomeEvent is handed to the OutcomeSink during LEARN. At is the
// time the outcome was reported and is when the edge's weight learns.
type OutcomeEvent struct {
	TraversalID  string
	AgentID      string
	EdgeID       string
	FromNodeID   string
	TargetNodeID string
	Outcome      Outcome
	At           time.Time
}

// OutcomeSink feeds traversal outcomes into shared weight learning.
type OutcomeSink interface {
	RecordOutcome(ctx context.Context, ev OutcomeEvent) error
}

// SelectRequest asks for the next edge out of CurrentNodeID. A nil Budget
// means every candidate is affordable. DryRun scores and selects without
// executing or reserving the agent.
type SelectRequest struct {
	AgentID       string    `json:"agent_id"`
	CurrentNodeID string    `json:"current_node_id"`
	Demands       []Demand  `json:"demands"`
	Emotion       []float64 `json:"emotion,omitempty"`
	Budget        *float64  `json:"budget,omitempty"`
	DryRun        bool      `json:"dry_run,omitempty"`
}

// Selection is the result of SelectNext.
type Selection struct {
	Status       Status     `json:"status"`
	TraversalID  string     `json:"traversal_id,omitempty"`
	EdgeID       string     `json:"edge_id,omitempty"`
	TargetNodeID string     `json:"target_node_id,omitempty"`
	Score        float64    `json:"score"`
	Reason       Reason     `json:"selection_reason,omitempty"`
	DemandID     string     `json:"demand_id,omitempty"`
	Cost         float64    `json:"cost"`
	Candidates   int        `json:"candidates"`
	Levels       Levels     `json:"activation"`
	Breakdown    *Breakdown `json:"breakdown,omitempty"`
}

// Terminal reports whether the selection ended the decision loop.
func (s Selection) Terminal() bool {
	return s.Status == StatusExhausted || s.Status == StatusSatisfied
}

// OutcomeReceipt is returned by ReportOutcome.
type OutcomeReceipt struct {
	AgentID      string  `json:"agent_id"`
	EdgeID       string  `json:"edge_id"`
	Outcome      Outcome `json:"outcome"`
	Affinity     float64 `json:"affinity"`
	DemandID     string  `json:"demand_id,omitempty"`
	Completeness float64 `json:"completeness"`
	Satisfied    bool    `json:"satisfied"`
}

type pendingTraversal struct {
	reserved bool
	sel      Selection
	from     string
	demand   Demand
	at       time.Time
}

// Selector runs traversal decisions over a shared graph.
type Selector struct {
	g      *graph.Graph
	cfg    Config
	act    *Activation
	std    Standardizer
	links  TraversalRecorder
	sink   OutcomeSink
	logger *zap.Logger
	now    func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand

	mu      sync.Mutex
	pending map[string]*pendingTraversal
}

// Option configures a Selector.
type Option func(*Selector)

// WithRand injects the random source used for cold-start exploration.
func WithRand(r *rand.Rand) Option { return func(s *Selector) { s.rng = r } }

// WithClock injects the time source.
func WithClock(now func() time.Time) Option { return func(s *Selector) { s.now = now } }

// WithStandardizer sets the log-weight standardizer used by weight_factor.
func WithStandardizer(std Standardizer) Option { return func(s *Selector) { s.std = std } }

// WithRecorder sets the co-activation recorder.
func WithRecorder(r TraversalRecorder) Option { return func(s *Selector) { s.links = r } }

// WithSink sets the outcome sink.
func WithSink(sink OutcomeSink) Option { return func(s *Selector) { s.sink = sink } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Selector) { s.logger = l } }

// NewSelector builds a selector over g.
func NewSelector(g *graph.Graph, act *Activation, cfg Config, opts ...Option) *Selector {
	s := &Selector{
		g:       g,
		cfg:     cfg,
		act:     act,
		logger:  zap.NewNop(),
		now:     time.Now,
		pending: make(map[string]*pendingTraversal),
	}
	for _, o := range opts {
		o(s)
	}
	if s.act == nil {
		s.act = NewActivation(cfg.MaxActivation)
	}
	if s.rng == nil {
		seed := cfg.Seed
		if seed == 0 {
			seed = uint64(time.Now().UnixNano())
		}
		s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
	s.logger = s.logger.Named("traversal")
	return s
}

// Activation returns the activation state the selector reads.
func (s *Selector) Activation() *Activation { return s.act }

// Config returns the selector configuration.
func (s *Selector) Config() Config { return s.cfg }

type candidate struct {
	edge   graph.EdgeView
	target graph.NodeView
	state  graph.AgentEdgeState
	cold   bool
	others int
	cost   float64
}

// SelectNext scores the outgoing edges of the agent's current node,
// selects one, and executes it. The agent may not select again until the
// outcome has been reported.
func (s *Selector) SelectNext(ctx context.Context, req SelectRequest) (Selection, error) {
	req.AgentID = strings.TrimSpace(req.AgentID)
	if req.AgentID == "" {
		return Selection{}, ErrUnknownAgent
	}
	if len(req.Demands) == 0 {
		return Selection{}, ErrNoDemand
	}
	if !req.DryRun {
		if err := s.reserve(req.AgentID); err != nil {
			return Selection{}, err
		}
	}
	sel, p, err := s.scoreAndSelect(ctx, req)
	if req.DryRun {
		return sel, err
	}
	if err != nil || sel.Status != StatusSelected {
		s.release(req.AgentID)
		return sel, err
	}
	if err := s.execute(req, sel); err != nil {
		s.release(req.AgentID)
		return Selection{}, err
	}
	s.mu.Lock()
	s.pending[req.AgentID] = p
	s.mu.Unlock()
	return sel, nil
}

func (s *Selector) reserve(agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pending[agentID]; ok {
		if p.reserved {
			return fmt.Errorf("%w: agent %q is mid-selection", ErrOutcomePending, agentID)
		}
		return fmt.Errorf("%w: agent %q must report edge %q", ErrOutcomePending, agentID, p.sel.EdgeID)
	}
	s.pending[agentID] = &pendingTraversal{reserved: true}
	return nil
}

func (s *Selector) release(agentID string) {
	s.mu.Lock()
	delete(s.pending, agentID)
	s.mu.Unlock()
}

// Abandon drops an agent's pending traversal without learning from it.
// It reports whether anything was pending.
func (s *Selector) Abandon(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[agentID]
	if !ok || p.reserved {
		return false
	}
	delete(s.pending, agentID)
	return true
}

// Pending returns the edge an agent still has to report on.
func (s *Selector) Pending(agentID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[agentID]
	if !ok || p.reserved {
		return "", false
	}
	return p.sel.EdgeID, true
}

// scoreAndSelect runs SCORE_CANDIDATES and SELECT. The agent's reservation
// is held by the caller.
func (s *Selector) scoreAndSelect(ctx context.Context, req SelectRequest) (Selection, *pendingTraversal, error) {
	var active []Demand
	for _, d := range req.Demands {
		if d.Completeness < s.cfg.SatisfiedThreshold {
			active = append(active, d)
		}
	}
	if len(active) == 0 {
		metrics.Terminals.WithLabelValues(string(StatusSatisfied)).Inc()
		return Selection{Status: StatusSatisfied}, nil, nil
	}

	nb, err := s.g.Neighborhood(req.CurrentNodeID)
	if errors.Is(err, graph.ErrNotFound) {
		return Selection{}, nil, fmt.Errorf("%w: %q", ErrUnknownNode, req.CurrentNodeID)
	}
	if err != nil {
		return Selection{}, nil, infra("neighborhood", err)
	}
	if err := ctx.Err(); err != nil {
		return Selection{}, nil, infra("score", err)
	}

	levels := s.act.Levels(req.AgentID)
	cands := s.candidates(req, nb, levels)
	if len(cands) == 0 {
		metrics.Terminals.WithLabelValues(string(StatusExhausted)).Inc()
		return Selection{Status: StatusExhausted, Levels: levels}, nil, nil
	}

	var known, cold []candidate
	for _, c := range cands {
		if c.cold {
			cold = append(cold, c)
		} else {
			known = append(known, c)
		}
	}
	focus := focusDemand(active)

	var sel Selection
	var demand Demand
	if len(cold) > 0 && (len(known) == 0 || s.randFloat() < s.cfg.Epsilon) {
		c, weight := s.sampleCold(cold, focus)
		sel = Selection{EdgeID: c.edge.ID, TargetNodeID: c.target.ID, Score: weight, Reason: ReasonColdExplore, Cost: c.cost}
		demand = focus
	} else {
		c, d, b := s.bestKnown(known, active, req.Emotion, levels)
		sel = Selection{EdgeID: c.edge.ID, TargetNodeID: c.target.ID, Score: b.Satisfaction, Reason: ReasonScored, Cost: c.cost, Breakdown: &b}
		demand = d
	}
	sel.Status = StatusSelected
	sel.DemandID = demand.ID
	sel.Candidates = len(cands)
	sel.Levels = levels
	if !req.DryRun {
		sel.TraversalID = uuid.NewString()
		metrics.Selections.WithLabelValues(string(sel.Reason)).Inc()
	}
	s.logger.Debug("edge selected",
		zap.String("agent", req.AgentID),
		zap.String("edge", sel.EdgeID),
		zap.String("reason", string(sel.Reason)),
		zap.Float64("score", sel.Score),
		zap.Int("candidates", sel.Candidates),
		zap.Bool("dry_run", req.DryRun),
	)
	p := &pendingTraversal{sel: sel, from: req.CurrentNodeID, demand: demand, at: s.now()}
	return sel, p, nil
}

// candidates gathers the affordable outgoing edges.
func (s *Selector) candidates(req SelectRequest, nb graph.Neighborhood, levels Levels) []candidate {
	var out []candidate
	for i, e := range nb.Edges {
		st, ok := e.Agents[req.AgentID]
		others := len(e.Agents)
		if ok {
			others--
		}
		zW := e.Learning.LogWeight
		if s.std != nil {
			zW = s.std.Standardize(graph.KindEdge, e.Cohort, e.Learning.LogWeight)
		}
		cost := s.cfg.ActivationCost(e.BaseCost, others, zW, levels)
		if req.Budget != nil && cost > *req.Budget {
			continue
		}
		out = append(out, candidate{edge: e, target: nb.Targets[i], state: st, cold: !ok, others: others, cost: cost})
	}
	return out
}

// focusDemand is the active demand with the highest priority-weighted
// urgency, earliest first on ties.
func focusDemand(active []Demand) Demand {
	best := active[0]
	bestV := best.Priority * best.Urgency()
	for _, d := range active[1:] {
		if v := d.Priority * d.Urgency(); v > bestV {
			best, bestV = d, v
		}
	}
	return best
}

// bestKnown picks the (edge, demand) pair maximizing priority·satisfaction.
// Ties keep the earliest demand, then the earliest edge.
func (s *Selector) bestKnown(known []candidate, active []Demand, emotion []float64, levels Levels) (candidate, Demand, Breakdown) {
	var (
		bestC candidate
		bestD Demand
		bestB Breakdown
		bestV float64
		found bool
	)
	for _, d := range active {
		for _, c := range known {
			b := s.cfg.Score(d,
				emotionSimilarity(c.state, emotion),
				goalSimilarity(c.target, c.edge, d),
				c.state.Affinity,
				c.edge.LinkStrength,
				c.cost,
				levels,
			)
			v := d.Priority * b.Satisfaction
			if !found || v > bestV {
				bestC, bestD, bestB, bestV, found = c, d, b, v, true
			}
		}
	}
	return bestC, bestD, bestB
}

// sampleCold draws one cold candidate with probability proportional to its
// cold weight, or uniformly when every weight is zero.
func (s *Selector) sampleCold(cold []candidate, d Demand) (candidate, float64) {
	weights := make([]float64, len(cold))
	var total float64
	for i, c := range cold {
		weights[i] = ColdWeight(goalSimilarity(c.target, c.edge, d), c.others > 0)
		total += weights[i]
	}
	if total <= 0 {
		i := s.intN(len(cold))
		return cold[i], 0
	}
	r := s.randFloat() * total
	for i, w := range weights {
		if r < w {
			return cold[i], w
		}
		r -= w
	}
	last := len(cold) - 1
	return cold[last], weights[last]
}

func (s *Selector) randFloat() float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64()
}

func (s *Selector) intN(n int) int {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.IntN(n)
}

// execute runs EXECUTE: the traversal is stamped on the edge, the agent's
// entry is created or refreshed, and co-activation is recorded.
func (s *Selector) execute(req SelectRequest, sel Selection) error {
	now := s.now()
	if err := s.g.MarkTraversed(sel.EdgeID, now); err != nil {
		return infra("execute", err)
	}
	if _, err := s.g.UpdateAgentState(sel.EdgeID, req.AgentID, func(st *graph.AgentEdgeState) {
		st.Traversals++
		st.LastTraversed = now
		st.Emotion = blendEmotion(st.Emotion, req.Emotion, s.cfg.EmotionRate)
	}); err != nil {
		return infra("execute", err)
	}
	if s.links != nil {
		if _, err := s.links.OnTraversal(req.AgentID, sel.EdgeID, now); err != nil {
			s.logger.Warn("co-activation not recorded", zap.String("edge", sel.EdgeID), zap.Error(err))
		}
	}
	return nil
}

// ReportOutcome runs EVALUATE_OUTCOME and LEARN for the agent's pending
// traversal. The affinity update lands before the agent is released, so
// the next selection by the same agent always sees it.
func (s *Selector) ReportOutcome(ctx context.Context, agentID, edgeID string, outcome Outcome) (OutcomeReceipt, error) {
	if !outcome.Valid() {
		return OutcomeReceipt{}, fmt.Errorf("traversal: invalid outcome %d", int(outcome))
	}
	s.mu.Lock()
	p, ok := s.pending[agentID]
	if !ok || p.reserved || p.sel.EdgeID != edgeID {
		s.mu.Unlock()
		return OutcomeReceipt{}, fmt.Errorf("%w: agent %q edge %q", ErrNoPendingTraversal, agentID, edgeID)
	}
	// Hold the agent while learning so a concurrent SelectNext cannot
	// score this edge before its affinity moves.
	s.pending[agentID] = &pendingTraversal{reserved: true}
	s.mu.Unlock()

	st, err := s.g.UpdateAgentState(edgeID, agentID, func(st *graph.AgentEdgeState) {
		st.Affinity = applyAffinity(st.Affinity, outcome)
	})
	if err != nil {
		s.mu.Lock()
		s.pending[agentID] = p
		s.mu.Unlock()
		return OutcomeReceipt{}, infra("learn", err)
	}
	s.release(agentID)
	metrics.Outcomes.WithLabelValues(outcome.String()).Inc()

	rcpt := OutcomeReceipt{
		AgentID:      agentID,
		EdgeID:       edgeID,
		Outcome:      outcome,
		Affinity:     st.Affinity,
		DemandID:     p.demand.ID,
		Completeness: p.demand.Completeness,
	}
	if outcome == OutcomeUseful {
		rcpt.Completeness = Advance(p.demand.Completeness, s.cfg.CompletenessGain)
	}
	rcpt.Satisfied = rcpt.Completeness >= s.cfg.SatisfiedThreshold

	if s.sink != nil {
		ev := OutcomeEvent{
			TraversalID:  p.sel.TraversalID,
			AgentID:      agentID,
			EdgeID:       edgeID,
			FromNodeID:   p.from,
			TargetNodeID: p.sel.TargetNodeID,
			Outcome:      outcome,
			At:           s.now(),
		}
		if err := s.sink.RecordOutcome(ctx, ev); err != nil {
			return rcpt, infra("learn", err)
		}
	}
	s.logger.Debug("outcome",
		zap.String("agent", agentID),
		zap.String("edge", edgeID),
		zap.Stringer("outcome", outcome),
		zap.Float64("affinity", st.Affinity),
	)
	return rcpt, nil
}
