// Package engine is the single writer for shared learned state.
//
// Ingested signal records and traversal outcomes are apportioned and
// scored on the caller's goroutine, then queued. Learner batches are
// applied to the graph and persisted by one writer at a time, either on
// the Run loop's flush interval or on demand through Flush.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HendryAvila/wayfinder/internal/apportion"
	"github.com/HendryAvila/wayfinder/internal/graph"
	"github.com/HendryAvila/wayfinder/internal/learner"
	"github.com/HendryAvila/wayfinder/internal/linkstrength"
	"github.com/HendryAvila/wayfinder/internal/metrics"
	"github.com/HendryAvila/wayfinder/internal/quality"
	"github.com/HendryAvila/wayfinder/internal/traversal"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("engine: closed")

// Config holds the writer's cadence.
type Config struct {
	FlushInterval    time.Duration
	MaxBatch         int
	QueueSize        int
	BaselineInterval time.Duration
	DecayInterval    time.Duration
}

// DefaultConfig returns the built-in cadence.
func DefaultConfig() Config {
	return Config{
		FlushInterval:    time.Second,
		MaxBatch:         256,
		QueueSize:        1024,
		BaselineInterval: 5 * time.Minute,
		DecayInterval:    24 * time.Hour,
	}
}

// job is one queued learner input: every target from a single event.
type job struct {
	eventID string
	targets []kindTarget
}

type kindTarget struct {
	kind graph.Kind
	at   time.Time
	learner.Target
}

type agentKey struct{ edge, agent string }

// Engine wires apportionment, quality scoring, the learner, link strength
// and persistence around one graph.
type Engine struct {
	cfg     Config
	g       *graph.Graph
	store   graph.Store
	appt    *apportion.Apportioner
	scorer  *quality.Scorer
	learner *learner.Learner
	links   *linkstrength.Manager
	logger  *zap.Logger
	now     func() time.Time

	jobs   chan job
	kick   chan struct{}
	queued atomic.Int64 // targets waiting in jobs

	// wmu serializes writers: Flush, decay and baseline refresh.
	wmu sync.Mutex

	mu          sync.Mutex
	closed      bool
	seen        map[string]bool
	dirtyNodes  map[string]bool
	dirtyEdges  map[string]bool
	dirtyAgents map[agentKey]bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine's clock.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithStore sets the persistence backend. The default discards writes.
func WithStore(s graph.Store) Option { return func(e *Engine) { e.store = s } }

// WithLogger sets the engine's logger.
func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.logger = l } }

// New builds an engine. Zero fields of cfg fall back to DefaultConfig.
func New(cfg Config, g *graph.Graph, appt *apportion.Apportioner, scorer *quality.Scorer, l *learner.Learner, links *linkstrength.Manager, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = def.MaxBatch
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.BaselineInterval <= 0 {
		cfg.BaselineInterval = def.BaselineInterval
	}
	if cfg.DecayInterval <= 0 {
		cfg.DecayInterval = def.DecayInterval
	}
	e := &Engine{
		cfg:         cfg,
		g:           g,
		store:       graph.NopStore{},
		appt:        appt,
		scorer:      scorer,
		learner:     l,
		links:       links,
		logger:      zap.NewNop(),
		now:         g.Now,
		jobs:        make(chan job, cfg.QueueSize),
		kick:        make(chan struct{}, 1),
		seen:        make(map[string]bool),
		dirtyNodes:  make(map[string]bool),
		dirtyEdges:  make(map[string]bool),
		dirtyAgents: make(map[agentKey]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("engine")
	return e
}

// Graph returns the graph the engine writes to.
func (e *Engine) Graph() *graph.Graph { return e.g }

// Learner returns the engine's learner.
func (e *Engine) Learner() *learner.Learner { return e.learner }

// ─── Ingest ──────────────────────────────────────────────────────────────────

// Ingest validates a signal record, apportions its marks, creates and
// scores its formations, and queues one learner batch. A conservation
// failure aborts the record before anything is created.
func (e *Engine) Ingest(ctx context.Context, rec SignalRecord) (*IngestReceipt, error) {
	if e.isClosed() {
		return nil, ErrClosed
	}
	if rec.EventID == "" {
		rec.EventID = uuid.NewString()
	}
	if !e.claim(rec.EventID) {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateEvent, rec.EventID)
	}
	receipt, err := e.ingest(ctx, rec)
	if err != nil && (receipt == nil || len(receipt.Formed) == 0) {
		// Nothing was created, so the event may be retried.
		e.unclaim(rec.EventID)
	}
	return receipt, err
}

func (e *Engine) claim(eventID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.seen[eventID] {
		return false
	}
	e.seen[eventID] = true
	return true
}

func (e *Engine) unclaim(eventID string) {
	e.mu.Lock()
	delete(e.seen, eventID)
	e.mu.Unlock()
}

func (e *Engine) ingest(ctx context.Context, rec SignalRecord) (*IngestReceipt, error) {
	if err := rec.validate(e.g); err != nil {
		return nil, err
	}

	alloc, err := e.appt.Apportion(rec.Marks)
	if err != nil {
		if errors.Is(err, apportion.ErrConservation) {
			metrics.ApportionAborts.Inc()
			e.logger.Error("apportionment aborted", zap.String("event", rec.EventID), zap.Error(err))
		}
		return nil, fmt.Errorf("engine: event %q: %w", rec.EventID, err)
	}

	receipt := &IngestReceipt{EventID: rec.EventID, Allocation: alloc}
	formed, err := e.form(ctx, rec)
	receipt.Formed = formed
	if err != nil {
		return receipt, err
	}

	at := rec.At
	if at.IsZero() {
		at = e.now()
	}
	targets := e.targets(alloc, formed, at)
	receipt.Queued = len(targets)
	if len(targets) > 0 {
		if err := e.enqueue(ctx, job{eventID: rec.EventID, targets: targets}); err != nil {
			return receipt, err
		}
	}
	e.logger.Debug("ingested",
		zap.String("event", rec.EventID),
		zap.Int("marks", alloc.Len()),
		zap.Int("formed", len(formed)),
		zap.Int("queued", len(targets)),
	)
	return receipt, nil
}

// form creates the record's nodes then its links, scoring each one. A
// formation naming an existing entity re-forms it: its description is
// refreshed and the new score feeds its quality EMA.
func (e *Engine) form(ctx context.Context, rec SignalRecord) ([]FormationReceipt, error) {
	var out []FormationReceipt
	for _, f := range rec.Formations {
		id := f.NodeID
		if id == "" {
			id = uuid.NewString()
		}
		spec := graph.NodeSpec{ID: id, Type: f.NodeType, Scope: f.Scope, Fields: f.Fields, Embedding: f.Embedding}
		_, reformed := e.g.Resolve(id)
		var err error
		if reformed {
			_, err = e.g.ReformNode(spec)
		} else {
			_, err = e.g.AddNode(spec)
		}
		if err != nil {
			return out, fmt.Errorf("engine: form node %q: %w", id, err)
		}
		e.markNode(id)
		score := e.scorer.Score(ctx, quality.Formation{
			ID: id, Type: f.NodeType, Scope: f.Scope, Fields: f.Fields,
			Embedding: f.Embedding, EvidenceRefs: f.EvidenceRefs,
		})
		out = append(out, FormationReceipt{ID: id, Kind: graph.KindNode, Score: score, Reformed: reformed})
	}
	for _, l := range rec.LinkFormations {
		id := l.LinkID
		if id == "" {
			id = uuid.NewString()
		}
		spec := graph.EdgeSpec{
			ID: id, From: l.From, To: l.To, Type: l.LinkType, Scope: l.Scope,
			Fields: l.Fields, Embedding: l.Embedding, BaseCost: l.BaseCost,
		}
		_, reformed := e.g.Resolve(id)
		var err error
		if reformed {
			_, err = e.g.ReformEdge(spec)
		} else {
			_, err = e.g.AddEdge(spec)
		}
		if err != nil {
			return out, fmt.Errorf("engine: form link %q: %w", id, err)
		}
		e.markEdge(id)
		score := e.scorer.Score(ctx, quality.Formation{
			ID: id, Type: l.LinkType, Scope: l.Scope, Fields: l.Fields,
			Embedding: l.Embedding, EvidenceRefs: l.EvidenceRefs,
		})
		out = append(out, FormationReceipt{ID: id, Kind: graph.KindEdge, Score: score, Reformed: reformed})
	}
	return out, nil
}

// targets merges signed seats and formation quality into learner targets,
// in first-seen order, stamped with the event time.
func (e *Engine) targets(alloc apportion.Allocation, formed []FormationReceipt, at time.Time) []kindTarget {
	var out []kindTarget
	index := make(map[string]int)
	add := func(id string) *kindTarget {
		if i, ok := index[id]; ok {
			return &out[i]
		}
		kind, _ := e.g.Resolve(id)
		index[id] = len(out)
		out = append(out, kindTarget{kind: kind, at: at, Target: learner.Target{ID: id}})
		return &out[len(out)-1]
	}
	for _, s := range alloc.Seats {
		add(s.TargetID).Seats += float64(s.Seats)
	}
	for _, f := range formed {
		q := f.Score.Quality
		add(f.ID).Quality = &q
	}
	return out
}

// ─── Traversal outcomes & link events ────────────────────────────────────────

// OnTraversal satisfies traversal.TraversalRecorder. It records
// co-activation and marks what EXECUTE touched for persistence: the
// traversed edge, the agent's entry, every partner whose count moved and
// every edge a Hebbian step strengthened. Partners are rarely outgoing
// edges of the current node, so they are named explicitly.
func (e *Engine) OnTraversal(agentID, edgeID string, t time.Time) (linkstrength.Coactivation, error) {
	if e.isClosed() {
		return linkstrength.Coactivation{EdgeID: edgeID}, ErrClosed
	}
	co, err := e.links.OnTraversal(agentID, edgeID, t)
	// A failed Hebbian step may follow counts that already moved.
	for _, id := range co.Touched() {
		e.markEdge(id)
	}
	e.markAgent(edgeID, agentID)
	return co, err
}

// ReportTraversal turns a traversal outcome into a single-mark event on
// the edge and queues it for the learner. The agent's affinity was already
// moved by the selector; it is marked for persistence here.
func (e *Engine) ReportTraversal(ctx context.Context, ev traversal.OutcomeEvent) error {
	if e.isClosed() {
		return ErrClosed
	}
	alloc, err := e.appt.Apportion([]apportion.Mark{{TargetID: ev.EdgeID, Category: ev.Outcome.Mark()}})
	if err != nil {
		if errors.Is(err, apportion.ErrConservation) {
			metrics.ApportionAborts.Inc()
			e.logger.Error("apportionment aborted", zap.String("traversal", ev.TraversalID), zap.Error(err))
		}
		return fmt.Errorf("engine: traversal %q: %w", ev.TraversalID, err)
	}
	e.markEdge(ev.EdgeID)
	e.markAgent(ev.EdgeID, ev.AgentID)
	at := ev.At
	if at.IsZero() {
		at = e.now()
	}
	return e.enqueue(ctx, job{eventID: ev.TraversalID, targets: e.targets(alloc, nil, at)})
}

// RecordOutcome satisfies traversal.OutcomeSink.
func (e *Engine) RecordOutcome(ctx context.Context, ev traversal.OutcomeEvent) error {
	return e.ReportTraversal(ctx, ev)
}

// LinkEvent applies a link-strength event and marks the edge for
// persistence.
func (e *Engine) LinkEvent(_ context.Context, edgeID string, ev linkstrength.Event) (float64, error) {
	if e.isClosed() {
		return 0, ErrClosed
	}
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	if ev.Type == linkstrength.EventCoactivation {
		if _, err := e.OnTraversal(ev.AgentID, edgeID, ev.At); err != nil {
			return 0, err
		}
		v, err := e.g.Edge(edgeID)
		if err != nil {
			return 0, err
		}
		return v.LinkStrength, nil
	}
	v, err := e.links.OnEvent(edgeID, ev)
	if err != nil {
		return 0, err
	}
	e.markEdge(edgeID)
	return v, nil
}

// ─── Queue ───────────────────────────────────────────────────────────────────

func (e *Engine) enqueue(ctx context.Context, j job) error {
	select {
	case e.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	}
	metrics.QueueDepth.Set(float64(len(e.jobs)))
	if e.queued.Add(int64(len(j.targets))) >= int64(e.cfg.MaxBatch) {
		select {
		case e.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// QueueDepth returns the number of queued events.
func (e *Engine) QueueDepth() int { return len(e.jobs) }

// Run is the writer loop. It flushes every FlushInterval or when the queue
// passes MaxBatch, refreshes baselines every BaselineInterval and runs a
// decay cycle every DecayInterval. On cancellation it drains the queue
// once more and returns nil.
func (e *Engine) Run(ctx context.Context) error {
	flush := time.NewTicker(e.cfg.FlushInterval)
	defer flush.Stop()
	baselines := time.NewTicker(e.cfg.BaselineInterval)
	defer baselines.Stop()
	decay := time.NewTicker(e.cfg.DecayInterval)
	defer decay.Stop()

	e.RefreshBaselines()
	for {
		select {
		case <-ctx.Done():
			if _, err := e.Flush(context.WithoutCancel(ctx)); err != nil {
				e.logger.Error("final flush failed", zap.Error(err))
			}
			return nil
		case <-flush.C:
			e.flushLogged(ctx)
		case <-e.kick:
			e.flushLogged(ctx)
		case <-baselines.C:
			e.RefreshBaselines()
		case <-decay.C:
			if _, err := e.Decay(ctx); err != nil {
				e.logger.Error("decay cycle failed", zap.Error(err))
			}
		}
	}
}

func (e *Engine) flushLogged(ctx context.Context) {
	if _, err := e.Flush(ctx); err != nil {
		e.logger.Error("flush failed", zap.Error(err))
	}
}

// Flush drains the queue now, applying learner batches of at most
// MaxBatch targets and persisting everything touched. It returns every
// learner update it applied.
func (e *Engine) Flush(ctx context.Context) ([]learner.Update, error) {
	e.wmu.Lock()
	defer e.wmu.Unlock()

	var all []learner.Update
	for {
		batch := e.take()
		if len(batch) == 0 {
			break
		}
		ups, err := e.apply(batch)
		all = append(all, ups...)
		if err != nil {
			return all, err
		}
	}
	metrics.QueueDepth.Set(float64(len(e.jobs)))
	return all, e.persist(ctx)
}

// take pops whole jobs until MaxBatch targets are gathered.
func (e *Engine) take() []kindTarget {
	var out []kindTarget
	for len(out) < e.cfg.MaxBatch {
		select {
		case j := <-e.jobs:
			e.queued.Add(-int64(len(j.targets)))
			out = append(out, j.targets...)
		default:
			return out
		}
	}
	return out
}

// apply runs the learner per kind over a consistent population snapshot
// and writes each kind's results atomically. Each kind learns at the
// latest event time among its targets.
func (e *Engine) apply(batch []kindTarget) ([]learner.Update, error) {
	metrics.BatchSize.Observe(float64(len(batch)))
	var all []learner.Update
	for _, kind := range []graph.Kind{graph.KindNode, graph.KindEdge} {
		var targets []learner.Target
		var now time.Time
		for _, t := range batch {
			if t.kind == kind {
				targets = append(targets, t.Target)
				if t.at.After(now) {
					now = t.at
				}
			}
		}
		if now.IsZero() {
			now = e.now()
		}
		if len(targets) == 0 {
			continue
		}
		ups, err := e.learner.Compute(kind, e.g.LearningRecords(kind), targets, now)
		if err != nil {
			e.logger.Error("learner batch aborted", zap.String("kind", string(kind)), zap.Int("targets", len(targets)), zap.Error(err))
			return all, fmt.Errorf("engine: learn %s: %w", kind, err)
		}
		if err := e.g.ApplyLearning(kind, learner.Writes(ups)); err != nil {
			return all, fmt.Errorf("engine: apply %s: %w", kind, err)
		}
		for _, u := range ups {
			if kind == graph.KindNode {
				e.markNode(u.ID)
			} else {
				e.markEdge(u.ID)
			}
		}
		all = append(all, ups...)
	}
	return all, nil
}

// ─── Maintenance ─────────────────────────────────────────────────────────────

// RefreshBaselines recomputes read-time cohort baselines for both kinds.
func (e *Engine) RefreshBaselines() {
	e.wmu.Lock()
	defer e.wmu.Unlock()
	for _, kind := range []graph.Kind{graph.KindNode, graph.KindEdge} {
		e.learner.RefreshBaselines(kind, e.g.LearningRecords(kind))
	}
}

// Decay runs one link-strength decay cycle and persists the result.
func (e *Engine) Decay(ctx context.Context) ([]linkstrength.Change, error) {
	e.wmu.Lock()
	defer e.wmu.Unlock()
	changes, err := e.links.DecayCycle(e.now())
	for _, c := range changes {
		e.markEdge(c.EdgeID)
	}
	if err != nil {
		return changes, err
	}
	return changes, e.persist(ctx)
}

// ─── Persistence ─────────────────────────────────────────────────────────────

func (e *Engine) markNode(id string) {
	e.mu.Lock()
	e.dirtyNodes[id] = true
	e.mu.Unlock()
}

func (e *Engine) markEdge(id string) {
	e.mu.Lock()
	e.dirtyEdges[id] = true
	e.mu.Unlock()
}

func (e *Engine) markAgent(edgeID, agentID string) {
	e.mu.Lock()
	e.dirtyAgents[agentKey{edgeID, agentID}] = true
	e.mu.Unlock()
}

// persist writes every dirty record. Nodes go first so edges can reference
// them. Records that fail to save stay dirty for the next attempt.
func (e *Engine) persist(ctx context.Context) error {
	e.mu.Lock()
	nodes, edges, agents := e.dirtyNodes, e.dirtyEdges, e.dirtyAgents
	e.dirtyNodes, e.dirtyEdges, e.dirtyAgents = make(map[string]bool), make(map[string]bool), make(map[agentKey]bool)
	e.mu.Unlock()

	restore := func() {
		e.mu.Lock()
		for id := range nodes {
			e.dirtyNodes[id] = true
		}
		for id := range edges {
			e.dirtyEdges[id] = true
		}
		for k := range agents {
			e.dirtyAgents[k] = true
		}
		e.mu.Unlock()
	}

	var nrecs []graph.NodeRecord
	for id := range nodes {
		if r, err := e.g.NodeRecord(id); err == nil {
			nrecs = append(nrecs, r)
		}
	}
	var erecs []graph.EdgeRecord
	for id := range edges {
		if r, err := e.g.EdgeRecord(id); err == nil {
			erecs = append(erecs, r)
		}
	}
	var arecs []graph.AgentRecord
	for k := range agents {
		if st, ok, err := e.g.AgentState(k.edge, k.agent); err == nil && ok {
			arecs = append(arecs, graph.AgentRecord{EdgeID: k.edge, AgentID: k.agent, State: st})
		}
	}
	e.sortRecords(nrecs, erecs, arecs)

	if err := e.store.SaveNodes(ctx, nrecs); err != nil {
		restore()
		return fmt.Errorf("engine: persist: %w", err)
	}
	if err := e.store.SaveEdges(ctx, erecs); err != nil {
		restore()
		return fmt.Errorf("engine: persist: %w", err)
	}
	if err := e.store.SaveAgentStates(ctx, arecs); err != nil {
		restore()
		return fmt.Errorf("engine: persist: %w", err)
	}
	return nil
}

// sortRecords orders records by arena position so first inserts reach the
// store in graph order.
func (e *Engine) sortRecords(nodes []graph.NodeRecord, edges []graph.EdgeRecord, agents []graph.AgentRecord) {
	pos := func(id string) int {
		i, _ := e.g.Index(id)
		return i
	}
	sort.Slice(nodes, func(i, j int) bool { return pos(nodes[i].ID) < pos(nodes[j].ID) })
	sort.Slice(edges, func(i, j int) bool { return pos(edges[i].ID) < pos(edges[j].ID) })
	sort.Slice(agents, func(i, j int) bool {
		if pi, pj := pos(agents[i].EdgeID), pos(agents[j].EdgeID); pi != pj {
			return pi < pj
		}
		return agents[i].AgentID < agents[j].AgentID
	})
}

// ─── Lifecycle & stats ───────────────────────────────────────────────────────

// Close rejects further writes. Queued work stays until the next Flush.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Stats is the engine's heartbeat.
type Stats struct {
	Nodes     int           `json:"nodes"`
	Edges     int           `json:"edges"`
	Queued    int           `json:"queued_events"`
	Baselines int           `json:"baselines"`
	Learner   learner.Stats `json:"learner"`
}

// Stats returns current counts and the learner heartbeat.
func (e *Engine) Stats() Stats {
	n, ed := e.g.Counts()
	return Stats{
		Nodes:     n,
		Edges:     ed,
		Queued:    len(e.jobs),
		Baselines: e.learner.Baselines().Len(),
		Learner:   e.learner.Stats(),
	}
}
