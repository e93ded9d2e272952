// Package linkstrength evolves the proven-ness scalar carried by every
// edge. Three reinforcement pathways (Hebbian co-activation, external
// validation, explicit confirmation) and one decay pathway move the value
// additively; the graph clamps it to [0,1].
package linkstrength

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HendryAvila/wayfinder/internal/graph"
	"github.com/HendryAvila/wayfinder/internal/metrics"
)

// EventType names a link strength pathway.
type EventType int

const (
	EventCoactivation EventType = iota
	EventValidation
	EventConfirmation
	EventDecay
)

func (e EventType) String() string {
	switch e {
	case EventCoactivation:
		return "coactivation"
	case EventValidation:
		return "validation"
	case EventConfirmation:
		return "confirmation"
	case EventDecay:
		return "decay"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// ParseEventType accepts the names produced by String.
func ParseEventType(s string) (EventType, error) {
	for _, e := range []EventType{EventCoactivation, EventValidation, EventConfirmation, EventDecay} {
		if e.String() == s {
			return e, nil
		}
	}
	return 0, fmt.Errorf("linkstrength: unknown event type %q", s)
}

// Config holds pathway rates and gates.
type Config struct {
	HebbianRate          float64
	HebbianGate          int
	HebbianWindow        time.Duration
	ValidationRate       float64
	ValidationConfidence float64
	ConfirmationRate     float64
	DecayRate            float64
	DecayAfter           time.Duration
}

// DefaultConfig returns the built-in pathway settings.
func DefaultConfig() Config {
	return Config{
		HebbianRate:          0.05,
		HebbianGate:          5,
		HebbianWindow:        10 * time.Minute,
		ValidationRate:       0.2,
		ValidationConfidence: 0.8,
		ConfirmationRate:     0.3,
		DecayRate:            0.01,
		DecayAfter:           30 * 24 * time.Hour,
	}
}

// Event is one input to OnEvent.
type Event struct {
	Type       EventType
	AgentID    string
	Confidence float64
	At         time.Time
}

// Change records one link strength movement.
type Change struct {
	EdgeID string               `json:"edge_id"`
	Before float64              `json:"before"`
	After  float64              `json:"after"`
	Source graph.StrengthSource `json:"source"`
}

type visit struct {
	edgeID string
	at     time.Time
}

// Manager applies link strength events to a graph.
type Manager struct {
	cfg    Config
	g      *graph.Graph
	logger *zap.Logger

	mu     sync.Mutex
	recent map[string][]visit
}

// New returns a manager over g.
func New(cfg Config, g *graph.Graph, logger *zap.Logger) *Manager {
	if cfg.HebbianGate <= 0 {
		cfg.HebbianGate = DefaultConfig().HebbianGate
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{cfg: cfg, g: g, logger: logger.Named("links"), recent: make(map[string][]visit)}
}

// OnEvent dispatches a single event and returns the edge's resulting link
// strength. Decay events ignore staleness; use DecayCycle for the periodic
// sweep.
func (m *Manager) OnEvent(edgeID string, ev Event) (float64, error) {
	switch ev.Type {
	case EventCoactivation:
		if _, err := m.OnTraversal(ev.AgentID, edgeID, ev.At); err != nil {
			return 0, err
		}
	case EventValidation:
		if _, err := m.Validate(edgeID, ev.Confidence); err != nil {
			return 0, err
		}
	case EventConfirmation:
		if _, err := m.Confirm(edgeID); err != nil {
			return 0, err
		}
	case EventDecay:
		if _, err := m.adjust(edgeID, -m.cfg.DecayRate, graph.SourceDecayed); err != nil {
			return 0, err
		}
	default:
		return 0, fmt.Errorf("linkstrength: unknown event type %d", int(ev.Type))
	}
	v, err := m.g.Edge(edgeID)
	if err != nil {
		return 0, err
	}
	return v.LinkStrength, nil
}

// Coactivation is the effect of one recorded traversal.
type Coactivation struct {
	EdgeID string `json:"edge_id"`
	// Partners are the edges whose co-activation count with EdgeID moved.
	Partners []string `json:"partners,omitempty"`
	Changes  []Change `json:"changes,omitempty"`
}

// Touched returns every edge whose stored record changed, EdgeID first.
func (c Coactivation) Touched() []string {
	out := []string{c.EdgeID}
	seen := map[string]bool{c.EdgeID: true}
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range c.Partners {
		add(id)
	}
	for _, ch := range c.Changes {
		add(ch.EdgeID)
	}
	return out
}

// OnTraversal records that agentID traversed edgeID at t. Every other edge
// the same agent traversed within the Hebbian window gains a co-activation
// count; each time a pair's count reaches a multiple of the gate, both
// edges are strengthened.
func (m *Manager) OnTraversal(agentID, edgeID string, t time.Time) (Coactivation, error) {
	out := Coactivation{EdgeID: edgeID}
	if _, err := m.g.Edge(edgeID); err != nil {
		return out, err
	}
	for _, other := range m.remember(agentID, edgeID, t) {
		n, err := m.g.Coactivate(edgeID, other)
		if err != nil {
			// The partner may have been dropped from the graph; skip it.
			continue
		}
		out.Partners = append(out.Partners, other)
		if n < m.cfg.HebbianGate || n%m.cfg.HebbianGate != 0 {
			continue
		}
		for _, id := range []string{edgeID, other} {
			c, err := m.adjust(id, m.cfg.HebbianRate, graph.SourceHebbian)
			if err != nil {
				return out, err
			}
			out.Changes = append(out.Changes, c)
		}
	}
	return out, nil
}

// remember appends the visit to the agent's recent history and returns the
// distinct other edges visited inside the window.
func (m *Manager) remember(agentID, edgeID string, t time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := t.Add(-m.cfg.HebbianWindow)
	kept := m.recent[agentID][:0]
	seen := make(map[string]bool)
	var partners []string
	for _, v := range m.recent[agentID] {
		if v.at.Before(cutoff) {
			continue
		}
		kept = append(kept, v)
		if v.edgeID != edgeID && !seen[v.edgeID] {
			seen[v.edgeID] = true
			partners = append(partners, v.edgeID)
		}
	}
	m.recent[agentID] = append(kept, visit{edgeID: edgeID, at: t})
	return partners
}

// Validate strengthens an edge when an independent source corroborates it
// with confidence above the threshold. Lower confidence is a no-op.
func (m *Manager) Validate(edgeID string, confidence float64) (Change, error) {
	if confidence <= m.cfg.ValidationConfidence {
		v, err := m.g.Edge(edgeID)
		if err != nil {
			return Change{}, err
		}
		return Change{EdgeID: edgeID, Before: v.LinkStrength, After: v.LinkStrength, Source: v.StrengthSource}, nil
	}
	return m.adjust(edgeID, m.cfg.ValidationRate, graph.SourceValidated)
}

// Confirm applies an explicit confirmation.
func (m *Manager) Confirm(edgeID string) (Change, error) {
	return m.adjust(edgeID, m.cfg.ConfirmationRate, graph.SourceConsciousConfirm)
}

// DecayCycle weakens every edge untraversed for longer than DecayAfter.
// Edges already at zero are left alone.
func (m *Manager) DecayCycle(now time.Time) ([]Change, error) {
	var changes []Change
	for _, id := range m.g.StaleEdges(now.Add(-m.cfg.DecayAfter)) {
		v, err := m.g.Edge(id)
		if err != nil || v.LinkStrength <= 0 {
			continue
		}
		c, err := m.adjust(id, -m.cfg.DecayRate, graph.SourceDecayed)
		if err != nil {
			return changes, err
		}
		changes = append(changes, c)
	}
	if len(changes) > 0 {
		m.logger.Info("decay cycle", zap.Int("edges", len(changes)))
	}
	return changes, nil
}

func (m *Manager) adjust(edgeID string, delta float64, src graph.StrengthSource) (Change, error) {
	var before float64
	v, err := m.g.UpdateLinkStrength(edgeID, func(s float64, _ graph.StrengthSource) (float64, graph.StrengthSource) {
		before = s
		return s + delta, src
	})
	if err != nil {
		return Change{}, fmt.Errorf("linkstrength: %s: %w", src, err)
	}
	metrics.LinkEvents.WithLabelValues(string(src)).Inc()
	m.logger.Debug("link strength",
		zap.String("edge", edgeID),
		zap.String("source", string(src)),
		zap.Float64("before", before),
		zap.Float64("after", v.LinkStrength),
	)
	return Change{EdgeID: edgeID, Before: before, After: v.LinkStrength, Source: src}, nil
}
