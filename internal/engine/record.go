package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HendryAvila/wayfinder/internal/apportion"
	"github.com/HendryAvila/wayfinder/internal/graph"
	"github.com/HendryAvila/wayfinder/internal/quality"
)

// ErrEmptyRecord is returned for a record with neither marks nor formations.
var ErrEmptyRecord = errors.New("engine: record has no marks or formations")

// ErrDuplicateEvent is returned when an event id was already ingested.
var ErrDuplicateEvent = errors.New("engine: duplicate event")

// NodeFormation proposes a new node, or re-forms the existing node NodeID
// names. A blank NodeID gets a generated one.
type NodeFormation struct {
	NodeID       string            `json:"node_id,omitempty"`
	NodeType     string            `json:"node_type"`
	Scope        string            `json:"scope,omitempty"`
	Fields       map[string]string `json:"fields,omitempty"`
	Embedding    []float64         `json:"embedding,omitempty"`
	EvidenceRefs []string          `json:"evidence_refs,omitempty"`
}

// LinkFormation proposes a new edge between existing (or co-formed) nodes,
// or re-forms the existing edge LinkID names.
type LinkFormation struct {
	LinkID       string            `json:"link_id,omitempty"`
	From         string            `json:"from"`
	To           string            `json:"to"`
	LinkType     string            `json:"link_type"`
	Scope        string            `json:"scope,omitempty"`
	Fields       map[string]string `json:"fields,omitempty"`
	Embedding    []float64         `json:"embedding,omitempty"`
	BaseCost     float64           `json:"base_cost,omitempty"`
	EvidenceRefs []string          `json:"evidence_refs,omitempty"`
}

// SignalRecord is one parsed event: its marks and the entities it formed.
// At is when the event happened; the learner steps at that time, or at
// ingest time when it is zero.
type SignalRecord struct {
	EventID        string           `json:"event_id,omitempty"`
	Marks          []apportion.Mark `json:"marks,omitempty"`
	Formations     []NodeFormation  `json:"formations,omitempty"`
	LinkFormations []LinkFormation  `json:"link_formations,omitempty"`
	At             time.Time        `json:"at,omitempty"`
}

// FormationReceipt reports one created entity and its quality.
type FormationReceipt struct {
	ID       string        `json:"id"`
	Kind     graph.Kind    `json:"kind"`
	Score    quality.Score `json:"quality"`
	Reformed bool          `json:"reformed,omitempty"`
}

// IngestReceipt is what Ingest accepted. Learning lands on the next flush.
type IngestReceipt struct {
	EventID    string               `json:"event_id"`
	Allocation apportion.Allocation `json:"allocation"`
	Formed     []FormationReceipt   `json:"formed,omitempty"`
	Queued     int                  `json:"queued_targets"`
}

// validate checks the record against the graph, treating co-formed ids as
// present. It runs before anything is created so a bad record leaves no
// partial state.
func (r *SignalRecord) validate(g *graph.Graph) error {
	if len(r.Marks) == 0 && len(r.Formations) == 0 && len(r.LinkFormations) == 0 {
		return ErrEmptyRecord
	}
	formed := make(map[string]graph.Kind)
	for i, f := range r.Formations {
		if strings.TrimSpace(f.NodeType) == "" {
			return fmt.Errorf("engine: formation %d: node_type is required", i)
		}
		if f.NodeID == "" {
			continue
		}
		if err := checkReformNode(g, f); err != nil {
			return err
		}
		if _, ok := formed[f.NodeID]; ok {
			return fmt.Errorf("engine: formation %q: %w", f.NodeID, graph.ErrDuplicate)
		}
		formed[f.NodeID] = graph.KindNode
	}
	for i, l := range r.LinkFormations {
		if strings.TrimSpace(l.LinkType) == "" {
			return fmt.Errorf("engine: link formation %d: link_type is required", i)
		}
		for _, end := range []string{l.From, l.To} {
			if k, ok := formed[end]; ok && k == graph.KindNode {
				continue
			}
			if k, ok := g.Resolve(end); !ok || k != graph.KindNode {
				return fmt.Errorf("engine: link formation %d: node %q: %w", i, end, graph.ErrNotFound)
			}
		}
		if l.LinkID == "" {
			continue
		}
		if err := checkReformLink(g, l); err != nil {
			return err
		}
		if _, ok := formed[l.LinkID]; ok {
			return fmt.Errorf("engine: link formation %q: %w", l.LinkID, graph.ErrDuplicate)
		}
		formed[l.LinkID] = graph.KindEdge
	}
	for _, m := range r.Marks {
		if !m.Category.Valid() {
			return fmt.Errorf("engine: mark on %q: invalid category", m.TargetID)
		}
		if _, ok := formed[m.TargetID]; ok {
			continue
		}
		if _, ok := g.Resolve(m.TargetID); !ok {
			return fmt.Errorf("engine: mark target %q: %w", m.TargetID, graph.ErrNotFound)
		}
	}
	return nil
}

// checkReformNode accepts a formation naming an existing node of the same
// cohort; it re-forms that node.
func checkReformNode(g *graph.Graph, f NodeFormation) error {
	kind, ok := g.Resolve(f.NodeID)
	if !ok {
		return nil
	}
	if kind != graph.KindNode {
		return fmt.Errorf("engine: formation %q: %w: it is an edge", f.NodeID, graph.ErrMismatch)
	}
	v, err := g.Node(f.NodeID)
	if err != nil {
		return fmt.Errorf("engine: formation %q: %w", f.NodeID, err)
	}
	if c := graph.CohortOf(f.NodeType, f.Scope); c != v.Cohort {
		return fmt.Errorf("engine: formation %q: %w: %s, not %s", f.NodeID, graph.ErrMismatch, v.Cohort, c)
	}
	return nil
}

// checkReformLink accepts a link formation naming an existing edge with the
// same endpoints and cohort.
func checkReformLink(g *graph.Graph, l LinkFormation) error {
	kind, ok := g.Resolve(l.LinkID)
	if !ok {
		return nil
	}
	if kind != graph.KindEdge {
		return fmt.Errorf("engine: link formation %q: %w: it is a node", l.LinkID, graph.ErrMismatch)
	}
	v, err := g.Edge(l.LinkID)
	if err != nil {
		return fmt.Errorf("engine: link formation %q: %w", l.LinkID, err)
	}
	if v.From != l.From || v.To != l.To {
		return fmt.Errorf("engine: link formation %q: %w: runs %s→%s", l.LinkID, graph.ErrMismatch, v.From, v.To)
	}
	if c := graph.CohortOf(l.LinkType, l.Scope); c != v.Cohort {
		return fmt.Errorf("engine: link formation %q: %w: %s, not %s", l.LinkID, graph.ErrMismatch, v.Cohort, c)
	}
	return nil
}
