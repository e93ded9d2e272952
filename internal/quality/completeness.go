package quality

import (
	"sort"
	"strings"
)

// DefaultMinFieldLength is the shortest trimmed value counted as content.
const DefaultMinFieldLength = 3

var placeholders = map[string]bool{
	"n/a": true, "na": true, "tbd": true, "todo": true, "none": true,
	"null": true, "-": true, "?": true, "...": true,
}

// Registry maps node types to the fields their schema declares.
type Registry struct {
	schemas map[string][]string
}

// NewRegistry copies schemas into a registry.
func NewRegistry(schemas map[string][]string) *Registry {
	r := &Registry{schemas: make(map[string][]string, len(schemas))}
	for typ, fields := range schemas {
		r.schemas[typ] = append([]string(nil), fields...)
	}
	return r
}

// DefaultRegistry declares the node and link types the engine ships with.
func DefaultRegistry() *Registry {
	return NewRegistry(map[string][]string{
		"Concept":       {"name", "description", "definition"},
		"Principle":     {"name", "description", "principle_statement", "why_it_matters"},
		"Mechanism":     {"name", "description", "how_it_works", "inputs", "outputs"},
		"Realization":   {"name", "description", "what_i_realized", "context_when_discovered"},
		"Decision":      {"name", "description", "decided_by", "decision_date", "rationale"},
		"Best_Practice": {"name", "description", "how_to_apply", "validation_criteria"},
		"Anti_Pattern":  {"name", "description", "why_it_fails", "alternative"},
		"Personal_Goal": {"name", "description", "goal_description", "why_it_matters"},
		"ENABLES":       {"goal", "mindstate", "enabling_type"},
		"JUSTIFIES":     {"goal", "mindstate", "justification_type"},
		"REQUIRES":      {"goal", "mindstate", "requirement_criticality"},
		"RELATES_TO":    {"goal", "mindstate", "relationship_strength"},
	})
}

// With returns a copy of r where schemas add to or replace its types.
func (r *Registry) With(schemas map[string][]string) *Registry {
	out := NewRegistry(r.schemas)
	for typ, fields := range schemas {
		out.schemas[typ] = append([]string(nil), fields...)
	}
	return out
}

// Fields returns the declared fields of a type, sorted.
func (r *Registry) Fields(typ string) ([]string, bool) {
	if r == nil {
		return nil, false
	}
	f, ok := r.schemas[typ]
	if !ok {
		return nil, false
	}
	out := append([]string(nil), f...)
	sort.Strings(out)
	return out, true
}

// Completeness is the fraction of declared fields holding non-trivial
// content. Types without a schema are judged on the fields provided.
func (r *Registry) Completeness(typ string, fields map[string]string, minLen int) float64 {
	declared, ok := r.Fields(typ)
	if !ok {
		declared = make([]string, 0, len(fields))
		for k := range fields {
			declared = append(declared, k)
		}
	}
	if len(declared) == 0 {
		return 0
	}
	filled := 0
	for _, name := range declared {
		if substantive(fields[name], minLen) {
			filled++
		}
	}
	return float64(filled) / float64(len(declared))
}

func substantive(v string, minLen int) bool {
	v = strings.TrimSpace(v)
	if len([]rune(v)) < minLen {
		return false
	}
	return !placeholders[strings.ToLower(v)]
}
