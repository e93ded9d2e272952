package quality

import (
	"context"
	"math"

	"github.com/HendryAvila/wayfinder/internal/graph"
)

// Standardizer converts a raw log-weight into its cohort-relative z value.
type Standardizer interface {
	Standardize(kind graph.Kind, cohort graph.CohortKey, logWeight float64) float64
}

// GraphLookup answers evidence and novelty queries from the in-memory graph.
type GraphLookup struct {
	g   *graph.Graph
	std Standardizer
}

// NewGraphLookup returns a lookup over g. A nil std leaves log-weights
// unstandardized.
func NewGraphLookup(g *graph.Graph, std Standardizer) *GraphLookup {
	return &GraphLookup{g: g, std: std}
}

// Evidence averages exp(z_W) over the cited records that exist, clamping
// each term to [0,1]. Citing nothing known yields 0.
func (l *GraphLookup) Evidence(ctx context.Context, refs []string) (float64, error) {
	var sum float64
	var n int
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		kind, ok := l.g.Resolve(ref)
		if !ok {
			continue
		}
		var cohort graph.CohortKey
		var lw float64
		switch kind {
		case graph.KindNode:
			v, err := l.g.Node(ref)
			if err != nil {
				continue
			}
			cohort, lw = v.Cohort, v.Learning.LogWeight
		case graph.KindEdge:
			v, err := l.g.Edge(ref)
			if err != nil {
				continue
			}
			cohort, lw = v.Cohort, v.Learning.LogWeight
		}
		z := lw
		if l.std != nil {
			z = l.std.Standardize(kind, cohort, lw)
		}
		sum += clamp01(math.Exp(z))
		n++
	}
	if n == 0 {
		return 0, nil
	}
	return sum / float64(n), nil
}

// Novelty is one minus the best cosine match among the cohort's embedded
// nodes. An empty cohort is fully novel.
func (l *GraphLookup) Novelty(ctx context.Context, cohort graph.CohortKey, exclude string, embedding []float64) (float64, error) {
	best := 0.0
	for id, other := range l.g.CohortEmbeddings(cohort) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if id == exclude {
			continue
		}
		if c := graph.Cosine(embedding, other); c > best {
			best = c
		}
	}
	return 1 - best, nil
}
