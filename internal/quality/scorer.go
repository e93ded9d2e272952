// Package quality scores proposed formations on completeness, evidence and
// novelty. The three dimensions combine by geometric mean, so a zero in any
// one of them zeroes the score.
package quality

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/HendryAvila/wayfinder/internal/graph"
	"github.com/HendryAvila/wayfinder/internal/metrics"
)

// ErrUnavailable is returned by lookups whose backing infrastructure cannot
// answer.
var ErrUnavailable = errors.New("quality: lookup unavailable")

// Defaults used when a lookup fails or times out.
const (
	DefaultEvidence      = 0.5
	DefaultNovelty       = 0.7
	DefaultLookupTimeout = 250 * time.Millisecond
)

// EvidenceSource returns the mean de-logged, cohort-relative weight of the
// cited records.
type EvidenceSource interface {
	Evidence(ctx context.Context, refs []string) (float64, error)
}

// NoveltySource returns one minus the highest cosine similarity between
// embedding and the existing records of the cohort. exclude names the
// formation itself so a re-formed record is not compared with its own
// embedding.
type NoveltySource interface {
	Novelty(ctx context.Context, cohort graph.CohortKey, exclude string, embedding []float64) (float64, error)
}

// Formation is a proposed node or link to be scored.
type Formation struct {
	ID           string
	Type         string
	Scope        string
	Fields       map[string]string
	Embedding    []float64
	EvidenceRefs []string
}

// Score carries the quality and its sub-scores.
type Score struct {
	Quality      float64  `json:"quality"`
	Completeness float64  `json:"completeness"`
	Evidence     float64  `json:"evidence"`
	Novelty      float64  `json:"novelty"`
	Degraded     []string `json:"degraded,omitempty"`
}

// IsDegraded reports whether any dimension fell back to its default.
func (s Score) IsDegraded() bool { return len(s.Degraded) > 0 }

// Config holds the scorer's tunables.
type Config struct {
	EvidenceDefault float64
	NoveltyDefault  float64
	LookupTimeout   time.Duration
	MinFieldLength  int
}

// DefaultConfig returns the built-in scorer settings.
func DefaultConfig() Config {
	return Config{
		EvidenceDefault: DefaultEvidence,
		NoveltyDefault:  DefaultNovelty,
		LookupTimeout:   DefaultLookupTimeout,
		MinFieldLength:  DefaultMinFieldLength,
	}
}

// Scorer computes formation quality.
type Scorer struct {
	cfg      Config
	registry *Registry
	evidence EvidenceSource
	novelty  NoveltySource
	logger   *zap.Logger
}

// NewScorer wires a scorer. Nil sources are treated as unavailable and
// always yield the configured defaults.
func NewScorer(cfg Config, registry *Registry, evidence EvidenceSource, novelty NoveltySource, logger *zap.Logger) *Scorer {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}
	if cfg.MinFieldLength <= 0 {
		cfg.MinFieldLength = DefaultMinFieldLength
	}
	return &Scorer{cfg: cfg, registry: registry, evidence: evidence, novelty: novelty, logger: logger.Named("quality")}
}

// Score computes the quality of f. Evidence and novelty are looked up
// concurrently under the configured timeout; a failing lookup degrades to
// its default instead of failing the formation.
func (s *Scorer) Score(ctx context.Context, f Formation) Score {
	out := Score{Completeness: s.registry.Completeness(f.Type, f.Fields, s.cfg.MinFieldLength)}

	lookupCtx, cancel := context.WithTimeout(ctx, s.cfg.LookupTimeout)
	defer cancel()

	var evidenceErr, noveltyErr error
	eg, egCtx := errgroup.WithContext(lookupCtx)
	eg.Go(func() error {
		out.Evidence, evidenceErr = s.lookupEvidence(egCtx, f)
		return nil
	})
	eg.Go(func() error {
		out.Novelty, noveltyErr = s.lookupNovelty(egCtx, f)
		return nil
	})
	_ = eg.Wait()

	if evidenceErr != nil {
		out.Evidence = s.cfg.EvidenceDefault
		out.Degraded = append(out.Degraded, "evidence")
	}
	if noveltyErr != nil {
		out.Novelty = s.cfg.NoveltyDefault
		out.Degraded = append(out.Degraded, "novelty")
	}
	out.Quality = Geometric(out.Completeness, out.Evidence, out.Novelty)

	metrics.Formations.WithLabelValues(metrics.Degraded(out.IsDegraded())).Inc()
	if out.IsDegraded() {
		s.logger.Warn("formation scored with degraded quality",
			zap.String("id", f.ID),
			zap.Strings("defaulted", out.Degraded),
			zap.NamedError("evidence_error", evidenceErr),
			zap.NamedError("novelty_error", noveltyErr),
		)
	}
	return out
}

func (s *Scorer) lookupEvidence(ctx context.Context, f Formation) (float64, error) {
	if s.evidence == nil {
		return 0, ErrUnavailable
	}
	v, err := within(ctx, func() (float64, error) { return s.evidence.Evidence(ctx, f.EvidenceRefs) })
	if err != nil {
		return 0, err
	}
	return clamp01(v), nil
}

func (s *Scorer) lookupNovelty(ctx context.Context, f Formation) (float64, error) {
	if s.novelty == nil || len(f.Embedding) == 0 {
		return 0, ErrUnavailable
	}
	key := graph.CohortKey{Type: f.Type, Scope: f.Scope}
	if key.Scope == "" {
		key.Scope = graph.DefaultScope
	}
	v, err := within(ctx, func() (float64, error) { return s.novelty.Novelty(ctx, key, f.ID, f.Embedding) })
	if err != nil {
		return 0, err
	}
	return clamp01(v), nil
}

// within returns fn's result, or ctx's error as soon as ctx is done. A
// lookup that ignores its context keeps running in the background but no
// longer holds up scoring.
func within(ctx context.Context, fn func() (float64, error)) (float64, error) {
	type result struct {
		v   float64
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Geometric returns the geometric mean of the three dimensions. Any
// non-positive dimension yields 0.
func Geometric(completeness, evidence, novelty float64) float64 {
	if completeness <= 0 || evidence <= 0 || novelty <= 0 {
		return 0
	}
	return clamp01(math.Cbrt(completeness * evidence * novelty))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
