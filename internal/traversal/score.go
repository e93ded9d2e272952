package traversal

import (
	"math"

	"github.com/HendryAvila/wayfinder/internal/graph"
)

// Weight factor bounds applied to exp(z_W) so one runaway weight cannot
// make an edge free or unreachable.
const (
	minWeightFactor = 0.1
	maxWeightFactor = 10.0
)

// Cold-start sampling mix.
const (
	coldGoalWeight    = 0.7
	coldNoveltyWeight = 0.3
)

// Config holds the selector's tunables.
type Config struct {
	Epsilon            float64
	SatisfiedThreshold float64
	MaxActivation      float64
	MinActivationCost  float64
	CompetitionRate    float64
	RelevanceUseful    float64
	RelevanceUnhelpful float64
	SpikeThreshold     float64
	CompletenessGain   float64
	EmotionRate        float64
	Seed               uint64
}

// DefaultConfig returns the built-in selector settings.
func DefaultConfig() Config {
	return Config{
		Epsilon:            0.2,
		SatisfiedThreshold: 0.9,
		MaxActivation:      1.0,
		MinActivationCost:  0.1,
		CompetitionRate:    0.1,
		RelevanceUseful:    0.7,
		RelevanceUnhelpful: 0.3,
		SpikeThreshold:     0.2,
		CompletenessGain:   0.25,
		EmotionRate:        0.1,
	}
}

// Breakdown exposes every factor of one candidate's score.
type Breakdown struct {
	Preset       Preset  `json:"preset"`
	Gap          float64 `json:"completeness_gap"`
	Emotion      float64 `json:"emotion_similarity"`
	Goal         float64 `json:"goal_similarity"`
	Weighted     float64 `json:"weighted_score"`
	Affinity     float64 `json:"affinity"`
	LinkStrength float64 `json:"link_strength"`
	GlobalBoost  float64 `json:"global_boost"`
	AgentBoost   float64 `json:"agent_boost"`
	Cost         float64 `json:"activation_cost"`
	Satisfaction float64 `json:"satisfaction"`
}

// criticality is 1/(1+activation).
func criticality(activation float64) float64 {
	return 1 / (1 + activation)
}

// WeightFactor converts a standardized log-weight into a bounded
// multiplicative factor.
func WeightFactor(zW float64) float64 {
	return clamp(math.Exp(zW), minWeightFactor, maxWeightFactor)
}

// ActivationCost is base_cost · competition / weight_factor · global and
// agent criticality, floored at MinActivationCost. Activation is clamped
// before use, so the floor and the clamp together bound the feedback
// between activation and cost.
func (c Config) ActivationCost(baseCost float64, otherAgents int, zW float64, lv Levels) float64 {
	lv = c.clampLevels(lv)
	competition := 1 + c.CompetitionRate*float64(otherAgents)
	cost := baseCost * competition / WeightFactor(zW) * criticality(lv.Global) * criticality(lv.Agent)
	return math.Max(cost, c.MinActivationCost)
}

func (c Config) clampLevels(lv Levels) Levels {
	return Levels{
		Global: clamp(lv.Global, 0, c.MaxActivation),
		Agent:  clamp(lv.Agent, 0, c.MaxActivation),
	}
}

// Score computes the satisfaction of a known edge for one demand.
func (c Config) Score(d Demand, emotion, goal, affinity, linkStrength, cost float64, lv Levels) Breakdown {
	lv = c.clampLevels(lv)
	w, preset := WeightsFor(d.Urgency())
	b := Breakdown{
		Preset:       preset,
		Gap:          d.Urgency(),
		Emotion:      emotion,
		Goal:         goal,
		Affinity:     affinity,
		LinkStrength: linkStrength,
		GlobalBoost:  1 + 0.5*lv.Global,
		AgentBoost:   1 + 0.3*lv.Agent,
		Cost:         cost,
	}
	b.Weighted = w.Gap*b.Gap + w.Emotion*b.Emotion + w.Goal*b.Goal
	b.Satisfaction = b.Weighted * b.Affinity * b.LinkStrength * b.GlobalBoost * b.AgentBoost / b.Cost
	return b
}

// ColdWeight is the sampling weight of a cold edge: goal fit plus a
// novelty bonus halved when another agent has been there first.
func ColdWeight(goal float64, exploredByOther bool) float64 {
	novelty := 1.0
	if exploredByOther {
		novelty = 0.5
	}
	return coldGoalWeight*goal + coldNoveltyWeight*novelty
}

// goalSimilarity compares the target node's embedding, or the edge's when
// the node has none, with the demand.
func goalSimilarity(target graph.NodeView, edge graph.EdgeView, d Demand) float64 {
	emb := target.Embedding
	if len(emb) == 0 {
		emb = edge.Embedding
	}
	return math.Max(0, graph.Cosine(emb, d.Embedding))
}

func emotionSimilarity(st graph.AgentEdgeState, current []float64) float64 {
	return math.Max(0, graph.Cosine(st.Emotion, current))
}

// blendEmotion moves the edge's emotion vector for an agent toward the
// agent's current state.
func blendEmotion(old, current []float64, rate float64) []float64 {
	if len(current) == 0 {
		return old
	}
	if len(old) != len(current) {
		return append([]float64(nil), current...)
	}
	out := make([]float64, len(old))
	for i := range old {
		out[i] = (1-rate)*old[i] + rate*current[i]
	}
	return out
}
