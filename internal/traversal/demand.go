package traversal

// Demand is an ephemeral goal owned by one agent.
type Demand struct {
	ID           string    `json:"id"`
	Embedding    []float64 `json:"embedding,omitempty"`
	Priority     float64   `json:"priority"`
	Completeness float64   `json:"completeness"`
}

// Urgency is 1 - completeness.
func (d Demand) Urgency() float64 {
	return 1 - clamp(d.Completeness, 0, 1)
}

// Weights are the (completeness gap, emotion, goal) coefficients of the
// weighted score.
type Weights struct {
	Gap, Emotion, Goal float64
}

// Preset names the three weight presets.
type Preset string

const (
	PresetExplore  Preset = "explore"
	PresetBalanced Preset = "balanced"
	PresetExploit  Preset = "exploit"
)

// WeightsFor picks the preset by urgency: desperate demands cast a wide
// net, nearly satisfied ones exploit what already fits.
func WeightsFor(urgency float64) (Weights, Preset) {
	switch {
	case urgency > 0.7:
		return Weights{Gap: 0.50, Emotion: 0.20, Goal: 0.30}, PresetExplore
	case urgency > 0.3:
		return Weights{Gap: 0.35, Emotion: 0.25, Goal: 0.40}, PresetBalanced
	default:
		return Weights{Gap: 0.20, Emotion: 0.30, Goal: 0.50}, PresetExploit
	}
}

// Advance returns the completeness after a useful traversal closes part of
// the remaining gap.
func Advance(completeness, gain float64) float64 {
	c := clamp(completeness, 0, 1)
	return clamp(c+gain*(1-c), 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
