package traversal

import (
	"fmt"
	"strings"

	"github.com/HendryAvila/wayfinder/internal/apportion"
)

// Outcome classifies a completed traversal. It is a closed set: every
// switch over it covers all three cases.
type Outcome int

const (
	OutcomeUseful Outcome = iota + 1
	OutcomeNeutral
	OutcomeUnhelpful
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUseful:
		return "useful"
	case OutcomeNeutral:
		return "neutral"
	case OutcomeUnhelpful:
		return "unhelpful"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Valid reports whether o is one of the three outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeUseful, OutcomeNeutral, OutcomeUnhelpful:
		return true
	}
	return false
}

// ParseOutcome accepts useful, neutral or unhelpful.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "useful":
		return OutcomeUseful, nil
	case "neutral":
		return OutcomeNeutral, nil
	case "unhelpful":
		return OutcomeUnhelpful, nil
	}
	return 0, fmt.Errorf("traversal: unknown outcome %q", s)
}

// AffinityDelta is the asymmetric valence step: punishment is larger than
// reward.
func (o Outcome) AffinityDelta() float64 {
	switch o {
	case OutcomeUseful:
		return 0.1
	case OutcomeNeutral:
		return 0.02
	case OutcomeUnhelpful:
		return -0.15
	}
	panic(fmt.Sprintf("traversal: invalid outcome %d", int(o)))
}

// Mark maps the outcome onto the reinforcement category fed to the weight
// learner.
func (o Outcome) Mark() apportion.Category {
	switch o {
	case OutcomeUseful:
		return apportion.Useful
	case OutcomeNeutral:
		return apportion.SomewhatUseful
	case OutcomeUnhelpful:
		return apportion.NotUseful
	}
	panic(fmt.Sprintf("traversal: invalid outcome %d", int(o)))
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("traversal: invalid outcome %d", int(o))
	}
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Outcome) UnmarshalText(b []byte) error {
	v, err := ParseOutcome(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

// applyAffinity adds the outcome's delta and clamps to [-1,1].
func applyAffinity(current float64, o Outcome) float64 {
	v := current + o.AffinityDelta()
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
