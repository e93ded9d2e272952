package apportion

import (
	"fmt"
	"strings"
)

// Category is a reinforcement mark, ordered from strongly negative to
// strongly positive.
type Category int

const (
	Misleading Category = iota
	NotUseful
	SomewhatUseful
	Useful
	VeryUseful
)

var categoryNames = [...]string{
	Misleading:     "misleading",
	NotUseful:      "not useful",
	SomewhatUseful: "somewhat useful",
	Useful:         "useful",
	VeryUseful:     "very useful",
}

// defaultWeights are the signed base weights of the built-in categories.
var defaultWeights = map[Category]float64{
	Misleading:     -3,
	NotUseful:      -1,
	SomewhatUseful: 1,
	Useful:         2,
	VeryUseful:     3,
}

// Categories returns every category in ascending order.
func Categories() []Category {
	return []Category{Misleading, NotUseful, SomewhatUseful, Useful, VeryUseful}
}

func (c Category) String() string {
	if c < Misleading || c > VeryUseful {
		return fmt.Sprintf("category(%d)", int(c))
	}
	return categoryNames[c]
}

// Valid reports whether c is one of the built-in categories.
func (c Category) Valid() bool {
	return c >= Misleading && c <= VeryUseful
}

// ParseCategory accepts the category name with spaces, underscores or
// hyphens, case-insensitively.
func ParseCategory(s string) (Category, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("_", " ", "-", " ").Replace(norm)
	norm = strings.Join(strings.Fields(norm), " ")
	for c, name := range categoryNames {
		if name == norm {
			return Category(c), nil
		}
	}
	return 0, fmt.Errorf("apportion: unknown mark category %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (c Category) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("apportion: invalid category %d", int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Category) UnmarshalText(b []byte) error {
	parsed, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
