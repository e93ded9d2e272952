// Package apportion converts the reinforcement marks of one event into
// integer seats that always sum to a fixed total, using Hamilton's largest
// remainder method. Seat counts are therefore comparable across events no
// matter how many marks each carries.
package apportion

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// DefaultTotalSeats is the seat total distributed per event.
const DefaultTotalSeats = 100

// ErrConservation signals that the distributed seats do not add up to the
// configured total. It is a logic defect and aborts the batch.
var ErrConservation = errors.New("apportion: seat conservation violated")

// Mark is one (target, category) pair from an event.
type Mark struct {
	TargetID string   `json:"target_id"`
	Category Category `json:"category"`
}

// Seat is the allocation for one mark. Seats carries the sign of the
// category weight; Quota is the exact unsigned share it was rounded from.
type Seat struct {
	TargetID string   `json:"target_id"`
	Category Category `json:"category"`
	Quota    float64  `json:"quota"`
	Seats    int      `json:"seats"`
}

// Allocation is the result of apportioning one event.
type Allocation struct {
	Seats []Seat `json:"seats"`
	Total int    `json:"total"`
}

// Len returns the number of marks apportioned.
func (a Allocation) Len() int { return len(a.Seats) }

// ByTarget sums signed seats per target. A target marked more than once in
// the same event accumulates every mark.
func (a Allocation) ByTarget() map[string]int {
	out := make(map[string]int, len(a.Seats))
	for _, s := range a.Seats {
		out[s.TargetID] += s.Seats
	}
	return out
}

// Targets returns target ids in first-mark order without duplicates.
func (a Allocation) Targets() []string {
	seen := make(map[string]bool, len(a.Seats))
	var ids []string
	for _, s := range a.Seats {
		if !seen[s.TargetID] {
			seen[s.TargetID] = true
			ids = append(ids, s.TargetID)
		}
	}
	return ids
}

// Apportioner distributes a fixed number of seats across the marks of an
// event. The zero value is not usable; construct with New.
type Apportioner struct {
	total   int
	weights map[Category]float64
}

// Option configures an Apportioner.
type Option func(*Apportioner)

// WithWeights overrides category base weights. Categories missing from w
// keep their default.
func WithWeights(w map[Category]float64) Option {
	return func(a *Apportioner) {
		for c, v := range w {
			a.weights[c] = v
		}
	}
}

// New creates an Apportioner distributing total seats per event.
func New(total int, opts ...Option) (*Apportioner, error) {
	if total <= 0 {
		return nil, fmt.Errorf("apportion: total seats must be positive, got %d", total)
	}
	a := &Apportioner{total: total, weights: make(map[Category]float64, len(defaultWeights))}
	for c, v := range defaultWeights {
		a.weights[c] = v
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Total returns the seat total per event.
func (a *Apportioner) Total() int { return a.total }

// Weight returns the signed base weight of c.
func (a *Apportioner) Weight(c Category) float64 { return a.weights[c] }

// Apportion allocates seats to marks. Quotas are proportional to the
// magnitude of each category weight; the weight's sign is applied to the
// resulting seats. No marks yields an empty allocation.
func (a *Apportioner) Apportion(marks []Mark) (Allocation, error) {
	if len(marks) == 0 {
		return Allocation{Total: a.total}, nil
	}
	for i, m := range marks {
		if m.TargetID == "" {
			return Allocation{}, fmt.Errorf("apportion: mark %d has no target", i)
		}
		if _, ok := a.weights[m.Category]; !ok {
			return Allocation{}, fmt.Errorf("apportion: mark %d: unknown category %d", i, int(m.Category))
		}
	}

	mags := make([]float64, len(marks))
	var sum float64
	for i, m := range marks {
		mags[i] = math.Abs(a.weights[m.Category])
		sum += mags[i]
	}

	quotas := make([]float64, len(marks))
	for i := range marks {
		if sum == 0 {
			quotas[i] = float64(a.total) / float64(len(marks))
		} else {
			quotas[i] = mags[i] / sum * float64(a.total)
		}
	}

	seats := hamilton(quotas, a.total)

	out := Allocation{Total: a.total, Seats: make([]Seat, len(marks))}
	for i, m := range marks {
		n := seats[i]
		if a.weights[m.Category] < 0 {
			n = -n
		}
		out.Seats[i] = Seat{TargetID: m.TargetID, Category: m.Category, Quota: quotas[i], Seats: n}
	}
	if err := verify(out); err != nil {
		return Allocation{}, err
	}
	return out, nil
}

// hamilton floors every quota and hands the remaining seats, one each, to
// the largest fractional remainders. Ties keep insertion order.
func hamilton(quotas []float64, total int) []int {
	seats := make([]int, len(quotas))
	assigned := 0
	for i, q := range quotas {
		seats[i] = int(math.Floor(q))
		assigned += seats[i]
	}
	order := make([]int, len(quotas))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(x, y int) bool {
		rx := quotas[order[x]] - math.Floor(quotas[order[x]])
		ry := quotas[order[y]] - math.Floor(quotas[order[y]])
		return rx > ry
	})
	for k := 0; assigned < total && len(order) > 0; k++ {
		seats[order[k%len(order)]]++
		assigned++
	}
	return seats
}

// verify checks conservation of seat magnitudes and that every allocation
// stays within one seat of its quota.
func verify(a Allocation) error {
	if len(a.Seats) == 0 {
		return nil
	}
	sum := 0
	for _, s := range a.Seats {
		n := s.Seats
		if n < 0 {
			n = -n
		}
		if math.Abs(float64(n)-s.Quota) >= 1 {
			return fmt.Errorf("%w: target %q got %d seats for quota %.4f", ErrConservation, s.TargetID, n, s.Quota)
		}
		sum += n
	}
	if sum != a.Total {
		return fmt.Errorf("%w: distributed %d of %d seats", ErrConservation, sum, a.Total)
	}
	return nil
}
