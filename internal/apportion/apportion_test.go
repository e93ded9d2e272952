package apportion

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApportioner(t *testing.T) *Apportioner {
	t.Helper()
	a, err := New(DefaultTotalSeats)
	require.NoError(t, err)
	return a
}

func absSum(a Allocation) int {
	sum := 0
	for _, s := range a.Seats {
		if s.Seats < 0 {
			sum -= s.Seats
		} else {
			sum += s.Seats
		}
	}
	return sum
}

// ─── Conservation ────────────────────────────────────────────────────────────

func TestApportion_ConservesTotalForRandomEvents(t *testing.T) {
	a := newApportioner(t)
	rng := rand.New(rand.NewPCG(7, 11))
	cats := Categories()

	for round := 0; round < 500; round++ {
		n := 1 + rng.IntN(25)
		marks := make([]Mark, n)
		for i := range marks {
			marks[i] = Mark{TargetID: fmt.Sprintf("n%d", i), Category: cats[rng.IntN(len(cats))]}
		}
		alloc, err := a.Apportion(marks)
		require.NoError(t, err)
		require.Equal(t, DefaultTotalSeats, absSum(alloc), "round %d", round)
		for _, s := range alloc.Seats {
			assert.Less(t, math.Abs(math.Abs(float64(s.Seats))-s.Quota), 1.0)
		}
	}
}

func TestApportion_Empty(t *testing.T) {
	a := newApportioner(t)
	alloc, err := a.Apportion(nil)
	require.NoError(t, err)
	assert.Zero(t, alloc.Len())
	assert.Empty(t, alloc.ByTarget())
}

func TestApportion_SingleMarkGetsEverything(t *testing.T) {
	a := newApportioner(t)
	for _, c := range Categories() {
		alloc, err := a.Apportion([]Mark{{TargetID: "x", Category: c}})
		require.NoError(t, err)
		want := DefaultTotalSeats
		if a.Weight(c) < 0 {
			want = -want
		}
		assert.Equal(t, want, alloc.ByTarget()["x"], c.String())
	}
}

func TestApportion_RemainderTieBreakKeepsInsertionOrder(t *testing.T) {
	a := newApportioner(t)
	// Three equal marks: quotas 33.33 each, one leftover seat.
	alloc, err := a.Apportion([]Mark{
		{TargetID: "first", Category: Useful},
		{TargetID: "second", Category: Useful},
		{TargetID: "third", Category: Useful},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"first": 34, "second": 33, "third": 33}, alloc.ByTarget())
}

func TestApportion_SignedSeats(t *testing.T) {
	a := newApportioner(t)
	alloc, err := a.Apportion([]Mark{
		{TargetID: "good", Category: VeryUseful},
		{TargetID: "bad", Category: Misleading},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"good": 50, "bad": -50}, alloc.ByTarget())
}

func TestApportion_RepeatedTargetAccumulates(t *testing.T) {
	a := newApportioner(t)
	alloc, err := a.Apportion([]Mark{
		{TargetID: "x", Category: Useful},
		{TargetID: "y", Category: Useful},
		{TargetID: "x", Category: Useful},
		{TargetID: "z", Category: Useful},
	})
	require.NoError(t, err)
	assert.Equal(t, 50, alloc.ByTarget()["x"])
	assert.Equal(t, []string{"x", "y", "z"}, alloc.Targets())
}

// A strongly positive mark keeps the same share of seats relative to its
// peers whether the event carries two marks or twenty.
func TestApportion_DensityDoesNotDistortRelativeShare(t *testing.T) {
	a := newApportioner(t)

	small, err := a.Apportion([]Mark{{TargetID: "v", Category: VeryUseful}, {TargetID: "s", Category: SomewhatUseful}})
	require.NoError(t, err)
	assert.Equal(t, 75, small.ByTarget()["v"])
	assert.Equal(t, 25, small.ByTarget()["s"])

	marks := []Mark{{TargetID: "v", Category: VeryUseful}}
	for i := 0; i < 19; i++ {
		marks = append(marks, Mark{TargetID: fmt.Sprintf("s%d", i), Category: SomewhatUseful})
	}
	large, err := a.Apportion(marks)
	require.NoError(t, err)
	assert.Equal(t, DefaultTotalSeats, absSum(large))
	ratio := float64(large.ByTarget()["v"]) / float64(large.ByTarget()["s0"])
	assert.InDelta(t, 3.0, ratio, 0.8)
}

func TestApportion_ZeroWeightsDistributeEvenly(t *testing.T) {
	a, err := New(10, WithWeights(map[Category]float64{Useful: 0}))
	require.NoError(t, err)
	alloc, err := a.Apportion([]Mark{
		{TargetID: "a", Category: Useful},
		{TargetID: "b", Category: Useful},
		{TargetID: "c", Category: Useful},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 4, "b": 3, "c": 3}, alloc.ByTarget())
}

func TestApportion_RejectsBadMarks(t *testing.T) {
	a := newApportioner(t)
	_, err := a.Apportion([]Mark{{TargetID: "", Category: Useful}})
	assert.Error(t, err)
	_, err = a.Apportion([]Mark{{TargetID: "x", Category: Category(42)}})
	assert.Error(t, err)

	_, err = New(0)
	assert.Error(t, err)
}

func TestVerify_DetectsBrokenAllocation(t *testing.T) {
	broken := Allocation{Total: 100, Seats: []Seat{
		{TargetID: "a", Quota: 50, Seats: 50},
		{TargetID: "b", Quota: 50, Seats: 49},
	}}
	assert.ErrorIs(t, verify(broken), ErrConservation)

	drifted := Allocation{Total: 100, Seats: []Seat{
		{TargetID: "a", Quota: 50, Seats: 52},
		{TargetID: "b", Quota: 50, Seats: 48},
	}}
	assert.ErrorIs(t, verify(drifted), ErrConservation)
}

// ─── Categories ──────────────────────────────────────────────────────────────

func TestParseCategory(t *testing.T) {
	cases := map[string]Category{
		"very useful":      VeryUseful,
		"Very_Useful":      VeryUseful,
		"somewhat-useful":  SomewhatUseful,
		"  not   useful  ": NotUseful,
		"misleading":       Misleading,
		"useful":           Useful,
	}
	for in, want := range cases {
		got, err := ParseCategory(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseCategory("brilliant")
	assert.Error(t, err)
}

func TestCategory_JSON(t *testing.T) {
	var m Mark
	require.NoError(t, json.Unmarshal([]byte(`{"target_id":"n1","category":"very useful"}`), &m))
	assert.Equal(t, Mark{TargetID: "n1", Category: VeryUseful}, m)

	b, err := json.Marshal(Mark{TargetID: "n2", Category: NotUseful})
	require.NoError(t, err)
	assert.JSONEq(t, `{"target_id":"n2","category":"not useful"}`, string(b))
}
