package learner

import (
	"math"
	"sort"
)

// AverageRanks returns 1-based ranks of values, giving tied values the mean
// of the ranks they span.
func AverageRanks(values []float64) []float64 {
	n := len(values)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return values[order[a]] < values[order[b]] })

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && values[order[j+1]] == values[order[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[order[k]] = avg
		}
		i = j + 1
	}
	return ranks
}

// Probit is the inverse standard-normal CDF. p must lie in (0,1).
func Probit(p float64) float64 {
	return math.Sqrt2 * math.Erfinv(2*p-1)
}

// VanDerWaerden maps each value to Φ⁻¹(rank/(N+1)) using average ranks.
// A single value maps to 0.
func VanDerWaerden(values []float64) []float64 {
	ranks := AverageRanks(values)
	n := float64(len(values))
	z := make([]float64, len(values))
	for i, r := range ranks {
		z[i] = Probit(r / (n + 1))
	}
	return z
}
