package pipeline

import (
	"math"
	"sort"
)

// observed returns the valid values of a column.
func observed(values []float64, valid []bool) []float64 {
	out := make([]float64, 0, len(values))
	for i, v := range values {
		if valid[i] {
			out = append(out, v)
		}
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// sampleStd is the standard deviation with Bessel's correction (n-1).
func sampleStd(xs []float64, mu float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	ss := 0.0
	for _, x := range xs {
		d := x - mu
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

func minMax(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return math.NaN(), math.NaN()
	}
	lo, hi := xs[0], xs[0]
	for _, x := range xs[1:] {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	return lo, hi
}

func copyColumn(values []float64, valid []bool) ([]float64, []bool) {
	return append([]float64(nil), values...), append([]bool(nil), valid...)
}

// mapObserved applies fn to every observed value. Results that are not
// finite become missing.
func mapObserved(values []float64, valid []bool, fn func(float64) float64) ([]float64, []bool) {
	out, ok := copyColumn(values, valid)
	for i := range out {
		if !ok[i] {
			continue
		}
		v := fn(out[i])
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out[i], ok[i] = 0, false
			continue
		}
		out[i] = v
	}
	return out, ok
}

// fillMissing replaces missing entries with fill. A NaN fill leaves them missing.
func fillMissing(values []float64, valid []bool, fill float64) ([]float64, []bool) {
	out, ok := copyColumn(values, valid)
	if math.IsNaN(fill) {
		return out, ok
	}
	for i := range out {
		if !ok[i] {
			out[i], ok[i] = fill, true
		}
	}
	return out, ok
}
