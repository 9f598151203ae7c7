package pipeline

import "math"

// Scaling methods center each column on its mean and divide by a spread
// statistic computed from the observed values. Standard deviations use the
// sample (n-1) estimator. When the divisor is zero or undefined the column
// is only mean-centered.
func scalingMethods() []Method {
	return []Method{
		{Name: "auto", Idempotent: true, Column: scaleBy(func(s columnStats) float64 { return s.std })},
		{Name: "pareto", Column: scaleBy(func(s columnStats) float64 { return math.Sqrt(s.std) })},
		{Name: "range", Column: scaleBy(func(s columnStats) float64 { return s.max - s.min })},
		{Name: "vast", Column: scaleVast},
		{Name: "level", Column: scaleBy(func(s columnStats) float64 { return s.mean })},
	}
}

type columnStats struct {
	mean, std, min, max float64
}

func statsOf(values []float64, valid []bool) (columnStats, bool) {
	xs := observed(values, valid)
	if len(xs) == 0 {
		return columnStats{}, false
	}
	mu := mean(xs)
	lo, hi := minMax(xs)
	return columnStats{mean: mu, std: sampleStd(xs, mu), min: lo, max: hi}, true
}

func usable(d float64) bool {
	return d != 0 && !math.IsNaN(d) && !math.IsInf(d, 0)
}

func scaleBy(divisor func(columnStats) float64) ColumnFunc {
	return func(values []float64, valid []bool) ([]float64, []bool) {
		s, ok := statsOf(values, valid)
		if !ok {
			return copyColumn(values, valid)
		}
		d := divisor(s)
		return mapObserved(values, valid, func(x float64) float64 {
			if !usable(d) {
				return x - s.mean
			}
			return (x - s.mean) / d
		})
	}
}

// scaleVast is autoscaling weighted by the coefficient of variation.
func scaleVast(values []float64, valid []bool) ([]float64, []bool) {
	s, ok := statsOf(values, valid)
	if !ok {
		return copyColumn(values, valid)
	}
	return mapObserved(values, valid, func(x float64) float64 {
		if !usable(s.std) {
			return x - s.mean
		}
		return (x - s.mean) / s.std * (s.mean / s.std)
	})
}
