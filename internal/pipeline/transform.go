package pipeline

import "math"

// Values outside a transform's domain (non-positive for logarithms, negative
// for the square root) become missing.
func transformationMethods() []Method {
	return []Method{
		{Name: "log2", Column: elementwise(math.Log2, positive)},
		{Name: "log10", Column: elementwise(math.Log10, positive)},
		{Name: "squareroot", Column: elementwise(math.Sqrt, nonNegative)},
		{Name: "cuberoot", Column: elementwise(math.Cbrt, nil)},
	}
}

func positive(x float64) bool    { return x > 0 }
func nonNegative(x float64) bool { return x >= 0 }

func elementwise(fn func(float64) float64, domain func(float64) bool) ColumnFunc {
	return func(values []float64, valid []bool) ([]float64, []bool) {
		return mapObserved(values, valid, func(x float64) float64 {
			if domain != nil && !domain(x) {
				return math.NaN()
			}
			return fn(x)
		})
	}
}
