package pipeline

import (
	"math"
	"sort"
)

// KNNNeighbors is the number of neighbors averaged by the knn imputer.
const KNNNeighbors = 3

func mnarMethods() []Method {
	return []Method{
		{Name: "zero", Idempotent: true, Column: imputeZero},
		{Name: "half-minimum", Idempotent: true, Column: imputeHalfMinimum},
	}
}

func mcarMethods() []Method {
	return []Method{
		{Name: "mean", Idempotent: true, Column: imputeMean},
		{Name: "median", Idempotent: true, Column: imputeMedian},
		{Name: "knn", Idempotent: true, Table: imputeKNN},
	}
}

func imputeZero(values []float64, valid []bool) ([]float64, []bool) {
	return fillMissing(values, valid, 0)
}

// imputeHalfMinimum fills missing values with half the smallest observed value
// of the column.
func imputeHalfMinimum(values []float64, valid []bool) ([]float64, []bool) {
	lo, _ := minMax(observed(values, valid))
	return fillMissing(values, valid, lo/2)
}

func imputeMean(values []float64, valid []bool) ([]float64, []bool) {
	return fillMissing(values, valid, mean(observed(values, valid)))
}

func imputeMedian(values []float64, valid []bool) ([]float64, []bool) {
	return fillMissing(values, valid, median(observed(values, valid)))
}

type neighbor struct {
	row      int
	distance float64
}

// imputeKNN fills each missing cell with the mean of that column over the
// KNNNeighbors nearest rows observing it. Distance is the Euclidean distance
// over the co-observed columns, scaled by the fraction of columns compared.
// Cells with no usable neighbor fall back to the column mean. Neighbors are
// always searched in the input grid so fills never feed each other.
func imputeKNN(g Grid) Grid {
	cols := len(g.Values)
	rows := g.Rows()
	out := Grid{Values: make([][]float64, cols), Valid: make([][]bool, cols)}
	for j := range g.Values {
		out.Values[j], out.Valid[j] = copyColumn(g.Values[j], g.Valid[j])
	}

	for i := 0; i < rows; i++ {
		var candidates []neighbor
		for j := 0; j < cols; j++ {
			if g.Valid[j][i] {
				continue
			}
			if candidates == nil {
				candidates = rankNeighbors(g, i)
			}

			picked := make([]float64, 0, KNNNeighbors)
			for _, n := range candidates {
				if g.Valid[j][n.row] {
					picked = append(picked, g.Values[j][n.row])
					if len(picked) == KNNNeighbors {
						break
					}
				}
			}

			fill := mean(picked)
			if len(picked) == 0 {
				fill = mean(observed(g.Values[j], g.Valid[j]))
			}
			if !math.IsNaN(fill) {
				out.Values[j][i], out.Valid[j][i] = fill, true
			}
		}
	}
	return out
}

// rankNeighbors orders every other row by distance to row i. Rows sharing no
// observed column with i are excluded. Ties keep row order.
func rankNeighbors(g Grid, i int) []neighbor {
	cols := len(g.Values)
	var out []neighbor
	for r := 0; r < g.Rows(); r++ {
		if r == i {
			continue
		}
		shared := 0
		ss := 0.0
		for c := 0; c < cols; c++ {
			if g.Valid[c][i] && g.Valid[c][r] {
				d := g.Values[c][i] - g.Values[c][r]
				ss += d * d
				shared++
			}
		}
		if shared == 0 {
			continue
		}
		out = append(out, neighbor{row: r, distance: math.Sqrt(ss * float64(cols) / float64(shared))})
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].distance < out[b].distance })
	return out
}
