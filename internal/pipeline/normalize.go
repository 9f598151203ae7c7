package pipeline

func normalizationMethods() []Method {
	return []Method{
		{Name: "minmax", Idempotent: true, Column: normalizeMinMax},
		{Name: "sum", Idempotent: true, Table: rowwise(sumOf)},
		{Name: "median", Idempotent: true, Table: rowwise(median)},
	}
}

// normalizeMinMax rescales a column to [0, 1]. A constant column maps to 0.
func normalizeMinMax(values []float64, valid []bool) ([]float64, []bool) {
	lo, hi := minMax(observed(values, valid))
	span := hi - lo
	return mapObserved(values, valid, func(x float64) float64 {
		if span == 0 {
			return 0
		}
		return (x - lo) / span
	})
}

func sumOf(xs []float64) float64 {
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s
}

// rowwise divides every row by a statistic of its observed values. Rows whose
// statistic is zero or undefined are left unchanged.
func rowwise(stat func([]float64) float64) TableFunc {
	return func(g Grid) Grid {
		cols := len(g.Values)
		out := Grid{Values: make([][]float64, cols), Valid: make([][]bool, cols)}
		for j := range g.Values {
			out.Values[j], out.Valid[j] = copyColumn(g.Values[j], g.Valid[j])
		}

		row := make([]float64, 0, cols)
		for i := 0; i < g.Rows(); i++ {
			row = row[:0]
			for j := 0; j < cols; j++ {
				if g.Valid[j][i] {
					row = append(row, g.Values[j][i])
				}
			}
			if len(row) == 0 {
				continue
			}
			d := stat(row)
			if d == 0 || d != d {
				continue
			}
			for j := 0; j < cols; j++ {
				if g.Valid[j][i] {
					out.Values[j][i] = g.Values[j][i] / d
				}
			}
		}
		return out
	}
}
