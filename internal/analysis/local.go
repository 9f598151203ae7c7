package analysis

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/paveg/metabulo/internal/errors"
	"github.com/paveg/metabulo/internal/frame"
)

// LocalPCA computes PCA in process by power iteration with deflation. It
// needs complete data: missing values must be imputed first.
type LocalPCA struct {
	MaxIters  int
	Tolerance float64
}

// NewLocalPCA returns a LocalPCA with default iteration limits.
func NewLocalPCA() *LocalPCA {
	return &LocalPCA{MaxIters: 1000, Tolerance: 1e-12}
}

// PCA centers the columns of f and extracts up to maxComponents components.
// Components are sign-normalized so that their largest loading is positive,
// which makes results reproducible.
func (p *LocalPCA) PCA(ctx context.Context, f *frame.Frame, maxComponents int) (*PCAResult, error) {
	n, d := f.Len(), f.Width()
	if n < 2 || d == 0 {
		return nil, errors.NewInvalidInputError("PCA",
			fmt.Sprintf("need at least 2 samples and 1 column, got %dx%d", n, d))
	}
	if f.NullCount() > 0 {
		return nil, errors.NewInvalidInputError("PCA",
			fmt.Sprintf("%d missing values", f.NullCount())).
			WithHint("configure an imputation method")
	}

	x, _ := f.Matrix()
	z := center(x)

	total := 0.0
	for i := range z {
		for _, v := range z[i] {
			total += v * v
		}
	}
	total /= float64(n - 1)

	k := min(n, d)
	if maxComponents > 0 {
		k = min(k, maxComponents)
	}

	rng := rand.New(rand.NewPCG(1, 2))
	deflated := clone(z)
	res := &PCAResult{Rows: f.RowLabels()}
	for range k {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v := p.leadingVector(deflated, rng)
		lam := 0.0
		for i := range deflated {
			s := dot(deflated[i], v)
			lam += s * s
		}
		lam /= float64(n - 1)
		if lam <= p.Tolerance*math.Max(total, 1) {
			break
		}

		res.Loadings = append(res.Loadings, v)
		if total > 0 {
			res.ExplainedVariance = append(res.ExplainedVariance, lam/total)
		} else {
			res.ExplainedVariance = append(res.ExplainedVariance, 0)
		}
		for i := range deflated {
			s := dot(deflated[i], v)
			for j := range deflated[i] {
				deflated[i][j] -= s * v[j]
			}
		}
	}

	res.Scores = make([][]float64, n)
	for i := range z {
		res.Scores[i] = make([]float64, len(res.Loadings))
		for c, v := range res.Loadings {
			res.Scores[i][c] = dot(z[i], v)
		}
	}
	return res, nil
}

func (p *LocalPCA) leadingVector(z [][]float64, rng *rand.Rand) []float64 {
	d := len(z[0])
	v := make([]float64, d)
	for j := range v {
		v[j] = rng.Float64() + 0.5
	}
	v = normalize(v)

	zv := make([]float64, len(z))
	for range p.MaxIters {
		for i := range z {
			zv[i] = dot(z[i], v)
		}
		w := make([]float64, d)
		for i := range z {
			for j := range w {
				w[j] += z[i][j] * zv[i]
			}
		}
		w = normalize(w)
		if w == nil {
			return v
		}

		delta := 0.0
		for j := range w {
			delta += math.Abs(w[j] - v[j])
		}
		v = w
		if delta < p.Tolerance {
			break
		}
	}
	return signNormalize(v)
}

func center(x [][]float64) [][]float64 {
	n, d := len(x), len(x[0])
	means := make([]float64, d)
	for i := range x {
		for j := range x[i] {
			means[j] += x[i][j]
		}
	}
	for j := range means {
		means[j] /= float64(n)
	}
	z := make([][]float64, n)
	for i := range x {
		z[i] = make([]float64, d)
		for j := range x[i] {
			z[i][j] = x[i][j] - means[j]
		}
	}
	return z
}

func clone(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i := range x {
		out[i] = append([]float64(nil), x[i]...)
	}
	return out
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// normalize returns v scaled to unit length, or nil for a zero vector.
func normalize(v []float64) []float64 {
	norm := math.Sqrt(dot(v, v))
	if norm == 0 {
		return nil
	}
	out := make([]float64, len(v))
	for i := range v {
		out[i] = v[i] / norm
	}
	return out
}

func signNormalize(v []float64) []float64 {
	largest := 0
	for j := range v {
		if math.Abs(v[j]) > math.Abs(v[largest]) {
			largest = j
		}
	}
	if v[largest] < 0 {
		for j := range v {
			v[j] = -v[j]
		}
	}
	return v
}
