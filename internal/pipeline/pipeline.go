package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/paveg/metabulo/internal/errors"
	"github.com/paveg/metabulo/internal/frame"
	"github.com/paveg/metabulo/internal/monitoring"
	"github.com/paveg/metabulo/internal/parallel"
)

// DefaultParallelThreshold is the cell count from which column-wise methods
// fan out over the worker pool.
const DefaultParallelThreshold = 100_000

// Pipeline applies stage methods to frames. It is safe for concurrent use;
// frames are never modified in place.
type Pipeline struct {
	registry  *Registry
	pool      *parallel.WorkerPool
	threshold int
	metrics   *monitoring.MetricsCollector
	logger    *slog.Logger
	mem       memory.Allocator
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithWorkerPool enables parallel column processing for large frames.
func WithWorkerPool(pool *parallel.WorkerPool) Option {
	return func(p *Pipeline) { p.pool = pool }
}

// WithParallelThreshold sets the cell count from which the worker pool is used.
func WithParallelThreshold(cells int) Option {
	return func(p *Pipeline) {
		if cells > 0 {
			p.threshold = cells
		}
	}
}

// WithMetrics records a timing for every applied stage.
func WithMetrics(mc *monitoring.MetricsCollector) Option {
	return func(p *Pipeline) { p.metrics = mc }
}

// WithLogger sets the logger used for stage tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithAllocator sets the Arrow allocator for output frames.
func WithAllocator(mem memory.Allocator) Option {
	return func(p *Pipeline) {
		if mem != nil {
			p.mem = mem
		}
	}
}

// New creates a pipeline over registry. A nil registry uses DefaultRegistry.
func New(registry *Registry, opts ...Option) *Pipeline {
	if registry == nil {
		registry = DefaultRegistry()
	}
	p := &Pipeline{
		registry:  registry,
		threshold: DefaultParallelThreshold,
		logger:    slog.Default(),
		mem:       memory.NewGoAllocator(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Registry returns the registry the pipeline resolves methods from.
func (p *Pipeline) Registry() *Registry {
	return p.registry
}

// Apply runs one stage method over f. The identity returns f itself.
// On error f is untouched and no frame is returned.
func (p *Pipeline) Apply(stage Stage, method string, f *frame.Frame) (*frame.Frame, error) {
	if IsNone(method) {
		return f, nil
	}
	m, err := p.registry.Lookup(stage, method)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, errors.NewInvalidInputError("pipeline.Apply", "nil frame")
	}

	cells := f.Len() * f.Width()
	useParallel := p.pool != nil && m.Column != nil && cells >= p.threshold && f.Width() > 1
	op := fmt.Sprintf("%s/%s", stage, m.Name)

	var out *frame.Frame
	err = p.metrics.RecordOperation(op, f.Len(), cells, useParallel, func() error {
		values, valid := f.ColumnData()
		g := m.apply(Grid{Values: values, Valid: valid}, func(fn ColumnFunc, in Grid) Grid {
			return p.mapColumns(fn, in, useParallel)
		})
		var buildErr error
		out, buildErr = frame.FromColumns(f.Columns(), f.RowLabels(), g.Values, g.Valid, p.mem)
		return buildErr
	})
	if err != nil {
		return nil, errors.NewInternalError("pipeline.Apply", err)
	}

	p.logger.Debug("stage applied",
		"stage", stage.String(),
		"method", m.Name,
		"rows", f.Len(),
		"columns", f.Width(),
		"parallel", useParallel,
		"missing", out.NullCount())
	return out, nil
}

func (p *Pipeline) mapColumns(fn ColumnFunc, g Grid, useParallel bool) Grid {
	type column struct {
		values []float64
		valid  []bool
	}
	in := make([]column, len(g.Values))
	for j := range g.Values {
		in[j] = column{g.Values[j], g.Valid[j]}
	}
	res := parallel.Map(p.pool, useParallel, in, func(_ int, c column) column {
		v, ok := fn(c.values, c.valid)
		return column{v, ok}
	})

	out := Grid{Values: make([][]float64, len(res)), Valid: make([][]bool, len(res))}
	for j, c := range res {
		out.Values[j], out.Valid[j] = c.values, c.valid
	}
	return out
}

// ApplyAll runs every stage of cfg in Order. The configuration is validated
// before any work is done. When every stage is the identity, f itself is
// returned; otherwise the result is a new frame and intermediate frames are
// released.
func (p *Pipeline) ApplyAll(cfg Config, f *frame.Frame) (*frame.Frame, error) {
	if err := p.registry.Validate(cfg); err != nil {
		return nil, err
	}

	cur := f
	for _, stage := range Order {
		next, err := p.Apply(stage, cfg.Method(stage), cur)
		if err != nil {
			if cur != f {
				cur.Release()
			}
			return nil, err
		}
		if next != cur && cur != f {
			cur.Release()
		}
		cur = next
	}
	return cur, nil
}
