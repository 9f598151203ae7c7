// Package materialize derives the numeric measurement table of a dataset:
// it selects DATA rows and DATA columns from the raw table, coerces the cells
// to numbers and runs the configured transform pipeline over the result.
package materialize

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/cespare/xxhash/v2"

	"github.com/paveg/metabulo/internal/errors"
	"github.com/paveg/metabulo/internal/frame"
	"github.com/paveg/metabulo/internal/monitoring"
	"github.com/paveg/metabulo/internal/pipeline"
	"github.com/paveg/metabulo/internal/roles"
	"github.com/paveg/metabulo/internal/table"
)

// Input is everything a measurement table depends on.
type Input struct {
	Table  *table.Table
	Roles  roles.Assignment
	Config pipeline.Config
}

// Fingerprint hashes the table content, the roles and the pipeline
// configuration. Equal inputs always produce equal fingerprints.
func (in Input) Fingerprint() uint64 {
	h := xxhash.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], in.Table.Hash())
	_, _ = h.Write(buf[:])
	in.Roles.WriteFingerprint(h)
	in.Config.WriteFingerprint(h)
	return h.Sum64()
}

func (in Input) check(op string) error {
	if in.Table == nil {
		return errors.NewInvalidInputError(op, "nil table")
	}
	if len(in.Roles.Rows) != in.Table.Rows() || len(in.Roles.Columns) != in.Table.Columns() {
		return errors.NewInvalidInputError(op, fmt.Sprintf("roles cover %dx%d cells, table is %dx%d",
			len(in.Roles.Rows), len(in.Roles.Columns), in.Table.Rows(), in.Table.Columns()))
	}
	return nil
}

// Materializer builds measurement tables. It holds no per-dataset state.
type Materializer struct {
	pipeline *pipeline.Pipeline
	metrics  *monitoring.MetricsCollector
	logger   *slog.Logger
	mem      memory.Allocator
}

// Option configures a Materializer.
type Option func(*Materializer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Materializer) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics records a timing for every materialization.
func WithMetrics(mc *monitoring.MetricsCollector) Option {
	return func(m *Materializer) { m.metrics = mc }
}

// WithAllocator sets the Arrow allocator for selected frames.
func WithAllocator(mem memory.Allocator) Option {
	return func(m *Materializer) {
		if mem != nil {
			m.mem = mem
		}
	}
}

// New creates a Materializer running p. A nil pipeline uses the default registry.
func New(p *pipeline.Pipeline, opts ...Option) *Materializer {
	if p == nil {
		p = pipeline.New(nil)
	}
	m := &Materializer{
		pipeline: p,
		logger:   slog.Default(),
		mem:      memory.NewGoAllocator(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Pipeline returns the pipeline the materializer runs.
func (m *Materializer) Pipeline() *pipeline.Pipeline {
	return m.pipeline
}

// Select builds the untransformed measurement table: DATA rows by DATA
// columns, coerced to numbers. The first non-numeric cell fails with a
// CoercionError naming its table position.
func (m *Materializer) Select(in Input) (*frame.Frame, error) {
	if err := in.check("Materialize"); err != nil {
		return nil, err
	}

	rows := in.Roles.DataRows()
	cols := in.Roles.DataColumns()

	values := make([][]float64, len(cols))
	valid := make([][]bool, len(cols))
	for c := range cols {
		values[c] = make([]float64, len(rows))
		valid[c] = make([]bool, len(rows))
	}
	for r, i := range rows {
		for c, j := range cols {
			cell := in.Table.Cell(i, j)
			v, missing, ok := table.ParseNumber(cell)
			if !ok {
				return nil, errors.NewCoercionError("Materialize", i, j, cell)
			}
			values[c][r], valid[c][r] = v, !missing
		}
	}

	return frame.FromColumns(ColumnNames(in.Table, in.Roles, cols), RowLabels(in.Table, in.Roles, rows), values, valid, m.mem)
}

// Materialize selects and coerces the measurement cells and applies every
// pipeline stage. An invalid configuration fails before any cell is read.
func (m *Materializer) Materialize(in Input) (*frame.Frame, error) {
	if err := m.pipeline.Registry().Validate(in.Config); err != nil {
		return nil, err
	}

	var out *frame.Frame
	cells := len(in.Roles.DataRows()) * len(in.Roles.DataColumns())
	err := m.metrics.RecordOperation("materialize", len(in.Roles.DataRows()), cells, false, func() error {
		raw, err := m.Select(in)
		if err != nil {
			return err
		}
		out, err = m.pipeline.ApplyAll(in.Config, raw)
		if err != nil {
			raw.Release()
			return err
		}
		if out != raw {
			raw.Release()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Debug("measurement table materialized",
		"rows", out.Len(),
		"columns", out.Width(),
		"missing", out.NullCount())
	return out, nil
}

// Cached returns the measurement table from c when its fingerprint matches,
// materializing and storing it otherwise. The returned frame is owned by c.
func (m *Materializer) Cached(c *Cache, in Input) (*frame.Frame, error) {
	if in.Table == nil {
		return nil, errors.NewInvalidInputError("Materialize", "nil table")
	}
	fp := in.Fingerprint()
	if f, ok := c.Get(fp); ok {
		m.logger.Debug("measurement cache hit", "fingerprint", fmt.Sprintf("%016x", fp))
		return f, nil
	}

	f, err := m.Materialize(in)
	if err != nil {
		return nil, err
	}
	c.Put(fp, f)
	hits, misses := c.Stats()
	m.logger.Debug("measurement cached", "fingerprint", fmt.Sprintf("%016x", fp), "hits", hits, "misses", misses)
	return f, nil
}

// ColumnNames names the given table columns from the header row. Columns
// without a usable header cell, or repeating an earlier name, are named
// column_<index>.
func ColumnNames(t *table.Table, a roles.Assignment, cols []int) []string {
	header, hasHeader := a.HeaderRow()
	names := make([]string, len(cols))
	seen := make(map[string]bool, len(cols))
	for c, j := range cols {
		name := ""
		if hasHeader {
			name = t.Cell(header, j)
		}
		if name == "" || seen[name] {
			name = fmt.Sprintf("column_%d", j)
		}
		seen[name] = true
		names[c] = name
	}
	return names
}

// RowLabels labels the given table rows by their key cell, or row_<index>
// when there is no key column or the cell is empty.
func RowLabels(t *table.Table, a roles.Assignment, rows []int) []string {
	key, hasKey := a.KeyColumn()
	labels := make([]string, len(rows))
	for r, i := range rows {
		label := ""
		if hasKey {
			label = t.Cell(i, key)
		}
		if label == "" {
			label = fmt.Sprintf("row_%d", i)
		}
		labels[r] = label
	}
	return labels
}
