// Package frame provides the numeric measurement table: an ordered set of
// float64 series sharing one row axis, labelled by sample identifiers.
package frame

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/metabulo/internal/errors"
	"github.com/paveg/metabulo/internal/series"
)

// Frame represents a numeric table with named columns and labelled rows.
// Frames are immutable; transforms produce new frames.
type Frame struct {
	columns []*series.Series
	index   map[string]int
	rows    []string
}

// New creates a Frame from row labels and columns. All columns must have
// len(rows) entries.
func New(rows []string, columns ...*series.Series) (*Frame, error) {
	index := make(map[string]int, len(columns))
	for i, s := range columns {
		if s.Len() != len(rows) {
			return nil, errors.NewInvalidInputError("frame.New",
				fmt.Sprintf("column %q has %d rows, expected %d", s.Name(), s.Len(), len(rows)))
		}
		if _, dup := index[s.Name()]; dup {
			return nil, errors.NewInvalidInputError("frame.New",
				fmt.Sprintf("duplicate column name %q", s.Name()))
		}
		index[s.Name()] = i
	}

	return &Frame{
		columns: append([]*series.Series(nil), columns...),
		index:   index,
		rows:    append([]string(nil), rows...),
	}, nil
}

// FromColumns builds a Frame from column-major values and validity. A nil
// validity slice for a column means all its non-NaN values are observed.
func FromColumns(
	names, rows []string, values [][]float64, valid [][]bool, mem memory.Allocator,
) (*Frame, error) {
	if len(names) != len(values) {
		return nil, errors.NewInvalidInputError("frame.FromColumns",
			fmt.Sprintf("%d names for %d columns", len(names), len(values)))
	}
	if mem == nil {
		mem = memory.NewGoAllocator()
	}

	cols := make([]*series.Series, len(names))
	for j, name := range names {
		var v []bool
		if valid != nil {
			v = valid[j]
		}
		cols[j] = series.NewWithValidity(name, values[j], v, mem)
	}

	f, err := New(rows, cols...)
	if err != nil {
		for _, c := range cols {
			c.Release()
		}
		return nil, err
	}
	return f, nil
}

// Columns returns the names of all columns in order
func (f *Frame) Columns() []string {
	names := make([]string, len(f.columns))
	for i, s := range f.columns {
		names[i] = s.Name()
	}
	return names
}

// RowLabels returns the sample labels in order.
func (f *Frame) RowLabels() []string {
	return append([]string(nil), f.rows...)
}

// Len returns the number of rows
func (f *Frame) Len() int {
	return len(f.rows)
}

// Width returns the number of columns
func (f *Frame) Width() int {
	return len(f.columns)
}

// Column returns the series for the given column name
func (f *Frame) Column(name string) (*series.Series, bool) {
	i, ok := f.index[name]
	if !ok {
		return nil, false
	}
	return f.columns[i], true
}

// ColumnAt returns the series at position j.
func (f *Frame) ColumnAt(j int) *series.Series {
	return f.columns[j]
}

// HasColumn checks if a column exists
func (f *Frame) HasColumn(name string) bool {
	_, ok := f.index[name]
	return ok
}

// At returns the value at (row, column) and whether it is observed.
func (f *Frame) At(row, column int) (float64, bool) {
	if column < 0 || column >= len(f.columns) {
		return 0, false
	}
	return f.columns[column].Value(row)
}

// ColumnData returns column-major copies of all values and validity masks.
func (f *Frame) ColumnData() ([][]float64, [][]bool) {
	values := make([][]float64, len(f.columns))
	valid := make([][]bool, len(f.columns))
	for j, s := range f.columns {
		values[j], valid[j] = s.Values()
	}
	return values, valid
}

// Matrix returns a row-major copy of the values. Missing entries hold 0 and
// are reported through the returned mask.
func (f *Frame) Matrix() ([][]float64, [][]bool) {
	values, valid := f.ColumnData()
	outV := make([][]float64, len(f.rows))
	outM := make([][]bool, len(f.rows))
	for i := range f.rows {
		outV[i] = make([]float64, len(f.columns))
		outM[i] = make([]bool, len(f.columns))
		for j := range f.columns {
			outV[i][j] = values[j][i]
			outM[i][j] = valid[j][i]
		}
	}
	return outV, outM
}

// Clone returns an independent copy of f backed by mem.
func (f *Frame) Clone(mem memory.Allocator) (*Frame, error) {
	values, valid := f.ColumnData()
	return FromColumns(f.Columns(), f.rows, values, valid, mem)
}

// NullCount returns the number of missing cells.
func (f *Frame) NullCount() int {
	n := 0
	for _, s := range f.columns {
		n += s.NullCount()
	}
	return n
}

// Equal reports exact equality: same labels, names, validity and bit patterns.
func (f *Frame) Equal(other *Frame) bool {
	if f == other {
		return true
	}
	if other == nil || len(f.rows) != len(other.rows) || len(f.columns) != len(other.columns) {
		return false
	}
	for i := range f.rows {
		if f.rows[i] != other.rows[i] {
			return false
		}
	}
	for j := range f.columns {
		if !f.columns[j].Equal(other.columns[j]) {
			return false
		}
	}
	return true
}

// String returns a string representation of the Frame
func (f *Frame) String() string {
	if len(f.columns) == 0 {
		return "Frame[empty]"
	}
	parts := []string{fmt.Sprintf("Frame[%dx%d]", f.Len(), f.Width())}
	for _, s := range f.columns {
		parts = append(parts, fmt.Sprintf("  %s: %s", s.Name(), s.DataType().String()))
	}
	return strings.Join(parts, "\n")
}

// Release frees the memory used by the Frame's columns.
func (f *Frame) Release() {
	for _, s := range f.columns {
		s.Release()
	}
}
