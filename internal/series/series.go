// Package series provides the numeric column type of measurement tables.
//
// A Series is a named float64 column backed by an Apache Arrow array. Missing
// values are Arrow nulls, which keeps them distinct from 0 and from any other
// float value.
package series

import (
	"fmt"
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Series represents a float64 data column with Apache Arrow backend
type Series struct {
	name  string
	array *array.Float64
}

// New creates a fully observed Series from a slice of values. NaN values are
// stored as missing.
func New(name string, values []float64, mem memory.Allocator) *Series {
	return NewWithValidity(name, values, nil, mem)
}

// NewWithValidity creates a Series where valid[i] == false marks values[i]
// as missing. A nil valid slice means every non-NaN value is observed.
func NewWithValidity(name string, values []float64, valid []bool, mem memory.Allocator) *Series {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}

	builder := array.NewFloat64Builder(mem)
	defer builder.Release()
	builder.Reserve(len(values))

	for i, v := range values {
		if (valid != nil && !valid[i]) || math.IsNaN(v) {
			builder.AppendNull()
			continue
		}
		builder.Append(v)
	}

	return &Series{
		name:  name,
		array: builder.NewFloat64Array(),
	}
}

// Name returns the column name
func (s *Series) Name() string {
	return s.name
}

// Len returns the length of the series
func (s *Series) Len() int {
	return s.array.Len()
}

// Value returns the value at index and whether it is observed.
func (s *Series) Value(index int) (float64, bool) {
	if index < 0 || index >= s.array.Len() || s.array.IsNull(index) {
		return 0, false
	}
	return s.array.Value(index), true
}

// Values returns the data and validity as Go slices. Missing positions hold 0.
func (s *Series) Values() ([]float64, []bool) {
	n := s.array.Len()
	values := make([]float64, n)
	valid := make([]bool, n)
	for i := 0; i < n; i++ {
		if s.array.IsNull(i) {
			continue
		}
		values[i] = s.array.Value(i)
		valid[i] = true
	}
	return values, valid
}

// Observed returns the non-missing values in order.
func (s *Series) Observed() []float64 {
	out := make([]float64, 0, s.array.Len()-s.array.NullN())
	for i := 0; i < s.array.Len(); i++ {
		if !s.array.IsNull(i) {
			out = append(out, s.array.Value(i))
		}
	}
	return out
}

// NullCount returns the number of missing values.
func (s *Series) NullCount() int {
	return s.array.NullN()
}

// IsNull checks if the value at index is missing
func (s *Series) IsNull(index int) bool {
	return s.array.IsNull(index)
}

// DataType returns the Arrow data type
func (s *Series) DataType() arrow.DataType {
	return s.array.DataType()
}

// Equal reports exact equality of name, validity and bit patterns.
func (s *Series) Equal(other *Series) bool {
	if s == other {
		return true
	}
	if other == nil || s.name != other.name || s.Len() != other.Len() {
		return false
	}
	for i := 0; i < s.Len(); i++ {
		a, aok := s.Value(i)
		b, bok := other.Value(i)
		if aok != bok {
			return false
		}
		if aok && math.Float64bits(a) != math.Float64bits(b) {
			return false
		}
	}
	return true
}

// String returns a string representation of the series
func (s *Series) String() string {
	return fmt.Sprintf("Series[float64]: %s (len=%d, missing=%d)", s.name, s.Len(), s.NullCount())
}

// Array returns the underlying Arrow array (retains a reference)
func (s *Series) Array() arrow.Array {
	if s.array != nil {
		s.array.Retain()
		return s.array
	}
	return nil
}

// Release releases the underlying Arrow memory
func (s *Series) Release() {
	if s.array != nil {
		s.array.Release()
	}
}
