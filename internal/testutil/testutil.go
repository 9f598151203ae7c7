// Package testutil provides shared fixtures and assertions for tests across
// the metabulo packages:
// - Memory allocator setup and cleanup
// - Standard raw tables and measurement frames
// - Frame assertions with a numeric tolerance
package testutil

import (
	"fmt"
	"math"
	"strconv"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/metabulo/internal/frame"
	"github.com/paveg/metabulo/internal/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	// defaultRowCount is the default number of data rows in generated tables.
	defaultRowCount = 4
	// defaultColumnCount is the default number of measurement columns.
	defaultColumnCount = 3
)

// TestMemoryContext provides a memory allocator with leak checking.
type TestMemoryContext struct {
	Allocator memory.Allocator
	cleanup   func()
}

// Release performs cleanup of the memory context.
func (tmc *TestMemoryContext) Release() {
	if tmc.cleanup != nil {
		tmc.cleanup()
	}
}

// SetupMemoryTest creates a checked allocator. Release asserts that every
// Arrow buffer allocated through it was freed.
//
// Example usage:
//
//	mem := testutil.SetupMemoryTest(t)
//	defer mem.Release()
func SetupMemoryTest(tb testing.TB) *TestMemoryContext {
	tb.Helper()
	checked := memory.NewCheckedAllocator(memory.NewGoAllocator())

	return &TestMemoryContext{
		Allocator: checked,
		cleanup: func() {
			checked.AssertSize(tb, 0)
		},
	}
}

// SimpleRows is the smallest well-formed upload: a header row, a key column
// and two measurement columns.
func SimpleRows() [][]string {
	return [][]string{
		{"id", "col1", "col2"},
		{"row1", "0.5", "2.0"},
		{"row2", "1.5", "0.0"},
	}
}

// SimpleTable returns SimpleRows as a table.
func SimpleTable() *table.Table {
	return table.New(SimpleRows())
}

// TestTableOption configures generated tables.
type TestTableOption func(*testTableConfig)

type testTableConfig struct {
	rowCount    int
	columnCount int
	missing     bool
	withGroup   bool
}

// WithRowCount sets the number of data rows.
func WithRowCount(count int) TestTableOption {
	return func(cfg *testTableConfig) {
		cfg.rowCount = count
	}
}

// WithColumnCount sets the number of measurement columns.
func WithColumnCount(count int) TestTableOption {
	return func(cfg *testTableConfig) {
		cfg.columnCount = count
	}
}

// WithMissing blanks every fifth measurement cell.
func WithMissing() TestTableOption {
	return func(cfg *testTableConfig) {
		cfg.missing = true
	}
}

// WithGroupColumn adds a "group" column after the key column.
func WithGroupColumn() TestTableOption {
	return func(cfg *testTableConfig) {
		cfg.withGroup = true
	}
}

// CreateTestTable generates a deterministic table with a header row, an "id"
// key column and strictly positive measurements.
func CreateTestTable(opts ...TestTableOption) *table.Table {
	cfg := &testTableConfig{
		rowCount:    defaultRowCount,
		columnCount: defaultColumnCount,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	header := []string{"id"}
	if cfg.withGroup {
		header = append(header, "group")
	}
	for j := range cfg.columnCount {
		header = append(header, fmt.Sprintf("m%d", j+1))
	}

	rows := [][]string{header}
	cell := 0
	for i := range cfg.rowCount {
		row := []string{fmt.Sprintf("s%d", i+1)}
		if cfg.withGroup {
			row = append(row, []string{"a", "b"}[i%2])
		}
		for j := range cfg.columnCount {
			cell++
			if cfg.missing && cell%5 == 0 {
				row = append(row, "")
				continue
			}
			v := float64((i+1)*(j+2)) + float64(cell%3)/4
			row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
		}
		rows = append(rows, row)
	}
	return table.New(rows)
}

// CreateTestFrame builds a frame from row-major values. NaN marks a missing
// cell. Columns are named c1..cn and rows r1..rm.
func CreateTestFrame(tb testing.TB, allocator memory.Allocator, rows [][]float64) *frame.Frame {
	tb.Helper()

	width := 0
	if len(rows) > 0 {
		width = len(rows[0])
	}
	names := make([]string, width)
	for j := range names {
		names[j] = fmt.Sprintf("c%d", j+1)
	}
	labels := make([]string, len(rows))
	for i := range labels {
		labels[i] = fmt.Sprintf("r%d", i+1)
	}

	values := make([][]float64, width)
	for j := range values {
		values[j] = make([]float64, len(rows))
		for i := range rows {
			values[j][i] = rows[i][j]
		}
	}

	f, err := frame.FromColumns(names, labels, values, nil, allocator)
	require.NoError(tb, err)
	return f
}

// AssertFrameValues compares a frame against row-major expectations within
// delta. NaN in expected means the cell must be missing.
func AssertFrameValues(t *testing.T, expected [][]float64, actual *frame.Frame, delta float64) {
	t.Helper()

	require.NotNil(t, actual, "frame should not be nil")
	require.Equal(t, len(expected), actual.Len(), "row count should match")

	for i, row := range expected {
		require.Len(t, row, actual.Width(), "column count should match")
		for j, want := range row {
			got, ok := actual.At(i, j)
			if math.IsNaN(want) {
				assert.False(t, ok, "cell (%d, %d) should be missing", i, j)
				continue
			}
			if assert.True(t, ok, "cell (%d, %d) should be observed", i, j) {
				assert.InDelta(t, want, got, delta, "cell (%d, %d)", i, j)
			}
		}
	}
}

// AssertFrameEqual checks labels, names and values for exact equality.
func AssertFrameEqual(t *testing.T, expected, actual *frame.Frame) {
	t.Helper()

	require.NotNil(t, expected, "expected frame should not be nil")
	require.NotNil(t, actual, "actual frame should not be nil")

	assert.Equal(t, expected.Columns(), actual.Columns(), "columns should match")
	assert.Equal(t, expected.RowLabels(), actual.RowLabels(), "row labels should match")
	assert.True(t, expected.Equal(actual), "frames should be equal:\n%s\n%s", expected, actual)
}

// AssertFrameNotEmpty verifies that a frame has rows and columns.
func AssertFrameNotEmpty(t *testing.T, f *frame.Frame) {
	t.Helper()

	require.NotNil(t, f, "frame should not be nil")
	assert.Positive(t, f.Len(), "frame should not be empty")
	assert.Positive(t, f.Width(), "frame should have columns")
}
