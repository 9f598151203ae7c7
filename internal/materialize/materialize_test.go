package materialize_test

import (
	"math"
	"testing"

	"github.com/paveg/metabulo/internal/errors"
	"github.com/paveg/metabulo/internal/materialize"
	"github.com/paveg/metabulo/internal/monitoring"
	"github.com/paveg/metabulo/internal/pipeline"
	"github.com/paveg/metabulo/internal/roles"
	"github.com/paveg/metabulo/internal/table"
	"github.com/paveg/metabulo/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMaterializer(t *testing.T) (*materialize.Materializer, func()) {
	t.Helper()
	mem := testutil.SetupMemoryTest(t)
	p := pipeline.New(nil, pipeline.WithAllocator(mem.Allocator))
	return materialize.New(p, materialize.WithAllocator(mem.Allocator)), mem.Release
}

func simpleInput(cfg pipeline.Config) materialize.Input {
	tbl := testutil.SimpleTable()
	return materialize.Input{Table: tbl, Roles: roles.ClassifyDefault(tbl), Config: cfg}
}

func TestMaterializeSelectsDataCells(t *testing.T) {
	m, done := newMaterializer(t)
	defer done()

	f, err := m.Materialize(simpleInput(pipeline.Config{}))
	require.NoError(t, err)
	defer f.Release()

	assert.Equal(t, []string{"col1", "col2"}, f.Columns())
	assert.Equal(t, []string{"row1", "row2"}, f.RowLabels())
	testutil.AssertFrameValues(t, [][]float64{{0.5, 2.0}, {1.5, 0.0}}, f, 0)
}

func TestMaterializeAppliesPipeline(t *testing.T) {
	m, done := newMaterializer(t)
	defer done()

	t.Run("minmax", func(t *testing.T) {
		f, err := m.Materialize(simpleInput(pipeline.Config{Normalization: "minmax"}))
		require.NoError(t, err)
		defer f.Release()
		testutil.AssertFrameValues(t, [][]float64{{0, 1}, {1, 0}}, f, 0)
	})

	t.Run("auto scaling", func(t *testing.T) {
		f, err := m.Materialize(simpleInput(pipeline.Config{Scaling: "auto"}))
		require.NoError(t, err)
		defer f.Release()
		v, _ := f.At(0, 0)
		assert.InDelta(t, -0.7071, v, 1e-4)
	})

	t.Run("squareroot", func(t *testing.T) {
		f, err := m.Materialize(simpleInput(pipeline.Config{Transformation: "squareroot"}))
		require.NoError(t, err)
		defer f.Release()
		v, _ := f.At(0, 0)
		assert.Equal(t, math.Sqrt(0.5), v)
	})

	t.Run("invalid method", func(t *testing.T) {
		_, err := m.Materialize(simpleInput(pipeline.Config{Scaling: "nope"}))
		assert.ErrorIs(t, err, errors.ErrInvalidMethod)
	})
}

func TestMaterializeRespectsRoles(t *testing.T) {
	m, done := newMaterializer(t)
	defer done()

	tbl := table.New([][]string{
		{"id", "group", "col1", "note", "col2"},
		{"row1", "a", "0.5", "x", "2.0"},
		{"row2", "b", "1.5", "y", ""},
		{"blank", "b", "9", "z", "9"},
	})
	a, err := roles.ApplyBatch(roles.ClassifyDefault(tbl), []roles.Change{
		roles.ColumnChange(1, roles.ColumnGroup),
		roles.ColumnChange(3, roles.ColumnMetadata),
		roles.RowChange(3, roles.RowIgnore),
	})
	require.NoError(t, err)

	f, err := m.Materialize(materialize.Input{Table: tbl, Roles: a})
	require.NoError(t, err)
	defer f.Release()

	assert.Equal(t, []string{"col1", "col2"}, f.Columns())
	assert.Equal(t, []string{"row1", "row2"}, f.RowLabels())
	testutil.AssertFrameValues(t, [][]float64{{0.5, 2.0}, {1.5, math.NaN()}}, f, 0)
}

func TestMaterializeCoercionError(t *testing.T) {
	m, done := newMaterializer(t)
	defer done()

	tbl := table.New([][]string{
		{"id", "col1", "col2"},
		{"row1", "0.5", "abc"},
		{"row2", "zzz", "0.0"},
	})

	_, err := m.Materialize(materialize.Input{Table: tbl, Roles: roles.ClassifyDefault(tbl)})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCoercion)
	assert.Contains(t, err.Error(), "row 1, column 2")
	assert.Contains(t, err.Error(), `"abc"`)
}

func TestMaterializeNamesWithoutHeader(t *testing.T) {
	m, done := newMaterializer(t)
	defer done()

	tbl := table.New([][]string{
		{"", "1", "2"},
		{"r2", "3", "4"},
	})
	a := roles.ClassifyDefault(tbl)

	f, err := m.Materialize(materialize.Input{Table: tbl, Roles: a})
	require.NoError(t, err)
	defer f.Release()

	assert.Equal(t, []string{"column_1", "column_2"}, f.Columns())
	assert.Equal(t, []string{"row_0", "r2"}, f.RowLabels())
}

func TestColumnNamesDeduplicate(t *testing.T) {
	tbl := table.New([][]string{{"id", "m", "m", ""}, {"s", "1", "2", "3"}})
	a := roles.ClassifyDefault(tbl)

	assert.Equal(t, []string{"m", "column_2", "column_3"}, materialize.ColumnNames(tbl, a, a.DataColumns()))
}

func TestFingerprint(t *testing.T) {
	base := simpleInput(pipeline.Config{})
	assert.Equal(t, base.Fingerprint(), simpleInput(pipeline.Config{Scaling: "none"}).Fingerprint())
	assert.NotEqual(t, base.Fingerprint(), simpleInput(pipeline.Config{Scaling: "auto"}).Fingerprint())

	edited, err := roles.ApplyBatch(base.Roles, []roles.Change{roles.ColumnChange(2, roles.ColumnIgnore)})
	require.NoError(t, err)
	assert.NotEqual(t, base.Fingerprint(), materialize.Input{Table: base.Table, Roles: edited}.Fingerprint())

	other := table.New([][]string{{"id", "col1", "col2"}, {"row1", "0.5", "2.0"}, {"row2", "1.5", "0.1"}})
	assert.NotEqual(t, base.Fingerprint(), materialize.Input{Table: other, Roles: base.Roles}.Fingerprint())
}

func TestCached(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()
	metrics := monitoring.NewMetricsCollector(true)
	p := pipeline.New(nil, pipeline.WithAllocator(mem.Allocator))
	m := materialize.New(p, materialize.WithAllocator(mem.Allocator), materialize.WithMetrics(metrics))

	cache := materialize.NewCache()
	defer cache.Invalidate()

	in := simpleInput(pipeline.Config{Normalization: "minmax"})
	first, err := m.Cached(cache, in)
	require.NoError(t, err)
	second, err := m.Cached(cache, in)
	require.NoError(t, err)
	assert.Same(t, first, second)

	hits, misses := cache.Stats()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, misses)
	assert.Equal(t, 1, metrics.GetSummary().OperationCounts["materialize"])

	changed := in
	changed.Config = pipeline.Config{Scaling: "auto"}
	third, err := m.Cached(cache, changed)
	require.NoError(t, err)
	assert.NotSame(t, first, third)

	cache.Invalidate()
	_, ok := cache.Get(changed.Fingerprint())
	assert.False(t, ok)
}

func TestSampleMetadata(t *testing.T) {
	m, done := newMaterializer(t)
	defer done()

	tbl := table.New([][]string{
		{"id", "group", "col1", "batch", "col2"},
		{"row1", "a", "0.5", "b1", "2.0"},
		{"row2", "", "1.5", "b2", "0.0"},
		{"row3", "b", "1", "b1", "1"},
	})
	a, err := roles.ApplyBatch(roles.ClassifyDefault(tbl), []roles.Change{
		roles.ColumnChange(1, roles.ColumnGroup),
		roles.ColumnChange(3, roles.ColumnMetadata),
		roles.RowChange(3, roles.RowIgnore),
	})
	require.NoError(t, err)

	md, err := m.SampleMetadata(materialize.Input{Table: tbl, Roles: a})
	require.NoError(t, err)

	assert.Equal(t, 2, md.Len())
	assert.Equal(t, []int{1, 2}, md.Rows)
	assert.Equal(t, []string{"row1", "row2"}, md.Keys)
	assert.Equal(t, "group", md.GroupField)
	assert.Equal(t, []string{"a", ""}, md.Groups)
	assert.Equal(t, []string{"batch"}, md.Fields)
	assert.Equal(t, [][]string{{"b1"}, {"b2"}}, md.Values)
	assert.Equal(t, map[string][]string{
		"group": {"a", ""},
		"batch": {"b1", "b2"},
	}, md.Labels())

	t.Run("without group column", func(t *testing.T) {
		md, err := m.SampleMetadata(simpleInput(pipeline.Config{}))
		require.NoError(t, err)
		assert.Nil(t, md.Groups)
		assert.Empty(t, md.Labels())
	})

	t.Run("mismatched roles", func(t *testing.T) {
		_, err := m.SampleMetadata(materialize.Input{Table: tbl, Roles: roles.NewAssignment(1, 1)})
		assert.ErrorIs(t, err, errors.ErrInvalidInput)
	})
}
