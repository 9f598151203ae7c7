package roles_test

import (
	"encoding/json"
	"testing"

	"github.com/paveg/metabulo/internal/errors"
	"github.com/paveg/metabulo/internal/roles"
	"github.com/paveg/metabulo/internal/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTable() *table.Table {
	return table.New([][]string{
		{"id", "group", "col1", "col2"},
		{"row1", "a", "0.5", "2.0"},
		{"row2", "b", "1.5", "0.0"},
	})
}

func TestClassifyDefault(t *testing.T) {
	t.Run("header row and key column", func(t *testing.T) {
		a := roles.ClassifyDefault(sampleTable())

		assert.Equal(t, []roles.RowRole{roles.RowIndex, roles.RowData, roles.RowData}, a.Rows)
		assert.Equal(t, []roles.ColumnRole{
			roles.ColumnIndex, roles.ColumnData, roles.ColumnData, roles.ColumnData,
		}, a.Columns)
	})

	t.Run("numeric first row is not a header", func(t *testing.T) {
		a := roles.ClassifyDefault(table.New([][]string{
			{"row1", "0.5", "2.0"},
			{"row2", "1.5", "0.0"},
		}))

		_, ok := a.HeaderRow()
		assert.False(t, ok)
		key, ok := a.KeyColumn()
		assert.True(t, ok)
		assert.Equal(t, 0, key)
	})

	t.Run("empty table", func(t *testing.T) {
		a := roles.ClassifyDefault(table.New(nil))

		assert.Empty(t, a.Rows)
		assert.Empty(t, a.Columns)
	})

	t.Run("deterministic", func(t *testing.T) {
		assert.True(t, roles.ClassifyDefault(sampleTable()).Equal(roles.ClassifyDefault(sampleTable())))
	})
}

func TestApplyBatch(t *testing.T) {
	base := roles.ClassifyDefault(sampleTable())

	t.Run("key column moves", func(t *testing.T) {
		next, err := roles.ApplyBatch(base, []roles.Change{roles.ColumnChange(2, roles.ColumnIndex)})
		require.NoError(t, err)

		assert.Equal(t, roles.ColumnData, next.Columns[0])
		assert.Equal(t, roles.ColumnIndex, next.Columns[2])
		assert.Equal(t, roles.ColumnIndex, base.Columns[0], "input assignment must not change")
	})

	t.Run("group column moves", func(t *testing.T) {
		next, err := roles.ApplyBatch(base, []roles.Change{
			roles.ColumnChange(1, roles.ColumnGroup),
			roles.ColumnChange(3, roles.ColumnGroup),
		})
		require.NoError(t, err)

		g, ok := next.GroupColumn()
		require.True(t, ok)
		assert.Equal(t, 3, g)
		assert.Equal(t, roles.ColumnData, next.Columns[1])
		assert.Len(t, next.ColumnsWith(roles.ColumnGroup), 1)
	})

	t.Run("header row moves", func(t *testing.T) {
		next, err := roles.ApplyBatch(base, []roles.Change{roles.RowChange(1, roles.RowIndex)})
		require.NoError(t, err)

		h, ok := next.HeaderRow()
		require.True(t, ok)
		assert.Equal(t, 1, h)
		assert.Equal(t, roles.RowData, next.Rows[0])
	})

	t.Run("out of range aborts whole batch", func(t *testing.T) {
		two := roles.ClassifyDefault(table.New([][]string{{"id", "a"}, {"r", "1"}}))
		next, err := roles.ApplyBatch(two, []roles.Change{
			roles.ColumnChange(1, roles.ColumnGroup),
			roles.RowChange(999, roles.RowIgnore),
		})

		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrNotFound)
		assert.True(t, next.Equal(two))
		assert.Equal(t, roles.ColumnData, two.Columns[1])
	})

	t.Run("unknown role aborts", func(t *testing.T) {
		_, err := roles.ApplyBatch(base, []roles.Change{{Axis: roles.AxisRow, Index: 1, Role: "group"}})
		assert.ErrorIs(t, err, errors.ErrInvalidInput)
	})

	t.Run("unknown axis aborts", func(t *testing.T) {
		_, err := roles.ApplyBatch(base, []roles.Change{{Axis: roles.Axis(7), Index: 0, Role: "key"}})
		assert.ErrorIs(t, err, errors.ErrInvalidInput)
	})

	t.Run("exclusivity holds after any sequence", func(t *testing.T) {
		changes := []roles.Change{
			roles.ColumnChange(1, roles.ColumnIndex),
			roles.ColumnChange(2, roles.ColumnGroup),
			roles.ColumnChange(3, roles.ColumnIndex),
			roles.ColumnChange(1, roles.ColumnGroup),
			roles.RowChange(2, roles.RowIndex),
			roles.RowChange(1, roles.RowIndex),
			roles.ColumnChange(0, roles.ColumnIndex),
		}
		a := base
		for _, c := range changes {
			var err error
			a, err = roles.ApplyBatch(a, []roles.Change{c})
			require.NoError(t, err)

			assert.LessOrEqual(t, len(a.ColumnsWith(roles.ColumnIndex)), 1)
			assert.LessOrEqual(t, len(a.ColumnsWith(roles.ColumnGroup)), 1)
			headers := 0
			for _, r := range a.Rows {
				if r == roles.RowIndex {
					headers++
				}
			}
			assert.LessOrEqual(t, headers, 1)
		}
	})
}

func TestTouchesStructure(t *testing.T) {
	base := roles.ClassifyDefault(sampleTable())

	masked, err := roles.ApplyBatch(base, []roles.Change{roles.ColumnChange(3, roles.ColumnIgnore)})
	require.NoError(t, err)
	assert.False(t, roles.TouchesStructure(base, masked))

	grouped, err := roles.ApplyBatch(base, []roles.Change{roles.ColumnChange(1, roles.ColumnGroup)})
	require.NoError(t, err)
	assert.True(t, roles.TouchesStructure(base, grouped))
}

func TestChangeJSON(t *testing.T) {
	var changes []roles.Change
	err := json.Unmarshal([]byte(`[{"context":"column","index":1,"label":"group"},{"context":"row","index":0,"label":"header"}]`), &changes)
	require.NoError(t, err)

	assert.Equal(t, roles.AxisColumn, changes[0].Axis)
	assert.Equal(t, "group", changes[0].Role)
	assert.Equal(t, roles.AxisRow, changes[1].Axis)

	out, err := json.Marshal(roles.RowChange(2, roles.RowIgnore))
	require.NoError(t, err)
	assert.JSONEq(t, `{"context":"row","index":2,"label":"masked"}`, string(out))
}

func TestDataPositions(t *testing.T) {
	a, err := roles.ApplyBatch(roles.ClassifyDefault(sampleTable()), []roles.Change{
		roles.ColumnChange(1, roles.ColumnGroup),
		roles.RowChange(2, roles.RowIgnore),
	})
	require.NoError(t, err)

	assert.Equal(t, []int{1}, a.DataRows())
	assert.Equal(t, []int{2, 3}, a.DataColumns())
}
