package roles

import (
	"fmt"

	"github.com/paveg/metabulo/internal/errors"
)

// Change is a single role edit within a batch. Role holds the name of a
// RowRole or ColumnRole depending on Axis.
type Change struct {
	Axis  Axis   `json:"context"`
	Index int    `json:"index"`
	Role  string `json:"label"`
}

// RowChange builds a row edit.
func RowChange(index int, role RowRole) Change {
	return Change{Axis: AxisRow, Index: index, Role: role.String()}
}

// ColumnChange builds a column edit.
func ColumnChange(index int, role ColumnRole) Change {
	return Change{Axis: AxisColumn, Index: index, Role: role.String()}
}

// ApplyBatch applies changes in order to a copy of a. Assigning an exclusive
// role moves it: the previous holder reverts to DATA. The batch is atomic:
// on any error the returned assignment is a and nothing is modified.
func ApplyBatch(a Assignment, changes []Change) (Assignment, error) {
	next := a.Clone()

	for i, change := range changes {
		switch change.Axis {
		case AxisRow:
			if change.Index < 0 || change.Index >= len(next.Rows) {
				return a, errors.NewNotFoundError("BatchLabel", fmt.Sprintf("row %d", change.Index))
			}
			role, err := ParseRowRole(change.Role)
			if err != nil {
				return a, fmt.Errorf("change %d: %w", i, err)
			}
			next.setRow(change.Index, role)

		case AxisColumn:
			if change.Index < 0 || change.Index >= len(next.Columns) {
				return a, errors.NewNotFoundError("BatchLabel", fmt.Sprintf("column %d", change.Index))
			}
			role, err := ParseColumnRole(change.Role)
			if err != nil {
				return a, fmt.Errorf("change %d: %w", i, err)
			}
			next.setColumn(change.Index, role)

		default:
			return a, errors.NewInvalidInputError("BatchLabel", fmt.Sprintf("change %d: unknown axis %d", i, change.Axis))
		}
	}

	return next, nil
}

func (a *Assignment) setRow(index int, role RowRole) {
	if role == RowIndex {
		for i, r := range a.Rows {
			if r == RowIndex && i != index {
				a.Rows[i] = RowData
			}
		}
	}
	a.Rows[index] = role
}

func (a *Assignment) setColumn(index int, role ColumnRole) {
	if role == ColumnIndex || role == ColumnGroup {
		for j, c := range a.Columns {
			if c == role && j != index {
				a.Columns[j] = ColumnData
			}
		}
	}
	a.Columns[index] = role
}

// TouchesStructure reports whether applying changes to a moved the header
// row, the key column or the group column.
func TouchesStructure(before, after Assignment) bool {
	bh, bok := before.HeaderRow()
	ah, aok := after.HeaderRow()
	if bh != ah || bok != aok {
		return true
	}
	bk, bok := before.KeyColumn()
	ak, aok := after.KeyColumn()
	if bk != ak || bok != aok {
		return true
	}
	bg, bok := before.GroupColumn()
	ag, aok := after.GroupColumn()
	return bg != ag || bok != aok
}
