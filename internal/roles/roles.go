// Package roles assigns every row and column of a raw table a semantic role
// and applies batches of user edits to those assignments.
//
// Row roles: sample (data), header (index), metadata, masked (ignore).
// Column roles: measurement (data), key (index), group, metadata, masked.
// The header row, the key column and the group column are exclusive: at most
// one position on the axis holds each of them.
package roles

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash"

	"github.com/paveg/metabulo/internal/common"
	"github.com/paveg/metabulo/internal/errors"
	"github.com/paveg/metabulo/internal/table"
)

// RowRole is the role of a table row.
type RowRole int

const (
	RowData RowRole = iota
	RowIndex
	RowMetadata
	RowIgnore
)

func (r RowRole) String() string { return common.FormatRowRole(int(r)) }

// MarshalText implements encoding.TextMarshaler.
func (r RowRole) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *RowRole) UnmarshalText(b []byte) error {
	v, err := ParseRowRole(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// ParseRowRole parses a row role name.
func ParseRowRole(s string) (RowRole, error) {
	v, ok := common.ParseRowRole(s)
	if !ok {
		return 0, errors.NewInvalidInputError("ParseRowRole", fmt.Sprintf("unknown row role %q", s))
	}
	return RowRole(v), nil
}

// ColumnRole is the role of a table column.
type ColumnRole int

const (
	ColumnData ColumnRole = iota
	ColumnIndex
	ColumnGroup
	ColumnMetadata
	ColumnIgnore
)

func (c ColumnRole) String() string { return common.FormatColumnRole(int(c)) }

// MarshalText implements encoding.TextMarshaler.
func (c ColumnRole) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ColumnRole) UnmarshalText(b []byte) error {
	v, err := ParseColumnRole(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// ParseColumnRole parses a column role name.
func ParseColumnRole(s string) (ColumnRole, error) {
	v, ok := common.ParseColumnRole(s)
	if !ok {
		return 0, errors.NewInvalidInputError("ParseColumnRole", fmt.Sprintf("unknown column role %q", s))
	}
	return ColumnRole(v), nil
}

// Axis selects rows or columns.
type Axis int

const (
	AxisRow Axis = iota
	AxisColumn
)

func (a Axis) String() string { return common.FormatAxis(int(a)) }

// MarshalText implements encoding.TextMarshaler.
func (a Axis) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Axis) UnmarshalText(b []byte) error {
	v, ok := common.ParseAxis(string(b))
	if !ok {
		return errors.NewInvalidInputError("ParseAxis", fmt.Sprintf("unknown axis %q", string(b)))
	}
	*a = Axis(v)
	return nil
}

// Assignment is a total role function over the rows and columns of a table.
type Assignment struct {
	Rows    []RowRole    `json:"rows"`
	Columns []ColumnRole `json:"columns"`
}

// NewAssignment returns an assignment of the given shape with every position DATA.
func NewAssignment(rows, columns int) Assignment {
	return Assignment{
		Rows:    make([]RowRole, rows),
		Columns: make([]ColumnRole, columns),
	}
}

// Clone returns a deep copy.
func (a Assignment) Clone() Assignment {
	return Assignment{
		Rows:    append([]RowRole(nil), a.Rows...),
		Columns: append([]ColumnRole(nil), a.Columns...),
	}
}

// Equal reports whether two assignments are identical.
func (a Assignment) Equal(b Assignment) bool {
	if len(a.Rows) != len(b.Rows) || len(a.Columns) != len(b.Columns) {
		return false
	}
	for i := range a.Rows {
		if a.Rows[i] != b.Rows[i] {
			return false
		}
	}
	for j := range a.Columns {
		if a.Columns[j] != b.Columns[j] {
			return false
		}
	}
	return true
}

// HeaderRow returns the row holding the header role.
func (a Assignment) HeaderRow() (int, bool) {
	for i, r := range a.Rows {
		if r == RowIndex {
			return i, true
		}
	}
	return 0, false
}

// KeyColumn returns the column holding the key role.
func (a Assignment) KeyColumn() (int, bool) {
	return a.firstColumn(ColumnIndex)
}

// GroupColumn returns the column holding the group role.
func (a Assignment) GroupColumn() (int, bool) {
	return a.firstColumn(ColumnGroup)
}

func (a Assignment) firstColumn(role ColumnRole) (int, bool) {
	for j, c := range a.Columns {
		if c == role {
			return j, true
		}
	}
	return 0, false
}

// DataRows returns the positions of rows with the sample role.
func (a Assignment) DataRows() []int {
	out := make([]int, 0, len(a.Rows))
	for i, r := range a.Rows {
		if r == RowData {
			out = append(out, i)
		}
	}
	return out
}

// DataColumns returns the positions of columns with the measurement role.
func (a Assignment) DataColumns() []int {
	return a.ColumnsWith(ColumnData)
}

// ColumnsWith returns the positions of columns holding role.
func (a Assignment) ColumnsWith(role ColumnRole) []int {
	out := make([]int, 0, len(a.Columns))
	for j, c := range a.Columns {
		if c == role {
			out = append(out, j)
		}
	}
	return out
}

// WriteFingerprint feeds the assignment into h.
func (a Assignment) WriteFingerprint(h hash.Hash64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(len(a.Rows)))
	_, _ = h.Write(buf[:])
	for _, r := range a.Rows {
		_, _ = h.Write([]byte{byte(r)})
	}
	binary.LittleEndian.PutUint64(buf[:], uint64(len(a.Columns)))
	_, _ = h.Write(buf[:])
	for _, c := range a.Columns {
		_, _ = h.Write([]byte{byte(c)})
	}
}

// String returns a compact description of the exclusive roles.
func (a Assignment) String() string {
	b, _ := json.Marshal(a)
	return string(b)
}

// ClassifyDefault infers initial roles for a freshly uploaded table.
// Column 0 becomes the key column. Row 0 becomes the header row when any of
// its cells outside the key column is non-numeric; otherwise the table is
// treated as headerless. Everything else is DATA.
func ClassifyDefault(t *table.Table) Assignment {
	a := NewAssignment(t.Rows(), t.Columns())
	if t.Columns() > 0 {
		a.Columns[0] = ColumnIndex
	}
	if t.Rows() > 0 && looksLikeHeader(t) {
		a.Rows[0] = RowIndex
	}
	return a
}

func looksLikeHeader(t *table.Table) bool {
	start := 1
	if t.Columns() == 1 {
		start = 0
	}
	for j := start; j < t.Columns(); j++ {
		if !table.IsNumeric(t.Cell(0, j)) {
			return true
		}
	}
	return false
}
