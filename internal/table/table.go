// Package table holds the raw uploaded table: an immutable, rectangular grid
// of cell strings addressed by (row, column). Numeric interpretation of cells
// happens later, during validation and materialization.
package table

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	xxhash "github.com/cespare/xxhash/v2"
)

// Table is an immutable grid of raw cells.
type Table struct {
	cells [][]string
	width int
	hash  uint64
}

// New creates a Table from rows of cells. Short rows are padded with empty
// cells so the result is rectangular. The input is copied.
func New(rows [][]string) *Table {
	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}

	cells := make([][]string, len(rows))
	for i, row := range rows {
		cells[i] = make([]string, width)
		copy(cells[i], row)
	}

	t := &Table{cells: cells, width: width}
	t.hash = t.computeHash()
	return t
}

// Rows returns the number of rows.
func (t *Table) Rows() int {
	return len(t.cells)
}

// Columns returns the number of columns.
func (t *Table) Columns() int {
	return t.width
}

// Cell returns the raw content at (row, column). Out-of-range positions
// read as empty.
func (t *Table) Cell(row, column int) string {
	if row < 0 || row >= len(t.cells) || column < 0 || column >= t.width {
		return ""
	}
	return t.cells[row][column]
}

// Row returns a copy of the given row.
func (t *Table) Row(row int) []string {
	if row < 0 || row >= len(t.cells) {
		return nil
	}
	return append([]string(nil), t.cells[row]...)
}

// Records returns a deep copy of all cells.
func (t *Table) Records() [][]string {
	out := make([][]string, len(t.cells))
	for i := range t.cells {
		out[i] = append([]string(nil), t.cells[i]...)
	}
	return out
}

// Hash returns the xxhash64 digest of the table content.
func (t *Table) Hash() uint64 {
	return t.hash
}

// Equal reports whether two tables hold identical cells.
func (t *Table) Equal(other *Table) bool {
	if t == other {
		return true
	}
	if other == nil || t.width != other.width || len(t.cells) != len(other.cells) || t.hash != other.hash {
		return false
	}
	for i := range t.cells {
		for j := range t.cells[i] {
			if t.cells[i][j] != other.cells[i][j] {
				return false
			}
		}
	}
	return true
}

// String returns a short description of the table.
func (t *Table) String() string {
	return fmt.Sprintf("Table[%dx%d]", t.Rows(), t.Columns())
}

// computeHash digests dimensions and every cell with a length prefix so that
// cell boundaries are unambiguous.
func (t *Table) computeHash() uint64 {
	d := xxhash.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(len(t.cells)))
	_, _ = d.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(t.width))
	_, _ = d.Write(buf[:])
	for _, row := range t.cells {
		for _, cell := range row {
			binary.LittleEndian.PutUint64(buf[:], uint64(len(cell)))
			_, _ = d.Write(buf[:])
			_, _ = d.WriteString(cell)
		}
	}
	return d.Sum64()
}

// missingTokens are cell contents read as a missing value.
var missingTokens = map[string]struct{}{
	"":     {},
	"na":   {},
	"nan":  {},
	"null": {},
	"none": {},
}

// IsMissing reports whether a raw cell denotes a missing value.
func IsMissing(cell string) bool {
	_, ok := missingTokens[strings.ToLower(strings.TrimSpace(cell))]
	return ok
}

// ParseNumber interprets a raw cell. It returns missing=true for missing
// tokens and ok=false when the cell is neither missing nor numeric.
func ParseNumber(cell string) (value float64, missing bool, ok bool) {
	if IsMissing(cell) {
		return 0, true, true
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
	if err != nil {
		return 0, false, false
	}
	return v, false, true
}

// IsNumeric reports whether a cell is numeric-coercible. Missing cells count
// as coercible.
func IsNumeric(cell string) bool {
	_, _, ok := ParseNumber(cell)
	return ok
}
