package materialize

import (
	"github.com/paveg/metabulo/internal/roles"
	"github.com/paveg/metabulo/internal/table"
)

// Metadata holds the non-measurement annotations of the DATA rows, aligned
// with the rows of the measurement table.
type Metadata struct {
	Rows       []int      `json:"rows"`
	Keys       []string   `json:"keys"`
	GroupField string     `json:"group_field,omitempty"`
	Groups     []string   `json:"groups,omitempty"`
	Fields     []string   `json:"fields"`
	Values     [][]string `json:"values"`
}

// SampleMetadata collects, for every DATA row, the key, the group (when a
// GROUP column is assigned) and the value of every METADATA column.
func (m *Materializer) SampleMetadata(in Input) (*Metadata, error) {
	if err := in.check("SampleMetadata"); err != nil {
		return nil, err
	}

	rows := in.Roles.DataRows()
	metaCols := in.Roles.ColumnsWith(roles.ColumnMetadata)

	group, hasGroup := in.Roles.GroupColumn()
	named := metaCols
	if hasGroup {
		named = append([]int{group}, metaCols...)
	}
	names := ColumnNames(in.Table, in.Roles, named)

	md := &Metadata{
		Rows:   rows,
		Keys:   RowLabels(in.Table, in.Roles, rows),
		Values: make([][]string, len(rows)),
	}
	if hasGroup {
		md.GroupField, names = names[0], names[1:]
		md.Groups = make([]string, len(rows))
	}
	md.Fields = names

	for r, i := range rows {
		if hasGroup {
			md.Groups[r] = in.Table.Cell(i, group)
		}
		values := make([]string, len(metaCols))
		for c, j := range metaCols {
			values[c] = in.Table.Cell(i, j)
		}
		md.Values[r] = values
	}
	return md, nil
}

// Len returns the number of samples.
func (md *Metadata) Len() int {
	return len(md.Rows)
}

// Labels returns the annotations column by column: the group column first
// when one is assigned, then every METADATA column. Each list is aligned
// with the samples; missing cells are kept as empty strings.
func (md *Metadata) Labels() map[string][]string {
	labels := make(map[string][]string, len(md.Fields)+1)
	if md.Groups != nil {
		labels[md.GroupField] = blankMissing(md.Groups)
	}
	for c, name := range md.Fields {
		column := make([]string, len(md.Values))
		for r, values := range md.Values {
			column[r] = values[c]
		}
		labels[name] = blankMissing(column)
	}
	return labels
}

func blankMissing(cells []string) []string {
	out := make([]string, len(cells))
	for i, cell := range cells {
		if !table.IsMissing(cell) {
			out[i] = cell
		}
	}
	return out
}
