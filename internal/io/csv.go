package io

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/paveg/metabulo/internal/errors"
	"github.com/paveg/metabulo/internal/frame"
	"github.com/paveg/metabulo/internal/table"
)

// Read reads every CSV record into a table. Records may have different
// lengths; short rows are padded with empty cells.
func (r *CSVReader) Read() (*table.Table, error) {
	csvReader := csv.NewReader(r.reader)
	csvReader.Comma = r.options.Delimiter
	csvReader.Comment = r.options.Comment
	csvReader.TrimLeadingSpace = r.options.SkipInitialSpace
	csvReader.FieldsPerRecord = -1

	var records [][]string
	cells := 0
	for {
		record, err := csvReader.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.NewInvalidInputError("io.CSVReader", fmt.Sprintf("reading CSV: %v", err))
		}
		cells += len(record)
		if r.options.MaxCells > 0 && cells > r.options.MaxCells {
			return nil, errors.NewInvalidInputError("io.CSVReader",
				fmt.Sprintf("upload exceeds %d cells", r.options.MaxCells))
		}
		records = append(records, record)
	}

	return table.New(records), nil
}

// Write writes the raw cells of t unchanged.
func (w *CSVWriter) Write(t *table.Table) error {
	csvWriter := csv.NewWriter(w.writer)
	csvWriter.Comma = w.options.Delimiter

	for i := range t.Rows() {
		if err := csvWriter.Write(t.Row(i)); err != nil {
			return fmt.Errorf("writing row %d: %w", i, err)
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}

// WriteFrame writes f with a header row and the row labels in the first
// column. Missing values are written as empty cells.
func (w *CSVWriter) WriteFrame(f *frame.Frame) error {
	csvWriter := csv.NewWriter(w.writer)
	csvWriter.Comma = w.options.Delimiter

	header := append([]string{LabelColumn}, f.Columns()...)
	if err := csvWriter.Write(header); err != nil {
		return fmt.Errorf("writing headers: %w", err)
	}

	labels := f.RowLabels()
	matrix, valid := f.Matrix()
	for i, row := range matrix {
		record := make([]string, 0, len(row)+1)
		record = append(record, labels[i])
		for j, v := range row {
			if !valid[i][j] {
				record = append(record, "")
				continue
			}
			record = append(record, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("writing row %d: %w", i, err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}
