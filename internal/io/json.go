package io

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/paveg/metabulo/internal/frame"
)

// JSONFormat represents the JSON output format.
type JSONFormat int

const (
	// JSONArray writes one array of row records.
	JSONArray JSONFormat = iota
	// JSONLines writes one record per line.
	JSONLines
)

// JSONOptions contains configuration options for JSON output.
type JSONOptions struct {
	Format JSONFormat
}

// DefaultJSONOptions returns default JSON options.
func DefaultJSONOptions() JSONOptions {
	return JSONOptions{Format: JSONArray}
}

// JSONWriter writes frames as row records keyed by column name, with the
// row label under LabelColumn. Missing values are null.
type JSONWriter struct {
	writer  io.Writer
	options JSONOptions
}

// NewJSONWriter creates a new JSON writer.
func NewJSONWriter(writer io.Writer, options JSONOptions) *JSONWriter {
	return &JSONWriter{writer: writer, options: options}
}

// WriteFrame writes f in the configured format.
func (w *JSONWriter) WriteFrame(f *frame.Frame) error {
	records := frameToRecords(f)

	switch w.options.Format {
	case JSONArray:
		data, err := json.Marshal(records)
		if err != nil {
			return fmt.Errorf("marshaling JSON array: %w", err)
		}
		_, err = w.writer.Write(data)
		return err
	case JSONLines:
		enc := json.NewEncoder(w.writer)
		for _, record := range records {
			if err := enc.Encode(record); err != nil {
				return fmt.Errorf("marshaling JSON record: %w", err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported JSON format: %d", w.options.Format)
	}
}

func frameToRecords(f *frame.Frame) []map[string]any {
	names := f.Columns()
	labels := f.RowLabels()
	matrix, valid := f.Matrix()

	records := make([]map[string]any, len(matrix))
	for i, row := range matrix {
		record := make(map[string]any, len(row)+1)
		record[LabelColumn] = labels[i]
		for j, v := range row {
			if valid[i][j] {
				record[names[j]] = v
			} else {
				record[names[j]] = nil
			}
		}
		records[i] = record
	}
	return records
}
