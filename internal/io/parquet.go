package io

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/paveg/metabulo/internal/errors"
	"github.com/paveg/metabulo/internal/frame"
	"github.com/paveg/metabulo/internal/table"
)

// parquetMagic opens every Parquet file.
const parquetMagic = "PAR1"

// Read reads a Parquet file written by WriteFrame back into a frame. The
// first column must be the utf8 label column; the rest must be float64.
func (r *ParquetReader) Read() (*frame.Frame, error) {
	data, err := io.ReadAll(r.reader)
	if err != nil {
		return nil, fmt.Errorf("reading data: %w", err)
	}

	pqReader, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating parquet file reader: %w", err)
	}

	arrowReader, err := pqarrow.NewFileReader(pqReader, pqarrow.ArrowReadProperties{}, r.mem)
	if err != nil {
		return nil, fmt.Errorf("creating arrow file reader: %w", err)
	}

	tbl, err := arrowReader.ReadTable(context.Background())
	if err != nil {
		return nil, fmt.Errorf("reading table: %w", err)
	}
	defer tbl.Release()

	return r.arrowTableToFrame(tbl)
}

// ReadTable reads an exported measurement frame as a raw table: a header
// row led by the label column, then one row per sample. Missing values
// become empty cells.
func (r *ParquetReader) ReadTable() (*table.Table, error) {
	f, err := r.Read()
	if err != nil {
		return nil, err
	}
	defer f.Release()

	names := f.Columns()
	labels := f.RowLabels()
	records := make([][]string, 0, f.Len()+1)
	records = append(records, append([]string{LabelColumn}, names...))
	for i := range f.Len() {
		rec := make([]string, 0, len(names)+1)
		rec = append(rec, labels[i])
		for j := range names {
			v, ok := f.At(i, j)
			if !ok {
				rec = append(rec, "")
				continue
			}
			rec = append(rec, strconv.FormatFloat(v, 'g', -1, 64))
		}
		records = append(records, rec)
	}
	return table.New(records), nil
}

func (r *ParquetReader) arrowTableToFrame(tbl arrow.Table) (*frame.Frame, error) {
	if tbl.NumCols() == 0 || tbl.Column(0).Name() != LabelColumn {
		return nil, errors.NewInvalidInputError("io.ParquetReader", "missing "+LabelColumn+" column")
	}

	rows := int(tbl.NumRows())
	labels := make([]string, 0, rows)
	for _, chunk := range tbl.Column(0).Data().Chunks() {
		arr, ok := chunk.(*array.String)
		if !ok {
			return nil, errors.NewInvalidInputError("io.ParquetReader", "label column is not utf8")
		}
		for i := range arr.Len() {
			labels = append(labels, arr.Value(i))
		}
	}

	width := int(tbl.NumCols()) - 1
	names := make([]string, width)
	values := make([][]float64, width)
	valid := make([][]bool, width)
	for j := range width {
		col := tbl.Column(j + 1)
		names[j] = col.Name()
		values[j] = make([]float64, 0, rows)
		valid[j] = make([]bool, 0, rows)
		for _, chunk := range col.Data().Chunks() {
			arr, ok := chunk.(*array.Float64)
			if !ok {
				return nil, errors.NewInvalidInputError("io.ParquetReader",
					fmt.Sprintf("column %s is %s, want float64", col.Name(), chunk.DataType()))
			}
			for i := range arr.Len() {
				values[j] = append(values[j], arr.Value(i))
				valid[j] = append(valid[j], arr.IsValid(i))
			}
		}
	}

	return frame.FromColumns(names, labels, values, valid, r.mem)
}

// WriteFrame writes f as a Parquet file with a leading utf8 label column and
// one nullable float64 column per measurement column.
func (w *ParquetWriter) WriteFrame(f *frame.Frame) error {
	tbl := w.frameToArrowTable(f)
	defer tbl.Release()

	var compression compress.Compression
	switch w.options.Compression {
	case "snappy":
		compression = compress.Codecs.Snappy
	case "gzip":
		compression = compress.Codecs.Gzip
	case "zstd":
		compression = compress.Codecs.Zstd
	case "uncompressed":
		compression = compress.Codecs.Uncompressed
	default:
		compression = compress.Codecs.Snappy
	}

	props := parquet.NewWriterProperties(
		parquet.WithCompression(compression),
		parquet.WithBatchSize(int64(w.options.BatchSize)),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithAllocator(w.mem))

	writer, err := pqarrow.NewFileWriter(tbl.Schema(), w.writer, props, arrowProps)
	if err != nil {
		return fmt.Errorf("creating file writer: %w", err)
	}

	chunk := int64(w.options.BatchSize)
	if chunk <= 0 {
		chunk = DefaultBatchSize
	}
	if err := writer.WriteTable(tbl, chunk); err != nil {
		_ = writer.Close()
		return fmt.Errorf("writing table: %w", err)
	}
	return writer.Close()
}

func (w *ParquetWriter) frameToArrowTable(f *frame.Frame) arrow.Table {
	fields := make([]arrow.Field, 0, f.Width()+1)
	columns := make([]arrow.Column, 0, f.Width()+1)

	labels := array.NewStringBuilder(w.mem)
	defer labels.Release()
	labels.AppendValues(f.RowLabels(), nil)
	fields = append(fields, arrow.Field{Name: LabelColumn, Type: arrow.BinaryTypes.String})
	columns = append(columns, newColumn(fields[0], labels.NewArray()))

	for j, name := range f.Columns() {
		field := arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Float64, Nullable: true}
		fields = append(fields, field)
		columns = append(columns, newColumn(field, f.ColumnAt(j).Array()))
	}

	schema := arrow.NewSchema(fields, nil)
	tbl := array.NewTable(schema, columns, int64(f.Len()))
	for i := range columns {
		columns[i].Release()
	}
	return tbl
}

func newColumn(field arrow.Field, arr arrow.Array) arrow.Column {
	chunked := arrow.NewChunked(field.Type, []arrow.Array{arr})
	arr.Release()
	col := arrow.NewColumn(field, chunked)
	chunked.Release()
	return *col
}
