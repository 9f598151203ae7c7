// Package io reads and writes the tables handled by metabulo.
//
// Raw uploads are read as untyped cell grids: no type inference happens on
// input, so a numeric-looking header or key column survives unchanged and
// role assignment decides what is numeric later. Measurement frames are
// written as CSV, JSON or Parquet with the row labels as a leading column.
package io

import (
	"bufio"
	"io"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/paveg/metabulo/internal/frame"
	"github.com/paveg/metabulo/internal/table"
)

const (
	// DefaultBatchSize is the default batch size for Parquet writes
	DefaultBatchSize = 1000
	// LabelColumn names the row label column of exported frames.
	LabelColumn = "sample"
)

// TableReader reads a raw table.
type TableReader interface {
	Read() (*table.Table, error)
}

// TableWriter writes a raw table.
type TableWriter interface {
	Write(t *table.Table) error
}

// FrameWriter writes a measurement frame.
type FrameWriter interface {
	WriteFrame(f *frame.Frame) error
}

// NewTableReader returns the reader for an upload. Input starting with the
// Parquet magic is read as an exported measurement frame; anything else is
// read as CSV with options.
func NewTableReader(reader io.Reader, options CSVOptions, mem memory.Allocator) TableReader {
	br := bufio.NewReader(reader)
	if magic, err := br.Peek(len(parquetMagic)); err == nil && string(magic) == parquetMagic {
		return parquetTableReader{NewParquetReader(br, DefaultParquetOptions(), mem)}
	}
	return NewCSVReader(br, options)
}

type parquetTableReader struct {
	*ParquetReader
}

func (r parquetTableReader) Read() (*table.Table, error) {
	return r.ReadTable()
}

// CSVOptions contains configuration options for CSV operations
type CSVOptions struct {
	// Delimiter is the field delimiter (default: comma)
	Delimiter rune
	// Comment is the comment character (default: 0 = disabled)
	Comment rune
	// SkipInitialSpace indicates whether to skip initial whitespace
	SkipInitialSpace bool
	// MaxCells bounds the size of an upload; 0 disables the limit.
	MaxCells int
}

// DefaultCSVOptions returns default CSV options
func DefaultCSVOptions() CSVOptions {
	return CSVOptions{
		Delimiter:        ',',
		Comment:          0,
		SkipInitialSpace: false,
	}
}

// CSVReader reads CSV data into a raw table
type CSVReader struct {
	reader  io.Reader
	options CSVOptions
}

// NewCSVReader creates a new CSV reader with the specified options
func NewCSVReader(reader io.Reader, options CSVOptions) *CSVReader {
	return &CSVReader{
		reader:  reader,
		options: options,
	}
}

// CSVWriter writes raw tables and frames to CSV format
type CSVWriter struct {
	writer  io.Writer
	options CSVOptions
}

// NewCSVWriter creates a new CSV writer with the specified options
func NewCSVWriter(writer io.Writer, options CSVOptions) *CSVWriter {
	return &CSVWriter{
		writer:  writer,
		options: options,
	}
}

// ParquetOptions contains configuration options for Parquet operations
type ParquetOptions struct {
	// Compression type for Parquet files
	Compression string
	// BatchSize for reading/writing operations
	BatchSize int
}

// DefaultParquetOptions returns default Parquet options
func DefaultParquetOptions() ParquetOptions {
	return ParquetOptions{
		Compression: "snappy",
		BatchSize:   DefaultBatchSize,
	}
}

// ParquetReader reads exported measurement frames back from Parquet
type ParquetReader struct {
	reader  io.Reader
	options ParquetOptions
	mem     memory.Allocator
}

// NewParquetReader creates a new Parquet reader with the specified options
func NewParquetReader(reader io.Reader, options ParquetOptions, mem memory.Allocator) *ParquetReader {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	return &ParquetReader{
		reader:  reader,
		options: options,
		mem:     mem,
	}
}

// ParquetWriter writes frames to Parquet format
type ParquetWriter struct {
	writer  io.Writer
	options ParquetOptions
	mem     memory.Allocator
}

// NewParquetWriter creates a new Parquet writer with the specified options
func NewParquetWriter(writer io.Writer, options ParquetOptions) *ParquetWriter {
	return &ParquetWriter{
		writer:  writer,
		options: options,
		mem:     memory.NewGoAllocator(),
	}
}
