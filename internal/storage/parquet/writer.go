package parquet

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
	defaults "github.com/xtxerr/statehist/config"
	"github.com/xtxerr/statehist/internal/constants"
	"github.com/xtxerr/statehist/internal/errors"
	"github.com/xtxerr/statehist/internal/state"
)

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType

	// PageSize is the target page size in bytes
	PageSize int

	// BatchSize is the number of rows buffered by ExportHistory before
	// each write
	BatchSize int
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{
		Compression: ParseCompressionType(defaults.DefaultExportCompression),
		PageSize:    1024 * 1024, // 1MB
		BatchSize:   defaults.DefaultExportBatchSize,
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case constants.CompressionSnappy:
		return CompressionSnappy
	case constants.CompressionZstd:
		return CompressionZstd
	case constants.CompressionLZ4:
		return CompressionLZ4
	case constants.CompressionGzip:
		return CompressionGzip
	case constants.CompressionNone, "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// =============================================================================
// Rows
// =============================================================================

// IntervalRow is one state interval in Parquet format. Value holds the
// textual form of any non-null value; the typed columns hold the payload
// of numeric and boolean values.
type IntervalRow struct {
	Quark       int32    `parquet:"quark"`
	Path        string   `parquet:"path,zstd"`
	Segments    []string `parquet:"segments,list"`
	Start       int64    `parquet:"start"`
	End         int64    `parquet:"end"`
	Type        string   `parquet:"type,zstd"`
	Value       string   `parquet:"value,optional,zstd"`
	LongValue   int64    `parquet:"long_value,optional"`
	DoubleValue float64  `parquet:"double_value,optional"`
	BoolValue   bool     `parquet:"bool_value,optional"`
}

// IntervalToRow converts an interval of the attribute at segments.
func IntervalToRow(iv state.Interval, segments []string) IntervalRow {
	row := IntervalRow{
		Quark:    int32(iv.Quark),
		Path:     strings.Join(segments, constants.PathSeparator),
		Segments: segments,
		Start:    iv.Start,
		End:      iv.End,
	}

	v := iv.Value
	switch v.Kind() {
	case state.KindNull:
		row.Type = constants.TypeNull
		return row
	case state.KindBool:
		row.Type = constants.TypeBoolean
		row.BoolValue, _ = v.AsBool()
	case state.KindInt:
		row.Type = constants.TypeInt
		i, _ := v.AsInt()
		row.LongValue = int64(i)
	case state.KindLong:
		row.Type = constants.TypeLong
		row.LongValue, _ = v.AsLong()
	case state.KindDouble:
		row.Type = constants.TypeDouble
		row.DoubleValue, _ = v.AsDouble()
	case state.KindString:
		row.Type = constants.TypeString
	default:
		row.Type = constants.TypeUnknown
	}
	row.Value = v.String()
	return row
}

// RowToInterval converts a row back to its interval.
func RowToInterval(r *IntervalRow) (state.Interval, error) {
	var v state.Value
	switch r.Type {
	case constants.TypeNull:
		v = state.Null()
	case constants.TypeBoolean:
		v = state.Bool(r.BoolValue)
	case constants.TypeInt:
		v = state.Int(int32(r.LongValue))
	case constants.TypeLong:
		v = state.Long(r.LongValue)
	case constants.TypeDouble:
		v = state.Double(r.DoubleValue)
	case constants.TypeString:
		v = state.String(r.Value)
	default:
		return state.Interval{}, fmt.Errorf("row %s [%d, %d]: %w",
			r.Path, r.Start, r.End, errors.NewValueType("state value type", r.Type))
	}
	return state.NewInterval(r.Start, r.End, int(r.Quark), v), nil
}

// =============================================================================
// Writer
// =============================================================================

// IntervalWriter writes interval rows to a Parquet file.
type IntervalWriter struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[IntervalRow]
	rowCount int64
	closed   bool
}

// NewIntervalWriter creates a new interval Parquet writer.
func NewIntervalWriter(path string, opts Options) (*IntervalWriter, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	writerOpts := []parquet.WriterOption{
		parquet.Compression(getCompression(opts.Compression)),
	}
	if opts.PageSize > 0 {
		writerOpts = append(writerOpts, parquet.PageBufferSize(opts.PageSize))
	}

	writer := parquet.NewGenericWriter[IntervalRow](f, writerOpts...)

	return &IntervalWriter{
		path:   path,
		file:   f,
		writer: writer,
	}, nil
}

// Write writes rows to the Parquet file.
func (w *IntervalWriter) Write(rows []IntervalRow) error {
	if len(rows) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	w.rowCount += int64(n)
	return nil
}

// Close flushes and closes the writer.
func (w *IntervalWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}

	return w.file.Close()
}

// RowCount returns the number of rows written.
func (w *IntervalWriter) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the file path.
func (w *IntervalWriter) Path() string {
	return w.path
}

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = fmt.Errorf("parquet writer is closed")
