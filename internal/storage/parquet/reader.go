package parquet

import (
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
	"github.com/xtxerr/statehist/internal/errors"
)

const readBufferSize = 1024 * 1024

// IntervalReader reads interval rows from a Parquet file.
type IntervalReader struct {
	file   *os.File
	reader *parquet.GenericReader[IntervalRow]
	path   string
}

// NewIntervalReader creates a new interval Parquet reader.
func NewIntervalReader(path string) (*IntervalReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	// Buffering is a file option; the generic reader takes the opened file.
	pf, err := parquet.OpenFile(f, stat.Size(), parquet.ReadBufferSize(readBufferSize))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open parquet file: %w", err)
	}
	reader := parquet.NewGenericReader[IntervalRow](pf)

	return &IntervalReader{
		file:   f,
		reader: reader,
		path:   path,
	}, nil
}

// Read reads up to n rows. It returns io.EOF once every row was read.
func (r *IntervalReader) Read(n int) ([]IntervalRow, error) {
	rows := make([]IntervalRow, n)
	count, err := r.reader.Read(rows)
	if err != nil && !(errors.Is(err, io.EOF) && count > 0) {
		return nil, err
	}
	return rows[:count], nil
}

// ReadAll reads every row of the file.
func (r *IntervalReader) ReadAll() ([]IntervalRow, error) {
	numRows := r.reader.NumRows()
	rows := make([]IntervalRow, numRows)

	n, err := r.reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return rows[:n], nil
}

// NumRows returns the total number of rows in the file.
func (r *IntervalReader) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *IntervalReader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Path returns the file path.
func (r *IntervalReader) Path() string {
	return r.path
}

// FileInfo holds information about a Parquet file.
type FileInfo struct {
	Path    string
	Size    int64
	NumRows int64

	// Start and End bound the intervals of the file. Both are zero for an
	// empty file.
	Start int64
	End   int64
}

// GetFileInfo returns information about an interval Parquet file.
func GetFileInfo(path string) (*FileInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	r, err := NewIntervalReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	info := &FileInfo{
		Path:    path,
		Size:    stat.Size(),
		NumRows: r.NumRows(),
	}

	var seen int64
	for seen < info.NumRows {
		rows, err := r.Read(4096)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			break
		}
		for i := range rows {
			if seen == 0 && i == 0 {
				info.Start, info.End = rows[i].Start, rows[i].End
			}
			info.Start = min(info.Start, rows[i].Start)
			info.End = max(info.End, rows[i].End)
		}
		seen += int64(len(rows))
	}
	return info, nil
}
