package parquet

import (
	"context"
	"fmt"
	"sort"

	"github.com/xtxerr/statehist/internal/logging"
	"github.com/xtxerr/statehist/internal/state"
	"github.com/xtxerr/statehist/internal/statesystem"
	"golang.org/x/sync/errgroup"
)

// History is the state system side of an export.
type History interface {
	statesystem.Reader
	NumAttributes() int
	AttributePath(quark int) ([]string, error)
}

// Importer is the state system side of an import.
type Importer interface {
	StartTime() int64
	QuarkAbsoluteAndAdd(path ...string) (int, error)
	ModifyAttribute(t int64, v state.Value, quark int) error
	CloseHistory(end int64) error
}

const (
	// exportWorkers bounds the concurrent range queries of an export.
	exportWorkers = 8

	// exportChunk is the number of attributes queried between writes.
	exportChunk = 256
)

// ExportHistory writes every interval of every attribute of h to path,
// ordered by quark then start time. It returns the number of rows written.
func ExportHistory(ctx context.Context, h History, path string, opts Options) (int64, error) {
	log := logging.WithContext(ctx, "parquet")
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}

	w, err := NewIntervalWriter(path, opts)
	if err != nil {
		return 0, err
	}
	defer w.Close()

	start, end := h.StartTime(), h.CurrentEndTime()
	n := h.NumAttributes()
	batch := make([]IntervalRow, 0, opts.BatchSize)

	for lo := 0; lo < n; lo += exportChunk {
		hi := min(lo+exportChunk, n)
		perQuark := make([][]IntervalRow, hi-lo)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(exportWorkers)
		for q := lo; q < hi; q++ {
			q := q
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				segments, err := h.AttributePath(q)
				if err != nil {
					return err
				}
				ivs, err := statesystem.QueryHistoryRange(h, q, start, end)
				if err != nil {
					return fmt.Errorf("export quark %d: %w", q, err)
				}
				rows := make([]IntervalRow, len(ivs))
				for i, iv := range ivs {
					rows[i] = IntervalToRow(iv, segments)
				}
				perQuark[q-lo] = rows
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return w.RowCount(), err
		}

		for _, rows := range perQuark {
			for _, row := range rows {
				batch = append(batch, row)
				if len(batch) == opts.BatchSize {
					if err := w.Write(batch); err != nil {
						return w.RowCount(), err
					}
					batch = batch[:0]
				}
			}
		}
	}

	if err := w.Write(batch); err != nil {
		return w.RowCount(), err
	}
	if err := w.Close(); err != nil {
		return w.RowCount(), err
	}

	log.Info("history exported",
		"path", path,
		"attributes", n,
		"rows", w.RowCount(),
	)
	return w.RowCount(), nil
}

// ImportHistory replays the intervals of an export into imp and closes its
// history at the latest interval end. Derived attributes are imported as
// plain values. It returns the number of rows read.
func ImportHistory(ctx context.Context, path string, imp Importer) (int64, error) {
	r, err := NewIntervalReader(path)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	rows, err := r.ReadAll()
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}

	// Replay in time order; a quark's intervals are contiguous, so setting
	// each value at its start rebuilds them.
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Start != rows[j].Start {
			return rows[i].Start < rows[j].Start
		}
		return rows[i].Quark < rows[j].Quark
	})

	end := imp.StartTime()
	for i := range rows {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return int64(i), err
			}
		}

		row := &rows[i]
		iv, err := RowToInterval(row)
		if err != nil {
			return int64(i), err
		}
		q, err := imp.QuarkAbsoluteAndAdd(row.Segments...)
		if err != nil {
			return int64(i), err
		}
		if err := imp.ModifyAttribute(iv.Start, iv.Value, q); err != nil {
			return int64(i), fmt.Errorf("import %s at %d: %w", row.Path, iv.Start, err)
		}
		end = max(end, iv.End)
	}

	if err := imp.CloseHistory(end); err != nil {
		return int64(len(rows)), err
	}

	logging.WithContext(ctx, "parquet").Info("history imported",
		"path", path,
		"rows", len(rows),
		"end", end,
	)
	return int64(len(rows)), nil
}
