package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xtxerr/statehist/internal/constants"
	"github.com/xtxerr/statehist/internal/errors"
	"github.com/xtxerr/statehist/internal/logging"
	"github.com/xtxerr/statehist/internal/state"
	"github.com/xtxerr/statehist/internal/statedump"
	"github.com/xtxerr/statehist/internal/statesystem"
	"github.com/xtxerr/statehist/internal/storage"
	"github.com/xtxerr/statehist/internal/storage/config"
	"github.com/xtxerr/statehist/internal/storage/parquet"
	"github.com/xtxerr/statehist/internal/storage/query"
	"github.com/xtxerr/statehist/internal/storage/stats"
	"github.com/xtxerr/statehist/internal/validation"
)

// newFlags returns a flag set whose errors are returned, not printed.
func newFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// isSet reports whether the flag name was given on the command line.
func isSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func requireID(id string) error {
	return validation.ValidateID(id)
}

// openHistory reopens the finished history of id.
func (a *app) openHistory(id string) (*statesystem.StateSystem, error) {
	b, err := storage.Open(a.cfg, id)
	if err != nil {
		return nil, err
	}
	ss, err := statesystem.Open(b)
	if err != nil {
		b.Dispose()
		return nil, err
	}
	return ss, nil
}

// =============================================================================
// import
// =============================================================================

func (a *app) cmdImport(ctx context.Context, args []string) error {
	fs := newFlags("import")
	id := fs.String("id", "", "state system id")
	start := fs.Int64("start", 0, "history start time (default: first change)")
	fromParquet := fs.Bool("parquet", false, "the input is a Parquet export")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireID(*id); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("import: expected one change log file, or - for stdin")
	}
	if *fromParquet {
		return a.importParquet(ctx, *id, fs.Arg(0), start, isSet(fs, "start"))
	}

	r := a.in
	if name := fs.Arg(0); name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	changes, err := ParseChanges(r)
	if err != nil {
		return err
	}
	if !isSet(fs, "start") && len(changes) > 0 {
		*start = changes[0].Time
		for _, c := range changes {
			*start = min(*start, c.Time)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	b, err := storage.New(a.cfg, *id, *start)
	if err != nil {
		return err
	}
	ss := statesystem.New(b, statesystem.Options{})
	defer ss.Dispose()

	end, err := ApplyChanges(ss, changes)
	if err != nil {
		return err
	}
	if err := ss.CloseHistory(end); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "imported %d changes into %s: %d attributes, [%d, %d]\n",
		len(changes), *id, ss.NumAttributes(), ss.StartTime(), ss.CurrentEndTime())
	if !a.cfg.IsOnDisk() {
		logging.Component("cli").Warn("history not persisted",
			"id", *id,
			"backend", a.cfg.Backend.Kind,
		)
	}
	return nil
}

// importParquet rebuilds a history from a Parquet export.
func (a *app) importParquet(ctx context.Context, id, file string, start *int64, startSet bool) error {
	info, err := parquet.GetFileInfo(file)
	if err != nil {
		return err
	}
	if !startSet {
		*start = info.Start
	}

	b, err := storage.New(a.cfg, id, *start)
	if err != nil {
		return err
	}
	ss := statesystem.New(b, statesystem.Options{})
	defer ss.Dispose()

	ctx = logging.ContextWithStateSystem(ctx, id)
	n, err := parquet.ImportHistory(ctx, file, ss)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "imported %d intervals into %s: %d attributes, [%d, %d]\n",
		n, id, ss.NumAttributes(), ss.StartTime(), ss.CurrentEndTime())
	return nil
}

// =============================================================================
// info
// =============================================================================

func (a *app) cmdInfo(args []string) error {
	fs := newFlags("info")
	id := fs.String("id", "", "state system id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireID(*id); err != nil {
		return err
	}

	ss, err := a.openHistory(*id)
	if err != nil {
		return err
	}
	defer ss.Dispose()

	path := a.cfg.HistoryPath(*id)
	size := int64(0)
	if st, err := os.Stat(path); err == nil {
		size = st.Size()
	}

	fmt.Fprintf(a.out, "id:         %s\n", ss.ID())
	fmt.Fprintf(a.out, "file:       %s (%s)\n", path, config.FormatBytes(size))
	fmt.Fprintf(a.out, "start:      %d\n", ss.StartTime())
	fmt.Fprintf(a.out, "end:        %d\n", ss.CurrentEndTime())
	fmt.Fprintf(a.out, "attributes: %d\n", ss.NumAttributes())
	return nil
}

// =============================================================================
// query / range
// =============================================================================

func (a *app) cmdQuery(args []string) error {
	fs := newFlags("query")
	id := fs.String("id", "", "state system id")
	t := fs.Int64("t", 0, "query time")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireID(*id); err != nil {
		return err
	}

	ss, err := a.openHistory(*id)
	if err != nil {
		return err
	}
	defer ss.Dispose()

	if fs.NArg() == 0 {
		return printFullState(a.out, ss, *t)
	}
	for _, p := range fs.Args() {
		if err := printSingleState(a.out, ss, *t, p); err != nil {
			return err
		}
	}
	return nil
}

func printFullState(w io.Writer, ss *statesystem.StateSystem, t int64) error {
	full, err := ss.QueryFullState(t)
	if err != nil {
		return err
	}

	lines := make([]string, 0, len(full))
	for q, iv := range full {
		path, err := ss.FullAttributePath(q)
		if err != nil {
			return err
		}
		lines = append(lines, formatInterval(path, iv))
	}
	sort.Strings(lines)
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
	return nil
}

func printSingleState(w io.Writer, ss *statesystem.StateSystem, t int64, p string) error {
	q, err := lookup(ss, p)
	if err != nil {
		return err
	}
	iv, err := ss.QuerySingleState(t, q)
	if err != nil {
		return err
	}
	path, _ := ss.FullAttributePath(q)
	fmt.Fprintln(w, formatInterval(path, iv))
	return nil
}

func lookup(ss *statesystem.StateSystem, p string) (int, error) {
	path, err := parsePath(p)
	if err != nil {
		return 0, err
	}
	return ss.QuarkAbsolute(path...)
}

func formatInterval(path string, iv state.Interval) string {
	return fmt.Sprintf("%s\t[%d, %d]\t%s\t%s", path, iv.Start, iv.End, iv.Value.Kind(), iv.Value)
}

func (a *app) cmdRange(ctx context.Context, args []string) error {
	fs := newFlags("range")
	id := fs.String("id", "", "state system id")
	p := fs.String("path", "", "attribute path")
	from := fs.Int64("from", 0, "range start (default: history start)")
	to := fs.Int64("to", 0, "range end (default: history end)")
	res := fs.Int64("res", 0, "resolution; 0 returns every interval")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireID(*id); err != nil {
		return err
	}

	ss, err := a.openHistory(*id)
	if err != nil {
		return err
	}
	defer ss.Dispose()

	return printRange(ctx, a.out, ss, *p, rangeBounds(fs, ss, *from, *to), *res)
}

// rangeBounds defaults unset bounds to the history bounds.
func rangeBounds(fs *flag.FlagSet, ss *statesystem.StateSystem, from, to int64) [2]int64 {
	if !isSet(fs, "from") {
		from = ss.StartTime()
	}
	if !isSet(fs, "to") {
		to = ss.CurrentEndTime()
	}
	return [2]int64{from, to}
}

func printRange(ctx context.Context, w io.Writer, ss *statesystem.StateSystem, p string, bounds [2]int64, res int64) error {
	q, err := lookup(ss, p)
	if err != nil {
		return err
	}

	var ivs []state.Interval
	if res > 0 {
		ivs, err = statesystem.QueryHistoryRangeResolution(ctx, ss, q, bounds[0], bounds[1], res)
	} else {
		ivs, err = statesystem.QueryHistoryRange(ss, q, bounds[0], bounds[1])
	}
	if err != nil {
		return err
	}

	path, _ := ss.FullAttributePath(q)
	for _, iv := range ivs {
		fmt.Fprintln(w, formatInterval(path, iv))
	}
	return nil
}

// =============================================================================
// export / sql
// =============================================================================

func (a *app) cmdExport(ctx context.Context, args []string) error {
	fs := newFlags("export")
	id := fs.String("id", "", "state system id")
	out := fs.String("o", "", "output file (default: <data_dir>/<id>.parquet)")
	compression := fs.String("compression", a.cfg.Export.Compression, "none, snappy, zstd, lz4 or gzip")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireID(*id); err != nil {
		return err
	}
	if *out == "" {
		*out = filepath.Join(a.cfg.DataDir, *id+".parquet")
	}

	ss, err := a.openHistory(*id)
	if err != nil {
		return err
	}
	defer ss.Dispose()

	opts := parquet.DefaultOptions()
	opts.Compression = parquet.ParseCompressionType(*compression)
	opts.BatchSize = a.cfg.Export.BatchSize

	ctx = logging.ContextWithStateSystem(ctx, *id)
	n, err := parquet.ExportHistory(ctx, ss, *out, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "exported %d intervals to %s\n", n, *out)
	return nil
}

func (a *app) cmdSQL(ctx context.Context, args []string) error {
	fs := newFlags("sql")
	file := fs.String("file", "", "Parquet export")
	timeInState := fs.String("time-in-state", "", "sum durations per value below this path")
	transitions := fs.String("transitions", "", "list the value changes of this path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	svc, err := query.New(a.cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	switch {
	case isSet(fs, "time-in-state"):
		if *file == "" {
			return errors.NewMissingField("file")
		}
		rows, err := svc.TimeInState(ctx, *file, strings.TrimPrefix(*timeInState, constants.PathSeparator))
		if err != nil {
			return err
		}
		for _, r := range rows {
			fmt.Fprintf(a.out, "%s\t%s\t%s\t%d\t%d\n", r.Path, r.Type, r.Value, r.Intervals, r.Duration)
		}
	case isSet(fs, "transitions"):
		if *file == "" {
			return errors.NewMissingField("file")
		}
		rows, err := svc.Transitions(ctx, *file, strings.TrimPrefix(*transitions, constants.PathSeparator))
		if err != nil {
			return err
		}
		for _, r := range rows {
			fmt.Fprintf(a.out, "%d\t%s\t%s\n", r.Time, r.From, r.To)
		}
	default:
		if fs.NArg() == 0 {
			return errors.NewMissingField("query")
		}
		rows, err := svc.ExecuteSQL(ctx, strings.Join(fs.Args(), " "))
		if err != nil {
			return err
		}
		printRows(a.out, rows)
	}
	return nil
}

// printRows prints one line per row with columns in name order.
func printRows(w io.Writer, rows []map[string]interface{}) {
	for _, row := range rows {
		cols := make([]string, 0, len(row))
		for c := range row {
			cols = append(cols, c)
		}
		sort.Strings(cols)

		fields := make([]string, len(cols))
		for i, c := range cols {
			fields[i] = fmt.Sprintf("%s=%v", c, row[c])
		}
		fmt.Fprintln(w, strings.Join(fields, "\t"))
	}
}

// =============================================================================
// stats / dump / plan
// =============================================================================

func (a *app) cmdStats(ctx context.Context, args []string) error {
	fs := newFlags("stats")
	id := fs.String("id", "", "state system id")
	p := fs.String("path", "", "only this attribute and its descendants")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireID(*id); err != nil {
		return err
	}

	ss, err := a.openHistory(*id)
	if err != nil {
		return err
	}
	defer ss.Dispose()

	var quarks []int
	if *p != "" {
		q, err := lookup(ss, *p)
		if err != nil {
			return err
		}
		subs, err := ss.SubAttributes(q, true)
		if err != nil {
			return err
		}
		quarks = append([]int{q}, subs...)
	}

	ctx = logging.ContextWithStateSystem(ctx, *id)
	results, err := stats.Collect(ctx, ss, quarks, a.cfg.Stats.Accuracy)
	if err != nil {
		return err
	}

	fmt.Fprintln(a.out, "path\tcount\tnulls\tmin\tmax\tavg\tp50\tp90\tp99")
	for _, r := range results {
		fmt.Fprintf(a.out, "%s\t%d\t%d\t%d\t%d\t%.1f\t%.1f\t%.1f\t%.1f\n",
			r.Path, r.Count, r.Nulls, r.Min, r.Max, r.Avg, r.P50, r.P90, r.P99)
	}
	return nil
}

func (a *app) cmdDump(args []string) error {
	fs := newFlags("dump")
	id := fs.String("id", "", "state system id")
	t := fs.Int64("t", 0, "dump time (default: history end)")
	dir := fs.String("dir", "", "output directory (default: data_dir)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireID(*id); err != nil {
		return err
	}
	if *dir == "" {
		*dir = a.cfg.DataDir
	}

	ss, err := a.openHistory(*id)
	if err != nil {
		return err
	}
	defer ss.Dispose()

	if !isSet(fs, "t") {
		*t = ss.CurrentEndTime()
	}

	d, err := statedump.FromStateSystem(ss, *t, a.cfg.Statedump.Version)
	if err != nil {
		return err
	}
	if err := d.Dump(*dir, *id); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "dumped %d attributes at %d to %s\n", d.Len(), *t, statedump.Path(*dir, *id))
	return nil
}

// cmdRestore starts a new history from the statedump of another one.
func (a *app) cmdRestore(args []string) error {
	fs := newFlags("restore")
	id := fs.String("id", "", "id of the dumped history")
	into := fs.String("into", "", "id of the new history")
	t := fs.Int64("t", 0, "start time of the new history")
	dir := fs.String("dir", "", "statedump directory (default: data_dir)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireID(*id); err != nil {
		return err
	}
	if *into == "" {
		return errors.NewMissingField("into")
	}
	if err := validation.ValidateID(*into); err != nil {
		return err
	}
	if *dir == "" {
		*dir = a.cfg.DataDir
	}

	d, err := statedump.Load(*dir, *id, a.cfg.Statedump.Version)
	if err != nil {
		return err
	}

	b, err := storage.New(a.cfg, *into, *t)
	if err != nil {
		return err
	}
	ss := statesystem.New(b, statesystem.Options{})
	defer ss.Dispose()

	if err := d.Restore(ss, *t); err != nil {
		return err
	}
	if err := ss.CloseHistory(*t); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "restored %d attributes from %s into %s at %d\n", d.Len(), *id, *into, *t)
	return nil
}

func (a *app) cmdPlan(args []string) error {
	fs := newFlags("plan")
	intervals := fs.Int64("intervals", 1000000, "expected number of intervals")
	payload := fs.Int("payload", 8, "average value payload in bytes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *intervals < 0 || *payload < 0 {
		return errors.NewValidation("plan", "intervals and payload must not be negative")
	}

	req := a.cfg.CalculateRequirements(*intervals, *payload)
	fmt.Fprint(a.out, req.FormatRequirements())
	return nil
}
