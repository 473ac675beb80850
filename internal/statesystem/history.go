package statesystem

import (
	"context"
	"strconv"

	"github.com/xtxerr/statehist/internal/errors"
	"github.com/xtxerr/statehist/internal/state"
)

// Reader is the query side of a state system.
type Reader interface {
	ID() string
	StartTime() int64
	CurrentEndTime() int64
	QuerySingleState(t int64, quark int) (state.Interval, error)
	QueryStates(t int64, quarks []int) (map[int]state.Interval, error)
	QuarkRelative(parent int, path ...string) (int, error)
}

var _ Reader = (*StateSystem)(nil)

// =============================================================================
// Range queries
// =============================================================================

// QueryHistoryRange returns the intervals of quark covering
// [t1, min(t2, current end)], in order.
func QueryHistoryRange(r Reader, quark int, t1, t2 int64) ([]state.Interval, error) {
	if t2 < t1 {
		return nil, errors.NewTimeRange(t2, t1, t2)
	}
	tEnd := min(t2, r.CurrentEndTime())

	cur, err := r.QuerySingleState(t1, quark)
	if err != nil {
		return nil, err
	}
	out := []state.Interval{cur}

	for ts := cur.End; ts < tEnd; ts = cur.End {
		cur, err = r.QuerySingleState(ts+1, quark)
		if err != nil {
			return nil, err
		}
		out = append(out, cur)
	}
	return out, nil
}

// QueryHistoryRangeResolution is QueryHistoryRange sampled every resolution
// ticks: intervals shorter than the resolution may be skipped, but the
// interval at the end of the range is always included. If ctx is cancelled
// the intervals gathered so far are returned with a nil error.
func QueryHistoryRangeResolution(ctx context.Context, r Reader, quark int, t1, t2, resolution int64) ([]state.Interval, error) {
	if t2 < t1 || resolution <= 0 {
		return nil, errors.Wrapf(errors.ErrTimeRange, "range [%d, %d] at resolution %d", t1, t2, resolution)
	}
	tEnd := min(t2, r.CurrentEndTime())

	var out []state.Interval
	var cur state.Interval
	queried := false

	for ts := t1; ts <= tEnd; ts += ((cur.End-ts)/resolution + 1) * resolution {
		select {
		case <-ctx.Done():
			return out, nil
		default:
		}

		iv, err := r.QuerySingleState(ts, quark)
		if err != nil {
			return nil, err
		}
		cur, queried = iv, true
		out = append(out, cur)
	}

	// Include the interval at the end of the range
	if queried && cur.End < tEnd {
		iv, err := r.QuerySingleState(tEnd, quark)
		if err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, nil
}

// QueryUntilNonNullValue scans forward from t1 and returns the first
// interval of quark with a non-null value starting no later than t2.
func QueryUntilNonNullValue(r Reader, quark int, t1, t2 int64) (state.Interval, bool, error) {
	current := max(t1, r.StartTime())
	end := min(t2, r.CurrentEndTime())

	for current <= end {
		iv, err := r.QuerySingleState(current, quark)
		if err != nil {
			return state.Interval{}, false, err
		}
		if !iv.Value.IsNull() {
			return iv, true, nil
		}
		current = iv.End + 1
	}
	return state.Interval{}, false, nil
}

// QuerySingleStackTop returns the interval of the top of the stack at
// stackQuark at t. ok is false if the stack is empty.
func QuerySingleStackTop(r Reader, t int64, stackQuark int) (state.Interval, bool, error) {
	iv, err := r.QuerySingleState(t, stackQuark)
	if err != nil {
		return state.Interval{}, false, err
	}
	if iv.Value.IsNull() {
		return state.Interval{}, false, nil
	}

	depth, err := iv.Value.AsInt()
	if err != nil {
		return state.Interval{}, false, errors.Wrapf(err, "stack at quark %d", stackQuark)
	}
	if depth <= 0 {
		return state.Interval{}, false, nil
	}

	sub, err := r.QuarkRelative(stackQuark, strconv.Itoa(int(depth)))
	if err != nil {
		return state.Interval{}, false, err
	}
	top, err := r.QuerySingleState(t, sub)
	if err != nil {
		return state.Interval{}, false, err
	}
	return top, true, nil
}
