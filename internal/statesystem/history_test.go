package statesystem

import (
	"context"
	"testing"

	"github.com/xtxerr/statehist/internal/errors"
	"github.com/xtxerr/statehist/internal/state"
)

func buildUtilsHistory(t *testing.T) (*StateSystem, int) {
	t.Helper()
	ss := newMemoryStateSystem(t, 1000)
	q := mustQuark(t, ss, "test")
	mustModify(t, ss, 1200, state.Int(10), q)
	mustModify(t, ss, 1500, state.Int(20), q)
	mustClose(t, ss, 2000)
	return ss, q
}

func TestQueryUntilNonNullValue(t *testing.T) {
	ss, q := buildUtilsHistory(t)

	tests := []struct {
		t1, t2 int64
		want   state.Value
		found  bool
	}{
		{0, 999, state.Null(), false},
		{2001, 5000, state.Null(), false},
		{1000, 1199, state.Null(), false},
		{1000, 1300, state.Int(10), true},
		{800, 2500, state.Int(10), true},
		{1300, 1800, state.Int(10), true},
		{1500, 1800, state.Int(20), true},
		{1800, 2500, state.Int(20), true},
	}
	for _, tt := range tests {
		iv, found, err := QueryUntilNonNullValue(ss, q, tt.t1, tt.t2)
		if err != nil {
			t.Fatalf("QueryUntilNonNullValue(%d, %d): %v", tt.t1, tt.t2, err)
		}
		if found != tt.found {
			t.Errorf("[%d, %d]: expected found=%v, got %v", tt.t1, tt.t2, tt.found, found)
			continue
		}
		if found && !iv.Value.Equal(tt.want) {
			t.Errorf("[%d, %d]: expected %s, got %s", tt.t1, tt.t2, tt.want, iv.Value)
		}
	}
}

func TestQueryHistoryRange(t *testing.T) {
	ss, q := buildUtilsHistory(t)

	ivs, err := QueryHistoryRange(ss, q, 1000, 2000)
	if err != nil {
		t.Fatalf("QueryHistoryRange: %v", err)
	}
	expected := []state.Interval{
		state.NewInterval(1000, 1199, q, state.Null()),
		state.NewInterval(1200, 1499, q, state.Int(10)),
		state.NewInterval(1500, 2000, q, state.Int(20)),
	}
	if len(ivs) != len(expected) {
		t.Fatalf("expected %d intervals, got %d", len(expected), len(ivs))
	}
	for i := range expected {
		if !ivs[i].Equal(expected[i]) {
			t.Errorf("interval %d: expected %s, got %s", i, expected[i], ivs[i])
		}
	}

	// The end is clamped to the history
	ivs, err = QueryHistoryRange(ss, q, 1300, 5000)
	if err != nil {
		t.Fatalf("QueryHistoryRange: %v", err)
	}
	if len(ivs) != 2 || !ivs[1].Equal(expected[2]) {
		t.Errorf("expected 2 intervals ending with %s, got %v", expected[2], ivs)
	}

	if _, err := QueryHistoryRange(ss, q, 1500, 1200); !errors.IsTimeRange(err) {
		t.Errorf("expected time range error, got %v", err)
	}
}

func TestQueryHistoryRangeResolution(t *testing.T) {
	ss, quarks := build2DHistory(t)
	q4 := quarks[3]
	ctx := context.Background()

	tests := []struct {
		name       string
		t1, t2     int64
		resolution int64
		starts     []int64
	}{
		{"every interval", 1000, 1400, 100, []int64{1000, 1100, 1200, 1300, 1400}},
		{"coarse", 1000, 2000, 1000, []int64{1000, 2000}},
		{"closing boundary", 1000, 1950, 1000, []int64{1000, 1900}},
		{"single point", 1250, 1250, 100, []int64{1200}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ivs, err := QueryHistoryRangeResolution(ctx, ss, q4, tt.t1, tt.t2, tt.resolution)
			if err != nil {
				t.Fatalf("QueryHistoryRangeResolution: %v", err)
			}
			if len(ivs) != len(tt.starts) {
				t.Fatalf("expected %d intervals, got %d: %v", len(tt.starts), len(ivs), ivs)
			}
			for i, start := range tt.starts {
				if ivs[i].Start != start {
					t.Errorf("interval %d: expected start %d, got %s", i, start, ivs[i])
				}
			}
		})
	}

	// A point past the history yields nothing
	ivs, err := QueryHistoryRangeResolution(ctx, ss, q4, 3000, 4000, 100)
	if err != nil {
		t.Fatalf("QueryHistoryRangeResolution: %v", err)
	}
	if len(ivs) != 0 {
		t.Errorf("expected no intervals past the end, got %v", ivs)
	}

	if _, err := QueryHistoryRangeResolution(ctx, ss, q4, 1000, 2000, 0); !errors.IsTimeRange(err) {
		t.Errorf("expected time range error for resolution 0, got %v", err)
	}
}

// TestRangeCoverage checks that a full-resolution range covers every
// timestamp exactly once.
func TestRangeCoverage(t *testing.T) {
	ss, quarks := build2DHistory(t)

	for _, q := range quarks {
		for _, r := range [][2]int64{{1000, 2200}, {1050, 1777}, {2100, 9000}} {
			ivs, err := QueryHistoryRange(ss, q, r[0], r[1])
			if err != nil {
				t.Fatalf("QueryHistoryRange(%d, %v): %v", q, r, err)
			}
			if len(ivs) == 0 {
				t.Fatalf("quark %d %v: no intervals", q, r)
			}
			if !ivs[0].Intersects(r[0]) {
				t.Errorf("quark %d %v: first interval %s misses %d", q, r, ivs[0], r[0])
			}
			if last := ivs[len(ivs)-1]; last.End < min(r[1], ss.CurrentEndTime()) {
				t.Errorf("quark %d %v: last interval %s ends early", q, r, last)
			}
			for i := 1; i < len(ivs); i++ {
				if ivs[i].Start != ivs[i-1].End+1 {
					t.Errorf("quark %d %v: gap or overlap between %s and %s", q, r, ivs[i-1], ivs[i])
				}
			}

			// Repeating the query gives the same answer
			again, err := QueryHistoryRange(ss, q, r[0], r[1])
			if err != nil {
				t.Fatalf("QueryHistoryRange: %v", err)
			}
			if len(again) != len(ivs) {
				t.Errorf("quark %d %v: repeated query returned %d intervals, expected %d", q, r, len(again), len(ivs))
			}
		}
	}
}

// cancellingReader cancels its context after a number of single queries.
type cancellingReader struct {
	Reader
	after  int
	calls  int
	cancel context.CancelFunc
}

func (r *cancellingReader) QuerySingleState(t int64, quark int) (state.Interval, error) {
	r.calls++
	if r.calls == r.after {
		r.cancel()
	}
	return r.Reader.QuerySingleState(t, quark)
}

func TestQueryHistoryRangeResolutionCancel(t *testing.T) {
	ss, quarks := build2DHistory(t)

	ctx, cancel := context.WithCancel(context.Background())
	r := &cancellingReader{Reader: ss, after: 2, cancel: cancel}

	ivs, err := QueryHistoryRangeResolution(ctx, r, quarks[3], 1000, 2200, 100)
	if err != nil {
		t.Fatalf("expected nil error on cancellation, got %v", err)
	}
	if len(ivs) != 2 {
		t.Errorf("expected 2 intervals before cancellation, got %d", len(ivs))
	}

	// Already cancelled: nothing is queried
	ivs, err = QueryHistoryRangeResolution(ctx, ss, quarks[3], 1000, 2200, 100)
	if err != nil || len(ivs) != 0 {
		t.Errorf("expected empty result, got %v (err=%v)", ivs, err)
	}
}
