// Package storagetest holds a conformance suite every storage backend must
// pass.
package storagetest

import (
	"testing"

	"github.com/xtxerr/statehist/internal/errors"
	"github.com/xtxerr/statehist/internal/state"
	"github.com/xtxerr/statehist/internal/storage"
)

// Factory returns an empty backend starting at startTime.
type Factory func(t *testing.T, startTime int64) storage.Backend

// Options describes what the backend under test is expected to do.
type Options struct {
	// Discards is set for backends that keep no history.
	Discards bool
}

type scenario struct {
	name      string
	start     int64
	end       int64
	intervals []state.Interval
}

func scenarios() []scenario {
	const start, end = 1000, 2000

	one := scenario{
		name:  "one interval",
		start: start,
		end:   end,
		intervals: []state.Interval{
			state.NewInterval(start, end, 0, state.Int(42)),
		},
	}

	// Each quark starts one tick later and all end together
	cascading := scenario{name: "cascading", start: start, end: end}
	for q := 0; q < 20; q++ {
		cascading.intervals = append(cascading.intervals,
			state.NewInterval(start+int64(q), end, q, state.Long(int64(q)*1000)))
	}

	// Every quark spans the whole history
	full := scenario{name: "full width", start: start, end: end}
	for q := 0; q < 50; q++ {
		v := state.String("value")
		if q%2 == 1 {
			v = state.Null()
		}
		full.intervals = append(full.intervals, state.NewInterval(start, end, q, v))
	}

	// Consecutive intervals per quark, committed in end order
	sequence := scenario{name: "sequence", start: start, end: end}
	last := make([]int64, 3)
	for i := range last {
		last[i] = start
	}
	for ts := int64(start + 1); ts <= end; ts++ {
		q := int(ts % 3)
		sequence.intervals = append(sequence.intervals,
			state.NewInterval(last[q], ts-1, q, state.Double(float64(ts))))
		last[q] = ts
	}
	for q := range last {
		sequence.intervals = append(sequence.intervals, state.NewInterval(last[q], end, q, state.Bool(q == 0)))
	}

	return []scenario{one, cascading, full, sequence}
}

// Run executes the suite against backends built by newBackend.
func Run(t *testing.T, newBackend Factory, opts Options) {
	for _, sc := range scenarios() {
		sc := sc
		t.Run(sc.name, func(t *testing.T) {
			b := newBackend(t, sc.start)
			defer b.Dispose()

			if b.StartTime() != sc.start {
				t.Errorf("expected start %d, got %d", sc.start, b.StartTime())
			}

			for _, iv := range sc.intervals {
				if err := b.InsertPastState(iv.Start, iv.End, iv.Quark, iv.Value); err != nil {
					t.Fatalf("InsertPastState(%s): %v", iv, err)
				}
			}
			if err := b.FinishBuilding(sc.end); err != nil {
				t.Fatalf("FinishBuilding: %v", err)
			}
			if b.EndTime() != sc.end {
				t.Errorf("expected end %d, got %d", sc.end, b.EndTime())
			}

			if opts.Discards {
				checkDiscarded(t, b, sc)
				return
			}
			checkSingle(t, b, sc)
			checkFullMatchesSingle(t, b, sc)
			checkPartial(t, b, sc)
		})
	}

	t.Run("invalid insert", func(t *testing.T) {
		if opts.Discards {
			t.Skip("backend keeps no history")
		}
		b := newBackend(t, 100)
		defer b.Dispose()

		if err := b.InsertPastState(50, 60, 0, state.Int(1)); !errors.IsTimeRange(err) {
			t.Errorf("expected time range error, got %v", err)
		}
		if err := b.InsertPastState(120, 110, 0, state.Int(1)); !errors.IsTimeRange(err) {
			t.Errorf("expected time range error, got %v", err)
		}
	})

	t.Run("query out of range", func(t *testing.T) {
		if opts.Discards {
			t.Skip("backend keeps no history")
		}
		b := newBackend(t, 100)
		defer b.Dispose()

		b.InsertPastState(100, 200, 0, state.Int(1))
		b.FinishBuilding(200)

		if _, _, err := b.QuerySingle(99, 0); !errors.IsTimeRange(err) {
			t.Errorf("expected time range error before start, got %v", err)
		}
		if _, _, err := b.QuerySingle(201, 0); !errors.IsTimeRange(err) {
			t.Errorf("expected time range error after end, got %v", err)
		}
		if _, ok, err := b.QuerySingle(150, 7); err != nil || ok {
			t.Errorf("expected unknown quark to be absent, got ok=%v err=%v", ok, err)
		}
	})

	t.Run("disposed", func(t *testing.T) {
		b := newBackend(t, 0)
		if err := b.Dispose(); err != nil {
			t.Fatalf("Dispose: %v", err)
		}
		if err := b.InsertPastState(0, 1, 0, state.Int(1)); !errors.Is(err, errors.ErrDisposed) {
			t.Errorf("expected ErrDisposed, got %v", err)
		}
		if _, _, err := b.QuerySingle(0, 0); !errors.Is(err, errors.ErrDisposed) {
			t.Errorf("expected ErrDisposed, got %v", err)
		}
	})
}

func probes(iv state.Interval) []int64 {
	return []int64{iv.Start, iv.Start + (iv.End-iv.Start)/2, iv.End}
}

func checkSingle(t *testing.T, b storage.Backend, sc scenario) {
	t.Helper()
	for _, want := range sc.intervals {
		for _, ts := range probes(want) {
			got, ok, err := b.QuerySingle(ts, want.Quark)
			if err != nil {
				t.Fatalf("QuerySingle(%d, %d): %v", ts, want.Quark, err)
			}
			if !ok || !got.Equal(want) {
				t.Fatalf("QuerySingle(%d, %d): expected %s, got %s (found=%v)", ts, want.Quark, want, got, ok)
			}
		}
	}
}

func checkFullMatchesSingle(t *testing.T, b storage.Backend, sc scenario) {
	t.Helper()
	for ts := sc.start; ts <= sc.end; ts += 97 {
		full := make(map[int]state.Interval)
		if err := b.QueryFull(ts, func(iv state.Interval) {
			if _, dup := full[iv.Quark]; dup {
				t.Errorf("QueryFull(%d): quark %d visited twice", ts, iv.Quark)
			}
			full[iv.Quark] = iv
		}); err != nil {
			t.Fatalf("QueryFull(%d): %v", ts, err)
		}

		for _, want := range sc.intervals {
			if !want.Intersects(ts) {
				continue
			}
			got, ok := full[want.Quark]
			if !ok || !got.Equal(want) {
				t.Fatalf("QueryFull(%d) quark %d: expected %s, got %s", ts, want.Quark, want, got)
			}
			single, _, _ := b.QuerySingle(ts, want.Quark)
			if !single.Equal(got) {
				t.Fatalf("QuerySingle and QueryFull disagree at %d: %s vs %s", ts, single, got)
			}
			delete(full, want.Quark)
		}
		if len(full) != 0 {
			t.Fatalf("QueryFull(%d): unexpected intervals %v", ts, full)
		}
	}
}

func checkPartial(t *testing.T, b storage.Backend, sc scenario) {
	t.Helper()
	ts := sc.start + (sc.end-sc.start)/2
	quarks := []int{0, 1, 1000}

	got, err := b.QueryPartial(ts, quarks)
	if err != nil {
		t.Fatalf("QueryPartial: %v", err)
	}
	if _, ok := got[1000]; ok {
		t.Error("QueryPartial returned an unknown quark")
	}
	for _, q := range quarks[:2] {
		single, ok, _ := b.QuerySingle(ts, q)
		iv, found := got[q]
		if ok != found || (ok && !iv.Equal(single)) {
			t.Errorf("QueryPartial quark %d: expected %s (%v), got %s (%v)", q, single, ok, iv, found)
		}
	}
}

func checkDiscarded(t *testing.T, b storage.Backend, sc scenario) {
	t.Helper()
	for _, iv := range sc.intervals {
		if _, ok, err := b.QuerySingle(iv.Start, iv.Quark); err != nil || ok {
			t.Fatalf("expected nothing stored, got ok=%v err=%v", ok, err)
		}
	}
	count := 0
	b.QueryFull(sc.start, func(state.Interval) { count++ })
	if count != 0 {
		t.Errorf("expected no intervals, got %d", count)
	}
}
