package stats

import (
	"context"
	"math"
	"testing"

	"github.com/xtxerr/statehist/internal/state"
	"github.com/xtxerr/statehist/internal/statesystem"
	"github.com/xtxerr/statehist/internal/storage/memory"
	shtest "github.com/xtxerr/statehist/internal/testing"
)

func newSketch(t *testing.T) *DurationSketch {
	t.Helper()
	sk, err := NewDurationSketch(3, "cpu/0", 0.01)
	if err != nil {
		t.Fatalf("NewDurationSketch: %v", err)
	}
	return sk
}

func TestDurationSketch_Basic(t *testing.T) {
	sk := newSketch(t)

	if !sk.IsEmpty() {
		t.Error("new sketch should be empty")
	}

	sk.Add(state.NewInterval(0, 9, 3, state.Int(1)))
	sk.Add(state.NewInterval(10, 29, 3, state.Int(2)))
	sk.Add(state.NewInterval(30, 59, 3, state.Int(3)))
	sk.Add(state.NewInterval(60, 99, 3, state.Null()))

	if sk.Count() != 3 {
		t.Errorf("expected count=3, got %d", sk.Count())
	}

	r := sk.Result()
	if r.Quark != 3 || r.Path != "cpu/0" {
		t.Errorf("expected quark 3 at cpu/0, got %d at %s", r.Quark, r.Path)
	}
	if r.Nulls != 1 {
		t.Errorf("expected nulls=1, got %d", r.Nulls)
	}
	if r.Sum != 60 {
		t.Errorf("expected sum=60, got %d", r.Sum)
	}
	if r.Min != 10 {
		t.Errorf("expected min=10, got %d", r.Min)
	}
	if r.Max != 30 {
		t.Errorf("expected max=30, got %d", r.Max)
	}
	if math.Abs(r.Avg-20.0) > 0.001 {
		t.Errorf("expected avg=20, got %f", r.Avg)
	}
	if r.First != 0 || r.Last != 59 {
		t.Errorf("expected first=0 last=59, got %d %d", r.First, r.Last)
	}
}

func TestDurationSketch_OnlyNulls(t *testing.T) {
	sk := newSketch(t)
	sk.Add(state.NewInterval(0, 99, 3, state.Null()))

	r := sk.Result()
	if r.Count != 0 || r.Nulls != 1 {
		t.Errorf("expected count=0 nulls=1, got %d %d", r.Count, r.Nulls)
	}
	if r.Min != 0 || r.Max != 0 || r.P50 != 0 {
		t.Errorf("expected zero statistics, got %+v", r)
	}
}

func TestDurationSketch_Percentiles(t *testing.T) {
	sk := newSketch(t)

	// Durations 1, 2, ..., 100
	start := int64(0)
	for d := int64(1); d <= 100; d++ {
		sk.Add(state.NewInterval(start, start+d-1, 3, state.Long(d)))
		start += d
	}

	r := sk.Result()
	if math.Abs(r.P50-50.0) > 2.0 {
		t.Errorf("expected P50 near 50, got %f", r.P50)
	}
	if math.Abs(r.P90-90.0) > 2.0 {
		t.Errorf("expected P90 near 90, got %f", r.P90)
	}
	if math.Abs(r.P95-95.0) > 2.0 {
		t.Errorf("expected P95 near 95, got %f", r.P95)
	}
	if math.Abs(r.P99-99.0) > 2.0 {
		t.Errorf("expected P99 near 99, got %f", r.P99)
	}
}

func TestDurationSketch_Merge(t *testing.T) {
	a := newSketch(t)
	a.Add(state.NewInterval(100, 109, 3, state.Int(1)))
	a.Add(state.NewInterval(110, 129, 3, state.Int(2)))

	b := newSketch(t)
	b.Add(state.NewInterval(0, 29, 3, state.Int(3)))
	b.Add(state.NewInterval(30, 69, 3, state.Int(4)))
	b.Add(state.NewInterval(70, 99, 3, state.Null()))

	if err := a.Merge(b); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	r := a.Result()
	if r.Count != 4 {
		t.Errorf("expected count=4, got %d", r.Count)
	}
	if r.Sum != 100 {
		t.Errorf("expected sum=100, got %d", r.Sum)
	}
	if r.Min != 10 || r.Max != 40 {
		t.Errorf("expected min=10 max=40, got %d %d", r.Min, r.Max)
	}
	if r.Nulls != 1 {
		t.Errorf("expected nulls=1, got %d", r.Nulls)
	}
	if r.First != 0 || r.Last != 129 {
		t.Errorf("expected first=0 last=129, got %d %d", r.First, r.Last)
	}

	if err := a.Merge(nil); err != nil {
		t.Errorf("merging nil should succeed: %v", err)
	}
}

func TestDurationSketch_Reset(t *testing.T) {
	sk := newSketch(t)
	sk.Add(state.NewInterval(0, 9, 3, state.Int(1)))

	if err := sk.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if !sk.IsEmpty() {
		t.Error("sketch should be empty after reset")
	}

	sk.Add(state.NewInterval(0, 4, 3, state.Int(1)))
	if r := sk.Result(); r.Min != 5 || r.Max != 5 {
		t.Errorf("expected min=max=5 after reset, got %d %d", r.Min, r.Max)
	}
}

func TestDurationSketch_DefaultAccuracy(t *testing.T) {
	for _, acc := range []float64{0, -1, 1, 2} {
		if _, err := NewDurationSketch(0, "a", acc); err != nil {
			t.Errorf("accuracy %f: %v", acc, err)
		}
	}
}

func TestDurationSketch_Concurrent(t *testing.T) {
	sk := newSketch(t)

	gt := shtest.NewGoroutineTest(t)
	for g := 0; g < 10; g++ {
		gt.Go(func() error {
			for i := int64(0); i < 100; i++ {
				sk.Add(state.NewInterval(i*10, i*10+9, 3, state.Int(1)))
			}
			return nil
		})
	}
	gt.Wait()

	if sk.Count() != 1000 {
		t.Errorf("expected count=1000, got %d", sk.Count())
	}
}

// =============================================================================
// Collector
// =============================================================================

func TestCollector_Process(t *testing.T) {
	c := NewCollector(0.01)

	ivs := []state.Interval{
		state.NewInterval(0, 9, 1, state.Null()),
		state.NewInterval(10, 19, 1, state.Bool(true)),
		state.NewInterval(20, 49, 1, state.Bool(false)),
	}
	if err := c.ProcessBatch(ivs, "a"); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if err := c.Process(state.NewInterval(0, 49, 0, state.String("x")), "b"); err != nil {
		t.Fatalf("Process: %v", err)
	}

	stats := c.Stats()
	if stats.Attributes != 2 {
		t.Errorf("expected 2 attributes, got %d", stats.Attributes)
	}
	if stats.IntervalsProcessed != 4 {
		t.Errorf("expected 4 intervals, got %d", stats.IntervalsProcessed)
	}
	if stats.NullsSkipped != 1 {
		t.Errorf("expected 1 null, got %d", stats.NullsSkipped)
	}

	results := c.Results()
	if len(results) != 2 || results[0].Quark != 0 || results[1].Quark != 1 {
		t.Fatalf("expected results for quarks 0 and 1, got %+v", results)
	}
	if results[1].Count != 2 || results[1].Sum != 40 {
		t.Errorf("expected count=2 sum=40, got %d %d", results[1].Count, results[1].Sum)
	}

	if _, ok := c.Sketch(1); !ok {
		t.Error("expected a sketch for quark 1")
	}
	if _, ok := c.Sketch(7); ok {
		t.Error("expected no sketch for quark 7")
	}
}

// buildHistory writes three attributes:
//
//	a  values 1..10 with durations 10, 20, ..., 100
//	b  never set
//	c  null until 100, then 5
func buildHistory(t *testing.T) *statesystem.StateSystem {
	t.Helper()
	ss := statesystem.New(memory.New("stats", 0), statesystem.Options{})
	t.Cleanup(func() { ss.Dispose() })

	a, err := ss.QuarkAbsoluteAndAdd("a")
	if err != nil {
		t.Fatalf("QuarkAbsoluteAndAdd: %v", err)
	}
	if _, err := ss.QuarkAbsoluteAndAdd("b"); err != nil {
		t.Fatalf("QuarkAbsoluteAndAdd: %v", err)
	}
	c, err := ss.QuarkAbsoluteAndAdd("c")
	if err != nil {
		t.Fatalf("QuarkAbsoluteAndAdd: %v", err)
	}

	ts := int64(0)
	for i := 1; i <= 10; i++ {
		if ts == 100 {
			if err := ss.ModifyAttribute(100, state.Int(5), c); err != nil {
				t.Fatalf("ModifyAttribute: %v", err)
			}
		}
		if err := ss.ModifyAttribute(ts, state.Int(int32(i)), a); err != nil {
			t.Fatalf("ModifyAttribute: %v", err)
		}
		ts += int64(i * 10)
	}
	if err := ss.CloseHistory(549); err != nil {
		t.Fatalf("CloseHistory: %v", err)
	}
	return ss
}

func TestCollect(t *testing.T) {
	ss := buildHistory(t)

	results, err := Collect(context.Background(), ss, nil, 0.01)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	a := results[0]
	if a.Path != "a" {
		t.Errorf("expected path a, got %s", a.Path)
	}
	if a.Count != 10 || a.Sum != 550 || a.Min != 10 || a.Max != 100 {
		t.Errorf("a: expected count=10 sum=550 min=10 max=100, got %+v", a)
	}
	if a.Nulls != 0 {
		t.Errorf("a: expected no nulls, got %d", a.Nulls)
	}

	b := results[1]
	if b.Count != 0 || b.Nulls != 1 {
		t.Errorf("b: expected count=0 nulls=1, got %+v", b)
	}

	c := results[2]
	if c.Count != 1 || c.Sum != 450 || c.Nulls != 1 {
		t.Errorf("c: expected count=1 sum=450 nulls=1, got %+v", c)
	}
	if c.First != 100 || c.Last != 549 {
		t.Errorf("c: expected [100, 549], got [%d, %d]", c.First, c.Last)
	}
}

func TestCollectSelectedQuarks(t *testing.T) {
	ss := buildHistory(t)

	results, err := Collect(context.Background(), ss, []int{2}, 0.01)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(results) != 1 || results[0].Path != "c" {
		t.Fatalf("expected only c, got %+v", results)
	}
}

func TestCollectUnknownQuark(t *testing.T) {
	ss := buildHistory(t)

	if _, err := Collect(context.Background(), ss, []int{42}, 0.01); err == nil {
		t.Error("expected error for an unknown quark")
	}
}

func TestCollectCancelled(t *testing.T) {
	ss := buildHistory(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Collect(ctx, ss, nil, 0.01); err == nil {
		t.Error("expected error from a cancelled collection")
	}
}
