package aggregation

import (
	"testing"

	"github.com/xtxerr/statehist/internal/attribute"
	"github.com/xtxerr/statehist/internal/errors"
	"github.com/xtxerr/statehist/internal/state"
)

// fakeSource serves a fixed history over [start, end].
type fakeSource struct {
	tree    *attribute.Tree
	start   int64
	end     int64
	history map[int][]state.Interval
	ongoing map[int]state.Value
}

func newFakeSource(start, end int64) *fakeSource {
	return &fakeSource{
		tree:    attribute.New(),
		start:   start,
		end:     end,
		history: make(map[int][]state.Interval),
		ongoing: make(map[int]state.Value),
	}
}

func (f *fakeSource) quark(t *testing.T, path ...string) int {
	t.Helper()
	q, err := f.tree.QuarkAndAdd(attribute.Root, path...)
	if err != nil {
		t.Fatalf("QuarkAndAdd: %v", err)
	}
	return q
}

func (f *fakeSource) set(q int, start, end int64, v state.Value) {
	f.history[q] = append(f.history[q], state.NewInterval(start, end, q, v))
	if end == f.end {
		f.ongoing[q] = v
	}
}

func (f *fakeSource) Lookup(path []string) (int, bool) { return f.tree.Lookup(path) }
func (f *fakeSource) StartTime() int64                 { return f.start }
func (f *fakeSource) CurrentEndTime() int64            { return f.end }

func (f *fakeSource) StoredInterval(t int64, quark int) (state.Interval, error) {
	if quark < 0 || quark >= f.tree.Len() {
		return state.Interval{}, errors.NewAttributeNotFound(quark)
	}
	for _, iv := range f.history[quark] {
		if iv.Intersects(t) {
			return iv, nil
		}
	}
	return state.NewInterval(f.start, f.end, quark, state.Null()), nil
}

func (f *fakeSource) StoredOngoing(quark int) (state.Value, error) {
	if quark < 0 || quark >= f.tree.Len() {
		return state.Null(), errors.NewAttributeNotFound(quark)
	}
	return f.ongoing[quark], nil
}

func TestPriority(t *testing.T) {
	src := newFakeSource(0, 100)
	cpu := src.quark(t, "cpu")
	irq := src.quark(t, "cpu", "irq")
	softirq := src.quark(t, "cpu", "softirq")
	process := src.quark(t, "cpu", "process")

	src.set(irq, 0, 100, state.Null())
	src.set(softirq, 0, 19, state.Null())
	src.set(softirq, 20, 29, state.Int(2))
	src.set(softirq, 30, 100, state.Null())
	src.set(process, 0, 9, state.Null())
	src.set(process, 10, 100, state.Int(0))

	r := NewResolver()
	r.AddRule(src, NewPriority(cpu,
		[]string{"cpu", "missing"},
		[]string{"cpu", "irq"},
		[]string{"cpu", "softirq"},
		[]string{"cpu", "process"},
	))

	tests := []struct {
		t     int64
		start int64
		end   int64
		value state.Value
	}{
		{5, 0, 9, state.Null()},
		{15, 10, 19, state.Int(0)},
		{25, 20, 29, state.Int(2)},
		{35, 30, 100, state.Int(0)},
	}

	for _, tt := range tests {
		iv, err := r.Interval(src, tt.t, cpu)
		if err != nil {
			t.Fatalf("Interval(%d): %v", tt.t, err)
		}
		want := state.NewInterval(tt.start, tt.end, cpu, tt.value)
		if !iv.Equal(want) {
			t.Errorf("t=%d: expected %s, got %s", tt.t, want, iv)
		}
	}

	v, err := r.Ongoing(src, cpu)
	if err != nil {
		t.Fatalf("Ongoing: %v", err)
	}
	if !v.Equal(state.Int(0)) {
		t.Errorf("expected ongoing 0, got %s", v)
	}
}

func TestBitwiseOr(t *testing.T) {
	src := newFakeSource(0, 100)
	softirq := src.quark(t, "softirq")
	raised := src.quark(t, "softirq", "raised")
	active := src.quark(t, "softirq", "active")

	src.set(raised, 0, 9, state.Null())
	src.set(raised, 10, 100, state.Int(2))
	src.set(active, 0, 59, state.Null())
	src.set(active, 60, 100, state.Int(1))

	r := NewResolver()
	r.AddRule(src, NewBitwiseOr(softirq, []string{"softirq", "raised"}, []string{"softirq", "active"}))

	iv, _ := r.Interval(src, 5, softirq)
	if !iv.Equal(state.NewInterval(0, 9, softirq, state.Null())) {
		t.Errorf("unexpected interval at 5: %s", iv)
	}
	iv, _ = r.Interval(src, 30, softirq)
	if !iv.Equal(state.NewInterval(10, 59, softirq, state.Int(2))) {
		t.Errorf("unexpected interval at 30: %s", iv)
	}

	v, err := r.Ongoing(src, softirq)
	if err != nil {
		t.Fatalf("Ongoing: %v", err)
	}
	if !v.Equal(state.Int(3)) {
		t.Errorf("expected 3, got %s", v)
	}
}

func TestBitwiseOrRejectsNonInt(t *testing.T) {
	src := newFakeSource(0, 10)
	target := src.quark(t, "target")
	name := src.quark(t, "name")
	src.set(name, 0, 10, state.String("swapper"))

	r := NewResolver()
	r.AddRule(src, NewBitwiseOr(target, []string{"name"}))

	if _, err := r.Interval(src, 5, target); !errors.Is(err, errors.ErrStateValueType) {
		t.Errorf("expected ErrStateValueType, got %v", err)
	}
	if _, err := r.Ongoing(src, target); !errors.Is(err, errors.ErrStateValueType) {
		t.Errorf("expected ErrStateValueType, got %v", err)
	}
}

func TestSymLink(t *testing.T) {
	src := newFakeSource(0, 50)
	link := src.quark(t, "link")
	dest := src.quark(t, "dest")
	src.set(dest, 0, 19, state.String("a"))
	src.set(dest, 20, 50, state.String("b"))

	r := NewResolver()
	r.AddRule(src, NewSymLink(link, []string{"dest"}))

	iv, err := r.Interval(src, 25, link)
	if err != nil {
		t.Fatalf("Interval: %v", err)
	}
	if !iv.Equal(state.NewInterval(20, 50, link, state.String("b"))) {
		t.Errorf("unexpected interval %s", iv)
	}

	dangling := src.quark(t, "dangling")
	r.AddRule(src, NewSymLink(dangling, []string{"nowhere"}))
	iv, _ = r.Interval(src, 25, dangling)
	if !iv.Equal(state.NewInterval(0, 50, dangling, state.Null())) {
		t.Errorf("unexpected dangling interval %s", iv)
	}
	v, _ := r.Ongoing(src, dangling)
	if !v.IsNull() {
		t.Errorf("expected null, got %s", v)
	}
}

func TestChained(t *testing.T) {
	src := newFakeSource(0, 100)
	cpu := src.quark(t, "cpu")
	process := src.quark(t, "cpu", "process")
	softirq := src.quark(t, "cpu", "softirq")
	raised := src.quark(t, "cpu", "softirq", "raised")
	active := src.quark(t, "cpu", "softirq", "active")
	other := src.quark(t, "othercpu")

	src.set(process, 0, 100, state.Int(1))
	src.set(raised, 0, 100, state.Int(2))
	src.set(active, 0, 39, state.Null())
	src.set(active, 40, 100, state.Int(4))

	r := NewResolver()
	r.AddRule(src, NewBitwiseOr(softirq, []string{"cpu", "softirq", "raised"}, []string{"cpu", "softirq", "active"}))
	r.AddRule(src, NewPriority(cpu, []string{"cpu", "irq"}, []string{"cpu", "softirq"}, []string{"cpu", "process"}))
	r.AddRule(src, NewSymLink(other, []string{"cpu"}))

	iv, err := r.Interval(src, 50, other)
	if err != nil {
		t.Fatalf("Interval: %v", err)
	}
	if !iv.Equal(state.NewInterval(40, 100, other, state.Int(6))) {
		t.Errorf("unexpected interval %s", iv)
	}

	if got := r.Quarks(); len(got) != 3 || got[0] != cpu || got[2] != other {
		t.Errorf("unexpected rule quarks %v", got)
	}
}

func TestAddRulePanicsOnCycle(t *testing.T) {
	src := newFakeSource(0, 10)
	a := src.quark(t, "a")
	b := src.quark(t, "b")

	r := NewResolver()
	r.AddRule(src, NewSymLink(a, []string{"b"}))

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
		if rule, _ := r.Rule(a); rule.Kind != KindSymLink {
			t.Error("existing rule should be kept")
		}
		if r.Has(b) {
			t.Error("cyclic rule should not stay mounted")
		}
	}()
	r.AddRule(src, NewPriority(b, []string{"a"}))
}

func TestIntervalDetectsCycle(t *testing.T) {
	src := newFakeSource(0, 10)
	a := src.quark(t, "a")
	b := src.quark(t, "b")

	// Mount directly: AddRule refuses cycles.
	r := NewResolver()
	r.rules[a] = NewSymLink(a, []string{"b"})
	r.rules[b] = NewSymLink(b, []string{"a"})

	if _, err := r.Interval(src, 5, a); !errors.Is(err, errors.ErrRuleCycle) {
		t.Errorf("expected ErrRuleCycle, got %v", err)
	}
	if _, err := r.Ongoing(src, b); !errors.Is(err, errors.ErrRuleCycle) {
		t.Errorf("expected ErrRuleCycle, got %v", err)
	}
}

func TestConstructorsPanic(t *testing.T) {
	tests := []struct {
		name string
		fn   func()
	}{
		{"wildcard", func() { NewPriority(0, []string{"cpu", "*"}) }},
		{"empty pattern", func() { NewBitwiseOr(0, []string{}) }},
		{"negative target", func() { NewSymLink(-1, []string{"a"}) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			tt.fn()
		})
	}
}
