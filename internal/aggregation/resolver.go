package aggregation

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xtxerr/statehist/internal/errors"
	"github.com/xtxerr/statehist/internal/state"
)

// Source is what the resolver needs from a state system: path lookup and
// queries of the raw (non-aggregated) history and ongoing state.
type Source interface {
	Lookuper
	StoredInterval(t int64, quark int) (state.Interval, error)
	StoredOngoing(quark int) (state.Value, error)
	StartTime() int64
	CurrentEndTime() int64
}

// =============================================================================
// Resolver
// =============================================================================

// Resolver owns the rules of one state system.
type Resolver struct {
	mu    sync.RWMutex
	rules map[int]Rule
}

// NewResolver returns a resolver with no rules.
func NewResolver() *Resolver {
	return &Resolver{rules: make(map[int]Rule)}
}

// AddRule mounts rule on its target, replacing any previous rule there.
// It panics if the rule would close a cycle through the rules already
// mounted, resolved against l.
func (r *Resolver) AddRule(l Lookuper, rule Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, hadPrev := r.rules[rule.Target]
	r.rules[rule.Target] = rule
	if r.reaches(l, rule.Target, rule.Target, make(map[int]bool)) {
		if hadPrev {
			r.rules[rule.Target] = prev
		} else {
			delete(r.rules, rule.Target)
		}
		panic(fmt.Sprintf("aggregation: rule %s closes a cycle", rule))
	}
}

// reaches reports whether target is reachable from the sources of from.
func (r *Resolver) reaches(l Lookuper, from, target int, seen map[int]bool) bool {
	rule, ok := r.rules[from]
	if !ok || seen[from] {
		return false
	}
	seen[from] = true
	for _, q := range rule.Resolve(l) {
		if q == target || r.reaches(l, q, target, seen) {
			return true
		}
	}
	return false
}

// Rule returns the rule mounted on quark.
func (r *Resolver) Rule(quark int) (Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[quark]
	return rule, ok
}

// Has reports whether quark is aggregated.
func (r *Resolver) Has(quark int) bool {
	_, ok := r.Rule(quark)
	return ok
}

// Quarks returns the aggregated quarks in ascending order.
func (r *Resolver) Quarks() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int, 0, len(r.rules))
	for q := range r.rules {
		out = append(out, q)
	}
	sort.Ints(out)
	return out
}

// Len returns the number of mounted rules.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// =============================================================================
// Evaluation
// =============================================================================

// Interval returns the interval of quark at t. Quarks without a rule are
// read from src directly.
func (r *Resolver) Interval(src Source, t int64, quark int) (state.Interval, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.interval(src, t, quark, make(map[int]bool))
}

// Ongoing returns the ongoing value of quark.
func (r *Resolver) Ongoing(src Source, quark int) (state.Value, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ongoing(src, quark, make(map[int]bool))
}

func (r *Resolver) interval(src Source, t int64, quark int, visiting map[int]bool) (state.Interval, error) {
	rule, ok := r.rules[quark]
	if !ok {
		return src.StoredInterval(t, quark)
	}
	if visiting[quark] {
		return state.Interval{}, fmt.Errorf("quark %d: %w", quark, errors.ErrRuleCycle)
	}
	visiting[quark] = true
	defer delete(visiting, quark)

	sources := rule.Resolve(src)
	start, end := src.StartTime(), src.CurrentEndTime()

	switch rule.Kind {
	case KindPriority:
		for _, q := range sources {
			iv, err := r.interval(src, t, q, visiting)
			if err != nil {
				if errors.IsNotFound(err) {
					continue
				}
				return state.Interval{}, err
			}
			start, end = narrow(start, end, iv)
			if !iv.Value.IsNull() {
				return state.NewInterval(start, end, quark, iv.Value), nil
			}
		}
		return state.NewInterval(start, end, quark, state.Null()), nil

	case KindBitwiseOr:
		var acc int32
		var found bool
		for _, q := range sources {
			iv, err := r.interval(src, t, q, visiting)
			if err != nil {
				if errors.IsNotFound(err) {
					continue
				}
				return state.Interval{}, err
			}
			start, end = narrow(start, end, iv)
			if iv.Value.IsNull() {
				continue
			}
			v, err := iv.Value.AsInt()
			if err != nil {
				return state.Interval{}, fmt.Errorf("bitwise-or on quark %d: %w", q, err)
			}
			acc |= v
			found = true
		}
		if !found {
			return state.NewInterval(start, end, quark, state.Null()), nil
		}
		return state.NewInterval(start, end, quark, state.Int(acc)), nil

	case KindSymLink:
		if len(sources) == 0 {
			return state.NewInterval(start, end, quark, state.Null()), nil
		}
		iv, err := r.interval(src, t, sources[0], visiting)
		if err != nil {
			return state.Interval{}, err
		}
		iv.Quark = quark
		return iv, nil
	}

	panic(fmt.Sprintf("aggregation: unknown rule kind %d", rule.Kind))
}

func (r *Resolver) ongoing(src Source, quark int, visiting map[int]bool) (state.Value, error) {
	rule, ok := r.rules[quark]
	if !ok {
		return src.StoredOngoing(quark)
	}
	if visiting[quark] {
		return state.Null(), fmt.Errorf("quark %d: %w", quark, errors.ErrRuleCycle)
	}
	visiting[quark] = true
	defer delete(visiting, quark)

	sources := rule.Resolve(src)

	switch rule.Kind {
	case KindPriority:
		for _, q := range sources {
			v, err := r.ongoing(src, q, visiting)
			if err != nil {
				if errors.IsNotFound(err) {
					continue
				}
				return state.Null(), err
			}
			if !v.IsNull() {
				return v, nil
			}
		}
		return state.Null(), nil

	case KindBitwiseOr:
		var acc int32
		var found bool
		for _, q := range sources {
			v, err := r.ongoing(src, q, visiting)
			if err != nil {
				if errors.IsNotFound(err) {
					continue
				}
				return state.Null(), err
			}
			if v.IsNull() {
				continue
			}
			i, err := v.AsInt()
			if err != nil {
				return state.Null(), fmt.Errorf("bitwise-or on quark %d: %w", q, err)
			}
			acc |= i
			found = true
		}
		if !found {
			return state.Null(), nil
		}
		return state.Int(acc), nil

	case KindSymLink:
		if len(sources) == 0 {
			return state.Null(), nil
		}
		return r.ongoing(src, sources[0], visiting)
	}

	panic(fmt.Sprintf("aggregation: unknown rule kind %d", rule.Kind))
}

// narrow shrinks [start, end] to the part covered by iv.
func narrow(start, end int64, iv state.Interval) (int64, int64) {
	if iv.Start > start {
		start = iv.Start
	}
	if iv.End < end {
		end = iv.End
	}
	return start, end
}
