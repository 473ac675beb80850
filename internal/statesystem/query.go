package statesystem

import (
	"fmt"

	"github.com/xtxerr/statehist/internal/errors"
	"github.com/xtxerr/statehist/internal/state"
)

// =============================================================================
// Queries
// =============================================================================

// QueryOngoingState returns the current value of quark.
func (s *StateSystem) QueryOngoingState(quark int) (state.Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkQuarkLocked(quark); err != nil {
		return state.Null(), err
	}
	return s.rules.Ongoing(view{s}, quark)
}

// OngoingStartTime returns the time the current value of quark was set.
func (s *StateSystem) OngoingStartTime(quark int) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkQuarkLocked(quark); err != nil {
		return 0, err
	}
	if quark >= len(s.ongoing) {
		return s.start, nil
	}
	return s.ongoing[quark].start, nil
}

// QuerySingleState returns the interval of quark containing t.
// Aggregated quarks are evaluated through their rule.
func (s *StateSystem) QuerySingleState(t int64, quark int) (state.Interval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkQueryLocked(t); err != nil {
		return state.Interval{}, err
	}
	if err := s.checkQuarkLocked(quark); err != nil {
		return state.Interval{}, err
	}
	return s.rules.Interval(view{s}, t, quark)
}

// QueryFullState returns the interval containing t of every attribute,
// indexed by quark.
func (s *StateSystem) QueryFullState(t int64) ([]state.Interval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkQueryLocked(t); err != nil {
		return nil, err
	}

	n := s.attrs.Len()
	out := make([]state.Interval, n)
	found := make([]bool, n)

	if s.needsBackendLocked(t) {
		err := s.backend.QueryFull(t, func(iv state.Interval) {
			if iv.Quark >= 0 && iv.Quark < n {
				out[iv.Quark] = iv
				found[iv.Quark] = true
			}
		})
		if err != nil {
			return nil, err
		}
	}

	for q := 0; q < n; q++ {
		if iv, ok := s.transientLocked(t, q); ok {
			out[q], found[q] = iv, true
		}
	}

	v := view{s}
	for _, q := range s.rules.Quarks() {
		if q >= n {
			continue
		}
		iv, err := s.rules.Interval(v, t, q)
		if err != nil {
			return nil, err
		}
		out[q], found[q] = iv, true
	}

	for q := 0; q < n; q++ {
		if !found[q] {
			return nil, s.missingLocked(t, q)
		}
	}
	return out, nil
}

// QueryStates returns the intervals containing t of the given quarks.
func (s *StateSystem) QueryStates(t int64, quarks []int) (map[int]state.Interval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkQueryLocked(t); err != nil {
		return nil, err
	}
	for _, q := range quarks {
		if err := s.checkQuarkLocked(q); err != nil {
			return nil, err
		}
	}

	out := make(map[int]state.Interval, len(quarks))
	var stored []int
	for _, q := range quarks {
		if s.rules.Has(q) {
			iv, err := s.rules.Interval(view{s}, t, q)
			if err != nil {
				return nil, err
			}
			out[q] = iv
			continue
		}
		if iv, ok := s.transientLocked(t, q); ok {
			out[q] = iv
			continue
		}
		stored = append(stored, q)
	}

	if len(stored) > 0 {
		found, err := s.backend.QueryPartial(t, stored)
		if err != nil {
			return nil, err
		}
		for _, q := range stored {
			iv, ok := found[q]
			if !ok {
				return nil, s.missingLocked(t, q)
			}
			out[q] = iv
		}
	}
	return out, nil
}

// =============================================================================
// Internal
// =============================================================================

func (s *StateSystem) checkQuarkLocked(quark int) error {
	if s.disposed.Load() {
		return errors.ErrDisposed
	}
	if quark < 0 || quark >= s.attrs.Len() {
		return errors.NewAttributeNotFound(quark)
	}
	return nil
}

func (s *StateSystem) checkQueryLocked(t int64) error {
	if s.disposed.Load() {
		return errors.ErrDisposed
	}
	if t < s.start || t > s.end {
		return errors.NewTimeRange(t, s.start, s.end)
	}
	return nil
}

// transientLocked returns the ongoing interval of quark if it contains t.
// Before the history is closed the ongoing state of an attribute spans
// [start of its value, current end].
func (s *StateSystem) transientLocked(t int64, quark int) (state.Interval, bool) {
	if s.closed {
		return state.Interval{}, false
	}
	if quark >= len(s.ongoing) {
		// Never written: null since the history start
		return state.NewInterval(s.start, s.end, quark, state.Null()), true
	}
	o := s.ongoing[quark]
	if t < o.start {
		return state.Interval{}, false
	}
	return state.NewInterval(o.start, s.end, quark, o.value), true
}

// needsBackendLocked reports whether any attribute's state at t lives in
// the backend.
func (s *StateSystem) needsBackendLocked(t int64) bool {
	if s.closed {
		return true
	}
	for q := range s.ongoing {
		if t < s.ongoing[q].start {
			return true
		}
	}
	return false
}

func (s *StateSystem) missingLocked(t int64, quark int) error {
	return fmt.Errorf("quark %d at t=%d: no stored state: %w", quark, t, errors.ErrNotFound)
}

func (s *StateSystem) storedIntervalLocked(t int64, quark int) (state.Interval, error) {
	if err := s.checkQuarkLocked(quark); err != nil {
		return state.Interval{}, err
	}
	if iv, ok := s.transientLocked(t, quark); ok {
		return iv, nil
	}
	iv, ok, err := s.backend.QuerySingle(t, quark)
	if err != nil {
		return state.Interval{}, err
	}
	if !ok {
		return state.Interval{}, s.missingLocked(t, quark)
	}
	return iv, nil
}

func (s *StateSystem) storedOngoingLocked(quark int) (state.Value, error) {
	if err := s.checkQuarkLocked(quark); err != nil {
		return state.Null(), err
	}
	if quark < len(s.ongoing) {
		return s.ongoing[quark].value, nil
	}
	if !s.closed {
		return state.Null(), nil
	}

	// Reopened history: the last stored value is the ongoing one
	iv, ok, err := s.backend.QuerySingle(s.end, quark)
	if err != nil {
		return state.Null(), err
	}
	if !ok {
		return state.Null(), nil
	}
	return iv.Value, nil
}

// view is the aggregation source of a state system whose lock is already
// held by the caller.
type view struct {
	s *StateSystem
}

func (v view) Lookup(path []string) (int, bool) { return v.s.attrs.Lookup(path) }
func (v view) StartTime() int64                 { return v.s.start }
func (v view) CurrentEndTime() int64            { return v.s.end }

func (v view) StoredInterval(t int64, quark int) (state.Interval, error) {
	return v.s.storedIntervalLocked(t, quark)
}

func (v view) StoredOngoing(quark int) (state.Value, error) {
	return v.s.storedOngoingLocked(quark)
}
