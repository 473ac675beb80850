package statesystem

import (
	"fmt"
	"strconv"

	"github.com/xtxerr/statehist/internal/aggregation"
	"github.com/xtxerr/statehist/internal/errors"
	"github.com/xtxerr/statehist/internal/state"
	"github.com/xtxerr/statehist/internal/storage"
)

// =============================================================================
// State changes
// =============================================================================

// ModifyAttribute sets quark to v from t on. The first non-null value of an
// attribute fixes its kind; later values of another kind are rejected.
func (s *StateSystem) ModifyAttribute(t int64, v state.Value, quark int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkWritableLocked(); err != nil {
		return err
	}
	return s.modifyLocked(t, v, quark)
}

// IncrementAttribute adds one to the integer value of quark. A null value
// becomes 1.
func (s *StateSystem) IncrementAttribute(t int64, quark int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkWritableLocked(); err != nil {
		return err
	}
	o, err := s.ongoingLocked(quark)
	if err != nil {
		return err
	}

	var next state.Value
	switch o.value.Kind() {
	case state.KindNull:
		next = state.Int(1)
	case state.KindInt:
		i, _ := o.value.AsInt()
		next = state.Int(i + 1)
	case state.KindLong:
		l, _ := o.value.AsLong()
		next = state.Long(l + 1)
	default:
		return fmt.Errorf("increment quark %d: %w", quark, errors.NewValueType("int or long", o.value.Kind().String()))
	}
	return s.modifyLocked(t, next, quark)
}

// PushAttribute pushes v on the stack at quark. The stack depth is stored
// as an int at quark; the values at the sub-attributes "1", "2", ...
func (s *StateSystem) PushAttribute(t int64, v state.Value, quark int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkWritableLocked(); err != nil {
		return err
	}
	depth, err := s.stackDepthLocked(quark)
	if err != nil {
		return err
	}

	depth++
	o, err := s.ongoingLocked(quark)
	if err != nil {
		return err
	}
	if err := s.checkModifyLocked(t, state.Int(depth), quark, o); err != nil {
		return err
	}
	name := strconv.Itoa(int(depth))
	if sub, err := s.attrs.Quark(quark, name); err == nil {
		so, err := s.ongoingLocked(sub)
		if err != nil {
			return err
		}
		if err := s.checkModifyLocked(t, v, sub, so); err != nil {
			return err
		}
	}

	sub, err := s.attrs.QuarkAndAdd(quark, name)
	if err != nil {
		return err
	}
	if err := s.modifyLocked(t, state.Int(depth), quark); err != nil {
		return err
	}
	return s.modifyLocked(t, v, sub)
}

// PopAttribute removes the top of the stack at quark and returns it. ok is
// false if the stack was empty.
func (s *StateSystem) PopAttribute(t int64, quark int) (v state.Value, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkWritableLocked(); err != nil {
		return state.Null(), false, err
	}
	depth, err := s.stackDepthLocked(quark)
	if err != nil {
		return state.Null(), false, err
	}
	if depth <= 0 {
		return state.Null(), false, nil
	}

	sub, err := s.attrs.Quark(quark, strconv.Itoa(int(depth)))
	if err != nil {
		return state.Null(), false, err
	}
	top, err := s.ongoingLocked(sub)
	if err != nil {
		return state.Null(), false, err
	}
	popped := top.value

	next := state.Null()
	if depth > 1 {
		next = state.Int(depth - 1)
	}
	if err := s.modifyLocked(t, next, quark); err != nil {
		return state.Null(), false, err
	}
	if err := s.removeLocked(t, sub); err != nil {
		return state.Null(), false, err
	}
	return popped, true, nil
}

// RemoveAttribute sets quark and all its descendants to null at t.
func (s *StateSystem) RemoveAttribute(t int64, quark int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkWritableLocked(); err != nil {
		return err
	}
	return s.removeLocked(t, quark)
}

// AddAggregationRule mounts rule on its target quark. It panics if the rule
// closes a cycle with the rules already mounted.
func (s *StateSystem) AddAggregationRule(rule aggregation.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed.Load() {
		return errors.ErrDisposed
	}
	if rule.Target >= s.attrs.Len() {
		return errors.NewAttributeNotFound(rule.Target)
	}
	s.rules.AddRule(s.attrs, rule)

	s.log.Debug("aggregation rule added", "rule", rule.String())
	return nil
}

// CloseHistory commits every ongoing state up to end (or the latest write,
// if later), finishes the backend and opens the build gate.
func (s *StateSystem) CloseHistory(end int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkWritableLocked(); err != nil {
		return err
	}
	if end < s.end {
		end = s.end
	}

	s.growOngoingLocked()
	for q := range s.ongoing {
		o := &s.ongoing[q]
		if err := s.backend.InsertPastState(o.start, end, q, o.value); err != nil {
			return fmt.Errorf("close quark %d: %w", q, err)
		}
	}
	if err := s.backend.FinishBuilding(end); err != nil {
		return err
	}

	if store, ok := s.backend.(storage.AttributeStore); ok {
		data, err := s.attrs.MarshalBinary()
		if err != nil {
			return err
		}
		if err := store.StoreAttributes(data); err != nil {
			return err
		}
	}

	s.end = end
	s.closed = true
	s.built.Open()

	s.log.Info("history built",
		"attributes", s.attrs.Len(),
		"rules", s.rules.Len(),
		"start", s.start,
		"end", end,
	)
	return nil
}

// =============================================================================
// Internal
// =============================================================================

func (s *StateSystem) checkWritableLocked() error {
	if s.disposed.Load() {
		return errors.ErrDisposed
	}
	if s.closed {
		return errors.ErrHistoryClosed
	}
	return nil
}

// growOngoingLocked gives every attribute created since the last call a
// null ongoing state starting at the history start.
func (s *StateSystem) growOngoingLocked() {
	for n := s.attrs.Len(); len(s.ongoing) < n; {
		s.ongoing = append(s.ongoing, ongoing{start: s.start})
	}
}

func (s *StateSystem) ongoingLocked(quark int) (*ongoing, error) {
	if quark < 0 || quark >= s.attrs.Len() {
		return nil, errors.NewAttributeNotFound(quark)
	}
	s.growOngoingLocked()
	return &s.ongoing[quark], nil
}

// checkModifyLocked reports whether v can be written to o at t.
func (s *StateSystem) checkModifyLocked(t int64, v state.Value, quark int, o *ongoing) error {
	if t < o.start {
		return errors.NewTimeRange(t, o.start, s.end)
	}
	if !v.IsNull() && o.kind != state.KindNull && o.kind != v.Kind() {
		return fmt.Errorf("quark %d: %w", quark, errors.NewValueType(o.kind.String(), v.Kind().String()))
	}
	return nil
}

// modifyLocked changes nothing unless the write is accepted: the kind and
// the end time move only once the previous state is committed.
func (s *StateSystem) modifyLocked(t int64, v state.Value, quark int) error {
	o, err := s.ongoingLocked(quark)
	if err != nil {
		return err
	}
	if err := s.checkModifyLocked(t, v, quark, o); err != nil {
		return err
	}

	// Same value: no state change
	if !v.Equal(o.value) {
		if o.start < t {
			if err := s.backend.InsertPastState(o.start, t-1, quark, o.value); err != nil {
				return err
			}
		}
		o.value = v
		o.start = t
	}

	if !v.IsNull() && o.kind == state.KindNull {
		o.kind = v.Kind()
	}
	if t > s.end {
		s.end = t
	}
	return nil
}

func (s *StateSystem) removeLocked(t int64, quark int) error {
	children, err := s.attrs.Children(quark, true, nil)
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := s.modifyLocked(t, state.Null(), c); err != nil {
			return err
		}
	}
	return s.modifyLocked(t, state.Null(), quark)
}

func (s *StateSystem) stackDepthLocked(quark int) (int32, error) {
	o, err := s.ongoingLocked(quark)
	if err != nil {
		return 0, err
	}
	if o.value.IsNull() {
		return 0, nil
	}
	depth, err := o.value.AsInt()
	if err != nil {
		return 0, fmt.Errorf("stack at quark %d: %w", quark, err)
	}
	return depth, nil
}
