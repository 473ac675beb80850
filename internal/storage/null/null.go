// Package null implements a storage backend that keeps no history. A state
// system on top of it only answers queries about ongoing state.
package null

import (
	"sync"

	"github.com/xtxerr/statehist/internal/errors"
	"github.com/xtxerr/statehist/internal/state"
)

// Backend drops every insert.
type Backend struct {
	mu        sync.RWMutex
	id        string
	startTime int64
	end       int64
	disposed  bool
}

// New returns a discarding backend.
func New(id string, startTime int64) *Backend {
	return &Backend{id: id, startTime: startTime, end: startTime}
}

// ID returns the state system id.
func (b *Backend) ID() string { return b.id }

// StartTime returns the first covered timestamp.
func (b *Backend) StartTime() int64 { return b.startTime }

// EndTime returns the end passed to FinishBuilding, or the start time.
func (b *Backend) EndTime() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.end
}

// InsertPastState discards the interval.
func (b *Backend) InsertPastState(start, end int64, quark int, v state.Value) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.disposed {
		return errors.ErrDisposed
	}
	return nil
}

// FinishBuilding records end.
func (b *Backend) FinishBuilding(end int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return errors.ErrDisposed
	}
	if end > b.end {
		b.end = end
	}
	return nil
}

// QuerySingle never finds anything.
func (b *Backend) QuerySingle(t int64, quark int) (state.Interval, bool, error) {
	if err := b.check(); err != nil {
		return state.Interval{}, false, err
	}
	return state.Interval{}, false, nil
}

// QueryFull never visits anything.
func (b *Backend) QueryFull(t int64, visit func(state.Interval)) error {
	return b.check()
}

// QueryPartial returns an empty map.
func (b *Backend) QueryPartial(t int64, quarks []int) (map[int]state.Interval, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	return map[int]state.Interval{}, nil
}

// Dispose marks the backend unusable.
func (b *Backend) Dispose() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disposed = true
	return nil
}

func (b *Backend) check() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.disposed {
		return errors.ErrDisposed
	}
	return nil
}
