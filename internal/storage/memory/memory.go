// Package memory implements a storage backend keeping every interval in
// memory, indexed per attribute.
package memory

import (
	"sort"
	"sync"

	"github.com/xtxerr/statehist/internal/errors"
	"github.com/xtxerr/statehist/internal/state"
)

// Backend keeps the intervals of each quark sorted by start time.
type Backend struct {
	mu sync.RWMutex

	id        string
	startTime int64
	end       int64
	quarks    [][]state.Interval
	count     int
	finished  bool
	disposed  bool
}

// New returns an empty backend covering [startTime, startTime].
func New(id string, startTime int64) *Backend {
	return &Backend{
		id:        id,
		startTime: startTime,
		end:       startTime,
	}
}

// ID returns the state system id.
func (b *Backend) ID() string { return b.id }

// StartTime returns the first covered timestamp.
func (b *Backend) StartTime() int64 { return b.startTime }

// EndTime returns the largest end time inserted or finished at.
func (b *Backend) EndTime() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.end
}

// Len returns the number of stored intervals.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// IsFinished reports whether FinishBuilding was called.
func (b *Backend) IsFinished() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.finished
}

// InsertPastState stores [start, end] = v for quark.
func (b *Backend) InsertPastState(start, end int64, quark int, v state.Value) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disposed {
		return errors.ErrDisposed
	}
	if b.finished {
		return errors.ErrHistoryClosed
	}
	if start > end || start < b.startTime {
		return errors.NewTimeRange(start, b.startTime, end)
	}
	if quark < 0 {
		return errors.NewAttributeNotFound(quark)
	}

	for len(b.quarks) <= quark {
		b.quarks = append(b.quarks, nil)
	}

	list := b.quarks[quark]
	i := sort.Search(len(list), func(i int) bool { return list[i].Start > start })
	list = append(list, state.Interval{})
	copy(list[i+1:], list[i:])
	list[i] = state.NewInterval(start, end, quark, v)
	b.quarks[quark] = list
	b.count++

	if end > b.end {
		b.end = end
	}
	return nil
}

// FinishBuilding extends the history to end.
func (b *Backend) FinishBuilding(end int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disposed {
		return errors.ErrDisposed
	}
	if b.finished {
		return errors.ErrHistoryClosed
	}
	if end > b.end {
		b.end = end
	}
	b.finished = true
	return nil
}

// QuerySingle returns the interval of quark containing t.
func (b *Backend) QuerySingle(t int64, quark int) (state.Interval, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkLocked(t); err != nil {
		return state.Interval{}, false, err
	}
	iv, ok := b.findLocked(t, quark)
	return iv, ok, nil
}

// QueryFull calls visit for every interval containing t, in quark order.
func (b *Backend) QueryFull(t int64, visit func(state.Interval)) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkLocked(t); err != nil {
		return err
	}
	for q := range b.quarks {
		if iv, ok := b.findLocked(t, q); ok {
			visit(iv)
		}
	}
	return nil
}

// QueryPartial returns the intervals containing t for quarks.
func (b *Backend) QueryPartial(t int64, quarks []int) (map[int]state.Interval, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkLocked(t); err != nil {
		return nil, err
	}
	out := make(map[int]state.Interval, len(quarks))
	for _, q := range quarks {
		if iv, ok := b.findLocked(t, q); ok {
			out[q] = iv
		}
	}
	return out, nil
}

// Dispose drops all intervals.
func (b *Backend) Dispose() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disposed = true
	b.quarks = nil
	return nil
}

func (b *Backend) checkLocked(t int64) error {
	if b.disposed {
		return errors.ErrDisposed
	}
	if t < b.startTime || t > b.end {
		return errors.NewTimeRange(t, b.startTime, b.end)
	}
	return nil
}

// findLocked returns the last interval of quark starting at or before t,
// if it also ends at or after t.
func (b *Backend) findLocked(t int64, quark int) (state.Interval, bool) {
	if quark < 0 || quark >= len(b.quarks) {
		return state.Interval{}, false
	}
	list := b.quarks[quark]
	i := sort.Search(len(list), func(i int) bool { return list[i].Start > t })
	if i == 0 || list[i-1].End < t {
		return state.Interval{}, false
	}
	return list[i-1], true
}
