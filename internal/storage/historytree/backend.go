package historytree

import (
	"sync/atomic"

	"github.com/xtxerr/statehist/internal/errors"
	"github.com/xtxerr/statehist/internal/state"
)

// Backend exposes a Tree as a state system storage backend.
type Backend struct {
	id       string
	tree     *Tree
	disposed atomic.Bool
}

// NewBackend creates a history file at path for state system id.
func NewBackend(id, path string, opts Options) (*Backend, error) {
	tree, err := Create(path, opts)
	if err != nil {
		return nil, err
	}
	return &Backend{id: id, tree: tree}, nil
}

// OpenBackend reopens a finished history file.
func OpenBackend(id, path string, providerVersion, nodeCacheSize int) (*Backend, error) {
	tree, err := Open(path, providerVersion, nodeCacheSize)
	if err != nil {
		return nil, err
	}
	return &Backend{id: id, tree: tree}, nil
}

// ID returns the state system id.
func (b *Backend) ID() string { return b.id }

// Tree returns the underlying history tree.
func (b *Backend) Tree() *Tree { return b.tree }

// StartTime returns the first covered timestamp.
func (b *Backend) StartTime() int64 { return b.tree.StartTime() }

// EndTime returns the last covered timestamp.
func (b *Backend) EndTime() int64 { return b.tree.EndTime() }

// IsFinished reports whether the history is complete.
func (b *Backend) IsFinished() bool { return b.tree.IsFinished() }

// InsertPastState stores [start, end] = v for quark.
func (b *Backend) InsertPastState(start, end int64, quark int, v state.Value) error {
	if b.disposed.Load() {
		return errors.ErrDisposed
	}
	return b.tree.Insert(state.NewInterval(start, end, quark, v))
}

// FinishBuilding seals the tree at end.
func (b *Backend) FinishBuilding(end int64) error {
	if b.disposed.Load() {
		return errors.ErrDisposed
	}
	return b.tree.Close(end)
}

// QuerySingle returns the interval of quark containing t.
func (b *Backend) QuerySingle(t int64, quark int) (state.Interval, bool, error) {
	if b.disposed.Load() {
		return state.Interval{}, false, errors.ErrDisposed
	}

	var found state.Interval
	ok := false
	err := b.tree.Query(t, func(iv state.Interval) bool {
		if iv.Quark == quark {
			found, ok = iv, true
			return false
		}
		return true
	})
	if err != nil {
		return state.Interval{}, false, err
	}
	return found, ok, nil
}

// QueryFull calls visit for every stored interval containing t.
func (b *Backend) QueryFull(t int64, visit func(state.Interval)) error {
	if b.disposed.Load() {
		return errors.ErrDisposed
	}
	return b.tree.Query(t, func(iv state.Interval) bool {
		visit(iv)
		return true
	})
}

// QueryPartial returns the intervals containing t for the given quarks.
func (b *Backend) QueryPartial(t int64, quarks []int) (map[int]state.Interval, error) {
	if b.disposed.Load() {
		return nil, errors.ErrDisposed
	}

	want := make(map[int]struct{}, len(quarks))
	for _, q := range quarks {
		want[q] = struct{}{}
	}

	out := make(map[int]state.Interval, len(quarks))
	err := b.tree.Query(t, func(iv state.Interval) bool {
		if _, ok := want[iv.Quark]; ok {
			out[iv.Quark] = iv
		}
		return len(out) < len(want)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// StoreAttributes persists the serialized attribute tree.
func (b *Backend) StoreAttributes(data []byte) error {
	if b.disposed.Load() {
		return errors.ErrDisposed
	}
	return b.tree.StoreAttributes(data)
}

// LoadAttributes returns the serialized attribute tree.
func (b *Backend) LoadAttributes() ([]byte, error) {
	if b.disposed.Load() {
		return nil, errors.ErrDisposed
	}
	return b.tree.LoadAttributes()
}

// Stats returns the tree statistics.
func (b *Backend) Stats() Stats { return b.tree.Stats() }

// Dispose releases the file and deletes it if the history is unfinished.
func (b *Backend) Dispose() error {
	if !b.disposed.CompareAndSwap(false, true) {
		return nil
	}
	return b.tree.Dispose()
}
