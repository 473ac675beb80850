// Package statesystem records the history of a tree of attributes and
// answers point and range queries over it.
//
// A StateSystem owns one attribute tree and one storage backend. A single
// writer feeds state changes while any number of readers query the history
// built so far. Each attribute has an ongoing state (its current value and
// the time it was set); when the value changes, the previous state is
// committed to the backend as a closed interval.
//
// Example usage:
//
//	ss := statesystem.New(backend, statesystem.Options{})
//	q, _ := ss.QuarkAbsoluteAndAdd("CPUs", "0", "Status")
//	ss.ModifyAttribute(100, state.Int(1), q)
//	ss.CloseHistory(200)
//
//	iv, _ := ss.QuerySingleState(150, q)
package statesystem

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/statehist/internal/aggregation"
	"github.com/xtxerr/statehist/internal/attribute"
	"github.com/xtxerr/statehist/internal/errors"
	"github.com/xtxerr/statehist/internal/logging"
	"github.com/xtxerr/statehist/internal/state"
	"github.com/xtxerr/statehist/internal/storage"
	statehistSync "github.com/xtxerr/statehist/internal/sync"
)

// Options configures a new state system.
type Options struct {
	// Attributes seeds the attribute tree. Quarks already in it keep their
	// numbers. Nil starts from an empty tree.
	Attributes *attribute.Tree

	// Logger overrides the component logger.
	Logger *slog.Logger
}

// ongoing is the live state of one attribute.
type ongoing struct {
	value state.Value
	start int64
	kind  state.Kind // fixed by the first non-null value
}

// StateSystem is the writer and reader of one history.
type StateSystem struct {
	id      string
	backend storage.Backend
	attrs   *attribute.Tree
	rules   *aggregation.Resolver
	log     *slog.Logger

	// mu orders commits against queries: the writer holds it exclusively
	// while it touches ongoing state or the backend, readers share it for
	// the whole query.
	mu      sync.RWMutex
	ongoing []ongoing
	start   int64
	end     int64
	closed  bool

	built    statehistSync.Gate
	disposed atomic.Bool
}

// New returns a state system that will build its history into backend.
func New(backend storage.Backend, opts Options) *StateSystem {
	attrs := opts.Attributes
	if attrs == nil {
		attrs = attribute.New()
	}
	s := newStateSystem(backend, attrs, opts.Logger)
	s.end = s.start
	return s
}

// Open returns a read-only state system over a finished backend. The
// backend must hold the attribute tree of the history.
func Open(backend storage.Backend) (*StateSystem, error) {
	store, ok := backend.(storage.AttributeStore)
	if !ok {
		return nil, fmt.Errorf("open %s: backend does not store attributes: %w", backend.ID(), errors.ErrStorageIO)
	}
	if f, ok := backend.(storage.Finisher); ok && !f.IsFinished() {
		return nil, fmt.Errorf("open %s: history is not finished: %w", backend.ID(), errors.ErrStorageIO)
	}

	data, err := store.LoadAttributes()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", backend.ID(), err)
	}
	attrs, err := attribute.Unmarshal(data)
	if err != nil {
		return nil, errors.NewStorageIO("load attributes", err)
	}

	s := newStateSystem(backend, attrs, nil)
	s.end = backend.EndTime()
	s.closed = true
	s.built.Open()

	s.log.Debug("state system opened",
		"attributes", attrs.Len(),
		"start", s.start,
		"end", s.end,
	)
	return s, nil
}

func newStateSystem(backend storage.Backend, attrs *attribute.Tree, log *slog.Logger) *StateSystem {
	if log == nil {
		log = logging.Component("statesystem")
	}
	return &StateSystem{
		id:      backend.ID(),
		backend: backend,
		attrs:   attrs,
		rules:   aggregation.NewResolver(),
		log:     log.With("ssid", backend.ID()),
		start:   backend.StartTime(),
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

// ID returns the state system id.
func (s *StateSystem) ID() string { return s.id }

// Backend returns the storage backend.
func (s *StateSystem) Backend() storage.Backend { return s.backend }

// StartTime returns the first timestamp of the history.
func (s *StateSystem) StartTime() int64 { return s.start }

// CurrentEndTime returns the latest timestamp known to the history: the
// latest write while building, the closing time once closed.
func (s *StateSystem) CurrentEndTime() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.end
}

// IsBuilt reports whether the history is complete.
func (s *StateSystem) IsBuilt() bool { return s.built.Done() }

// WaitUntilBuilt blocks until the history is complete or ctx ends.
func (s *StateSystem) WaitUntilBuilt(ctx context.Context) error {
	return s.built.Wait(ctx)
}

// WaitUntilBuiltTimeout waits at most d and reports whether the history is
// complete.
func (s *StateSystem) WaitUntilBuiltTimeout(d time.Duration) bool {
	return s.built.WaitTimeout(d)
}

// IsDisposed reports whether Dispose has been called.
func (s *StateSystem) IsDisposed() bool { return s.disposed.Load() }

// Dispose releases the backend. Every later call fails with ErrDisposed.
// Waiters on the build gate are released.
func (s *StateSystem) Dispose() error {
	if !s.disposed.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	err := s.backend.Dispose()
	s.ongoing = nil
	s.mu.Unlock()

	s.built.Open()
	s.log.Debug("state system disposed")
	return err
}

// =============================================================================
// Attributes
// =============================================================================

// QuarkAbsoluteAndAdd returns the quark of path, creating it if needed.
func (s *StateSystem) QuarkAbsoluteAndAdd(path ...string) (int, error) {
	return s.QuarkRelativeAndAdd(attribute.Root, path...)
}

// QuarkRelativeAndAdd returns the quark of path under parent, creating it
// if needed. Once the history is closed only existing paths resolve.
func (s *StateSystem) QuarkRelativeAndAdd(parent int, path ...string) (int, error) {
	if s.disposed.Load() {
		return 0, errors.ErrDisposed
	}
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()

	// A closed history has no room for new attributes
	if closed {
		if q, err := s.attrs.Quark(parent, path...); err == nil {
			return q, nil
		}
		return 0, fmt.Errorf("add attribute: %w", errors.ErrHistoryClosed)
	}
	return s.attrs.QuarkAndAdd(parent, path...)
}

// QuarkAbsolute returns the quark of an existing path.
func (s *StateSystem) QuarkAbsolute(path ...string) (int, error) {
	return s.QuarkRelative(attribute.Root, path...)
}

// QuarkRelative returns the quark of an existing path under parent.
func (s *StateSystem) QuarkRelative(parent int, path ...string) (int, error) {
	if s.disposed.Load() {
		return 0, errors.ErrDisposed
	}
	return s.attrs.Quark(parent, path...)
}

// QuarksMatching returns the quarks whose path matches pattern, where a
// "*" segment matches any name.
func (s *StateSystem) QuarksMatching(pattern ...string) ([]int, error) {
	if s.disposed.Load() {
		return nil, errors.ErrDisposed
	}
	return s.attrs.QuarksMatching(pattern...), nil
}

// SubAttributes returns the children of quark, all descendants if
// recursive.
func (s *StateSystem) SubAttributes(quark int, recursive bool) ([]int, error) {
	if s.disposed.Load() {
		return nil, errors.ErrDisposed
	}
	return s.attrs.Children(quark, recursive, nil)
}

// SubAttributesMatching is SubAttributes keeping names matching re.
func (s *StateSystem) SubAttributesMatching(quark int, recursive bool, re *regexp.Regexp) ([]int, error) {
	if s.disposed.Load() {
		return nil, errors.ErrDisposed
	}
	return s.attrs.Children(quark, recursive, re)
}

// AttributeName returns the base name of quark.
func (s *StateSystem) AttributeName(quark int) (string, error) {
	if s.disposed.Load() {
		return "", errors.ErrDisposed
	}
	return s.attrs.Name(quark)
}

// FullAttributePath returns the "/"-joined path of quark.
func (s *StateSystem) FullAttributePath(quark int) (string, error) {
	if s.disposed.Load() {
		return "", errors.ErrDisposed
	}
	return s.attrs.FullPathString(quark)
}

// AttributePath returns the path segments of quark.
func (s *StateSystem) AttributePath(quark int) ([]string, error) {
	if s.disposed.Load() {
		return nil, errors.ErrDisposed
	}
	return s.attrs.FullPath(quark)
}

// ParentAttribute returns the parent of quark, attribute.Root at the top.
func (s *StateSystem) ParentAttribute(quark int) (int, error) {
	if s.disposed.Load() {
		return 0, errors.ErrDisposed
	}
	return s.attrs.Parent(quark)
}

// NumAttributes returns the number of attributes.
func (s *StateSystem) NumAttributes() int { return s.attrs.Len() }

// Attributes returns the attribute tree.
func (s *StateSystem) Attributes() *attribute.Tree { return s.attrs }
