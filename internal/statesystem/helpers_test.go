package statesystem

import (
	"path/filepath"
	"testing"

	"github.com/xtxerr/statehist/internal/errors"
	"github.com/xtxerr/statehist/internal/state"
	"github.com/xtxerr/statehist/internal/storage"
	"github.com/xtxerr/statehist/internal/storage/historytree"
	"github.com/xtxerr/statehist/internal/storage/memory"
)

func newMemoryStateSystem(t *testing.T, start int64) *StateSystem {
	t.Helper()
	ss := New(memory.New("test", start), Options{})
	t.Cleanup(func() { ss.Dispose() })
	return ss
}

func newTreeStateSystem(t *testing.T, start int64, opts historytree.Options) (*StateSystem, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.ht")
	opts.StartTime = start
	b, err := historytree.NewBackend("test", path, opts)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	ss := New(b, Options{})
	t.Cleanup(func() { ss.Dispose() })
	return ss, path
}

// failingBackend rejects inserts while fail is set.
type failingBackend struct {
	storage.Backend
	fail bool
}

func (b *failingBackend) InsertPastState(start, end int64, quark int, v state.Value) error {
	if b.fail {
		return errors.NewStorageIO("insert", errors.ErrNotFound)
	}
	return b.Backend.InsertPastState(start, end, quark, v)
}

func mustQuark(t *testing.T, ss *StateSystem, path ...string) int {
	t.Helper()
	q, err := ss.QuarkAbsoluteAndAdd(path...)
	if err != nil {
		t.Fatalf("QuarkAbsoluteAndAdd(%v): %v", path, err)
	}
	return q
}

func mustModify(t *testing.T, ss *StateSystem, ts int64, v state.Value, quark int) {
	t.Helper()
	if err := ss.ModifyAttribute(ts, v, quark); err != nil {
		t.Fatalf("ModifyAttribute(%d, %s, %d): %v", ts, v, quark, err)
	}
}

func mustClose(t *testing.T, ss *StateSystem, end int64) {
	t.Helper()
	if err := ss.CloseHistory(end); err != nil {
		t.Fatalf("CloseHistory(%d): %v", end, err)
	}
}

func expectOngoing(t *testing.T, ss *StateSystem, quark int, want state.Value) {
	t.Helper()
	got, err := ss.QueryOngoingState(quark)
	if err != nil {
		t.Fatalf("QueryOngoingState(%d): %v", quark, err)
	}
	if !got.Equal(want) {
		t.Errorf("ongoing state of %d: expected %s, got %s", quark, want, got)
	}
}

// verifyInterval checks the single query and the full query at ts.
func verifyInterval(t *testing.T, ss *StateSystem, ts int64, quark int, start, end int64, want state.Value) {
	t.Helper()
	expected := state.NewInterval(start, end, quark, want)

	iv, err := ss.QuerySingleState(ts, quark)
	if err != nil {
		t.Fatalf("QuerySingleState(%d, %d): %v", ts, quark, err)
	}
	if !iv.Equal(expected) {
		t.Errorf("single query at %d: expected %s, got %s", ts, expected, iv)
	}

	full, err := ss.QueryFullState(ts)
	if err != nil {
		t.Fatalf("QueryFullState(%d): %v", ts, err)
	}
	if !full[quark].Equal(expected) {
		t.Errorf("full query at %d: expected %s, got %s", ts, expected, full[quark])
	}
}
