package historytree

import (
	"math"
	"testing"

	"github.com/xtxerr/statehist/internal/state"
)

func TestNodePageRoundTrip(t *testing.T) {
	n := newNode(kindCore, 7, 3, 100, testBlockSize, 4)
	child := newNode(kindLeaf, 8, 7, 100, testBlockSize, 4)
	n.linkChild(child)

	values := []state.Value{
		state.Null(),
		state.Bool(true),
		state.Bool(false),
		state.Int(-5),
		state.Long(math.MinInt64),
		state.Double(math.Inf(-1)),
		state.String(""),
		state.String("Running"),
	}
	for i, v := range values {
		n.add(state.NewInterval(100+int64(i), 200-int64(i), i, v))
	}
	n.close(300)

	page := n.marshal()
	if len(page) != testBlockSize {
		t.Fatalf("expected page of %d bytes, got %d", testBlockSize, len(page))
	}

	got, err := unmarshalNode(page, testBlockSize, 4)
	if err != nil {
		t.Fatalf("unmarshalNode: %v", err)
	}

	if got.kind != kindCore || got.seq != 7 || got.parent != 3 || got.start != 100 || got.end != 300 || !got.done {
		t.Errorf("header mismatch: %+v", got)
	}
	if len(got.children) != 1 || got.children[0] != 8 || got.childStarts[0] != 100 {
		t.Errorf("child table mismatch: %v %v", got.children, got.childStarts)
	}
	if got.freeSpace() != n.freeSpace() {
		t.Errorf("expected free space %d, got %d", n.freeSpace(), got.freeSpace())
	}
	if len(got.intervals) != len(values) {
		t.Fatalf("expected %d intervals, got %d", len(values), len(got.intervals))
	}
	for i := range got.intervals {
		if !got.intervals[i].Equal(n.intervals[i]) {
			t.Errorf("interval %d: expected %s, got %s", i, n.intervals[i], got.intervals[i])
		}
	}
}

func TestIntervalsSortedByEnd(t *testing.T) {
	n := newNode(kindLeaf, 0, -1, 0, testBlockSize, 4)
	for _, end := range []int64{50, 10, 30, 10, 70} {
		n.add(state.NewInterval(0, end, 0, state.Int(1)))
	}
	for i := 1; i < len(n.intervals); i++ {
		if n.intervals[i-1].End > n.intervals[i].End {
			t.Fatalf("intervals not sorted: %v", n.intervals)
		}
	}
}

func TestCloseBeforeLastIntervalPanics(t *testing.T) {
	n := newNode(kindLeaf, 0, -1, 0, testBlockSize, 4)
	n.add(state.NewInterval(0, 20, 0, state.Int(1)))

	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	n.close(10)
}

func TestEmptyNodeMayCloseBeforeStart(t *testing.T) {
	n := newNode(kindLeaf, 0, -1, 11, testBlockSize, 4)
	n.close(10)
	if n.end != 10 || !n.done {
		t.Errorf("expected closed empty node, got end=%d done=%v", n.end, n.done)
	}
}

func TestSelectNextChild(t *testing.T) {
	n := newNode(kindCore, 0, -1, 0, testBlockSize, 4)
	for i, start := range []int64{0, 11, 21} {
		n.linkChild(newNode(kindLeaf, int32(i+1), 0, start, testBlockSize, 4))
	}

	tests := []struct {
		t    int64
		want int32
	}{
		{0, 1}, {10, 1}, {11, 2}, {20, 2}, {21, 3}, {1000, 3},
	}
	for _, tt := range tests {
		if got := n.selectNextChild(tt.t); got != tt.want {
			t.Errorf("selectNextChild(%d): expected %d, got %d", tt.t, tt.want, got)
		}
	}

	defer func() {
		if recover() == nil {
			t.Error("expected panic for time before first child")
		}
	}()
	n.selectNextChild(-1)
}

func TestHeaderRoundTrip(t *testing.T) {
	h := header{
		providerVersion: 3,
		blockSize:       testBlockSize,
		maxChildren:     10,
		nodeCount:       12,
		rootSeq:         11,
		startTime:       -42,
		attrLen:         99,
	}
	got, err := unmarshalHeader(h.marshal(), 3)
	if err != nil {
		t.Fatalf("unmarshalHeader: %v", err)
	}
	if got != h {
		t.Errorf("expected %+v, got %+v", h, got)
	}
}
