package historytree

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/xtxerr/statehist/internal/state"
)

type nodeKind int8

const (
	kindCore nodeKind = 1
	kindLeaf nodeKind = 2

	// type, start, end, seq, parent, interval count, done
	nodeHeaderSize = 1 + 8 + 8 + 4 + 4 + 4 + 1
)

// coreHeaderSize is the common header plus the child table.
func coreHeaderSize(maxChildren int) int {
	return nodeHeaderSize + 4 + 12*maxChildren
}

// node is one page of the history tree. Intervals are kept sorted by end
// time. Core nodes additionally index their children by start time.
type node struct {
	kind   nodeKind
	start  int64
	end    int64
	seq    int32
	parent int32
	done   bool

	intervals []state.Interval
	used      int // encoded bytes of intervals

	children    []int32
	childStarts []int64

	blockSize   int
	maxChildren int
}

func newNode(kind nodeKind, seq, parent int32, start int64, blockSize, maxChildren int) *node {
	return &node{
		kind:        kind,
		start:       start,
		end:         start,
		seq:         seq,
		parent:      parent,
		blockSize:   blockSize,
		maxChildren: maxChildren,
	}
}

func (n *node) isLeaf() bool {
	return n.kind == kindLeaf
}

func (n *node) headerSize() int {
	if n.kind == kindCore {
		return coreHeaderSize(n.maxChildren)
	}
	return nodeHeaderSize
}

// freeSpace returns the bytes still available for interval records.
func (n *node) freeSpace() int {
	return n.blockSize - n.headerSize() - n.used
}

func (n *node) isFull() bool {
	return len(n.children) >= n.maxChildren
}

// add inserts iv keeping the end-time order. The caller checks free space.
func (n *node) add(iv state.Interval) {
	i := sort.Search(len(n.intervals), func(i int) bool {
		return n.intervals[i].End > iv.End
	})
	n.intervals = append(n.intervals, state.Interval{})
	copy(n.intervals[i+1:], n.intervals[i:])
	n.intervals[i] = iv
	n.used += intervalSize(iv)
}

// close seals the node at end. Closing before the last stored interval is
// an internal consistency failure.
func (n *node) close(end int64) {
	if k := len(n.intervals); k > 0 && end < n.intervals[k-1].End {
		panic(fmt.Sprintf("historytree: closing node %d at %d before its last interval end %d",
			n.seq, end, n.intervals[k-1].End))
	}
	n.end = end
	n.done = true
}

// linkChild appends child to the child table.
func (n *node) linkChild(child *node) {
	if n.isFull() {
		panic(fmt.Sprintf("historytree: core node %d already has %d children", n.seq, len(n.children)))
	}
	n.children = append(n.children, child.seq)
	n.childStarts = append(n.childStarts, child.start)
}

// selectNextChild returns the last child whose start is at or before t.
func (n *node) selectNextChild(t int64) int32 {
	i := sort.Search(len(n.childStarts), func(i int) bool {
		return n.childStarts[i] > t
	})
	if i == 0 {
		panic(fmt.Sprintf("historytree: node %d has no child covering t=%d", n.seq, t))
	}
	return n.children[i-1]
}

// intersecting calls fn for each interval of this node containing t until
// fn returns false. It reports whether the walk was stopped.
func (n *node) intersecting(t int64, fn func(state.Interval) bool) bool {
	i := sort.Search(len(n.intervals), func(i int) bool {
		return n.intervals[i].End >= t
	})
	for ; i < len(n.intervals); i++ {
		if n.intervals[i].Start <= t {
			if !fn(n.intervals[i]) {
				return true
			}
		}
	}
	return false
}

// =============================================================================
// Page encoding
// =============================================================================

// marshal encodes the node into a zero-padded page.
func (n *node) marshal() []byte {
	buf := make([]byte, 0, n.blockSize)

	buf = append(buf, byte(n.kind))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(n.start))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(n.end))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(n.seq))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(n.parent))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(n.intervals)))
	if n.done {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	if n.kind == kindCore {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(n.children)))
		for i := 0; i < n.maxChildren; i++ {
			var seq int32
			if i < len(n.children) {
				seq = n.children[i]
			}
			buf = binary.LittleEndian.AppendUint32(buf, uint32(seq))
		}
		for i := 0; i < n.maxChildren; i++ {
			var start int64
			if i < len(n.childStarts) {
				start = n.childStarts[i]
			}
			buf = binary.LittleEndian.AppendUint64(buf, uint64(start))
		}
	}

	for _, iv := range n.intervals {
		buf = appendInterval(buf, iv)
	}

	return buf[:n.blockSize]
}

// unmarshalNode decodes a page written by marshal.
func unmarshalNode(data []byte, blockSize, maxChildren int) (*node, error) {
	if len(data) < nodeHeaderSize {
		return nil, fmt.Errorf("data too short for node header")
	}

	n := &node{
		kind:        nodeKind(data[0]),
		start:       int64(binary.LittleEndian.Uint64(data[1:])),
		end:         int64(binary.LittleEndian.Uint64(data[9:])),
		seq:         int32(binary.LittleEndian.Uint32(data[17:])),
		parent:      int32(binary.LittleEndian.Uint32(data[21:])),
		done:        data[29] == 1,
		blockSize:   blockSize,
		maxChildren: maxChildren,
	}
	count := int(int32(binary.LittleEndian.Uint32(data[25:])))
	offset := nodeHeaderSize

	switch n.kind {
	case kindLeaf:
	case kindCore:
		if len(data) < coreHeaderSize(maxChildren) {
			return nil, fmt.Errorf("data too short for core header")
		}
		nb := int(int32(binary.LittleEndian.Uint32(data[offset:])))
		if nb < 0 || nb > maxChildren {
			return nil, fmt.Errorf("node %d: invalid child count %d", n.seq, nb)
		}
		offset += 4
		n.children = make([]int32, nb)
		n.childStarts = make([]int64, nb)
		for i := 0; i < nb; i++ {
			n.children[i] = int32(binary.LittleEndian.Uint32(data[offset+4*i:]))
			n.childStarts[i] = int64(binary.LittleEndian.Uint64(data[offset+4*maxChildren+8*i:]))
		}
		offset += 12 * maxChildren
	default:
		return nil, fmt.Errorf("unknown node type %d", n.kind)
	}

	if count < 0 {
		return nil, fmt.Errorf("node %d: invalid interval count %d", n.seq, count)
	}

	n.intervals = make([]state.Interval, 0, count)
	for i := 0; i < count; i++ {
		iv, next, err := readInterval(data, offset)
		if err != nil {
			return nil, fmt.Errorf("node %d interval %d: %w", n.seq, i, err)
		}
		n.intervals = append(n.intervals, iv)
		n.used += next - offset
		offset = next
	}

	return n, nil
}
