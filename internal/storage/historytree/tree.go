// Package historytree stores state intervals in a paginated on-disk tree.
//
// The file starts with a fixed-size header followed by fixed-size node
// pages, addressed by sequence number, and an optional attribute section.
// Only the latest branch (root to rightmost leaf) is mutable: it lives in
// memory and is guarded by a lock. Every other node is sealed and written
// exactly once, so readers page it in without holding the lock.
//
// An interval is stored in the deepest latest-branch node whose start is at
// or before the interval's start. When a node runs out of space the branch
// is split at the current end time; when the root itself is full a new root
// is added above it.
package historytree

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/xtxerr/statehist/config"
	"github.com/xtxerr/statehist/internal/errors"
	"github.com/xtxerr/statehist/internal/logging"
	"github.com/xtxerr/statehist/internal/state"
	"golang.org/x/sync/singleflight"
)

// Options configures a new history tree.
type Options struct {
	// StartTime is the first timestamp the tree covers.
	StartTime int64

	// BlockSize is the size of a node page in bytes.
	// Default: 64KB, minimum: 4096
	BlockSize int

	// MaxChildren is the fan-out of core nodes.
	// Default: 50
	MaxChildren int

	// ProviderVersion is recorded in the header and checked on reopen.
	ProviderVersion int

	// NodeCacheSize is the number of sealed nodes kept after a read.
	// Default: 256
	NodeCacheSize int
}

func (o *Options) setDefaults() {
	if o.BlockSize == 0 {
		o.BlockSize = config.DefaultBlockSize
	}
	if o.MaxChildren == 0 {
		o.MaxChildren = config.DefaultMaxChildren
	}
	if o.NodeCacheSize == 0 {
		o.NodeCacheSize = config.DefaultNodeCacheSize
	}
}

func (o *Options) validate() error {
	ve := errors.NewValidationErrors()
	if o.BlockSize < config.HeaderSize {
		ve.AddField("block_size", fmt.Sprintf("must be at least %d", config.HeaderSize))
	}
	if o.MaxChildren < 2 {
		ve.AddField("max_children", "must be at least 2")
	}
	if !ve.HasErrors() && coreHeaderSize(o.MaxChildren) >= o.BlockSize {
		ve.AddField("block_size", fmt.Sprintf("cannot hold a core node with %d children", o.MaxChildren))
	}
	if o.ProviderVersion < 0 {
		ve.AddField("provider_version", "must not be negative")
	}
	return ve.Err()
}

// Stats reports the shape and read activity of a tree.
type Stats struct {
	Nodes       int
	Depth       int
	Splits      int64
	NewRoots    int64
	NodeReads   int64
	CacheHits   int64
	CacheMisses int64
	CachedNodes int
}

// Tree is a history tree file. A Tree accepts inserts from one writer
// while any number of readers query it.
type Tree struct {
	mu sync.RWMutex

	path     string
	file     *os.File
	readOnly bool

	blockSize       int
	maxChildren     int
	providerVersion int
	startTime       int64

	// Guarded by mu
	end       int64
	nodeCount int32
	branch    []*node
	finished  bool
	disposed  bool
	attrLen   int32
	splits    int64
	newRoots  int64

	cache     *nodeCache
	loads     singleflight.Group
	nodeReads atomic.Int64

	log *slog.Logger
}

// Create truncates or creates the file at path and starts an empty tree
// made of a single leaf.
func Create(path string, opts Options) (*Tree, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, errors.NewStorageIO("create history file", err)
	}

	t := &Tree{
		path:            path,
		file:            f,
		blockSize:       opts.BlockSize,
		maxChildren:     opts.MaxChildren,
		providerVersion: opts.ProviderVersion,
		startTime:       opts.StartTime,
		end:             opts.StartTime,
		cache:           newNodeCache(opts.NodeCacheSize),
		log:             logging.Component("historytree"),
	}

	root := t.newNodeLocked(kindLeaf, -1, opts.StartTime)
	t.branch = []*node{root}

	// The header stays "unfinished" (no nodes) until Close.
	if err := t.writeHeaderLocked(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}

	t.log.Debug("history tree created",
		"path", path,
		"start", opts.StartTime,
		"block_size", opts.BlockSize,
		"max_children", opts.MaxChildren,
	)
	return t, nil
}

// Open reopens a finished history file read-only.
func Open(path string, providerVersion, nodeCacheSize int) (*Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewStorageIO("open history file", err)
	}

	buf := make([]byte, config.HeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("read header: %w: %v", errors.ErrCorruptHeader, err)
	}

	h, err := unmarshalHeader(buf, providerVersion)
	if err != nil {
		f.Close()
		return nil, err
	}

	if nodeCacheSize == 0 {
		nodeCacheSize = config.DefaultNodeCacheSize
	}

	t := &Tree{
		path:            path,
		file:            f,
		readOnly:        true,
		blockSize:       int(h.blockSize),
		maxChildren:     int(h.maxChildren),
		providerVersion: int(h.providerVersion),
		startTime:       h.startTime,
		nodeCount:       h.nodeCount,
		finished:        true,
		attrLen:         h.attrLen,
		cache:           newNodeCache(nodeCacheSize),
		log:             logging.Component("historytree"),
	}

	if err := t.rebuildBranch(h.rootSeq); err != nil {
		f.Close()
		return nil, err
	}

	t.log.Debug("history tree opened",
		"path", path,
		"nodes", t.nodeCount,
		"depth", len(t.branch),
		"start", t.startTime,
		"end", t.end,
	)
	return t, nil
}

// rebuildBranch follows the last child from the root down to a leaf.
func (t *Tree) rebuildBranch(rootSeq int32) error {
	root, err := t.readNode(rootSeq)
	if err != nil {
		return err
	}
	if root.start != t.startTime {
		return fmt.Errorf("root starts at %d, header at %d: %w", root.start, t.startTime, errors.ErrCorruptHeader)
	}

	t.branch = []*node{root}
	t.end = root.end

	for n := root; !n.isLeaf(); {
		if len(n.children) == 0 || len(t.branch) > int(t.nodeCount) {
			return fmt.Errorf("broken latest branch at node %d: %w", n.seq, errors.ErrCorruptHeader)
		}
		child := n.children[len(n.children)-1]
		if child < 0 || child >= t.nodeCount {
			return fmt.Errorf("node %d: child %d out of range: %w", n.seq, child, errors.ErrCorruptHeader)
		}
		if n, err = t.readNode(child); err != nil {
			return err
		}
		t.branch = append(t.branch, n)
	}
	return nil
}

// =============================================================================
// Accessors
// =============================================================================

// Path returns the file path.
func (t *Tree) Path() string { return t.path }

// StartTime returns the first timestamp covered by the tree.
func (t *Tree) StartTime() int64 { return t.startTime }

// EndTime returns the largest end time inserted (or closed at).
func (t *Tree) EndTime() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.end
}

// IsFinished reports whether Close has been called (or the file reopened).
func (t *Tree) IsFinished() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.finished
}

// Depth returns the number of nodes in the latest branch.
func (t *Tree) Depth() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.branch)
}

// NodeCount returns the number of nodes allocated so far.
func (t *Tree) NodeCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return int(t.nodeCount)
}

// Stats returns tree statistics.
func (t *Tree) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Stats{
		Nodes:       int(t.nodeCount),
		Depth:       len(t.branch),
		Splits:      t.splits,
		NewRoots:    t.newRoots,
		NodeReads:   t.nodeReads.Load(),
		CacheHits:   t.cache.hits.Load(),
		CacheMisses: t.cache.misses.Load(),
		CachedNodes: t.cache.len(),
	}
}

// =============================================================================
// Insertion
// =============================================================================

// Insert stores a closed interval.
func (t *Tree) Insert(iv state.Interval) error {
	if err := checkEncodable(iv.Value); err != nil {
		return err
	}
	if size := intervalSize(iv); size > t.blockSize-coreHeaderSize(t.maxChildren) {
		return fmt.Errorf("interval of %d bytes: %w", size, errors.ErrIntervalTooLarge)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.disposed {
		return errors.ErrDisposed
	}
	if t.finished {
		return errors.ErrHistoryClosed
	}
	if iv.Start < t.startTime || iv.Start > iv.End {
		return errors.NewTimeRange(iv.Start, t.startTime, iv.End)
	}

	return t.tryInsertAtNode(iv, len(t.branch)-1)
}

func (t *Tree) tryInsertAtNode(iv state.Interval, idx int) error {
	n := t.branch[idx]

	// Not enough room: split, then retry from the (new) leaf
	if intervalSize(iv) > n.freeSpace() {
		if err := t.addSibling(idx); err != nil {
			return err
		}
		return t.tryInsertAtNode(iv, len(t.branch)-1)
	}

	// The interval starts before this node: try one level up
	if iv.Start < n.start {
		if idx == 0 {
			panic(fmt.Sprintf("historytree: interval start %d before root start %d", iv.Start, n.start))
		}
		return t.tryInsertAtNode(iv, idx-1)
	}

	n.add(iv)
	if iv.End > t.end {
		t.end = iv.End
	}
	return nil
}

// addSibling closes branch[idx:] at the current end time and replaces them
// with fresh nodes starting right after it.
func (t *Tree) addSibling(idx int) error {
	if idx == 0 {
		return t.addNewRoot()
	}
	if t.branch[idx-1].isFull() {
		return t.addSibling(idx - 1)
	}

	splitTime := t.end
	for i := idx; i < len(t.branch); i++ {
		old := t.branch[i]
		if err := t.sealLocked(old, splitTime); err != nil {
			return err
		}

		parent := t.branch[i-1]
		fresh := t.newNodeLocked(old.kind, parent.seq, splitTime+1)
		parent.linkChild(fresh)
		t.branch[i] = fresh
	}

	t.splits++
	t.log.Debug("branch split",
		"level", idx,
		"split_time", splitTime,
		"nodes", t.nodeCount,
	)
	return nil
}

// addNewRoot puts a new core node above the current root and starts a
// fresh branch of the same depth below it.
func (t *Tree) addNewRoot() error {
	splitTime := t.end
	oldRoot := t.branch[0]
	depth := len(t.branch)

	root := t.newNodeLocked(kindCore, -1, t.startTime)
	oldRoot.parent = root.seq

	for _, n := range t.branch {
		if err := t.sealLocked(n, splitTime); err != nil {
			return err
		}
	}
	root.linkChild(oldRoot)

	branch := []*node{root}
	prev := root
	for i := 0; i < depth-1; i++ {
		core := t.newNodeLocked(kindCore, prev.seq, splitTime+1)
		prev.linkChild(core)
		branch = append(branch, core)
		prev = core
	}
	leaf := t.newNodeLocked(kindLeaf, prev.seq, splitTime+1)
	prev.linkChild(leaf)
	branch = append(branch, leaf)

	t.branch = branch
	t.newRoots++
	t.log.Debug("new root",
		"seq", root.seq,
		"depth", len(branch),
		"split_time", splitTime,
	)
	return nil
}

func (t *Tree) newNodeLocked(kind nodeKind, parent int32, start int64) *node {
	n := newNode(kind, t.nodeCount, parent, start, t.blockSize, t.maxChildren)
	t.nodeCount++
	return n
}

// sealLocked closes n, writes its page and hands it to the node cache.
func (t *Tree) sealLocked(n *node, end int64) error {
	n.close(end)
	if err := t.writeNodeLocked(n); err != nil {
		return err
	}
	t.cache.put(n)
	return nil
}

// Close seals the latest branch at end (or the largest inserted end time,
// whichever is later) and finalizes the file.
func (t *Tree) Close(end int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.disposed {
		return errors.ErrDisposed
	}
	if t.finished {
		return errors.ErrHistoryClosed
	}

	if end < t.end {
		end = t.end
	}
	for i := len(t.branch) - 1; i >= 0; i-- {
		if err := t.sealLocked(t.branch[i], end); err != nil {
			return err
		}
	}
	t.end = end
	t.finished = true

	if err := t.writeHeaderLocked(); err != nil {
		return err
	}
	if err := t.file.Sync(); err != nil {
		return errors.NewStorageIO("sync history file", err)
	}

	t.log.Info("history tree finished",
		"path", t.path,
		"nodes", t.nodeCount,
		"depth", len(t.branch),
		"end", end,
	)
	return nil
}

// =============================================================================
// Queries
// =============================================================================

// Query calls fn for every stored interval containing ts, until fn returns
// false. fn must not call back into the tree.
func (t *Tree) Query(ts int64, fn func(state.Interval) bool) error {
	t.mu.RLock()
	if t.disposed {
		t.mu.RUnlock()
		return errors.ErrDisposed
	}
	if ts < t.startTime || ts > t.end {
		end := t.end
		t.mu.RUnlock()
		return errors.NewTimeRange(ts, t.startTime, end)
	}

	// Latest-branch nodes are read under the lock
	next := int32(-1)
	stopped := false
	for i, n := range t.branch {
		if n.intersecting(ts, fn) {
			stopped = true
			break
		}
		if n.isLeaf() {
			break
		}
		child := n.selectNextChild(ts)
		if i+1 < len(t.branch) && t.branch[i+1].seq == child {
			continue
		}
		next = child
		break
	}
	t.mu.RUnlock()

	// Sealed nodes are immutable
	for !stopped && next >= 0 {
		n, err := t.readNode(next)
		if err != nil {
			return err
		}
		if n.intersecting(ts, fn) || n.isLeaf() {
			break
		}
		next = n.selectNextChild(ts)
	}
	return nil
}

// readNode returns a sealed node from the cache or the file. Concurrent
// loads of the same page are collapsed into one read.
func (t *Tree) readNode(seq int32) (*node, error) {
	if n, ok := t.cache.get(seq); ok {
		return n, nil
	}

	v, err, _ := t.loads.Do(strconv.Itoa(int(seq)), func() (interface{}, error) {
		buf := make([]byte, t.blockSize)
		if _, err := t.file.ReadAt(buf, t.nodeOffset(seq)); err != nil {
			return nil, errors.NewStorageIO(fmt.Sprintf("read node %d", seq), err)
		}
		n, err := unmarshalNode(buf, t.blockSize, t.maxChildren)
		if err != nil {
			return nil, errors.NewStorageIO(fmt.Sprintf("decode node %d", seq), err)
		}
		if n.seq != seq {
			return nil, errors.NewStorageIO(fmt.Sprintf("decode node %d", seq),
				fmt.Errorf("page holds node %d", n.seq))
		}
		t.nodeReads.Add(1)
		t.cache.put(n)
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*node), nil
}

// nodeAt returns node seq from the latest branch or the file.
func (t *Tree) nodeAt(seq int32) (*node, error) {
	t.mu.RLock()
	for _, n := range t.branch {
		if n.seq == seq {
			t.mu.RUnlock()
			return n, nil
		}
	}
	t.mu.RUnlock()
	return t.readNode(seq)
}

// =============================================================================
// Attribute section
// =============================================================================

// StoreAttributes writes b after the last node page. The tree must be
// finished.
func (t *Tree) StoreAttributes(b []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.disposed {
		return errors.ErrDisposed
	}
	if !t.finished || t.readOnly {
		return errors.NewStorageIO("store attributes", fmt.Errorf("history is not writable"))
	}

	offset := t.nodeOffset(t.nodeCount)
	if _, err := t.file.WriteAt(b, offset); err != nil {
		return errors.NewStorageIO("write attributes", err)
	}
	if err := t.file.Truncate(offset + int64(len(b))); err != nil {
		return errors.NewStorageIO("truncate history file", err)
	}

	t.attrLen = int32(len(b))
	if err := t.writeHeaderLocked(); err != nil {
		return err
	}
	if err := t.file.Sync(); err != nil {
		return errors.NewStorageIO("sync history file", err)
	}
	return nil
}

// LoadAttributes returns the attribute section, nil if none was stored.
func (t *Tree) LoadAttributes() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.disposed {
		return nil, errors.ErrDisposed
	}
	if t.attrLen == 0 {
		return nil, nil
	}

	b := make([]byte, t.attrLen)
	if _, err := t.file.ReadAt(b, t.nodeOffset(t.nodeCount)); err != nil {
		return nil, errors.NewStorageIO("read attributes", err)
	}
	return b, nil
}

// =============================================================================
// Lifecycle
// =============================================================================

// Dispose releases the file. A tree that was never finished is deleted.
func (t *Tree) Dispose() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.disposed {
		return nil
	}
	t.disposed = true

	err := t.file.Close()
	if !t.finished {
		if rmErr := os.Remove(t.path); rmErr != nil && !os.IsNotExist(rmErr) {
			t.log.Warn("failed to remove unfinished history", "path", t.path, "error", rmErr)
		}
	}
	if err != nil {
		return errors.NewStorageIO("close history file", err)
	}
	return nil
}

// =============================================================================
// File layout
// =============================================================================

func (t *Tree) nodeOffset(seq int32) int64 {
	return int64(config.HeaderSize) + int64(seq)*int64(t.blockSize)
}

func (t *Tree) writeNodeLocked(n *node) error {
	if _, err := t.file.WriteAt(n.marshal(), t.nodeOffset(n.seq)); err != nil {
		return errors.NewStorageIO(fmt.Sprintf("write node %d", n.seq), err)
	}
	return nil
}

func (t *Tree) writeHeaderLocked() error {
	h := header{
		providerVersion: int32(t.providerVersion),
		blockSize:       int32(t.blockSize),
		maxChildren:     int32(t.maxChildren),
		rootSeq:         -1,
		startTime:       t.startTime,
		attrLen:         t.attrLen,
	}
	if t.finished {
		h.nodeCount = t.nodeCount
		h.rootSeq = t.branch[0].seq
	}

	if _, err := t.file.WriteAt(h.marshal(), 0); err != nil {
		return errors.NewStorageIO("write header", err)
	}
	return nil
}
