// Package attribute maps hierarchical attribute paths to quarks.
//
// A quark is a dense, non-negative integer assigned to an attribute the
// first time its path is created. Quarks are never reused or renumbered, so
// stored intervals can reference attributes by number. Root is -1.
package attribute

import (
	"regexp"
	"strings"
	"sync"

	"github.com/xtxerr/statehist/internal/constants"
	"github.com/xtxerr/statehist/internal/errors"
)

// Root is the quark of the (unnamed) tree root.
const Root = -1

type node struct {
	name     string
	parent   int
	children map[string]int
	order    []int
}

// Tree is a concurrency-safe attribute tree.
type Tree struct {
	mu    sync.RWMutex
	nodes []*node
	root  node
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{root: node{parent: Root, children: make(map[string]int)}}
}

// =============================================================================
// Lookup and creation
// =============================================================================

// QuarkAndAdd returns the quark of path under parent, creating every
// missing segment.
func (t *Tree) QuarkAndAdd(parent int, path ...string) (int, error) {
	if len(path) == 0 {
		return 0, errors.Wrap(errors.ErrInvalidPath, "empty path")
	}

	// Fast path: the attribute already exists
	if q, err := t.Quark(parent, path...); err == nil {
		return q, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cur, err := t.nodeLocked(parent)
	if err != nil {
		return 0, err
	}

	q := parent
	for _, name := range path {
		child, ok := cur.children[name]
		if !ok {
			child = len(t.nodes)
			t.nodes = append(t.nodes, &node{
				name:     name,
				parent:   q,
				children: make(map[string]int),
			})
			cur.children[name] = child
			cur.order = append(cur.order, child)
		}
		q = child
		cur = t.nodes[child]
	}
	return q, nil
}

// Quark returns the quark of path under parent without creating anything.
func (t *Tree) Quark(parent int, path ...string) (int, error) {
	if len(path) == 0 {
		return 0, errors.Wrap(errors.ErrInvalidPath, "empty path")
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	cur, err := t.nodeLocked(parent)
	if err != nil {
		return 0, err
	}

	q := parent
	for _, name := range path {
		child, ok := cur.children[name]
		if !ok {
			return 0, errors.NewPathNotFound(path)
		}
		q = child
		cur = t.nodes[child]
	}
	return q, nil
}

// Lookup is Quark from the root, reporting only presence.
func (t *Tree) Lookup(path []string) (int, bool) {
	q, err := t.Quark(Root, path...)
	return q, err == nil
}

// QuarksMatching returns, in quark order, every attribute whose absolute
// path matches pattern. A "*" segment matches any single name.
func (t *Tree) QuarksMatching(pattern ...string) []int {
	if len(pattern) == 0 {
		return nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	current := []int{Root}
	for _, seg := range pattern {
		var next []int
		for _, q := range current {
			n := t.nodeUnchecked(q)
			if seg == constants.Wildcard {
				next = append(next, n.order...)
				continue
			}
			if child, ok := n.children[seg]; ok {
				next = append(next, child)
			}
		}
		if len(next) == 0 {
			return nil
		}
		current = next
	}

	sortInts(current)
	return current
}

// Children returns the direct (or, if recursive, all transitive) children
// of quark. A non-nil namePattern keeps only children whose name matches it.
func (t *Tree) Children(quark int, recursive bool, namePattern *regexp.Regexp) ([]int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, err := t.nodeLocked(quark)
	if err != nil {
		return nil, err
	}

	var out []int
	var walk func(n *node)
	walk = func(n *node) {
		for _, c := range n.order {
			child := t.nodes[c]
			if namePattern == nil || namePattern.MatchString(child.name) {
				out = append(out, c)
			}
			if recursive {
				walk(child)
			}
		}
	}
	walk(n)
	return out, nil
}

// =============================================================================
// Attribute information
// =============================================================================

// Len returns the number of attributes (the next quark to be assigned).
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// Name returns the base name of quark.
func (t *Tree) Name(quark int) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if quark < 0 || quark >= len(t.nodes) {
		return "", errors.NewAttributeNotFound(quark)
	}
	return t.nodes[quark].name, nil
}

// Parent returns the parent quark, Root for top-level attributes.
func (t *Tree) Parent(quark int) (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if quark < 0 || quark >= len(t.nodes) {
		return 0, errors.NewAttributeNotFound(quark)
	}
	return t.nodes[quark].parent, nil
}

// FullPath returns the names from the root down to quark.
func (t *Tree) FullPath(quark int) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if quark < 0 || quark >= len(t.nodes) {
		return nil, errors.NewAttributeNotFound(quark)
	}

	var path []string
	for q := quark; q != Root; q = t.nodes[q].parent {
		path = append(path, t.nodes[q].name)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// FullPathString returns FullPath joined with "/".
func (t *Tree) FullPathString(quark int) (string, error) {
	path, err := t.FullPath(quark)
	if err != nil {
		return "", err
	}
	return strings.Join(path, constants.PathSeparator), nil
}

// =============================================================================
// Internal
// =============================================================================

func (t *Tree) nodeLocked(quark int) (*node, error) {
	if quark == Root {
		return &t.root, nil
	}
	if quark < 0 || quark >= len(t.nodes) {
		return nil, errors.NewAttributeNotFound(quark)
	}
	return t.nodes[quark], nil
}

func (t *Tree) nodeUnchecked(quark int) *node {
	if quark == Root {
		return &t.root
	}
	return t.nodes[quark]
}

func sortInts(a []int) {
	// Insertion sort: match results are small and nearly sorted.
	for i := 1; i < len(a); i++ {
		for j := i; j > 0 && a[j-1] > a[j]; j-- {
			a[j-1], a[j] = a[j], a[j-1]
		}
	}
}
