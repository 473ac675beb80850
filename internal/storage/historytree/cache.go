package historytree

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// nodeCache keeps recently read sealed nodes. Sealed nodes are immutable,
// so cached pointers are shared between readers.
type nodeCache struct {
	mu       sync.Mutex
	capacity int
	items    map[int32]*list.Element
	order    *list.List // Front = most recent

	hits   atomic.Int64
	misses atomic.Int64
}

func newNodeCache(capacity int) *nodeCache {
	return &nodeCache{
		capacity: capacity,
		items:    make(map[int32]*list.Element),
		order:    list.New(),
	}
}

func (c *nodeCache) get(seq int32) (*node, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[seq]; ok {
		c.order.MoveToFront(elem)
		c.hits.Add(1)
		return elem.Value.(*node), true
	}
	c.misses.Add(1)
	return nil, false
}

func (c *nodeCache) put(n *node) {
	if c.capacity <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[n.seq]; ok {
		c.order.MoveToFront(elem)
		elem.Value = n
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*node).seq)
	}

	c.items[n.seq] = c.order.PushFront(n)
}

func (c *nodeCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
