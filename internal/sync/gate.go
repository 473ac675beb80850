// Package sync provides thread-safe synchronization primitives.
package sync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Gate is a one-shot latch: it starts closed, opens once and stays open.
//
// Readers of a history that is still being built wait on the gate; the
// writer opens it when the history is complete (or abandoned).
//
// Gate is safe for concurrent use. The zero value is a closed gate.
//
// Example usage:
//
//	var built Gate
//
//	// Writer
//	built.Open()
//
//	// Reader
//	if err := built.Wait(ctx); err != nil {
//	    return err
//	}
type Gate struct {
	done uint32
	once sync.Once
	m    sync.Mutex
	ch   chan struct{}
}

func (g *Gate) channel() chan struct{} {
	g.m.Lock()
	defer g.m.Unlock()
	if g.ch == nil {
		g.ch = make(chan struct{})
	}
	return g.ch
}

// Open releases every current and future waiter. Calling Open more than
// once is a no-op.
func (g *Gate) Open() {
	g.once.Do(func() {
		ch := g.channel()
		atomic.StoreUint32(&g.done, 1)
		close(ch)
	})
}

// Done returns true once the gate has been opened.
func (g *Gate) Done() bool {
	return atomic.LoadUint32(&g.done) == 1
}

// Wait blocks until the gate opens or ctx ends.
func (g *Gate) Wait(ctx context.Context) error {
	// Fast path: already open
	if g.Done() {
		return nil
	}

	select {
	case <-g.channel():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitTimeout waits at most d and reports whether the gate is open.
func (g *Gate) WaitTimeout(d time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return g.Wait(ctx) == nil
}
