package sync

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestGate_Done(t *testing.T) {
	var g Gate

	if g.Done() {
		t.Error("Done() should be false initially")
	}

	g.Open()
	if !g.Done() {
		t.Error("Done() should be true after Open")
	}

	// Second open is a no-op
	g.Open()
	if !g.Done() {
		t.Error("Done() should stay true")
	}
}

func TestGate_WaitTimeout(t *testing.T) {
	var g Gate

	start := time.Now()
	if g.WaitTimeout(20 * time.Millisecond) {
		t.Error("closed gate should time out")
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("returned too early: %v", elapsed)
	}

	g.Open()
	if !g.WaitTimeout(time.Millisecond) {
		t.Error("open gate should not time out")
	}
}

func TestGate_WaitContextCancelled(t *testing.T) {
	var g Gate

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := g.Wait(ctx); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestGate_ReleasesAllWaiters(t *testing.T) {
	var g Gate
	const waiters = 50

	var wg sync.WaitGroup
	errs := make(chan error, waiters)

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			errs <- g.Wait(ctx)
		}()
	}

	time.Sleep(10 * time.Millisecond)
	g.Open()
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("waiter failed: %v", err)
		}
	}
}

func TestGate_ConcurrentOpen(t *testing.T) {
	var g Gate
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Open()
		}()
	}
	wg.Wait()

	if !g.Done() {
		t.Error("gate should be open")
	}
}
