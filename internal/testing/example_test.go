package testing

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoroutineTestBasic(t *testing.T) {
	gt := NewGoroutineTest(t)
	defer gt.Wait()

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		i := i
		gt.Go(func() error {
			ran.Add(1)
			if i < 0 {
				return fmt.Errorf("unexpected negative index: %d", i)
			}
			return nil
		})
	}

	// Wait is deferred; check the counter from a last worker
	gt.Go(func() error {
		return Eventually(time.Second, time.Millisecond, func() bool { return ran.Load() >= 5 })
	})
}

func TestGoroutineTestWithContext(t *testing.T) {
	gt := NewGoroutineTestWithTimeout(t, 5*time.Second)
	defer gt.Wait()

	gt.GoWithContext(func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
			return nil
		}
	})
}

func TestParallelRunnerBasic(t *testing.T) {
	runner := NewParallelRunner(t)

	runner.Add("addition", func() error {
		return AssertEqual(1+1, 2, "addition")
	})
	runner.Add("strings", func() error {
		return AssertEqual("quark", "quark", "string equality")
	})
	runner.Add("error", func() error {
		return AssertError(errors.New("boom"), "error expected")
	})

	runner.Run()
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(time.Second, func() error {
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	err = WithTimeout(10*time.Millisecond, func() error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	if err == nil {
		t.Error("expected timeout error")
	}
}

func TestAssertionCollector(t *testing.T) {
	ac := NewAssertionCollector()
	ac.Equal(1, 10, 10, "same")
	ac.True(2, true, "true")
	ac.NoError(3, nil, "nil error")
	ac.Assert(t)

	ac.Equal(4, 1, 2, "different")
	if len(ac.failures) != 1 {
		t.Errorf("expected 1 failure, got %d", len(ac.failures))
	}
}

func TestEventually(t *testing.T) {
	var ready atomic.Bool

	go func() {
		time.Sleep(20 * time.Millisecond)
		ready.Store(true)
	}()

	if err := Eventually(time.Second, 5*time.Millisecond, ready.Load); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
