// Package testing provides test utilities for the statehist project.
//
// Using t.Fatal or t.FailNow in a goroutine does not stop the test: these
// functions call runtime.Goexit(), which only exits the calling goroutine.
// The helpers here collect errors from goroutines and report them from the
// test goroutine instead.
package testing

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

// =============================================================================
// Error Channel Pattern
// =============================================================================

// GoroutineTest runs goroutines for a test and reports their errors.
//
// The first error cancels the test context, so GoWithContext workers can stop early.
// Every error is reported by Wait.
//
// Example usage:
//
//	func TestConcurrentReaders(t *testing.T) {
//	    gt := shtest.NewGoroutineTest(t)
//	    defer gt.Wait()
//
//	    gt.Go(func() error {
//	        iv, err := ss.QuerySingleState(ts, quark)
//	        if err != nil {
//	            return fmt.Errorf("query failed: %w", err)
//	        }
//	        if !iv.Intersects(ts) {
//	            return fmt.Errorf("interval %s does not contain %d", iv, ts)
//	        }
//	        return nil
//	    })
//	}
type GoroutineTest struct {
	t      *testing.T
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	errs []error
}

// NewGoroutineTest creates a new GoroutineTest helper.
func NewGoroutineTest(t *testing.T) *GoroutineTest {
	return newGoroutineTest(t, context.Background())
}

// NewGoroutineTestWithTimeout creates a GoroutineTest whose context ends
// after timeout.
func NewGoroutineTestWithTimeout(t *testing.T, timeout time.Duration) *GoroutineTest {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	gt := newGoroutineTest(t, ctx)
	parent := gt.cancel
	gt.cancel = func() {
		parent()
		cancel()
	}
	return gt
}

func newGoroutineTest(t *testing.T, parent context.Context) *GoroutineTest {
	ctx, cancel := context.WithCancel(parent)
	group, gctx := errgroup.WithContext(ctx)
	return &GoroutineTest{
		t:      t,
		group:  group,
		ctx:    gctx,
		cancel: cancel,
	}
}

// Go runs fn in a goroutine. fn returns an error instead of calling t.Fatal.
func (gt *GoroutineTest) Go(fn func() error) {
	gt.group.Go(func() error {
		return gt.record(fn())
	})
}

// GoWithContext runs fn with the test context in a goroutine.
func (gt *GoroutineTest) GoWithContext(fn func(ctx context.Context) error) {
	gt.group.Go(func() error {
		return gt.record(fn(gt.ctx))
	})
}

func (gt *GoroutineTest) record(err error) error {
	if err == nil {
		return nil
	}
	gt.mu.Lock()
	gt.errs = append(gt.errs, err)
	gt.mu.Unlock()
	return err
}

// Wait waits for all goroutines and fails the test if any returned an
// error. Call it with defer right after creating the GoroutineTest.
func (gt *GoroutineTest) Wait() {
	gt.group.Wait()
	gt.cancel()

	gt.mu.Lock()
	errs := gt.errs
	gt.mu.Unlock()

	if len(errs) > 0 {
		gt.t.Errorf("Goroutine test failed with %d error(s):", len(errs))
		for i, err := range errs {
			gt.t.Errorf("  [%d] %v", i+1, err)
		}
		gt.t.FailNow()
	}
}

// =============================================================================
// Parallel Test Runner
// =============================================================================

// ParallelRunner runs named checks in parallel and reports every failure.
//
// Example:
//
//	runner := shtest.NewParallelRunner(t)
//	runner.Add("single", checkSingle)
//	runner.Add("full", checkFull)
//	runner.Run()
type ParallelRunner struct {
	t     *testing.T
	cases []testCase
}

type testCase struct {
	name string
	fn   func() error
}

// NewParallelRunner creates a new parallel test runner.
func NewParallelRunner(t *testing.T) *ParallelRunner {
	return &ParallelRunner{t: t}
}

// Add adds a test case to the runner.
func (r *ParallelRunner) Add(name string, fn func() error) {
	r.cases = append(r.cases, testCase{name: name, fn: fn})
}

// Run executes all test cases in parallel and reports any failures.
func (r *ParallelRunner) Run() {
	errs := make([]error, len(r.cases))

	var g errgroup.Group
	for i, tc := range r.cases {
		i, tc := i, tc
		g.Go(func() error {
			errs[i] = tc.fn()
			return nil
		})
	}
	g.Wait()

	var failed int
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	if failed > 0 {
		r.t.Errorf("Parallel test failed with %d failure(s):", failed)
		for i, err := range errs {
			if err != nil {
				r.t.Errorf("  [%s] %v", r.cases[i].name, err)
			}
		}
		r.t.FailNow()
	}
}

// =============================================================================
// Assertion Helpers
// =============================================================================

// AssertEqual returns an error if got != want.
func AssertEqual[T comparable](got, want T, msg string) error {
	if got != want {
		return fmt.Errorf("%s: got %v, want %v", msg, got, want)
	}
	return nil
}

// AssertNoError returns an error if err is not nil.
func AssertNoError(err error, msg string) error {
	if err != nil {
		return fmt.Errorf("%s: unexpected error: %w", msg, err)
	}
	return nil
}

// AssertError returns an error if err is nil.
func AssertError(err error, msg string) error {
	if err == nil {
		return fmt.Errorf("%s: expected error, got nil", msg)
	}
	return nil
}

// =============================================================================
// Timing Helpers
// =============================================================================

// WithTimeout runs fn and fails if it does not return within timeout.
func WithTimeout(timeout time.Duration, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("operation timed out after %v", timeout)
	}
}

// Eventually waits for a condition to become true.
func Eventually(timeout, interval time.Duration, condition func() bool) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return nil
		}
		time.Sleep(interval)
	}
	return fmt.Errorf("condition not met within %v", timeout)
}
