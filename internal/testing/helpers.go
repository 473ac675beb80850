package testing

import (
	"fmt"
	"sync"
	"testing"
)

// =============================================================================
// Assertion Collector
// =============================================================================

// AssertionCollector gathers failed checks from many goroutines and reports
// them from the test goroutine.
//
// Usage:
//
//	ac := shtest.NewAssertionCollector()
//	for ts := start; ts <= end; ts++ {
//	    gt.Go(func() error {
//	        iv, err := ss.QuerySingleState(ts, q)
//	        ac.NoError(ts, err, "query")
//	        ac.True(ts, iv.Intersects(ts), "interval contains query time")
//	        return nil
//	    })
//	}
//	gt.Wait()
//	ac.Assert(t)
type AssertionCollector struct {
	mu       sync.Mutex
	failures []string
}

// NewAssertionCollector creates a new assertion collector.
func NewAssertionCollector() *AssertionCollector {
	return &AssertionCollector{}
}

// Equal records a failure if expected != actual.
func (ac *AssertionCollector) Equal(id any, expected, actual any, msg string) {
	if expected != actual {
		ac.fail(fmt.Sprintf("[%v] %s: expected %v, got %v", id, msg, expected, actual))
	}
}

// True records a failure if condition is false.
func (ac *AssertionCollector) True(id any, condition bool, msg string) {
	if !condition {
		ac.fail(fmt.Sprintf("[%v] %s: expected true", id, msg))
	}
}

// NoError records a failure if err is not nil.
func (ac *AssertionCollector) NoError(id any, err error, msg string) {
	if err != nil {
		ac.fail(fmt.Sprintf("[%v] %s: unexpected error: %v", id, msg, err))
	}
}

func (ac *AssertionCollector) fail(s string) {
	ac.mu.Lock()
	ac.failures = append(ac.failures, s)
	ac.mu.Unlock()
}

// Assert reports all collected failures.
func (ac *AssertionCollector) Assert(t *testing.T) {
	t.Helper()
	ac.mu.Lock()
	defer ac.mu.Unlock()

	for _, f := range ac.failures {
		t.Error(f)
	}
}
