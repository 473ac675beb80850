package statesystem

import (
	"container/heap"
	"fmt"

	"github.com/xtxerr/statehist/internal/errors"
	"github.com/xtxerr/statehist/internal/state"
)

// Step2D is one resolution point of an Iterator2D.
type Step2D struct {
	T         int64
	Intervals map[int]state.Interval
}

// Iterator2D walks a set of attributes over a time range, one resolution
// point at a time. Each attribute is only queried again once its current
// interval has ended, so long intervals cost a single query.
//
// A step holds the intervals crossing both its point and the next one;
// intervals too short to reach the next point are left out.
type Iterator2D struct {
	r          Reader
	start      int64
	end        int64
	resolution int64
	queue      targetQueue
}

// NewIterator2D returns an iterator over quarks in [rangeStart, rangeEnd],
// clamped to the history.
func NewIterator2D(r Reader, rangeStart, rangeEnd, resolution int64, quarks []int) (*Iterator2D, error) {
	if rangeStart > rangeEnd {
		return nil, errors.Wrapf(errors.ErrTimeRange, "invalid range [%d, %d]", rangeStart, rangeEnd)
	}
	if resolution <= 0 {
		return nil, errors.Wrapf(errors.ErrTimeRange, "resolution %d", resolution)
	}

	it := &Iterator2D{r: r, resolution: resolution}

	// Out of the history or nothing to query: empty iterator
	if rangeEnd <= r.StartTime() || rangeStart >= r.CurrentEndTime() || len(quarks) == 0 {
		return it, nil
	}

	it.start = max(rangeStart, r.StartTime())
	it.end = min(rangeEnd, r.CurrentEndTime())

	seen := make(map[int]bool, len(quarks))
	for _, q := range quarks {
		if seen[q] {
			continue
		}
		seen[q] = true
		it.queue = append(it.queue, queryTarget{quark: q, ts: it.start})
	}
	heap.Init(&it.queue)
	return it, nil
}

// Next returns the next step. ok is false when the range is exhausted.
func (it *Iterator2D) Next() (step Step2D, ok bool, err error) {
	if it.queue.Len() == 0 {
		return Step2D{}, false, nil
	}

	first := heap.Pop(&it.queue).(queryTarget)
	ts := first.ts
	if ts > it.end {
		it.queue = nil
		return Step2D{}, false, nil
	}

	// Every target due at ts is answered by one partial query
	quarks := []int{first.quark}
	for it.queue.Len() > 0 && it.queue[0].ts == ts {
		quarks = append(quarks, heap.Pop(&it.queue).(queryTarget).quark)
	}

	results, err := it.r.QueryStates(ts, quarks)
	if err != nil {
		return Step2D{}, false, err
	}

	for _, q := range quarks {
		iv, found := results[q]
		if !found {
			continue
		}
		heap.Push(&it.queue, queryTarget{quark: q, ts: nextQueryTs(iv, it.start, ts, it.resolution)})
	}

	nextPoint := min(ts+it.resolution, it.end)
	if ts == it.end {
		nextPoint = ts + it.resolution
	}

	kept := make(map[int]state.Interval, len(results))
	for q, iv := range results {
		if iv.Intersects(nextPoint) {
			kept[q] = iv
		}
	}
	return Step2D{T: ts, Intervals: kept}, true, nil
}

// All drains the iterator.
func (it *Iterator2D) All() ([]Step2D, error) {
	var steps []Step2D
	for {
		step, ok, err := it.Next()
		if err != nil {
			return steps, err
		}
		if !ok {
			return steps, nil
		}
		steps = append(steps, step)
	}
}

// nextQueryTs returns the first resolution point, counted from rangeStart,
// after both ts and the end of iv.
func nextQueryTs(iv state.Interval, rangeStart, ts, resolution int64) int64 {
	if !iv.Intersects(ts) {
		panic(fmt.Sprintf("statesystem: interval %s does not contain query point %d", iv, ts))
	}

	next := ts + resolution
	if next > iv.End {
		return next
	}
	base := iv.End - rangeStart + 1
	return (base+resolution-1)/resolution*resolution + rangeStart
}

// =============================================================================
// Query queue
// =============================================================================

type queryTarget struct {
	quark int
	ts    int64
}

// targetQueue is a min-heap of query targets by timestamp.
type targetQueue []queryTarget

func (q targetQueue) Len() int { return len(q) }

func (q targetQueue) Less(i, j int) bool {
	if q[i].ts != q[j].ts {
		return q[i].ts < q[j].ts
	}
	return q[i].quark < q[j].quark
}

func (q targetQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *targetQueue) Push(x any) { *q = append(*q, x.(queryTarget)) }

func (q *targetQueue) Pop() any {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}
