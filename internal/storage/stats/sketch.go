package stats

import (
	"math"
	"sync"

	"github.com/DataDog/sketches-go/ddsketch"
	defaults "github.com/xtxerr/statehist/config"
	"github.com/xtxerr/statehist/internal/state"
)

// DurationSketch maintains running statistics over the interval durations
// of a single attribute. Null intervals are counted but not measured.
type DurationSketch struct {
	mu sync.Mutex

	// Identity
	quark int
	path  string

	// Running statistics
	count int64
	nulls int64
	sum   int64
	min   int64
	max   int64
	first int64
	last  int64

	accuracy float64
	sketch   *ddsketch.DDSketch
}

// Result is a snapshot of a DurationSketch.
type Result struct {
	Quark int
	Path  string

	Count int64
	Nulls int64
	Sum   int64
	Min   int64
	Max   int64
	Avg   float64

	// First is the start of the first measured interval, Last the end of
	// the last one.
	First int64
	Last  int64

	P50 float64
	P90 float64
	P95 float64
	P99 float64
}

// NewDurationSketch creates an empty sketch. An accuracy outside (0, 1)
// falls back to the default.
func NewDurationSketch(quark int, path string, accuracy float64) (*DurationSketch, error) {
	if accuracy <= 0 || accuracy >= 1 {
		accuracy = defaults.DefaultSketchAccuracy
	}
	sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
	if err != nil {
		return nil, err
	}

	d := &DurationSketch{
		quark:    quark,
		path:     path,
		accuracy: accuracy,
		sketch:   sketch,
	}
	d.clear()
	return d, nil
}

// Add adds one interval.
func (d *DurationSketch) Add(iv state.Interval) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if iv.Value.IsNull() {
		d.nulls++
		return
	}

	dur := iv.Duration()
	d.count++
	d.sum += dur
	if dur < d.min {
		d.min = dur
	}
	if dur > d.max {
		d.max = dur
	}
	if d.count == 1 || iv.Start < d.first {
		d.first = iv.Start
	}
	if iv.End > d.last {
		d.last = iv.End
	}

	d.sketch.Add(float64(dur))
}

// Count returns the number of measured intervals.
func (d *DurationSketch) Count() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

// IsEmpty returns true if no interval was measured.
func (d *DurationSketch) IsEmpty() bool {
	return d.Count() == 0
}

// Result returns the current statistics.
func (d *DurationSketch) Result() Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	r := Result{
		Quark: d.quark,
		Path:  d.path,
		Count: d.count,
		Nulls: d.nulls,
		Sum:   d.sum,
	}
	if d.count == 0 {
		return r
	}

	r.Min = d.min
	r.Max = d.max
	r.Avg = float64(d.sum) / float64(d.count)
	r.First = d.first
	r.Last = d.last

	r.P50, _ = d.sketch.GetValueAtQuantile(0.50)
	r.P90, _ = d.sketch.GetValueAtQuantile(0.90)
	r.P95, _ = d.sketch.GetValueAtQuantile(0.95)
	r.P99, _ = d.sketch.GetValueAtQuantile(0.99)
	return r
}

// Merge combines other into d. Both should describe the same attribute.
func (d *DurationSketch) Merge(other *DurationSketch) error {
	if other == nil || other == d {
		return nil
	}

	other.mu.Lock()
	defer other.mu.Unlock()
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nulls += other.nulls
	if other.count == 0 {
		return nil
	}

	if d.count == 0 || other.first < d.first {
		d.first = other.first
	}
	if other.last > d.last {
		d.last = other.last
	}
	d.count += other.count
	d.sum += other.sum
	if other.min < d.min {
		d.min = other.min
	}
	if other.max > d.max {
		d.max = other.max
	}

	return d.sketch.MergeWith(other.sketch)
}

// Reset clears the sketch.
func (d *DurationSketch) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	// DDSketch has no Clear method
	sketch, err := ddsketch.NewDefaultDDSketch(d.accuracy)
	if err != nil {
		return err
	}
	d.sketch = sketch
	d.clear()
	return nil
}

func (d *DurationSketch) clear() {
	d.count = 0
	d.nulls = 0
	d.sum = 0
	d.min = math.MaxInt64
	d.max = math.MinInt64
	d.first = 0
	d.last = 0
}

// Quark returns the attribute of the sketch.
func (d *DurationSketch) Quark() int {
	return d.quark
}

// Path returns the attribute path of the sketch.
func (d *DurationSketch) Path() string {
	return d.path
}
