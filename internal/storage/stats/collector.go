package stats

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xtxerr/statehist/internal/constants"
	"github.com/xtxerr/statehist/internal/logging"
	"github.com/xtxerr/statehist/internal/state"
	"github.com/xtxerr/statehist/internal/statesystem"
	"golang.org/x/sync/errgroup"
)

// Source is the state system side of a collection.
type Source interface {
	statesystem.Reader
	NumAttributes() int
	AttributePath(quark int) ([]string, error)
}

// collectWorkers bounds the concurrent range queries of Collect.
const collectWorkers = 8

// Collector keeps one DurationSketch per attribute.
type Collector struct {
	mu sync.RWMutex

	accuracy float64
	sketches map[int]*DurationSketch

	stats CollectorStats
}

// CollectorStats holds statistics for the collector.
type CollectorStats struct {
	Attributes         int64
	IntervalsProcessed int64
	NullsSkipped       int64
}

// NewCollector creates a collector whose sketches use the given accuracy.
func NewCollector(accuracy float64) *Collector {
	return &Collector{
		accuracy: accuracy,
		sketches: make(map[int]*DurationSketch),
	}
}

// Process adds an interval of the attribute at path.
func (c *Collector) Process(iv state.Interval, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sk, ok := c.sketches[iv.Quark]
	if !ok {
		var err error
		sk, err = NewDurationSketch(iv.Quark, path, c.accuracy)
		if err != nil {
			return err
		}
		c.sketches[iv.Quark] = sk
	}

	sk.Add(iv)
	c.stats.IntervalsProcessed++
	if iv.Value.IsNull() {
		c.stats.NullsSkipped++
	}
	return nil
}

// ProcessBatch adds intervals of the attribute at path.
func (c *Collector) ProcessBatch(ivs []state.Interval, path string) error {
	for i := range ivs {
		if err := c.Process(ivs[i], path); err != nil {
			return err
		}
	}
	return nil
}

// Sketch returns the sketch of quark, if any interval of it was processed.
func (c *Collector) Sketch(quark int) (*DurationSketch, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sk, ok := c.sketches[quark]
	return sk, ok
}

// Results returns the results of every sketch, ordered by quark.
func (c *Collector) Results() []Result {
	c.mu.RLock()
	defer c.mu.RUnlock()

	results := make([]Result, 0, len(c.sketches))
	for _, sk := range c.sketches {
		results = append(results, sk.Result())
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Quark < results[j].Quark
	})
	return results
}

// Stats returns current statistics.
func (c *Collector) Stats() CollectorStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.stats
	stats.Attributes = int64(len(c.sketches))
	return stats
}

// Collect builds one sketch per attribute from the whole history of src.
// A nil quarks slice selects every attribute.
func Collect(ctx context.Context, src Source, quarks []int, accuracy float64) ([]Result, error) {
	if quarks == nil {
		quarks = make([]int, src.NumAttributes())
		for i := range quarks {
			quarks[i] = i
		}
	}

	c := NewCollector(accuracy)
	start, end := src.StartTime(), src.CurrentEndTime()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(collectWorkers)
	for _, q := range quarks {
		q := q
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			segments, err := src.AttributePath(q)
			if err != nil {
				return err
			}
			ivs, err := statesystem.QueryHistoryRange(src, q, start, end)
			if err != nil {
				return fmt.Errorf("collect quark %d: %w", q, err)
			}
			return c.ProcessBatch(ivs, strings.Join(segments, constants.PathSeparator))
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats := c.Stats()
	logging.WithContext(ctx, "stats").Info("duration statistics collected",
		"attributes", stats.Attributes,
		"intervals", stats.IntervalsProcessed,
	)
	return c.Results(), nil
}
