package state

import "fmt"

// Interval is the value of one attribute over [Start, End], both inclusive.
type Interval struct {
	Start int64
	End   int64
	Quark int
	Value Value
}

// NewInterval builds an interval.
func NewInterval(start, end int64, quark int, v Value) Interval {
	return Interval{Start: start, End: end, Quark: quark, Value: v}
}

// Intersects reports whether t falls inside the interval.
func (iv Interval) Intersects(t int64) bool {
	return iv.Start <= t && t <= iv.End
}

// Duration returns the number of ticks covered by the interval.
func (iv Interval) Duration() int64 {
	return iv.End - iv.Start + 1
}

// Equal compares all fields, values by Value.Equal.
func (iv Interval) Equal(o Interval) bool {
	return iv.Start == o.Start && iv.End == o.End && iv.Quark == o.Quark && iv.Value.Equal(o.Value)
}

func (iv Interval) String() string {
	return fmt.Sprintf("[%d, %d] quark=%d value=%s", iv.Start, iv.End, iv.Quark, iv.Value)
}
