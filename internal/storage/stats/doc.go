// Package stats summarizes how long attributes stay in their values.
//
// A DurationSketch tracks count, sum, min and max of the interval
// durations of one attribute, plus a DDSketch for quantiles. Collect
// builds one sketch per attribute from a state system's whole history.
package stats
