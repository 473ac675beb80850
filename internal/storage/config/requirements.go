package config

import (
	"fmt"
)

// Requirements estimates the on-disk footprint of a history tree.
type Requirements struct {
	// Interval layout
	IntervalsPerLeaf int
	AvgIntervalBytes int

	// Tree shape
	LeafNodes  int64
	CoreNodes  int64
	TotalNodes int64
	Depth      int

	// Storage
	FileBytes     int64
	ExportBytes   int64
	QueryRAMBytes int64
}

// Constants for calculations
const (
	// Common node header: type, start, end, seq, parent, count, done
	nodeHeaderBytes = 30

	// Interval record without payload: type, start, end, quark
	intervalHeaderBytes = 21

	// Bytes per exported Parquet row (compressed)
	bytesPerParquetRowCompressed = 25
)

// CalculateRequirements estimates the file size for intervals intervals
// whose payload averages payloadBytes.
func (c *Config) CalculateRequirements(intervals int64, payloadBytes int) Requirements {
	r := Requirements{}

	r.AvgIntervalBytes = intervalHeaderBytes + payloadBytes
	r.IntervalsPerLeaf = (c.Backend.BlockSize - nodeHeaderBytes) / r.AvgIntervalBytes
	if r.IntervalsPerLeaf < 1 {
		r.IntervalsPerLeaf = 1
	}

	// -------------------------------------------------------------------------
	// Tree shape
	// -------------------------------------------------------------------------

	r.LeafNodes = (intervals + int64(r.IntervalsPerLeaf) - 1) / int64(r.IntervalsPerLeaf)
	if r.LeafNodes < 1 {
		r.LeafNodes = 1
	}

	r.Depth = 1
	level := r.LeafNodes
	fanout := int64(c.Backend.MaxChildren)
	for level > 1 {
		level = (level + fanout - 1) / fanout
		r.CoreNodes += level
		r.Depth++
	}
	r.TotalNodes = r.LeafNodes + r.CoreNodes

	// -------------------------------------------------------------------------
	// Storage
	// -------------------------------------------------------------------------

	r.FileBytes = headerBytes + r.TotalNodes*int64(c.Backend.BlockSize)
	r.ExportBytes = intervals * bytesPerParquetRowCompressed
	r.QueryRAMBytes = ParseMemoryLimit(c.Query.MemoryLimit)

	return r
}

const headerBytes = 4096

// FormatRequirements returns a human-readable summary of requirements.
func (r *Requirements) FormatRequirements() string {
	return fmt.Sprintf(`History Requirements
====================

Layout:
  Interval Size:     %d B (avg)
  Intervals/Leaf:    %s

Tree:
  Leaf Nodes:        %s
  Core Nodes:        %s
  Depth:             %d

Storage:
  History File:      %s
  Parquet Export:    %s
  Query Memory:      %s
`,
		r.AvgIntervalBytes,
		formatNumber(int64(r.IntervalsPerLeaf)),
		formatNumber(r.LeafNodes),
		formatNumber(r.CoreNodes),
		r.Depth,
		FormatBytes(r.FileBytes),
		FormatBytes(r.ExportBytes),
		FormatBytes(r.QueryRAMBytes),
	)
}

// ParseMemoryLimit parses a memory limit string like "2GB" into bytes.
func ParseMemoryLimit(s string) int64 {
	if s == "" {
		return 1024 * 1024 * 1024 // Default 1GB
	}

	var value int64
	var unit string
	_, err := fmt.Sscanf(s, "%d%s", &value, &unit)
	if err != nil {
		// Try without space
		for i, c := range s {
			if c < '0' || c > '9' {
				fmt.Sscanf(s[:i], "%d", &value)
				unit = s[i:]
				break
			}
		}
	}

	switch unit {
	case "B", "b", "":
		return value
	case "KB", "kb", "K", "k":
		return value * 1024
	case "MB", "mb", "M", "m":
		return value * 1024 * 1024
	case "GB", "gb", "G", "g":
		return value * 1024 * 1024 * 1024
	case "TB", "tb", "T", "t":
		return value * 1024 * 1024 * 1024 * 1024
	default:
		return 0
	}
}

// FormatBytes formats bytes as a human-readable string.
func FormatBytes(b int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatNumber formats a number with thousand separators.
func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	if n < 1000000000 {
		return fmt.Sprintf("%.1fM", float64(n)/1000000)
	}
	return fmt.Sprintf("%.1fB", float64(n)/1000000000)
}
