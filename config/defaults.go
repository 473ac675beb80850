// Package config provides configuration defaults and utilities
// for the statehist application.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml.
package config

import "time"

// =============================================================================
// History Tree Defaults
// =============================================================================

const (
	// DefaultBlockSize is the size of one history tree node page in bytes.
	// Larger blocks mean fewer, wider nodes and a shallower tree.
	// Minimum: HeaderSize
	// Override via config: backend.block_size
	DefaultBlockSize = 64 * 1024

	// DefaultMaxChildren is the maximum number of children of a core node.
	// Override via config: backend.max_children
	DefaultMaxChildren = 50

	// DefaultProviderVersion identifies the semantics of the producer that
	// wrote a history file. A mismatch on reopen forces a rebuild.
	// Override via config: backend.provider_version
	DefaultProviderVersion = 0

	// DefaultNodeCacheSize is the number of sealed nodes kept in memory
	// after being paged in from disk.
	// Override via config: backend.node_cache_size
	DefaultNodeCacheSize = 256

	// HeaderSize is the reserved space at the start of a history file.
	// Node pages start right after it.
	HeaderSize = 4096
)

// =============================================================================
// Backend Defaults
// =============================================================================

const (
	// DefaultBackend is the storage backend used when none is configured.
	// Override via config: backend.kind
	DefaultBackend = "historytree"

	// DefaultDataDir is where history files are created.
	// Override via config: data_dir
	DefaultDataDir = "/var/lib/statehist"

	// HistoryFileSuffix is appended to the state system id to name its file.
	HistoryFileSuffix = ".ht"
)

// =============================================================================
// Export / Query Defaults
// =============================================================================

const (
	// DefaultExportCompression is the Parquet codec for interval exports.
	// Override via config: export.compression
	DefaultExportCompression = "zstd"

	// DefaultExportBatchSize is the number of rows buffered per write.
	// Override via config: export.batch_size
	DefaultExportBatchSize = 10000

	// DefaultQueryMemoryLimit bounds DuckDB memory usage.
	// Override via config: query.memory_limit
	DefaultQueryMemoryLimit = "1GB"

	// DefaultQueryTimeout is the per-query timeout for SQL analytics.
	// Override via config: query.timeout
	DefaultQueryTimeout = 30 * time.Second

	// DefaultQueryMaxRows caps the rows returned by a single SQL query.
	// Override via config: query.max_rows
	DefaultQueryMaxRows = 100000
)

// =============================================================================
// Statistics Defaults
// =============================================================================

const (
	// DefaultSketchAccuracy is the DDSketch relative accuracy (0.01 = 1%).
	// Override via config: stats.accuracy
	DefaultSketchAccuracy = 0.01
)

// =============================================================================
// Statedump Defaults
// =============================================================================

const (
	// StatedumpFormatVersion is the version of the statedump file layout.
	// Bump if the format changes.
	StatedumpFormatVersion = 1

	// DefaultStatedumpVersion is the analysis-specific statedump version.
	// Override via config: statedump.version
	DefaultStatedumpVersion = 0
)

// =============================================================================
// Build Gate Defaults
// =============================================================================

const (
	// DefaultBuildWaitTimeout is how long the CLI waits for a history to
	// finish building before querying it.
	DefaultBuildWaitTimeout = 10 * time.Second
)
