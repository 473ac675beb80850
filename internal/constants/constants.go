// Package constants provides centralized domain-specific constants
// for the entire statehist application.
package constants

// =============================================================================
// Attribute Paths
// =============================================================================

const (
	// Wildcard matches any single attribute name in a path pattern.
	Wildcard = "*"

	// PathSeparator joins attribute names when a path is printed or parsed.
	PathSeparator = "/"
)

// =============================================================================
// Backend Kinds
// =============================================================================

const (
	// BackendHistoryTree stores history in a paginated on-disk tree.
	BackendHistoryTree = "historytree"

	// BackendMemory keeps every interval in memory.
	BackendMemory = "memory"

	// BackendNull discards history and only serves ongoing state.
	BackendNull = "null"
)

// ValidBackends contains all valid backend kinds
var ValidBackends = []string{BackendHistoryTree, BackendMemory, BackendNull}

// IsValidBackend checks if a backend kind is valid
func IsValidBackend(kind string) bool {
	for _, b := range ValidBackends {
		if b == kind {
			return true
		}
	}
	return false
}

// =============================================================================
// Value Type Names - shared by statedump, parquet export and the CLI
// =============================================================================

const (
	TypeNull    = "null"
	TypeBoolean = "boolean"
	TypeInt     = "int"
	TypeLong    = "long"
	TypeDouble  = "double"
	TypeString  = "string"
	TypeUnknown = "unknown"
)

// =============================================================================
// Statedump
// =============================================================================

const (
	// StatedumpDir is the directory, relative to the trace directory,
	// holding statedump files.
	StatedumpDir = ".tc-states"

	// StatedumpSuffix is appended to the state system id.
	StatedumpSuffix = ".statedump.json"

	StatedumpKeyFormatVersion = "format-version"
	StatedumpKeyID            = "id"
	StatedumpKeyVersion       = "statedump-version"
	StatedumpKeyState         = "state"
	StatedumpKeyChildren      = "children"
	StatedumpKeyType          = "type"
	StatedumpKeyValue         = "value"

	DoubleNaN    = "nan"
	DoublePosInf = "+inf"
	DoubleNegInf = "-inf"
)

// =============================================================================
// Compression
// =============================================================================

const (
	CompressionNone   = "none"
	CompressionSnappy = "snappy"
	CompressionZstd   = "zstd"
	CompressionLZ4    = "lz4"
	CompressionGzip   = "gzip"
)

// ValidCompressions contains all valid compression names
var ValidCompressions = []string{CompressionNone, CompressionSnappy, CompressionZstd, CompressionLZ4, CompressionGzip}
