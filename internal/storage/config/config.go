package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	defaults "github.com/xtxerr/statehist/config"
	"github.com/xtxerr/statehist/internal/constants"
	"gopkg.in/yaml.v3"
)

// Config represents the complete statehist configuration.
type Config struct {
	// DataDir is the directory holding history files.
	DataDir string `yaml:"data_dir"`

	// Backend selects and tunes the history backend.
	Backend BackendConfig `yaml:"backend"`

	// Export configures Parquet interval exports.
	Export ExportConfig `yaml:"export"`

	// Query configures the SQL analytics service.
	Query QueryConfig `yaml:"query"`

	// Stats configures duration sketches.
	Stats StatsConfig `yaml:"stats"`

	// Statedump configures point-in-time snapshots.
	Statedump StatedumpConfig `yaml:"statedump"`
}

// BackendConfig selects and tunes the history backend.
type BackendConfig struct {
	// Kind is one of "historytree", "memory" or "null".
	Kind string `yaml:"kind"`

	// BlockSize is the size of one history tree node page in bytes.
	BlockSize int `yaml:"block_size"`

	// MaxChildren is the fan-out of history tree core nodes.
	MaxChildren int `yaml:"max_children"`

	// ProviderVersion is stored in the file header. Reopening a file
	// written with another version forces a rebuild.
	ProviderVersion int `yaml:"provider_version"`

	// NodeCacheSize is the number of sealed nodes kept after a read.
	NodeCacheSize int `yaml:"node_cache_size"`
}

// ExportConfig configures Parquet interval exports.
type ExportConfig struct {
	// Compression is the Parquet codec: none, snappy, zstd, lz4, gzip.
	Compression string `yaml:"compression"`

	// BatchSize is the number of rows buffered per write.
	BatchSize int `yaml:"batch_size"`
}

// QueryConfig configures the SQL analytics service.
type QueryConfig struct {
	// MemoryLimit is passed to DuckDB.
	// Format: "512MB", "1GB"
	MemoryLimit string `yaml:"memory_limit"`

	// Timeout is the per-query timeout.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRows caps the rows returned by one query.
	MaxRows int `yaml:"max_rows"`
}

// StatsConfig configures duration sketches.
type StatsConfig struct {
	// Accuracy is the relative accuracy (0.01 = 1% error).
	Accuracy float64 `yaml:"accuracy"`
}

// StatedumpConfig configures point-in-time snapshots.
type StatedumpConfig struct {
	// Version is the analysis-specific statedump version.
	Version int `yaml:"version"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration built from the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: defaults.DefaultDataDir,
		Backend: BackendConfig{
			Kind:            defaults.DefaultBackend,
			BlockSize:       defaults.DefaultBlockSize,
			MaxChildren:     defaults.DefaultMaxChildren,
			ProviderVersion: defaults.DefaultProviderVersion,
			NodeCacheSize:   defaults.DefaultNodeCacheSize,
		},
		Export: ExportConfig{
			Compression: defaults.DefaultExportCompression,
			BatchSize:   defaults.DefaultExportBatchSize,
		},
		Query: QueryConfig{
			MemoryLimit: defaults.DefaultQueryMemoryLimit,
			Timeout:     defaults.DefaultQueryTimeout,
			MaxRows:     defaults.DefaultQueryMaxRows,
		},
		Stats: StatsConfig{
			Accuracy: defaults.DefaultSketchAccuracy,
		},
		Statedump: StatedumpConfig{
			Version: defaults.DefaultStatedumpVersion,
		},
	}
}

// HistoryPath returns the history file of the state system id.
func (c *Config) HistoryPath(id string) string {
	return filepath.Join(c.DataDir, id+defaults.HistoryFileSuffix)
}

// IsOnDisk reports whether the configured backend writes a history file.
func (c *Config) IsOnDisk() bool {
	return c.Backend.Kind == constants.BackendHistoryTree
}
