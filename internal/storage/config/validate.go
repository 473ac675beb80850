package config

import (
	"errors"
	"fmt"
	"os"

	defaults "github.com/xtxerr/statehist/config"
	"github.com/xtxerr/statehist/internal/constants"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	// DataDir
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}

	// Backend
	if err := c.Backend.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("backend: %w", err))
	}

	// Export
	if err := c.Export.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("export: %w", err))
	}

	// Query
	if err := c.Query.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("query: %w", err))
	}

	// Stats
	if err := c.Stats.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("stats: %w", err))
	}

	if c.Statedump.Version < 0 {
		errs = append(errs, errors.New("statedump: version must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the backend configuration.
func (c *BackendConfig) Validate() error {
	var errs []error

	if !constants.IsValidBackend(c.Kind) {
		errs = append(errs, fmt.Errorf("kind must be one of %v, got %q", constants.ValidBackends, c.Kind))
	}

	if c.MaxChildren < 2 {
		errs = append(errs, errors.New("max_children must be at least 2"))
	}

	if c.BlockSize < defaults.HeaderSize {
		errs = append(errs, fmt.Errorf("block_size must be at least %d", defaults.HeaderSize))
	} else if c.MaxChildren >= 2 && coreHeaderSize(c.MaxChildren) >= c.BlockSize {
		errs = append(errs, fmt.Errorf("block_size %d cannot hold a core node with %d children",
			c.BlockSize, c.MaxChildren))
	}

	if c.ProviderVersion < 0 {
		errs = append(errs, errors.New("provider_version must not be negative"))
	}

	if c.NodeCacheSize < 0 {
		errs = append(errs, errors.New("node_cache_size must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the export configuration.
func (c *ExportConfig) Validate() error {
	var errs []error

	valid := false
	for _, name := range constants.ValidCompressions {
		if c.Compression == name {
			valid = true
			break
		}
	}
	if !valid {
		errs = append(errs, fmt.Errorf("compression must be one of %v, got %q", constants.ValidCompressions, c.Compression))
	}

	if c.BatchSize <= 0 {
		errs = append(errs, errors.New("batch_size must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the query configuration.
func (c *QueryConfig) Validate() error {
	var errs []error

	if c.MemoryLimit != "" && ParseMemoryLimit(c.MemoryLimit) <= 0 {
		errs = append(errs, fmt.Errorf("invalid memory_limit %q", c.MemoryLimit))
	}

	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}

	if c.MaxRows <= 0 {
		errs = append(errs, errors.New("max_rows must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the stats configuration.
func (c *StatsConfig) Validate() error {
	if c.Accuracy <= 0 || c.Accuracy >= 1 {
		return errors.New("accuracy must be between 0 and 1")
	}
	return nil
}

// EnsureDirectories creates the data directory.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", c.DataDir, err)
	}
	return nil
}

// coreHeaderSize mirrors the history tree core node layout: the common
// header, the child count and one (seq, start) pair per child.
func coreHeaderSize(maxChildren int) int {
	return 30 + 4 + 12*maxChildren
}
