package storage

import (
	"fmt"
	"os"

	"github.com/xtxerr/statehist/internal/constants"
	"github.com/xtxerr/statehist/internal/errors"
	"github.com/xtxerr/statehist/internal/logging"
	"github.com/xtxerr/statehist/internal/storage/config"
	"github.com/xtxerr/statehist/internal/storage/historytree"
	"github.com/xtxerr/statehist/internal/storage/memory"
	"github.com/xtxerr/statehist/internal/storage/null"
	"github.com/xtxerr/statehist/internal/validation"
)

// New creates an empty backend of the configured kind for state system id.
func New(cfg *config.Config, id string, startTime int64) (Backend, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := validation.ValidateID(id); err != nil {
		return nil, err
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", errors.Join(errors.ErrInvalidConfig, err))
	}

	switch cfg.Backend.Kind {
	case constants.BackendHistoryTree:
		// Ensure directories exist
		if err := cfg.EnsureDirectories(); err != nil {
			return nil, errors.NewStorageIO("ensure directories", err)
		}
		return historytree.NewBackend(id, cfg.HistoryPath(id), historytree.Options{
			StartTime:       startTime,
			BlockSize:       cfg.Backend.BlockSize,
			MaxChildren:     cfg.Backend.MaxChildren,
			ProviderVersion: cfg.Backend.ProviderVersion,
			NodeCacheSize:   cfg.Backend.NodeCacheSize,
		})
	case constants.BackendMemory:
		return memory.New(id, startTime), nil
	case constants.BackendNull:
		return null.New(id, startTime), nil
	}

	return nil, errors.NewValidation("backend.kind", cfg.Backend.Kind)
}

// Open reopens the finished history of state system id. Header or version
// problems are reported as storage errors.
func Open(cfg *config.Config, id string) (Backend, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if !cfg.IsOnDisk() {
		return nil, errors.NewValidation("backend.kind", fmt.Sprintf("%s histories cannot be reopened", cfg.Backend.Kind))
	}
	if err := validation.ValidateID(id); err != nil {
		return nil, err
	}

	return historytree.OpenBackend(id, cfg.HistoryPath(id), cfg.Backend.ProviderVersion, cfg.Backend.NodeCacheSize)
}

// OpenOrCreate reopens the history of id when it is valid. Otherwise the
// file is discarded and an empty backend is created. fresh reports whether
// the returned backend still has to be built.
func OpenOrCreate(cfg *config.Config, id string, startTime int64) (b Backend, fresh bool, err error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	log := logging.Component("storage")

	if !cfg.IsOnDisk() {
		b, err = New(cfg, id, startTime)
		return b, true, err
	}

	path := cfg.HistoryPath(id)
	if _, statErr := os.Stat(path); statErr == nil {
		b, err = Open(cfg, id)
		if err == nil {
			return b, false, nil
		}
		if !errors.IsStorageIO(err) {
			return nil, false, err
		}

		log.Warn("discarding history file",
			"id", id,
			"path", path,
			"reason", err,
		)
		if rmErr := os.Remove(path); rmErr != nil {
			return nil, false, errors.NewStorageIO("remove history file", rmErr)
		}
	}

	b, err = New(cfg, id, startTime)
	return b, true, err
}
