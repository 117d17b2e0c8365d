// Package badgerdb opens the embedded store used for scan markers and state snapshots.
package badgerdb

import (
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// Config holds configuration for a BadgerDB instance.
type Config struct {
	// Path is the data directory. Ignored when InMemory is true.
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     *zap.Logger
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

type zapAdapter struct {
	logger *zap.SugaredLogger
}

func (l zapAdapter) Errorf(format string, args ...interface{})   { l.logger.Errorf(format, args...) }
func (l zapAdapter) Warningf(format string, args ...interface{}) { l.logger.Warnf(format, args...) }
func (l zapAdapter) Infof(format string, args ...interface{})    { l.logger.Debugf(format, args...) }
func (l zapAdapter) Debugf(format string, args ...interface{})   { l.logger.Debugf(format, args...) }

// Open opens a database at cfg.Path, or in memory.
func Open(cfg Config) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badgerdb: path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("badgerdb: create directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(zapAdapter{logger: cfg.Logger.Sugar()})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerdb: open: %w", err)
	}
	return db, nil
}
