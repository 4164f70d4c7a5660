// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger wraps BadgerDB for embedded local storage.
//
// Build sessions are short-lived and in-memory while they run; what
// outlives them is the session record written at the end. This package
// provides the embedded store those records live in: an on-disk
// BadgerDB for the service, an in-memory one for tests, and a managed
// wrapper that owns value log garbage collection.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config holds settings for one BadgerDB instance.
type Config struct {
	// Path is the directory for database files.
	// Required unless InMemory is true.
	Path string

	// InMemory keeps all data in RAM. Nothing survives Close.
	InMemory bool

	// SyncWrites forces every write to disk before the commit returns.
	// Records are written once per session, so the cost is negligible.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output.
	// If nil, BadgerDB logging is disabled entirely.
	Logger *slog.Logger

	// NumVersionsToKeep is the per-key version retention count.
	// Session records are overwritten whole, so 1 is sufficient.
	NumVersionsToKeep int

	// GCInterval is how often value log garbage collection runs.
	// Zero disables the GC runner.
	GCInterval time.Duration

	// GCDiscardRatio is the garbage fraction that must be reclaimable
	// before a GC cycle rewrites a value log file.
	GCDiscardRatio float64
}

// DefaultConfig returns the production configuration.
//
// Description:
//
//	Synchronous writes, single-version keys, and a ten minute GC
//	interval. Session records are small and written once per build,
//	so GC pressure stays low.
//
// Outputs:
//
//	Config - Production settings. Caller must still set Path.
func DefaultConfig() Config {
	return Config{
		SyncWrites:        true,
		NumVersionsToKeep: 1,
		GCInterval:        10 * time.Minute,
		GCDiscardRatio:    0.5,
	}
}

// InMemoryConfig returns the configuration used by tests.
//
// Description:
//
//	In-memory mode with synchronous writes and garbage collection
//	both disabled. No files are created.
//
// Outputs:
//
//	Config - Test settings, usable as-is.
func InMemoryConfig() Config {
	return Config{
		InMemory:          true,
		SyncWrites:        false,
		NumVersionsToKeep: 1,
		GCInterval:        0,
	}
}

// slogBridge adapts slog to the badger.Logger interface.
type slogBridge struct {
	logger *slog.Logger
}

func (b *slogBridge) Errorf(format string, args ...interface{}) {
	b.logger.Error(fmt.Sprintf(format, args...))
}

func (b *slogBridge) Warningf(format string, args ...interface{}) {
	b.logger.Warn(fmt.Sprintf(format, args...))
}

func (b *slogBridge) Infof(format string, args ...interface{}) {
	b.logger.Info(fmt.Sprintf(format, args...))
}

func (b *slogBridge) Debugf(format string, args ...interface{}) {
	b.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens a raw BadgerDB instance.
//
// Description:
//
//	Opens the database at cfg.Path, creating the directory when it
//	does not exist, or in memory when cfg.InMemory is set. Most
//	callers want OpenDB, which also manages garbage collection.
//
// Inputs:
//
//	cfg - Database settings. Path is required unless InMemory is true.
//
// Outputs:
//
//	*badger.DB - The open database. Caller owns Close.
//	error - Non-nil if the path is missing or the open fails.
//
// Thread Safety: The returned *badger.DB is safe for concurrent use.
func Open(cfg Config) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(cfg.NumVersionsToKeep)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&slogBridge{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	return db, nil
}

// OpenInMemory opens a raw in-memory database for tests.
//
// Outputs:
//
//	*badger.DB - The open database. Caller owns Close.
//	error - Non-nil if the open fails, which is unlikely in memory.
func OpenInMemory() (*badger.DB, error) {
	return Open(InMemoryConfig())
}

// GCRunner triggers periodic value log garbage collection.
//
// BadgerDB never reclaims value log space on its own; something has to
// call RunValueLogGC. The runner does that on a ticker until stopped.
type GCRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	logger   *slog.Logger

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewGCRunner creates a garbage collection runner.
//
// Inputs:
//
//	db - Open database. Must not be nil.
//	interval - Time between GC cycles. Must be positive.
//	ratio - Reclaimable fraction that triggers a rewrite, in (0, 1].
//	logger - Optional logger for GC outcomes.
//
// Outputs:
//
//	*GCRunner - The runner, idle until Start is called.
//	error - Non-nil if any input is invalid.
//
// Thread Safety: Safe for concurrent use.
func NewGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) (*GCRunner, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if ratio <= 0 || ratio > 1 {
		return nil, errors.New("ratio must be between 0 and 1")
	}

	return &GCRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start launches the GC goroutine. Repeated calls are no-ops.
func (r *GCRunner) Start() {
	if r.started.Swap(true) {
		return
	}
	go r.run()
}

// Stop halts garbage collection and waits for the goroutine to exit.
// Safe to call repeatedly, and a no-op if Start never ran.
func (r *GCRunner) Stop() {
	if !r.started.Load() {
		return
	}
	r.stopOnce.Do(func() {
		close(r.stopCh)
		<-r.doneCh
	})
}

func (r *GCRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.collect()
		}
	}
}

func (r *GCRunner) collect() {
	// A nil return means a value log file was rewritten. ErrNoRewrite
	// means there was nothing worth collecting, which is the common case.
	err := r.db.RunValueLogGC(r.ratio)
	switch {
	case err == nil:
		if r.logger != nil {
			r.logger.Debug("badger value log GC reclaimed space")
		}
	case errors.Is(err, badger.ErrNoRewrite):
	default:
		if r.logger != nil {
			r.logger.Warn("badger value log GC failed", slog.String("error", err.Error()))
		}
	}
}

// DB is a BadgerDB instance with managed lifecycle.
//
// It embeds *badger.DB, so the full BadgerDB API remains available.
// Close additionally stops the GC runner the instance owns.
type DB struct {
	*badger.DB
	gc       *GCRunner
	path     string
	inMemory bool
}

// OpenDB opens a managed database.
//
// Description:
//
//	Opens BadgerDB per cfg and, for persistent databases with a
//	non-zero GCInterval, starts a GC runner that Close will stop.
//
// Inputs:
//
//	cfg - Database settings.
//
// Outputs:
//
//	*DB - The managed database. Caller owns Close.
//	error - Non-nil if the open fails.
//
// Thread Safety: Safe for concurrent use.
func OpenDB(cfg Config) (*DB, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}

	wrapped := &DB{
		DB:       db,
		path:     cfg.Path,
		inMemory: cfg.InMemory,
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		gc, err := NewGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create GC runner: %w", err)
		}
		wrapped.gc = gc
		gc.Start()
	}

	return wrapped, nil
}

// Close stops garbage collection and closes the database.
func (d *DB) Close() error {
	if d.gc != nil {
		d.gc.Stop()
	}
	return d.DB.Close()
}

// Path returns the database directory, empty for in-memory databases.
func (d *DB) Path() string {
	return d.path
}

// InMemory reports whether the database lives only in RAM.
func (d *DB) InMemory() bool {
	return d.inMemory
}

// Sync flushes pending writes to disk. No-op for in-memory databases.
func (d *DB) Sync() error {
	if d.inMemory {
		return nil
	}
	return d.DB.Sync()
}

// WithTxn runs fn inside a read-write transaction.
//
// Description:
//
//	Checks the context, opens a transaction, and commits when fn
//	returns nil. Any error from fn discards the transaction.
//
// Inputs:
//
//	ctx - Checked once before the transaction starts.
//	fn - Work to run inside the transaction.
//
// Outputs:
//
//	error - fn's error, a commit error, or the context error.
//
// Thread Safety: Safe for concurrent use.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	txn := d.DB.NewTransaction(true)
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return err
	}

	return txn.Commit()
}

// WithReadTxn runs fn inside a read-only transaction.
//
// Inputs:
//
//	ctx - Checked once before the transaction starts.
//	fn - Work to run inside the transaction.
//
// Outputs:
//
//	error - fn's error or the context error.
//
// Thread Safety: Safe for concurrent use.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	txn := d.DB.NewTransaction(false)
	defer txn.Discard()

	return fn(txn)
}

// TempDir creates a scratch directory for database tests.
//
// Inputs:
//
//	prefix - Directory name prefix.
//
// Outputs:
//
//	string - The directory path.
//	error - Non-nil if creation fails.
func TempDir(prefix string) (string, error) {
	dir, err := os.MkdirTemp("", prefix)
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	return dir, nil
}

// CleanupDir removes a database directory. Empty path is a no-op.
func CleanupDir(path string) error {
	if path == "" {
		return nil
	}
	// Resolve to an absolute path before removal.
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	return os.RemoveAll(absPath)
}
