// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger opens and manages the embedded BadgerDB that backs the
// baseline store.
//
// Records are written with a time-to-live; BadgerDB hides expired keys from
// reads and iterators and reclaims their space during value log GC, which
// this package runs on a timer for persistent databases.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config holds configuration for a BadgerDB instance.
type Config struct {
	// Path is the directory for database files. Required unless InMemory.
	Path string

	// InMemory keeps everything in RAM. Used by tests and the
	// `storage.in_memory` application setting.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives BadgerDB's internal log lines. Nil silences them.
	Logger *slog.Logger

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the garbage fraction that triggers a rewrite.
	GCDiscardRatio float64
}

// DefaultConfig returns production defaults: synchronous writes and value
// log GC every 5 minutes at a 0.5 discard ratio.
func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests: no disk, no GC.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !c.InMemory && c.Path == "" {
		return errors.New("path is required for persistent database")
	}
	if c.GCInterval < 0 {
		return errors.New("gc interval must not be negative")
	}
	if c.GCDiscardRatio < 0 || c.GCDiscardRatio > 1 {
		return errors.New("gc discard ratio must be between 0 and 1")
	}
	return nil
}

// slogAdapter satisfies badger.Logger.
type slogAdapter struct {
	logger *slog.Logger
}

func (l *slogAdapter) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (l *slogAdapter) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (l *slogAdapter) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (l *slogAdapter) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

// DB is a BadgerDB handle with GC and close lifecycle attached.
//
// Thread Safety: Safe for concurrent use.
type DB struct {
	*badger.DB

	path      string
	inMemory  bool
	gc        *gcRunner
	closeOnce sync.Once
	closeErr  error
}

// Open opens a database.
//
// Description:
//
//	Creates Path if needed, opens BadgerDB with the configured durability
//	and starts value log GC when GCInterval is set on a persistent
//	database.
//
// Inputs:
//   - cfg: Database configuration.
//
// Outputs:
//   - *DB: The opened database. Caller must Close it.
//   - error: Non-nil if the configuration is invalid or the open fails.
//
// Thread Safety: The returned *DB is safe for concurrent use.
func Open(cfg Config) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
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
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&slogAdapter{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	db := &DB{DB: bdb, path: cfg.Path, inMemory: cfg.InMemory}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		db.gc = startGC(bdb, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
	}
	return db, nil
}

// OpenInMemory opens an in-memory database.
func OpenInMemory() (*DB, error) {
	return Open(InMemoryConfig())
}

// Close stops GC and closes the database. Later calls return the first
// result.
func (d *DB) Close() error {
	d.closeOnce.Do(func() {
		if d.gc != nil {
			d.gc.stop()
		}
		d.closeErr = d.DB.Close()
	})
	return d.closeErr
}

// Path returns the database directory, empty for in-memory databases.
func (d *DB) Path() string { return d.path }

// InMemory reports whether the database lives only in RAM.
func (d *DB) InMemory() bool { return d.inMemory }

// WithTxn runs fn in a read-write transaction and commits if fn returns nil.
//
// Outputs:
//   - error: ctx's error if already done, fn's error, or the commit error.
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

// WithReadTxn runs fn in a read-only transaction.
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

// ScanKeys visits keys with the given prefix inside txn without fetching
// values.
//
// Description:
//
//	Keys are visited in ascending order, or descending when reverse is set.
//	Expired keys are never visited. The key slice is only valid during the
//	callback. Returning false from fn stops the scan.
//
// Inputs:
//   - txn: Open transaction.
//   - prefix: Key prefix. Must not be empty.
//   - reverse: Iterate from the highest key down.
//   - fn: Visitor.
//
// Outputs:
//   - error: The first error returned by fn.
func ScanKeys(txn *badger.Txn, prefix []byte, reverse bool, fn func(key []byte) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Reverse = reverse
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	seek := prefix
	if reverse {
		seek = append(append([]byte{}, prefix...), 0xFF)
	}
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		more, err := fn(it.Item().Key())
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

// IsNotFound reports whether err means the key is absent or expired.
func IsNotFound(err error) bool {
	return errors.Is(err, badger.ErrKeyNotFound)
}

// -----------------------------------------------------------------------------
// Value log GC
// -----------------------------------------------------------------------------

type gcRunner struct {
	db     *badger.DB
	ratio  float64
	logger *slog.Logger
	stopCh chan struct{}
	doneCh chan struct{}
}

func startGC(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) *gcRunner {
	r := &gcRunner{
		db:     db,
		ratio:  ratio,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go r.run(interval)
	return r
}

func (r *gcRunner) stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *gcRunner) run(interval time.Duration) {
	defer close(r.doneCh)

	ticker := time.NewTicker(interval)
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

// collect rewrites value log files until BadgerDB reports nothing left
// to reclaim.
func (r *gcRunner) collect() {
	rewrites := 0
	for {
		err := r.db.RunValueLogGC(r.ratio)
		if err == nil {
			rewrites++
			continue
		}
		if !errors.Is(err, badger.ErrNoRewrite) && r.logger != nil {
			r.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
		}
		break
	}
	if rewrites > 0 && r.logger != nil {
		r.logger.Debug("badger value log GC completed", slog.Int("rewrites", rewrites))
	}
}
