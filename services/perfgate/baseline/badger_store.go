// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package baseline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/perfgate/services/perfgate/storage/badger"
)

var tracer = otel.Tracer("perfgate.baseline")

const (
	recordPrefix = "baseline/"
	indexPrefix  = "baseline_idx/"
)

func recordKey(id string) []byte {
	return []byte(recordPrefix + id)
}

// indexKey orders baselines by creation time. Flipping the sign bit maps
// signed nanoseconds onto unsigned ones in the same order, and zero padding
// makes byte order equal time order on both sides of the epoch.
func indexKey(createdAt time.Time, id string) []byte {
	ts := uint64(createdAt.UnixNano()) ^ (1 << 63)
	return []byte(fmt.Sprintf("%s%020d/%s", indexPrefix, ts, id))
}

func idFromIndexKey(key []byte) string {
	rest := strings.TrimPrefix(string(key), indexPrefix)
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[i+1:]
	}
	return ""
}

// BadgerStoreOption configures a BadgerStore.
type BadgerStoreOption func(*BadgerStore)

// WithTTL sets the record lifetime. Zero disables expiry.
func WithTTL(ttl time.Duration) BadgerStoreOption {
	return func(s *BadgerStore) {
		if ttl >= 0 {
			s.ttl = ttl
		}
	}
}

// WithStoreLogger sets the logger.
func WithStoreLogger(l *slog.Logger) BadgerStoreOption {
	return func(s *BadgerStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// BadgerStore is a Store backed by BadgerDB.
//
// Description:
//
//	Each baseline is one JSON record under "baseline/<id>" plus an index
//	key "baseline_idx/<sortable unixnano>/<id>" with no value. Both are written in
//	the same transaction with the same TTL, so BadgerDB expires them
//	together and a reader never sees half a baseline.
//
// Thread Safety: Safe for concurrent use.
type BadgerStore struct {
	db     *badger.DB
	ttl    time.Duration
	logger *slog.Logger
}

// NewBadgerStore creates a store over an open database. The store does not
// own db; the caller closes it.
func NewBadgerStore(db *badger.DB, opts ...BadgerStoreOption) (*BadgerStore, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	s := &BadgerStore{db: db, ttl: DefaultTTL, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create implements Store.
func (s *BadgerStore) Create(ctx context.Context, b *Baseline) (string, error) {
	if b == nil {
		return "", fmt.Errorf("%w: nil baseline", ErrInvalidBaseline)
	}
	ctx, span := tracer.Start(ctx, "BadgerStore.Create",
		trace.WithAttributes(attribute.String("baseline.id", b.ID())),
	)
	defer span.End()

	data, err := Marshal(b)
	if err != nil {
		return "", s.fail(span, "create", err)
	}

	err = s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		if _, err := txn.Get(recordKey(b.ID())); err == nil {
			return fmt.Errorf("%w: %s", ErrBaselineExists, b.ID())
		} else if !badger.IsNotFound(err) {
			return err
		}
		rec := dgbadger.NewEntry(recordKey(b.ID()), data)
		idx := dgbadger.NewEntry(indexKey(b.CreatedAt(), b.ID()), nil)
		if s.ttl > 0 {
			rec = rec.WithTTL(s.ttl)
			idx = idx.WithTTL(s.ttl)
		}
		if err := txn.SetEntry(rec); err != nil {
			return err
		}
		return txn.SetEntry(idx)
	})
	if errors.Is(err, ErrBaselineExists) {
		span.SetStatus(codes.Error, "exists")
		return "", err
	}
	if err != nil {
		return "", s.fail(span, "create", err)
	}

	span.SetAttributes(attribute.Int("baseline.bytes", len(data)))
	s.logger.Debug("baseline stored",
		slog.String("baseline_id", b.ID()),
		slog.Int("metrics", len(b.metrics)),
		slog.Duration("ttl", s.ttl),
	)
	return b.ID(), nil
}

// GetByID implements Store.
func (s *BadgerStore) GetByID(ctx context.Context, id string) (*Baseline, error) {
	ctx, span := tracer.Start(ctx, "BadgerStore.GetByID",
		trace.WithAttributes(attribute.String("baseline.id", id)),
	)
	defer span.End()

	var data []byte
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(recordKey(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if badger.IsNotFound(err) {
		span.SetAttributes(attribute.Bool("baseline.found", false))
		return nil, fmt.Errorf("%w: %s", ErrBaselineNotFound, id)
	}
	if err != nil {
		return nil, s.fail(span, "get", err)
	}

	b, err := Unmarshal(data)
	if err != nil {
		return nil, s.fail(span, "get", err)
	}
	span.SetAttributes(attribute.Bool("baseline.found", true))
	return b, nil
}

// ListRecent implements Store.
func (s *BadgerStore) ListRecent(ctx context.Context, n int) ([]*Baseline, error) {
	ctx, span := tracer.Start(ctx, "BadgerStore.ListRecent",
		trace.WithAttributes(attribute.Int("baseline.limit", n)),
	)
	defer span.End()

	out := []*Baseline{}
	if n <= 0 {
		return out, nil
	}

	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		return badger.ScanKeys(txn, []byte(indexPrefix), true, func(key []byte) (bool, error) {
			id := idFromIndexKey(key)
			item, err := txn.Get(recordKey(id))
			if badger.IsNotFound(err) {
				// Index outlived its record within the same second of expiry.
				return true, nil
			}
			if err != nil {
				return false, err
			}
			data, err := item.ValueCopy(nil)
			if err != nil {
				return false, err
			}
			b, err := Unmarshal(data)
			if err != nil {
				return false, err
			}
			out = append(out, b)
			return len(out) < n, nil
		})
	})
	if err != nil {
		return nil, s.fail(span, "list", err)
	}
	span.SetAttributes(attribute.Int("baseline.count", len(out)))
	return out, nil
}

func (s *BadgerStore) fail(span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, op+" failed")
	s.logger.Error("baseline repository failure",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	return &RepositoryError{Op: op, Err: err}
}
