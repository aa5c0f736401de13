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
	"sort"
	"sync"
	"time"
)

var (
	// ErrBaselineNotFound is returned for an absent or expired baseline.
	ErrBaselineNotFound = errors.New("baseline not found")

	// ErrBaselineExists is returned when creating a baseline whose id is
	// already stored.
	ErrBaselineExists = errors.New("baseline already exists")

	// ErrRepository matches every RepositoryError.
	ErrRepository = errors.New("baseline repository error")
)

// RepositoryError reports an infrastructure failure in a Store: the backing
// store is unavailable or a stored record cannot be decoded. It never wraps
// ErrBaselineNotFound.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("baseline repository %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *RepositoryError) Unwrap() error { return e.Err }

// Is matches ErrRepository.
func (e *RepositoryError) Is(target error) bool { return target == ErrRepository }

// DefaultTTL is how long stored baselines stay readable.
const DefaultTTL = 30 * 24 * time.Hour

// Store persists baselines with a time-to-live.
//
// Implementations must write each baseline atomically, so a reader sees a
// whole baseline or ErrBaselineNotFound.
type Store interface {
	// Create stores b and returns its id.
	Create(ctx context.Context, b *Baseline) (string, error)

	// GetByID returns the baseline, or ErrBaselineNotFound once it is
	// absent or expired.
	GetByID(ctx context.Context, id string) (*Baseline, error)

	// ListRecent returns up to n unexpired baselines, newest CreatedAt
	// first. Ties are ordered by id descending.
	ListRecent(ctx context.Context, n int) ([]*Baseline, error)
}

// -----------------------------------------------------------------------------
// MemoryStore
// -----------------------------------------------------------------------------

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithMemoryTTL sets the record lifetime. Zero or negative disables expiry.
func WithMemoryTTL(ttl time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) { s.ttl = ttl }
}

// WithMemoryClock sets the time source used for expiry.
func WithMemoryClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

type memoryRecord struct {
	data      []byte
	createdAt time.Time
	expiresAt time.Time
}

// MemoryStore is an in-process Store.
//
// Description:
//
//	Baselines are stored in their serialized JSON form so reads go
//	through the same decode and validation path as persistent stores.
//	Expired records are dropped lazily on access.
//
// Thread Safety: Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore creates an empty store with DefaultTTL.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		records: make(map[string]memoryRecord),
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, b *Baseline) (string, error) {
	if b == nil {
		return "", fmt.Errorf("%w: nil baseline", ErrInvalidBaseline)
	}
	if err := ctx.Err(); err != nil {
		return "", &RepositoryError{Op: "create", Err: err}
	}
	data, err := Marshal(b)
	if err != nil {
		return "", &RepositoryError{Op: "create", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if rec, ok := s.records[b.ID()]; ok && !s.expired(rec, now) {
		return "", fmt.Errorf("%w: %s", ErrBaselineExists, b.ID())
	}
	rec := memoryRecord{data: data, createdAt: b.CreatedAt()}
	if s.ttl > 0 {
		rec.expiresAt = now.Add(s.ttl)
	}
	s.records[b.ID()] = rec
	return b.ID(), nil
}

// GetByID implements Store.
func (s *MemoryStore) GetByID(ctx context.Context, id string) (*Baseline, error) {
	if err := ctx.Err(); err != nil {
		return nil, &RepositoryError{Op: "get", Err: err}
	}

	s.mu.Lock()
	rec, ok := s.records[id]
	if ok && s.expired(rec, s.now()) {
		delete(s.records, id)
		ok = false
	}
	s.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBaselineNotFound, id)
	}
	b, err := Unmarshal(rec.data)
	if err != nil {
		return nil, &RepositoryError{Op: "get", Err: err}
	}
	return b, nil
}

// ListRecent implements Store.
func (s *MemoryStore) ListRecent(ctx context.Context, n int) ([]*Baseline, error) {
	if err := ctx.Err(); err != nil {
		return nil, &RepositoryError{Op: "list", Err: err}
	}
	if n <= 0 {
		return []*Baseline{}, nil
	}

	type entry struct {
		id  string
		rec memoryRecord
	}
	s.mu.RLock()
	now := s.now()
	live := make([]entry, 0, len(s.records))
	for id, rec := range s.records {
		if !s.expired(rec, now) {
			live = append(live, entry{id: id, rec: rec})
		}
	}
	s.mu.RUnlock()

	sort.Slice(live, func(i, j int) bool {
		if !live[i].rec.createdAt.Equal(live[j].rec.createdAt) {
			return live[i].rec.createdAt.After(live[j].rec.createdAt)
		}
		return live[i].id > live[j].id
	})
	if len(live) > n {
		live = live[:n]
	}

	out := make([]*Baseline, 0, len(live))
	for _, e := range live {
		b, err := Unmarshal(e.rec.data)
		if err != nil {
			return nil, &RepositoryError{Op: "list", Err: err}
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *MemoryStore) expired(rec memoryRecord, now time.Time) bool {
	return !rec.expiresAt.IsZero() && !now.Before(rec.expiresAt)
}
