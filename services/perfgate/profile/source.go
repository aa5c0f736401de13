// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/perfgate/services/perfgate/scope"
)

// Source supplies profiles by id.
//
// Get must return an error matching ErrProfileNotFound for an unknown id,
// never a silent default.
type Source interface {
	Get(ctx context.Context, id string) (Profile, error)
	Exists(ctx context.Context, id string) (bool, error)
	List(ctx context.Context) ([]string, error)
	All(ctx context.Context) ([]Profile, error)
}

// -----------------------------------------------------------------------------
// MemorySource
// -----------------------------------------------------------------------------

// MemorySource holds profiles in memory.
//
// Thread Safety: Safe for concurrent use.
type MemorySource struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewMemorySource creates a source holding the given profiles.
//
// Outputs:
//   - *MemorySource: The source.
//   - error: Non-nil if two profiles share an id.
func NewMemorySource(profiles ...Profile) (*MemorySource, error) {
	s := &MemorySource{profiles: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		if _, dup := s.profiles[p.ID()]; dup {
			return nil, fmt.Errorf("duplicate profile id %q", p.ID())
		}
		s.profiles[p.ID()] = p
	}
	return s, nil
}

// Put adds or replaces a profile.
func (s *MemorySource) Put(p Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID()] = p
}

// Get implements Source.
func (s *MemorySource) Get(_ context.Context, id string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, id)
	}
	return p, nil
}

// Exists implements Source.
func (s *MemorySource) Exists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.profiles[id]
	return ok, nil
}

// List implements Source. IDs are sorted.
func (s *MemorySource) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.profiles))
	for id := range s.profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// All implements Source. Profiles are sorted by id.
func (s *MemorySource) All(ctx context.Context) ([]Profile, error) {
	ids, _ := s.List(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Profile, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.profiles[id])
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// DirSource
// -----------------------------------------------------------------------------

// DirSource loads profiles from *.yaml / *.yml files in a directory and
// reloads them when the directory changes.
//
// Description:
//
//	A reload replaces the full profile set atomically. If the new set fails
//	to load (bad YAML, duplicate ids) the previous set is kept and the
//	error is logged.
//
// Thread Safety: Safe for concurrent use.
type DirSource struct {
	dir      string
	registry *scope.Registry
	logger   *slog.Logger

	memMu sync.RWMutex
	mem   *MemorySource

	watcher *fsnotify.Watcher
	doneCh  chan struct{}
}

// DirSourceOption configures a DirSource.
type DirSourceOption func(*DirSource)

// WithRegistry sets the scope registry used to parse scope text.
func WithRegistry(r *scope.Registry) DirSourceOption {
	return func(d *DirSource) {
		if r != nil {
			d.registry = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) DirSourceOption {
	return func(d *DirSource) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDirSource loads every profile file in dir.
//
// Outputs:
//   - *DirSource: The loaded source. Call Watch to enable hot reload.
//   - error: Non-nil if the directory or any file cannot be loaded.
func NewDirSource(dir string, opts ...DirSourceOption) (*DirSource, error) {
	d := &DirSource{
		dir:      dir,
		registry: scope.NewRegistry(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reload re-reads the directory.
func (d *DirSource) Reload() error {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return fmt.Errorf("read profile dir: %w", err)
	}

	var all []Profile
	for _, e := range entries {
		if e.IsDir() || !isProfileFile(e.Name()) {
			continue
		}
		ps, err := LoadFile(filepath.Join(d.dir, e.Name()), d.registry)
		if err != nil {
			return err
		}
		all = append(all, ps...)
	}

	mem, err := NewMemorySource(all...)
	if err != nil {
		return fmt.Errorf("profile dir %s: %w", d.dir, err)
	}
	d.swap(mem)

	d.logger.Info("profiles loaded",
		slog.String("dir", d.dir),
		slog.Int("count", len(all)),
	)
	return nil
}

func (d *DirSource) swap(mem *MemorySource) {
	d.memMu.Lock()
	d.mem = mem
	d.memMu.Unlock()
}

func (d *DirSource) current() *MemorySource {
	d.memMu.RLock()
	defer d.memMu.RUnlock()
	return d.mem
}

// Get implements Source.
func (d *DirSource) Get(ctx context.Context, id string) (Profile, error) {
	return d.current().Get(ctx, id)
}

// Exists implements Source.
func (d *DirSource) Exists(ctx context.Context, id string) (bool, error) {
	return d.current().Exists(ctx, id)
}

// List implements Source.
func (d *DirSource) List(ctx context.Context) ([]string, error) {
	return d.current().List(ctx)
}

// All implements Source.
func (d *DirSource) All(ctx context.Context) ([]Profile, error) {
	return d.current().All(ctx)
}

// Watch starts reloading on directory changes until ctx is done or Close
// is called.
//
// Outputs:
//   - error: Non-nil if the watcher cannot be created.
func (d *DirSource) Watch(ctx context.Context) error {
	if d.watcher != nil {
		return errors.New("profile dir already watched")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	if err := watcher.Add(d.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", d.dir, err)
	}
	d.watcher = watcher
	d.doneCh = make(chan struct{})

	go d.watchLoop(ctx)
	return nil
}

// Close stops the watcher, if any.
func (d *DirSource) Close() error {
	if d.watcher == nil {
		return nil
	}
	err := d.watcher.Close()
	<-d.doneCh
	d.watcher = nil
	return err
}

func (d *DirSource) watchLoop(ctx context.Context) {
	defer close(d.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if !isProfileFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := d.Reload(); err != nil {
				d.logger.Warn("profile reload failed, keeping previous set",
					slog.String("dir", d.dir),
					slog.String("error", err.Error()),
				)
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Warn("profile watcher error", slog.String("error", err.Error()))
		}
	}
}

func isProfileFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
