// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package metrics

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Source exposes aggregated metrics for an execution. Read-only.
type Source interface {
	// Metrics returns every metric of the execution, or an error matching
	// ErrExecutionNotFound.
	Metrics(ctx context.Context, executionID string) (Set, error)
}

// MemorySource keeps metric sets in memory.
//
// Thread Safety: Safe for concurrent use.
type MemorySource struct {
	mu   sync.RWMutex
	sets map[string]Set
}

// NewMemorySource creates an empty source.
func NewMemorySource() *MemorySource {
	return &MemorySource{sets: make(map[string]Set)}
}

// Put stores the metrics of one execution, replacing any previous set.
func (s *MemorySource) Put(executionID string, set Set) error {
	if err := set.Validate(); err != nil {
		return fmt.Errorf("execution %s: %w", executionID, err)
	}
	cp := make(Set, len(set))
	copy(cp, set)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets[executionID] = cp
	return nil
}

// Metrics implements Source.
func (s *MemorySource) Metrics(_ context.Context, executionID string) (Set, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set, ok := s.sets[executionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}
	cp := make(Set, len(set))
	copy(cp, set)
	return cp, nil
}

// Executions returns the known execution ids in sorted order.
func (s *MemorySource) Executions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.sets))
	for id := range s.sets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// -----------------------------------------------------------------------------
// YAML files
// -----------------------------------------------------------------------------

// fileDocument is a metrics YAML file.
//
//	executions:
//	  run-42:
//	    - name: response_time
//	      unit: ms
//	      computed_at: 2025-06-01T12:00:00Z
//	      status: complete
//	      sample_count: 1200
//	      aggregations: {p50: 80, p95: 180, p99: 240}
//	      samples:
//	        - {timestamp: 2025-06-01T11:59:00Z, duration: 120ms, status: "200"}
type fileDocument struct {
	Executions map[string][]fileMetric `yaml:"executions"`
}

type fileMetric struct {
	Name         string             `yaml:"name"`
	Unit         string             `yaml:"unit"`
	ComputedAt   time.Time          `yaml:"computed_at"`
	Status       string             `yaml:"status"`
	SampleCount  int                `yaml:"sample_count"`
	Aggregations map[string]float64 `yaml:"aggregations"`
	Samples      []fileSample       `yaml:"samples"`
}

type fileSample struct {
	Timestamp time.Time `yaml:"timestamp"`
	Duration  string    `yaml:"duration"`
	Status    string    `yaml:"status"`
}

// ParseYAML decodes a metrics document into per-execution sets.
func ParseYAML(data []byte) (map[string]Set, error) {
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse metrics yaml: %w", err)
	}

	out := make(map[string]Set, len(doc.Executions))
	for execID, fms := range doc.Executions {
		set := make(Set, 0, len(fms))
		for _, fm := range fms {
			m := Metric{
				Name:         strings.TrimSpace(fm.Name),
				Aggregations: fm.Aggregations,
				Unit:         fm.Unit,
				ComputedAt:   fm.ComputedAt.UTC(),
				Status:       ParseStatus(fm.Status),
				SampleCount:  fm.SampleCount,
			}
			for i, fs := range fm.Samples {
				d, err := time.ParseDuration(strings.TrimSpace(fs.Duration))
				if err != nil {
					return nil, fmt.Errorf("execution %s metric %s sample %d: %w", execID, fm.Name, i, err)
				}
				m.Samples = append(m.Samples, Sample{
					Timestamp: fs.Timestamp.UTC(),
					Duration:  d,
					Status:    fs.Status,
				})
			}
			if m.SampleCount == 0 {
				m.SampleCount = len(m.Samples)
			}
			set = append(set, m)
		}
		if err := set.Validate(); err != nil {
			return nil, fmt.Errorf("execution %s: %w", execID, err)
		}
		out[execID] = set
	}
	return out, nil
}

// LoadFile reads a metrics YAML file into a MemorySource.
func LoadFile(path string) (*MemorySource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metrics file: %w", err)
	}
	sets, err := ParseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	src := NewMemorySource()
	for id, set := range sets {
		if err := src.Put(id, set); err != nil {
			return nil, err
		}
	}
	return src, nil
}
