// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package baseline compares current metrics to an immutable historical
// snapshot and persists those snapshots.
package baseline

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/perfgate/services/perfgate/metrics"
)

var (
	// ErrInvalidBaseline is returned when a baseline violates its invariants.
	ErrInvalidBaseline = errors.New("invalid baseline")

	// ErrInvalidTolerance is returned for an out-of-range tolerance.
	ErrInvalidTolerance = errors.New("invalid tolerance")

	// ErrInvalidConfidence is returned for a confidence outside [0, 1].
	ErrInvalidConfidence = errors.New("invalid confidence level")
)

// Metric is one baseline value.
type Metric struct {
	// Type names the metric, typically metrics.FlatKey(name, aggregation).
	Type  string
	Value float64
	Unit  string
}

// Baseline is an immutable snapshot of metrics and their tolerances.
type Baseline struct {
	id          string
	createdAt   time.Time
	metrics     []Metric
	tolerances  ToleranceConfiguration
	executionID string
	description string
}

// Option sets optional baseline fields.
type Option func(*Baseline)

// WithExecutionID records the execution the baseline was taken from.
func WithExecutionID(id string) Option {
	return func(b *Baseline) { b.executionID = id }
}

// WithDescription sets a free-text description.
func WithDescription(d string) Option {
	return func(b *Baseline) { b.description = d }
}

// WithCreatedAt overrides the creation time. Default: now.
func WithCreatedAt(t time.Time) Option {
	return func(b *Baseline) { b.createdAt = t }
}

// WithID overrides the generated id. Used when restoring persisted baselines.
func WithID(id string) Option {
	return func(b *Baseline) { b.id = id }
}

// New creates a baseline with a fresh id.
//
// Description:
//
//	Every metric type must have a tolerance and appear once. Metric order
//	is kept. CreatedAt is stored in UTC without a monotonic reading so a
//	serialization round-trip reproduces it exactly.
//
// Outputs:
//   - *Baseline: The baseline.
//   - error: ErrInvalidBaseline on a missing tolerance, duplicate or
//     unnamed metric, or non-finite value.
func New(ms []Metric, tolerances ToleranceConfiguration, opts ...Option) (*Baseline, error) {
	b := &Baseline{
		id:         uuid.NewString(),
		createdAt:  time.Now(),
		metrics:    make([]Metric, len(ms)),
		tolerances: tolerances,
	}
	copy(b.metrics, ms)
	for _, opt := range opts {
		opt(b)
	}
	b.createdAt = b.createdAt.UTC().Round(0)

	if strings.TrimSpace(b.id) == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidBaseline)
	}
	seen := make(map[string]bool, len(ms))
	for _, m := range b.metrics {
		switch {
		case strings.TrimSpace(m.Type) == "":
			return nil, fmt.Errorf("%w: unnamed metric", ErrInvalidBaseline)
		case seen[m.Type]:
			return nil, fmt.Errorf("%w: duplicate metric %s", ErrInvalidBaseline, m.Type)
		case math.IsNaN(m.Value) || math.IsInf(m.Value, 0):
			return nil, fmt.Errorf("%w: metric %s is not finite", ErrInvalidBaseline, m.Type)
		}
		seen[m.Type] = true
		if _, ok := tolerances.For(m.Type); !ok {
			return nil, fmt.Errorf("%w: no tolerance for metric %s", ErrInvalidBaseline, m.Type)
		}
	}
	return b, nil
}

// FromMetrics builds a baseline from every aggregation in set, applying
// tolerance to each flattened metric key.
func FromMetrics(set metrics.Set, typ ToleranceType, amount float64, opts ...Option) (*Baseline, error) {
	var ms []Metric
	var ts []Tolerance
	for _, m := range set {
		for _, agg := range m.AggregationNames() {
			key := metrics.FlatKey(m.Name, agg)
			ms = append(ms, Metric{Type: key, Value: m.Aggregations[agg], Unit: m.Unit})
			t, err := NewTolerance(key, typ, amount)
			if err != nil {
				return nil, err
			}
			ts = append(ts, t)
		}
	}
	cfg, err := NewToleranceConfiguration(ts...)
	if err != nil {
		return nil, err
	}
	return New(ms, cfg, opts...)
}

// ID returns the baseline id.
func (b *Baseline) ID() string { return b.id }

// CreatedAt returns the creation time in UTC.
func (b *Baseline) CreatedAt() time.Time { return b.createdAt }

// ExecutionID returns the source execution, if recorded.
func (b *Baseline) ExecutionID() string { return b.executionID }

// Description returns the description, if any.
func (b *Baseline) Description() string { return b.description }

// Metrics returns a copy of the metrics in stored order.
func (b *Baseline) Metrics() []Metric {
	out := make([]Metric, len(b.metrics))
	copy(out, b.metrics)
	return out
}

// Metric returns the metric of the given type.
func (b *Baseline) Metric(typ string) (Metric, bool) {
	for _, m := range b.metrics {
		if m.Type == typ {
			return m, true
		}
	}
	return Metric{}, false
}

// Tolerances returns the tolerance configuration.
func (b *Baseline) Tolerances() ToleranceConfiguration { return b.tolerances }

// Equal reports whether two baselines have the same logical fields.
func (b *Baseline) Equal(o *Baseline) bool {
	if b == nil || o == nil {
		return b == o
	}
	if b.id != o.id || !b.createdAt.Equal(o.createdAt) ||
		b.executionID != o.executionID || b.description != o.description {
		return false
	}
	if len(b.metrics) != len(o.metrics) || b.tolerances.Len() != o.tolerances.Len() {
		return false
	}
	for i := range b.metrics {
		if b.metrics[i] != o.metrics[i] {
			return false
		}
	}
	ot := o.tolerances.All()
	for i, t := range b.tolerances.All() {
		if t != ot[i] {
			return false
		}
	}
	return true
}
