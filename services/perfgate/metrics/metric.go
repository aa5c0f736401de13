// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metrics models already-aggregated performance metrics and the
// sources that supply them for an execution.
//
// Aggregation itself (percentiles, means, rates) happens upstream; this
// package only carries the results plus the raw samples they were computed
// from so evaluation can fingerprint exactly what it consumed.
package metrics

import (
	"errors"
	"sort"
	"strings"
	"time"
)

var (
	// ErrExecutionNotFound is returned by sources for an unknown execution id.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrEmptyMetricName is returned when a metric has no name.
	ErrEmptyMetricName = errors.New("metric name must not be empty")
)

// -----------------------------------------------------------------------------
// Status
// -----------------------------------------------------------------------------

// Status is the completeness status reported for a metric.
type Status int

const (
	// StatusComplete means every expected sample was collected.
	StatusComplete Status = iota

	// StatusPartial means some samples were lost or the run was cut short.
	StatusPartial

	// StatusFailed means the metric could not be computed.
	StatusFailed
)

// String returns the string representation.
func (s Status) String() string {
	switch s {
	case StatusComplete:
		return "complete"
	case StatusPartial:
		return "partial"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseStatus parses a status name. Unknown names map to StatusPartial.
func ParseStatus(name string) Status {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "complete", "ok":
		return StatusComplete
	case "failed", "error":
		return StatusFailed
	default:
		return StatusPartial
	}
}

// -----------------------------------------------------------------------------
// Sample / Metric
// -----------------------------------------------------------------------------

// Sample is one raw observation a metric was aggregated from.
type Sample struct {
	// Timestamp is when the observation was taken.
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`

	// Duration is the observed latency.
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Status is the protocol-level status, e.g. "200" or "ok".
	Status string `json:"status" yaml:"status"`
}

// Metric is one aggregated metric of an execution.
type Metric struct {
	// Name identifies the metric, e.g. "response_time" or "throughput".
	Name string

	// Aggregations maps aggregation names ("p95", "mean", "max") to values.
	Aggregations map[string]float64

	// Unit is the unit of every aggregation value, e.g. "ms" or "rps".
	Unit string

	// ComputedAt is when upstream aggregation produced the values.
	ComputedAt time.Time

	// Status is the completeness status reported upstream.
	Status Status

	// SampleCount is the number of samples the aggregations cover.
	SampleCount int

	// Samples are the raw observations, if the source retains them.
	Samples []Sample
}

// Aggregation returns the value of the named aggregation.
//
// Lookup is case-insensitive: "P95" and "p95" name the same value.
func (m Metric) Aggregation(name string) (float64, bool) {
	if v, ok := m.Aggregations[name]; ok {
		return v, true
	}
	for k, v := range m.Aggregations {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return 0, false
}

// AggregationNames returns the aggregation names in sorted order.
func (m Metric) AggregationNames() []string {
	names := make([]string, 0, len(m.Aggregations))
	for k := range m.Aggregations {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// HigherIsBetter reports the metric's favorable direction.
func (m Metric) HigherIsBetter() bool {
	return HigherIsBetter(m.Name)
}

// higherIsBetterHints are name fragments of metrics where an increase is an
// improvement. Everything else (latency, errors, memory) improves downward.
var higherIsBetterHints = []string{
	"throughput",
	"rps",
	"qps",
	"tps",
	"requests_per_second",
	"success",
	"availability",
	"apdex",
	"hit_rate",
}

// HigherIsBetter reports whether an increase of the named metric is
// favorable. Names are matched case-insensitively on known fragments.
func HigherIsBetter(name string) bool {
	n := strings.ToLower(name)
	for _, hint := range higherIsBetterHints {
		if strings.Contains(n, hint) {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// Set
// -----------------------------------------------------------------------------

// Set is the collection of metrics of one execution.
type Set []Metric

// Find returns the metric with the given name, case-insensitively.
func (s Set) Find(name string) (Metric, bool) {
	for _, m := range s {
		if m.Name == name {
			return m, true
		}
	}
	for _, m := range s {
		if strings.EqualFold(m.Name, name) {
			return m, true
		}
	}
	return Metric{}, false
}

// Names returns the metric names in sorted order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for _, m := range s {
		names = append(names, m.Name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that every metric is named and names are unique.
func (s Set) Validate() error {
	seen := make(map[string]bool, len(s))
	for _, m := range s {
		if strings.TrimSpace(m.Name) == "" {
			return ErrEmptyMetricName
		}
		key := strings.ToLower(m.Name)
		if seen[key] {
			return errors.New("duplicate metric " + m.Name)
		}
		seen[key] = true
	}
	return nil
}

// FlatKey is the identifier of one aggregation of one metric, e.g.
// "response_time.p95". Baselines store values under these keys.
func FlatKey(metric, aggregation string) string {
	return strings.ToLower(metric) + "." + strings.ToLower(aggregation)
}

// SplitFlatKey is the inverse of FlatKey. The metric name is everything
// before the last dot.
func SplitFlatKey(key string) (metric, aggregation string) {
	i := strings.LastIndex(key, ".")
	if i < 0 {
		return key, ""
	}
	return key[:i], key[i+1:]
}

// Flatten returns every aggregation of every metric keyed by FlatKey.
func (s Set) Flatten() map[string]float64 {
	out := make(map[string]float64)
	for _, m := range s {
		for agg, v := range m.Aggregations {
			out[FlatKey(m.Name, agg)] = v
		}
	}
	return out
}
