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
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/perfgate/services/perfgate/metrics"
)

// -----------------------------------------------------------------------------
// Comparison types
// -----------------------------------------------------------------------------

// ComparisonOutcome classifies one metric's deviation from the baseline.
type ComparisonOutcome int

const (
	// Improvement means the metric moved beyond tolerance in the favorable direction.
	Improvement ComparisonOutcome = iota

	// NoSignificantChange means the metric stayed within tolerance.
	NoSignificantChange

	// Inconclusive means the deviation was too marginal to classify.
	Inconclusive

	// Regression means the metric moved beyond tolerance in the unfavorable direction.
	Regression
)

// String returns the string representation.
func (o ComparisonOutcome) String() string {
	switch o {
	case Improvement:
		return "IMPROVEMENT"
	case NoSignificantChange:
		return "NO_SIGNIFICANT_CHANGE"
	case Inconclusive:
		return "INCONCLUSIVE"
	case Regression:
		return "REGRESSION"
	default:
		return "UNKNOWN"
	}
}

// ParseComparisonOutcome parses an outcome name.
func ParseComparisonOutcome(s string) (ComparisonOutcome, error) {
	for _, o := range []ComparisonOutcome{Improvement, NoSignificantChange, Inconclusive, Regression} {
		if strings.EqualFold(o.String(), strings.TrimSpace(s)) {
			return o, nil
		}
	}
	return Inconclusive, fmt.Errorf("unknown comparison outcome %q", s)
}

// WorseThan reports whether o ranks worse than other.
// Regression > Inconclusive > NoSignificantChange > Improvement.
func (o ComparisonOutcome) WorseThan(other ComparisonOutcome) bool { return o > other }

// MarshalJSON encodes the outcome as its name.
func (o ComparisonOutcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// UnmarshalJSON decodes an outcome name.
func (o *ComparisonOutcome) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseComparisonOutcome(s)
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// ComparisonMetric is the comparison of one metric.
type ComparisonMetric struct {
	MetricName    string            `json:"metricName"`
	BaselineValue float64           `json:"baselineValue"`
	CurrentValue  float64           `json:"currentValue"`
	Tolerance     ToleranceDTO      `json:"tolerance"`
	Outcome       ComparisonOutcome `json:"outcome"`
	Confidence    float64           `json:"confidence"`

	// ChangePercent is (current - baseline) / |baseline| * 100, omitted
	// for a zero baseline.
	ChangePercent *float64 `json:"changePercent,omitempty"`
}

// ComparisonResult is the outcome of comparing current metrics to a baseline.
type ComparisonResult struct {
	BaselineID string             `json:"baselineId"`
	Metrics    []ComparisonMetric `json:"metrics"`
	Outcome    ComparisonOutcome  `json:"outcome"`
	Confidence float64            `json:"confidence"`
	ComparedAt time.Time          `json:"comparedAt"`

	// MissingMetrics lists baseline metrics absent from the current set.
	// They do not affect Outcome.
	MissingMetrics []string `json:"missingMetrics,omitempty"`
}

// Regressions returns the metrics classified as Regression.
func (r *ComparisonResult) Regressions() []ComparisonMetric {
	return r.filter(Regression)
}

// Improvements returns the metrics classified as Improvement.
func (r *ComparisonResult) Improvements() []ComparisonMetric {
	return r.filter(Improvement)
}

func (r *ComparisonResult) filter(o ComparisonOutcome) []ComparisonMetric {
	var out []ComparisonMetric
	for _, m := range r.Metrics {
		if m.Outcome == o {
			out = append(out, m)
		}
	}
	return out
}

// -----------------------------------------------------------------------------
// Comparator
// -----------------------------------------------------------------------------

// DefaultMinConfidence is the confidence below which an out-of-tolerance
// change is reported as Inconclusive.
const DefaultMinConfidence ConfidenceLevel = 0.1

// ComparatorOption configures a Comparator.
type ComparatorOption func(*Comparator)

// WithMinConfidence sets the minimum usable confidence.
func WithMinConfidence(c ConfidenceLevel) ComparatorOption {
	return func(cmp *Comparator) { cmp.minConfidence = c }
}

// WithComparatorClock sets the time source for ComparedAt.
func WithComparatorClock(now func() time.Time) ComparatorOption {
	return func(cmp *Comparator) {
		if now != nil {
			cmp.now = now
		}
	}
}

// WithDirection overrides which metrics improve upward.
// Default: metrics.HigherIsBetter on the metric name.
func WithDirection(higherIsBetter func(metricType string) bool) ComparatorOption {
	return func(cmp *Comparator) {
		if higherIsBetter != nil {
			cmp.higherIsBetter = higherIsBetter
		}
	}
}

// Comparator compares current values to baselines.
//
// Thread Safety: Safe for concurrent use; never mutates a Baseline.
type Comparator struct {
	minConfidence  ConfidenceLevel
	now            func() time.Time
	higherIsBetter func(string) bool
}

// NewComparator creates a comparator.
func NewComparator(opts ...ComparatorOption) *Comparator {
	c := &Comparator{
		minConfidence: DefaultMinConfidence,
		now:           time.Now,
		higherIsBetter: func(metricType string) bool {
			name, _ := metrics.SplitFlatKey(metricType)
			return metrics.HigherIsBetter(name)
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compare compares current values against the baseline.
//
// Description:
//
//	Each baseline metric also present in current is classified:
//	  - within tolerance (inclusive)            -> NoSignificantChange
//	  - outside, confidence < min confidence    -> Inconclusive
//	  - outside, unfavorable direction          -> Regression
//	  - outside, favorable direction            -> Improvement
//	The overall outcome is the worst per-metric outcome; the overall
//	confidence is the lowest confidence among metrics sharing that
//	outcome. With no metric in common the result is Inconclusive with
//	confidence 0. Metrics appear in baseline order.
//
// Inputs:
//   - b: The baseline. Must not be nil.
//   - current: Current values keyed by metric type. Lookup falls back to
//     a case-insensitive match. Non-finite values count as missing.
//
// Outputs:
//   - ComparisonResult: The comparison.
func (c *Comparator) Compare(b *Baseline, current map[string]float64) ComparisonResult {
	res := ComparisonResult{
		BaselineID: b.ID(),
		Metrics:    make([]ComparisonMetric, 0, len(b.metrics)),
		ComparedAt: c.now().UTC(),
	}

	for _, bm := range b.metrics {
		cur, ok := lookup(current, bm.Type)
		if !ok || math.IsNaN(cur) || math.IsInf(cur, 0) {
			res.MissingMetrics = append(res.MissingMetrics, bm.Type)
			continue
		}
		tol, _ := b.tolerances.For(bm.Type)
		res.Metrics = append(res.Metrics, c.compareOne(bm, cur, tol))
	}
	sort.Strings(res.MissingMetrics)

	if len(res.Metrics) == 0 {
		res.Outcome = Inconclusive
		res.Confidence = 0
		return res
	}

	worst := res.Metrics[0].Outcome
	conf := res.Metrics[0].Confidence
	for _, m := range res.Metrics[1:] {
		switch {
		case m.Outcome.WorseThan(worst):
			worst, conf = m.Outcome, m.Confidence
		case m.Outcome == worst && m.Confidence < conf:
			conf = m.Confidence
		}
	}
	res.Outcome = worst
	res.Confidence = conf
	return res
}

// CompareSet compares a metric set, flattened with metrics.FlatKey.
func (c *Comparator) CompareSet(b *Baseline, set metrics.Set) ComparisonResult {
	return c.Compare(b, set.Flatten())
}

func (c *Comparator) compareOne(bm Metric, current float64, tol Tolerance) ComparisonMetric {
	cm := ComparisonMetric{
		MetricName:    bm.Type,
		BaselineValue: bm.Value,
		CurrentValue:  current,
		Tolerance:     toleranceDTO(tol),
		Confidence:    tol.Confidence(bm.Value, current),
	}
	if bm.Value != 0 {
		pct := (current - bm.Value) / math.Abs(bm.Value) * 100
		cm.ChangePercent = &pct
	}

	switch {
	case tol.IsWithinTolerance(bm.Value, current):
		cm.Outcome = NoSignificantChange
	case cm.Confidence < c.minConfidence.Float():
		cm.Outcome = Inconclusive
	case c.favorable(bm.Type, bm.Value, current):
		cm.Outcome = Improvement
	default:
		cm.Outcome = Regression
	}
	return cm
}

func (c *Comparator) favorable(metricType string, baseline, current float64) bool {
	if c.higherIsBetter(metricType) {
		return current > baseline
	}
	return current < baseline
}

func lookup(current map[string]float64, key string) (float64, bool) {
	if v, ok := current[key]; ok {
		return v, true
	}
	match := ""
	for k := range current {
		if strings.EqualFold(k, key) && (match == "" || k < match) {
			match = k
		}
	}
	if match == "" {
		return 0, false
	}
	return current[match], true
}
