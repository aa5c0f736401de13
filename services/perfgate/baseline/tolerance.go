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
	"fmt"
	"math"
	"sort"
	"strings"
)

// ToleranceType selects how a tolerance amount is interpreted.
type ToleranceType int

const (
	// Absolute tolerances are in the metric's own unit.
	Absolute ToleranceType = iota

	// Relative tolerances are a percentage of the baseline value.
	Relative
)

// String returns the string representation.
func (t ToleranceType) String() string {
	if t == Relative {
		return "relative"
	}
	return "absolute"
}

// ParseToleranceType parses "absolute" or "relative".
func ParseToleranceType(s string) (ToleranceType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "absolute":
		return Absolute, nil
	case "relative":
		return Relative, nil
	default:
		return Absolute, fmt.Errorf("%w: tolerance type %q", ErrInvalidTolerance, s)
	}
}

// Tolerance is the acceptable deviation for one metric.
type Tolerance struct {
	MetricName string
	Type       ToleranceType
	Amount     float64
}

// NewTolerance validates and returns a tolerance.
//
// Outputs:
//   - Tolerance: The tolerance.
//   - error: ErrInvalidTolerance if the name is empty, amount is negative or
//     not finite, or a Relative amount exceeds 100.
func NewTolerance(metricName string, typ ToleranceType, amount float64) (Tolerance, error) {
	t := Tolerance{MetricName: strings.TrimSpace(metricName), Type: typ, Amount: amount}
	if err := t.Validate(); err != nil {
		return Tolerance{}, err
	}
	return t, nil
}

// Validate checks the tolerance invariants.
func (t Tolerance) Validate() error {
	switch {
	case t.MetricName == "":
		return fmt.Errorf("%w: empty metric name", ErrInvalidTolerance)
	case t.Type != Absolute && t.Type != Relative:
		return fmt.Errorf("%w: %s: unknown type %d", ErrInvalidTolerance, t.MetricName, int(t.Type))
	case math.IsNaN(t.Amount) || math.IsInf(t.Amount, 0):
		return fmt.Errorf("%w: %s: amount must be finite", ErrInvalidTolerance, t.MetricName)
	case t.Amount < 0:
		return fmt.Errorf("%w: %s: amount %g < 0", ErrInvalidTolerance, t.MetricName, t.Amount)
	case t.Type == Relative && t.Amount > 100:
		return fmt.Errorf("%w: %s: relative amount %g > 100", ErrInvalidTolerance, t.MetricName, t.Amount)
	}
	return nil
}

// String renders the tolerance as "±5%" or "±10".
func (t Tolerance) String() string {
	if t.Type == Relative {
		return fmt.Sprintf("±%g%%", t.Amount)
	}
	return fmt.Sprintf("±%g", t.Amount)
}

// EffectiveAmount is the tolerance in the metric's unit for a baseline value.
func (t Tolerance) EffectiveAmount(baseline float64) float64 {
	if t.Type == Relative {
		return math.Abs(baseline) * t.Amount / 100
	}
	return t.Amount
}

// IsWithinTolerance reports whether current deviates from baseline by no
// more than the tolerance. The boundary is inclusive.
//
// A Relative tolerance of a zero baseline is undefined as a percentage, so
// only a zero current value is within it.
func (t Tolerance) IsWithinTolerance(baseline, current float64) bool {
	if t.Type == Relative && baseline == 0 {
		return current == 0
	}
	return math.Abs(current-baseline) <= t.EffectiveAmount(baseline)
}

// Confidence measures how far current lies beyond the tolerance boundary.
//
// Description:
//
//	confidence = clamp01((|diff| - amount) / amount)
//
//	It is 0 at the boundary and reaches 1 at twice the tolerance. A zero
//	tolerance amount yields 1 for any change and 0 for none. A Relative
//	tolerance on a zero baseline yields 1 if current is zero and 0
//	otherwise. The result is always in [0, 1], including for NaN inputs
//	(which yield 0).
func (t Tolerance) Confidence(baseline, current float64) float64 {
	if t.Type == Relative && baseline == 0 {
		if current == 0 {
			return 1
		}
		return 0
	}
	diff := math.Abs(current - baseline)
	amount := t.EffectiveAmount(baseline)
	if amount == 0 {
		if diff != 0 {
			return 1
		}
		return 0
	}
	return clamp01((diff - amount) / amount)
}

func clamp01(f float64) float64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

// ToleranceConfiguration holds one tolerance per metric name.
type ToleranceConfiguration struct {
	tolerances []Tolerance
}

// NewToleranceConfiguration validates tolerances and rejects duplicates.
// Tolerances are kept sorted by metric name.
func NewToleranceConfiguration(tolerances ...Tolerance) (ToleranceConfiguration, error) {
	seen := make(map[string]bool, len(tolerances))
	out := make([]Tolerance, 0, len(tolerances))
	for _, t := range tolerances {
		if err := t.Validate(); err != nil {
			return ToleranceConfiguration{}, err
		}
		if seen[t.MetricName] {
			return ToleranceConfiguration{}, fmt.Errorf("%w: duplicate tolerance for %s", ErrInvalidTolerance, t.MetricName)
		}
		seen[t.MetricName] = true
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MetricName < out[j].MetricName })
	return ToleranceConfiguration{tolerances: out}, nil
}

// For returns the tolerance for a metric name.
func (c ToleranceConfiguration) For(metricName string) (Tolerance, bool) {
	for _, t := range c.tolerances {
		if t.MetricName == metricName {
			return t, true
		}
	}
	return Tolerance{}, false
}

// All returns a copy of the tolerances, sorted by metric name.
func (c ToleranceConfiguration) All() []Tolerance {
	out := make([]Tolerance, len(c.tolerances))
	copy(out, c.tolerances)
	return out
}

// Len returns the number of tolerances.
func (c ToleranceConfiguration) Len() int { return len(c.tolerances) }

// -----------------------------------------------------------------------------
// ConfidenceLevel
// -----------------------------------------------------------------------------

// ConfidenceLevel is a value in [0, 1].
type ConfidenceLevel float64

// NewConfidenceLevel validates the range.
func NewConfidenceLevel(v float64) (ConfidenceLevel, error) {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return 0, fmt.Errorf("%w: %g not in [0, 1]", ErrInvalidConfidence, v)
	}
	return ConfidenceLevel(v), nil
}

// Float returns the level as a float64.
func (c ConfidenceLevel) Float() float64 { return float64(c) }
