// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rules compares aggregated metrics against expectations.
//
// A Rule is a closed sum type: Threshold, Range or Custom. Evaluation is a
// pure function of (metric, rule, resolved configuration) and never panics
// or returns an error to the caller; malformed rules and failing checks are
// reported as system violations.
package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/AleutianAI/perfgate/services/perfgate/metrics"
	"github.com/AleutianAI/perfgate/services/perfgate/profile"
)

var (
	// ErrMalformedRule is returned when a rule's fields are inconsistent.
	ErrMalformedRule = errors.New("malformed rule")

	// ErrUnknownOperator is returned for an unrecognized comparison operator.
	ErrUnknownOperator = errors.New("unknown operator")

	// ErrUnknownSeverity is returned for an unrecognized severity name.
	ErrUnknownSeverity = errors.New("unknown severity")
)

// -----------------------------------------------------------------------------
// Severity
// -----------------------------------------------------------------------------

// Severity classifies how much a violation matters.
type Severity int

const (
	// NonCritical violations downgrade the outcome to WARN.
	NonCritical Severity = iota

	// Critical violations fail the evaluation.
	Critical
)

// String returns the string representation.
func (s Severity) String() string {
	if s == Critical {
		return "critical"
	}
	return "non_critical"
}

// ParseSeverity parses a severity name.
func ParseSeverity(name string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "critical":
		return Critical, nil
	case "", "non_critical", "noncritical", "non-critical", "warning":
		return NonCritical, nil
	default:
		return NonCritical, fmt.Errorf("%w: %q", ErrUnknownSeverity, name)
	}
}

// MarshalJSON encodes the severity as its name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a severity name.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseSeverity(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// -----------------------------------------------------------------------------
// Operator
// -----------------------------------------------------------------------------

// Operator compares an actual value to a threshold.
type Operator int

const (
	// LessThan is satisfied when actual < threshold.
	LessThan Operator = iota + 1

	// LessOrEqual is satisfied when actual <= threshold.
	LessOrEqual

	// GreaterThan is satisfied when actual > threshold.
	GreaterThan

	// GreaterOrEqual is satisfied when actual >= threshold.
	GreaterOrEqual

	// Equal is satisfied when actual == threshold.
	Equal
)

// String returns the operator symbol.
func (o Operator) String() string {
	switch o {
	case LessThan:
		return "<"
	case LessOrEqual:
		return "<="
	case GreaterThan:
		return ">"
	case GreaterOrEqual:
		return ">="
	case Equal:
		return "=="
	default:
		return "?"
	}
}

// ParseOperator parses an operator symbol or its short name.
func ParseOperator(s string) (Operator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "<", "lt":
		return LessThan, nil
	case "<=", "le", "lte":
		return LessOrEqual, nil
	case ">", "gt":
		return GreaterThan, nil
	case ">=", "ge", "gte":
		return GreaterOrEqual, nil
	case "==", "=", "eq":
		return Equal, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownOperator, s)
	}
}

// Satisfied reports whether actual op threshold holds.
func (o Operator) Satisfied(actual, threshold float64) bool {
	switch o {
	case LessThan:
		return actual < threshold
	case LessOrEqual:
		return actual <= threshold
	case GreaterThan:
		return actual > threshold
	case GreaterOrEqual:
		return actual >= threshold
	case Equal:
		return actual == threshold
	default:
		return false
	}
}

// -----------------------------------------------------------------------------
// Rule
// -----------------------------------------------------------------------------

// Meta carries the identity shared by every rule variant.
type Meta struct {
	ID       string
	Name     string
	Severity Severity
}

// Rule is one of Threshold, Range or Custom.
type Rule interface {
	// Info returns the rule's identity.
	Info() Meta

	// RequiredMetrics returns the metric names the rule reads.
	RequiredMetrics() []string

	// Validate reports malformed configuration.
	Validate() error

	// Expected renders the constraint, e.g. "< 200" or "[10, 50]".
	Expected() string

	isRule()
}

// Threshold compares one aggregation of one metric to a fixed value.
type Threshold struct {
	Meta

	// Metric is the metric name, e.g. "response_time".
	Metric string

	// Aggregation is the aggregation name, matched case-insensitively.
	Aggregation string

	Operator Operator
	Value    float64

	// ParamKey, if set and present in the resolved configuration,
	// overrides Value.
	ParamKey profile.ConfigKey
}

// Range requires an aggregation to lie within [Min, Max].
type Range struct {
	Meta

	Metric      string
	Aggregation string
	Min         float64
	Max         float64

	// ParamKey, if set, binds Min and Max from "<key>.min" and "<key>.max".
	ParamKey profile.ConfigKey
}

// CheckResult is what a Custom check reports.
type CheckResult struct {
	Passed   bool
	Metric   string
	Actual   *float64
	Expected string
	Message  string
}

// CheckFunc implements a Custom rule. It receives the required metrics in
// the order the rule lists them; all are present.
type CheckFunc func(ms []metrics.Metric) (CheckResult, error)

// Custom delegates to a function.
type Custom struct {
	Meta

	Metrics     []string
	Description string
	Check       CheckFunc
}

func (r Threshold) Info() Meta { return r.Meta }
func (r Range) Info() Meta     { return r.Meta }
func (r Custom) Info() Meta    { return r.Meta }

func (r Threshold) RequiredMetrics() []string { return []string{r.Metric} }
func (r Range) RequiredMetrics() []string     { return []string{r.Metric} }
func (r Custom) RequiredMetrics() []string {
	out := make([]string, len(r.Metrics))
	copy(out, r.Metrics)
	return out
}

func (Threshold) isRule() {}
func (Range) isRule()     {}
func (Custom) isRule()    {}

// Expected implements Rule.
func (r Threshold) Expected() string {
	return r.Operator.String() + " " + formatFloat(r.Value)
}

// Expected implements Rule.
func (r Range) Expected() string {
	return "[" + formatFloat(r.Min) + ", " + formatFloat(r.Max) + "]"
}

// Expected implements Rule.
func (r Custom) Expected() string {
	if r.Description != "" {
		return r.Description
	}
	return "custom check"
}

func validateMeta(m Meta) error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrMalformedRule)
	}
	if m.Severity != Critical && m.Severity != NonCritical {
		return fmt.Errorf("%w: rule %s: severity %d", ErrMalformedRule, m.ID, int(m.Severity))
	}
	return nil
}

// Validate implements Rule.
func (r Threshold) Validate() error {
	if err := validateMeta(r.Meta); err != nil {
		return err
	}
	switch {
	case strings.TrimSpace(r.Metric) == "":
		return fmt.Errorf("%w: rule %s: empty metric", ErrMalformedRule, r.ID)
	case strings.TrimSpace(r.Aggregation) == "":
		return fmt.Errorf("%w: rule %s: empty aggregation", ErrMalformedRule, r.ID)
	case r.Operator < LessThan || r.Operator > Equal:
		return fmt.Errorf("%w: rule %s: %w", ErrMalformedRule, r.ID, ErrUnknownOperator)
	case math.IsNaN(r.Value) || math.IsInf(r.Value, 0):
		return fmt.Errorf("%w: rule %s: threshold must be finite", ErrMalformedRule, r.ID)
	}
	return nil
}

// Validate implements Rule.
func (r Range) Validate() error {
	if err := validateMeta(r.Meta); err != nil {
		return err
	}
	switch {
	case strings.TrimSpace(r.Metric) == "":
		return fmt.Errorf("%w: rule %s: empty metric", ErrMalformedRule, r.ID)
	case strings.TrimSpace(r.Aggregation) == "":
		return fmt.Errorf("%w: rule %s: empty aggregation", ErrMalformedRule, r.ID)
	case math.IsNaN(r.Min) || math.IsNaN(r.Max):
		return fmt.Errorf("%w: rule %s: bounds must be numbers", ErrMalformedRule, r.ID)
	case r.Min > r.Max:
		return fmt.Errorf("%w: rule %s: min %s > max %s", ErrMalformedRule, r.ID, formatFloat(r.Min), formatFloat(r.Max))
	}
	return nil
}

// Validate implements Rule.
func (r Custom) Validate() error {
	if err := validateMeta(r.Meta); err != nil {
		return err
	}
	if r.Check == nil {
		return fmt.Errorf("%w: rule %s: nil check", ErrMalformedRule, r.ID)
	}
	if len(r.Metrics) == 0 {
		return fmt.Errorf("%w: rule %s: no metrics", ErrMalformedRule, r.ID)
	}
	return nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
