// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rules

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/AleutianAI/perfgate/services/perfgate/metrics"
	"github.com/AleutianAI/perfgate/services/perfgate/outcome"
	"github.com/AleutianAI/perfgate/services/perfgate/profile"
)

// Status is what happened to one rule.
type Status int

const (
	// StatusPassed means the rule ran and was satisfied.
	StatusPassed Status = iota

	// StatusViolated means the rule ran and was not satisfied, or its
	// metric was missing and the policy does not allow partial data.
	StatusViolated

	// StatusSkipped means the metric was missing and the policy allows it.
	StatusSkipped

	// StatusError means the rule could not be evaluated at all.
	StatusError
)

// String returns the string representation.
func (s Status) String() string {
	switch s {
	case StatusPassed:
		return "passed"
	case StatusViolated:
		return "violated"
	case StatusSkipped:
		return "skipped"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Result is the evaluation of one rule.
type Result struct {
	RuleID     string
	Status     Status
	Outcome    outcome.Outcome
	Violations []Violation

	// MissingMetrics lists required metric names absent from the input.
	MissingMetrics []string

	// UsedMetrics lists the metrics whose values the rule actually read.
	UsedMetrics []string
}

// Evaluated reports whether the rule counts as evaluated (not skipped).
func (r Result) Evaluated() bool { return r.Status != StatusSkipped }

var errNilRule = errors.New("nil rule")

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithPolicy sets the partial-metric policy. Default: DenyPartial().
func WithPolicy(p PartialMetricPolicy) EvaluatorOption {
	return func(e *Evaluator) {
		if p != nil {
			e.policy = p
		}
	}
}

// WithConfiguration sets the resolved configuration rule parameters bind to.
func WithConfiguration(cfg profile.ResolvedConfiguration) EvaluatorOption {
	return func(e *Evaluator) {
		e.config = cfg
	}
}

// Evaluator applies rules to metrics.
//
// Thread Safety: Safe for concurrent use; holds only immutable state.
type Evaluator struct {
	policy PartialMetricPolicy
	config profile.ResolvedConfiguration
}

// NewEvaluator creates an evaluator.
//
// Outputs:
//   - *Evaluator: Never nil.
func NewEvaluator(opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{policy: DenyPartial()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the partial-metric policy in effect.
func (e *Evaluator) Policy() PartialMetricPolicy { return e.policy }

// Evaluate applies one rule to one metric.
//
// Description:
//
//	A zero Metric (empty name) stands for "metric not provided". For a
//	Custom rule reading several metrics, only m is visible; use
//	EvaluateMultiple to give it the full set.
//
// Outputs:
//   - Result: Always returned. Malformed rules, check errors and panics
//     become a StatusError result carrying one system violation.
func (e *Evaluator) Evaluate(m metrics.Metric, r Rule) Result {
	var set metrics.Set
	if m.Name != "" {
		set = metrics.Set{m}
	}
	return e.evaluate(set, r)
}

// EvaluateMultiple applies every rule to the metric set.
//
// Outputs:
//   - []Result: One per rule, in rules order. A bad rule never prevents
//     the others from running.
func (e *Evaluator) EvaluateMultiple(set metrics.Set, rules []Rule) []Result {
	results := make([]Result, 0, len(rules))
	for _, r := range rules {
		results = append(results, e.evaluate(set, r))
	}
	return results
}

func (e *Evaluator) evaluate(set metrics.Set, r Rule) (res Result) {
	id := ""
	if r != nil {
		id = r.Info().ID
	}
	defer func() {
		if p := recover(); p != nil {
			res = systemResult(id, fmt.Errorf("panic during evaluation: %v", p))
		}
	}()

	if r == nil {
		return systemResult(id, errNilRule)
	}
	bound, err := Bind(r, e.config)
	if err != nil {
		return systemResult(id, err)
	}
	if err := bound.Validate(); err != nil {
		return systemResult(id, err)
	}

	switch v := bound.(type) {
	case Threshold:
		return e.evalBounded(set, v, v.Metric, v.Aggregation, func(actual float64) bool {
			return v.Operator.Satisfied(actual, v.Value)
		})
	case Range:
		return e.evalBounded(set, v, v.Metric, v.Aggregation, func(actual float64) bool {
			return actual >= v.Min && actual <= v.Max
		})
	case Custom:
		return e.evalCustom(set, v)
	default:
		return systemResult(id, fmt.Errorf("%w: unsupported rule type %T", ErrMalformedRule, r))
	}
}

func (e *Evaluator) evalBounded(set metrics.Set, r Rule, metricName, agg string, satisfied func(float64) bool) Result {
	meta := r.Info()

	m, ok := set.Find(metricName)
	if !ok {
		return e.missing(r, metricName, []string{metricName},
			fmt.Sprintf("metric not found: %s", metricName))
	}
	actual, ok := m.Aggregation(agg)
	if !ok {
		return e.missing(r, m.Name, []string{m.Name},
			fmt.Sprintf("aggregation not found: %s of %s", agg, m.Name))
	}

	res := Result{RuleID: meta.ID, UsedMetrics: []string{m.Name}}
	if satisfied(actual) && !math.IsNaN(actual) {
		res.Status = StatusPassed
		res.Outcome = outcome.Pass
		return res
	}

	v := Violation{
		RuleID:   meta.ID,
		RuleName: meta.Name,
		Metric:   m.Name,
		Expected: r.Expected(),
		Severity: meta.Severity,
	}
	if math.IsNaN(actual) || math.IsInf(actual, 0) {
		v.Message = fmt.Sprintf("%s %s is not a finite number, expected %s", m.Name, agg, v.Expected)
	} else {
		v.Actual = floatPtr(actual)
		v.Message = fmt.Sprintf("%s %s = %s%s, expected %s", m.Name, agg, formatFloat(actual), unitSuffix(m.Unit), v.Expected)
	}
	res.Status = StatusViolated
	res.Outcome = severityOutcome(meta.Severity)
	res.Violations = []Violation{v}
	return res
}

func (e *Evaluator) evalCustom(set metrics.Set, r Custom) Result {
	ms := make([]metrics.Metric, 0, len(r.Metrics))
	var missing []string
	for _, name := range r.Metrics {
		m, ok := set.Find(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		ms = append(ms, m)
	}
	if len(missing) > 0 {
		return e.missing(r, missing[0], missing,
			fmt.Sprintf("metric not found: %s", strings.Join(missing, ", ")))
	}

	cr, err := r.Check(ms)
	if err != nil {
		return systemResult(r.ID, fmt.Errorf("check failed: %w", err))
	}

	used := make([]string, 0, len(ms))
	for _, m := range ms {
		used = append(used, m.Name)
	}
	res := Result{RuleID: r.ID, UsedMetrics: used}
	if cr.Passed {
		res.Status = StatusPassed
		res.Outcome = outcome.Pass
		return res
	}

	v := Violation{
		RuleID:   r.ID,
		RuleName: r.Name,
		Metric:   cr.Metric,
		Expected: cr.Expected,
		Severity: r.Severity,
		Message:  cr.Message,
	}
	if v.Metric == "" {
		v.Metric = ms[0].Name
	}
	if v.Expected == "" {
		v.Expected = r.Expected()
	}
	if cr.Actual != nil && !math.IsNaN(*cr.Actual) && !math.IsInf(*cr.Actual, 0) {
		v.Actual = floatPtr(*cr.Actual)
	}
	if v.Message == "" {
		v.Message = fmt.Sprintf("%s failed", r.Expected())
	}
	res.Status = StatusViolated
	res.Outcome = severityOutcome(r.Severity)
	res.Violations = []Violation{v}
	return res
}

// missing applies the partial-metric policy to a rule whose data is absent.
func (e *Evaluator) missing(r Rule, metricName string, missingNames []string, message string) Result {
	meta := r.Info()
	res := Result{RuleID: meta.ID, MissingMetrics: missingNames}
	if e.policy.AllowsPartial(meta.ID) {
		res.Status = StatusSkipped
		res.Outcome = outcome.Pass
		return res
	}
	res.Status = StatusViolated
	res.Outcome = outcome.Fail
	res.Violations = []Violation{{
		RuleID:   meta.ID,
		RuleName: meta.Name,
		Metric:   metricName,
		Expected: r.Expected(),
		Severity: meta.Severity,
		Message:  message,
	}}
	return res
}

func systemResult(ruleID string, err error) Result {
	return Result{
		RuleID:  ruleID,
		Status:  StatusError,
		Outcome: outcome.Fail,
		Violations: []Violation{{
			RuleID:   SystemRuleID,
			RuleName: ruleID,
			Expected: "evaluable rule",
			Severity: Critical,
			Message:  err.Error(),
		}},
	}
}

func severityOutcome(s Severity) outcome.Outcome {
	if s == Critical {
		return outcome.Fail
	}
	return outcome.Warn
}

func unitSuffix(unit string) string {
	if unit == "" {
		return ""
	}
	return " " + unit
}
