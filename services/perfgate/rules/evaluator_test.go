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
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/perfgate/services/perfgate/metrics"
	"github.com/AleutianAI/perfgate/services/perfgate/outcome"
	"github.com/AleutianAI/perfgate/services/perfgate/profile"
	"github.com/AleutianAI/perfgate/services/perfgate/scope"
)

func latency(p95 float64) metrics.Metric {
	return metrics.Metric{
		Name:         "response_time",
		Unit:         "ms",
		Aggregations: map[string]float64{"p95": p95, "p50": p95 / 2},
		SampleCount:  100,
	}
}

func p95Rule(sev Severity) Threshold {
	return Threshold{
		Meta:        Meta{ID: "p95-latency", Name: "P95 latency", Severity: sev},
		Metric:      "response_time",
		Aggregation: "P95",
		Operator:    LessThan,
		Value:       200,
	}
}

func TestEvaluate_ThresholdViolatedCritical(t *testing.T) {
	res := NewEvaluator().Evaluate(latency(250), p95Rule(Critical))

	assert.Equal(t, StatusViolated, res.Status)
	assert.Equal(t, outcome.Fail, res.Outcome)
	require.Len(t, res.Violations, 1)

	v := res.Violations[0]
	assert.Equal(t, "p95-latency", v.RuleID)
	assert.Equal(t, "response_time", v.Metric)
	assert.Equal(t, "< 200", v.Expected)
	require.NotNil(t, v.Actual)
	assert.Equal(t, 250.0, *v.Actual)
	assert.Equal(t, Critical, v.Severity)
	assert.Equal(t, "response_time P95 = 250 ms, expected < 200", v.Message)
	assert.Equal(t, []string{"response_time"}, res.UsedMetrics)
}

func TestEvaluate_ThresholdSatisfied(t *testing.T) {
	res := NewEvaluator().Evaluate(latency(150), p95Rule(Critical))
	assert.Equal(t, StatusPassed, res.Status)
	assert.Equal(t, outcome.Pass, res.Outcome)
	assert.Empty(t, res.Violations)
}

func TestEvaluate_NonCriticalWarns(t *testing.T) {
	res := NewEvaluator().Evaluate(latency(250), p95Rule(NonCritical))
	assert.Equal(t, outcome.Warn, res.Outcome)
}

func TestOperators(t *testing.T) {
	tests := []struct {
		op     Operator
		actual float64
		want   bool
	}{
		{LessThan, 199, true},
		{LessThan, 200, false},
		{LessOrEqual, 200, true},
		{GreaterThan, 200, false},
		{GreaterThan, 201, true},
		{GreaterOrEqual, 200, true},
		{Equal, 200, true},
		{Equal, 200.5, false},
	}
	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.op.Satisfied(tt.actual, 200))
		})
	}
}

func TestEvaluate_Range(t *testing.T) {
	r := Range{
		Meta:        Meta{ID: "err-band", Severity: Critical},
		Metric:      "response_time",
		Aggregation: "p50",
		Min:         10,
		Max:         50,
	}
	e := NewEvaluator()

	assert.Equal(t, StatusPassed, e.Evaluate(latency(100), r).Status) // p50 = 50, inclusive
	res := e.Evaluate(latency(120), r)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, "[10, 50]", res.Violations[0].Expected)
}

func TestEvaluate_MissingAggregation(t *testing.T) {
	r := p95Rule(NonCritical)
	r.Aggregation = "p99"

	t.Run("deny partial reports violation", func(t *testing.T) {
		res := NewEvaluator().Evaluate(latency(100), r)
		assert.Equal(t, StatusViolated, res.Status)
		assert.Equal(t, outcome.Fail, res.Outcome)
		require.Len(t, res.Violations, 1)
		assert.Nil(t, res.Violations[0].Actual)
		assert.Contains(t, res.Violations[0].Message, "aggregation not found")
		assert.Equal(t, NonCritical, res.Violations[0].Severity)
		assert.Equal(t, []string{"response_time"}, res.MissingMetrics)
	})

	t.Run("allow partial skips", func(t *testing.T) {
		res := NewEvaluator(WithPolicy(AllowPartial())).Evaluate(latency(100), r)
		assert.Equal(t, StatusSkipped, res.Status)
		assert.False(t, res.Evaluated())
		assert.Empty(t, res.Violations)
		assert.Empty(t, res.UsedMetrics)
	})
}

func TestEvaluate_MissingMetric(t *testing.T) {
	res := NewEvaluator().Evaluate(metrics.Metric{}, p95Rule(Critical))
	require.Len(t, res.Violations, 1)
	assert.Contains(t, res.Violations[0].Message, "metric not found")
}

func TestPolicies(t *testing.T) {
	allow := AllowPartial("strict")
	assert.True(t, allow.AllowsPartial("any"))
	assert.False(t, allow.AllowsPartial("strict"))

	deny := DenyPartial("lenient")
	assert.False(t, deny.AllowsPartial("any"))
	assert.True(t, deny.AllowsPartial("lenient"))

	assert.Equal(t, "deny-partial except [lenient]", deny.String())
}

func TestEvaluate_MalformedRuleBecomesSystemViolation(t *testing.T) {
	bad := p95Rule(Critical)
	bad.Metric = ""

	res := NewEvaluator().Evaluate(latency(100), bad)
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, outcome.Fail, res.Outcome)
	require.Len(t, res.Violations, 1)
	assert.True(t, res.Violations[0].IsSystem())
	assert.Equal(t, "p95-latency", res.Violations[0].RuleName)
	assert.Equal(t, Critical, res.Violations[0].Severity)
}

func TestEvaluateMultiple_ContainsPanicsAndErrors(t *testing.T) {
	panicky := Custom{
		Meta:    Meta{ID: "boom"},
		Metrics: []string{"response_time"},
		Check:   func([]metrics.Metric) (CheckResult, error) { panic("kaboom") },
	}
	failing := Custom{
		Meta:    Meta{ID: "err"},
		Metrics: []string{"response_time"},
		Check:   func([]metrics.Metric) (CheckResult, error) { return CheckResult{}, errors.New("backend down") },
	}
	rules := []Rule{panicky, p95Rule(Critical), failing, nil}

	results := NewEvaluator().EvaluateMultiple(metrics.Set{latency(100)}, rules)
	require.Len(t, results, 4)

	assert.Equal(t, StatusError, results[0].Status)
	assert.Contains(t, results[0].Violations[0].Message, "kaboom")
	assert.Equal(t, StatusPassed, results[1].Status)
	assert.Equal(t, StatusError, results[2].Status)
	assert.Contains(t, results[2].Violations[0].Message, "backend down")
	assert.Equal(t, StatusError, results[3].Status)
}

func TestEvaluate_Deterministic(t *testing.T) {
	e := NewEvaluator()
	first := e.Evaluate(latency(250), p95Rule(Critical))
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, e.Evaluate(latency(250), p95Rule(Critical)))
	}
}

func TestEvaluate_NaNNeverPasses(t *testing.T) {
	r := p95Rule(Critical)
	r.Operator = GreaterOrEqual
	r.Value = 0
	res := NewEvaluator().Evaluate(latency(math.NaN()), r)
	require.Len(t, res.Violations, 1)
	assert.Nil(t, res.Violations[0].Actual)
}

func TestEvaluate_Custom(t *testing.T) {
	r := Custom{
		Meta:    Meta{ID: "complete", Severity: NonCritical},
		Metrics: []string{"response_time", "throughput"},
		Check:   StatusComplete,
	}
	set := metrics.Set{
		latency(100),
		{Name: "throughput", Status: metrics.StatusPartial, Aggregations: map[string]float64{"mean": 1}},
	}

	res := NewEvaluator().EvaluateMultiple(set, []Rule{r})[0]
	assert.Equal(t, outcome.Warn, res.Outcome)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, "throughput", res.Violations[0].Metric)
	assert.Equal(t, []string{"response_time", "throughput"}, res.UsedMetrics)

	res = NewEvaluator().EvaluateMultiple(set[:1], []Rule{r})[0]
	assert.Equal(t, []string{"throughput"}, res.MissingMetrics)
}

func TestBind(t *testing.T) {
	cfg, err := profile.NewResolver().Resolve([]profile.Profile{
		profile.MustNew("", scope.NewGlobal(), map[profile.ConfigKey]profile.ConfigValue{
			"latency.p95": profile.Duration(300 * time.Millisecond),
			"band.min":    profile.Int(5),
			"band.max":    profile.Double(7.5),
			"label":       profile.String("fast"),
		}),
	}, nil)
	require.NoError(t, err)

	t.Run("threshold from duration in ms", func(t *testing.T) {
		r := p95Rule(Critical)
		r.ParamKey = "latency.p95"
		bound, err := Bind(r, cfg)
		require.NoError(t, err)
		assert.Equal(t, 300.0, bound.(Threshold).Value)

		res := NewEvaluator(WithConfiguration(cfg)).Evaluate(latency(250), r)
		assert.Equal(t, StatusPassed, res.Status)
	})

	t.Run("range bounds", func(t *testing.T) {
		r := Range{Meta: Meta{ID: "r"}, Metric: "m", Aggregation: "a", Min: 0, Max: 1, ParamKey: "band"}
		bound, err := Bind(r, cfg)
		require.NoError(t, err)
		assert.Equal(t, 5.0, bound.(Range).Min)
		assert.Equal(t, 7.5, bound.(Range).Max)
	})

	t.Run("absent key keeps value", func(t *testing.T) {
		r := p95Rule(Critical)
		r.ParamKey = "nope"
		bound, err := Bind(r, cfg)
		require.NoError(t, err)
		assert.Equal(t, 200.0, bound.(Threshold).Value)
	})

	t.Run("non-numeric is a system violation", func(t *testing.T) {
		r := p95Rule(Critical)
		r.ParamKey = "label"
		_, err := Bind(r, cfg)
		assert.ErrorIs(t, err, ErrMalformedRule)
		assert.ErrorIs(t, err, profile.ErrNotNumeric)

		res := NewEvaluator(WithConfiguration(cfg)).Evaluate(latency(100), r)
		assert.Equal(t, StatusError, res.Status)
		assert.True(t, res.Violations[0].IsSystem())
	})
}

func TestSortViolations(t *testing.T) {
	vs := []Violation{
		{RuleID: "b"},
		{RuleID: SystemRuleID, RuleName: "z"},
		{RuleID: "a", Metric: "y"},
		{RuleID: "a", Metric: "x"},
	}
	SortViolations(vs)
	assert.Equal(t, []string{"__system__", "a", "a", "b"},
		[]string{vs[0].RuleID, vs[1].RuleID, vs[2].RuleID, vs[3].RuleID})
	assert.Equal(t, "x", vs[1].Metric)
}
