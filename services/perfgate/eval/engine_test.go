// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package eval

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/perfgate/services/perfgate/metrics"
	"github.com/AleutianAI/perfgate/services/perfgate/outcome"
	"github.com/AleutianAI/perfgate/services/perfgate/profile"
	"github.com/AleutianAI/perfgate/services/perfgate/rules"
	"github.com/AleutianAI/perfgate/services/perfgate/scope"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testEngine() *Engine {
	return NewEngine(WithEngineClock(func() time.Time { return t0 }))
}

func threshold(id, metric string, op rules.Operator, value float64, sev rules.Severity) rules.Threshold {
	return rules.Threshold{
		Meta:        rules.Meta{ID: id, Name: id, Severity: sev},
		Metric:      metric,
		Aggregation: "p95",
		Operator:    op,
		Value:       value,
	}
}

func metric(name string, p95 float64, samples ...metrics.Sample) metrics.Metric {
	return metrics.Metric{
		Name:         name,
		Unit:         "ms",
		Aggregations: map[string]float64{"p95": p95},
		SampleCount:  len(samples),
		Samples:      samples,
	}
}

func sample(offset time.Duration, d time.Duration) metrics.Sample {
	return metrics.Sample{Timestamp: t0.Add(offset), Duration: d, Status: "200"}
}

func TestEngine_CriticalViolationFails(t *testing.T) {
	res, err := testEngine().Evaluate(Request{
		ProfileID: "default",
		Metrics:   metrics.Set{metric("response_time", 250)},
		Rules:     []rules.Rule{threshold("p95", "response_time", rules.LessThan, 200, rules.Critical)},
	})
	require.NoError(t, err)

	assert.Equal(t, outcome.Fail, res.Outcome)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, rules.Critical, res.Violations[0].Severity)
	assert.Equal(t, 1, res.Metadata.RulesEvaluated)
	assert.Equal(t, 0, res.Metadata.RulesSkipped)
	assert.Equal(t, "default", res.Metadata.ProfileID)
	assert.Equal(t, t0, res.Metadata.EvaluatedAt)
	assert.Equal(t, 1.0, res.Completeness.Ratio)
}

func TestEngine_Outcomes(t *testing.T) {
	tests := []struct {
		name string
		p95  float64
		sev  rules.Severity
		want outcome.Outcome
	}{
		{"pass", 100, rules.Critical, outcome.Pass},
		{"warn", 300, rules.NonCritical, outcome.Warn},
		{"fail", 300, rules.Critical, outcome.Fail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := testEngine().Evaluate(Request{
				Metrics: metrics.Set{metric("response_time", tt.p95)},
				Rules:   []rules.Rule{threshold("p95", "response_time", rules.LessThan, 200, tt.sev)},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Outcome)
		})
	}
}

func TestEngine_LowCompletenessIsInconclusive(t *testing.T) {
	var rs []rules.Rule
	var set metrics.Set
	for i := 0; i < 100; i++ {
		name := fmt.Sprintf("m%03d", i)
		rs = append(rs, threshold("r"+name, name, rules.LessThan, 200, rules.Critical))
		if i < 40 {
			set = append(set, metric(name, 500))
		}
	}

	for _, policy := range []rules.PartialMetricPolicy{rules.AllowPartial(), rules.DenyPartial()} {
		t.Run(policy.String(), func(t *testing.T) {
			res, err := testEngine().Evaluate(Request{Metrics: set, Rules: rs, Policy: policy})
			require.NoError(t, err)

			assert.Equal(t, 40, res.Completeness.MetricsProvided)
			assert.Equal(t, 100, res.Completeness.MetricsExpected)
			assert.InDelta(t, 0.40, res.Completeness.Ratio, 1e-12)
			assert.Len(t, res.Completeness.MissingMetrics, 60)
			assert.NotEmpty(t, res.Violations)
			assert.Equal(t, outcome.Inconclusive, res.Outcome)
		})
	}
}

func TestEngine_CompletenessBoundary(t *testing.T) {
	rs := []rules.Rule{
		threshold("a", "a", rules.LessThan, 200, rules.Critical),
		threshold("b", "b", rules.LessThan, 200, rules.Critical),
	}
	res, err := testEngine().Evaluate(Request{
		Metrics: metrics.Set{metric("a", 100)},
		Rules:   rs,
		Policy:  rules.AllowPartial(),
	})
	require.NoError(t, err)

	assert.Equal(t, 0.5, res.Completeness.Ratio)
	assert.True(t, res.Completeness.IsSufficientForEvaluation())
	assert.Equal(t, outcome.Pass, res.Outcome)
	assert.Equal(t, []string{"b"}, res.Completeness.UnevaluatedRules)
	assert.Equal(t, 1, res.Metadata.RulesSkipped)

	assert.False(t, CompletenessReport{Ratio: 0.4999}.IsSufficientForEvaluation())
}

func TestEngine_NoRulesIsComplete(t *testing.T) {
	res, err := testEngine().Evaluate(Request{})
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Completeness.Ratio)
	assert.Equal(t, outcome.Pass, res.Outcome)
	assert.NotNil(t, res.Violations)
}

func TestEngine_ViolationsSortedByRuleID(t *testing.T) {
	res, err := testEngine().Evaluate(Request{
		Metrics: metrics.Set{metric("response_time", 500)},
		Rules: []rules.Rule{
			threshold("zeta", "response_time", rules.LessThan, 200, rules.NonCritical),
			threshold("alpha", "response_time", rules.LessThan, 100, rules.NonCritical),
			threshold("mid", "response_time", rules.LessThan, 300, rules.NonCritical),
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Violations, 3)
	assert.Equal(t, "alpha", res.Violations[0].RuleID)
	assert.Equal(t, "mid", res.Violations[1].RuleID)
	assert.Equal(t, "zeta", res.Violations[2].RuleID)
}

func TestEngine_BindsResolvedConfiguration(t *testing.T) {
	payment := scope.MustAPI("payment")
	profiles := []profile.Profile{
		profile.MustNew("base", scope.NewGlobal(), map[profile.ConfigKey]profile.ConfigValue{
			"latency.p95": profile.Duration(200 * time.Millisecond),
		}),
		profile.MustNew("payment", payment, map[profile.ConfigKey]profile.ConfigValue{
			"latency.p95": profile.Duration(300 * time.Millisecond),
		}),
	}
	rule := threshold("p95", "response_time", rules.LessThan, 0, rules.Critical)
	rule.ParamKey = "latency.p95"

	req := Request{
		Profiles: profiles,
		Metrics:  metrics.Set{metric("response_time", 250)},
		Rules:    []rules.Rule{rule},
	}

	res, err := testEngine().Evaluate(req)
	require.NoError(t, err)
	assert.Equal(t, outcome.Fail, res.Outcome)

	req.Scopes = []scope.Scope{payment}
	res, err = testEngine().Evaluate(req)
	require.NoError(t, err)
	assert.Equal(t, outcome.Pass, res.Outcome)

	winner, ok := res.Configuration.Winner("latency.p95")
	require.True(t, ok)
	assert.Equal(t, "api:payment", winner.ID())
}

func TestEngine_ConfigurationErrorsFailFast(t *testing.T) {
	payment := scope.MustAPI("payment")
	conflicting := []profile.Profile{
		profile.MustNew("a", payment, map[profile.ConfigKey]profile.ConfigValue{"timeout": profile.Duration(30 * time.Second)}),
		profile.MustNew("b", payment, map[profile.ConfigKey]profile.ConfigValue{"timeout": profile.Duration(45 * time.Second)}),
	}
	_, err := testEngine().Evaluate(Request{Profiles: conflicting, Scopes: []scope.Scope{payment}})
	assert.ErrorIs(t, err, profile.ErrConfigurationConflict)

	invalid := []profile.Profile{
		profile.MustNew("c", scope.NewGlobal(), map[profile.ConfigKey]profile.ConfigValue{"a": profile.String("${a}")}),
	}
	_, err = testEngine().Evaluate(Request{Profiles: invalid})
	assert.ErrorIs(t, err, profile.ErrInvalidProfile)
	assert.ErrorIs(t, err, profile.ErrCircularReference)
}

func TestFingerprint(t *testing.T) {
	a := sample(0, 100*time.Millisecond)
	b := sample(time.Second, 120*time.Millisecond)
	c := sample(time.Second, 90*time.Millisecond)

	t.Run("order independent", func(t *testing.T) {
		assert.Equal(t, Fingerprint([]metrics.Sample{a, b, c}), Fingerprint([]metrics.Sample{c, a, b}))
	})

	t.Run("duration change changes hash", func(t *testing.T) {
		changed := c
		changed.Duration += time.Nanosecond
		assert.NotEqual(t, Fingerprint([]metrics.Sample{a, b, c}), Fingerprint([]metrics.Sample{a, b, changed}))
	})

	t.Run("empty hashes EMPTY", func(t *testing.T) {
		sum := sha256.Sum256([]byte("EMPTY"))
		assert.Equal(t, hex.EncodeToString(sum[:]), Fingerprint(nil))
	})

	t.Run("known serialization", func(t *testing.T) {
		input := fmt.Sprintf("%d|%d|200|", t0.UnixNano(), int64(100*time.Millisecond))
		sum := sha256.Sum256([]byte(input))
		assert.Equal(t, hex.EncodeToString(sum[:]), Fingerprint([]metrics.Sample{a}))
	})

	t.Run("lowercase hex", func(t *testing.T) {
		fp := Fingerprint([]metrics.Sample{a})
		assert.Len(t, fp, 64)
		assert.Regexp(t, "^[0-9a-f]+$", fp)
	})
}

func TestEngine_FingerprintReflectsUsedDataOnly(t *testing.T) {
	used := metric("response_time", 100, sample(0, 100*time.Millisecond))
	unused := metric("cpu", 10, sample(0, time.Second))
	rs := []rules.Rule{
		threshold("p95", "response_time", rules.LessThan, 200, rules.Critical),
		threshold("gone", "memory", rules.LessThan, 200, rules.Critical),
	}
	req := Request{Metrics: metrics.Set{used, unused}, Rules: rs, Policy: rules.AllowPartial()}

	first, err := testEngine().Evaluate(req)
	require.NoError(t, err)
	assert.Equal(t, Fingerprint(used.Samples), first.Fingerprint)

	unused.Samples[0].Duration = 2 * time.Second
	req.Metrics = metrics.Set{unused, used}
	second, err := testEngine().Evaluate(req)
	require.NoError(t, err)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)

	changed := metric("response_time", 100, sample(0, 101*time.Millisecond))
	req.Metrics = metrics.Set{changed, unused}
	third, err := testEngine().Evaluate(req)
	require.NoError(t, err)
	assert.NotEqual(t, first.Fingerprint, third.Fingerprint)
}
