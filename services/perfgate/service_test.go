// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package perfgate

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/perfgate/services/perfgate/baseline"
	"github.com/AleutianAI/perfgate/services/perfgate/eval"
	"github.com/AleutianAI/perfgate/services/perfgate/metrics"
	"github.com/AleutianAI/perfgate/services/perfgate/outcome"
	"github.com/AleutianAI/perfgate/services/perfgate/profile"
	"github.com/AleutianAI/perfgate/services/perfgate/rules"
	"github.com/AleutianAI/perfgate/services/perfgate/scope"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func p95Metric(name string, v float64) metrics.Metric {
	return metrics.Metric{
		Name:         name,
		Unit:         "ms",
		Aggregations: map[string]float64{"p95": v},
	}
}

// testSources builds a global profile allowing 200ms, an api:checkout
// profile allowing 300ms, one bound threshold rule and four executions.
func testSources(t *testing.T) (*profile.MemorySource, *metrics.MemorySource, *rules.MemorySource) {
	t.Helper()

	profiles, err := profile.NewMemorySource(
		profile.MustNew("default", scope.NewGlobal(), map[profile.ConfigKey]profile.ConfigValue{
			"latency.p95.max": profile.Int(200),
		}),
		profile.MustNew("api-checkout", scope.MustAPI("checkout"), map[profile.ConfigKey]profile.ConfigValue{
			"latency.p95.max": profile.Int(300),
		}),
	)
	require.NoError(t, err)

	ruleSource, err := rules.NewMemorySource(rules.Threshold{
		Meta:        rules.Meta{ID: "p95-latency", Name: "P95 latency", Severity: rules.Critical},
		Metric:      "response_time",
		Aggregation: "p95",
		Operator:    rules.LessThan,
		Value:       1000,
		ParamKey:    "latency.p95.max",
	})
	require.NoError(t, err)

	metricSource := metrics.NewMemorySource()
	require.NoError(t, metricSource.Put("exec-fast", metrics.Set{p95Metric("response_time", 150)}))
	require.NoError(t, metricSource.Put("exec-slow", metrics.Set{p95Metric("response_time", 250)}))
	require.NoError(t, metricSource.Put("exec-regressed", metrics.Set{p95Metric("response_time", 400)}))
	require.NoError(t, metricSource.Put("exec-empty", metrics.Set{}))

	return profiles, metricSource, ruleSource
}

func newTestService(t *testing.T, opts ...ServiceOption) *Service {
	t.Helper()
	profiles, metricSource, ruleSource := testSources(t)

	base := []ServiceOption{
		WithStore(baseline.NewMemoryStore()),
		WithClock(clock),
		WithEngine(eval.NewEngine(eval.WithEngineClock(clock))),
		WithComparator(baseline.NewComparator(baseline.WithComparatorClock(clock))),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	svc, err := NewService(profiles, metricSource, ruleSource, append(base, opts...)...)
	require.NoError(t, err)
	return svc
}

func TestNewService_NilDependencies(t *testing.T) {
	profiles, metricSource, ruleSource := testSources(t)

	tests := []struct {
		name string
		p    profile.Source
		m    metrics.Source
		r    rules.Source
	}{
		{"profiles", nil, metricSource, ruleSource},
		{"metrics", profiles, nil, ruleSource},
		{"rules", profiles, metricSource, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewService(tt.p, tt.m, tt.r)
			assert.ErrorIs(t, err, ErrNilDependency)
		})
	}
}

func TestService_Evaluate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		in     EvaluateInput
		want   outcome.Outcome
		viols  int
		config int64
	}{
		{"global threshold fails", EvaluateInput{ExecutionID: "exec-slow"}, outcome.Fail, 1, 200},
		{"api scope relaxes threshold", EvaluateInput{ExecutionID: "exec-slow", Scopes: []string{"api:checkout"}}, outcome.Pass, 0, 300},
		{"profile id adds its scope", EvaluateInput{ExecutionID: "exec-slow", ProfileID: "api-checkout"}, outcome.Pass, 0, 300},
		{"fast passes globally", EvaluateInput{ExecutionID: "exec-fast"}, outcome.Pass, 0, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.Evaluate(ctx, tt.in)
			require.NoError(t, err)

			assert.Equal(t, tt.want, res.Outcome)
			assert.Len(t, res.Violations, tt.viols)
			assert.Equal(t, tt.in.ExecutionID, res.Metadata.ExecutionID)
			assert.Equal(t, fixedNow, res.Metadata.EvaluatedAt)
			assert.NotEmpty(t, res.Fingerprint)

			v, ok := res.Configuration.Get("latency.p95.max")
			require.True(t, ok)
			got, _ := v.AsInt()
			assert.Equal(t, tt.config, got)
		})
	}
}

func TestService_Evaluate_Deterministic(t *testing.T) {
	svc := newTestService(t)
	in := EvaluateInput{ExecutionID: "exec-slow", Scopes: []string{"api:checkout"}}

	first, err := svc.Evaluate(context.Background(), in)
	require.NoError(t, err)
	second, err := svc.Evaluate(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, first.Outcome, second.Outcome)
	assert.Equal(t, first.Violations, second.Violations)
}

func TestService_Evaluate_Errors(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		in      EvaluateInput
		wantErr error
	}{
		{"missing execution id", EvaluateInput{}, ErrInvalidInput},
		{"unsafe execution id", EvaluateInput{ExecutionID: `run") |> drop()`}, ErrInvalidInput},
		{"path traversal id", EvaluateInput{ExecutionID: "../exec-fast"}, ErrInvalidInput},
		{"unknown execution", EvaluateInput{ExecutionID: "nope"}, metrics.ErrExecutionNotFound},
		{"unknown profile", EvaluateInput{ExecutionID: "exec-fast", ProfileID: "ghost"}, profile.ErrProfileNotFound},
		{"malformed scope", EvaluateInput{ExecutionID: "exec-fast", Scopes: []string{"region:eu"}}, ErrInvalidInput},
		{"nested composite", EvaluateInput{ExecutionID: "exec-fast", Scopes: []string{"api:a+env:b+tag:c"}}, scope.ErrMalformedScope},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.Evaluate(ctx, tt.in)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestService_Evaluate_Conflict(t *testing.T) {
	_, metricSource, ruleSource := testSources(t)
	profiles, err := profile.NewMemorySource(
		profile.MustNew("a", scope.NewGlobal(), map[profile.ConfigKey]profile.ConfigValue{"latency.p95.max": profile.Int(200)}),
		profile.MustNew("b", scope.NewGlobal(), map[profile.ConfigKey]profile.ConfigValue{"latency.p95.max": profile.Int(250)}),
	)
	require.NoError(t, err)

	svc, err := NewService(profiles, metricSource, ruleSource)
	require.NoError(t, err)

	_, err = svc.Evaluate(context.Background(), EvaluateInput{ExecutionID: "exec-fast"})
	assert.ErrorIs(t, err, profile.ErrConfigurationConflict)

	_, err = svc.Resolve(context.Background(), nil)
	assert.ErrorIs(t, err, profile.ErrConfigurationConflict)
}

func TestService_Evaluate_MissingDataIsInconclusive(t *testing.T) {
	svc := newTestService(t)

	res, err := svc.Evaluate(context.Background(), EvaluateInput{ExecutionID: "exec-empty"})
	require.NoError(t, err)

	assert.Equal(t, outcome.Inconclusive, res.Outcome)
	assert.Equal(t, 0.0, res.Completeness.Ratio)
	assert.Equal(t, []string{"response_time"}, res.Completeness.MissingMetrics)
}

func TestService_EvaluateBatch(t *testing.T) {
	svc := newTestService(t, WithBatchConcurrency(2))

	inputs := []EvaluateInput{
		{ExecutionID: "exec-fast"},
		{ExecutionID: "nope"},
		{ExecutionID: "exec-slow"},
		{ExecutionID: "exec-slow", Scopes: []string{"api:checkout"}},
	}
	results, err := svc.EvaluateBatch(context.Background(), inputs)
	require.NoError(t, err)
	require.Len(t, results, len(inputs))

	for i, r := range results {
		assert.Equal(t, inputs[i].ExecutionID, r.ExecutionID)
	}
	assert.Equal(t, outcome.Pass, results[0].Result.Outcome)
	assert.ErrorIs(t, results[1].Err, metrics.ErrExecutionNotFound)
	assert.Nil(t, results[1].Result)
	assert.Equal(t, outcome.Fail, results[2].Result.Outcome)
	assert.Equal(t, outcome.Pass, results[3].Result.Outcome)
}

func TestService_EvaluateBatch_Limits(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.EvaluateBatch(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.EvaluateBatch(context.Background(), make([]EvaluateInput, MaxBatchSize+1))
	assert.ErrorIs(t, err, ErrBatchTooLarge)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.EvaluateBatch(ctx, []EvaluateInput{{ExecutionID: "exec-fast"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestService_Resolve(t *testing.T) {
	svc := newTestService(t)

	cfg, err := svc.Resolve(context.Background(), []string{"api:checkout"})
	require.NoError(t, err)

	v, ok := cfg.Get("latency.p95.max")
	require.True(t, ok)
	assert.Equal(t, "300", v.String())

	winner, ok := cfg.Winner("latency.p95.max")
	require.True(t, ok)
	assert.Equal(t, "api:checkout", winner.ID())
	assert.Len(t, cfg.AuditTrail("latency.p95.max"), 2)
	assert.Equal(t, fixedNow, cfg.ResolvedAt())

	_, err = svc.Resolve(context.Background(), []string{""})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestService_ListProfiles(t *testing.T) {
	ids, err := newTestService(t).ListProfiles(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"default", "api-checkout"}, ids)
}

// -----------------------------------------------------------------------------
// Baselines
// -----------------------------------------------------------------------------

func createBaseline(t *testing.T, svc *Service, in CreateBaselineInput) *baseline.Baseline {
	t.Helper()
	b, err := svc.CreateBaseline(context.Background(), in)
	require.NoError(t, err)
	return b
}

func TestService_CreateBaseline(t *testing.T) {
	svc := newTestService(t)

	b := createBaseline(t, svc, CreateBaselineInput{
		ExecutionID:   "exec-fast",
		Description:   "release 1.4",
		ToleranceType: baseline.Relative,
		Amount:        10,
	})

	assert.Equal(t, "exec-fast", b.ExecutionID())
	assert.Equal(t, "release 1.4", b.Description())
	assert.Equal(t, fixedNow, b.CreatedAt())
	m, ok := b.Metric("response_time.p95")
	require.True(t, ok)
	assert.Equal(t, 150.0, m.Value)

	stored, err := svc.GetBaseline(context.Background(), b.ID())
	require.NoError(t, err)
	assert.True(t, b.Equal(stored))

	list, err := svc.ListBaselines(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, b.ID(), list[0].ID())
}

func TestService_CreateBaseline_Overrides(t *testing.T) {
	svc := newTestService(t)

	override, err := baseline.NewTolerance("response_time.p95", baseline.Absolute, 500)
	require.NoError(t, err)
	b := createBaseline(t, svc, CreateBaselineInput{
		ExecutionID:   "exec-fast",
		ToleranceType: baseline.Relative,
		Amount:        10,
		Overrides:     []baseline.Tolerance{override},
	})

	tol, ok := b.Tolerances().For("response_time.p95")
	require.True(t, ok)
	assert.Equal(t, baseline.Absolute, tol.Type)
	assert.Equal(t, 500.0, tol.Amount)

	res, err := svc.CompareToBaseline(context.Background(), b.ID(), "exec-regressed")
	require.NoError(t, err)
	assert.Equal(t, baseline.NoSignificantChange, res.Outcome)
}

func TestService_CreateBaseline_Errors(t *testing.T) {
	svc := newTestService(t)
	unknown, err := baseline.NewTolerance("throughput.mean", baseline.Absolute, 1)
	require.NoError(t, err)

	tests := []struct {
		name    string
		in      CreateBaselineInput
		wantErr error
	}{
		{"missing execution", CreateBaselineInput{ToleranceType: baseline.Relative, Amount: 5}, ErrInvalidInput},
		{"unknown execution", CreateBaselineInput{ExecutionID: "nope", Amount: 5}, metrics.ErrExecutionNotFound},
		{"no metrics", CreateBaselineInput{ExecutionID: "exec-empty", Amount: 5}, ErrInvalidInput},
		{"negative tolerance", CreateBaselineInput{ExecutionID: "exec-fast", Amount: -1}, baseline.ErrInvalidTolerance},
		{"unknown override", CreateBaselineInput{ExecutionID: "exec-fast", Amount: 5, Overrides: []baseline.Tolerance{unknown}}, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateBaseline(context.Background(), tt.in)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestService_NoStore(t *testing.T) {
	profiles, metricSource, ruleSource := testSources(t)
	svc, err := NewService(profiles, metricSource, ruleSource)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = svc.CreateBaseline(ctx, CreateBaselineInput{ExecutionID: "exec-fast"})
	assert.ErrorIs(t, err, ErrNoBaselineStore)
	_, err = svc.GetBaseline(ctx, "x")
	assert.ErrorIs(t, err, ErrNoBaselineStore)
	_, err = svc.ListBaselines(ctx, 5)
	assert.ErrorIs(t, err, ErrNoBaselineStore)
	_, err = svc.CompareToBaseline(ctx, "x", "exec-fast")
	assert.ErrorIs(t, err, ErrNoBaselineStore)
}

func TestService_CompareToBaseline(t *testing.T) {
	svc := newTestService(t)
	b := createBaseline(t, svc, CreateBaselineInput{
		ExecutionID:   "exec-fast",
		ToleranceType: baseline.Relative,
		Amount:        10,
	})

	tests := []struct {
		name      string
		execution string
		want      baseline.ComparisonOutcome
	}{
		{"same execution", "exec-fast", baseline.NoSignificantChange},
		{"slower execution", "exec-regressed", baseline.Regression},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.CompareToBaseline(context.Background(), b.ID(), tt.execution)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Outcome)
			assert.Equal(t, b.ID(), res.BaselineID)
			assert.Equal(t, fixedNow, res.ComparedAt)
		})
	}

	_, err := svc.CompareToBaseline(context.Background(), "missing", "exec-fast")
	assert.ErrorIs(t, err, baseline.ErrBaselineNotFound)

	_, err = svc.CompareToBaseline(context.Background(), b.ID(), "nope")
	assert.ErrorIs(t, err, metrics.ErrExecutionNotFound)

	_, err = svc.CompareToBaseline(context.Background(), b.ID(), "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestService_GetBaseline_Concurrent(t *testing.T) {
	svc := newTestService(t)
	b := createBaseline(t, svc, CreateBaselineInput{ExecutionID: "exec-fast", Amount: 5})

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := svc.GetBaseline(context.Background(), b.ID())
			if err == nil && got.ID() != b.ID() {
				err = assert.AnError
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}

	_, err := svc.GetBaseline(context.Background(), " ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

// gatedStore holds GetByID until release is closed and records whether the
// context it was handed had ended by then.
type gatedStore struct {
	*baseline.MemoryStore
	entered chan struct{}
	release chan struct{}

	mu      sync.Mutex
	calls   int
	ctxErrs []error
}

func (g *gatedStore) GetByID(ctx context.Context, id string) (*baseline.Baseline, error) {
	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	g.mu.Unlock()
	if first {
		close(g.entered)
	}
	<-g.release

	g.mu.Lock()
	g.ctxErrs = append(g.ctxErrs, ctx.Err())
	g.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, &baseline.RepositoryError{Op: "get", Err: err}
	}
	return g.MemoryStore.GetByID(ctx, id)
}

func TestService_GetBaseline_CancelledCallerDoesNotFailOthers(t *testing.T) {
	store := &gatedStore{
		MemoryStore: baseline.NewMemoryStore(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	svc := newTestService(t, WithStore(store))
	b := createBaseline(t, svc, CreateBaselineInput{ExecutionID: "exec-fast", Amount: 5})

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.GetBaseline(ctx, b.ID())
		firstErr <- err
	}()
	<-store.entered

	type result struct {
		b   *baseline.Baseline
		err error
	}
	second := make(chan result, 1)
	go func() {
		got, err := svc.GetBaseline(context.Background(), b.ID())
		second <- result{got, err}
	}()

	cancel()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled caller kept waiting on the shared read")
	}

	close(store.release)
	select {
	case res := <-second:
		require.NoError(t, res.err)
		assert.Equal(t, b.ID(), res.b.ID())
	case <-time.After(5 * time.Second):
		t.Fatal("second caller never returned")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	for _, err := range store.ctxErrs {
		assert.NoError(t, err)
	}
}
