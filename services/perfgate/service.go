// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package perfgate decides whether a performance-test execution passes.
//
// The Service ties the building blocks together: profiles are resolved for
// the execution's scopes, rules are bound to the resolved configuration
// and evaluated against the execution's metrics, and executions can be
// snapshotted as baselines and compared against later runs.
//
// Handlers expose the Service over HTTP; cmd/perfgate exposes it as a CLI.
package perfgate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/perfgate/pkg/validation"
	"github.com/AleutianAI/perfgate/services/perfgate/baseline"
	"github.com/AleutianAI/perfgate/services/perfgate/eval"
	"github.com/AleutianAI/perfgate/services/perfgate/metrics"
	"github.com/AleutianAI/perfgate/services/perfgate/profile"
	"github.com/AleutianAI/perfgate/services/perfgate/rules"
	"github.com/AleutianAI/perfgate/services/perfgate/scope"
	"github.com/AleutianAI/perfgate/services/perfgate/telemetry"
)

var tracer = otel.Tracer("perfgate")

const (
	// MaxBatchSize bounds EvaluateBatch.
	MaxBatchSize = 100

	// DefaultBatchConcurrency is the number of evaluations a batch runs at once.
	DefaultBatchConcurrency = 4

	// DefaultListLimit is used by ListBaselines when n is not positive.
	DefaultListLimit = 20
)

// -----------------------------------------------------------------------------
// Options
// -----------------------------------------------------------------------------

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithStore enables baseline operations.
func WithStore(store baseline.Store) ServiceOption {
	return func(s *Service) { s.store = store }
}

// WithRegistry sets the scope registry used to parse scope text.
func WithRegistry(r *scope.Registry) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.registry = r
		}
	}
}

// WithEngine sets the evaluation engine.
func WithEngine(e *eval.Engine) ServiceOption {
	return func(s *Service) {
		if e != nil {
			s.engine = e
		}
	}
}

// WithComparator sets the baseline comparator.
func WithComparator(c *baseline.Comparator) ServiceOption {
	return func(s *Service) {
		if c != nil {
			s.comparator = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the time source for baseline creation and gate decisions.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithBatchConcurrency sets how many batch evaluations run at once.
func WithBatchConcurrency(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.batchConcurrency = n
		}
	}
}

// WithGate sets the regression gate policy.
func WithGate(cfg GateConfig) ServiceOption {
	return func(s *Service) { s.gate = cfg }
}

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

// Service evaluates executions and manages baselines.
//
// Description:
//
//	Service holds no per-request state. Profiles, rules and metrics are
//	read from their sources on every call, so a reloaded profile directory
//	takes effect on the next evaluation.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	profiles   profile.Source
	metrics    metrics.Source
	rules      rules.Source
	store      baseline.Store
	registry   *scope.Registry
	engine     *eval.Engine
	comparator *baseline.Comparator
	logger     *slog.Logger
	now        func() time.Time
	gate       GateConfig

	batchConcurrency int

	// baselineGroup collapses concurrent reads of the same baseline id.
	baselineGroup singleflight.Group
}

// NewService creates a Service.
//
// Inputs:
//   - profiles: Profile source. Must not be nil.
//   - metricSource: Metric source. Must not be nil.
//   - ruleSource: Rule source. Must not be nil.
//   - opts: Optional configuration.
//
// Outputs:
//   - *Service: The service.
//   - error: ErrNilDependency if a source is nil.
func NewService(profiles profile.Source, metricSource metrics.Source, ruleSource rules.Source, opts ...ServiceOption) (*Service, error) {
	if profiles == nil {
		return nil, fmt.Errorf("%w: profile source", ErrNilDependency)
	}
	if metricSource == nil {
		return nil, fmt.Errorf("%w: metric source", ErrNilDependency)
	}
	if ruleSource == nil {
		return nil, fmt.Errorf("%w: rule source", ErrNilDependency)
	}

	s := &Service{
		profiles:         profiles,
		metrics:          metricSource,
		rules:            ruleSource,
		registry:         scope.NewRegistry(),
		engine:           eval.NewEngine(),
		comparator:       baseline.NewComparator(),
		logger:           slog.Default(),
		now:              time.Now,
		gate:             DefaultGateConfig(),
		batchConcurrency: DefaultBatchConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Registry returns the scope registry.
func (s *Service) Registry() *scope.Registry { return s.registry }

// -----------------------------------------------------------------------------
// Evaluation
// -----------------------------------------------------------------------------

// EvaluateInput identifies one evaluation.
type EvaluateInput struct {
	ExecutionID string

	// ProfileID names the execution's profile. When set, the profile must
	// exist and its scope is added to Scopes.
	ProfileID string

	// Scopes are scope texts such as "api:checkout" or "env:prod+tag:canary".
	Scopes []string

	// Policy overrides the engine's partial-metric policy.
	Policy rules.PartialMetricPolicy
}

// Evaluate runs one evaluation.
//
// Description:
//
//	Scopes are parsed with the service registry, every profile is handed
//	to the engine, and the execution's metrics are evaluated against the
//	current rule set. A finished evaluation is recorded in the Prometheus
//	collectors whatever its outcome.
//
// Inputs:
//   - ctx: Context for cancellation and tracing.
//   - in: The evaluation request.
//
// Outputs:
//   - *eval.EvaluationResult: Non-nil when err is nil.
//   - error: ErrInvalidInput for a missing execution id or bad scope text,
//     profile.ErrProfileNotFound, metrics.ErrExecutionNotFound, or a
//     configuration error from the engine.
func (s *Service) Evaluate(ctx context.Context, in EvaluateInput) (*eval.EvaluationResult, error) {
	ctx, span := tracer.Start(ctx, "perfgate.Service.Evaluate",
		trace.WithAttributes(
			attribute.String("execution_id", in.ExecutionID),
			attribute.String("profile_id", in.ProfileID),
			attribute.StringSlice("scopes", in.Scopes),
		),
	)
	defer span.End()
	logger := telemetry.LoggerWithTrace(ctx, s.logger).With(
		slog.String("execution_id", in.ExecutionID),
	)

	result, err := s.evaluate(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("evaluation failed", slog.String("error", err.Error()))
		return nil, err
	}

	span.SetAttributes(
		attribute.String("outcome", result.Outcome.String()),
		attribute.Int("violations", len(result.Violations)),
		attribute.Float64("completeness", result.Completeness.Ratio),
	)
	logger.Info("evaluation finished",
		slog.String("outcome", result.Outcome.String()),
		slog.Int("violations", len(result.Violations)),
		slog.Float64("completeness", result.Completeness.Ratio),
		slog.String("fingerprint", result.Fingerprint),
	)
	return result, nil
}

func (s *Service) evaluate(ctx context.Context, in EvaluateInput) (*eval.EvaluationResult, error) {
	start := time.Now()
	if err := checkID("execution", in.ExecutionID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scopes, err := s.registry.ParseAll(in.Scopes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if in.ProfileID != "" {
		p, err := s.profiles.Get(ctx, in.ProfileID)
		if err != nil {
			return nil, fmt.Errorf("load profile %s: %w", in.ProfileID, err)
		}
		if !scope.Contains(scopes, p.Scope()) {
			scopes = append(scopes, p.Scope())
		}
	}

	all, err := s.profiles.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	set, err := s.metrics.Metrics(ctx, in.ExecutionID)
	if err != nil {
		return nil, fmt.Errorf("load metrics: %w", err)
	}
	ruleSet, err := s.rules.Rules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	result, err := s.engine.Evaluate(eval.Request{
		ExecutionID: in.ExecutionID,
		ProfileID:   in.ProfileID,
		Profiles:    all,
		Scopes:      scopes,
		Metrics:     set,
		Rules:       ruleSet,
		Policy:      in.Policy,
	})
	if err != nil {
		return nil, err
	}

	telemetry.RecordEvaluation(
		result.Outcome.String(),
		time.Since(start),
		result.Completeness.Ratio,
		violationsBySeverity(result.Violations),
	)
	return result, nil
}

func violationsBySeverity(vs []rules.Violation) map[string]int {
	out := make(map[string]int)
	for _, v := range vs {
		if v.IsSystem() {
			out["system"]++
			continue
		}
		out[v.Severity.String()]++
	}
	return out
}

// BatchResult is the outcome of one batch entry. Exactly one of Result and
// Err is set.
type BatchResult struct {
	ExecutionID string
	Result      *eval.EvaluationResult
	Err         error
}

// EvaluateBatch runs several evaluations concurrently.
//
// Description:
//
//	A failing entry does not stop the batch: its error is reported in
//	its BatchResult. Results are returned in input order. Only
//	cancellation of ctx aborts the batch.
//
// Outputs:
//   - []BatchResult: One entry per input, in input order.
//   - error: ErrInvalidInput for an empty batch, ErrBatchTooLarge, or the
//     context error.
func (s *Service) EvaluateBatch(ctx context.Context, inputs []EvaluateInput) ([]BatchResult, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrInvalidInput)
	}
	if len(inputs) > MaxBatchSize {
		return nil, fmt.Errorf("%w: %d entries, max %d", ErrBatchTooLarge, len(inputs), MaxBatchSize)
	}

	ctx, span := tracer.Start(ctx, "perfgate.Service.EvaluateBatch",
		trace.WithAttributes(attribute.Int("batch_size", len(inputs))),
	)
	defer span.End()

	results := make([]BatchResult, len(inputs))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchConcurrency)

	for i, in := range inputs {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			res, err := s.Evaluate(gCtx, in)
			results[i] = BatchResult{ExecutionID: in.ExecutionID, Result: res, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return results, nil
}

// Resolve resolves every profile for the given scope texts without
// evaluating rules.
//
// Outputs:
//   - profile.ResolvedConfiguration: The merged configuration.
//   - error: ErrInvalidInput for bad scope text, or a profile validation
//     or conflict error.
func (s *Service) Resolve(ctx context.Context, scopeTexts []string) (profile.ResolvedConfiguration, error) {
	ctx, span := tracer.Start(ctx, "perfgate.Service.Resolve",
		trace.WithAttributes(attribute.StringSlice("scopes", scopeTexts)),
	)
	defer span.End()

	scopes, err := s.registry.ParseAll(scopeTexts)
	if err != nil {
		return profile.ResolvedConfiguration{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	all, err := s.profiles.All(ctx)
	if err != nil {
		return profile.ResolvedConfiguration{}, fmt.Errorf("load profiles: %w", err)
	}
	if err := profile.ValidateAll(all); err != nil {
		return profile.ResolvedConfiguration{}, fmt.Errorf("invalid profiles: %w", err)
	}
	resolved, err := profile.NewResolver(profile.WithClock(s.now)).Resolve(all, scopes)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return profile.ResolvedConfiguration{}, fmt.Errorf("resolve profiles: %w", err)
	}
	return resolved, nil
}

// ListProfiles returns the ids of every known profile.
func (s *Service) ListProfiles(ctx context.Context) ([]string, error) {
	return s.profiles.List(ctx)
}

// -----------------------------------------------------------------------------
// Baselines
// -----------------------------------------------------------------------------

// CreateBaselineInput describes a baseline to capture.
type CreateBaselineInput struct {
	ExecutionID string
	Description string

	// ToleranceType and Amount apply to every captured metric.
	ToleranceType baseline.ToleranceType
	Amount        float64

	// Overrides replace the default tolerance for specific metric keys.
	// Every override must name a captured metric.
	Overrides []baseline.Tolerance
}

// CreateBaseline snapshots an execution's metrics as a new baseline.
//
// Outputs:
//   - *baseline.Baseline: The stored baseline.
//   - error: ErrNoBaselineStore, ErrInvalidInput, metrics.ErrExecutionNotFound,
//     baseline.ErrInvalidTolerance, or a store error.
func (s *Service) CreateBaseline(ctx context.Context, in CreateBaselineInput) (*baseline.Baseline, error) {
	if s.store == nil {
		return nil, ErrNoBaselineStore
	}
	ctx, span := tracer.Start(ctx, "perfgate.Service.CreateBaseline",
		trace.WithAttributes(attribute.String("execution_id", in.ExecutionID)),
	)
	defer span.End()

	b, err := s.buildBaseline(ctx, in)
	if err == nil {
		_, err = s.store.Create(ctx, b)
		telemetry.RecordStoreOp("create", storeStatus(err))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("baseline_id", b.ID()))
	telemetry.LoggerWithTrace(ctx, s.logger).Info("baseline created",
		slog.String("baseline_id", b.ID()),
		slog.String("execution_id", in.ExecutionID),
		slog.Int("metrics", len(b.Metrics())),
	)
	return b, nil
}

func (s *Service) buildBaseline(ctx context.Context, in CreateBaselineInput) (*baseline.Baseline, error) {
	if err := checkID("execution", in.ExecutionID); err != nil {
		return nil, err
	}
	set, err := s.metrics.Metrics(ctx, in.ExecutionID)
	if err != nil {
		return nil, fmt.Errorf("load metrics: %w", err)
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("%w: execution %s has no metrics", ErrInvalidInput, in.ExecutionID)
	}

	opts := []baseline.Option{
		baseline.WithExecutionID(in.ExecutionID),
		baseline.WithDescription(in.Description),
		baseline.WithCreatedAt(s.now()),
	}
	b, err := baseline.FromMetrics(set, in.ToleranceType, in.Amount, opts...)
	if err != nil || len(in.Overrides) == 0 {
		return b, err
	}

	overrides := make(map[string]baseline.Tolerance, len(in.Overrides))
	for _, o := range in.Overrides {
		if _, ok := b.Metric(o.MetricName); !ok {
			return nil, fmt.Errorf("%w: tolerance override for unknown metric %s", ErrInvalidInput, o.MetricName)
		}
		overrides[o.MetricName] = o
	}
	tolerances := b.Tolerances().All()
	for i, t := range tolerances {
		if o, ok := overrides[t.MetricName]; ok {
			tolerances[i] = o
		}
	}
	cfg, err := baseline.NewToleranceConfiguration(tolerances...)
	if err != nil {
		return nil, err
	}
	return baseline.New(b.Metrics(), cfg, append(opts, baseline.WithID(b.ID()))...)
}

// sharedReadTimeout bounds a store read shared by several callers. The read
// is detached from any one caller's cancellation.
const sharedReadTimeout = 30 * time.Second

// GetBaseline returns a stored baseline. Concurrent reads of the same id
// share one store call.
//
// A caller whose ctx ends stops waiting and gets ctx.Err(); the shared read
// keeps running for the other callers.
func (s *Service) GetBaseline(ctx context.Context, id string) (*baseline.Baseline, error) {
	if s.store == nil {
		return nil, ErrNoBaselineStore
	}
	if err := checkID("baseline", id); err != nil {
		return nil, err
	}

	ch := s.baselineGroup.DoChan(id, func() (any, error) {
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedReadTimeout)
		defer cancel()
		b, err := s.store.GetByID(readCtx, id)
		telemetry.RecordStoreOp("get", storeStatus(err))
		return b, err
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*baseline.Baseline), nil
	}
}

// ListBaselines returns up to n of the newest baselines. A non-positive n
// means DefaultListLimit.
func (s *Service) ListBaselines(ctx context.Context, n int) ([]*baseline.Baseline, error) {
	if s.store == nil {
		return nil, ErrNoBaselineStore
	}
	if n <= 0 {
		n = DefaultListLimit
	}
	list, err := s.store.ListRecent(ctx, n)
	telemetry.RecordStoreOp("list", storeStatus(err))
	return list, err
}

// CompareToBaseline compares an execution's current metrics to a stored
// baseline.
//
// Outputs:
//   - *baseline.ComparisonResult: The comparison.
//   - error: ErrNoBaselineStore, baseline.ErrBaselineNotFound,
//     metrics.ErrExecutionNotFound, or a store error.
func (s *Service) CompareToBaseline(ctx context.Context, baselineID, executionID string) (*baseline.ComparisonResult, error) {
	ctx, span := tracer.Start(ctx, "perfgate.Service.CompareToBaseline",
		trace.WithAttributes(
			attribute.String("baseline_id", baselineID),
			attribute.String("execution_id", executionID),
		),
	)
	defer span.End()

	result, err := s.compare(ctx, baselineID, executionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("outcome", result.Outcome.String()),
		attribute.Float64("confidence", result.Confidence),
	)
	return result, nil
}

func (s *Service) compare(ctx context.Context, baselineID, executionID string) (*baseline.ComparisonResult, error) {
	if err := checkID("execution", executionID); err != nil {
		return nil, err
	}
	b, err := s.GetBaseline(ctx, baselineID)
	if err != nil {
		return nil, err
	}
	set, err := s.metrics.Metrics(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("load metrics: %w", err)
	}

	result := s.comparator.CompareSet(b, set)
	telemetry.RecordComparison(result.Outcome.String())
	telemetry.LoggerWithTrace(ctx, s.logger).Info("baseline comparison finished",
		slog.String("baseline_id", baselineID),
		slog.String("execution_id", executionID),
		slog.String("outcome", result.Outcome.String()),
		slog.Int("regressions", len(result.Regressions())),
	)
	return &result, nil
}

// checkID rejects empty ids and ids that are unsafe in storage keys or
// Flux queries.
func checkID(kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: %s id is required", ErrInvalidInput, kind)
	}
	if err := validation.ValidateIdentifier(id); err != nil {
		return fmt.Errorf("%w: %s id: %w", ErrInvalidInput, kind, err)
	}
	return nil
}

func storeStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, baseline.ErrBaselineNotFound):
		return "not_found"
	default:
		return "error"
	}
}
