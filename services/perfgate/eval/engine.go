// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package eval turns metrics, rules and profiles into one EvaluationResult.
//
// The pipeline is:
//
//	validate ─► resolve ─► evaluate rules ─► completeness ─► fingerprint ─► outcome
//
// Configuration errors (invalid or conflicting profiles, bad scopes) are
// returned as errors before any rule runs. Everything after that always
// yields a result.
package eval

import (
	"fmt"
	"time"

	"github.com/AleutianAI/perfgate/services/perfgate/metrics"
	"github.com/AleutianAI/perfgate/services/perfgate/outcome"
	"github.com/AleutianAI/perfgate/services/perfgate/profile"
	"github.com/AleutianAI/perfgate/services/perfgate/rules"
	"github.com/AleutianAI/perfgate/services/perfgate/scope"
)

// Request is everything one evaluation needs.
type Request struct {
	ExecutionID string
	ProfileID   string

	// Profiles are all known profiles; the engine picks the applicable ones.
	Profiles []profile.Profile

	// Scopes are the scopes of the current execution context.
	Scopes []scope.Scope

	Metrics metrics.Set
	Rules   []rules.Rule

	// Policy overrides the engine's default partial-metric policy.
	Policy rules.PartialMetricPolicy
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineClock sets the time source for EvaluatedAt and ResolvedAt.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithDefaultPolicy sets the policy used when a request carries none.
func WithDefaultPolicy(p rules.PartialMetricPolicy) EngineOption {
	return func(e *Engine) {
		if p != nil {
			e.policy = p
		}
	}
}

// Engine runs evaluations.
//
// Thread Safety: Safe for concurrent use; holds only immutable state.
type Engine struct {
	now    func() time.Time
	policy rules.PartialMetricPolicy
}

// NewEngine creates an engine. The default policy is rules.DenyPartial().
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{now: time.Now, policy: rules.DenyPartial()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs the full pipeline.
//
// Description:
//
//	Profiles are validated (all errors reported) and resolved for the
//	requested scopes. Rules are bound to the resolved configuration and
//	evaluated against the metrics. If completeness is below
//	SufficientRatio the outcome is INCONCLUSIVE regardless of violations;
//	otherwise it is the most severe per-rule outcome.
//
// Outputs:
//   - *EvaluationResult: Non-nil when err is nil.
//   - error: profile.ValidationErrors, *profile.ConflictError or a scope
//     error. Never returned for missing data or bad rules.
func (e *Engine) Evaluate(req Request) (*EvaluationResult, error) {
	if err := profile.ValidateAll(req.Profiles); err != nil {
		return nil, fmt.Errorf("invalid profiles: %w", err)
	}
	resolved, err := profile.NewResolver(profile.WithClock(e.now)).Resolve(req.Profiles, req.Scopes)
	if err != nil {
		return nil, fmt.Errorf("resolve profiles: %w", err)
	}

	policy := req.Policy
	if policy == nil {
		policy = e.policy
	}
	evaluator := rules.NewEvaluator(rules.WithPolicy(policy), rules.WithConfiguration(resolved))
	results := evaluator.EvaluateMultiple(req.Metrics, req.Rules)

	completeness := NewCompletenessReport(req.Rules, req.Metrics, results)

	violations := make([]rules.Violation, 0)
	outcomes := make([]outcome.Outcome, 0, len(results))
	meta := ExecutionMetadata{
		ExecutionID: req.ExecutionID,
		ProfileID:   req.ProfileID,
		EvaluatedAt: e.now().UTC(),
		Policy:      policy.String(),
	}
	for _, r := range results {
		if r.Evaluated() {
			meta.RulesEvaluated++
		} else {
			meta.RulesSkipped++
		}
		violations = append(violations, r.Violations...)
		outcomes = append(outcomes, r.Outcome)
	}
	rules.SortViolations(violations)

	decision := outcome.Aggregate(outcomes...)
	if !completeness.IsSufficientForEvaluation() {
		decision = outcome.Inconclusive
	}

	return &EvaluationResult{
		Outcome:       decision,
		Violations:    violations,
		Completeness:  completeness,
		Metadata:      meta,
		Fingerprint:   Fingerprint(UsedSamples(req.Metrics, results)),
		Configuration: resolved,
	}, nil
}
