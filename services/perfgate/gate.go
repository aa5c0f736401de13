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
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/perfgate/services/perfgate/baseline"
	"github.com/AleutianAI/perfgate/services/perfgate/telemetry"
)

// GateConfig decides when a baseline comparison blocks a deployment.
type GateConfig struct {
	// AllowedRegressions is how many regressed metrics still pass.
	AllowedRegressions int `yaml:"allowed_regressions" validate:"gte=0"`

	// FailOnInconclusive fails the gate when any metric is Inconclusive.
	FailOnInconclusive bool `yaml:"fail_on_inconclusive"`

	// RequireBaseline fails the gate when the baseline does not exist.
	// Otherwise a missing baseline passes as a first run.
	RequireBaseline bool `yaml:"require_baseline"`
}

// DefaultGateConfig returns a gate that tolerates no regressions, lets
// inconclusive metrics through and requires the baseline to exist.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		AllowedRegressions: 0,
		FailOnInconclusive: false,
		RequireBaseline:    true,
	}
}

// GateDecision is the result of a regression gate check.
type GateDecision struct {
	// Pass is true if the gate allows deployment.
	Pass bool `json:"pass"`

	BaselineID  string `json:"baselineId"`
	ExecutionID string `json:"executionId"`

	// Comparison is nil when the baseline was missing and not required.
	Comparison *baseline.ComparisonResult `json:"comparison,omitempty"`

	// Regressions are the regressed metrics.
	Regressions []baseline.ComparisonMetric `json:"regressions"`

	// Warnings are the inconclusive metrics.
	Warnings []baseline.ComparisonMetric `json:"warnings"`

	// Report is a markdown summary.
	Report string `json:"report"`

	Duration  time.Duration `json:"durationNs"`
	Timestamp time.Time     `json:"timestamp"`
}

// CheckRegression compares an execution to a baseline and applies the
// gate policy.
//
// Description:
//
//	The decision fails when more than AllowedRegressions metrics regressed,
//	or when FailOnInconclusive is set and any metric, or the comparison as
//	a whole, is Inconclusive. A missing baseline fails only when
//	RequireBaseline is set.
//
// Inputs:
//   - ctx: Context for cancellation. Must not be nil.
//   - baselineID: The stored baseline to compare against.
//   - executionID: The execution under test.
//
// Outputs:
//   - *GateDecision: The decision.
//   - error: Non-nil when no decision could be made, such as an unknown
//     execution or a store failure.
func (s *Service) CheckRegression(ctx context.Context, baselineID, executionID string) (*GateDecision, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "perfgate.Service.CheckRegression",
		trace.WithAttributes(
			attribute.String("baseline_id", baselineID),
			attribute.String("execution_id", executionID),
		),
	)
	defer span.End()
	logger := telemetry.LoggerWithTrace(ctx, s.logger)

	decision := &GateDecision{
		Pass:        true,
		BaselineID:  baselineID,
		ExecutionID: executionID,
		Regressions: make([]baseline.ComparisonMetric, 0),
		Warnings:    make([]baseline.ComparisonMetric, 0),
		Timestamp:   s.now().UTC(),
	}

	result, err := s.CompareToBaseline(ctx, baselineID, executionID)
	switch {
	case errors.Is(err, baseline.ErrBaselineNotFound) && !s.gate.RequireBaseline:
		decision.Report = fmt.Sprintf("Baseline %s not found - first run", baselineID)
		decision.Duration = time.Since(start)
		logger.Info("regression gate passed without baseline", slog.String("baseline_id", baselineID))
		return decision, nil
	case errors.Is(err, baseline.ErrBaselineNotFound):
		decision.Pass = false
		decision.Report = fmt.Sprintf("Baseline %s not found and a baseline is required", baselineID)
		decision.Duration = time.Since(start)
		span.SetAttributes(attribute.Bool("pass", false))
		return decision, nil
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	decision.Comparison = result
	for _, m := range result.Metrics {
		switch m.Outcome {
		case baseline.Regression:
			decision.Regressions = append(decision.Regressions, m)
		case baseline.Inconclusive:
			decision.Warnings = append(decision.Warnings, m)
		}
	}
	if len(decision.Regressions) > s.gate.AllowedRegressions {
		decision.Pass = false
	}
	if s.gate.FailOnInconclusive && (len(decision.Warnings) > 0 || result.Outcome == baseline.Inconclusive) {
		decision.Pass = false
	}

	decision.Duration = time.Since(start)
	decision.Report = generateReport(decision)
	span.SetAttributes(
		attribute.Bool("pass", decision.Pass),
		attribute.Int("regressions", len(decision.Regressions)),
	)
	logger.Info("regression gate checked",
		slog.String("baseline_id", baselineID),
		slog.String("execution_id", executionID),
		slog.Bool("pass", decision.Pass),
		slog.Int("regressions", len(decision.Regressions)),
		slog.Int("warnings", len(decision.Warnings)),
	)
	return decision, nil
}

// generateReport creates a markdown report.
func generateReport(decision *GateDecision) string {
	var sb strings.Builder

	sb.WriteString("# Regression Gate Report\n\n")
	if decision.Pass {
		sb.WriteString("**Status: PASS**\n\n")
	} else {
		sb.WriteString("**Status: FAIL**\n\n")
	}

	sb.WriteString(fmt.Sprintf("Baseline: %s\n", decision.BaselineID))
	sb.WriteString(fmt.Sprintf("Execution: %s\n", decision.ExecutionID))
	sb.WriteString(fmt.Sprintf("Timestamp: %s\n\n", decision.Timestamp.Format(time.RFC3339)))

	if decision.Comparison != nil {
		sb.WriteString("## Metrics Comparison\n\n")
		sb.WriteString("| Metric | Baseline | Current | Change | Outcome |\n")
		sb.WriteString("|--------|----------|---------|--------|---------|\n")
		for _, m := range decision.Comparison.Metrics {
			change := "n/a"
			if m.ChangePercent != nil {
				change = fmt.Sprintf("%+.1f%%", *m.ChangePercent)
			}
			sb.WriteString(fmt.Sprintf("| %s | %g | %g | %s | %s |\n",
				m.MetricName, m.BaselineValue, m.CurrentValue, change, m.Outcome))
		}
		if len(decision.Comparison.MissingMetrics) > 0 {
			sb.WriteString(fmt.Sprintf("\nMissing metrics: %s\n", strings.Join(decision.Comparison.MissingMetrics, ", ")))
		}
	}

	if len(decision.Regressions) > 0 {
		sb.WriteString("\n## Regressions\n\n")
		for _, r := range decision.Regressions {
			sb.WriteString(fmt.Sprintf("- **%s**: %g -> %g (confidence %.2f)\n",
				r.MetricName, r.BaselineValue, r.CurrentValue, r.Confidence))
		}
	}

	if len(decision.Warnings) > 0 {
		sb.WriteString("\n## Inconclusive\n\n")
		for _, w := range decision.Warnings {
			sb.WriteString(fmt.Sprintf("- **%s**: %g -> %g\n", w.MetricName, w.BaselineValue, w.CurrentValue))
		}
	}

	return sb.String()
}
