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
	"time"

	"github.com/AleutianAI/perfgate/services/perfgate/outcome"
	"github.com/AleutianAI/perfgate/services/perfgate/profile"
	"github.com/AleutianAI/perfgate/services/perfgate/rules"
)

// ExecutionMetadata describes one evaluation run.
type ExecutionMetadata struct {
	ExecutionID    string    `json:"executionId,omitempty"`
	ProfileID      string    `json:"profileId"`
	EvaluatedAt    time.Time `json:"evaluatedAt"`
	RulesEvaluated int       `json:"rulesEvaluatedCount"`
	RulesSkipped   int       `json:"rulesSkippedCount"`
	Policy         string    `json:"partialMetricPolicy"`
}

// EvaluationResult is the immutable outcome of one evaluation.
type EvaluationResult struct {
	Outcome      outcome.Outcome    `json:"outcome"`
	Violations   []rules.Violation  `json:"violations"`
	Completeness CompletenessReport `json:"completeness"`
	Metadata     ExecutionMetadata  `json:"metadata"`
	Fingerprint  string             `json:"dataFingerprint"`

	// Configuration is the resolved configuration rules were bound against.
	Configuration profile.ResolvedConfiguration `json:"-"`
}

// Passed reports whether the outcome is PASS.
func (r *EvaluationResult) Passed() bool { return r.Outcome == outcome.Pass }

// CriticalViolations returns the violations with Critical severity.
func (r *EvaluationResult) CriticalViolations() []rules.Violation {
	var out []rules.Violation
	for _, v := range r.Violations {
		if v.Severity == rules.Critical {
			out = append(out, v)
		}
	}
	return out
}
