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
	"sort"

	"github.com/AleutianAI/perfgate/services/perfgate/metrics"
	"github.com/AleutianAI/perfgate/services/perfgate/rules"
)

// SufficientRatio is the minimum completeness ratio for a trustworthy
// decision. Inclusive.
const SufficientRatio = 0.5

// CompletenessReport describes how much of the expected data was available.
type CompletenessReport struct {
	MetricsProvided  int      `json:"metricsProvided"`
	MetricsExpected  int      `json:"metricsExpected"`
	Ratio            float64  `json:"completenessRatio"`
	MissingMetrics   []string `json:"missingMetrics"`
	UnevaluatedRules []string `json:"unevaluatedRules"`
}

// IsSufficientForEvaluation reports whether Ratio >= SufficientRatio.
func (c CompletenessReport) IsSufficientForEvaluation() bool {
	return c.Ratio >= SufficientRatio
}

// NewCompletenessReport counts which required metric names the set resolves.
//
// Description:
//
//	Expected is the number of distinct metric names the rules require
//	(case-insensitive). Provided is how many of those the set contains.
//	With nothing expected the ratio is 1. Skipped rules populate
//	UnevaluatedRules. Both lists are sorted.
//
// Inputs:
//   - ruleSet: The rules that were evaluated.
//   - set: The provided metrics.
//   - results: Per-rule results from the evaluator.
//
// Outputs:
//   - CompletenessReport: The report. Lists are never nil.
func NewCompletenessReport(ruleSet []rules.Rule, set metrics.Set, results []rules.Result) CompletenessReport {
	required := rules.RequiredMetrics(ruleSet)

	report := CompletenessReport{
		MetricsExpected:  len(required),
		MissingMetrics:   make([]string, 0),
		UnevaluatedRules: make([]string, 0),
	}
	for _, name := range required {
		if _, ok := set.Find(name); ok {
			report.MetricsProvided++
		} else {
			report.MissingMetrics = append(report.MissingMetrics, name)
		}
	}
	for _, r := range results {
		if !r.Evaluated() {
			report.UnevaluatedRules = append(report.UnevaluatedRules, r.RuleID)
		}
	}
	sort.Strings(report.MissingMetrics)
	sort.Strings(report.UnevaluatedRules)

	report.Ratio = ratio(report.MetricsProvided, report.MetricsExpected)
	return report
}

func ratio(provided, expected int) float64 {
	if expected == 0 {
		return 1.0
	}
	return float64(provided) / float64(expected)
}
