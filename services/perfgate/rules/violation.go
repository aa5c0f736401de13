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
	"sort"
)

// SystemRuleID tags violations synthesized from evaluation failures
// (malformed rules, failing or panicking checks). RuleName then carries
// the id of the rule that failed.
const SystemRuleID = "__system__"

// Violation records one rule's failure.
type Violation struct {
	RuleID   string   `json:"ruleId"`
	RuleName string   `json:"ruleName"`
	Metric   string   `json:"metric"`
	Expected string   `json:"expected"`
	Actual   *float64 `json:"actual,omitempty"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// IsSystem reports whether the violation was synthesized from an
// evaluation failure.
func (v Violation) IsSystem() bool { return v.RuleID == SystemRuleID }

// SortViolations orders violations by rule id, then metric, rule name and
// message, so equal inputs always render identically.
func SortViolations(vs []Violation) {
	sort.SliceStable(vs, func(i, j int) bool {
		a, b := vs[i], vs[j]
		if a.RuleID != b.RuleID {
			return a.RuleID < b.RuleID
		}
		if a.Metric != b.Metric {
			return a.Metric < b.Metric
		}
		if a.RuleName != b.RuleName {
			return a.RuleName < b.RuleName
		}
		return a.Message < b.Message
	})
}

func floatPtr(f float64) *float64 { return &f }
