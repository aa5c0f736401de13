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
	"strings"
)

// PartialMetricPolicy decides whether a rule whose metric is missing is
// skipped (true) or reported as a violation (false).
//
// The two implementations are distinct types so an allow-list can never be
// passed where a deny-list was meant.
type PartialMetricPolicy interface {
	AllowsPartial(ruleID string) bool
	String() string
}

// AllowPartialExcept skips missing-metric rules except the listed ones.
type AllowPartialExcept struct {
	strict map[string]struct{}
}

// AllowPartial returns a policy that skips every rule with missing data
// except strictRuleIDs, which still produce violations.
func AllowPartial(strictRuleIDs ...string) AllowPartialExcept {
	return AllowPartialExcept{strict: toSet(strictRuleIDs)}
}

// AllowsPartial implements PartialMetricPolicy.
func (p AllowPartialExcept) AllowsPartial(ruleID string) bool {
	_, strict := p.strict[ruleID]
	return !strict
}

func (p AllowPartialExcept) String() string {
	return "allow-partial except " + setString(p.strict)
}

// DenyPartialExcept reports missing-metric rules as violations except the
// listed ones, which are skipped.
type DenyPartialExcept struct {
	lenient map[string]struct{}
}

// DenyPartial returns a policy that reports every rule with missing data
// except lenientRuleIDs, which are skipped.
func DenyPartial(lenientRuleIDs ...string) DenyPartialExcept {
	return DenyPartialExcept{lenient: toSet(lenientRuleIDs)}
}

// AllowsPartial implements PartialMetricPolicy.
func (p DenyPartialExcept) AllowsPartial(ruleID string) bool {
	_, lenient := p.lenient[ruleID]
	return lenient
}

func (p DenyPartialExcept) String() string {
	return "deny-partial except " + setString(p.lenient)
}

func toSet(ids []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

func setString(m map[string]struct{}) string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return "[" + strings.Join(ids, ", ") + "]"
}
