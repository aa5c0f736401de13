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
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/perfgate/services/perfgate/metrics"
)

// StatusComplete fails when any metric was not collected completely.
func StatusComplete(ms []metrics.Metric) (CheckResult, error) {
	var partial []string
	for _, m := range ms {
		if m.Status != metrics.StatusComplete {
			partial = append(partial, m.Name+"="+m.Status.String())
		}
	}
	if len(partial) == 0 {
		return CheckResult{Passed: true}, nil
	}
	return CheckResult{
		Metric:   strings.SplitN(partial[0], "=", 2)[0],
		Expected: "status complete",
		Message:  "incomplete metrics: " + strings.Join(partial, ", "),
	}, nil
}

// SamplesPresent fails when any metric reports zero samples.
func SamplesPresent(ms []metrics.Metric) (CheckResult, error) {
	for _, m := range ms {
		if m.SampleCount <= 0 {
			zero := 0.0
			return CheckResult{
				Metric:   m.Name,
				Actual:   &zero,
				Expected: "> 0 samples",
				Message:  fmt.Sprintf("%s has no samples", m.Name),
			}, nil
		}
	}
	return CheckResult{Passed: true}, nil
}

// Checks maps names to CheckFuncs so rule files can reference custom
// checks by name.
type Checks map[string]CheckFunc

// BuiltinChecks returns the checks shipped with the evaluator.
func BuiltinChecks() Checks {
	return Checks{
		"status_complete": StatusComplete,
		"samples_present": SamplesPresent,
	}
}

// Names returns the registered check names in sorted order.
func (c Checks) Names() []string {
	names := make([]string, 0, len(c))
	for n := range c {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
