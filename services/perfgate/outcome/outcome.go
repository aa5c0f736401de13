// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package outcome defines the single total order over evaluation decisions.
//
//	PASS < WARN < FAIL < INCONCLUSIVE
//
// Rule results, evaluation results and the batch path all aggregate with
// Aggregate; there is no second ordering.
package outcome

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Outcome is an evaluation decision. Larger values are more severe.
type Outcome int

const (
	// Pass means every evaluated rule was satisfied.
	Pass Outcome = iota

	// Warn means only non-critical rules were violated.
	Warn

	// Fail means a critical rule was violated or could not run.
	Fail

	// Inconclusive means too little data was available to decide.
	Inconclusive
)

// String returns the string representation.
func (o Outcome) String() string {
	switch o {
	case Pass:
		return "PASS"
	case Warn:
		return "WARN"
	case Fail:
		return "FAIL"
	case Inconclusive:
		return "INCONCLUSIVE"
	default:
		return "UNKNOWN"
	}
}

// Parse parses an outcome name, case-insensitively.
func Parse(name string) (Outcome, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "PASS":
		return Pass, nil
	case "WARN":
		return Warn, nil
	case "FAIL":
		return Fail, nil
	case "INCONCLUSIVE":
		return Inconclusive, nil
	default:
		return Pass, fmt.Errorf("unknown outcome %q", name)
	}
}

// MoreSevereThan reports whether o ranks above other.
func (o Outcome) MoreSevereThan(other Outcome) bool { return o > other }

// Aggregate returns the most severe outcome, or Pass for an empty input.
func Aggregate(outcomes ...Outcome) Outcome {
	worst := Pass
	for _, o := range outcomes {
		if o > worst {
			worst = o
		}
	}
	return worst
}

// MarshalJSON encodes the outcome as its name.
func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// UnmarshalJSON decodes an outcome name.
func (o *Outcome) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}
