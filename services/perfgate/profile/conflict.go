// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package profile

import (
	"sort"
)

// DetectConflicts scans profiles for equal-scope disagreements.
//
// Description:
//
//	Profiles are grouped by scope equality. Within each group of two or
//	more profiles, every key whose set of distinct values has more than
//	one member yields a ConflictDetail. The scan is total: every group
//	and key is visited so all problems surface at once.
//
//	Output order is fixed (scope ID, then key) and the two reported values
//	are the first two distinct values in canonical string order, so the
//	result does not depend on input enumeration order.
//
// Inputs:
//   - profiles: Profiles to check. May be empty.
//
// Outputs:
//   - []ConflictDetail: Every conflict found. Empty if none.
//
// Thread Safety: Pure function; safe for concurrent use.
func DetectConflicts(profiles []Profile) []ConflictDetail {
	groups := make(map[string][]Profile)
	for _, p := range profiles {
		id := p.Scope().ID()
		groups[id] = append(groups[id], p)
	}

	scopeIDs := make([]string, 0, len(groups))
	for id, g := range groups {
		if len(g) > 1 {
			scopeIDs = append(scopeIDs, id)
		}
	}
	sort.Strings(scopeIDs)

	conflicts := make([]ConflictDetail, 0)
	for _, id := range scopeIDs {
		group := groups[id]

		valuesByKey := make(map[ConfigKey][]ConfigValue)
		for _, p := range group {
			for k, v := range p.values {
				valuesByKey[k] = append(valuesByKey[k], v)
			}
		}

		keys := make([]ConfigKey, 0, len(valuesByKey))
		for k, vs := range valuesByKey {
			if len(vs) > 1 {
				keys = append(keys, k)
			}
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

		for _, k := range keys {
			distinct := distinctValues(valuesByKey[k])
			if len(distinct) < 2 {
				continue
			}
			conflicts = append(conflicts, ConflictDetail{
				Key:              k,
				ScopeDescription: group[0].Scope().Description(),
				Value1:           distinct[0],
				Value2:           distinct[1],
			})
		}
	}
	return conflicts
}

// ValidateNoConflicts returns a *ConflictError carrying all conflicts, or nil.
func ValidateNoConflicts(profiles []Profile) error {
	conflicts := DetectConflicts(profiles)
	if len(conflicts) == 0 {
		return nil
	}
	return &ConflictError{Conflicts: conflicts}
}

// distinctValues de-duplicates values and sorts them by (type, text).
func distinctValues(values []ConfigValue) []ConfigValue {
	out := make([]ConfigValue, 0, len(values))
	for _, v := range values {
		seen := false
		for _, o := range out {
			if o.Equal(v) {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type() != out[j].Type() {
			return out[i].Type() < out[j].Type()
		}
		return out[i].String() < out[j].String()
	})
	return out
}
