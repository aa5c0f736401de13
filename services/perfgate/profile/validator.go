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
	"fmt"
	"strings"

	"github.com/AleutianAI/perfgate/services/perfgate/scope"
)

// Validate checks one profile and returns every problem found.
//
// Description:
//
//	Checks, without stopping at the first failure:
//	  - the scope is structurally valid
//	  - every key is non-blank
//	  - every value is constructed and String values are non-blank
//	  - ${key} references between String values form no cycle
//
// Outputs:
//   - ValidationErrors: All problems, sorted by key. Nil if the profile is valid.
//
// Thread Safety: Pure function; safe for concurrent use.
func Validate(p Profile) ValidationErrors {
	var errs ValidationErrors

	if err := scope.Validate(p.scope); err != nil {
		errs = append(errs, ValidationError{ProfileID: p.id, Err: err})
	}

	for _, k := range p.Keys() {
		v := p.values[k]
		if strings.TrimSpace(string(k)) == "" {
			errs = append(errs, ValidationError{ProfileID: p.id, Key: k, Err: ErrEmptyKey})
		}
		if v.IsZero() {
			errs = append(errs, ValidationError{ProfileID: p.id, Key: k, Err: ErrEmptyValue})
			continue
		}
		if s, ok := v.AsString(); ok && strings.TrimSpace(s) == "" {
			errs = append(errs, ValidationError{ProfileID: p.id, Key: k, Err: ErrEmptyValue})
		}
	}

	for _, cycle := range findCycles(p.values) {
		errs = append(errs, ValidationError{
			ProfileID: p.id,
			Key:       cycle[0],
			Err:       fmt.Errorf("%w: %s", ErrCircularReference, formatCycle(cycle)),
		})
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// ValidateAll validates every profile and concatenates the results.
//
// Outputs:
//   - error: ValidationErrors if anything failed, nil otherwise.
func ValidateAll(profiles []Profile) error {
	var all ValidationErrors
	for _, p := range profiles {
		all = append(all, Validate(p)...)
	}
	if len(all) == 0 {
		return nil
	}
	return all
}

// findCycles returns each distinct reference cycle once, rotated so that
// its smallest key comes first.
func findCycles(values map[ConfigKey]ConfigValue) [][]ConfigKey {
	const (
		white = iota
		grey
		black
	)

	color := make(map[ConfigKey]int, len(values))
	seen := make(map[string]bool)
	var cycles [][]ConfigKey
	var stack []ConfigKey

	var visit func(k ConfigKey)
	visit = func(k ConfigKey) {
		color[k] = grey
		stack = append(stack, k)

		for _, ref := range references(values[k]) {
			if _, ok := values[ref]; !ok {
				continue
			}
			switch color[ref] {
			case white:
				visit(ref)
			case grey:
				start := 0
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == ref {
						start = i
						break
					}
				}
				cycle := canonicalCycle(stack[start:])
				id := formatCycle(cycle)
				if !seen[id] {
					seen[id] = true
					cycles = append(cycles, cycle)
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[k] = black
	}

	for _, k := range sortedKeys(values) {
		if color[k] == white {
			visit(k)
		}
	}
	return cycles
}

func canonicalCycle(path []ConfigKey) []ConfigKey {
	minIdx := 0
	for i, k := range path {
		if k < path[minIdx] {
			minIdx = i
		}
	}
	out := make([]ConfigKey, 0, len(path))
	out = append(out, path[minIdx:]...)
	out = append(out, path[:minIdx]...)
	return out
}

func formatCycle(cycle []ConfigKey) string {
	parts := make([]string, 0, len(cycle)+1)
	for _, k := range cycle {
		parts = append(parts, string(k))
	}
	parts = append(parts, string(cycle[0]))
	return strings.Join(parts, " -> ")
}
