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
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/perfgate/services/perfgate/scope"
)

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithClock sets the time source used for ResolvedAt.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// Resolver merges profiles into a ResolvedConfiguration.
//
// Thread Safety: Safe for concurrent use (stateless apart from the clock).
type Resolver struct {
	now func() time.Time
}

// NewResolver creates a resolver.
//
// Outputs:
//   - *Resolver: The new resolver. Never nil.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve merges the profiles applicable to the requested scopes.
//
// Description:
//
//	 1. Scopes are validated and ValidateNoConflicts runs; either failure
//	    aborts before anything is merged.
//	 2. A profile applies if its scope is Global, equals a requested scope,
//	    or is a Composite whose two components are both requested.
//	 3. Applicable profiles are ordered by precedence ascending, then scope
//	    ID, then profile ID.
//	 4. Values are folded in that order; later values overwrite earlier
//	    ones and every contributing scope is appended to the key's audit.
//
// Inputs:
//   - profiles: All known profiles. Enumeration order does not matter.
//   - requested: Scopes of the current execution context.
//
// Outputs:
//   - ResolvedConfiguration: The merged configuration.
//   - error: *ConflictError, or a scope validation error.
//
// Thread Safety: Safe for concurrent use.
func (r *Resolver) Resolve(profiles []Profile, requested []scope.Scope) (ResolvedConfiguration, error) {
	for _, s := range requested {
		if err := scope.Validate(s); err != nil {
			return ResolvedConfiguration{}, fmt.Errorf("requested scope: %w", err)
		}
	}
	for _, p := range profiles {
		if err := scope.Validate(p.Scope()); err != nil {
			return ResolvedConfiguration{}, fmt.Errorf("profile %q: %w", p.ID(), err)
		}
	}
	if err := ValidateNoConflicts(profiles); err != nil {
		return ResolvedConfiguration{}, err
	}

	applicable := make([]Profile, 0, len(profiles))
	for _, p := range profiles {
		if Applies(p.Scope(), requested) {
			applicable = append(applicable, p)
		}
	}

	sort.SliceStable(applicable, func(i, j int) bool {
		if c := scope.Compare(applicable[i].Scope(), applicable[j].Scope()); c != 0 {
			return c < 0
		}
		return strings.Compare(applicable[i].ID(), applicable[j].ID()) < 0
	})

	resolved := ResolvedConfiguration{
		values:     make(map[ConfigKey]ConfigValue),
		audit:      make(map[ConfigKey][]scope.Scope),
		resolvedAt: r.now().UTC(),
	}
	for _, p := range applicable {
		for _, k := range p.Keys() {
			resolved.values[k] = p.values[k]
			resolved.audit[k] = append(resolved.audit[k], p.Scope())
		}
	}
	return resolved, nil
}

// Applies reports whether a profile at s participates for the requested scopes.
func Applies(s scope.Scope, requested []scope.Scope) bool {
	switch v := s.(type) {
	case scope.Global:
		return true
	case scope.Composite:
		if scope.Contains(requested, v) {
			return true
		}
		a, b := v.Components()
		return scope.Contains(requested, a) && scope.Contains(requested, b)
	default:
		return scope.Contains(requested, s)
	}
}
