// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package profile merges scoped configuration profiles into one resolved
// configuration.
//
// The flow is:
//
//	profiles ──► ConflictDetector ──► applicable subset ──► sort by precedence ──► fold
//
// Resolution is a pure function of (profiles, requested scopes): the same
// inputs in any enumeration order produce the same values and the same
// per-key audit trails.
package profile

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/perfgate/services/perfgate/scope"
)

// Profile is a set of configuration values attached to one scope.
//
// Profiles are immutable after construction: Values returns a copy.
type Profile struct {
	id     string
	scope  scope.Scope
	values map[ConfigKey]ConfigValue
}

// New creates a profile.
//
// Inputs:
//   - id: Profile identifier. If empty, the scope ID is used.
//   - s: The scope. Must be valid.
//   - values: Configuration entries. Copied.
//
// Outputs:
//   - Profile: The profile.
//   - error: Non-nil if the scope is invalid or a key/value is empty.
func New(id string, s scope.Scope, values map[ConfigKey]ConfigValue) (Profile, error) {
	if err := scope.Validate(s); err != nil {
		return Profile{}, fmt.Errorf("profile %q: %w", id, err)
	}
	if id == "" {
		id = s.ID()
	}
	copied := make(map[ConfigKey]ConfigValue, len(values))
	for k, v := range values {
		if strings.TrimSpace(string(k)) == "" {
			return Profile{}, fmt.Errorf("profile %q: %w", id, ErrEmptyKey)
		}
		if v.IsZero() {
			return Profile{}, fmt.Errorf("profile %q key %q: %w", id, k, ErrEmptyValue)
		}
		copied[k] = v
	}
	return Profile{id: id, scope: s, values: copied}, nil
}

// MustNew is like New but panics on error.
func MustNew(id string, s scope.Scope, values map[ConfigKey]ConfigValue) Profile {
	p, err := New(id, s, values)
	if err != nil {
		panic(err)
	}
	return p
}

// ID returns the profile identifier.
func (p Profile) ID() string { return p.id }

// Scope returns the scope the profile is attached to.
func (p Profile) Scope() scope.Scope { return p.scope }

// Get returns the value for key.
func (p Profile) Get(key ConfigKey) (ConfigValue, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Len returns the number of entries.
func (p Profile) Len() int { return len(p.values) }

// Keys returns the profile's keys in sorted order.
func (p Profile) Keys() []ConfigKey {
	return sortedKeys(p.values)
}

// Values returns a copy of the entries.
func (p Profile) Values() map[ConfigKey]ConfigValue {
	out := make(map[ConfigKey]ConfigValue, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// -----------------------------------------------------------------------------
// ResolvedConfiguration
// -----------------------------------------------------------------------------

// ResolvedConfiguration is the merged result of applying profiles.
//
// Audit records every scope that set a key, in application order; the last
// entry is the winner. The value is never mutated after resolution.
type ResolvedConfiguration struct {
	values     map[ConfigKey]ConfigValue
	audit      map[ConfigKey][]scope.Scope
	resolvedAt time.Time
}

// Get returns the resolved value for key.
func (c ResolvedConfiguration) Get(key ConfigKey) (ConfigValue, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Has reports whether key was resolved.
func (c ResolvedConfiguration) Has(key ConfigKey) bool {
	_, ok := c.values[key]
	return ok
}

// Len returns the number of resolved keys.
func (c ResolvedConfiguration) Len() int { return len(c.values) }

// Keys returns the resolved keys in sorted order.
func (c ResolvedConfiguration) Keys() []ConfigKey { return sortedKeys(c.values) }

// Values returns a copy of the resolved entries.
func (c ResolvedConfiguration) Values() map[ConfigKey]ConfigValue {
	out := make(map[ConfigKey]ConfigValue, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// AuditTrail returns the scopes that set key, in application order.
func (c ResolvedConfiguration) AuditTrail(key ConfigKey) []scope.Scope {
	trail := c.audit[key]
	out := make([]scope.Scope, len(trail))
	copy(out, trail)
	return out
}

// Winner returns the scope whose value survived for key.
func (c ResolvedConfiguration) Winner(key ConfigKey) (scope.Scope, bool) {
	trail := c.audit[key]
	if len(trail) == 0 {
		return nil, false
	}
	return trail[len(trail)-1], true
}

// ResolvedAt returns when the configuration was resolved.
func (c ResolvedConfiguration) ResolvedAt() time.Time { return c.resolvedAt }

// Canonical renders values and audit trails in a fixed textual form.
//
// Two configurations resolved from the same inputs have identical
// canonical forms; the resolution timestamp is excluded.
func (c ResolvedConfiguration) Canonical() string {
	var sb strings.Builder
	for _, k := range c.Keys() {
		v := c.values[k]
		sb.WriteString(string(k))
		sb.WriteString("=")
		sb.WriteString(v.Type().String())
		sb.WriteString(":")
		sb.WriteString(v.String())
		sb.WriteString(" [")
		for i, s := range c.audit[k] {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString(s.ID())
		}
		sb.WriteString("]\n")
	}
	return sb.String()
}

var referencePattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Expand returns the string form of key with ${other} references replaced
// by the string form of the referenced keys.
//
// Description:
//
//	Unknown references are left untouched. Expansion depth is bounded by
//	the number of resolved keys so a cycle that slipped past validation
//	terminates.
func (c ResolvedConfiguration) Expand(key ConfigKey) (string, bool) {
	v, ok := c.values[key]
	if !ok {
		return "", false
	}
	text := v.String()
	for depth := 0; depth <= len(c.values); depth++ {
		next := referencePattern.ReplaceAllStringFunc(text, func(m string) string {
			ref := ConfigKey(strings.TrimSpace(m[2 : len(m)-1]))
			if rv, ok := c.values[ref]; ok {
				return rv.String()
			}
			return m
		})
		if next == text {
			break
		}
		text = next
	}
	return text, true
}

func sortedKeys(m map[ConfigKey]ConfigValue) []ConfigKey {
	keys := make([]ConfigKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// references returns the keys referenced by ${...} in a String value.
func references(v ConfigValue) []ConfigKey {
	s, ok := v.AsString()
	if !ok {
		return nil
	}
	matches := referencePattern.FindAllStringSubmatch(s, -1)
	refs := make([]ConfigKey, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, ConfigKey(strings.TrimSpace(m[1])))
	}
	return refs
}
