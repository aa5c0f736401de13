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
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyValue is returned for a missing or blank value.
	ErrEmptyValue = errors.New("config value must not be empty")

	// ErrConfigurationConflict matches every *ConflictError.
	ErrConfigurationConflict = errors.New("configuration conflict")

	// ErrInvalidProfile matches every ValidationErrors.
	ErrInvalidProfile = errors.New("invalid profile")

	// ErrProfileNotFound is returned by sources for an unknown profile id.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrCircularReference is reported when ${key} references form a cycle.
	ErrCircularReference = errors.New("circular key reference")
)

// ConflictDetail describes two equal-scope profiles disagreeing on a key.
type ConflictDetail struct {
	// Key is the contested configuration key.
	Key ConfigKey

	// ScopeDescription names the shared scope.
	ScopeDescription string

	// Value1 and Value2 are two of the distinct values, in canonical order.
	Value1 ConfigValue
	Value2 ConfigValue
}

// String returns a human-readable description.
func (d ConflictDetail) String() string {
	return fmt.Sprintf("key %q at %s: %s vs %s", d.Key, d.ScopeDescription, d.Value1, d.Value2)
}

// ConflictError carries every detected conflict, not just the first.
type ConflictError struct {
	Conflicts []ConflictDetail
}

// Error implements error.
func (e *ConflictError) Error() string {
	parts := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		parts[i] = c.String()
	}
	return fmt.Sprintf("%d configuration conflict(s): %s", len(e.Conflicts), strings.Join(parts, "; "))
}

// Is makes errors.Is(err, ErrConfigurationConflict) true.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConfigurationConflict
}

// ValidationError is one problem found in one profile.
type ValidationError struct {
	ProfileID string
	Key       ConfigKey
	Err       error
}

// Error implements error.
func (e ValidationError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("profile %q key %q: %v", e.ProfileID, e.Key, e.Err)
	}
	return fmt.Sprintf("profile %q: %v", e.ProfileID, e.Err)
}

// Unwrap returns the underlying cause.
func (e ValidationError) Unwrap() error { return e.Err }

// ValidationErrors is the complete list of problems found by a Validator.
type ValidationErrors []ValidationError

// Error implements error.
func (e ValidationErrors) Error() string {
	parts := make([]string, len(e))
	for i, v := range e {
		parts[i] = v.Error()
	}
	return fmt.Sprintf("%d validation error(s): %s", len(e), strings.Join(parts, "; "))
}

// Is makes errors.Is(err, ErrInvalidProfile) true.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidProfile
}

// Unwrap exposes each entry to errors.Is / errors.As.
func (e ValidationErrors) Unwrap() []error {
	out := make([]error, len(e))
	for i, v := range e {
		out[i] = v
	}
	return out
}
