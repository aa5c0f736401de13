// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided identifiers that end up
// in Flux queries, storage keys or file names. Using these validators
// prevents injection attacks (Flux injection, key-prefix confusion, path traversal).
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxIdentifierLength bounds execution and baseline identifiers.
const MaxIdentifierLength = 256

// ErrInvalidIdentifier is returned for identifiers that fail validation.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// identifierPattern matches execution ids such as "run-42", "ci/1234.7" or
// "nightly:2025-06-01". The first character must be alphanumeric.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:/@+\-]*$`)

// ValidateIdentifier validates an execution or baseline id.
//
// Valid identifiers:
//   - 1-256 characters
//   - Letters, digits and . _ : / @ + -
//   - Start with a letter or digit
//   - No ".." path segments
//
// Example:
//
//	if err := validation.ValidateIdentifier(executionID); err != nil {
//	    return nil, err
//	}
//	// Safe to use in a Flux query
func ValidateIdentifier(id string) error {
	if id == "" {
		return fmt.Errorf("%w: cannot be empty", ErrInvalidIdentifier)
	}
	if len(id) > MaxIdentifierLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidIdentifier, MaxIdentifierLength)
	}
	if !identifierPattern.MatchString(id) {
		return fmt.Errorf("%w: %q (letters, digits and . _ : / @ + - only)", ErrInvalidIdentifier, id)
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q contains \"..\"", ErrInvalidIdentifier, id)
	}
	return nil
}

// ValidateIdentifiers validates multiple identifiers.
// Returns an error listing all invalid identifiers if any fail validation.
func ValidateIdentifiers(ids []string) error {
	var invalid []string
	for _, id := range ids {
		if err := ValidateIdentifier(id); err != nil {
			invalid = append(invalid, id)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, invalid)
	}
	return nil
}

// SanitizeIdentifier trims and validates an identifier.
//
//	id, err := validation.SanitizeIdentifier(userInput)
//	if err != nil {
//	    return err
//	}
func SanitizeIdentifier(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if err := ValidateIdentifier(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}
