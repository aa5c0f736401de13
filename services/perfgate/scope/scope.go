// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scope defines the configuration contexts that profiles attach to.
//
// A Scope is a closed sum type: Global, API, Environment, Tag and Composite.
// Every scope carries an integer precedence that orders profile application
// during resolution (lower precedence is applied first, so higher precedence
// wins). Scopes are immutable values created through the New* factories.
//
// Thread Safety: All scope values are immutable and safe for concurrent use.
package scope

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrEmptyName is returned when a named scope is created without a name.
	ErrEmptyName = errors.New("scope name must not be empty")

	// ErrNestedComposite is returned when a composite contains another composite.
	ErrNestedComposite = errors.New("composite scope may not nest another composite")

	// ErrNegativePrecedence is returned for a tag precedence below zero.
	ErrNegativePrecedence = errors.New("scope precedence must not be negative")

	// ErrNilScope is returned when a nil scope is passed where one is required.
	ErrNilScope = errors.New("scope must not be nil")

	// ErrReservedCharacter is returned for a name containing one of the
	// scope syntax characters.
	ErrReservedCharacter = errors.New("scope name contains a reserved character")
)

// ReservedCharacters separate prefixes (:), composite parts (+) and tag
// precedence (@) in scope text and canonical IDs. Names may not use them.
const ReservedCharacters = "+:@"

// checkName trims name and rejects empty or reserved names.
func checkName(kind, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%s: %w", kind, ErrEmptyName)
	}
	if i := strings.IndexAny(name, ReservedCharacters); i >= 0 {
		return "", fmt.Errorf("%s %q: %q: %w", kind, name, name[i], ErrReservedCharacter)
	}
	return name, nil
}

// -----------------------------------------------------------------------------
// Precedence
// -----------------------------------------------------------------------------

const (
	// PrecedenceGlobal is the precedence of the Global scope.
	PrecedenceGlobal = 0

	// PrecedenceAPI is the precedence of API scopes.
	PrecedenceAPI = 10

	// PrecedenceEnvironment is the precedence of Environment scopes.
	PrecedenceEnvironment = 15

	// PrecedenceTag is the default precedence of Tag scopes.
	PrecedenceTag = 20

	// compositeBonus is added to the larger component precedence.
	compositeBonus = 5
)

// -----------------------------------------------------------------------------
// Type
// -----------------------------------------------------------------------------

// Type identifies the variant of a Scope.
type Type int

const (
	// TypeGlobal is the single process-wide scope.
	TypeGlobal Type = iota

	// TypeAPI scopes configuration to one API.
	TypeAPI

	// TypeEnvironment scopes configuration to a deployment environment.
	TypeEnvironment

	// TypeTag scopes configuration to a tagged group of tests.
	TypeTag

	// TypeComposite scopes configuration to the pairing of two scopes.
	TypeComposite
)

// String returns the string representation.
func (t Type) String() string {
	switch t {
	case TypeGlobal:
		return "global"
	case TypeAPI:
		return "api"
	case TypeEnvironment:
		return "environment"
	case TypeTag:
		return "tag"
	case TypeComposite:
		return "composite"
	default:
		return fmt.Sprintf("scope_type(%d)", int(t))
	}
}

// -----------------------------------------------------------------------------
// Scope
// -----------------------------------------------------------------------------

// Scope is a configuration context with a precedence.
//
// The interface is sealed: only the variants in this package implement it,
// so a type switch over Global, API, Environment, Tag and Composite is
// exhaustive.
type Scope interface {
	// ID is the canonical identifier. Names cannot contain the separators,
	// so equal scopes and only equal scopes share an ID.
	ID() string

	// Type returns the variant.
	Type() Type

	// Precedence orders application during resolution.
	Precedence() int

	// Description is a human-readable label for reports and errors.
	Description() string

	sealed()
}

// Global is the scope that applies to every evaluation.
type Global struct{}

// API scopes configuration to a named API.
type API struct {
	name string
}

// Environment scopes configuration to a named environment.
type Environment struct {
	name string
}

// Tag scopes configuration to a named tag with an explicit precedence.
type Tag struct {
	name       string
	precedence int
}

// Composite pairs two non-composite scopes. Equality is unordered.
type Composite struct {
	a Scope
	b Scope
}

// NewGlobal returns the Global scope.
func NewGlobal() Global {
	return Global{}
}

// NewAPI creates an API scope.
//
// Outputs:
//   - API: The scope.
//   - error: ErrEmptyName if name is blank, ErrReservedCharacter if it
//     contains + : or @.
func NewAPI(name string) (API, error) {
	name, err := checkName("api", name)
	if err != nil {
		return API{}, err
	}
	return API{name: name}, nil
}

// NewEnvironment creates an Environment scope.
func NewEnvironment(name string) (Environment, error) {
	name, err := checkName("environment", name)
	if err != nil {
		return Environment{}, err
	}
	return Environment{name: name}, nil
}

// NewTag creates a Tag scope with the default precedence.
func NewTag(name string) (Tag, error) {
	return NewTagWithPrecedence(name, PrecedenceTag)
}

// NewTagWithPrecedence creates a Tag scope with a custom precedence.
//
// Outputs:
//   - Tag: The scope.
//   - error: ErrEmptyName, ErrReservedCharacter or ErrNegativePrecedence.
func NewTagWithPrecedence(name string, precedence int) (Tag, error) {
	name, err := checkName("tag", name)
	if err != nil {
		return Tag{}, err
	}
	if precedence < 0 {
		return Tag{}, fmt.Errorf("tag %q precedence %d: %w", name, precedence, ErrNegativePrecedence)
	}
	return Tag{name: name, precedence: precedence}, nil
}

// NewComposite creates a Composite from two non-composite scopes.
//
// Description:
//
//	Components are stored in canonical order (by ID) so that
//	NewComposite(a, b) and NewComposite(b, a) are indistinguishable.
//
// Outputs:
//   - Composite: The scope.
//   - error: ErrNilScope or ErrNestedComposite.
func NewComposite(a, b Scope) (Composite, error) {
	if a == nil || b == nil {
		return Composite{}, fmt.Errorf("composite: %w", ErrNilScope)
	}
	if a.Type() == TypeComposite || b.Type() == TypeComposite {
		return Composite{}, ErrNestedComposite
	}
	if b.ID() < a.ID() {
		a, b = b, a
	}
	return Composite{a: a, b: b}, nil
}

// MustAPI is like NewAPI but panics on error. Intended for tests and literals.
func MustAPI(name string) API {
	s, err := NewAPI(name)
	if err != nil {
		panic(err)
	}
	return s
}

// MustEnvironment is like NewEnvironment but panics on error.
func MustEnvironment(name string) Environment {
	s, err := NewEnvironment(name)
	if err != nil {
		panic(err)
	}
	return s
}

// MustTag is like NewTagWithPrecedence but panics on error.
func MustTag(name string, precedence int) Tag {
	s, err := NewTagWithPrecedence(name, precedence)
	if err != nil {
		panic(err)
	}
	return s
}

// MustComposite is like NewComposite but panics on error.
func MustComposite(a, b Scope) Composite {
	s, err := NewComposite(a, b)
	if err != nil {
		panic(err)
	}
	return s
}

func (Global) ID() string          { return "global" }
func (Global) Type() Type          { return TypeGlobal }
func (Global) Precedence() int     { return PrecedenceGlobal }
func (Global) Description() string { return "Global" }
func (Global) sealed()             {}

func (s API) ID() string          { return "api:" + s.name }
func (API) Type() Type            { return TypeAPI }
func (API) Precedence() int       { return PrecedenceAPI }
func (s API) Description() string { return fmt.Sprintf("Api(%s)", s.name) }
func (API) sealed()               {}

// Name returns the API name.
func (s API) Name() string { return s.name }

func (s Environment) ID() string          { return "env:" + s.name }
func (Environment) Type() Type            { return TypeEnvironment }
func (Environment) Precedence() int       { return PrecedenceEnvironment }
func (s Environment) Description() string { return fmt.Sprintf("Environment(%s)", s.name) }
func (Environment) sealed()               {}

// Name returns the environment name.
func (s Environment) Name() string { return s.name }

// ID includes the precedence so that two tags with the same name but
// different precedence are distinct scopes.
func (s Tag) ID() string {
	if s.precedence == PrecedenceTag {
		return "tag:" + s.name
	}
	return fmt.Sprintf("tag:%s@%d", s.name, s.precedence)
}
func (Tag) Type() Type            { return TypeTag }
func (s Tag) Precedence() int     { return s.precedence }
func (s Tag) Description() string { return fmt.Sprintf("Tag(%s, %d)", s.name, s.precedence) }
func (Tag) sealed()               {}

// Name returns the tag name.
func (s Tag) Name() string { return s.name }

func (s Composite) ID() string { return s.a.ID() + "+" + s.b.ID() }
func (Composite) Type() Type   { return TypeComposite }
func (s Composite) Precedence() int {
	return max(s.a.Precedence(), s.b.Precedence()) + compositeBonus
}
func (s Composite) Description() string {
	return fmt.Sprintf("Composite(%s, %s)", s.a.Description(), s.b.Description())
}
func (Composite) sealed() {}

// Components returns both component scopes in canonical order.
func (s Composite) Components() (Scope, Scope) {
	return s.a, s.b
}

// -----------------------------------------------------------------------------
// Equality and ordering
// -----------------------------------------------------------------------------

// Equal reports whether two scopes are the same configuration context.
//
// Equality is value-based: two API("x") instances are equal, and composites
// compare their components as an unordered pair. Variant and every field
// must match; the canonical ID is not consulted.
func Equal(a, b Scope) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case Global:
		_, ok := b.(Global)
		return ok
	case API:
		y, ok := b.(API)
		return ok && x.name == y.name
	case Environment:
		y, ok := b.(Environment)
		return ok && x.name == y.name
	case Tag:
		y, ok := b.(Tag)
		return ok && x.name == y.name && x.precedence == y.precedence
	case Composite:
		y, ok := b.(Composite)
		if !ok {
			return false
		}
		return (Equal(x.a, y.a) && Equal(x.b, y.b)) || (Equal(x.a, y.b) && Equal(x.b, y.a))
	}
	return false
}

// Compare orders scopes by precedence, then by canonical ID.
//
// Outputs:
//   - int: negative if a sorts before b, zero if equal, positive otherwise.
func Compare(a, b Scope) int {
	if pa, pb := a.Precedence(), b.Precedence(); pa != pb {
		if pa < pb {
			return -1
		}
		return 1
	}
	return strings.Compare(a.ID(), b.ID())
}

// Sort orders scopes in place using Compare.
func Sort(scopes []Scope) {
	sort.SliceStable(scopes, func(i, j int) bool {
		return Compare(scopes[i], scopes[j]) < 0
	})
}

// Contains reports whether target is among scopes.
func Contains(scopes []Scope, target Scope) bool {
	for _, s := range scopes {
		if Equal(s, target) {
			return true
		}
	}
	return false
}

// Validate checks the structural invariants of a scope.
//
// Description:
//
//	Scopes built by the factories are always valid. Validate exists for
//	zero values (for example API{}) that bypassed a factory.
func Validate(s Scope) error {
	switch v := s.(type) {
	case nil:
		return ErrNilScope
	case Global:
		return nil
	case API:
		if _, err := checkName("api", v.name); err != nil {
			return err
		}
	case Environment:
		if _, err := checkName("environment", v.name); err != nil {
			return err
		}
	case Tag:
		if _, err := checkName("tag", v.name); err != nil {
			return err
		}
		if v.precedence < 0 {
			return fmt.Errorf("tag %q: %w", v.name, ErrNegativePrecedence)
		}
	case Composite:
		if v.a == nil || v.b == nil {
			return fmt.Errorf("composite: %w", ErrNilScope)
		}
		if v.a.Type() == TypeComposite || v.b.Type() == TypeComposite {
			return ErrNestedComposite
		}
		if err := Validate(v.a); err != nil {
			return fmt.Errorf("composite component: %w", err)
		}
		if err := Validate(v.b); err != nil {
			return fmt.Errorf("composite component: %w", err)
		}
	}
	return nil
}
