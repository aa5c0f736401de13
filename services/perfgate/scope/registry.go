// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scope

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

var (
	// ErrAlreadyRegistered is returned when a factory name is taken.
	ErrAlreadyRegistered = errors.New("scope factory already registered")

	// ErrUnknownFactory is returned when no factory matches a prefix.
	ErrUnknownFactory = errors.New("unknown scope factory")

	// ErrNilFactory is returned when registering a nil factory.
	ErrNilFactory = errors.New("scope factory must not be nil")

	// ErrMalformedScope is returned when scope text cannot be parsed.
	ErrMalformedScope = errors.New("malformed scope")
)

// Factory builds a scope from the argument that follows its prefix.
//
// For the text "api:payment" the "api" factory receives "payment".
type Factory func(arg string) (Scope, error)

// Registry maps textual prefixes to scope factories.
//
// Description:
//
//	Registry is an explicitly owned, injectable instance rather than
//	package-level state. Registration is insert-if-absent: a duplicate
//	name is rejected and the existing factory is left untouched.
//
// Thread Safety: Safe for concurrent use via read-write mutex.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a registry preloaded with the built-in factories:
// "global", "api", "env", "environment" and "tag".
//
// Outputs:
//   - *Registry: The new registry. Never nil.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.factories["global"] = func(arg string) (Scope, error) {
		if arg != "" {
			return nil, fmt.Errorf("%w: global takes no argument", ErrMalformedScope)
		}
		return NewGlobal(), nil
	}
	r.factories["api"] = func(arg string) (Scope, error) { return NewAPI(arg) }
	envFactory := func(arg string) (Scope, error) { return NewEnvironment(arg) }
	r.factories["env"] = envFactory
	r.factories["environment"] = envFactory
	r.factories["tag"] = parseTag
	return r
}

// Register adds a factory under name.
//
// Inputs:
//   - name: Prefix used in scope text. Case-insensitive.
//   - factory: Builder for the scope. Must not be nil.
//
// Outputs:
//   - error: ErrAlreadyRegistered if the name is taken, ErrNilFactory if nil.
//
// Thread Safety: Safe for concurrent use.
func (r *Registry) Register(name string, factory Factory) error {
	if factory == nil {
		return ErrNilFactory
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return fmt.Errorf("factory: %w", ErrEmptyName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	r.factories[name] = factory
	return nil
}

// Lookup returns the factory registered under name.
func (r *Registry) Lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.factories[strings.ToLower(name)]
	return f, ok
}

// Names returns the registered factory names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Parse builds a scope from its textual form.
//
// Description:
//
//	Accepted forms:
//	  global
//	  api:<name>
//	  env:<name> | environment:<name>
//	  tag:<name>[@<precedence>]
//	  <scope>+<scope>          (composite of two non-composite scopes)
//	  <custom>:<arg>           (any registered factory)
//
// Outputs:
//   - Scope: The parsed scope.
//   - error: ErrMalformedScope, ErrUnknownFactory, or a factory error.
//
// Thread Safety: Safe for concurrent use.
func (r *Registry) Parse(text string) (Scope, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformedScope)
	}

	if parts := strings.Split(text, "+"); len(parts) > 1 {
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: %q: %w", ErrMalformedScope, text, ErrNestedComposite)
		}
		a, err := r.parseSingle(parts[0])
		if err != nil {
			return nil, err
		}
		b, err := r.parseSingle(parts[1])
		if err != nil {
			return nil, err
		}
		return NewComposite(a, b)
	}
	return r.parseSingle(text)
}

// ParseAll parses every entry and returns the first error encountered.
func (r *Registry) ParseAll(texts []string) ([]Scope, error) {
	scopes := make([]Scope, 0, len(texts))
	for _, t := range texts {
		s, err := r.Parse(t)
		if err != nil {
			return nil, err
		}
		scopes = append(scopes, s)
	}
	return scopes, nil
}

func (r *Registry) parseSingle(text string) (Scope, error) {
	text = strings.TrimSpace(text)
	prefix, arg, _ := strings.Cut(text, ":")
	factory, ok := r.Lookup(strings.TrimSpace(prefix))
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFactory, prefix)
	}
	s, err := factory(strings.TrimSpace(arg))
	if err != nil {
		return nil, fmt.Errorf("parse scope %q: %w", text, err)
	}
	if s == nil {
		return nil, fmt.Errorf("parse scope %q: %w", text, ErrNilScope)
	}
	return s, nil
}

func parseTag(arg string) (Scope, error) {
	name, precText, hasPrec := strings.Cut(arg, "@")
	if !hasPrec {
		return NewTag(name)
	}
	prec, err := strconv.Atoi(strings.TrimSpace(precText))
	if err != nil {
		return nil, fmt.Errorf("%w: tag precedence %q", ErrMalformedScope, precText)
	}
	return NewTagWithPrecedence(name, prec)
}
