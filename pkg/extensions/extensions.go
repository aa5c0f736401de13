// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines the access-control and audit hooks of the
// perfgate HTTP API.
//
// The API runs unauthenticated on a developer machine and behind bearer
// tokens in CI. Both modes use the same handlers; only the implementations
// injected through ServiceOptions differ.
//
// # Extension Categories
//
//   - auth.go: Authentication and authorization (AuthProvider, AuthzProvider)
//   - audit.go: Audit trail of baseline writes and gate decisions (AuditLogger)
//
// # Local Usage
//
// The defaults allow everything and record nothing:
//
//	opts := extensions.DefaultOptions()
//	handlers := perfgate.NewHandlers(svc, perfgate.WithExtensions(opts))
//
// # Shared Deployments
//
//	opts := extensions.DefaultOptions().
//	    WithAuth(extensions.NewTokenAuthProvider(tokens)).
//	    WithAuthz(extensions.NewRoleAuthzProvider(extensions.DefaultRoleRules())).
//	    WithAudit(extensions.NewSlogAuditLogger(logger))
//
// # Thread Safety
//
// All interface implementations must be safe for concurrent use.
package extensions

// ServiceOptions groups all extension points for handler configuration.
//
// All fields are optional; nil values are replaced with no-op defaults
// by Normalize.
type ServiceOptions struct {
	// AuthProvider validates bearer tokens.
	// Default: NopAuthProvider (always returns the local admin user)
	AuthProvider AuthProvider

	// AuthzProvider checks role permissions.
	// Default: NopAuthzProvider (always allows all actions)
	AuthzProvider AuthzProvider

	// AuditLogger records baseline writes, gate decisions and denials.
	// Default: NopAuditLogger (discards all events)
	AuditLogger AuditLogger
}

// DefaultOptions returns ServiceOptions with no-op defaults.
//
// All operations are allowed and no audit trail is kept.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider:  &NopAuthProvider{},
		AuthzProvider: &NopAuthzProvider{},
		AuditLogger:   &NopAuditLogger{},
	}
}

// Normalize returns a copy of opts with nil fields replaced by no-op
// defaults.
func (opts ServiceOptions) Normalize() ServiceOptions {
	def := DefaultOptions()
	if opts.AuthProvider == nil {
		opts.AuthProvider = def.AuthProvider
	}
	if opts.AuthzProvider == nil {
		opts.AuthzProvider = def.AuthzProvider
	}
	if opts.AuditLogger == nil {
		opts.AuditLogger = def.AuditLogger
	}
	return opts
}

// WithAuth returns a copy of opts with the given AuthProvider.
// Useful for fluent configuration.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

// WithAuthz returns a copy of opts with the given AuthzProvider.
func (opts ServiceOptions) WithAuthz(provider AuthzProvider) ServiceOptions {
	opts.AuthzProvider = provider
	return opts
}

// WithAudit returns a copy of opts with the given AuditLogger.
func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}
