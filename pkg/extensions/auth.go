// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"slices"
)

// ErrUnauthorized is returned when authentication fails.
//
// Example:
//
//	if !validToken {
//	    return nil, fmt.Errorf("unknown token: %w", extensions.ErrUnauthorized)
//	}
var ErrUnauthorized = errors.New("unauthorized")

// ErrForbidden is returned when an authenticated user lacks permission.
var ErrForbidden = errors.New("forbidden")

// Roles understood by RoleAuthzProvider.
const (
	RoleAdmin  = "admin"
	RoleWriter = "writer"
	RoleReader = "reader"
)

// Actions checked by the perfgate API.
const (
	// ActionRead covers evaluations, comparisons, gates and lookups. None of
	// them mutate state.
	ActionRead = "read"

	// ActionCreate covers capturing baselines.
	ActionCreate = "create"
)

// AuthInfo contains identity information returned after successful authentication.
//
// Example:
//
//	info := &AuthInfo{
//	    UserID: "ci-pipeline",
//	    Roles:  []string{"writer"},
//	}
type AuthInfo struct {
	// UserID is the unique identifier for the authenticated user.
	// This is the only required field and must never be empty.
	UserID string

	// Roles contains the user's role memberships for authorization decisions.
	// Known roles: "admin", "writer", "reader"
	Roles []string
}

// HasRole checks if the user has a specific role.
func (a *AuthInfo) HasRole(role string) bool {
	return slices.Contains(a.Roles, role)
}

// AuthProvider validates authentication tokens and returns user identity.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type AuthProvider interface {
	// Validate checks if the token is valid and returns the user's identity.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - token: The bearer token without the "Bearer " prefix
	//
	// Returns:
	//   - *AuthInfo: User identity information if valid
	//   - error: ErrUnauthorized (or wrapped) if invalid, other errors for failures
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// AuthzRequest describes an authorization check request.
//
// Example:
//
//	req := AuthzRequest{
//	    User:         authInfo,
//	    Action:       extensions.ActionCreate,
//	    ResourceType: "baseline",
//	}
//	err := authzProvider.Authorize(ctx, req)
type AuthzRequest struct {
	// User is the authenticated user making the request.
	// This comes from AuthProvider.Validate().
	User *AuthInfo

	// Action is the operation being attempted.
	Action string

	// ResourceType is the category of resource being accessed.
	// Examples: "evaluation", "baseline", "profile"
	ResourceType string

	// ResourceID is the specific resource instance (optional).
	ResourceID string
}

// AuthzProvider checks if a user is authorized to perform an action.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type AuthzProvider interface {
	// Authorize checks if the user is permitted to perform the action.
	//
	// Returns:
	//   - nil: Action is authorized
	//   - error: ErrForbidden (or wrapped) if denied
	Authorize(ctx context.Context, req AuthzRequest) error
}

// NopAuthProvider is the default authentication provider.
//
// It always returns a valid local user with admin privileges, enabling
// the API to run on a workstation without any token setup.
//
// Thread-safe: This implementation has no mutable state.
type NopAuthProvider struct{}

// Validate always returns a valid local user with admin privileges.
//
// The token parameter is ignored; any value, including the empty string,
// authenticates.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		UserID: "local-user",
		Roles:  []string{RoleAdmin},
	}, nil
}

// NopAuthzProvider is the default authorization provider.
//
// It always allows all actions.
//
// Thread-safe: This implementation has no mutable state.
type NopAuthzProvider struct{}

// Authorize always returns nil, allowing all actions.
func (p *NopAuthzProvider) Authorize(_ context.Context, _ AuthzRequest) error {
	return nil
}

// TokenAuthProvider authenticates static bearer tokens.
//
// Tokens are compared in constant time. The token table is fixed at
// construction.
//
// Thread-safe: The token table is read-only after construction.
type TokenAuthProvider struct {
	tokens []tokenEntry
}

type tokenEntry struct {
	token []byte
	info  AuthInfo
}

// NewTokenAuthProvider creates a provider from a token to identity table.
// Entries with an empty token or user id are skipped.
func NewTokenAuthProvider(tokens map[string]AuthInfo) *TokenAuthProvider {
	p := &TokenAuthProvider{}
	for token, info := range tokens {
		if token == "" || info.UserID == "" {
			continue
		}
		info.Roles = slices.Clone(info.Roles)
		p.tokens = append(p.tokens, tokenEntry{token: []byte(token), info: info})
	}
	return p
}

// Validate returns the identity bound to token.
//
// Every entry is compared so the time taken does not depend on which
// entry matched.
func (p *TokenAuthProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if token == "" {
		return nil, fmt.Errorf("missing bearer token: %w", ErrUnauthorized)
	}
	presented := []byte(token)
	var match *AuthInfo
	for i := range p.tokens {
		if subtle.ConstantTimeCompare(p.tokens[i].token, presented) == 1 {
			match = &p.tokens[i].info
		}
	}
	if match == nil {
		return nil, fmt.Errorf("unknown bearer token: %w", ErrUnauthorized)
	}
	info := *match
	info.Roles = slices.Clone(match.Roles)
	return &info, nil
}

// RoleAuthzProvider grants actions by role.
//
// Admins may do everything. Other users need one of the roles listed for
// the action; actions without an entry are denied.
//
// Thread-safe: The rule table is read-only after construction.
type RoleAuthzProvider struct {
	rules map[string][]string
}

// DefaultRoleRules lets readers and writers read, and only writers create
// baselines.
func DefaultRoleRules() map[string][]string {
	return map[string][]string{
		ActionRead:   {RoleReader, RoleWriter},
		ActionCreate: {RoleWriter},
	}
}

// NewRoleAuthzProvider creates a provider from an action to roles table.
func NewRoleAuthzProvider(rules map[string][]string) *RoleAuthzProvider {
	copied := make(map[string][]string, len(rules))
	for action, roles := range rules {
		copied[action] = slices.Clone(roles)
	}
	return &RoleAuthzProvider{rules: copied}
}

// Authorize implements AuthzProvider.
func (p *RoleAuthzProvider) Authorize(_ context.Context, req AuthzRequest) error {
	if req.User == nil {
		return fmt.Errorf("no authenticated user: %w", ErrForbidden)
	}
	if req.User.HasRole(RoleAdmin) {
		return nil
	}
	for _, role := range p.rules[req.Action] {
		if req.User.HasRole(role) {
			return nil
		}
	}
	return fmt.Errorf("user %s cannot %s %s: %w", req.User.UserID, req.Action, req.ResourceType, ErrForbidden)
}

// Compile-time interface compliance checks.
var (
	_ AuthProvider  = (*NopAuthProvider)(nil)
	_ AuthzProvider = (*NopAuthzProvider)(nil)
	_ AuthProvider  = (*TokenAuthProvider)(nil)
	_ AuthzProvider = (*RoleAuthzProvider)(nil)
)
