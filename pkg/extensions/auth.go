// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"errors"
	"slices"
)

// ErrUnauthorized is returned when credentials are missing or wrong.
// Implementations should wrap it with additional context.
//
// Example:
//
//	if !match {
//	    return nil, fmt.Errorf("bad password for %q: %w", username, extensions.ErrUnauthorized)
//	}
var ErrUnauthorized = errors.New("unauthorized")

// ErrForbidden is returned when an authenticated user lacks a required role.
var ErrForbidden = errors.New("forbidden")

// AuthInfo is the identity of an authenticated admin panel user.
//
// Required fields (always populated):
//   - UserID: Store id of the account
//   - Username: Login name
//
// Optional fields:
//   - Email: Contact address
//   - Roles: Role names such as "ADMIN" or "EDITOR"
type AuthInfo struct {
	UserID   int64    `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email,omitempty"`
	Roles    []string `json:"roles"`
}

// HasRole reports whether the user holds role.
func (a *AuthInfo) HasRole(role string) bool {
	return slices.Contains(a.Roles, role)
}

// HasAnyRole reports whether the user holds at least one of roles.
func (a *AuthInfo) HasAnyRole(roles ...string) bool {
	return slices.ContainsFunc(roles, a.HasRole)
}

// AuthProvider checks a username and password and returns the user's identity.
//
// Implementations must be safe for concurrent use by multiple goroutines.
//
// # Open Source Behavior
//
// The CMS ships a store-backed provider that verifies bcrypt hashes.
// NopAuthProvider accepts anyone as a local administrator and is meant for
// single-user local demos only.
type AuthProvider interface {
	// Authenticate returns the identity for valid credentials.
	//
	// Returns:
	//   - *AuthInfo: User identity if valid
	//   - error: ErrUnauthorized (or wrapped) if invalid, other errors for failures
	Authenticate(ctx context.Context, username, password string) (*AuthInfo, error)
}

// NopAuthProvider authenticates every request as a local administrator.
//
// Thread-safe: This implementation has no mutable state.
type NopAuthProvider struct{}

// Authenticate always succeeds. Credentials are ignored.
func (p *NopAuthProvider) Authenticate(_ context.Context, _, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		UserID:   0,
		Username: "local-user",
		Roles:    []string{"ADMIN"},
	}, nil
}

var _ AuthProvider = (*NopAuthProvider)(nil)
