// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/phoebe/pkg/extensions"
	"github.com/AleutianAI/phoebe/services/cms/datatypes"
	"golang.org/x/crypto/bcrypt"
)

// ErrUserNotFound must be wrapped by UserLookup when no account matches.
var ErrUserNotFound = errors.New("user not found")

// UserLookup is the slice of the user store the provider needs.
type UserLookup interface {
	GetUserByUsername(ctx context.Context, username string) (datatypes.User, error)
	RoleNames(ctx context.Context, roleIDs []int64) ([]string, error)
}

// dummyHash is compared against when the username is unknown so both paths
// cost one bcrypt comparison.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("phoebe-dummy-password"), bcrypt.MinCost)

// StoreAuthProvider checks credentials against stored bcrypt hashes.
//
// Thread-safe when the UserLookup is.
type StoreAuthProvider struct {
	users    UserLookup
	notFound func(error) bool
}

// NewStoreAuthProvider creates a provider over users. isNotFound recognizes
// the lookup's "no such user" error; nil means errors.Is(err, ErrUserNotFound).
func NewStoreAuthProvider(users UserLookup, isNotFound func(error) bool) *StoreAuthProvider {
	if isNotFound == nil {
		isNotFound = func(err error) bool { return errors.Is(err, ErrUserNotFound) }
	}
	return &StoreAuthProvider{users: users, notFound: isNotFound}
}

// Authenticate verifies username and password.
//
// # Outputs
//
//   - *extensions.AuthInfo: Identity with role names.
//   - error: extensions.ErrUnauthorized (wrapped) for unknown users, wrong
//     passwords and disabled accounts; other errors for store failures.
func (p *StoreAuthProvider) Authenticate(ctx context.Context, username, password string) (*extensions.AuthInfo, error) {
	user, err := p.users.GetUserByUsername(ctx, username)
	if err != nil {
		if p.notFound(err) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return nil, fmt.Errorf("unknown user %q: %w", username, extensions.ErrUnauthorized)
		}
		return nil, fmt.Errorf("look up user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return nil, fmt.Errorf("bad password for %q: %w", username, extensions.ErrUnauthorized)
	}
	if !user.Enabled {
		return nil, fmt.Errorf("account %q disabled: %w", username, extensions.ErrUnauthorized)
	}
	roles, err := p.users.RoleNames(ctx, user.RoleIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve roles: %w", err)
	}
	return &extensions.AuthInfo{
		UserID:   user.ID,
		Username: user.Username,
		Email:    user.Email,
		Roles:    roles,
	}, nil
}

// HashPassword returns the bcrypt hash stored for password.
func HashPassword(password string) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

var _ extensions.AuthProvider = (*StoreAuthProvider)(nil)
