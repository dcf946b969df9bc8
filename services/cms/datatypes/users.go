// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"slices"
	"time"
)

// Built-in role names.
const (
	RoleAdmin  = "ADMIN"
	RoleEditor = "EDITOR"
)

// Role groups permissions. Phoebe ships with ADMIN and EDITOR.
type Role struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// User is an admin panel account. PasswordHash is never serialized.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash []byte    `json:"-"`
	RoleIDs      []int64   `json:"role_ids"`
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// storedUser is the persisted shape of User, which keeps the hash.
type storedUser struct {
	User
	PasswordHash []byte `json:"password_hash"`
}

// UserRecord wraps u so that its password hash is included when encoded.
func UserRecord(u User) any {
	return storedUser{User: u, PasswordHash: u.PasswordHash}
}

// DecodeUserRecord restores a User from a value produced by UserRecord.
func DecodeUserRecord(decode func(any) error) (User, error) {
	var s storedUser
	if err := decode(&s); err != nil {
		return User{}, err
	}
	s.User.PasswordHash = s.PasswordHash
	return s.User, nil
}

// Clone returns a deep copy of u.
func (u User) Clone() User {
	u.RoleIDs = slices.Clone(u.RoleIDs)
	u.PasswordHash = slices.Clone(u.PasswordHash)
	return u
}

// UserCreateRequest is the body of the new-user form.
type UserCreateRequest struct {
	Username string  `json:"username" validate:"notblank,min=3,max=100"`
	Email    string  `json:"email" validate:"required,email"`
	Password string  `json:"password" validate:"required,min=8,max=72"`
	RoleIDs  []int64 `json:"role_ids" validate:"required,min=1,dive,gt=0"`
}

var userRules = map[string]fieldRule{
	"username": {label: "Username", message: "Username must be between 3 and 100 characters."},
	"email":    {label: "Email", message: "Valid email is required."},
	"password": {label: "Password", message: "Password must be between 8 and 72 characters."},
	"role_ids": {label: "Role", message: "At least one role must be selected."},
}

// Validate checks the form. Returns a *ValidationError on failure.
func (r *UserCreateRequest) Validate() error {
	return validateStruct(r, userRules)
}

// UserUpdateRequest is the body of the edit-user form. An empty Password
// keeps the current one.
type UserUpdateRequest struct {
	Email    string  `json:"email" validate:"required,email"`
	Password string  `json:"password" validate:"omitempty,min=8,max=72"`
	RoleIDs  []int64 `json:"role_ids" validate:"required,min=1,dive,gt=0"`
	Enabled  *bool   `json:"enabled,omitempty"`
}

// Validate checks the form. Returns a *ValidationError on failure.
func (r *UserUpdateRequest) Validate() error {
	return validateStruct(r, userRules)
}

