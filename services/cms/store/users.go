// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/AleutianAI/phoebe/services/cms/datatypes"
	"github.com/dgraph-io/badger/v4"
)

const (
	userPrefix     = "user/"
	userNamePrefix = "user-name/"
	rolePrefix     = "role/"
)

// Fixed role ids seeded by EnsureRoles.
const (
	RoleIDAdmin  int64 = 1
	RoleIDEditor int64 = 2
)

// =============================================================================
// Roles
// =============================================================================

// EnsureRoles creates the built-in ADMIN and EDITOR roles if missing.
func (s *Store) EnsureRoles(ctx context.Context) error {
	builtin := []datatypes.Role{
		{ID: RoleIDAdmin, Name: datatypes.RoleAdmin},
		{ID: RoleIDEditor, Name: datatypes.RoleEditor},
	}
	err := s.update(ctx, func(txn *badger.Txn) error {
		for _, r := range builtin {
			_, err := getJSON[datatypes.Role](txn, idKey(rolePrefix, r.ID))
			if err == nil {
				continue
			}
			if !errors.Is(err, ErrNotFound) {
				return err
			}
			if err := putJSON(txn, idKey(rolePrefix, r.ID), r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("seed roles: %w", err)
	}
	return nil
}

// ListRoles returns all roles ordered by id.
func (s *Store) ListRoles(ctx context.Context) ([]datatypes.Role, error) {
	var out []datatypes.Role
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		out, err = scanJSON[datatypes.Role](txn, rolePrefix)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return out, nil
}

// RoleNames resolves role ids to names. Unknown ids are skipped.
func (s *Store) RoleNames(ctx context.Context, ids []int64) ([]string, error) {
	roles, err := s.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, r := range roles {
		if slices.Contains(ids, r.ID) {
			names = append(names, r.Name)
		}
	}
	return names, nil
}

// =============================================================================
// Users
// =============================================================================

func userNameKey(username string) []byte {
	return []byte(userNamePrefix + strings.ToLower(username))
}

func getUser(txn *badger.Txn, id int64) (datatypes.User, error) {
	item, err := txn.Get(idKey(userPrefix, id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return datatypes.User{}, ErrNotFound
	}
	if err != nil {
		return datatypes.User{}, err
	}
	var u datatypes.User
	err = item.Value(func(val []byte) error {
		u, err = datatypes.DecodeUserRecord(func(v any) error {
			return json.Unmarshal(val, v)
		})
		return err
	})
	return u, err
}

func putUser(txn *badger.Txn, u datatypes.User) error {
	return putJSON(txn, idKey(userPrefix, u.ID), datatypes.UserRecord(u))
}

// CreateUser stores a new account. Usernames are unique, case-insensitively.
//
// # Outputs
//
//   - datatypes.User: The stored user with id and timestamps.
//   - error: ErrDuplicate if the username is taken.
func (s *Store) CreateUser(ctx context.Context, u datatypes.User) (datatypes.User, error) {
	id, err := s.nextID("user")
	if err != nil {
		return datatypes.User{}, err
	}
	now := s.now().UTC()
	u = u.Clone()
	u.ID = id
	u.CreatedAt = now
	u.UpdatedAt = now
	err = s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(userNameKey(u.Username)); err == nil {
			return fmt.Errorf("%w: username %q", ErrDuplicate, u.Username)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(userNameKey(u.Username), []byte(strconv.FormatInt(id, 10))); err != nil {
			return err
		}
		return putUser(txn, u)
	})
	if err != nil {
		return datatypes.User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// UpdateUser applies mutate to user id. The username cannot change.
func (s *Store) UpdateUser(ctx context.Context, id int64, mutate func(*datatypes.User)) (datatypes.User, error) {
	var out datatypes.User
	err := s.update(ctx, func(txn *badger.Txn) error {
		u, err := getUser(txn, id)
		if err != nil {
			return err
		}
		username := u.Username
		mutate(&u)
		u.ID = id
		u.Username = username
		u.UpdatedAt = s.now().UTC()
		out = u
		return putUser(txn, u)
	})
	if err != nil {
		return datatypes.User{}, fmt.Errorf("update user %d: %w", id, err)
	}
	return out, nil
}

// GetUser loads user id.
func (s *Store) GetUser(ctx context.Context, id int64) (datatypes.User, error) {
	var out datatypes.User
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		out, err = getUser(txn, id)
		return err
	})
	if err != nil {
		return datatypes.User{}, fmt.Errorf("get user %d: %w", id, err)
	}
	return out, nil
}

// GetUserByUsername loads a user by login name, case-insensitively.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (datatypes.User, error) {
	var out datatypes.User
	err := s.view(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(userNameKey(username))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		id, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("corrupt username index for %q: %w", username, err)
		}
		out, err = getUser(txn, id)
		return err
	})
	if err != nil {
		return datatypes.User{}, fmt.Errorf("get user %q: %w", username, err)
	}
	return out, nil
}

// DeleteUser removes user id and its username index entry.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		u, err := getUser(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(userNameKey(u.Username)); err != nil {
			return err
		}
		return txn.Delete(idKey(userPrefix, id))
	})
	if err != nil {
		return fmt.Errorf("delete user %d: %w", id, err)
	}
	return nil
}

// ListUsers returns all users ordered by username.
func (s *Store) ListUsers(ctx context.Context) ([]datatypes.User, error) {
	var out []datatypes.User
	err := s.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(userPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var u datatypes.User
			err := it.Item().Value(func(val []byte) error {
				var err error
				u, err = datatypes.DecodeUserRecord(func(v any) error {
					return json.Unmarshal(val, v)
				})
				return err
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, u)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	slices.SortFunc(out, func(a, b datatypes.User) int {
		return cmp.Compare(strings.ToLower(a.Username), strings.ToLower(b.Username))
	})
	return out, nil
}

// CountUsers returns the number of accounts.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	n := 0
	err := s.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(userPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}
