// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/AleutianAI/phoebe/services/cms/datatypes"
	"github.com/AleutianAI/phoebe/services/cms/drafts"
	"github.com/AleutianAI/phoebe/services/cms/middleware"
	"github.com/AleutianAI/phoebe/services/cms/store"
	"github.com/gin-gonic/gin"
)

// =============================================================================
// User Handlers
// =============================================================================

// GetMe returns the authenticated caller.
func GetMe(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}

// ListRoles returns the built-in roles.
func ListRoles(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		roles, err := d.Store.ListRoles(c.Request.Context())
		if err != nil {
			respondError(c, d.logger(), err)
			return
		}
		c.JSON(http.StatusOK, roles)
	}
}

// ListUsers returns every user ordered by username. Password hashes are
// never serialized.
func ListUsers(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		users, err := d.Store.ListUsers(c.Request.Context())
		if err != nil {
			respondError(c, d.logger(), err)
			return
		}
		c.JSON(http.StatusOK, users)
	}
}

// GetUser returns user :id.
func GetUser(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		u, err := d.Store.GetUser(c.Request.Context(), id)
		if err != nil {
			respondError(c, d.logger(), err)
			return
		}
		c.JSON(http.StatusOK, u)
	}
}

// CreateUser schedules a new account.
//
// # Description
//
// The password is hashed with bcrypt before scheduling so the plaintext
// never sits in a pending save. A username that is already taken is
// rejected up front with 409; a race with another create surfaces as a
// failed save.
func CreateUser(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.UserCreateRequest
		if !bindJSON(c, &req) {
			return
		}
		ctx := c.Request.Context()
		if err := req.Validate(); err != nil {
			respondError(c, d.logger(), err)
			return
		}
		if err := checkRoles(ctx, d, req.RoleIDs); err != nil {
			respondError(c, d.logger(), err)
			return
		}
		if _, err := d.Store.GetUserByUsername(ctx, req.Username); err == nil {
			c.JSON(http.StatusConflict, gin.H{"error": "username already taken"})
			return
		} else if !errors.Is(err, store.ErrNotFound) {
			respondError(c, d.logger(), err)
			return
		}
		hash, err := middleware.HashPassword(req.Password)
		if err != nil {
			respondError(c, d.logger(), err)
			return
		}
		u := datatypes.User{
			Username:     req.Username,
			Email:        req.Email,
			PasswordHash: hash,
			RoleIDs:      req.RoleIDs,
			Enabled:      true,
		}
		m := drafts.Mutation{
			Resource: drafts.ResourceUser,
			Op:       drafts.OpCreate,
			Summary:  req.Username,
		}
		m.Apply = audited(d, currentUser(c), m.Resource, m.Op, 0, func(ctx context.Context) (int64, error) {
			created, err := d.Store.CreateUser(ctx, u)
			return created.ID, err
		})
		submit(c, d, drafts.NewForm(drafts.ResourceUser), m)
	}
}

// UpdateUser schedules an edit of user :id. An empty password keeps the
// current one; the username cannot be changed.
func UpdateUser(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req datatypes.UserUpdateRequest
		if !bindJSON(c, &req) {
			return
		}
		ctx := c.Request.Context()
		existing, err := d.Store.GetUser(ctx, id)
		if err != nil {
			respondError(c, d.logger(), err)
			return
		}
		if err := req.Validate(); err != nil {
			respondError(c, d.logger(), err)
			return
		}
		if err := checkRoles(ctx, d, req.RoleIDs); err != nil {
			respondError(c, d.logger(), err)
			return
		}
		var hash []byte
		if req.Password != "" {
			if hash, err = middleware.HashPassword(req.Password); err != nil {
				respondError(c, d.logger(), err)
				return
			}
		}
		m := drafts.Mutation{
			Resource: drafts.ResourceUser,
			Op:       drafts.OpUpdate,
			TargetID: id,
			Summary:  existing.Username,
		}
		m.Apply = audited(d, currentUser(c), m.Resource, m.Op, id, func(ctx context.Context) (int64, error) {
			_, err := d.Store.UpdateUser(ctx, id, func(u *datatypes.User) {
				u.Email = req.Email
				u.RoleIDs = req.RoleIDs
				if req.Enabled != nil {
					u.Enabled = *req.Enabled
				}
				if hash != nil {
					u.PasswordHash = hash
				}
			})
			return id, err
		})
		submit(c, d, drafts.EditForm(drafts.ResourceUser, id), m)
	}
}

// DeleteUser removes user :id immediately. Users cannot delete themselves.
func DeleteUser(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		caller := currentUser(c)
		if caller.UserID == id {
			c.JSON(http.StatusBadRequest, gin.H{"error": "you cannot delete your own account"})
			return
		}
		if err := d.Store.DeleteUser(c.Request.Context(), id); err != nil {
			respondError(c, d.logger(), err)
			return
		}
		d.Drafts.Dispose(caller.UserID, drafts.EditForm(drafts.ResourceUser, id))
		auditDelete(c, d, drafts.ResourceUser, id)
		c.Status(http.StatusNoContent)
	}
}

func checkRoles(ctx context.Context, d *Deps, ids []int64) error {
	names, err := d.Store.RoleNames(ctx, ids)
	if err != nil {
		return err
	}
	if len(names) != len(ids) {
		return &datatypes.ValidationError{Fields: map[string]string{
			"role_ids": fmt.Sprintf("Unknown roles in %v.", ids),
		}}
	}
	return nil
}
