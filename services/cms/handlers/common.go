// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the Phoebe HTTP API.
//
// Public handlers serve published content to anonymous readers. Admin
// handlers manage content; creates and updates are not written right away
// but scheduled through the drafts registry and answered with 202 Accepted
// and the pending save's state, so the editor can undo them during the grace
// period. Deletes take effect immediately.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/AleutianAI/phoebe/pkg/extensions"
	"github.com/AleutianAI/phoebe/pkg/undosave"
	"github.com/AleutianAI/phoebe/services/cms/datatypes"
	"github.com/AleutianAI/phoebe/services/cms/drafts"
	"github.com/AleutianAI/phoebe/services/cms/middleware"
	"github.com/AleutianAI/phoebe/services/cms/observability"
	"github.com/AleutianAI/phoebe/services/cms/store"
	"github.com/gin-gonic/gin"
)

// Deps are the collaborators shared by all handlers.
type Deps struct {
	Store   *store.Store
	Drafts  *drafts.Registry
	Audit   extensions.AuditLogger
	Metrics *observability.SaveMetrics
	Logger  *slog.Logger

	// Now is the time source for publication checks. Default: time.Now.
	Now func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d *Deps) audit() extensions.AuditLogger {
	if d.Audit != nil {
		return d.Audit
	}
	return extensions.NopAuditLogger{}
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// FailureMessage maps a write error to the message editors see when a
// delayed save fails.
func FailureMessage(err error) string {
	switch {
	case errors.Is(err, store.ErrConflict):
		return "This item was changed by someone else. Reload it and try again."
	case errors.Is(err, store.ErrNotFound):
		return "This item no longer exists."
	case errors.Is(err, store.ErrDuplicate):
		return "That name is already taken."
	default:
		return undosave.DefaultFailureMessage
	}
}

// =============================================================================
// Helpers
// =============================================================================

// respondError maps err to a status code and a gin.H body.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	var verr *datatypes.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": verr.Fields})
	case errors.Is(err, store.ErrNotFound), errors.Is(err, drafts.ErrUnknownForm):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "the item was modified concurrently"})
	case errors.Is(err, store.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": "already exists"})
	case errors.Is(err, drafts.ErrInvalidForm):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid form key"})
	case errors.Is(err, drafts.ErrClosed), errors.Is(err, store.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service is shutting down"})
	default:
		logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// bindJSON decodes the body into v, answering 400 on malformed JSON.
func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return false
	}
	return true
}

// pathID parses a positive int64 path parameter, answering 400 otherwise.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// pageParams reads ?page and ?size. Bad values fall back to defaults.
func pageParams(c *gin.Context) (int, int) {
	page, err := strconv.Atoi(c.Query("page"))
	if err != nil || page < 0 {
		page = 0
	}
	size, err := strconv.Atoi(c.Query("size"))
	if err != nil || size <= 0 {
		size = datatypes.DefaultPageSize
	}
	return page, size
}

// currentUser returns the authenticated user. Admin routes always run
// behind BasicAuth, so a nil result means a wiring mistake.
func currentUser(c *gin.Context) *extensions.AuthInfo {
	if info := middleware.GetAuthInfo(c); info != nil {
		return info
	}
	return &extensions.AuthInfo{Username: "anonymous"}
}

// submit schedules m and answers 202 with the form's state.
func submit(c *gin.Context, d *Deps, form string, m drafts.Mutation) {
	user := currentUser(c)
	state, err := d.Drafts.Submit(user.UserID, form, m)
	if errors.Is(err, undosave.ErrCommitInFlight) {
		c.JSON(http.StatusConflict, gin.H{
			"error": "the previous save of this form is still being written, try again",
			"save":  state,
		})
		return
	}
	if err != nil {
		respondError(c, d.logger(), err)
		return
	}
	c.JSON(http.StatusAccepted, state)
}

// audited wraps a write so its outcome lands in the audit log.
func audited(d *Deps, user *extensions.AuthInfo, resource string, op drafts.Op, targetID int64,
	apply func(ctx context.Context) (int64, error)) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		id, err := apply(ctx)
		if id == 0 {
			id = targetID
		}
		event := extensions.AuditEvent{
			EventType:    "content.commit",
			UserID:       user.UserID,
			Username:     user.Username,
			Action:       string(op),
			ResourceType: resource,
			ResourceID:   id,
			Outcome:      "success",
		}
		if err != nil {
			event.Outcome = "failure"
			event.Metadata = map[string]any{"error": err.Error()}
		}
		if logErr := d.audit().Log(ctx, event); logErr != nil {
			d.logger().Warn("failed to write audit event", "error", logErr)
		}
		return err
	}
}

// auditDelete records an immediate delete.
func auditDelete(c *gin.Context, d *Deps, resource string, id int64) {
	auditAction(c, d, "content.delete", "delete", resource, id)
}

func auditAction(c *gin.Context, d *Deps, eventType, action, resource string, id int64) {
	user := currentUser(c)
	event := extensions.AuditEvent{
		EventType:    eventType,
		UserID:       user.UserID,
		Username:     user.Username,
		Action:       action,
		ResourceType: resource,
		ResourceID:   id,
		Outcome:      "success",
	}
	if rid := middleware.GetRequestID(c); rid != "" {
		event.Metadata = map[string]any{"request_id": rid}
	}
	if err := d.audit().Log(c.Request.Context(), event); err != nil {
		d.logger().Warn("failed to write audit event", "error", err)
	}
}

func parsePositive(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
