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
	"net/http"
	"strings"

	"github.com/AleutianAI/phoebe/services/cms/datatypes"
	"github.com/AleutianAI/phoebe/services/cms/drafts"
	"github.com/AleutianAI/phoebe/services/cms/store"
	"github.com/gin-gonic/gin"
)

// =============================================================================
// Admin News Handlers
// =============================================================================

// ListNews returns a page of all articles, drafts included.
//
// Query parameters: page, size, q (title/teaser search), term_id.
func ListNews(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := store.NewsFilter{Query: strings.TrimSpace(c.Query("q"))}
		for _, raw := range c.QueryArray("term_id") {
			id, ok := parsePositive(raw)
			if !ok {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid term_id"})
				return
			}
			filter.TermIDs = append(filter.TermIDs, id)
		}
		news, err := d.Store.ListNews(c.Request.Context(), filter)
		if err != nil {
			respondError(c, d.logger(), err)
			return
		}
		page, size := pageParams(c)
		c.JSON(http.StatusOK, datatypes.Paginate(news, page, size))
	}
}

// GetNews returns one article including drafts.
func GetNews(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		n, err := d.Store.GetNews(c.Request.Context(), id)
		if err != nil {
			respondError(c, d.logger(), err)
			return
		}
		c.JSON(http.StatusOK, n)
	}
}

// CreateNews schedules a new article.
//
// # Description
//
// The request is validated and its terms checked before anything is
// scheduled. The article is written when the grace period of the caller's
// "news:new" form expires; until then DELETE /admin/saves/news:new undoes it.
//
// # Outputs
//
//   - 202: drafts.FormState of the pending save.
//   - 400: validation failed, with per-field messages.
//   - 409: the previous save of the form is still being written.
func CreateNews(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.NewsRequest
		if !bindJSON(c, &req) {
			return
		}
		if err := validateNews(c.Request.Context(), d, &req); err != nil {
			respondError(c, d.logger(), err)
			return
		}
		user := currentUser(c)
		m := drafts.Mutation{
			Resource: drafts.ResourceNews,
			Op:       drafts.OpCreate,
			Summary:  req.Title,
		}
		m.Apply = audited(d, user, m.Resource, m.Op, 0, func(ctx context.Context) (int64, error) {
			n := datatypes.News{AuthorID: user.UserID}
			req.Apply(&n)
			created, err := d.Store.CreateNews(ctx, n)
			return created.ID, err
		})
		submit(c, d, drafts.NewForm(drafts.ResourceNews), m)
	}
}

// UpdateNews schedules an edit of article :id.
//
// The request's version must match the stored article when the edit is
// written, otherwise the save fails with a conflict. A version of 0 skips
// the check.
func UpdateNews(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req datatypes.NewsRequest
		if !bindJSON(c, &req) {
			return
		}
		ctx := c.Request.Context()
		if _, err := d.Store.GetNews(ctx, id); err != nil {
			respondError(c, d.logger(), err)
			return
		}
		if err := validateNews(ctx, d, &req); err != nil {
			respondError(c, d.logger(), err)
			return
		}
		m := drafts.Mutation{
			Resource: drafts.ResourceNews,
			Op:       drafts.OpUpdate,
			TargetID: id,
			Summary:  req.Title,
		}
		m.Apply = audited(d, currentUser(c), m.Resource, m.Op, id, func(ctx context.Context) (int64, error) {
			_, err := d.Store.UpdateNews(ctx, id, req.Version, req.Apply)
			return id, err
		})
		submit(c, d, drafts.EditForm(drafts.ResourceNews, id), m)
	}
}

// DeleteNews removes article :id immediately and drops the caller's pending
// edit of it.
func DeleteNews(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		if err := d.Store.DeleteNews(c.Request.Context(), id); err != nil {
			respondError(c, d.logger(), err)
			return
		}
		d.Drafts.Dispose(currentUser(c).UserID, drafts.EditForm(drafts.ResourceNews, id))
		auditDelete(c, d, drafts.ResourceNews, id)
		c.Status(http.StatusNoContent)
	}
}

func validateNews(ctx context.Context, d *Deps, req *datatypes.NewsRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return checkTerms(ctx, d, "term_ids", req.TermIDs)
}
