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

	"github.com/AleutianAI/phoebe/services/cms/datatypes"
	"github.com/AleutianAI/phoebe/services/cms/drafts"
	"github.com/gin-gonic/gin"
)

// ListTerms returns every term ordered by vocabulary and name.
func ListTerms(d *Deps) gin.HandlerFunc {
	return ListPublicTerms(d)
}

// GetTerm returns term :id.
func GetTerm(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		t, err := d.Store.GetTerm(c.Request.Context(), id)
		if err != nil {
			respondError(c, d.logger(), err)
			return
		}
		c.JSON(http.StatusOK, t)
	}
}

// CreateTerm schedules a new term under the caller's "term:new" form.
func CreateTerm(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var t datatypes.Term
		if !bindJSON(c, &t) {
			return
		}
		if err := t.Validate(); err != nil {
			respondError(c, d.logger(), err)
			return
		}
		t.ID = 0
		m := drafts.Mutation{
			Resource: drafts.ResourceTerm,
			Op:       drafts.OpCreate,
			Summary:  t.Vocabulary + "/" + t.Name,
		}
		m.Apply = audited(d, currentUser(c), m.Resource, m.Op, 0, func(ctx context.Context) (int64, error) {
			created, err := d.Store.CreateTerm(ctx, t)
			return created.ID, err
		})
		submit(c, d, drafts.NewForm(drafts.ResourceTerm), m)
	}
}

// UpdateTerm schedules an edit of term :id.
func UpdateTerm(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var t datatypes.Term
		if !bindJSON(c, &t) {
			return
		}
		if _, err := d.Store.GetTerm(c.Request.Context(), id); err != nil {
			respondError(c, d.logger(), err)
			return
		}
		if err := t.Validate(); err != nil {
			respondError(c, d.logger(), err)
			return
		}
		t.ID = id
		m := drafts.Mutation{
			Resource: drafts.ResourceTerm,
			Op:       drafts.OpUpdate,
			TargetID: id,
			Summary:  t.Vocabulary + "/" + t.Name,
		}
		m.Apply = audited(d, currentUser(c), m.Resource, m.Op, id, func(ctx context.Context) (int64, error) {
			_, err := d.Store.UpdateTerm(ctx, t)
			return id, err
		})
		submit(c, d, drafts.EditForm(drafts.ResourceTerm, id), m)
	}
}

// DeleteTerm removes term :id and strips it from articles, blocks and the menu.
func DeleteTerm(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		ctx := c.Request.Context()
		if err := d.Store.DeleteTerm(ctx, id); err != nil {
			respondError(c, d.logger(), err)
			return
		}
		refs, err := d.Store.RemoveTermReferences(ctx, id)
		if err != nil {
			respondError(c, d.logger(), err)
			return
		}
		if refs.News > 0 || refs.Blocks > 0 || refs.Menu {
			d.logger().Info("term references removed",
				"term_id", id, "news", refs.News, "blocks", refs.Blocks, "menu", refs.Menu)
		}
		d.Drafts.Dispose(currentUser(c).UserID, drafts.EditForm(drafts.ResourceTerm, id))
		auditDelete(c, d, drafts.ResourceTerm, id)
		c.Status(http.StatusNoContent)
	}
}
