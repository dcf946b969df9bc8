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
	"fmt"
	"net/http"

	"github.com/AleutianAI/phoebe/services/cms/datatypes"
	"github.com/AleutianAI/phoebe/services/cms/drafts"
	"github.com/gin-gonic/gin"
)

// =============================================================================
// Homepage Blocks
// =============================================================================

// ListBlocks returns every homepage block ordered by weight.
func ListBlocks(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		blocks, err := d.Store.ListBlocks(c.Request.Context())
		if err != nil {
			respondError(c, d.logger(), err)
			return
		}
		c.JSON(http.StatusOK, blocks)
	}
}

// GetBlock returns block :id.
func GetBlock(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		b, err := d.Store.GetBlock(c.Request.Context(), id)
		if err != nil {
			respondError(c, d.logger(), err)
			return
		}
		c.JSON(http.StatusOK, b)
	}
}

// CreateBlock schedules a new homepage block.
func CreateBlock(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var b datatypes.HomePageBlock
		if !bindJSON(c, &b) {
			return
		}
		if err := validateBlock(c.Request.Context(), d, &b); err != nil {
			respondError(c, d.logger(), err)
			return
		}
		b.ID = 0
		m := drafts.Mutation{
			Resource: drafts.ResourceBlock,
			Op:       drafts.OpCreate,
			Summary:  string(b.BlockType),
		}
		m.Apply = audited(d, currentUser(c), m.Resource, m.Op, 0, func(ctx context.Context) (int64, error) {
			created, err := d.Store.CreateBlock(ctx, b)
			return created.ID, err
		})
		submit(c, d, drafts.NewForm(drafts.ResourceBlock), m)
	}
}

// UpdateBlock schedules an edit of block :id.
func UpdateBlock(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var b datatypes.HomePageBlock
		if !bindJSON(c, &b) {
			return
		}
		ctx := c.Request.Context()
		if _, err := d.Store.GetBlock(ctx, id); err != nil {
			respondError(c, d.logger(), err)
			return
		}
		if err := validateBlock(ctx, d, &b); err != nil {
			respondError(c, d.logger(), err)
			return
		}
		b.ID = id
		m := drafts.Mutation{
			Resource: drafts.ResourceBlock,
			Op:       drafts.OpUpdate,
			TargetID: id,
			Summary:  string(b.BlockType),
		}
		m.Apply = audited(d, currentUser(c), m.Resource, m.Op, id, func(ctx context.Context) (int64, error) {
			_, err := d.Store.UpdateBlock(ctx, b)
			return id, err
		})
		submit(c, d, drafts.EditForm(drafts.ResourceBlock, id), m)
	}
}

// DeleteBlock removes block :id immediately.
func DeleteBlock(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		if err := d.Store.DeleteBlock(c.Request.Context(), id); err != nil {
			respondError(c, d.logger(), err)
			return
		}
		d.Drafts.Dispose(currentUser(c).UserID, drafts.EditForm(drafts.ResourceBlock, id))
		auditDelete(c, d, drafts.ResourceBlock, id)
		c.Status(http.StatusNoContent)
	}
}

func validateBlock(ctx context.Context, d *Deps, b *datatypes.HomePageBlock) error {
	if err := b.Validate(); err != nil {
		return err
	}
	return checkTerms(ctx, d, "term_ids", b.TermIDs)
}

func checkTerms(ctx context.Context, d *Deps, field string, ids []int64) error {
	missing, err := d.Store.MissingTerms(ctx, ids)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return &datatypes.ValidationError{Fields: map[string]string{
			field: fmt.Sprintf("Unknown terms: %v.", missing),
		}}
	}
	return nil
}

// =============================================================================
// Homepage Mode and Channel Settings
// =============================================================================

// GetHomepageMode returns the homepage settings.
func GetHomepageMode(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := d.Store.HomepageSettings(c.Request.Context())
		if err != nil {
			respondError(c, d.logger(), err)
			return
		}
		c.JSON(http.StatusOK, s)
	}
}

// PutHomepageMode schedules a homepage mode change.
func PutHomepageMode(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var s datatypes.HomepageSettings
		if !bindJSON(c, &s) {
			return
		}
		if err := s.Validate(); err != nil {
			respondError(c, d.logger(), err)
			return
		}
		m := drafts.Mutation{
			Resource: drafts.ResourceHomepage,
			Op:       drafts.OpUpdate,
			Summary:  string(s.Mode),
		}
		m.Apply = audited(d, currentUser(c), m.Resource, m.Op, 0, func(ctx context.Context) (int64, error) {
			return 0, d.Store.PutHomepageSettings(ctx, s)
		})
		submit(c, d, drafts.HomepageModeForm, m)
	}
}

// GetSettings returns the channel settings.
func GetSettings(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := d.Store.ChannelSettings(c.Request.Context())
		if err != nil {
			respondError(c, d.logger(), err)
			return
		}
		c.JSON(http.StatusOK, s)
	}
}

// PutSettings schedules a channel settings change.
func PutSettings(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var s datatypes.ChannelSettings
		if !bindJSON(c, &s) {
			return
		}
		ctx := c.Request.Context()
		if err := s.Validate(); err != nil {
			respondError(c, d.logger(), err)
			return
		}
		if err := checkTerms(ctx, d, "main_menu_term_ids", s.MainMenuTermIDs); err != nil {
			respondError(c, d.logger(), err)
			return
		}
		m := drafts.Mutation{
			Resource: drafts.ResourceSettings,
			Op:       drafts.OpUpdate,
			Summary:  s.SiteTitle,
		}
		m.Apply = audited(d, currentUser(c), m.Resource, m.Op, 0, func(ctx context.Context) (int64, error) {
			return 0, d.Store.PutChannelSettings(ctx, s)
		})
		submit(c, d, drafts.SettingsForm, m)
	}
}
