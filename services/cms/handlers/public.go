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
	"github.com/AleutianAI/phoebe/services/cms/store"
	"github.com/gin-gonic/gin"
)

// =============================================================================
// Public Handlers
// =============================================================================

// ListPublicNews returns a page of published articles, newest first.
//
// Query parameters: page (0-based), size, and an optional repeated term_id.
func ListPublicNews(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := store.NewsFilter{PublishedOnly: true}
		for _, raw := range c.QueryArray("term_id") {
			id, ok := parsePositive(raw)
			if !ok {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid term_id"})
				return
			}
			filter.TermIDs = append(filter.TermIDs, id)
		}
		publicNewsPage(c, d, filter)
	}
}

// ListNewsByTerm returns published articles tagged with :termId.
func ListNewsByTerm(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		termID, ok := pathID(c, "termId")
		if !ok {
			return
		}
		if _, err := d.Store.GetTerm(c.Request.Context(), termID); err != nil {
			respondError(c, d.logger(), err)
			return
		}
		publicNewsPage(c, d, store.NewsFilter{PublishedOnly: true, TermIDs: []int64{termID}})
	}
}

// SearchNews returns published articles whose title or teaser contains ?q.
func SearchNews(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		q := strings.TrimSpace(c.Query("q"))
		if q == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter q is required"})
			return
		}
		publicNewsPage(c, d, store.NewsFilter{PublishedOnly: true, Query: q})
	}
}

func publicNewsPage(c *gin.Context, d *Deps, filter store.NewsFilter) {
	news, err := d.Store.ListNews(c.Request.Context(), filter)
	if err != nil {
		respondError(c, d.logger(), err)
		return
	}
	page, size := pageParams(c)
	c.JSON(http.StatusOK, datatypes.Paginate(toPublic(news, false), page, size))
}

// GetPublicNews returns one published article with its body. Drafts and
// articles scheduled for the future are reported as not found.
func GetPublicNews(d *Deps) gin.HandlerFunc {
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
		if !n.Published || n.PublicationDate.After(d.now()) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusOK, n.ToPublic(true))
	}
}

// GetPublicHomepage renders the homepage.
//
// # Description
//
// In SIMPLE mode the response carries the ten latest published articles. In
// BLOCKS mode it carries every block ordered by weight; news blocks are
// filled with their latest matching articles, with teasers blanked unless
// the block shows them.
func GetPublicHomepage(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		home, err := buildHomepage(c.Request.Context(), d)
		if err != nil {
			respondError(c, d.logger(), err)
			return
		}
		c.JSON(http.StatusOK, home)
	}
}

func buildHomepage(ctx context.Context, d *Deps) (datatypes.PublicHomepage, error) {
	settings, err := d.Store.HomepageSettings(ctx)
	if err != nil {
		return datatypes.PublicHomepage{}, err
	}
	home := datatypes.PublicHomepage{Mode: settings.Mode}
	if settings.Mode != datatypes.HomepageModeBlocks {
		news, err := d.Store.ListNews(ctx, store.NewsFilter{PublishedOnly: true})
		if err != nil {
			return datatypes.PublicHomepage{}, err
		}
		home.News = toPublic(news[:min(len(news), datatypes.SimpleHomepageSize)], false)
		return home, nil
	}

	blocks, err := d.Store.ListBlocks(ctx)
	if err != nil {
		return datatypes.PublicHomepage{}, err
	}
	home.Blocks = make([]datatypes.PublicHomepageBlock, 0, len(blocks))
	for _, b := range blocks {
		pb := datatypes.PublicHomepageBlock{HomePageBlock: b}
		if b.BlockType == datatypes.BlockTypeNews {
			news, err := d.Store.ListNews(ctx, store.NewsFilter{PublishedOnly: true, TermIDs: b.TermIDs})
			if err != nil {
				return datatypes.PublicHomepage{}, err
			}
			pb.News = toPublic(news[:min(len(news), b.NewsCount)], false)
			if !b.ShowTeaser {
				for i := range pb.News {
					pb.News[i].Teaser = ""
				}
			}
		}
		home.Blocks = append(home.Blocks, pb)
	}
	return home, nil
}

// GetPublicSettings returns the channel settings together with the terms
// of the main menu.
func GetPublicSettings(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		settings, err := d.Store.ChannelSettings(ctx)
		if err != nil {
			respondError(c, d.logger(), err)
			return
		}
		menu := make([]datatypes.Term, 0, len(settings.MainMenuTermIDs))
		for _, id := range settings.MainMenuTermIDs {
			t, err := d.Store.GetTerm(ctx, id)
			if err != nil {
				// Deleted terms drop out of the menu.
				continue
			}
			menu = append(menu, t)
		}
		c.JSON(http.StatusOK, gin.H{"settings": settings, "main_menu": menu})
	}
}

// ListPublicTerms returns every term.
func ListPublicTerms(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		terms, err := d.Store.ListTerms(c.Request.Context())
		if err != nil {
			respondError(c, d.logger(), err)
			return
		}
		c.JSON(http.StatusOK, terms)
	}
}

func toPublic(news []datatypes.News, full bool) []datatypes.PublicNews {
	out := make([]datatypes.PublicNews, len(news))
	for i, n := range news {
		out[i] = n.ToPublic(full)
	}
	return out
}
