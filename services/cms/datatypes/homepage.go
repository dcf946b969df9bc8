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
	"strings"
)

// =============================================================================
// Homepage Layout
// =============================================================================

// BlockType distinguishes homepage block kinds.
type BlockType string

const (
	// BlockTypeNews lists the latest articles tagged with the block's terms.
	BlockTypeNews BlockType = "NEWS_BLOCK"

	// BlockTypeWidget renders static HTML content.
	BlockTypeWidget BlockType = "WIDGET_BLOCK"
)

// HomepageMode selects how the public homepage is composed.
type HomepageMode string

const (
	// HomepageModeSimple shows the ten latest published articles.
	HomepageModeSimple HomepageMode = "SIMPLE"

	// HomepageModeBlocks shows the configured blocks ordered by weight.
	HomepageModeBlocks HomepageMode = "BLOCKS"
)

// SimpleHomepageSize is the number of articles on a SIMPLE homepage.
const SimpleHomepageSize = 10

// HomePageBlock is one section of a BLOCKS homepage.
type HomePageBlock struct {
	ID            int64     `json:"id"`
	Weight        int       `json:"weight"`
	BlockType     BlockType `json:"block_type" validate:"required,oneof=NEWS_BLOCK WIDGET_BLOCK"`
	TermIDs       []int64   `json:"term_ids" validate:"omitempty,dive,gt=0"`
	NewsCount     int       `json:"news_count" validate:"required_if=BlockType NEWS_BLOCK,gte=0,lte=50"`
	ShowTeaser    bool      `json:"show_teaser"`
	TitleFontSize string    `json:"title_font_size" validate:"max=20"`
	Content       string    `json:"content"`
}

var blockRules = map[string]fieldRule{
	"block_type":      {label: "Block type", message: "Block type must be NEWS_BLOCK or WIDGET_BLOCK."},
	"term_ids":        {label: "Terms", message: "A news block needs at least one term."},
	"news_count":      {label: "News count", message: "News count must be between 1 and 50."},
	"title_font_size": {label: "Title font size", message: "Title font size must not exceed 20 characters."},
}

// Validate checks the block form. Returns a *ValidationError on failure.
func (b *HomePageBlock) Validate() error {
	if err := validateStruct(b, blockRules); err != nil {
		return err
	}
	if b.BlockType == BlockTypeNews && len(b.TermIDs) == 0 {
		return &ValidationError{Fields: map[string]string{"term_ids": blockRules["term_ids"].message}}
	}
	return nil
}

// Clone returns a deep copy of b.
func (b HomePageBlock) Clone() HomePageBlock {
	b.TermIDs = slices.Clone(b.TermIDs)
	return b
}

// HomepageSettings holds the homepage composition mode.
type HomepageSettings struct {
	Mode HomepageMode `json:"mode" validate:"required,oneof=SIMPLE BLOCKS"`
}

var homepageRules = map[string]fieldRule{
	"mode": {label: "Mode", message: "Mode must be SIMPLE or BLOCKS."},
}

// Validate checks the mode form. Returns a *ValidationError on failure.
func (s *HomepageSettings) Validate() error {
	return validateStruct(s, homepageRules)
}

// PublicHomepageBlock is a block with its resolved articles.
type PublicHomepageBlock struct {
	HomePageBlock
	News []PublicNews `json:"news,omitempty"`
}

// PublicHomepage is the rendered homepage for anonymous readers.
type PublicHomepage struct {
	Mode   HomepageMode          `json:"mode"`
	News   []PublicNews          `json:"news,omitempty"`
	Blocks []PublicHomepageBlock `json:"blocks,omitempty"`
}

// =============================================================================
// Channel Settings
// =============================================================================

// ChannelSettings are site-wide metadata and chrome.
type ChannelSettings struct {
	SiteTitle       string  `json:"site_title" validate:"max=255"`
	MetaDescription string  `json:"meta_description" validate:"max=500"`
	MetaKeywords    string  `json:"meta_keywords" validate:"max=500"`
	SiteURL         string  `json:"site_url" validate:"omitempty,max=255,url"`
	LogoURL         string  `json:"logo_url" validate:"omitempty,max=500,url"`
	HeaderHTML      string  `json:"header_html"`
	FooterHTML      string  `json:"footer_html"`
	MainMenuTermIDs []int64 `json:"main_menu_term_ids" validate:"omitempty,dive,gt=0"`
}

var channelRules = map[string]fieldRule{
	"site_title":         {label: "Site title", message: "Site title must not exceed 255 characters."},
	"meta_description":   {label: "Meta description", message: "Meta description must not exceed 500 characters."},
	"meta_keywords":      {label: "Meta keywords", message: "Meta keywords must not exceed 500 characters."},
	"site_url":           {label: "Site URL", message: "Site URL must be a valid URL of at most 255 characters."},
	"logo_url":           {label: "Logo URL", message: "Logo URL must be a valid URL of at most 500 characters."},
	"main_menu_term_ids": {label: "Main menu", message: "Main menu term ids must be positive."},
}

// Validate checks the settings form. Returns a *ValidationError on failure.
func (s *ChannelSettings) Validate() error {
	s.SiteTitle = strings.TrimSpace(s.SiteTitle)
	return validateStruct(s, channelRules)
}

// =============================================================================
// Paging
// =============================================================================

// Default and maximum page sizes for listings.
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Page is one page of a listing. Page numbers start at zero.
type Page[T any] struct {
	Content       []T  `json:"content"`
	Page          int  `json:"page"`
	Size          int  `json:"size"`
	TotalElements int  `json:"total_elements"`
	TotalPages    int  `json:"total_pages"`
	Last          bool `json:"last"`
}

// Paginate slices items into the requested page. Out-of-range pages are empty.
func Paginate[T any](items []T, page, size int) Page[T] {
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	if page < 0 {
		page = 0
	}
	total := len(items)
	totalPages := (total + size - 1) / size
	p := Page[T]{
		Content:       []T{},
		Page:          page,
		Size:          size,
		TotalElements: total,
		TotalPages:    totalPages,
		Last:          page >= totalPages-1,
	}
	// page is caller-controlled; page*size would overflow for huge values.
	if page >= totalPages {
		return p
	}
	start := page * size
	end := min(start+size, total)
	p.Content = items[start:end]
	return p
}
