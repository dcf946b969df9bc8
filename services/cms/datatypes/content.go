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

// =============================================================================
// News
// =============================================================================

// News is an article. Teaser and Body may contain HTML.
type News struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	Teaser          string    `json:"teaser"`
	Body            string    `json:"body"`
	Published       bool      `json:"published"`
	PublicationDate time.Time `json:"publication_date"`
	AuthorID        int64     `json:"author_id"`
	TermIDs         []int64   `json:"term_ids"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Version         int64     `json:"version"`
}

// Clone returns a deep copy of n.
func (n News) Clone() News {
	n.TermIDs = slices.Clone(n.TermIDs)
	return n
}

// HasTerm reports whether the article is tagged with termID.
func (n News) HasTerm(termID int64) bool {
	return slices.Contains(n.TermIDs, termID)
}

// NewsRequest is the body of the create and update article forms.
//
// # Validation
//
//   - title: required, 5-50 characters
//   - teaser: required, 10-250 characters
//   - body: required, at least 20 characters
//   - version: for updates, the version the editor loaded (0 skips the check)
type NewsRequest struct {
	Title           string     `json:"title" validate:"notblank,min=5,max=50"`
	Teaser          string     `json:"teaser" validate:"notblank,min=10,max=250"`
	Body            string     `json:"body" validate:"notblank,min=20"`
	Published       bool       `json:"published"`
	PublicationDate *time.Time `json:"publication_date,omitempty"`
	TermIDs         []int64    `json:"term_ids" validate:"omitempty,dive,gt=0"`
	Version         int64      `json:"version" validate:"gte=0"`
}

var newsRules = map[string]fieldRule{
	"title":    {label: "Title", message: "Title must be between 5 and 50 characters."},
	"teaser":   {label: "Teaser", message: "Teaser must be between 10 and 250 characters."},
	"body":     {label: "Body", message: "Body must be at least 20 characters long."},
	"term_ids": {label: "Terms", message: "Term ids must be positive."},
	"version":  {label: "Version", message: "Version must not be negative."},
}

// Validate checks the form. Returns a *ValidationError on failure.
func (r *NewsRequest) Validate() error {
	return validateStruct(r, newsRules)
}

// Apply copies the form onto n. Identity and audit fields are left alone.
func (r NewsRequest) Apply(n *News) {
	n.Title = r.Title
	n.Teaser = r.Teaser
	n.Body = r.Body
	n.Published = r.Published
	n.TermIDs = slices.Clone(r.TermIDs)
	if r.PublicationDate != nil {
		n.PublicationDate = *r.PublicationDate
	}
}

// PublicNews is the listing view of an article exposed to anonymous readers.
type PublicNews struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	Teaser          string    `json:"teaser"`
	Body            string    `json:"body,omitempty"`
	PublicationDate time.Time `json:"publication_date"`
	TermIDs         []int64   `json:"term_ids,omitempty"`
}

// ToPublic projects n for public listings. Body is included only when full.
func (n News) ToPublic(full bool) PublicNews {
	p := PublicNews{
		ID:              n.ID,
		Title:           n.Title,
		Teaser:          n.Teaser,
		PublicationDate: n.PublicationDate,
		TermIDs:         slices.Clone(n.TermIDs),
	}
	if full {
		p.Body = n.Body
	}
	return p
}

// =============================================================================
// Taxonomy
// =============================================================================

// Term is a taxonomy term (tag or category) within a vocabulary.
type Term struct {
	ID         int64  `json:"id"`
	Name       string `json:"name" validate:"notblank,min=2,max=100"`
	Vocabulary string `json:"vocabulary" validate:"notblank,min=2,max=50"`
}

var termRules = map[string]fieldRule{
	"name":       {label: "Name", message: "Name must be between 2 and 100 characters."},
	"vocabulary": {label: "Vocabulary", message: "Vocabulary must be between 2 and 50 characters."},
}

// Validate checks the term form. Returns a *ValidationError on failure.
func (t *Term) Validate() error {
	return validateStruct(t, termRules)
}
