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
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validNews() NewsRequest {
	return NewsRequest{
		Title:  "Harbour reopens",
		Teaser: "The harbour reopened on Monday.",
		Body:   "<p>After three weeks of repairs the harbour reopened.</p>",
	}
}

func fieldsOf(t *testing.T, err error) map[string]string {
	t.Helper()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrValidation))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	return verr.Fields
}

// =============================================================================
// News Validation
// =============================================================================

func TestNewsRequest_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*NewsRequest)
		field  string
		msg    string
	}{
		{"missing title", func(r *NewsRequest) { r.Title = "" }, "title", "Title is required."},
		{"blank title", func(r *NewsRequest) { r.Title = "   " }, "title", "Title is required."},
		{"short title", func(r *NewsRequest) { r.Title = "Hi" }, "title", "Title must be between 5 and 50 characters."},
		{"long title", func(r *NewsRequest) { r.Title = strings.Repeat("x", 51) }, "title", "Title must be between 5 and 50 characters."},
		{"short teaser", func(r *NewsRequest) { r.Teaser = "short" }, "teaser", "Teaser must be between 10 and 250 characters."},
		{"missing body", func(r *NewsRequest) { r.Body = "" }, "body", "Body is required."},
		{"short body", func(r *NewsRequest) { r.Body = "too short" }, "body", "Body must be at least 20 characters long."},
		{"bad term id", func(r *NewsRequest) { r.TermIDs = []int64{1, 0} }, "term_ids", "Term ids must be positive."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validNews()
			tt.mutate(&req)
			fields := fieldsOf(t, req.Validate())
			assert.Equal(t, tt.msg, fields[tt.field])
		})
	}

	t.Run("valid", func(t *testing.T) {
		req := validNews()
		assert.NoError(t, req.Validate())
	})

	t.Run("title length counts characters not bytes", func(t *testing.T) {
		req := validNews()
		req.Title = strings.Repeat("ü", 50)
		assert.NoError(t, req.Validate())
	})
}

func TestValidationError_Message(t *testing.T) {
	req := NewsRequest{}
	err := req.Validate()
	require.Error(t, err)
	assert.Equal(t, "validation failed: body: Body is required.; teaser: Teaser is required.; title: Title is required.", err.Error())
}

func TestNewsRequest_Apply(t *testing.T) {
	date := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	req := validNews()
	req.TermIDs = []int64{3, 4}
	req.PublicationDate = &date

	var n News
	req.Apply(&n)
	req.TermIDs[0] = 99
	*req.PublicationDate = date.Add(time.Hour)

	assert.Equal(t, req.Title, n.Title)
	assert.Equal(t, date, n.PublicationDate)
	assert.True(t, n.HasTerm(3))
	assert.False(t, n.HasTerm(99))
}

// =============================================================================
// Term, User, Block, Settings Validation
// =============================================================================

func TestTerm_Validate(t *testing.T) {
	assert.NoError(t, (&Term{Name: "Politics", Vocabulary: "Sections"}).Validate())

	fields := fieldsOf(t, (&Term{Name: "P", Vocabulary: ""}).Validate())
	assert.Equal(t, "Name must be between 2 and 100 characters.", fields["name"])
	assert.Equal(t, "Vocabulary is required.", fields["vocabulary"])
}

func TestUserCreateRequest_Validate(t *testing.T) {
	ok := UserCreateRequest{Username: "editor", Email: "ed@example.com", Password: "correct horse", RoleIDs: []int64{2}}
	assert.NoError(t, ok.Validate())

	bad := UserCreateRequest{Username: "ed", Email: "not-an-email", Password: "short"}
	fields := fieldsOf(t, bad.Validate())
	assert.Equal(t, "Username must be between 3 and 100 characters.", fields["username"])
	assert.Equal(t, "Valid email is required.", fields["email"])
	assert.Equal(t, "Password must be between 8 and 72 characters.", fields["password"])
	assert.Equal(t, "Role is required.", fields["role_ids"])
}

func TestUserUpdateRequest_EmptyPasswordKeepsCurrent(t *testing.T) {
	req := UserUpdateRequest{Email: "ed@example.com", RoleIDs: []int64{1}}
	assert.NoError(t, req.Validate())
}

func TestHomePageBlock_Validate(t *testing.T) {
	widget := HomePageBlock{BlockType: BlockTypeWidget, Content: "<p>hello</p>"}
	assert.NoError(t, widget.Validate())

	news := HomePageBlock{BlockType: BlockTypeNews, NewsCount: 5}
	fields := fieldsOf(t, news.Validate())
	assert.Equal(t, "A news block needs at least one term.", fields["term_ids"])

	news.TermIDs = []int64{1}
	assert.NoError(t, news.Validate())

	unknown := HomePageBlock{BlockType: "CAROUSEL"}
	fields = fieldsOf(t, unknown.Validate())
	assert.Contains(t, fields, "block_type")
}

func TestHomepageSettings_Validate(t *testing.T) {
	assert.NoError(t, (&HomepageSettings{Mode: HomepageModeBlocks}).Validate())
	fields := fieldsOf(t, (&HomepageSettings{Mode: "FANCY"}).Validate())
	assert.Equal(t, "Mode must be SIMPLE or BLOCKS.", fields["mode"])
}

func TestChannelSettings_Validate(t *testing.T) {
	s := ChannelSettings{SiteTitle: "  Phoebe  ", SiteURL: "https://news.example.com"}
	require.NoError(t, s.Validate())
	assert.Equal(t, "Phoebe", s.SiteTitle)

	s = ChannelSettings{MetaDescription: strings.Repeat("d", 501), LogoURL: "::nope"}
	fields := fieldsOf(t, s.Validate())
	assert.Equal(t, "Meta description must not exceed 500 characters.", fields["meta_description"])
	assert.Contains(t, fields, "logo_url")
}

// =============================================================================
// Paging
// =============================================================================

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7}

	p := Paginate(items, 0, 3)
	assert.Equal(t, []int{1, 2, 3}, p.Content)
	assert.Equal(t, 7, p.TotalElements)
	assert.Equal(t, 3, p.TotalPages)
	assert.False(t, p.Last)

	p = Paginate(items, 2, 3)
	assert.Equal(t, []int{7}, p.Content)
	assert.True(t, p.Last)

	p = Paginate(items, 5, 3)
	assert.Empty(t, p.Content)
	assert.NotNil(t, p.Content)

	p = Paginate(items, -1, 0)
	assert.Equal(t, 0, p.Page)
	assert.Equal(t, DefaultPageSize, p.Size)

	p = Paginate(items, 0, 1000)
	assert.Equal(t, MaxPageSize, p.Size)

	p = Paginate(items, math.MaxInt64, 2)
	assert.Empty(t, p.Content)
	assert.Equal(t, math.MaxInt64, p.Page)
	assert.True(t, p.Last)

	empty := Paginate([]int(nil), 0, 10)
	assert.Equal(t, 0, empty.TotalPages)
	assert.True(t, empty.Last)
}
