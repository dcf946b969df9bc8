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
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/AleutianAI/phoebe/services/cms/datatypes"
	"github.com/dgraph-io/badger/v4"
)

const newsPrefix = "news/"

// NewsFilter narrows ListNews.
type NewsFilter struct {
	// PublishedOnly hides drafts and articles scheduled in the future.
	PublishedOnly bool

	// TermIDs keeps articles tagged with at least one of these terms.
	TermIDs []int64

	// Query keeps articles whose title or teaser contains it, case-insensitively.
	Query string
}

func (f NewsFilter) match(n datatypes.News, now time.Time) bool {
	if f.PublishedOnly && (!n.Published || n.PublicationDate.After(now)) {
		return false
	}
	if len(f.TermIDs) > 0 && !slices.ContainsFunc(f.TermIDs, n.HasTerm) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		if !strings.Contains(strings.ToLower(n.Title), q) &&
			!strings.Contains(strings.ToLower(n.Teaser), q) {
			return false
		}
	}
	return true
}

// CreateNews stores a new article and returns it with its id, audit
// timestamps and version 1. A zero PublicationDate defaults to now.
func (s *Store) CreateNews(ctx context.Context, n datatypes.News) (datatypes.News, error) {
	id, err := s.nextID("news")
	if err != nil {
		return datatypes.News{}, err
	}
	now := s.now().UTC()
	n = n.Clone()
	n.ID = id
	n.CreatedAt = now
	n.UpdatedAt = now
	n.Version = 1
	if n.PublicationDate.IsZero() {
		n.PublicationDate = now
	}
	err = s.update(ctx, func(txn *badger.Txn) error {
		return putJSON(txn, idKey(newsPrefix, id), n)
	})
	if err != nil {
		return datatypes.News{}, fmt.Errorf("create news: %w", err)
	}
	return n, nil
}

// UpdateNews applies mutate to article id and bumps its version.
//
// # Inputs
//
//   - expectedVersion: Version the editor loaded. Zero skips the check.
//   - mutate: Edits the article in place.
//
// # Outputs
//
//   - datatypes.News: The stored article.
//   - error: ErrNotFound, or ErrConflict when expectedVersion is stale.
func (s *Store) UpdateNews(ctx context.Context, id, expectedVersion int64, mutate func(*datatypes.News)) (datatypes.News, error) {
	var out datatypes.News
	err := s.update(ctx, func(txn *badger.Txn) error {
		n, err := getJSON[datatypes.News](txn, idKey(newsPrefix, id))
		if err != nil {
			return err
		}
		if expectedVersion != 0 && n.Version != expectedVersion {
			return fmt.Errorf("%w: news %d is at version %d, not %d", ErrConflict, id, n.Version, expectedVersion)
		}
		mutate(&n)
		n.ID = id
		n.Version++
		n.UpdatedAt = s.now().UTC()
		out = n
		return putJSON(txn, idKey(newsPrefix, id), n)
	})
	if err != nil {
		return datatypes.News{}, fmt.Errorf("update news %d: %w", id, err)
	}
	return out, nil
}

// GetNews loads article id.
func (s *Store) GetNews(ctx context.Context, id int64) (datatypes.News, error) {
	var out datatypes.News
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		out, err = getJSON[datatypes.News](txn, idKey(newsPrefix, id))
		return err
	})
	if err != nil {
		return datatypes.News{}, fmt.Errorf("get news %d: %w", id, err)
	}
	return out, nil
}

// DeleteNews removes article id.
func (s *Store) DeleteNews(ctx context.Context, id int64) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		return deleteKey(txn, idKey(newsPrefix, id))
	})
	if err != nil {
		return fmt.Errorf("delete news %d: %w", id, err)
	}
	return nil
}

// ListNews returns matching articles, newest publication date first.
func (s *Store) ListNews(ctx context.Context, f NewsFilter) ([]datatypes.News, error) {
	var all []datatypes.News
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		all, err = scanJSON[datatypes.News](txn, newsPrefix)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list news: %w", err)
	}

	now := s.now()
	out := all[:0]
	for _, n := range all {
		if f.match(n, now) {
			out = append(out, n)
		}
	}
	slices.SortStableFunc(out, func(a, b datatypes.News) int {
		if c := b.PublicationDate.Compare(a.PublicationDate); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}
