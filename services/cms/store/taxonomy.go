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
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/AleutianAI/phoebe/services/cms/datatypes"
	"github.com/dgraph-io/badger/v4"
)

const termPrefix = "term/"

// CreateTerm stores a new taxonomy term.
func (s *Store) CreateTerm(ctx context.Context, t datatypes.Term) (datatypes.Term, error) {
	id, err := s.nextID("term")
	if err != nil {
		return datatypes.Term{}, err
	}
	t.ID = id
	err = s.update(ctx, func(txn *badger.Txn) error {
		return putJSON(txn, idKey(termPrefix, id), t)
	})
	if err != nil {
		return datatypes.Term{}, fmt.Errorf("create term: %w", err)
	}
	return t, nil
}

// UpdateTerm replaces term t.ID.
func (s *Store) UpdateTerm(ctx context.Context, t datatypes.Term) (datatypes.Term, error) {
	err := s.update(ctx, func(txn *badger.Txn) error {
		if _, err := getJSON[datatypes.Term](txn, idKey(termPrefix, t.ID)); err != nil {
			return err
		}
		return putJSON(txn, idKey(termPrefix, t.ID), t)
	})
	if err != nil {
		return datatypes.Term{}, fmt.Errorf("update term %d: %w", t.ID, err)
	}
	return t, nil
}

// GetTerm loads term id.
func (s *Store) GetTerm(ctx context.Context, id int64) (datatypes.Term, error) {
	var out datatypes.Term
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		out, err = getJSON[datatypes.Term](txn, idKey(termPrefix, id))
		return err
	})
	if err != nil {
		return datatypes.Term{}, fmt.Errorf("get term %d: %w", id, err)
	}
	return out, nil
}

// DeleteTerm removes term id. Articles, blocks and the main menu keep
// dangling references until RemoveTermReferences is called.
func (s *Store) DeleteTerm(ctx context.Context, id int64) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		return deleteKey(txn, idKey(termPrefix, id))
	})
	if err != nil {
		return fmt.Errorf("delete term %d: %w", id, err)
	}
	return nil
}

// ListTerms returns all terms ordered by vocabulary, then name.
func (s *Store) ListTerms(ctx context.Context) ([]datatypes.Term, error) {
	var out []datatypes.Term
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		out, err = scanJSON[datatypes.Term](txn, termPrefix)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list terms: %w", err)
	}
	slices.SortFunc(out, func(a, b datatypes.Term) int {
		if c := strings.Compare(strings.ToLower(a.Vocabulary), strings.ToLower(b.Vocabulary)); c != 0 {
			return c
		}
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// MissingTerms returns the ids in ids that do not exist.
func (s *Store) MissingTerms(ctx context.Context, ids []int64) ([]int64, error) {
	var missing []int64
	err := s.view(ctx, func(txn *badger.Txn) error {
		for _, id := range ids {
			_, err := txn.Get(idKey(termPrefix, id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				missing = append(missing, id)
				continue
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("check terms: %w", err)
	}
	return missing, nil
}

// TermReferences counts what RemoveTermReferences changed.
type TermReferences struct {
	News   int
	Blocks int
	Menu   bool
}

// RemoveTermReferences strips termID from every article, homepage block and
// the main menu in one transaction.
func (s *Store) RemoveTermReferences(ctx context.Context, termID int64) (TermReferences, error) {
	var refs TermReferences
	drop := func(id int64) bool { return id == termID }
	err := s.update(ctx, func(txn *badger.Txn) error {
		news, err := scanJSON[datatypes.News](txn, newsPrefix)
		if err != nil {
			return err
		}
		for _, n := range news {
			if !slices.Contains(n.TermIDs, termID) {
				continue
			}
			n.TermIDs = slices.DeleteFunc(n.TermIDs, drop)
			if err := putJSON(txn, idKey(newsPrefix, n.ID), n); err != nil {
				return err
			}
			refs.News++
		}

		blocks, err := scanJSON[datatypes.HomePageBlock](txn, blockPrefix)
		if err != nil {
			return err
		}
		for _, b := range blocks {
			if !slices.Contains(b.TermIDs, termID) {
				continue
			}
			b.TermIDs = slices.DeleteFunc(b.TermIDs, drop)
			if err := putJSON(txn, idKey(blockPrefix, b.ID), b); err != nil {
				return err
			}
			refs.Blocks++
		}

		settings, err := getJSON[datatypes.ChannelSettings](txn, []byte(channelSettingsKey))
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !slices.Contains(settings.MainMenuTermIDs, termID) {
			return nil
		}
		settings.MainMenuTermIDs = slices.DeleteFunc(settings.MainMenuTermIDs, drop)
		refs.Menu = true
		return putJSON(txn, []byte(channelSettingsKey), settings)
	})
	if err != nil {
		return TermReferences{}, fmt.Errorf("remove term %d references: %w", termID, err)
	}
	return refs, nil
}
