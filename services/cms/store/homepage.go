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

	"github.com/AleutianAI/phoebe/services/cms/datatypes"
	"github.com/dgraph-io/badger/v4"
)

const (
	blockPrefix         = "block/"
	homepageSettingsKey = "settings/homepage"
	channelSettingsKey  = "settings/channel"
)

// =============================================================================
// Homepage Blocks
// =============================================================================

// CreateBlock stores a new homepage block.
func (s *Store) CreateBlock(ctx context.Context, b datatypes.HomePageBlock) (datatypes.HomePageBlock, error) {
	id, err := s.nextID("block")
	if err != nil {
		return datatypes.HomePageBlock{}, err
	}
	b = b.Clone()
	b.ID = id
	err = s.update(ctx, func(txn *badger.Txn) error {
		return putJSON(txn, idKey(blockPrefix, id), b)
	})
	if err != nil {
		return datatypes.HomePageBlock{}, fmt.Errorf("create block: %w", err)
	}
	return b, nil
}

// UpdateBlock replaces block b.ID.
func (s *Store) UpdateBlock(ctx context.Context, b datatypes.HomePageBlock) (datatypes.HomePageBlock, error) {
	err := s.update(ctx, func(txn *badger.Txn) error {
		if _, err := getJSON[datatypes.HomePageBlock](txn, idKey(blockPrefix, b.ID)); err != nil {
			return err
		}
		return putJSON(txn, idKey(blockPrefix, b.ID), b)
	})
	if err != nil {
		return datatypes.HomePageBlock{}, fmt.Errorf("update block %d: %w", b.ID, err)
	}
	return b, nil
}

// GetBlock loads block id.
func (s *Store) GetBlock(ctx context.Context, id int64) (datatypes.HomePageBlock, error) {
	var out datatypes.HomePageBlock
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		out, err = getJSON[datatypes.HomePageBlock](txn, idKey(blockPrefix, id))
		return err
	})
	if err != nil {
		return datatypes.HomePageBlock{}, fmt.Errorf("get block %d: %w", id, err)
	}
	return out, nil
}

// DeleteBlock removes block id.
func (s *Store) DeleteBlock(ctx context.Context, id int64) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		return deleteKey(txn, idKey(blockPrefix, id))
	})
	if err != nil {
		return fmt.Errorf("delete block %d: %w", id, err)
	}
	return nil
}

// ListBlocks returns all blocks ordered by weight, then id.
func (s *Store) ListBlocks(ctx context.Context) ([]datatypes.HomePageBlock, error) {
	var out []datatypes.HomePageBlock
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		out, err = scanJSON[datatypes.HomePageBlock](txn, blockPrefix)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	slices.SortFunc(out, func(a, b datatypes.HomePageBlock) int {
		if c := cmp.Compare(a.Weight, b.Weight); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// =============================================================================
// Settings
// =============================================================================

// HomepageSettings returns the homepage mode. Defaults to SIMPLE.
func (s *Store) HomepageSettings(ctx context.Context) (datatypes.HomepageSettings, error) {
	out := datatypes.HomepageSettings{Mode: datatypes.HomepageModeSimple}
	err := s.view(ctx, func(txn *badger.Txn) error {
		v, err := getJSON[datatypes.HomepageSettings](txn, []byte(homepageSettingsKey))
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return datatypes.HomepageSettings{}, fmt.Errorf("get homepage settings: %w", err)
	}
	return out, nil
}

// PutHomepageSettings stores the homepage mode.
func (s *Store) PutHomepageSettings(ctx context.Context, v datatypes.HomepageSettings) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		return putJSON(txn, []byte(homepageSettingsKey), v)
	})
	if err != nil {
		return fmt.Errorf("put homepage settings: %w", err)
	}
	return nil
}

// ChannelSettings returns the site settings. Defaults to the zero value.
func (s *Store) ChannelSettings(ctx context.Context) (datatypes.ChannelSettings, error) {
	var out datatypes.ChannelSettings
	err := s.view(ctx, func(txn *badger.Txn) error {
		v, err := getJSON[datatypes.ChannelSettings](txn, []byte(channelSettingsKey))
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return datatypes.ChannelSettings{}, fmt.Errorf("get channel settings: %w", err)
	}
	return out, nil
}

// PutChannelSettings stores the site settings.
func (s *Store) PutChannelSettings(ctx context.Context, v datatypes.ChannelSettings) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		return putJSON(txn, []byte(channelSettingsKey), v)
	})
	if err != nil {
		return fmt.Errorf("put channel settings: %w", err)
	}
	return nil
}
