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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when an update is based on a stale version or
	// collides with a concurrent transaction.
	ErrConflict = errors.New("store: conflict")

	// ErrDuplicate is returned when a unique field is already taken.
	ErrDuplicate = errors.New("store: duplicate")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store: closed")
)

// sequenceBandwidth is how many ids a sequence leases per disk write.
const sequenceBandwidth = 64

// Store is the content database.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
	now    func() time.Time

	seqMu sync.Mutex
	seqs  map[string]*badger.Sequence

	gcStop chan struct{}
	gcDone chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// Open opens the database described by cfg and starts value log GC when
// configured.
//
// # Outputs
//
//   - *Store: Open store. Caller must Close it.
//   - error: Non-nil if the directory or database cannot be opened.
func Open(cfg Config) (*Store, error) {
	db, err := openBadger(cfg)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		db:     db,
		logger: logger.With("component", "store"),
		now:    time.Now,
		seqs:   make(map[string]*badger.Sequence),
		closed: make(chan struct{}),
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gcStop = make(chan struct{})
		s.gcDone = make(chan struct{})
		go gcLoop(db, cfg.GCInterval, cfg.GCDiscardRatio, s.logger, s.gcStop, s.gcDone)
	}
	return s, nil
}

// Close releases sequences, stops GC and closes the database. Safe to call
// more than once.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.gcStop != nil {
			close(s.gcStop)
			<-s.gcDone
		}
		s.seqMu.Lock()
		for name, seq := range s.seqs {
			if relErr := seq.Release(); relErr != nil {
				s.logger.Warn("failed to release sequence", "sequence", name, "error", relErr)
			}
		}
		s.seqs = nil
		s.seqMu.Unlock()
		err = s.db.Close()
	})
	return err
}

// SetClock replaces the time source used for audit timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Backup writes a full badger backup to w and returns the version it covers.
func (s *Store) Backup(ctx context.Context, w io.Writer) (uint64, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	version, err := s.db.Backup(w, 0)
	if err != nil {
		return 0, fmt.Errorf("backup: %w", err)
	}
	return version, nil
}

// Restore loads a backup produced by Backup into the database.
func (s *Store) Restore(ctx context.Context, r io.Reader) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if err := s.db.Load(r, 256); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	return nil
}

// =============================================================================
// Internal Helpers
// =============================================================================

func (s *Store) check(ctx context.Context) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	return ctx.Err()
}

// nextID leases the next id from the named sequence. Ids start at 1.
func (s *Store) nextID(name string) (int64, error) {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	if s.seqs == nil {
		return 0, ErrClosed
	}
	seq, ok := s.seqs[name]
	if !ok {
		var err error
		seq, err = s.db.GetSequence([]byte("seq/"+name), sequenceBandwidth)
		if err != nil {
			return 0, fmt.Errorf("open sequence %s: %w", name, err)
		}
		s.seqs[name] = seq
	}
	for {
		n, err := seq.Next()
		if err != nil {
			return 0, fmt.Errorf("next %s id: %w", name, err)
		}
		if n > 0 {
			return int64(n), nil
		}
	}
}

// update runs fn in a read-write transaction, mapping badger's transaction
// conflict to ErrConflict.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	err := s.db.Update(fn)
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: concurrent transaction", ErrConflict)
	}
	return err
}

func (s *Store) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.db.View(fn)
}

func idKey(prefix string, id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefix, id))
}

func getJSON[T any](txn *badger.Txn, key []byte) (T, error) {
	var out T
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return out, ErrNotFound
	}
	if err != nil {
		return out, fmt.Errorf("get %s: %w", key, err)
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &out)
	})
	if err != nil {
		return out, fmt.Errorf("decode %s: %w", key, err)
	}
	return out, nil
}

func putJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set(key, data)
}

func deleteKey(txn *badger.Txn, key []byte) error {
	if _, err := txn.Get(key); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	return txn.Delete(key)
}

// scanJSON decodes every value under prefix in key order.
func scanJSON[T any](txn *badger.Txn, prefix string) ([]T, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	var out []T
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		var v T
		err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		})
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", item.Key(), err)
		}
		out = append(out, v)
	}
	return out, nil
}
