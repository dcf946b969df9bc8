// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/AleutianAI/phoebe/cmd/phoebe/gcs"
	"github.com/AleutianAI/phoebe/services/cms/store"
	"github.com/spf13/cobra"
)

func runBackup(cmd *cobra.Command, _ []string) error {
	cfg, logs, err := loadConfig()
	if err != nil {
		return err
	}
	defer logs.Close()
	logger := logs.Slog()
	st, err := store.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("open the database (is the server still running?): %w", err)
	}
	defer st.Close()

	version, err := backupTo(cmd.Context(), st, backupOut, backupCredsFile)
	if err != nil {
		return err
	}
	logger.Info("backup written", "out", backupOut, "version", version)
	return nil
}

// backupTo writes a backup of st to a local path or a gs:// URL.
func backupTo(ctx context.Context, st *store.Store, out, credsFile string) (uint64, error) {
	var (
		w   io.WriteCloser
		err error
	)
	if gcs.IsURL(out) {
		bucket, object, perr := gcs.ParseURL(out)
		if perr != nil {
			return 0, perr
		}
		client, cerr := gcs.NewClient(ctx, credsFile)
		if cerr != nil {
			return 0, cerr
		}
		defer client.Close()
		w = client.Writer(ctx, bucket, object)
	} else {
		w, err = os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return 0, fmt.Errorf("create %s: %w", out, err)
		}
	}

	version, err := st.Backup(ctx, w)
	if closeErr := w.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("finish %s: %w", out, closeErr)
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

func runRestore(cmd *cobra.Command, _ []string) error {
	cfg, logs, err := loadConfig()
	if err != nil {
		return err
	}
	defer logs.Close()
	logger := logs.Slog()
	if cfg.Store.InMemory {
		return errors.New("restore needs an on-disk store; store.in_memory is set")
	}
	st, err := store.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("open the database (is the server still running?): %w", err)
	}
	defer st.Close()

	if err := restoreFrom(cmd.Context(), st, restoreIn, backupCredsFile); err != nil {
		return err
	}
	logger.Info("backup restored", "in", restoreIn, "path", cfg.Store.Path)
	return nil
}

// restoreFrom loads a backup from a local path or a gs:// URL into st.
func restoreFrom(ctx context.Context, st *store.Store, in, credsFile string) error {
	var r io.ReadCloser
	if gcs.IsURL(in) {
		bucket, object, err := gcs.ParseURL(in)
		if err != nil {
			return err
		}
		client, err := gcs.NewClient(ctx, credsFile)
		if err != nil {
			return err
		}
		defer client.Close()
		if r, err = client.Reader(ctx, bucket, object); err != nil {
			return err
		}
	} else {
		f, err := os.Open(in)
		if err != nil {
			return fmt.Errorf("open %s: %w", in, err)
		}
		r = f
	}
	defer r.Close()

	return st.Restore(ctx, r)
}
