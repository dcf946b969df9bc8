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
	"github.com/spf13/cobra"
)

var (
	configPath      string
	watchConfig     bool
	backupOut       string
	backupCredsFile string
	restoreIn       string

	rootCmd = &cobra.Command{
		Use:   "phoebe",
		Short: "Phoebe is a small newsroom CMS with undoable saves",
		Long: `Phoebe serves published news to readers and an admin API to editors.
Edits are held for a short grace period before they are written, so an editor
can undo a save they regret.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE:  runServe,
	}

	backupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Write a full backup of a stopped database",
		Long: `Write a full backup of the database to a local file or to Google Cloud
Storage (--out gs://bucket/path). The server must be stopped; while it runs,
use GET /api/admin/backup instead.`,
		RunE: runBackup,
	}

	restoreCmd = &cobra.Command{
		Use:   "restore",
		Short: "Load a backup into a stopped database",
		RunE:  runRestore,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("phoebe", version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to phoebe.yaml (defaults and PHOEBE_* variables apply without it)")

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&watchConfig, "watch", true,
		"Reload the save delay when the config file changes")

	rootCmd.AddCommand(backupCmd)
	backupCmd.Flags().StringVarP(&backupOut, "out", "o", "",
		"Destination file, or gs://bucket/object for Google Cloud Storage")
	backupCmd.Flags().StringVar(&backupCredsFile, "gcs-credentials", "",
		"Service account key for GCS (application default credentials when empty)")
	_ = backupCmd.MarkFlagRequired("out")

	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().StringVarP(&restoreIn, "in", "i", "", "Backup file, or gs://bucket/object")
	restoreCmd.Flags().StringVar(&backupCredsFile, "gcs-credentials", "",
		"Service account key for GCS (application default credentials when empty)")
	_ = restoreCmd.MarkFlagRequired("in")

	rootCmd.AddCommand(versionCmd)
}
