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
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/phoebe/pkg/logging"
	"github.com/AleutianAI/phoebe/services/cms"
	"github.com/AleutianAI/phoebe/services/cms/config"
	"github.com/AleutianAI/phoebe/services/cms/observability"
	"github.com/spf13/cobra"
)

func newLogger(cfg config.LogConfig) *logging.Logger {
	return logging.New(logging.Config{
		Level:   cfg.Level,
		Format:  cfg.Format,
		LogDir:  cfg.Dir,
		Service: "phoebe",
	})
}

// loadConfig reads the configuration and installs the process logger. The
// caller closes the returned logging.Logger.
func loadConfig() (config.Config, *logging.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	logs := newLogger(cfg.Log)
	slog.SetDefault(logs.Slog())
	return cfg, logs, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logs, err := loadConfig()
	if err != nil {
		return err
	}
	defer logs.Close()
	logger := logs.Slog()
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg.Telemetry.ServiceVersion = version
	shutdownTelemetry, err := observability.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	svc, err := cms.New(ctx, cfg, cms.Options{Logger: logger})
	if err != nil {
		return err
	}

	if watchConfig && configPath != "" {
		watcher, err := config.Watch(configPath, svc.ApplyConfig, logger)
		if err != nil {
			logger.Warn("config hot reload disabled", "error", err)
		} else {
			defer watcher.Close()
		}
	}

	logger.Info("starting phoebe", "version", version, "save_delay", cfg.Saves.Delay)
	return svc.Run(ctx)
}
