// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging builds the process-wide slog logger.
//
// # Destinations
//
//	┌──────────────────────────────────────────┐
//	│                 Logger                   │
//	│  ┌─────────────────┐  ┌───────────────┐  │
//	│  │ output (stderr) │  │   log file    │  │
//	│  │  text or JSON   │  │ (optional,    │  │
//	│  │                 │  │  always JSON) │  │
//	│  └─────────────────┘  └───────────────┘  │
//	└──────────────────────────────────────────┘
//
// The output format is "auto" by default: text when the output is a
// terminal, JSON otherwise, so containers emit machine-readable logs while
// a developer running the binary by hand gets readable ones.
//
// # Basic Usage
//
//	logger := logging.New(logging.Config{Level: "info", Service: "phoebe"})
//	defer logger.Close()
//	slog.SetDefault(logger.Slog())
//
// # Security Considerations
//
// Nothing is redacted. Never log passwords or Authorization headers.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// Output formats accepted by Config.Format.
const (
	FormatAuto = "auto"
	FormatText = "text"
	FormatJSON = "json"
)

// =============================================================================
// Configuration
// =============================================================================

// Config describes where logs go.
//
//   - Level: "debug", "info", "warn" or "error". Default: info.
//   - Format: FormatAuto, FormatText or FormatJSON. Default: FormatAuto.
//   - LogDir: Also write JSON logs to {Service}_{YYYY-MM-DD}.log in this
//     directory. Supports ~. Default: no file.
//   - Service: Added to every record as "service".
//   - Output: Primary destination. Default: os.Stderr.
type Config struct {
	Level   string
	Format  string
	LogDir  string
	Service string
	Output  io.Writer
}

// ParseLevel maps a level name to a slog.Level. Unknown names mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// =============================================================================
// Logger
// =============================================================================

// Logger owns the slog.Logger and the optional log file.
type Logger struct {
	slog *slog.Logger

	mu   sync.Mutex
	file *os.File
}

// New builds a Logger. A log directory that cannot be created is reported
// through the returned logger and skipped.
func New(cfg Config) *Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	handlers := []slog.Handler{newHandler(resolveFormat(cfg.Format, out), out, opts)}
	logger := &Logger{}

	var fileErr error
	if cfg.LogDir != "" {
		logger.file, fileErr = openLogFile(cfg.LogDir, cfg.Service)
		if fileErr == nil {
			handlers = append(handlers, slog.NewJSONHandler(logger.file, opts))
		}
	}

	var handler slog.Handler = handlers[0]
	if len(handlers) > 1 {
		handler = &multiHandler{handlers: handlers}
	}
	if cfg.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", cfg.Service)})
	}
	logger.slog = slog.New(handler)

	if fileErr != nil {
		logger.slog.Warn("file logging disabled", "dir", cfg.LogDir, "error", fileErr)
	}
	return logger
}

// Slog returns the underlying logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close flushes and closes the log file, if any. Idempotent.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// resolveFormat turns FormatAuto into text or JSON depending on out.
func resolveFormat(format string, out io.Writer) string {
	switch format {
	case FormatText, FormatJSON:
		return format
	}
	if f, ok := out.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return FormatText
	}
	return FormatJSON
}

func newHandler(format string, out io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if format == FormatText {
		return slog.NewTextHandler(out, opts)
	}
	return slog.NewJSONHandler(out, opts)
}

func openLogFile(dir, service string) (*os.File, error) {
	dir = expandPath(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	if service == "" {
		service = "phoebe"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
}

// expandPath expands a leading ~ to the home directory.
func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// =============================================================================
// multiHandler
// =============================================================================

// multiHandler fans records out to several handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			errs = append(errs, handler.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}
