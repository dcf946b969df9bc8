// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestNew_Formats(t *testing.T) {
	tests := []struct {
		format   string
		wantJSON bool
	}{
		{FormatJSON, true},
		{FormatText, false},
		// A buffer is not a terminal.
		{FormatAuto, true},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(Config{Format: tt.format, Output: &buf, Service: "phoebe"})
			logger.Slog().Info("hello", "k", "v")
			require.NoError(t, logger.Close())

			line := strings.TrimSpace(buf.String())
			if tt.wantJSON {
				var rec map[string]any
				require.NoError(t, json.Unmarshal([]byte(line), &rec), line)
				assert.Equal(t, "phoebe", rec["service"])
				assert.Equal(t, "v", rec["k"])
			} else {
				assert.Contains(t, line, "service=phoebe")
				assert.Contains(t, line, "k=v")
			}
		})
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "warn", Format: FormatJSON, Output: &buf})
	logger.Slog().Info("dropped")
	logger.Slog().Warn("kept")
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}

func TestNew_WritesLogFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	var buf bytes.Buffer
	logger := New(Config{Format: FormatText, Output: &buf, LogDir: dir, Service: "phoebe"})
	logger.Slog().With("component", "test").Info("to both")
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "phoebe_"))

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &rec))
	assert.Equal(t, "to both", rec["msg"])
	assert.Equal(t, "test", rec["component"])
	assert.Contains(t, buf.String(), "to both")
}

func TestNew_UnwritableLogDirFallsBack(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	var buf bytes.Buffer
	logger := New(Config{Format: FormatJSON, Output: &buf, LogDir: filepath.Join(blocker, "logs")})
	logger.Slog().Info("still logging")
	assert.Contains(t, buf.String(), "file logging disabled")
	assert.Contains(t, buf.String(), "still logging")
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "logs"), expandPath("~/logs"))
	assert.Equal(t, "/var/log/phoebe", expandPath("/var/log/phoebe"))
}
