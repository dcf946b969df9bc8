// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// AuditEvent records a security-relevant or content-changing action.
type AuditEvent struct {
	// EventType categorizes the event. Format: "category.action"
	// (e.g., "auth.failure", "content.commit").
	EventType string

	// Timestamp is when the event occurred (UTC). Zero means now.
	Timestamp time.Time

	// UserID identifies who performed the action. Zero for anonymous.
	UserID int64

	// Username is the login name, when known.
	Username string

	// Action describes the operation: "create", "update", "delete", "login".
	Action string

	// ResourceType is the kind of content involved, e.g. "news".
	ResourceType string

	// ResourceID is the specific record, when there is one.
	ResourceID int64

	// Outcome is "success", "failure" or "denied".
	Outcome string

	// Metadata holds event-specific extras such as "error" or "ip_address".
	Metadata map[string]any
}

// AuditFilter selects events for AuditLogger.Query.
type AuditFilter struct {
	EventTypes   []string
	UserID       int64
	ResourceType string
	Since        time.Time
	Limit        int
}

func (f AuditFilter) match(e AuditEvent) bool {
	if len(f.EventTypes) > 0 && !slices.Contains(f.EventTypes, e.EventType) {
		return false
	}
	if f.UserID != 0 && e.UserID != f.UserID {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// AuditLogger records audit events.
//
// Implementations must be safe for concurrent use and should return quickly.
type AuditLogger interface {
	// Log records one event.
	Log(ctx context.Context, event AuditEvent) error

	// Query returns matching events, newest first. Loggers that do not
	// retain events return an empty slice.
	Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)

	// Flush persists buffered events. Call before shutdown.
	Flush(ctx context.Context) error
}

// =============================================================================
// Implementations
// =============================================================================

// NopAuditLogger discards every event.
type NopAuditLogger struct{}

func (NopAuditLogger) Log(context.Context, AuditEvent) error { return nil }

func (NopAuditLogger) Query(context.Context, AuditFilter) ([]AuditEvent, error) {
	return []AuditEvent{}, nil
}

func (NopAuditLogger) Flush(context.Context) error { return nil }

// SlogAuditLogger writes events as structured log records and keeps the most
// recent ones in memory for Query.
//
// Thread-safe: all methods may be called concurrently.
type SlogAuditLogger struct {
	logger *slog.Logger
	keep   int

	mu     sync.Mutex
	recent []AuditEvent
}

// NewSlogAuditLogger creates a logger that retains up to keep events.
// A nil logger uses slog.Default().
func NewSlogAuditLogger(logger *slog.Logger, keep int) *SlogAuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	if keep <= 0 {
		keep = 1000
	}
	return &SlogAuditLogger{logger: logger.With("component", "audit"), keep: keep}
}

// Log writes event at info level, or warn for failures and denials.
func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	level := slog.LevelInfo
	if event.Outcome != "success" {
		level = slog.LevelWarn
	}
	attrs := []any{
		"event_type", event.EventType,
		"user_id", event.UserID,
		"username", event.Username,
		"action", event.Action,
		"resource_type", event.ResourceType,
		"resource_id", event.ResourceID,
		"outcome", event.Outcome,
	}
	if len(event.Metadata) > 0 {
		attrs = append(attrs, "metadata", event.Metadata)
	}
	l.logger.Log(ctx, level, "audit", attrs...)

	l.mu.Lock()
	l.recent = append(l.recent, event)
	if over := len(l.recent) - l.keep; over > 0 {
		l.recent = slices.Delete(l.recent, 0, over)
	}
	l.mu.Unlock()
	return nil
}

// Query returns retained events matching filter, newest first.
func (l *SlogAuditLogger) Query(_ context.Context, filter AuditFilter) ([]AuditEvent, error) {
	l.mu.Lock()
	out := make([]AuditEvent, 0, len(l.recent))
	for _, e := range l.recent {
		if filter.match(e) {
			out = append(out, e)
		}
	}
	l.mu.Unlock()

	slices.SortStableFunc(out, func(a, b AuditEvent) int {
		return cmp.Compare(b.Timestamp.UnixNano(), a.Timestamp.UnixNano())
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Flush is a no-op; slog handlers write synchronously.
func (l *SlogAuditLogger) Flush(context.Context) error { return nil }

var (
	_ AuditLogger = NopAuditLogger{}
	_ AuditLogger = (*SlogAuditLogger)(nil)
)
