// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package undosave

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a controller's pending save.
type Status uint8

const (
	// StatusIdle means no save is scheduled or running.
	StatusIdle Status = iota

	// StatusPending means a save is captured and its grace period is running.
	StatusPending

	// StatusCommitting means the grace period elapsed and persist is running.
	StatusCommitting

	// StatusCommitted is reported once when persist succeeds, then folds to idle.
	StatusCommitted

	// StatusFailed means persist returned an error. Retained until the next
	// Submit or an explicit Clear.
	StatusFailed

	// StatusCancelled is reported once when a pending save is cancelled, then
	// folds to idle.
	StatusCancelled
)

var statusNames = [...]string{
	StatusIdle:       "idle",
	StatusPending:    "pending",
	StatusCommitting: "committing",
	StatusCommitted:  "committed",
	StatusFailed:     "failed",
	StatusCancelled:  "cancelled",
}

// String returns the lowercase status name.
func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// Active reports whether the status holds a save that has not resolved.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusCommitting
}

// MarshalText encodes the status by name so snapshots render readably in JSON.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if name == string(text) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("undosave: unknown status %q", text)
}

// Snapshot is the externally observable state of a controller.
//
// # Fields
//
//   - Status: Current state. Committed and Cancelled only appear in OnChange
//     notifications; a stored snapshot has already folded them to Idle.
//   - Pending: True while a save is pending or committing. This is the flag
//     the UI binds its undo notice to.
//   - Error: Human-readable failure message, set only when Status is Failed.
//   - ScheduledAt: When the current grace period began. Zero when idle.
//   - CommitAt: When the current grace period ends. Zero when idle.
//   - Outcome: The last terminal status reached (Committed, Failed, Cancelled),
//     or Idle if none yet.
//   - Generation: Number of accepted submissions so far.
type Snapshot struct {
	Status      Status    `json:"status"`
	Pending     bool      `json:"pending"`
	Error       string    `json:"error,omitempty"`
	ScheduledAt time.Time `json:"scheduled_at,omitzero"`
	CommitAt    time.Time `json:"commit_at,omitzero"`
	Outcome     Status    `json:"outcome"`
	Generation  uint64    `json:"generation"`
}

// Remaining returns how much of the grace period is left at now.
func (s Snapshot) Remaining(now time.Time) time.Duration {
	if s.Status != StatusPending || s.CommitAt.IsZero() {
		return 0
	}
	if d := s.CommitAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
