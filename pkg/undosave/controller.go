// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package undosave implements a delayed-commit save controller.
//
// # Description
//
// A Controller defers an already-validated write for a fixed grace period so
// the initiating user can take it back before it takes effect. When the grace
// period elapses without cancellation the captured payload is handed to the
// caller-supplied persist function exactly once, and the outcome is reported
// through the controller's observable state (a pending flag and an error
// message) and an optional change callback.
//
// State machine:
//
//	idle ──Submit──► pending ──timer──► committing ──ok──► committed ──► idle
//	                  │  ▲                  │
//	                  │  └──Submit (new payload, timer restarted)
//	                  │                     └──error──► failed ──Submit/Clear──► idle
//	                  └──Cancel──► cancelled ──► idle
//
// # Policies
//
//   - Submit while pending supersedes: the previous timer is stopped before a
//     new one starts and the previous payload is discarded. Last write wins.
//   - Submit while committing is rejected with ErrCommitInFlight. A controller
//     never runs two persist calls at once.
//   - Close releases the timer and suppresses every later commit and
//     notification. An in-flight persist is not aborted; its outcome is
//     dropped.
//
// # Thread Safety
//
// All Controller methods are safe for concurrent use. OnChange callbacks are
// serialized and delivered in transition order.
package undosave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultDelay is the grace period used when Options.Delay is zero.
const DefaultDelay = 5 * time.Second

// DefaultFailureMessage is the user-facing message reported when persist fails.
const DefaultFailureMessage = "Failed to save. Please check your input and try again."

var (
	// ErrCommitInFlight is returned by Submit while a persist call is running.
	ErrCommitInFlight = errors.New("undosave: commit in flight")

	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("undosave: controller closed")

	// ErrInvalidDelay is returned by New for a negative grace period.
	ErrInvalidDelay = errors.New("undosave: delay must not be negative")

	// ErrNilPersist is returned by New when no persist function is supplied.
	ErrNilPersist = errors.New("undosave: persist function is required")
)

// PersistFunc performs the durable write for a committed payload.
//
// It is called at most once per accepted submission that reaches the end of
// its grace period. A returned error (or a panic) moves the controller to
// StatusFailed; the payload is not retried.
type PersistFunc[T any] func(ctx context.Context, payload T) error

// ChangeFunc observes controller transitions. prev is the status before the
// transition; snap describes the state after it.
//
// Callbacks may read the controller (Snapshot, Pending, Err) but must not
// call Submit, Cancel, Clear or Close on it.
type ChangeFunc func(prev Status, snap Snapshot)

// Options configures a Controller. The zero value is usable.
//
// # Fields
//
//   - Delay: Grace period. Default: DefaultDelay (5s).
//   - Clock: Time source. Default: RealClock.
//   - Clone: Deep-copies the payload at Submit so later edits by the caller
//     cannot reach a pending save. Default: plain value copy.
//   - OnChange: Transition observer. Optional.
//   - CommitTimeout: Upper bound on a single persist call. Zero means none.
//   - FailureMessage: Maps a persist error to the message exposed in
//     Snapshot.Error. Default: always DefaultFailureMessage.
//   - Logger: Structured logger. Default: slog.Default().
type Options[T any] struct {
	Delay          time.Duration
	Clock          Clock
	Clone          func(T) T
	OnChange       ChangeFunc
	CommitTimeout  time.Duration
	FailureMessage func(error) string
	Logger         *slog.Logger
}

// Controller owns the submit → grace period → commit or cancel workflow for
// a single form.
type Controller[T any] struct {
	persist PersistFunc[T]
	opts    Options[T]

	// notifyMu serializes transitions together with their notifications so
	// observers see them in order and never after Close.
	notifyMu sync.Mutex

	mu          sync.Mutex
	status      Status
	payload     T
	timer       Timer
	gen         uint64
	scheduledAt time.Time
	commitAt    time.Time
	errMsg      string
	outcome     Status
	commitDone  chan struct{}
	closed      bool
}

// New creates a Controller that persists through persist.
//
// # Inputs
//
//   - persist: The write to defer. Must not be nil.
//   - opts: Optional settings; zero fields take defaults.
//
// # Outputs
//
//   - *Controller[T]: Idle controller ready for Submit.
//   - error: ErrNilPersist or ErrInvalidDelay.
//
// # Examples
//
//	ctrl, err := undosave.New(func(ctx context.Context, a Article) error {
//	    return repo.Save(ctx, a)
//	}, undosave.Options[Article]{Clone: Article.Clone})
//	if err != nil {
//	    return err
//	}
//	defer ctrl.Close()
func New[T any](persist PersistFunc[T], opts Options[T]) (*Controller[T], error) {
	if persist == nil {
		return nil, ErrNilPersist
	}
	if opts.Delay < 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDelay, opts.Delay)
	}
	if opts.Delay == 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}
	if opts.FailureMessage == nil {
		opts.FailureMessage = func(error) string { return DefaultFailureMessage }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Controller[T]{persist: persist, opts: opts}, nil
}

// Delay returns the configured grace period.
func (c *Controller[T]) Delay() time.Duration {
	return c.opts.Delay
}

// Submit captures payload and starts the grace period.
//
// # Description
//
// A pending save is superseded: its timer is stopped before the new one is
// started, so at most one timer is ever live. A previous failure is cleared.
// Submit returns immediately; persist runs later on the timer's goroutine.
//
// The caller must have validated payload already. The controller performs no
// business validation.
//
// # Outputs
//
//   - error: ErrCommitInFlight while a persist call is running, ErrClosed
//     after Close. Nil when the payload was accepted.
func (c *Controller[T]) Submit(payload T) error {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.status == StatusCommitting {
		c.mu.Unlock()
		return ErrCommitInFlight
	}

	prev := c.status
	c.stopTimerLocked()

	if c.opts.Clone != nil {
		payload = c.opts.Clone(payload)
	}
	c.gen++
	gen := c.gen
	c.payload = payload
	c.status = StatusPending
	c.errMsg = ""
	c.scheduledAt = c.opts.Clock.Now()
	c.commitAt = c.scheduledAt.Add(c.opts.Delay)
	c.timer = c.opts.Clock.AfterFunc(c.opts.Delay, func() { c.fire(gen) })
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if prev == StatusPending {
		c.opts.Logger.Debug("pending save superseded", "generation", gen)
	}
	c.emit(prev, snap)
	return nil
}

// Cancel discards the pending save, if any.
//
// # Outputs
//
//   - bool: True if a pending save was cancelled. False (and no effect) when
//     nothing is pending, when persist has already started, or after Close.
func (c *Controller[T]) Cancel() bool {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if c.closed || c.status != StatusPending {
		c.mu.Unlock()
		return false
	}
	c.stopTimerLocked()
	c.resetLocked()
	c.status = StatusIdle
	c.outcome = StatusCancelled
	snap := c.snapshotLocked()
	snap.Status = StatusCancelled
	c.mu.Unlock()

	c.opts.Logger.Debug("pending save cancelled", "generation", snap.Generation)
	c.emit(StatusPending, snap)
	return true
}

// Clear resets a failed controller to idle and drops its error message.
//
// # Outputs
//
//   - bool: True if the controller was in StatusFailed.
func (c *Controller[T]) Clear() bool {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if c.closed || c.status != StatusFailed {
		c.mu.Unlock()
		return false
	}
	c.status = StatusIdle
	c.errMsg = ""
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.emit(StatusFailed, snap)
	return true
}

// Close tears the controller down.
//
// # Description
//
// Stops the grace-period timer and discards any pending payload. After Close
// returns no persist call starts and no OnChange callback runs. A persist
// call already in flight completes but its outcome is not reported. Close is
// idempotent.
//
// # Limitations
//
//   - Must not be called from inside an OnChange callback.
func (c *Controller[T]) Close() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	prev := c.status
	c.stopTimerLocked()
	if prev == StatusPending {
		c.resetLocked()
		c.status = StatusIdle
	}
	if prev.Active() {
		c.opts.Logger.Debug("save controller disposed while active", "status", prev.String())
	}
}

// Wait blocks until the persist call in flight at the time of the call, if
// any, has returned and its outcome has been recorded.
func (c *Controller[T]) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.commitDone
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the current observable state.
func (c *Controller[T]) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Pending reports whether a save is pending or committing.
func (c *Controller[T]) Pending() bool {
	return c.Snapshot().Pending
}

// Err returns the failure message, or "" when the controller has not failed.
func (c *Controller[T]) Err() string {
	return c.Snapshot().Error
}

// Closed reports whether Close has been called.
func (c *Controller[T]) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// =============================================================================
// Internal Methods
// =============================================================================

// fire runs when the grace period for generation gen elapses.
func (c *Controller[T]) fire(gen uint64) {
	c.notifyMu.Lock()
	c.mu.Lock()
	// A superseded or cancelled timer can still fire if Stop lost the race.
	if c.closed || gen != c.gen || c.status != StatusPending {
		c.mu.Unlock()
		c.notifyMu.Unlock()
		return
	}
	c.timer = nil
	c.status = StatusCommitting
	payload := c.payload
	var zero T
	c.payload = zero
	done := make(chan struct{})
	c.commitDone = done
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(StatusPending, snap)
	c.notifyMu.Unlock()

	err := c.runPersist(gen, payload)

	c.notifyMu.Lock()
	c.mu.Lock()
	c.commitDone = nil
	c.scheduledAt = time.Time{}
	c.commitAt = time.Time{}
	if err != nil {
		c.status = StatusFailed
		c.outcome = StatusFailed
		c.errMsg = c.opts.FailureMessage(err)
		snap = c.snapshotLocked()
	} else {
		c.status = StatusIdle
		c.outcome = StatusCommitted
		c.errMsg = ""
		snap = c.snapshotLocked()
		snap.Status = StatusCommitted
	}
	c.mu.Unlock()
	c.emit(StatusCommitting, snap)
	c.notifyMu.Unlock()
	close(done)
}

// runPersist invokes persist, converting a panic into an error.
func (c *Controller[T]) runPersist(gen uint64, payload T) (err error) {
	ctx := context.Background()
	if c.opts.CommitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.CommitTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("undosave: persist panicked: %v", r)
		}
		if err != nil {
			c.opts.Logger.Warn("deferred save failed", "generation", gen, "error", err)
		} else {
			c.opts.Logger.Debug("deferred save committed", "generation", gen)
		}
	}()

	return c.persist(ctx, payload)
}

// emit delivers a transition to OnChange. Caller holds notifyMu.
func (c *Controller[T]) emit(prev Status, snap Snapshot) {
	if c.opts.OnChange == nil || c.Closed() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.opts.Logger.Error("save state observer panicked", "panic", r)
		}
	}()
	c.opts.OnChange(prev, snap)
}

func (c *Controller[T]) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller[T]) resetLocked() {
	var zero T
	c.payload = zero
	c.scheduledAt = time.Time{}
	c.commitAt = time.Time{}
}

func (c *Controller[T]) snapshotLocked() Snapshot {
	snap := Snapshot{
		Status:      c.status,
		Pending:     c.status.Active(),
		ScheduledAt: c.scheduledAt,
		CommitAt:    c.commitAt,
		Outcome:     c.outcome,
		Generation:  c.gen,
	}
	if c.status == StatusFailed {
		snap.Error = c.errMsg
	}
	return snap
}
