// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package drafts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/phoebe/pkg/undosave"
	"github.com/AleutianAI/phoebe/services/cms/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Config holds registry settings.
//
// # Fields
//
//   - Delay: Grace period for new controllers. Default: undosave.DefaultDelay.
//   - CommitTimeout: Upper bound on one write. Default: 30s.
//   - IdleTTL: Idle controllers older than this are swept. Zero disables
//     sweeping. Default: 30m.
//   - SweepInterval: How often the sweeper runs. Default: 1m.
//   - FailureMessage: Maps a write error to the editor-facing message.
//     Default: undosave.DefaultFailureMessage.
type Config struct {
	Delay          time.Duration
	CommitTimeout  time.Duration
	IdleTTL        time.Duration
	SweepInterval  time.Duration
	FailureMessage func(error) string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Delay:         undosave.DefaultDelay,
		CommitTimeout: 30 * time.Second,
		IdleTTL:       30 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// Deps are the registry's collaborators. Every field is optional.
type Deps struct {
	Clock       undosave.Clock
	Hub         *Hub
	Metrics     *observability.SaveMetrics
	Instruments *observability.CommitInstruments
	Logger      *slog.Logger
}

type formKey struct {
	userID int64
	form   string
}

// entry is one form's controller plus what the registry knows about it.
type entry struct {
	key      formKey
	resource string
	ctrl     *undosave.Controller[Mutation]

	// submitMu serializes Submit calls so next belongs to the submission
	// currently inside ctrl.Submit.
	submitMu sync.Mutex

	mu       sync.Mutex
	op       Op
	targetID int64
	summary  string
	next     *formMeta
	lastUsed time.Time
	active   bool
}

// formMeta describes the mutation a form's save belongs to. It is adopted by
// the entry only when the controller reports the submission as pending.
type formMeta struct {
	op       Op
	targetID int64
	summary  string
}

// Registry owns every editor's delayed saves.
type Registry struct {
	cfg         Config
	clock       undosave.Clock
	hub         *Hub
	metrics     *observability.SaveMetrics
	instruments *observability.CommitInstruments
	logger      *slog.Logger

	mu      sync.Mutex
	entries map[formKey]*entry
	delay   time.Duration
	closed  bool

	sweeper *sweeper
}

// NewRegistry creates a registry and starts its idle sweeper when
// cfg.IdleTTL is positive.
//
// # Outputs
//
//   - *Registry: Ready for Submit. Caller must Close it.
//   - error: undosave.ErrInvalidDelay for a negative delay.
func NewRegistry(cfg Config, deps Deps) (*Registry, error) {
	if cfg.Delay < 0 {
		return nil, fmt.Errorf("%w: %s", undosave.ErrInvalidDelay, cfg.Delay)
	}
	if cfg.Delay == 0 {
		cfg.Delay = undosave.DefaultDelay
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if deps.Clock == nil {
		deps.Clock = undosave.RealClock{}
	}
	if deps.Hub == nil {
		deps.Hub = NewHub(0, deps.Logger)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	r := &Registry{
		cfg:         cfg,
		clock:       deps.Clock,
		hub:         deps.Hub,
		metrics:     deps.Metrics,
		instruments: deps.Instruments,
		logger:      deps.Logger.With("component", "drafts"),
		entries:     make(map[formKey]*entry),
		delay:       cfg.Delay,
	}
	if cfg.IdleTTL > 0 {
		r.sweeper = newSweeper(r, cfg.SweepInterval)
		r.sweeper.start()
	}
	return r, nil
}

// Hub returns the hub transitions are published to.
func (r *Registry) Hub() *Hub {
	return r.hub
}

// Delay returns the grace period given to new controllers.
func (r *Registry) Delay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delay
}

// SetDelay changes the grace period for controllers created from now on.
// Forms with an existing controller keep their delay until disposed.
func (r *Registry) SetDelay(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: %s", undosave.ErrInvalidDelay, d)
	}
	r.mu.Lock()
	old := r.delay
	r.delay = d
	r.mu.Unlock()
	if old != d {
		r.logger.Info("save grace period changed", "old", old.String(), "new", d.String())
	}
	return nil
}

// Submit schedules m under the user's form.
//
// # Description
//
// Any save already pending under the same form is replaced. The returned
// state is the form's state right after the submission.
//
// # Outputs
//
//   - FormState: The pending save.
//   - error: ErrInvalidForm, ErrNoApply, ErrClosed, or
//     undosave.ErrCommitInFlight while the previous save is being written.
func (r *Registry) Submit(userID int64, form string, m Mutation) (FormState, error) {
	resource, err := ParseForm(form)
	if err != nil {
		return FormState{}, err
	}
	if m.Apply == nil {
		return FormState{}, ErrNoApply
	}
	if m.Resource == "" {
		m.Resource = resource
	}

	// The sweeper may close an entry between lookup and Submit; retry on a
	// fresh one.
	for range 3 {
		e, err := r.entry(userID, form, resource)
		if err != nil {
			return FormState{}, err
		}
		e.submitMu.Lock()
		e.mu.Lock()
		e.next = &formMeta{op: m.Op, targetID: m.TargetID, summary: m.Summary}
		e.mu.Unlock()

		err = e.ctrl.Submit(m)

		e.mu.Lock()
		e.next = nil
		e.mu.Unlock()
		e.submitMu.Unlock()
		if err == nil {
			return r.state(e), nil
		}
		switch {
		case errors.Is(err, undosave.ErrClosed):
			continue
		case errors.Is(err, undosave.ErrCommitInFlight):
			r.metrics.RecordEvent(resource, observability.EventRejected)
			return r.state(e), err
		default:
			return FormState{}, err
		}
	}
	return FormState{}, ErrClosed
}

// Cancel undoes the user's pending save under form.
//
// # Outputs
//
//   - FormState: State after the call.
//   - bool: True if a pending save was discarded.
//   - error: ErrUnknownForm when the user has no save under form.
func (r *Registry) Cancel(userID int64, form string) (FormState, bool, error) {
	e, err := r.lookup(userID, form)
	if err != nil {
		return FormState{}, false, err
	}
	ok := e.ctrl.Cancel()
	return r.state(e), ok, nil
}

// Clear dismisses a failed save's error.
func (r *Registry) Clear(userID int64, form string) (FormState, bool, error) {
	e, err := r.lookup(userID, form)
	if err != nil {
		return FormState{}, false, err
	}
	ok := e.ctrl.Clear()
	return r.state(e), ok, nil
}

// Dispose tears down the user's controller for form, dropping a pending save.
// Reports whether a controller existed.
func (r *Registry) Dispose(userID int64, form string) bool {
	r.mu.Lock()
	e, ok := r.entries[formKey{userID, form}]
	if ok {
		delete(r.entries, e.key)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.dispose(e)
	return true
}

// Snapshot returns the user's state for form.
func (r *Registry) Snapshot(userID int64, form string) (FormState, error) {
	e, err := r.lookup(userID, form)
	if err != nil {
		return FormState{}, err
	}
	return r.state(e), nil
}

// List returns every form the user has a controller for, ordered by key.
func (r *Registry) List(userID int64) []FormState {
	r.mu.Lock()
	var mine []*entry
	for k, e := range r.entries {
		if k.userID == userID {
			mine = append(mine, e)
		}
	}
	r.mu.Unlock()

	out := make([]FormState, 0, len(mine))
	for _, e := range mine {
		out = append(out, r.state(e))
	}
	slices.SortFunc(out, func(a, b FormState) int {
		return strings.Compare(a.Form, b.Form)
	})
	return out
}

// Len returns the number of live controllers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close stops the sweeper, disposes every controller, and waits for writes
// already in flight. Pending saves are dropped.
//
// # Outputs
//
//   - error: ctx.Err() if ctx ends before in-flight writes finish.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	all := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		all = append(all, e)
	}
	r.entries = make(map[formKey]*entry)
	r.mu.Unlock()

	if r.sweeper != nil {
		r.sweeper.stop()
	}

	dropped := 0
	for _, e := range all {
		if r.dispose(e) {
			dropped++
		}
	}
	if dropped > 0 {
		r.logger.Warn("unsaved changes dropped at shutdown", "count", dropped)
	}
	for _, e := range all {
		if err := e.ctrl.Wait(ctx); err != nil {
			return fmt.Errorf("wait for in-flight saves: %w", err)
		}
	}
	return nil
}

// =============================================================================
// Internal Methods
// =============================================================================

func (r *Registry) lookup(userID int64, form string) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	e, ok := r.entries[formKey{userID, form}]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownForm, form)
	}
	e.mu.Lock()
	e.lastUsed = r.clock.Now()
	e.mu.Unlock()
	return e, nil
}

// entry returns the controller for (userID, form), creating it if needed.
func (r *Registry) entry(userID int64, form, resource string) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	key := formKey{userID, form}
	if e, ok := r.entries[key]; ok {
		// Refreshed under r.mu so sweepIdle cannot pick e between this
		// lookup and the caller's Submit.
		e.mu.Lock()
		e.lastUsed = r.clock.Now()
		e.mu.Unlock()
		return e, nil
	}

	e := &entry{key: key, resource: resource, lastUsed: r.clock.Now()}
	ctrl, err := undosave.New(r.persistFor(e), undosave.Options[Mutation]{
		Delay:          r.delay,
		Clock:          r.clock,
		OnChange:       func(prev undosave.Status, snap undosave.Snapshot) { r.onChange(e, prev, snap) },
		CommitTimeout:  r.cfg.CommitTimeout,
		FailureMessage: r.cfg.FailureMessage,
		Logger:         r.logger.With("user_id", userID, "form", form),
	})
	if err != nil {
		return nil, err
	}
	e.ctrl = ctrl
	r.entries[key] = e
	return e, nil
}

// persistFor wraps Mutation.Apply with a span and metrics.
func (r *Registry) persistFor(e *entry) undosave.PersistFunc[Mutation] {
	return func(ctx context.Context, m Mutation) error {
		ctx, span := observability.Tracer().Start(ctx, "drafts.commit", trace.WithAttributes(
			attribute.String("phoebe.form", e.key.form),
			attribute.Int64("phoebe.user_id", e.key.userID),
			attribute.String("phoebe.resource", m.Resource),
			attribute.String("phoebe.op", string(m.Op)),
		))
		defer span.End()

		start := time.Now()
		err := m.Apply(ctx)
		elapsed := time.Since(start).Seconds()

		r.metrics.RecordCommit(m.Resource, elapsed, err == nil)
		r.instruments.Record(ctx, m.Resource, elapsed, err == nil)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
}

// onChange runs under the controller's notification lock, so calls for one
// entry are serialized.
func (r *Registry) onChange(e *entry, prev undosave.Status, snap undosave.Snapshot) {
	e.mu.Lock()
	switch snap.Status {
	case undosave.StatusPending:
		if e.next != nil {
			e.op, e.targetID, e.summary = e.next.op, e.next.targetID, e.next.summary
			e.next = nil
		}
		r.metrics.RecordEvent(e.resource, observability.EventSubmitted)
		if prev == undosave.StatusPending {
			r.metrics.RecordEvent(e.resource, observability.EventSuperseded)
		}
		if !e.active {
			e.active = true
			r.metrics.SaveStarted()
		}
	case undosave.StatusCancelled, undosave.StatusCommitted, undosave.StatusFailed:
		switch snap.Status {
		case undosave.StatusCancelled:
			r.metrics.RecordEvent(e.resource, observability.EventCancelled)
		case undosave.StatusCommitted:
			r.metrics.RecordEvent(e.resource, observability.EventCommitted)
		default:
			r.metrics.RecordEvent(e.resource, observability.EventFailed)
		}
		if e.active {
			e.active = false
			r.metrics.SaveEnded()
		}
	}
	fs := r.formStateLocked(e, snap)
	e.mu.Unlock()

	r.hub.Publish(e.key.userID, Event{Type: EventState, Previous: prev, FormState: fs})
}

// dispose closes e's controller and reports whether it dropped an
// unresolved save. e must already be out of the entries map.
func (r *Registry) dispose(e *entry) bool {
	prev := e.ctrl.Snapshot().Status
	e.ctrl.Close()

	e.mu.Lock()
	wasActive := e.active
	if wasActive {
		e.active = false
		r.metrics.SaveEnded()
		r.metrics.RecordEvent(e.resource, observability.EventDisposed)
	}
	fs := r.formStateLocked(e, e.ctrl.Snapshot())
	e.mu.Unlock()

	r.hub.Publish(e.key.userID, Event{Type: EventDisposed, Previous: prev, FormState: fs})
	return wasActive
}

func (r *Registry) state(e *entry) FormState {
	snap := e.ctrl.Snapshot()
	e.mu.Lock()
	defer e.mu.Unlock()
	return r.formStateLocked(e, snap)
}

func (r *Registry) formStateLocked(e *entry, snap undosave.Snapshot) FormState {
	return FormState{
		Form:        e.key.form,
		Resource:    e.resource,
		Op:          e.op,
		TargetID:    e.targetID,
		Summary:     e.summary,
		Snapshot:    snap,
		RemainingMS: snap.Remaining(r.clock.Now()).Milliseconds(),
	}
}

// sweepIdle disposes controllers with nothing pending that have not been
// touched for IdleTTL. Returns how many were removed.
func (r *Registry) sweepIdle() int {
	cutoff := r.clock.Now().Add(-r.cfg.IdleTTL)

	r.mu.Lock()
	var stale []*entry
	for k, e := range r.entries {
		e.mu.Lock()
		idle := !e.active && e.lastUsed.Before(cutoff)
		e.mu.Unlock()
		if idle && !e.ctrl.Snapshot().Pending {
			stale = append(stale, e)
			delete(r.entries, k)
		}
	}
	r.mu.Unlock()

	for _, e := range stale {
		r.dispose(e)
	}
	return len(stale)
}
