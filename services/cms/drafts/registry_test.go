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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/phoebe/pkg/undosave"
	"github.com/AleutianAI/phoebe/services/cms/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var epoch = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	reg     *Registry
	clock   *undosave.ManualClock
	metrics *observability.SaveMetrics
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	clock := undosave.NewManualClock(epoch)
	metrics := observability.NewSaveMetrics(prometheus.NewRegistry())
	reg, err := NewRegistry(cfg, Deps{Clock: clock, Metrics: metrics})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })
	return &harness{reg: reg, clock: clock, metrics: metrics}
}

func (h *harness) events(resource string, ev observability.SaveEvent) float64 {
	return testutil.ToFloat64(h.metrics.EventsTotal.WithLabelValues(resource, string(ev)))
}

func (h *harness) pending() float64 {
	return testutil.ToFloat64(h.metrics.PendingSaves)
}

// counter returns a Mutation that counts its applications under label.
func counter(applied *[]string, mu *sync.Mutex, label string) Mutation {
	return Mutation{
		Resource: ResourceNews,
		Op:       OpCreate,
		Summary:  label,
		Apply: func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			*applied = append(*applied, label)
			return nil
		},
	}
}

func drain(sub *Subscription) []Event {
	var out []Event
	for {
		select {
		case ev := <-sub.C:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestSubmit_CommitsAfterDelay(t *testing.T) {
	h := newHarness(t, Config{})
	sub := h.reg.Hub().Subscribe(1)
	defer sub.Close()

	var mu sync.Mutex
	var applied []string
	form := NewForm(ResourceNews)

	state, err := h.reg.Submit(1, form, counter(&applied, &mu, "Breaking story"))
	require.NoError(t, err)
	assert.Equal(t, undosave.StatusPending, state.Status)
	assert.True(t, state.Pending)
	assert.Equal(t, "Breaking story", state.Summary)
	assert.Equal(t, int64(5000), state.RemainingMS)
	assert.Equal(t, 1.0, h.pending())

	h.clock.Advance(undosave.DefaultDelay - time.Millisecond)
	assert.Empty(t, applied)

	h.clock.Advance(time.Millisecond)
	assert.Equal(t, []string{"Breaking story"}, applied)

	state, err = h.reg.Snapshot(1, form)
	require.NoError(t, err)
	assert.Equal(t, undosave.StatusIdle, state.Status)
	assert.Equal(t, undosave.StatusCommitted, state.Outcome)
	assert.False(t, state.Pending)

	var statuses []undosave.Status
	for _, ev := range drain(sub) {
		assert.Equal(t, EventState, ev.Type)
		assert.Equal(t, form, ev.Form)
		statuses = append(statuses, ev.Status)
	}
	assert.Equal(t, []undosave.Status{
		undosave.StatusPending, undosave.StatusCommitting, undosave.StatusCommitted,
	}, statuses)

	assert.Equal(t, 1.0, h.events(ResourceNews, observability.EventSubmitted))
	assert.Equal(t, 1.0, h.events(ResourceNews, observability.EventCommitted))
	assert.Equal(t, 0.0, h.pending())
}

func TestCancel_BeforeExpiry(t *testing.T) {
	h := newHarness(t, Config{})
	var mu sync.Mutex
	var applied []string
	form := EditForm(ResourceNews, 42)

	_, err := h.reg.Submit(1, form, counter(&applied, &mu, "edit"))
	require.NoError(t, err)

	h.clock.Advance(4999 * time.Millisecond)
	state, ok, err := h.reg.Cancel(1, form)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, state.Pending)
	assert.Equal(t, undosave.StatusCancelled, state.Outcome)

	h.clock.Advance(time.Minute)
	assert.Empty(t, applied)
	assert.Equal(t, 1.0, h.events(ResourceNews, observability.EventCancelled))
	assert.Equal(t, 0.0, h.pending())

	_, ok, err = h.reg.Cancel(1, form)
	require.NoError(t, err)
	assert.False(t, ok, "nothing left to cancel")
}

func TestSubmit_LastWriteWins(t *testing.T) {
	h := newHarness(t, Config{})
	var mu sync.Mutex
	var applied []string
	form := NewForm(ResourceNews)

	_, err := h.reg.Submit(1, form, counter(&applied, &mu, "first"))
	require.NoError(t, err)
	h.clock.Advance(3 * time.Second)
	state, err := h.reg.Submit(1, form, counter(&applied, &mu, "second"))
	require.NoError(t, err)
	assert.Equal(t, "second", state.Summary)

	h.clock.Advance(3 * time.Second)
	assert.Empty(t, applied, "grace period restarted by second submit")

	h.clock.Advance(2 * time.Second)
	assert.Equal(t, []string{"second"}, applied)
	assert.Equal(t, 1.0, h.events(ResourceNews, observability.EventSuperseded))
	assert.Equal(t, 0.0, h.pending())
}

func TestSubmit_FailureSurfacesMessage(t *testing.T) {
	h := newHarness(t, Config{FailureMessage: func(err error) string {
		return "could not save: " + err.Error()
	}})
	form := EditForm(ResourceTerm, 3)
	var calls atomic.Int32

	_, err := h.reg.Submit(1, form, Mutation{
		Op:       OpUpdate,
		TargetID: 3,
		Apply: func(context.Context) error {
			calls.Add(1)
			return errors.New("disk full")
		},
	})
	require.NoError(t, err)

	h.clock.Advance(undosave.DefaultDelay)
	state, err := h.reg.Snapshot(1, form)
	require.NoError(t, err)
	assert.Equal(t, undosave.StatusFailed, state.Status)
	assert.Equal(t, "could not save: disk full", state.Error)
	assert.Equal(t, ResourceTerm, state.Resource)

	h.clock.Advance(time.Minute)
	assert.Equal(t, int32(1), calls.Load(), "failed saves are not retried")

	state, ok, err := h.reg.Clear(1, form)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, undosave.StatusIdle, state.Status)
	assert.Empty(t, state.Error)
	assert.Equal(t, 1.0, h.events(ResourceTerm, observability.EventFailed))
}

func TestSubmit_RejectedWhileCommitting(t *testing.T) {
	h := newHarness(t, Config{})
	form := NewForm(ResourceNews)
	started := make(chan struct{})
	release := make(chan struct{})

	_, err := h.reg.Submit(1, form, Mutation{
		Summary: "slow",
		Apply: func(context.Context) error {
			close(started)
			<-release
			return nil
		},
	})
	require.NoError(t, err)

	advanced := make(chan struct{})
	go func() {
		defer close(advanced)
		h.clock.Advance(undosave.DefaultDelay)
	}()
	<-started

	state, err := h.reg.Submit(1, form, Mutation{Summary: "late", Apply: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, undosave.ErrCommitInFlight)
	assert.Equal(t, undosave.StatusCommitting, state.Status)
	assert.Equal(t, "slow", state.Summary, "rejected mutation does not replace metadata")
	assert.Equal(t, 1.0, h.events(ResourceNews, observability.EventRejected))

	close(release)
	<-advanced
	state, err = h.reg.Snapshot(1, form)
	require.NoError(t, err)
	assert.Equal(t, undosave.StatusCommitted, state.Outcome)
}

func TestSubmit_EventsCarryTheirOwnMetadata(t *testing.T) {
	h := newHarness(t, Config{})
	sub := h.reg.Hub().Subscribe(1)
	defer sub.Close()

	form := NewForm(ResourceNews)
	started := make(chan struct{})
	release := make(chan struct{})
	noop := func(context.Context) error { return nil }

	_, err := h.reg.Submit(1, form, Mutation{
		Summary: "slow",
		Apply: func(context.Context) error {
			close(started)
			<-release
			return nil
		},
	})
	require.NoError(t, err)

	advanced := make(chan struct{})
	go func() {
		defer close(advanced)
		h.clock.Advance(undosave.DefaultDelay)
	}()
	<-started

	_, err = h.reg.Submit(1, form, Mutation{Summary: "rejected", Apply: noop})
	require.ErrorIs(t, err, undosave.ErrCommitInFlight)

	// Races the end of the commit: either rejected or accepted afterwards.
	submitted := make(chan error, 1)
	go func() {
		_, err := h.reg.Submit(1, form, Mutation{Summary: "late", Apply: noop})
		submitted <- err
	}()
	close(release)
	<-advanced
	if err := <-submitted; err != nil {
		require.ErrorIs(t, err, undosave.ErrCommitInFlight)
	}

	events := drain(sub)
	require.NotEmpty(t, events)
	for _, ev := range events {
		switch {
		case ev.Status == undosave.StatusPending && ev.Generation > 1:
			assert.Equal(t, "late", ev.Summary)
		default:
			assert.Equal(t, "slow", ev.Summary, "event %s", ev.Status)
		}
	}
}

func TestDispose_DropsPendingSave(t *testing.T) {
	h := newHarness(t, Config{})
	sub := h.reg.Hub().Subscribe(1)
	defer sub.Close()

	var mu sync.Mutex
	var applied []string
	form := NewForm(ResourceBlock)

	_, err := h.reg.Submit(1, form, counter(&applied, &mu, "block"))
	require.NoError(t, err)
	drain(sub)

	assert.True(t, h.reg.Dispose(1, form))
	assert.False(t, h.reg.Dispose(1, form))

	h.clock.Advance(time.Minute)
	assert.Empty(t, applied)
	assert.Equal(t, 0, h.clock.PendingTimers())
	assert.Equal(t, 0.0, h.pending())
	assert.Equal(t, 1.0, h.events(ResourceBlock, observability.EventDisposed))

	evs := drain(sub)
	require.Len(t, evs, 1)
	assert.Equal(t, EventDisposed, evs[0].Type)
	assert.Equal(t, undosave.StatusPending, evs[0].Previous)

	_, err = h.reg.Snapshot(1, form)
	assert.ErrorIs(t, err, ErrUnknownForm)
}

func TestUsersAreIsolated(t *testing.T) {
	h := newHarness(t, Config{})
	var mu sync.Mutex
	var applied []string

	_, err := h.reg.Submit(1, SettingsForm, counter(&applied, &mu, "alice"))
	require.NoError(t, err)
	_, err = h.reg.Submit(2, SettingsForm, counter(&applied, &mu, "bob"))
	require.NoError(t, err)
	_, err = h.reg.Submit(2, NewForm(ResourceTerm), counter(&applied, &mu, "bob-term"))
	require.NoError(t, err)

	_, ok, err := h.reg.Cancel(1, SettingsForm)
	require.NoError(t, err)
	assert.True(t, ok)

	h.clock.Advance(undosave.DefaultDelay)
	assert.ElementsMatch(t, []string{"bob", "bob-term"}, applied)

	list := h.reg.List(2)
	require.Len(t, list, 2)
	assert.Equal(t, SettingsForm, list[0].Form)
	assert.Equal(t, "term:new", list[1].Form)
	assert.Len(t, h.reg.List(1), 1)
	assert.Empty(t, h.reg.List(3))
}

func TestSubmit_Errors(t *testing.T) {
	h := newHarness(t, Config{})

	_, err := h.reg.Submit(1, "news", Mutation{Apply: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrInvalidForm)

	_, err = h.reg.Submit(1, NewForm(ResourceNews), Mutation{})
	assert.ErrorIs(t, err, ErrNoApply)

	_, _, err = h.reg.Cancel(1, NewForm(ResourceNews))
	assert.ErrorIs(t, err, ErrUnknownForm)

	_, _, err = h.reg.Clear(1, NewForm(ResourceNews))
	assert.ErrorIs(t, err, ErrUnknownForm)
}

func TestNewRegistry_InvalidDelay(t *testing.T) {
	_, err := NewRegistry(Config{Delay: -time.Second}, Deps{})
	assert.ErrorIs(t, err, undosave.ErrInvalidDelay)
}

func TestSetDelay_AppliesToNewControllers(t *testing.T) {
	h := newHarness(t, Config{})
	var mu sync.Mutex
	var applied []string

	_, err := h.reg.Submit(1, EditForm(ResourceNews, 1), counter(&applied, &mu, "old-delay"))
	require.NoError(t, err)

	require.NoError(t, h.reg.SetDelay(time.Second))
	assert.Equal(t, time.Second, h.reg.Delay())
	assert.ErrorIs(t, h.reg.SetDelay(0), undosave.ErrInvalidDelay)

	_, err = h.reg.Submit(1, EditForm(ResourceNews, 2), counter(&applied, &mu, "new-delay"))
	require.NoError(t, err)

	h.clock.Advance(time.Second)
	assert.Equal(t, []string{"new-delay"}, applied)

	h.clock.Advance(4 * time.Second)
	assert.Equal(t, []string{"new-delay", "old-delay"}, applied)
}

// =============================================================================
// Sweeping and Shutdown
// =============================================================================

func TestSweepNow_RemovesIdleControllers(t *testing.T) {
	h := newHarness(t, Config{IdleTTL: 10 * time.Minute, SweepInterval: time.Hour})
	var mu sync.Mutex
	var applied []string

	_, err := h.reg.Submit(1, EditForm(ResourceNews, 1), counter(&applied, &mu, "done"))
	require.NoError(t, err)
	h.clock.Advance(undosave.DefaultDelay)

	h.clock.Advance(11 * time.Minute)
	_, err = h.reg.Submit(1, EditForm(ResourceNews, 2), counter(&applied, &mu, "fresh"))
	require.NoError(t, err)

	assert.Equal(t, 1, h.reg.SweepNow())
	assert.Equal(t, 1, h.reg.Len())

	_, err = h.reg.Snapshot(1, EditForm(ResourceNews, 1))
	assert.ErrorIs(t, err, ErrUnknownForm)

	// Once committed and idle past the TTL, the second one goes too.
	h.clock.Advance(11 * time.Minute)
	assert.Equal(t, 1, h.reg.SweepNow())
	assert.Equal(t, 0, h.reg.Len())
	assert.Equal(t, []string{"done", "fresh"}, applied)
}

func TestSweepNow_KeepsPending(t *testing.T) {
	h := newHarness(t, Config{IdleTTL: time.Second, SweepInterval: time.Hour})
	require.NoError(t, h.reg.SetDelay(time.Hour))

	var mu sync.Mutex
	var applied []string
	_, err := h.reg.Submit(1, NewForm(ResourceNews), counter(&applied, &mu, "pending"))
	require.NoError(t, err)

	h.clock.Advance(30 * time.Minute)
	assert.Equal(t, 0, h.reg.SweepNow())
	assert.Equal(t, 1, h.reg.Len())
}

func TestSweepNow_SparesEntryBeingSubmitted(t *testing.T) {
	h := newHarness(t, Config{IdleTTL: 10 * time.Minute, SweepInterval: time.Hour})
	var mu sync.Mutex
	var applied []string
	form := EditForm(ResourceNews, 1)

	_, err := h.reg.Submit(1, form, counter(&applied, &mu, "first"))
	require.NoError(t, err)
	h.clock.Advance(undosave.DefaultDelay)
	h.clock.Advance(11 * time.Minute)

	// Submit's lookup, then a sweep, then the controller submit.
	e, err := h.reg.entry(1, form, ResourceNews)
	require.NoError(t, err)
	assert.Equal(t, 0, h.reg.SweepNow())
	require.NoError(t, e.ctrl.Submit(counter(&applied, &mu, "second")))

	h.clock.Advance(undosave.DefaultDelay)
	assert.Equal(t, []string{"first", "second"}, applied)
	assert.Equal(t, 1, h.reg.Len())
}

func TestClose_DropsPendingAndWaitsForInFlight(t *testing.T) {
	clock := undosave.NewManualClock(epoch)
	reg, err := NewRegistry(Config{IdleTTL: time.Minute}, Deps{Clock: clock})
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	_, err = reg.Submit(2, EditForm(ResourceNews, 1), Mutation{Apply: func(context.Context) error {
		close(started)
		<-release
		finished.Store(true)
		return nil
	}})
	require.NoError(t, err)

	clock.Advance(time.Second)
	var mu sync.Mutex
	var applied []string
	_, err = reg.Submit(1, EditForm(ResourceNews, 1), counter(&applied, &mu, "dropped"))
	require.NoError(t, err)

	// Fires user 2's timer only; user 1 still has a second to go.
	advanced := make(chan struct{})
	go func() {
		defer close(advanced)
		clock.Advance(undosave.DefaultDelay - time.Second)
	}()
	<-started

	closed := make(chan error, 1)
	go func() { closed <- reg.Close(context.Background()) }()

	select {
	case <-closed:
		t.Fatal("Close returned while a save was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-closed)
	<-advanced
	assert.True(t, finished.Load())

	mu.Lock()
	assert.Empty(t, applied, "pending save dropped at shutdown")
	mu.Unlock()

	_, err = reg.Submit(1, NewForm(ResourceNews), counter(&applied, &mu, "late"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, reg.Close(context.Background()))
}

func TestClose_ContextExpires(t *testing.T) {
	clock := undosave.NewManualClock(epoch)
	reg, err := NewRegistry(Config{}, Deps{Clock: clock})
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	_, err = reg.Submit(1, NewForm(ResourceNews), Mutation{Apply: func(context.Context) error {
		close(started)
		<-release
		return nil
	}})
	require.NoError(t, err)

	advanced := make(chan struct{})
	go func() {
		defer close(advanced)
		clock.Advance(undosave.DefaultDelay)
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, reg.Close(ctx), context.DeadlineExceeded)

	close(release)
	<-advanced
}

func TestParseForm(t *testing.T) {
	tests := []struct {
		form     string
		resource string
		wantErr  bool
	}{
		{"news:new", ResourceNews, false},
		{"news:42", ResourceNews, false},
		{"term:7", ResourceTerm, false},
		{"user:new", ResourceUser, false},
		{"block:3", ResourceBlock, false},
		{"settings:channel", ResourceSettings, false},
		{"homepage:mode", ResourceHomepage, false},
		{"news:0", "", true},
		{"news:-1", "", true},
		{"news:abc", "", true},
		{"settings:new", "", true},
		{"widget:new", "", true},
		{"news", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.form, func(t *testing.T) {
			got, err := ParseForm(tt.form)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidForm)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.resource, got)
		})
	}
}
