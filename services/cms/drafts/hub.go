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
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/phoebe/pkg/undosave"
)

// EventType distinguishes Hub events.
type EventType string

const (
	// EventState carries a controller transition.
	EventState EventType = "state"

	// EventDisposed says the form's controller was torn down.
	EventDisposed EventType = "disposed"
)

// FormState describes one form's save as shown to its editor.
type FormState struct {
	Form     string `json:"form"`
	Resource string `json:"resource"`
	Op       Op     `json:"op,omitempty"`
	TargetID int64  `json:"target_id,omitempty"`
	Summary  string `json:"summary,omitempty"`
	undosave.Snapshot
	RemainingMS int64 `json:"remaining_ms"`
}

// Event is a message delivered to a user's subscribers.
type Event struct {
	Type     EventType       `json:"type"`
	Previous undosave.Status `json:"previous"`
	FormState
}

// =============================================================================
// Hub
// =============================================================================

// Hub fans events out to each user's subscribers.
//
// # Description
//
// Publish never blocks: a subscriber whose buffer is full misses the event
// and its Dropped counter grows. Clients recover by listing current state.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int64]map[*Subscription]struct{}
	buffer int
	logger *slog.Logger
	closed bool
}

// Subscription receives one user's events on C until Close.
type Subscription struct {
	C <-chan Event

	ch      chan Event
	hub     *Hub
	userID  int64
	once    sync.Once
	dropped atomic.Uint64
}

// NewHub creates a Hub whose subscriptions buffer up to buffer events.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[int64]map[*Subscription]struct{}),
		buffer: buffer,
		logger: logger.With("component", "drafts_hub"),
	}
}

// Subscribe registers a subscriber for userID. A subscription taken after
// Close is already closed.
func (h *Hub) Subscribe(userID int64) *Subscription {
	ch := make(chan Event, h.buffer)
	s := &Subscription{C: ch, ch: ch, hub: h, userID: userID}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.once.Do(func() { close(ch) })
		return s
	}
	set, ok := h.subs[userID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[userID] = set
	}
	set[s] = struct{}{}
	return s
}

// Publish delivers ev to every subscriber of userID.
func (h *Hub) Publish(userID int64, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[userID] {
		select {
		case s.ch <- ev:
		default:
			s.dropped.Add(1)
			h.logger.Debug("subscriber buffer full, event dropped",
				"user_id", userID, "form", ev.Form)
		}
	}
}

// Subscribers returns the number of live subscriptions for userID.
func (h *Hub) Subscribers(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// Close closes every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for userID, set := range h.subs {
		for s := range set {
			s.once.Do(func() { close(s.ch) })
		}
		delete(h.subs, userID)
	}
}

// Close unsubscribes and closes C. Idempotent.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if set, ok := s.hub.subs[s.userID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(s.hub.subs, s.userID)
		}
	}
	s.once.Do(func() { close(s.ch) })
}

// Dropped returns how many events this subscription missed.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}
