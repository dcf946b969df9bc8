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
	"sync"
	"time"
)

// =============================================================================
// Idle Sweeper
// =============================================================================

// sweeper periodically disposes idle controllers.
//
// # Description
//
// Runs Registry.sweepIdle on a ticker until stopped. Uses the ticker + done
// channel pattern; stop blocks until the loop has exited.
//
// # Thread Safety
//
// start and stop are safe to call concurrently and more than once.
type sweeper struct {
	registry *Registry
	interval time.Duration

	mu      sync.Mutex
	running bool
	done    chan struct{}
	exited  chan struct{}
}

func newSweeper(r *Registry, interval time.Duration) *sweeper {
	return &sweeper{registry: r, interval: interval}
}

func (s *sweeper) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.done = make(chan struct{})
	s.exited = make(chan struct{})

	s.registry.logger.Debug("idle save sweeper starting",
		"interval", s.interval.String(),
		"idle_ttl", s.registry.cfg.IdleTTL.String(),
	)
	go s.runLoop(s.done, s.exited)
}

func (s *sweeper) stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	exited := s.exited
	s.mu.Unlock()
	<-exited
}

func (s *sweeper) runLoop(done <-chan struct{}, exited chan<- struct{}) {
	defer close(exited)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			s.registry.logger.Debug("idle save sweeper stopped")
			return
		case <-ticker.C:
			if n := s.registry.sweepIdle(); n > 0 {
				s.registry.logger.Info("idle save controllers swept", "count", n)
			}
		}
	}
}

// SweepNow disposes idle controllers immediately and returns how many were
// removed. It does not affect the sweeper's schedule.
func (r *Registry) SweepNow() int {
	return r.sweepIdle()
}
