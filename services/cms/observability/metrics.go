// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and tracing for the Phoebe CMS.
//
// # Description
//
// Prometheus metrics cover the delayed-save lifecycle and the HTTP surface:
//   - Save event counters (submitted, superseded, cancelled, committed, ...)
//   - Pending saves gauge
//   - Commit latency histogram
//   - HTTP request counter
//   - Connected save-stream clients gauge
//
// OpenTelemetry traces and OTel metrics are configured by Init.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "phoebe"

const savesSubsystem = "saves"

const httpSubsystem = "http"

// SaveMetrics holds all Prometheus metrics for the CMS.
//
// # Fields
//
//   - EventsTotal: Save lifecycle events by resource and event.
//   - PendingSaves: Saves currently pending or committing.
//   - CommitDurationSeconds: Persist latency by resource and outcome.
//   - HTTPRequestsTotal: Requests by method, route and status code.
//   - StreamClients: Connected save-stream websocket clients.
//
// A nil *SaveMetrics is valid and records nothing.
type SaveMetrics struct {
	// EventsTotal counts lifecycle events.
	// Labels: resource (news, term, ...), event (submitted, committed, ...)
	EventsTotal *prometheus.CounterVec

	// PendingSaves tracks saves inside their grace period or being written.
	PendingSaves prometheus.Gauge

	// CommitDurationSeconds measures persist latency.
	// Labels: resource, outcome (committed, failed)
	CommitDurationSeconds *prometheus.HistogramVec

	// HTTPRequestsTotal counts handled requests.
	// Labels: method, route, status
	HTTPRequestsTotal *prometheus.CounterVec

	// StreamClients tracks open websocket subscriptions.
	StreamClients prometheus.Gauge
}

var (
	defaultMetrics     *SaveMetrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide metrics registered with the default
// Prometheus registry, creating them on first use.
func DefaultMetrics() *SaveMetrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = NewSaveMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// NewSaveMetrics creates and registers all metrics with reg.
//
// # Inputs
//
//   - reg: Registry to register with. Tests pass prometheus.NewRegistry().
//
// # Limitations
//
//   - Panics if the metrics are already registered with reg.
func NewSaveMetrics(reg prometheus.Registerer) *SaveMetrics {
	factory := promauto.With(reg)
	return &SaveMetrics{
		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: savesSubsystem,
				Name:      "events_total",
				Help:      "Delayed save lifecycle events by resource and event",
			},
			[]string{"resource", "event"},
		),

		PendingSaves: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: savesSubsystem,
				Name:      "pending",
				Help:      "Number of saves pending or committing",
			},
		),

		CommitDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: savesSubsystem,
				Name:      "commit_duration_seconds",
				Help:      "Time spent persisting a committed save in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"resource", "outcome"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "requests_total",
				Help:      "Total HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),

		StreamClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: savesSubsystem,
				Name:      "stream_clients",
				Help:      "Number of connected save stream clients",
			},
		),
	}
}

// =============================================================================
// Save Events
// =============================================================================

// SaveEvent is a lifecycle event label.
type SaveEvent string

const (
	EventSubmitted  SaveEvent = "submitted"
	EventSuperseded SaveEvent = "superseded"
	EventCancelled  SaveEvent = "cancelled"
	EventCommitted  SaveEvent = "committed"
	EventFailed     SaveEvent = "failed"
	EventDisposed   SaveEvent = "disposed"
	EventRejected   SaveEvent = "rejected"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordEvent counts one lifecycle event.
func (m *SaveMetrics) RecordEvent(resource string, event SaveEvent) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(resource, string(event)).Inc()
}

// SaveStarted increments the pending gauge.
func (m *SaveMetrics) SaveStarted() {
	if m == nil {
		return
	}
	m.PendingSaves.Inc()
}

// SaveEnded decrements the pending gauge.
func (m *SaveMetrics) SaveEnded() {
	if m == nil {
		return
	}
	m.PendingSaves.Dec()
}

// RecordCommit records persist latency.
//
// # Inputs
//
//   - resource: The resource that was written.
//   - seconds: Persist duration in seconds.
//   - success: Whether persist returned nil.
func (m *SaveMetrics) RecordCommit(resource string, seconds float64, success bool) {
	if m == nil {
		return
	}
	outcome := "committed"
	if !success {
		outcome = "failed"
	}
	m.CommitDurationSeconds.WithLabelValues(resource, outcome).Observe(seconds)
}

// StreamOpened increments the stream clients gauge.
func (m *SaveMetrics) StreamOpened() {
	if m == nil {
		return
	}
	m.StreamClients.Inc()
}

// StreamClosed decrements the stream clients gauge.
func (m *SaveMetrics) StreamClosed() {
	if m == nil {
		return
	}
	m.StreamClients.Dec()
}

// GinMiddleware counts every request by its route template. Unmatched routes
// are labelled "unmatched".
func (m *SaveMetrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if m == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
