// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) *SaveMetrics {
	t.Helper()
	return NewSaveMetrics(prometheus.NewRegistry())
}

func TestRecordEvent(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordEvent("news", EventSubmitted)
	m.RecordEvent("news", EventSubmitted)
	m.RecordEvent("term", EventCancelled)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("news", "submitted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("term", "cancelled")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("news", "committed")))
}

func TestPendingGauge(t *testing.T) {
	m := newTestMetrics(t)

	m.SaveStarted()
	m.SaveStarted()
	m.SaveEnded()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PendingSaves))
}

func TestRecordCommit(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordCommit("news", 0.02, true)
	m.RecordCommit("news", 0.5, false)

	assert.Equal(t, 2, testutil.CollectAndCount(m.CommitDurationSeconds))
}

func TestStreamGauge(t *testing.T) {
	m := newTestMetrics(t)

	m.StreamOpened()
	m.StreamOpened()
	m.StreamClosed()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamClients))
}

func TestNilMetrics(t *testing.T) {
	var m *SaveMetrics
	assert.NotPanics(t, func() {
		m.RecordEvent("news", EventSubmitted)
		m.SaveStarted()
		m.SaveEnded()
		m.RecordCommit("news", 1, true)
		m.StreamOpened()
		m.StreamClosed()
	})
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newTestMetrics(t)

	router := gin.New()
	router.Use(m.GinMiddleware())
	router.GET("/v1/public/news/:id", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	for _, path := range []string{"/v1/public/news/1", "/v1/public/news/2", "/nowhere"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/v1/public/news/:id", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "404")))
}

func TestInit_Disabled(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "none"

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_UnknownExporter(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	cfg.TraceExporter = "carrier-pigeon"

	_, err := Init(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrUnknownExporter)

	cfg.TraceExporter = "none"
	cfg.MetricExporter = "smoke-signals"
	_, err = Init(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInit_StdoutTracer(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	cfg.TraceExporter = "stdout"
	cfg.MetricExporter = "none"

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)

	_, span := Tracer().Start(context.Background(), "test")
	span.End()
	assert.NoError(t, shutdown(context.Background()))
}

func TestCommitInstruments(t *testing.T) {
	ci, err := NewCommitInstruments()
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		ci.Record(context.Background(), "news", 0.01, true)
	})

	var nilCI *CommitInstruments
	assert.NotPanics(t, func() {
		nilCI.Record(context.Background(), "news", 0.01, true)
	})
}
