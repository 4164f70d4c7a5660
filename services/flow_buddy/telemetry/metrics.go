// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics contains the pre-defined instruments for the FlowBuddy service.
//
// Description:
//
//	Counters and histograms covering HTTP traffic, build sessions, the
//	model call loop, and tool dispatch. All instruments use the
//	"flowbuddy_" prefix.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// --- HTTP Metrics ---

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal metric.Int64Counter

	// HTTPRequestDuration records HTTP request duration in seconds.
	HTTPRequestDuration metric.Float64Histogram

	// HTTPActiveRequests tracks currently active HTTP requests.
	HTTPActiveRequests metric.Int64UpDownCounter

	// --- Session Metrics ---

	// SessionsTotal counts finished build sessions by outcome.
	SessionsTotal metric.Int64Counter

	// SessionDuration records wall time of a full build session in seconds.
	SessionDuration metric.Float64Histogram

	// SessionsActive tracks build sessions currently running.
	// Registered lazily via RegisterActiveSessions.
	SessionsActive metric.Int64ObservableGauge

	// --- Loop Metrics ---

	// IterationsTotal counts build iterations across all sessions.
	IterationsTotal metric.Int64Counter

	// ModelCallsTotal counts model calls by status.
	ModelCallsTotal metric.Int64Counter

	// ModelTokensTotal counts tokens by direction (input, output).
	ModelTokensTotal metric.Int64Counter

	// --- Tool Metrics ---

	// ToolCallsTotal counts dispatched tool calls by tool and status.
	ToolCallsTotal metric.Int64Counter

	// WarningsTotal counts validation findings by code.
	WarningsTotal metric.Int64Counter

	// --- Error Metrics ---

	// ErrorsTotal counts errors by component.
	ErrorsTotal metric.Int64Counter
}

// NewMetrics creates a Metrics instance with all instruments registered.
//
// Inputs:
//
//	meter - The OTel meter to register instruments with.
//
// Outputs:
//
//	*Metrics - The initialized instruments.
//	error - Non-nil if any registration fails.
//
// Thread Safety: Safe for concurrent use after creation.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	// --- HTTP Metrics ---
	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"flowbuddy_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_requests_total: %w", err)
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"flowbuddy_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_request_duration: %w", err)
	}

	m.HTTPActiveRequests, err = meter.Int64UpDownCounter(
		"flowbuddy_http_active_requests",
		metric.WithDescription("Currently active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_active_requests: %w", err)
	}

	// --- Session Metrics ---
	m.SessionsTotal, err = meter.Int64Counter(
		"flowbuddy_sessions_total",
		metric.WithDescription("Finished build sessions by outcome"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create sessions_total: %w", err)
	}

	// Sessions are dominated by model latency, so buckets run long.
	m.SessionDuration, err = meter.Float64Histogram(
		"flowbuddy_session_duration_seconds",
		metric.WithDescription("Build session wall time in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600, 1200),
	)
	if err != nil {
		return nil, fmt.Errorf("create session_duration: %w", err)
	}

	// --- Loop Metrics ---
	m.IterationsTotal, err = meter.Int64Counter(
		"flowbuddy_iterations_total",
		metric.WithDescription("Build iterations across all sessions"),
		metric.WithUnit("{iteration}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create iterations_total: %w", err)
	}

	m.ModelCallsTotal, err = meter.Int64Counter(
		"flowbuddy_model_calls_total",
		metric.WithDescription("Model calls by status"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create model_calls_total: %w", err)
	}

	m.ModelTokensTotal, err = meter.Int64Counter(
		"flowbuddy_model_tokens_total",
		metric.WithDescription("Tokens exchanged with the model by direction"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create model_tokens_total: %w", err)
	}

	// --- Tool Metrics ---
	m.ToolCallsTotal, err = meter.Int64Counter(
		"flowbuddy_tool_calls_total",
		metric.WithDescription("Dispatched tool calls by tool and status"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create tool_calls_total: %w", err)
	}

	m.WarningsTotal, err = meter.Int64Counter(
		"flowbuddy_validation_warnings_total",
		metric.WithDescription("Validation findings by code"),
		metric.WithUnit("{warning}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create validation_warnings_total: %w", err)
	}

	// --- Error Metrics ---
	m.ErrorsTotal, err = meter.Int64Counter(
		"flowbuddy_errors_total",
		metric.WithDescription("Errors by component"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create errors_total: %w", err)
	}

	return m, nil
}

// RegisterActiveSessions registers the callback for the active session gauge.
//
// Description:
//
//	Sets up an observable gauge reporting how many build sessions are
//	running. The callback is invoked on every scrape.
//
// Inputs:
//
//	meter - The OTel meter to register with.
//	countFunc - Returns the current number of running sessions.
//
// Outputs:
//
//	metric.Registration - Registration handle for cleanup.
//	error - Non-nil if registration fails.
func (m *Metrics) RegisterActiveSessions(meter metric.Meter, countFunc func() int64) (metric.Registration, error) {
	var err error
	m.SessionsActive, err = meter.Int64ObservableGauge(
		"flowbuddy_sessions_active",
		metric.WithDescription("Build sessions currently running"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create sessions_active: %w", err)
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(m.SessionsActive, countFunc())
		return nil
	}, m.SessionsActive)
}
