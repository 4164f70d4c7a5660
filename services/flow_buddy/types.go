// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package flow_buddy exposes the workflow builder over HTTP.
//
// A build request starts an asynchronous session; the caller polls the
// session resource or attaches to its websocket event stream for live
// progress. Terminal sessions are persisted through the record store when
// one is configured.
package flow_buddy

import (
	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/agent"
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	// Error is the human-readable failure description.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code"`
}

// BuildAcceptedResponse acknowledges an accepted build request.
type BuildAcceptedResponse struct {
	// SessionID identifies the session driving the build.
	SessionID string `json:"session_id"`

	// State is the session state at acceptance time.
	State string `json:"state"`

	// EventsPath is the websocket endpoint streaming this session's
	// progress.
	EventsPath string `json:"events_path"`
}

// SessionListResponse lists the sessions the service currently holds.
type SessionListResponse struct {
	Sessions []*agent.SessionView `json:"sessions"`
	Count    int                  `json:"count"`
}

// CancelResponse acknowledges a cancellation request.
type CancelResponse struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
}

// HealthResponse reports service liveness.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}
