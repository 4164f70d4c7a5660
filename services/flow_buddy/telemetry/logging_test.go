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
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

const (
	testTraceID = "0af7651916cd43dd8448eb211c80319c"
	testSpanID  = "b7ad6b7169203331"
)

// spanContext builds a context carrying a valid remote span context.
func spanContext(t *testing.T) context.Context {
	t.Helper()

	traceID, err := trace.TraceIDFromHex(testTraceID)
	if err != nil {
		t.Fatalf("TraceIDFromHex() error = %v", err)
	}
	spanID, err := trace.SpanIDFromHex(testSpanID)
	if err != nil {
		t.Fatalf("SpanIDFromHex() error = %v", err)
	}

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	return trace.ContextWithSpanContext(context.Background(), sc)
}

func TestLoggerWithTrace_ValidSpan(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	LoggerWithTrace(spanContext(t), logger).Info("build started")

	out := buf.String()
	if !strings.Contains(out, "trace_id="+testTraceID) {
		t.Errorf("log output missing trace_id: %s", out)
	}
	if !strings.Contains(out, "span_id="+testSpanID) {
		t.Errorf("log output missing span_id: %s", out)
	}
}

func TestLoggerWithTrace_NoSpan(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	LoggerWithTrace(context.Background(), logger).Info("no span here")

	out := buf.String()
	if strings.Contains(out, "trace_id") {
		t.Errorf("log output should not contain trace_id without a span: %s", out)
	}
}

func TestLoggerWithTrace_NilLogger(t *testing.T) {
	logger := LoggerWithTrace(context.Background(), nil)
	if logger == nil {
		t.Error("LoggerWithTrace(nil logger) = nil, want default logger")
	}
}

func TestLoggerWithTrace_NilContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	//nolint:staticcheck // Deliberately passing nil to test validation.
	got := LoggerWithTrace(nil, logger)
	if got != logger {
		t.Error("LoggerWithTrace(nil ctx) should return the base logger")
	}
}

func TestLoggerWithSession(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	LoggerWithSession(spanContext(t), logger, "sess_0199").Info("iteration complete")

	out := buf.String()
	if !strings.Contains(out, "session_id=sess_0199") {
		t.Errorf("log output missing session_id: %s", out)
	}
	if !strings.Contains(out, "trace_id="+testTraceID) {
		t.Errorf("log output missing trace_id: %s", out)
	}
}

func TestLoggerWithTool(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	LoggerWithTool(context.Background(), logger, "edit_workflow").Info("dispatching")

	out := buf.String()
	if !strings.Contains(out, "tool=edit_workflow") {
		t.Errorf("log output missing tool field: %s", out)
	}
}
