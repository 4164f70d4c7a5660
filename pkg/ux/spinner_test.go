// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"errors"
	"strings"
	"testing"
)

// =============================================================================
// NewSpinner Tests
// =============================================================================

func TestNewSpinner_ReturnsNonNil(t *testing.T) {
	spin := NewSpinner("Building workflow...")
	if spin == nil {
		t.Fatal("NewSpinner returned nil")
	}
}

func TestNewSpinner_SetsMessage(t *testing.T) {
	spin := NewSpinner("Validating document")
	if spin.message != "Validating document" {
		t.Errorf("expected message 'Validating document', got %q", spin.message)
	}
}

func TestNewSpinner_DefaultsToDotsType(t *testing.T) {
	spin := NewSpinner("Building...")
	if spin.spinType != SpinnerDots {
		t.Errorf("expected SpinnerDots, got %v", spin.spinType)
	}
}

// =============================================================================
// WithType Tests
// =============================================================================

func TestSpinner_WithType(t *testing.T) {
	for _, typ := range []SpinnerType{SpinnerWave, SpinnerAnchor, SpinnerCompass} {
		spin := NewSpinner("Building...").WithType(typ)
		if spin.spinType != typ {
			t.Errorf("expected type %v, got %v", typ, spin.spinType)
		}
	}
}

// =============================================================================
// Plain Mode Tests
// =============================================================================

func TestSpinner_PlainPrintsOnce(t *testing.T) {
	forcePlain(t, true)

	spin := NewSpinner("Contacting model")
	out := captureStdout(func() {
		spin.Start()
		spin.Stop()
	})
	if out != "PROGRESS: Contacting model\n" {
		t.Errorf("unexpected plain output: %q", out)
	}
}

func TestSpinner_StopIsIdempotent(t *testing.T) {
	forcePlain(t, true)

	spin := NewSpinner("Building...")
	spin.Start()
	spin.Stop()
	spin.Stop() // must not panic or block
}

func TestSpinner_StopWithoutStart(t *testing.T) {
	forcePlain(t, true)

	spin := NewSpinner("Building...")
	spin.Stop() // must not panic or block
}

// =============================================================================
// UpdateMessage Tests
// =============================================================================

func TestSpinner_UpdateMessage(t *testing.T) {
	spin := NewSpinner("Iteration 1")
	spin.UpdateMessage("Iteration 2")
	if spin.message != "Iteration 2" {
		t.Errorf("expected updated message, got %q", spin.message)
	}
}

// =============================================================================
// WithSpinner Tests
// =============================================================================

func TestWithSpinner_Success(t *testing.T) {
	forcePlain(t, true)

	var ran bool
	out := captureStdout(func() {
		if err := WithSpinner("Saving record", func() error {
			ran = true
			return nil
		}); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
	if !ran {
		t.Error("wrapped function never ran")
	}
	if !strings.Contains(out, "OK: Saving record") {
		t.Errorf("expected success line, got %q", out)
	}
}

func TestWithSpinner_PropagatesError(t *testing.T) {
	forcePlain(t, true)

	wantErr := errors.New("store unavailable")
	err := WithSpinner("Saving record", func() error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Errorf("expected wrapped error back, got %v", err)
	}
}

// =============================================================================
// ProgressSpinner Tests
// =============================================================================

func TestProgressSpinner_Increment(t *testing.T) {
	p := NewProgressSpinner("Iterating", 12)
	p.Increment()
	p.Increment()
	if p.current != 2 {
		t.Errorf("expected current 2, got %d", p.current)
	}
	if p.message != "Iterating [2/12]" {
		t.Errorf("unexpected message: %q", p.message)
	}
}

func TestProgressSpinner_SetProgress(t *testing.T) {
	p := NewProgressSpinner("Iterating", 12)
	p.SetProgress(7)
	if p.message != "Iterating [7/12]" {
		t.Errorf("unexpected message: %q", p.message)
	}
}

func TestProgressSpinner_MessageKeepsBase(t *testing.T) {
	p := NewProgressSpinner("Iterating", 3)
	p.Increment()
	p.Increment()
	p.Increment()
	if p.message != "Iterating [3/3]" {
		t.Errorf("counter must not compound into the base message, got %q", p.message)
	}
}
