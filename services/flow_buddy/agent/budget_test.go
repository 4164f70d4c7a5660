// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"sync"
	"testing"
)

func TestNewBudget_Defaults(t *testing.T) {
	tests := []struct {
		name          string
		maxIterations int
		maxFinalize   int
		wantIter      int
		wantFinalize  int
	}{
		{"both positive", 5, 2, 5, 2},
		{"zero iterations", 0, 2, DefaultMaxIterations, 2},
		{"negative iterations", -1, 2, DefaultMaxIterations, 2},
		{"zero finalize", 5, 0, 5, DefaultMaxFinalizeAttempts},
		{"negative finalize", 5, -3, 5, DefaultMaxFinalizeAttempts},
		{"both invalid", 0, 0, DefaultMaxIterations, DefaultMaxFinalizeAttempts},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBudget(tt.maxIterations, tt.maxFinalize)
			status := b.Status()
			if status.MaxIterations != tt.wantIter {
				t.Errorf("MaxIterations = %d, want %d", status.MaxIterations, tt.wantIter)
			}
			if status.MaxFinalizeAttempts != tt.wantFinalize {
				t.Errorf("MaxFinalizeAttempts = %d, want %d", status.MaxFinalizeAttempts, tt.wantFinalize)
			}
		})
	}
}

func TestBudget_NextIteration(t *testing.T) {
	b := NewBudget(3, 1)

	for want := 1; want <= 3; want++ {
		got, ok := b.NextIteration()
		if !ok {
			t.Fatalf("iteration %d: expected ok", want)
		}
		if got != want {
			t.Errorf("iteration = %d, want %d", got, want)
		}
	}

	got, ok := b.NextIteration()
	if ok {
		t.Error("expected ceiling after 3 iterations")
	}
	if got != 3 {
		t.Errorf("exhausted iteration = %d, want 3", got)
	}

	// Ceiling holds on repeated calls.
	if _, ok := b.NextIteration(); ok {
		t.Error("expected ceiling to hold")
	}
	if b.Iteration() != 3 {
		t.Errorf("Iteration() = %d, want 3", b.Iteration())
	}
}

func TestBudget_UseFinalizeAttempt(t *testing.T) {
	b := NewBudget(10, 2)

	if !b.UseFinalizeAttempt() {
		t.Fatal("first attempt should be granted")
	}
	if !b.UseFinalizeAttempt() {
		t.Fatal("second attempt should be granted")
	}
	if b.UseFinalizeAttempt() {
		t.Error("third attempt should be denied")
	}
	if b.FinalizeAttempts() != 2 {
		t.Errorf("FinalizeAttempts() = %d, want 2", b.FinalizeAttempts())
	}
}

func TestBudget_Status(t *testing.T) {
	b := NewBudget(4, 2)
	b.NextIteration()
	b.NextIteration()
	b.UseFinalizeAttempt()

	status := b.Status()
	if status.Iteration != 2 {
		t.Errorf("Iteration = %d, want 2", status.Iteration)
	}
	if status.IterationsRemaining != 2 {
		t.Errorf("IterationsRemaining = %d, want 2", status.IterationsRemaining)
	}
	if status.FinalizeAttempts != 1 {
		t.Errorf("FinalizeAttempts = %d, want 1", status.FinalizeAttempts)
	}
}

func TestBudget_ConcurrentAccess(t *testing.T) {
	b := NewBudget(50, 10)

	var wg sync.WaitGroup
	granted := make(chan int, 100)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if n, ok := b.NextIteration(); ok {
				granted <- n
			}
		}()
	}

	wg.Wait()
	close(granted)

	seen := make(map[int]bool)
	count := 0
	for n := range granted {
		if seen[n] {
			t.Errorf("iteration %d granted twice", n)
		}
		seen[n] = true
		count++
	}
	if count != 50 {
		t.Errorf("granted %d iterations, want 50", count)
	}
}
