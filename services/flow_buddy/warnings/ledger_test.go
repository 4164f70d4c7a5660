// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package warnings

import (
	"testing"

	"github.com/AleutianAI/AleutianFlow/services/compiler"
)

func warning(code, node, param string) compiler.Warning {
	return compiler.Warning{
		Code:          code,
		Message:       "original message",
		NodeName:      node,
		ParameterPath: param,
	}
}

func TestKeyOf(t *testing.T) {
	a := warning("missing_required_parameter", "Fetch", "parameters.url")
	b := a
	b.Message = "a completely different wording"

	if KeyOf(a) != KeyOf(b) {
		t.Error("message text must not participate in identity")
	}

	c := a
	c.ParameterPath = "parameters.method"
	if KeyOf(a) == KeyOf(c) {
		t.Error("parameter path must participate in identity")
	}
}

func TestFilterNewAndMarkSeen(t *testing.T) {
	l := NewLedger()
	w1 := warning("a", "N1", "")
	w2 := warning("b", "N2", "")

	got := l.FilterNew([]compiler.Warning{w1, w2})
	if len(got) != 2 {
		t.Fatalf("FilterNew on fresh ledger returned %d, want 2", len(got))
	}

	l.MarkSeen([]compiler.Warning{w1})

	got = l.FilterNew([]compiler.Warning{w1, w2})
	if len(got) != 1 || got[0].Code != "b" {
		t.Fatalf("FilterNew after seeing w1 = %v, want only w2", got)
	}

	// Reworded repeat of a seen warning converges instead of looping.
	reworded := w1
	reworded.Message = "said differently this time"
	got = l.FilterNew([]compiler.Warning{reworded})
	if len(got) != 0 {
		t.Errorf("reworded known warning should not be new: %v", got)
	}
}

func TestFilterNewDeduplicatesWithinCall(t *testing.T) {
	l := NewLedger()
	w := warning("a", "N1", "")
	got := l.FilterNew([]compiler.Warning{w, w, w})
	if len(got) != 1 {
		t.Errorf("FilterNew returned %d copies, want 1", len(got))
	}
}

func TestAllSeen(t *testing.T) {
	l := NewLedger()
	w1 := warning("a", "N1", "")
	w2 := warning("b", "N2", "")

	if !l.AllSeen(nil) {
		t.Error("AllSeen(nil) must be true")
	}
	if l.AllSeen([]compiler.Warning{w1}) {
		t.Error("unseen warning reported as seen")
	}

	l.MarkSeen([]compiler.Warning{w1, w2})
	if !l.AllSeen([]compiler.Warning{w1, w2}) {
		t.Error("AllSeen false after MarkSeen")
	}
	if l.SeenCount() != 2 {
		t.Errorf("SeenCount = %d, want 2", l.SeenCount())
	}
}

func TestPreExisting(t *testing.T) {
	l := NewLedger()
	base := warning("missing_trigger", "", "")
	fresh := warning("unknown_node_type", "N1", "")

	l.MarkAsPreExisting([]compiler.Warning{base})

	if !l.IsPreExisting(base) {
		t.Error("baseline warning not tagged")
	}
	if l.IsPreExisting(fresh) {
		t.Error("non-baseline warning tagged")
	}

	// Pre-existing warnings are still new to the model the first time.
	got := l.FilterNew([]compiler.Warning{base})
	if len(got) != 1 {
		t.Errorf("pre-existing warning should still be new until shown, got %v", got)
	}

	l.RecordWarning(base, 1)
	if tl := l.Timeline(); len(tl) != 1 || !tl[0].PreExisting {
		t.Errorf("timeline entry should carry the pre-existing tag: %+v", tl)
	}
}

func TestRecordWarningKeepsFirstOccurrence(t *testing.T) {
	l := NewLedger()
	w := warning("a", "N1", "")

	l.RecordWarning(w, 2)
	l.RecordWarning(w, 7)

	tl := l.Timeline()
	if len(tl) != 1 {
		t.Fatalf("timeline has %d entries, want 1", len(tl))
	}
	if tl[0].IterationOccurred != 2 {
		t.Errorf("IterationOccurred = %d, want 2", tl[0].IterationOccurred)
	}
}

func TestMarkResolvedIsSticky(t *testing.T) {
	l := NewLedger()
	w := warning("a", "N1", "")
	l.RecordWarning(w, 1)

	l.MarkResolved(w, 3)
	l.MarkResolved(w, 9)

	tl := l.Timeline()
	if !tl[0].Resolved() || *tl[0].IterationResolved != 3 {
		t.Errorf("resolution iteration = %v, want sticky 3", tl[0].IterationResolved)
	}

	// Resolving an untracked key is a no-op, not a panic.
	l.MarkResolved(warning("ghost", "", ""), 4)
}

func TestUpdateResolutionStatus(t *testing.T) {
	l := NewLedger()
	w1 := warning("a", "N1", "")
	w2 := warning("b", "N2", "")
	w3 := warning("c", "N3", "")
	l.RecordWarning(w1, 1)
	l.RecordWarning(w2, 1)
	l.RecordWarning(w3, 2)

	// Iteration 3 validation still reports only w2.
	l.UpdateResolutionStatus([]compiler.Warning{w2}, 3)

	tl := l.Timeline()
	if !tl[0].Resolved() || *tl[0].IterationResolved != 3 {
		t.Errorf("w1 should be resolved at 3: %+v", tl[0])
	}
	if tl[1].Resolved() {
		t.Errorf("w2 still present, must stay open: %+v", tl[1])
	}
	if !tl[2].Resolved() || *tl[2].IterationResolved != 3 {
		t.Errorf("w3 should be resolved at 3: %+v", tl[2])
	}

	// A later reconciliation never reopens or re-times w1.
	l.UpdateResolutionStatus(nil, 8)
	tl = l.Timeline()
	if *tl[0].IterationResolved != 3 {
		t.Errorf("resolution iteration moved to %d, want 3", *tl[0].IterationResolved)
	}
}

func TestTimelineOrderAndIsolation(t *testing.T) {
	l := NewLedger()
	l.RecordWarning(warning("b", "", ""), 1)
	l.RecordWarning(warning("a", "", ""), 2)

	tl := l.Timeline()
	if tl[0].Warning.Code != "b" || tl[1].Warning.Code != "a" {
		t.Errorf("timeline not in first-occurrence order: %+v", tl)
	}

	tl[0].IterationOccurred = 99
	if l.Timeline()[0].IterationOccurred == 99 {
		t.Error("Timeline must return copies")
	}
}

func TestOutstanding(t *testing.T) {
	l := NewLedger()
	w1 := warning("a", "", "")
	w2 := warning("b", "", "")
	l.RecordWarning(w1, 1)
	l.RecordWarning(w2, 1)
	l.MarkResolved(w1, 2)

	out := l.Outstanding()
	if len(out) != 1 || out[0].Warning.Code != "b" {
		t.Errorf("Outstanding = %+v, want only b", out)
	}
}
