// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package warnings tracks validation findings across build iterations.
//
// The ledger answers two questions the build loop keeps asking: which of
// these findings has the model already been shown, and when did each
// finding appear and go away. Identity is code plus node plus parameter
// path; message text is excluded so a reworded finding does not count as a
// new one. Once a key is seen it stays seen for the life of the session,
// which is what lets "validate until no new warnings" terminate.
//
// Thread Safety:
//
//	A Ledger belongs to a single build session and is driven by that
//	session's goroutine only. It performs no locking.
package warnings

import (
	"github.com/AleutianAI/AleutianFlow/services/compiler"
)

// Key identifies a warning across iterations.
type Key string

// KeyOf derives the identity key of a warning. Message text deliberately
// does not participate.
func KeyOf(w compiler.Warning) Key {
	return Key(w.Code + "|" + w.NodeName + "|" + w.ParameterPath)
}

// Tracked is the full history of one warning key.
type Tracked struct {
	// Warning is the finding as first recorded.
	Warning compiler.Warning `json:"warning"`

	// IterationOccurred is the iteration the finding first appeared.
	IterationOccurred int `json:"iterationOccurred"`

	// IterationResolved is the iteration the finding stopped appearing,
	// nil while outstanding. Set at most once.
	IterationResolved *int `json:"iterationResolved,omitempty"`

	// PreExisting marks findings already present in a baseline document
	// before the session made any edit.
	PreExisting bool `json:"preExisting,omitempty"`
}

// Resolved reports whether the finding has been marked resolved.
func (t *Tracked) Resolved() bool { return t.IterationResolved != nil }

// Ledger is the per-session warning history.
type Ledger struct {
	seen        map[Key]struct{}
	preExisting map[Key]struct{}
	tracked     map[Key]*Tracked
	order       []Key
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		seen:        make(map[Key]struct{}),
		preExisting: make(map[Key]struct{}),
		tracked:     make(map[Key]*Tracked),
	}
}

// FilterNew returns the warnings whose key has not been seen, preserving
// input order. Within one call, a duplicated key is returned once.
func (l *Ledger) FilterNew(ws []compiler.Warning) []compiler.Warning {
	var out []compiler.Warning
	inCall := make(map[Key]struct{})
	for _, w := range ws {
		k := KeyOf(w)
		if _, ok := l.seen[k]; ok {
			continue
		}
		if _, ok := inCall[k]; ok {
			continue
		}
		inCall[k] = struct{}{}
		out = append(out, w)
	}
	return out
}

// MarkSeen records every warning's key as seen. Idempotent.
func (l *Ledger) MarkSeen(ws []compiler.Warning) {
	for _, w := range ws {
		l.seen[KeyOf(w)] = struct{}{}
	}
}

// AllSeen reports whether every warning's key has been seen. True for an
// empty list: a clean validation has nothing new by definition.
func (l *Ledger) AllSeen(ws []compiler.Warning) bool {
	for _, w := range ws {
		if _, ok := l.seen[KeyOf(w)]; !ok {
			return false
		}
	}
	return true
}

// SeenCount returns how many distinct keys have been seen.
func (l *Ledger) SeenCount() int { return len(l.seen) }

// MarkAsPreExisting tags warnings found by validating a baseline document
// before the session edited anything. Pre-existing findings still flow
// through FilterNew like any other; the tag only changes how feedback
// labels them, so the model knows it did not introduce them.
func (l *Ledger) MarkAsPreExisting(ws []compiler.Warning) {
	for _, w := range ws {
		l.preExisting[KeyOf(w)] = struct{}{}
	}
}

// IsPreExisting reports whether a warning was present in the baseline.
func (l *Ledger) IsPreExisting(w compiler.Warning) bool {
	_, ok := l.preExisting[KeyOf(w)]
	return ok
}

// RecordWarning adds a warning to the timeline at the given iteration.
// Re-recording an existing key keeps the original occurrence iteration.
func (l *Ledger) RecordWarning(w compiler.Warning, iteration int) {
	k := KeyOf(w)
	if _, ok := l.tracked[k]; ok {
		return
	}
	l.tracked[k] = &Tracked{
		Warning:           w,
		IterationOccurred: iteration,
		PreExisting:       l.IsPreExisting(w),
	}
	l.order = append(l.order, k)
}

// MarkResolved closes a warning's timeline entry at the given iteration.
// A resolution iteration, once set, is never overwritten.
func (l *Ledger) MarkResolved(w compiler.Warning, iteration int) {
	t, ok := l.tracked[KeyOf(w)]
	if !ok || t.IterationResolved != nil {
		return
	}
	iter := iteration
	t.IterationResolved = &iter
}

// UpdateResolutionStatus reconciles the timeline against the complete
// warning list of the latest validation: every tracked, unresolved key
// absent from current is marked resolved at this iteration.
func (l *Ledger) UpdateResolutionStatus(current []compiler.Warning, iteration int) {
	present := make(map[Key]struct{}, len(current))
	for _, w := range current {
		present[KeyOf(w)] = struct{}{}
	}
	for _, k := range l.order {
		t := l.tracked[k]
		if t.IterationResolved != nil {
			continue
		}
		if _, ok := present[k]; !ok {
			iter := iteration
			t.IterationResolved = &iter
		}
	}
}

// Timeline returns the tracked warnings in first-occurrence order. The
// entries are copies; mutating them does not touch the ledger.
func (l *Ledger) Timeline() []Tracked {
	out := make([]Tracked, 0, len(l.order))
	for _, k := range l.order {
		out = append(out, *l.tracked[k])
	}
	return out
}

// Outstanding returns the tracked warnings not yet resolved, in
// first-occurrence order.
func (l *Ledger) Outstanding() []Tracked {
	var out []Tracked
	for _, k := range l.order {
		if t := l.tracked[k]; t.IterationResolved == nil {
			out = append(out, *t)
		}
	}
	return out
}
