// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package document holds the workflow definition under construction.
//
// A build session edits exactly one logical file. The Store keeps that
// file's text in memory and exposes the small set of editing operations the
// model is allowed to perform: view, create, replace, insert, and batch
// replace. Every operation either succeeds atomically or fails with an
// EditError the model can act on; a failed operation never leaves the
// buffer half-modified.
//
// Thread Safety:
//
//	A Store belongs to a single build session and is driven by that
//	session's goroutine only. It performs no locking.
package document

import "errors"

// DefaultPath is the logical file name a session edits unless configured
// otherwise.
const DefaultPath = "workflow.json"

// MaxDocumentSize caps the buffer so runaway generation cannot exhaust
// memory. Matches the compiler's definition cap.
const MaxDocumentSize = 1 * 1024 * 1024 // 1MB

// =============================================================================
// Operation Inputs
// =============================================================================

// ViewRange restricts a view to an inclusive, 1-indexed line range.
type ViewRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Replacement is one old/new pair in a batch replace.
type Replacement struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// =============================================================================
// Errors
// =============================================================================

// Sentinel errors. Every *EditError unwraps to exactly one of these, so
// callers can branch with errors.Is while the struct carries the details.
var (
	ErrNoMatch           = errors.New("text to replace not found in document")
	ErrMultipleMatches   = errors.New("text to replace appears more than once")
	ErrInvalidLineNumber = errors.New("line number out of range")
	ErrInvalidViewRange  = errors.New("view range out of range")
	ErrInvalidPath       = errors.New("path does not name the session document")
	ErrNotFound          = errors.New("document has not been created yet")
	ErrBatchFailed       = errors.New("batch replace failed")
)

// ErrorKind discriminates EditError variants.
type ErrorKind int

const (
	// KindNoMatch: the old text does not occur in the buffer.
	KindNoMatch ErrorKind = iota + 1

	// KindMultipleMatches: the old text occurs more than once.
	KindMultipleMatches

	// KindInvalidLineNumber: an insert targeted a line outside the buffer.
	KindInvalidLineNumber

	// KindInvalidViewRange: a view range does not fit the buffer.
	KindInvalidViewRange

	// KindInvalidPath: the call named a path other than the session document.
	KindInvalidPath

	// KindNotFound: the operation needs a buffer but none was created.
	KindNotFound

	// KindBatchFailed: a batch replace failed and was rolled back.
	KindBatchFailed
)

// EditError is the recoverable failure of one editing operation. Which
// payload fields are meaningful depends on Kind; FormatEditError in the
// tools package switches over every kind when building model feedback.
type EditError struct {
	Kind ErrorKind

	// MatchCount is set for KindMultipleMatches.
	MatchCount int

	// Diagnostic is set for KindNoMatch when a near match was located.
	Diagnostic string

	// Line and LineCount are set for KindInvalidLineNumber.
	Line      int
	LineCount int

	// Start, End, and Lines are set for KindInvalidViewRange.
	Start int
	End   int
	Lines int

	// Path and WantPath are set for KindInvalidPath.
	Path     string
	WantPath string

	// BatchIndex, BatchTotal, Cause, and NotAttempted are set for
	// KindBatchFailed. Indices are zero-based positions in the request.
	BatchIndex   int
	BatchTotal   int
	Cause        *EditError
	NotAttempted []int
}

// Error renders a terse description. Model-facing guidance is composed at
// the response boundary, not here.
func (e *EditError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Kind {
	case KindNoMatch:
		return ErrNoMatch.Error()
	case KindMultipleMatches:
		return ErrMultipleMatches.Error()
	case KindInvalidLineNumber:
		return ErrInvalidLineNumber.Error()
	case KindInvalidViewRange:
		return ErrInvalidViewRange.Error()
	case KindInvalidPath:
		return ErrInvalidPath.Error()
	case KindNotFound:
		return ErrNotFound.Error()
	case KindBatchFailed:
		if e.Cause != nil {
			return ErrBatchFailed.Error() + ": " + e.Cause.Error()
		}
		return ErrBatchFailed.Error()
	default:
		return "unknown edit error"
	}
}

// Unwrap maps the kind to its sentinel so errors.Is works.
func (e *EditError) Unwrap() error {
	switch e.Kind {
	case KindNoMatch:
		return ErrNoMatch
	case KindMultipleMatches:
		return ErrMultipleMatches
	case KindInvalidLineNumber:
		return ErrInvalidLineNumber
	case KindInvalidViewRange:
		return ErrInvalidViewRange
	case KindInvalidPath:
		return ErrInvalidPath
	case KindNotFound:
		return ErrNotFound
	case KindBatchFailed:
		return ErrBatchFailed
	default:
		return nil
	}
}
