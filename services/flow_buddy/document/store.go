// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package document

import (
	"fmt"
	"strings"
)

// Store holds the one document a build session edits.
type Store struct {
	path    string
	content string
	exists  bool
	version int
}

// NewStore creates an empty store for the given logical path. An empty
// path selects DefaultPath. The document does not exist until Create runs.
func NewStore(path string) *Store {
	if path == "" {
		path = DefaultPath
	}
	return &Store{path: path}
}

// Path returns the logical file name this store answers to.
func (s *Store) Path() string { return s.path }

// Exists reports whether Create has run.
func (s *Store) Exists() bool { return s.exists }

// Content returns the buffer and whether it exists.
func (s *Store) Content() (string, bool) {
	return s.content, s.exists
}

// Version counts successful mutations. Useful for change detection in
// logs and progress events.
func (s *Store) Version() int { return s.version }

// LineCount returns the number of lines in the buffer, zero when the
// document does not exist.
func (s *Store) LineCount() int {
	if !s.exists {
		return 0
	}
	return len(splitLines(s.content))
}

// CheckPath verifies that an operation names the session document. The
// store backs exactly one logical file; anything else is a recoverable
// error telling the model which path to use. A leading "./" is tolerated.
func (s *Store) CheckPath(p string) *EditError {
	if strings.TrimPrefix(p, "./") == s.path {
		return nil
	}
	return &EditError{Kind: KindInvalidPath, Path: p, WantPath: s.path}
}

// View renders the buffer with 1-indexed line numbers, optionally
// restricted to an inclusive range.
func (s *Store) View(rng *ViewRange) (string, *EditError) {
	if !s.exists {
		return "", &EditError{Kind: KindNotFound}
	}
	lines := splitLines(s.content)

	start, end := 1, len(lines)
	if rng != nil {
		start, end = rng.Start, rng.End
		if start < 1 || start > len(lines) || end < start || end > len(lines) {
			return "", &EditError{
				Kind:  KindInvalidViewRange,
				Start: rng.Start,
				End:   rng.End,
				Lines: len(lines),
			}
		}
	}

	var b strings.Builder
	for i := start; i <= end; i++ {
		if i > start {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d: %s", i, lines[i-1])
	}
	return b.String(), nil
}

// Create sets the buffer to the given text, replacing any previous
// content. Returns whether a previous document was overwritten.
func (s *Store) Create(text string) bool {
	replaced := s.exists
	s.content = text
	s.exists = true
	s.version++
	return replaced
}

// Replace substitutes exactly one occurrence of old with new.
//
// When old does not occur verbatim, one retry is attempted with its
// trailing newline toggled; a model quoting a whole line often differs
// from the buffer only by that final newline. If the retry does not
// produce exactly one match either, the failure carries a near-match
// diagnostic locating where the quoted text stops matching the buffer.
func (s *Store) Replace(old, new string) *EditError {
	if !s.exists {
		return &EditError{Kind: KindNotFound}
	}
	if editErr := s.substituteOnce(old, new, true); editErr != nil {
		return editErr
	}
	s.version++
	return nil
}

// Insert adds text as new content after the given 1-indexed line. Line 0
// inserts before the first line; line == LineCount appends at the end.
func (s *Store) Insert(line int, text string) *EditError {
	if !s.exists {
		return &EditError{Kind: KindNotFound}
	}
	lines := splitLines(s.content)
	if line < 0 || line > len(lines) {
		return &EditError{
			Kind:      KindInvalidLineNumber,
			Line:      line,
			LineCount: len(lines),
		}
	}

	hadTrailingNewline := strings.HasSuffix(s.content, "\n")

	spliced := make([]string, 0, len(lines)+1)
	spliced = append(spliced, lines[:line]...)
	spliced = append(spliced, text)
	spliced = append(spliced, lines[line:]...)

	s.content = strings.Join(spliced, "\n")
	if hadTrailingNewline {
		s.content += "\n"
	}
	s.version++
	return nil
}

// BatchReplace applies the replacements in order, each under the same
// single-match rule as Replace but without the trailing-newline retry.
// The batch is atomic: on any failure the buffer is restored to its state
// before the first replacement and the error reports which replacement
// failed, why, and which ones were never attempted.
func (s *Store) BatchReplace(reps []Replacement) *EditError {
	if !s.exists {
		return &EditError{Kind: KindNotFound}
	}
	snapshot := s.content

	for i, r := range reps {
		if editErr := s.substituteOnce(r.Old, r.New, false); editErr != nil {
			s.content = snapshot

			var notAttempted []int
			for j := i + 1; j < len(reps); j++ {
				notAttempted = append(notAttempted, j)
			}
			return &EditError{
				Kind:         KindBatchFailed,
				BatchIndex:   i,
				BatchTotal:   len(reps),
				Cause:        editErr,
				NotAttempted: notAttempted,
			}
		}
	}
	s.version++
	return nil
}

// substituteOnce enforces the single-match rule and mutates the buffer on
// success. Substitution is literal: the new text is inserted exactly as
// given, strings.Replace expands no pattern metacharacters.
func (s *Store) substituteOnce(old, new string, allowNewlineToggle bool) *EditError {
	if old == "" {
		return &EditError{Kind: KindNoMatch}
	}

	count := strings.Count(s.content, old)
	if count == 0 && allowNewlineToggle {
		if toggled := toggleTrailingNewline(old); strings.Count(s.content, toggled) == 1 {
			s.content = strings.Replace(s.content, toggled, new, 1)
			return nil
		}
	}
	switch {
	case count == 0:
		return &EditError{
			Kind:       KindNoMatch,
			Diagnostic: nearMatchDiagnostic(s.content, old),
		}
	case count > 1:
		return &EditError{Kind: KindMultipleMatches, MatchCount: count}
	}

	s.content = strings.Replace(s.content, old, new, 1)
	return nil
}

// splitLines splits buffer text into display lines. A trailing newline
// does not produce a phantom empty final line.
func splitLines(s string) []string {
	lines := strings.Split(s, "\n")
	if n := len(lines); n > 1 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}
