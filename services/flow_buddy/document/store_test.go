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
	"errors"
	"strings"
	"testing"
)

func TestNewStore(t *testing.T) {
	s := NewStore("")
	if s.Path() != DefaultPath {
		t.Errorf("empty path should select %q, got %q", DefaultPath, s.Path())
	}
	if s.Exists() {
		t.Error("fresh store should not exist")
	}
	if s.LineCount() != 0 {
		t.Errorf("fresh store LineCount = %d, want 0", s.LineCount())
	}
}

func TestCheckPath(t *testing.T) {
	s := NewStore("workflow.json")

	tests := []struct {
		name string
		path string
		ok   bool
	}{
		{"exact", "workflow.json", true},
		{"dot slash prefix", "./workflow.json", true},
		{"wrong file", "other.json", false},
		{"empty", "", false},
		{"absolute", "/workflow.json", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.CheckPath(tt.path)
			if tt.ok && err != nil {
				t.Errorf("CheckPath(%q) = %v, want nil", tt.path, err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatalf("CheckPath(%q) = nil, want error", tt.path)
				}
				if err.Kind != KindInvalidPath {
					t.Errorf("kind = %v, want KindInvalidPath", err.Kind)
				}
				if err.WantPath != "workflow.json" {
					t.Errorf("WantPath = %q", err.WantPath)
				}
			}
		})
	}
}

func TestCreateReplaceView(t *testing.T) {
	s := NewStore("")

	replaced := s.Create("x=1")
	if replaced {
		t.Error("first Create should not report replacement")
	}
	if editErr := s.Replace("x=1", "x=2"); editErr != nil {
		t.Fatalf("Replace failed: %v", editErr)
	}

	got, editErr := s.View(nil)
	if editErr != nil {
		t.Fatalf("View failed: %v", editErr)
	}
	if got != "1: x=2" {
		t.Errorf("View() = %q, want %q", got, "1: x=2")
	}
}

func TestCreateOverwrite(t *testing.T) {
	s := NewStore("")
	s.Create("first")
	if !s.Create("second") {
		t.Error("second Create should report replacement")
	}
	content, _ := s.Content()
	if content != "second" {
		t.Errorf("content = %q, want %q", content, "second")
	}
	if s.Version() != 2 {
		t.Errorf("version = %d, want 2", s.Version())
	}
}

func TestView(t *testing.T) {
	s := NewStore("")
	s.Create("alpha\nbeta\ngamma\n")

	tests := []struct {
		name     string
		rng      *ViewRange
		want     string
		wantKind ErrorKind
	}{
		{
			name: "full document",
			want: "1: alpha\n2: beta\n3: gamma",
		},
		{
			name: "middle line",
			rng:  &ViewRange{Start: 2, End: 2},
			want: "2: beta",
		},
		{
			name:     "end beyond buffer",
			rng:      &ViewRange{Start: 2, End: 99},
			wantKind: KindInvalidViewRange,
		},
		{
			name: "last line exactly",
			rng:  &ViewRange{Start: 2, End: 3},
			want: "2: beta\n3: gamma",
		},
		{
			name:     "start below one",
			rng:      &ViewRange{Start: 0, End: 2},
			wantKind: KindInvalidViewRange,
		},
		{
			name:     "start beyond buffer",
			rng:      &ViewRange{Start: 4, End: 5},
			wantKind: KindInvalidViewRange,
		},
		{
			name:     "end before start",
			rng:      &ViewRange{Start: 2, End: 1},
			wantKind: KindInvalidViewRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, editErr := s.View(tt.rng)
			if tt.wantKind != 0 {
				if editErr == nil {
					t.Fatal("expected error, got nil")
				}
				if editErr.Kind != tt.wantKind {
					t.Errorf("kind = %v, want %v", editErr.Kind, tt.wantKind)
				}
				if editErr.Lines != 3 {
					t.Errorf("Lines = %d, want 3", editErr.Lines)
				}
				return
			}
			if editErr != nil {
				t.Fatalf("View failed: %v", editErr)
			}
			if got != tt.want {
				t.Errorf("View() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestViewBeforeCreate(t *testing.T) {
	s := NewStore("")
	_, editErr := s.View(nil)
	if editErr == nil || editErr.Kind != KindNotFound {
		t.Fatalf("View on missing document = %v, want KindNotFound", editErr)
	}
	if !errors.Is(editErr, ErrNotFound) {
		t.Error("KindNotFound should unwrap to ErrNotFound")
	}
}

func TestReplace(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		old      string
		new      string
		want     string
		wantKind ErrorKind
		count    int
	}{
		{
			name:    "single occurrence",
			content: "a\nb\nc",
			old:     "b",
			new:     "B",
			want:    "a\nB\nc",
		},
		{
			name:     "two occurrences",
			content:  "a\nb\na\n",
			old:      "a",
			new:      "c",
			wantKind: KindMultipleMatches,
			count:    2,
		},
		{
			name:     "no occurrence",
			content:  "a\nb\nc",
			old:      "zzz",
			new:      "y",
			wantKind: KindNoMatch,
		},
		{
			name:     "empty old",
			content:  "a",
			old:      "",
			new:      "y",
			wantKind: KindNoMatch,
		},
		{
			name:    "missing trailing newline recovered",
			content: "line one\nline two",
			old:     "line two\n",
			new:     "line 2",
			want:    "line one\nline 2",
		},
		{
			name:    "replacement text is literal",
			content: "value: a",
			old:     "a",
			new:     "$1${a}$&",
			want:    "value: $1${a}$&",
		},
		{
			name:     "toggle does not rescue ambiguity",
			content:  "x\nx\n",
			old:      "x\n\n",
			wantKind: KindNoMatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore("")
			s.Create(tt.content)

			editErr := s.Replace(tt.old, tt.new)
			if tt.wantKind != 0 {
				if editErr == nil {
					t.Fatal("expected error, got nil")
				}
				if editErr.Kind != tt.wantKind {
					t.Errorf("kind = %v, want %v", editErr.Kind, tt.wantKind)
				}
				if tt.count != 0 && editErr.MatchCount != tt.count {
					t.Errorf("MatchCount = %d, want %d", editErr.MatchCount, tt.count)
				}
				content, _ := s.Content()
				if content != tt.content {
					t.Errorf("failed replace must not change the buffer: %q", content)
				}
				return
			}
			if editErr != nil {
				t.Fatalf("Replace failed: %v", editErr)
			}
			content, _ := s.Content()
			if content != tt.want {
				t.Errorf("content = %q, want %q", content, tt.want)
			}
		})
	}
}

func TestReplaceRoundTrip(t *testing.T) {
	// Replacing old with new and then new with old restores the buffer,
	// as long as each direction has exactly one match.
	tests := []struct {
		name    string
		content string
		old     string
		new     string
	}{
		{"single line", "a\nb\nc", "b", "B"},
		{"multi line block", "alpha\nbeta\ngamma\n", "beta\ngamma", "delta\nepsilon"},
		{"json fragment", `{"name": "Send Slack", "type": "n.slack"}`, `"type": "n.slack"`, `"type": "n.http"`},
		{"shrinking edit", "one two three", "two three", "2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore("")
			s.Create(tt.content)

			if editErr := s.Replace(tt.old, tt.new); editErr != nil {
				t.Fatalf("forward replace failed: %v", editErr)
			}
			if editErr := s.Replace(tt.new, tt.old); editErr != nil {
				t.Fatalf("reverse replace failed: %v", editErr)
			}
			content, _ := s.Content()
			if content != tt.content {
				t.Errorf("round trip changed the buffer: %q, want %q", content, tt.content)
			}
		})
	}
}

func TestReplaceBeforeCreate(t *testing.T) {
	s := NewStore("")
	editErr := s.Replace("a", "b")
	if editErr == nil || editErr.Kind != KindNotFound {
		t.Fatalf("Replace on missing document = %v, want KindNotFound", editErr)
	}
}

func TestInsert(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		line     int
		text     string
		want     string
		wantKind ErrorKind
	}{
		{
			name:    "before first line",
			content: "b\nc",
			line:    0,
			text:    "a",
			want:    "a\nb\nc",
		},
		{
			name:    "after middle line",
			content: "a\nc",
			line:    1,
			text:    "b",
			want:    "a\nb\nc",
		},
		{
			name:    "append at end",
			content: "a\nb",
			line:    2,
			text:    "c",
			want:    "a\nb\nc",
		},
		{
			name:    "trailing newline preserved",
			content: "a\nb\n",
			line:    2,
			text:    "c",
			want:    "a\nb\nc\n",
		},
		{
			name:    "multi line insert",
			content: "a\nd",
			line:    1,
			text:    "b\nc",
			want:    "a\nb\nc\nd",
		},
		{
			name:     "negative line",
			content:  "a",
			line:     -1,
			text:     "x",
			wantKind: KindInvalidLineNumber,
		},
		{
			name:     "line beyond end",
			content:  "a\nb",
			line:     3,
			text:     "x",
			wantKind: KindInvalidLineNumber,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore("")
			s.Create(tt.content)

			editErr := s.Insert(tt.line, tt.text)
			if tt.wantKind != 0 {
				if editErr == nil {
					t.Fatal("expected error, got nil")
				}
				if editErr.Kind != tt.wantKind {
					t.Errorf("kind = %v, want %v", editErr.Kind, tt.wantKind)
				}
				if editErr.Line != tt.line {
					t.Errorf("Line = %d, want %d", editErr.Line, tt.line)
				}
				if editErr.LineCount != len(splitLines(tt.content)) {
					t.Errorf("LineCount = %d", editErr.LineCount)
				}
				return
			}
			if editErr != nil {
				t.Fatalf("Insert failed: %v", editErr)
			}
			content, _ := s.Content()
			if content != tt.want {
				t.Errorf("content = %q, want %q", content, tt.want)
			}
		})
	}
}

func TestBatchReplace(t *testing.T) {
	t.Run("applies in order", func(t *testing.T) {
		s := NewStore("")
		s.Create("start")

		editErr := s.BatchReplace([]Replacement{
			{Old: "start", New: "middle"},
			{Old: "middle", New: "end"},
		})
		if editErr != nil {
			t.Fatalf("BatchReplace failed: %v", editErr)
		}
		content, _ := s.Content()
		if content != "end" {
			t.Errorf("content = %q, want %q", content, "end")
		}
	})

	t.Run("failure rolls back and reports position", func(t *testing.T) {
		s := NewStore("")
		s.Create("a and c")

		editErr := s.BatchReplace([]Replacement{
			{Old: "a", New: "b"},
			{Old: "missing", New: "d"},
		})
		if editErr == nil {
			t.Fatal("expected error, got nil")
		}
		if editErr.Kind != KindBatchFailed {
			t.Fatalf("kind = %v, want KindBatchFailed", editErr.Kind)
		}
		if editErr.BatchIndex != 1 || editErr.BatchTotal != 2 {
			t.Errorf("position = %d of %d, want 1 of 2", editErr.BatchIndex, editErr.BatchTotal)
		}
		if editErr.Cause == nil || editErr.Cause.Kind != KindNoMatch {
			t.Errorf("cause = %+v, want KindNoMatch", editErr.Cause)
		}
		if len(editErr.NotAttempted) != 0 {
			t.Errorf("NotAttempted = %v, want empty", editErr.NotAttempted)
		}
		content, _ := s.Content()
		if content != "a and c" {
			t.Errorf("buffer not rolled back: %q", content)
		}
	})

	t.Run("reports replacements never attempted", func(t *testing.T) {
		s := NewStore("")
		s.Create("one two three")

		editErr := s.BatchReplace([]Replacement{
			{Old: "nope", New: "x"},
			{Old: "two", New: "2"},
			{Old: "three", New: "3"},
		})
		if editErr == nil {
			t.Fatal("expected error, got nil")
		}
		if editErr.BatchIndex != 0 {
			t.Errorf("BatchIndex = %d, want 0", editErr.BatchIndex)
		}
		want := []int{1, 2}
		if len(editErr.NotAttempted) != len(want) {
			t.Fatalf("NotAttempted = %v, want %v", editErr.NotAttempted, want)
		}
		for i := range want {
			if editErr.NotAttempted[i] != want[i] {
				t.Errorf("NotAttempted = %v, want %v", editErr.NotAttempted, want)
			}
		}
	})

	t.Run("no trailing newline retry inside batches", func(t *testing.T) {
		s := NewStore("")
		s.Create("line one\nline two")

		editErr := s.BatchReplace([]Replacement{{Old: "line two\n", New: "x"}})
		if editErr == nil || editErr.Cause == nil || editErr.Cause.Kind != KindNoMatch {
			t.Fatalf("batch should not toggle newlines, got %+v", editErr)
		}
	})

	t.Run("ambiguous item fails the batch", func(t *testing.T) {
		s := NewStore("")
		s.Create("x x")

		editErr := s.BatchReplace([]Replacement{{Old: "x", New: "y"}})
		if editErr == nil || editErr.Cause == nil {
			t.Fatal("expected batch failure with cause")
		}
		if editErr.Cause.Kind != KindMultipleMatches || editErr.Cause.MatchCount != 2 {
			t.Errorf("cause = %+v, want MultipleMatches(2)", editErr.Cause)
		}
	})
}

func TestVersionCounting(t *testing.T) {
	s := NewStore("")
	s.Create("a")               // 1
	_ = s.Replace("a", "b")     // 2
	_ = s.Insert(1, "c")        // 3
	_ = s.Replace("zzz", "q")   // failed, no bump
	_ = s.BatchReplace([]Replacement{{Old: "b", New: "d"}}) // 4

	if s.Version() != 4 {
		t.Errorf("version = %d, want 4", s.Version())
	}
}

func TestEditErrorUnwrap(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want error
	}{
		{KindNoMatch, ErrNoMatch},
		{KindMultipleMatches, ErrMultipleMatches},
		{KindInvalidLineNumber, ErrInvalidLineNumber},
		{KindInvalidViewRange, ErrInvalidViewRange},
		{KindInvalidPath, ErrInvalidPath},
		{KindNotFound, ErrNotFound},
		{KindBatchFailed, ErrBatchFailed},
	}

	for _, tt := range tests {
		editErr := &EditError{Kind: tt.kind}
		if !errors.Is(editErr, tt.want) {
			t.Errorf("kind %v should unwrap to %v", tt.kind, tt.want)
		}
		if editErr.Error() == "" {
			t.Errorf("kind %v has empty Error()", tt.kind)
		}
	}
}

func TestEditErrorBatchMessage(t *testing.T) {
	editErr := &EditError{
		Kind:       KindBatchFailed,
		BatchIndex: 1,
		BatchTotal: 2,
		Cause:      &EditError{Kind: KindNoMatch},
	}
	if !strings.Contains(editErr.Error(), ErrNoMatch.Error()) {
		t.Errorf("batch error should mention its cause: %q", editErr.Error())
	}
	if !errors.Is(editErr, ErrBatchFailed) {
		t.Error("batch error should unwrap to ErrBatchFailed")
	}
}

func TestSplitLines(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 1},
		{"a", 1},
		{"a\n", 1},
		{"a\nb", 2},
		{"a\nb\n", 2},
		{"\n", 1},
	}
	for _, tt := range tests {
		if got := len(splitLines(tt.in)); got != tt.want {
			t.Errorf("splitLines(%q) has %d lines, want %d", tt.in, got, tt.want)
		}
	}
}
