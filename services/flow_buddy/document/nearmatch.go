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

// nearMatchMinPrefix is the shortest prefix of the failed search text that
// counts as a near match. Below this, "matches" are coincidence and the
// diagnostic would mislead more than help.
const nearMatchMinPrefix = 10

// nearMatchContextLines is how many buffer lines to show on each side of
// the divergence point.
const nearMatchContextLines = 2

// nearMatchClip bounds the quoted prefix and tail in the diagnostic.
const nearMatchClip = 60

// nearMatchDiagnostic explains why target was not found by locating the
// longest prefix of target that does occur in content.
//
// Containment is monotone in the prefix length, so the longest matching
// prefix is found by binary search, rounding up so ties resolve to the
// longer prefix. The diagnostic quotes the tail that failed to match and
// shows the buffer around the divergence with line numbers, giving the
// model the exact text to quote on its next attempt. Returns "" when no
// prefix of at least nearMatchMinPrefix bytes occurs in the buffer.
func nearMatchDiagnostic(content, target string) string {
	if len(target) <= nearMatchMinPrefix {
		return ""
	}
	lo, hi := nearMatchMinPrefix, len(target)-1
	if !strings.Contains(content, target[:lo]) {
		return ""
	}
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if strings.Contains(content, target[:mid]) {
			lo = mid
		} else {
			hi = mid - 1
		}
	}

	prefix := target[:lo]
	tail := target[lo:]
	at := strings.Index(content, prefix)
	divergeLine := 1 + strings.Count(content[:at+len(prefix)], "\n")

	var b strings.Builder
	fmt.Fprintf(&b, "The first %d characters match the document and then diverge at line %d.\n", lo, divergeLine)
	fmt.Fprintf(&b, "Matched up to: %q\n", clipLeft(prefix, nearMatchClip))
	fmt.Fprintf(&b, "Expected to continue with: %q\n", clipRight(tail, nearMatchClip))
	b.WriteString("Document at the divergence:\n")

	lines := splitLines(content)
	start := divergeLine - nearMatchContextLines
	if start < 1 {
		start = 1
	}
	end := divergeLine + nearMatchContextLines
	if end > len(lines) {
		end = len(lines)
	}
	for i := start; i <= end; i++ {
		fmt.Fprintf(&b, "  %d: %s\n", i, lines[i-1])
	}
	return strings.TrimRight(b.String(), "\n")
}

// toggleTrailingNewline removes a trailing newline if present, otherwise
// appends one.
func toggleTrailingNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return strings.TrimSuffix(s, "\n")
	}
	return s + "\n"
}

// clipLeft keeps the last n bytes, marking elision at the front.
func clipLeft(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// clipRight keeps the first n bytes, marking elision at the end.
func clipRight(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
