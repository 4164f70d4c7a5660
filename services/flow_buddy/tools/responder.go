// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianFlow/services/compiler"
	"github.com/AleutianAI/AleutianFlow/services/compiler/catalog"
	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/document"
)

// FormatEditError renders an edit failure as model feedback. Every
// variant gets concrete guidance on how to retry; these strings are
// the only repair signal the model receives for a failed edit.
func FormatEditError(e *document.EditError) string {
	if e == nil {
		return "The edit failed for an unknown reason."
	}
	switch e.Kind {
	case document.KindNoMatch:
		var b strings.Builder
		b.WriteString("No match found for the text to replace.")
		if e.Diagnostic != "" {
			b.WriteString("\n")
			b.WriteString(e.Diagnostic)
		}
		b.WriteString("\nThe old text must match the document exactly, including whitespace and newlines. Use view to see the current content.")
		return b.String()

	case document.KindMultipleMatches:
		return fmt.Sprintf(
			"Found %d occurrences of the text to replace. Include more surrounding context in the old text so it matches exactly once.",
			e.MatchCount)

	case document.KindInvalidLineNumber:
		return fmt.Sprintf(
			"Line %d is out of range. The document has %d lines; valid positions are 0 (start of file) through %d.",
			e.Line, e.LineCount, e.LineCount)

	case document.KindInvalidViewRange:
		return fmt.Sprintf(
			"Invalid view range [%d, %d]. The document has %d lines; start must be at least 1 and end must not precede start.",
			e.Start, e.End, e.Lines)

	case document.KindInvalidPath:
		return fmt.Sprintf(
			"Cannot operate on %q. This session edits a single document, %q. Re-issue the call with that path.",
			e.Path, e.WantPath)

	case document.KindNotFound:
		return "No document exists yet. Use create to write the initial workflow before viewing or editing it."

	case document.KindBatchFailed:
		var b strings.Builder
		fmt.Fprintf(&b, "Batch replacement failed at index %d of %d replacements. The document was not modified.\n",
			e.BatchIndex, e.BatchTotal)
		if e.Cause != nil {
			b.WriteString("Cause: ")
			b.WriteString(FormatEditError(e.Cause))
		}
		if len(e.NotAttempted) > 0 {
			fmt.Fprintf(&b, "\nReplacements at indices %s were not attempted.", joinInts(e.NotAttempted))
		}
		return b.String()

	default:
		return "The edit failed: " + e.Error()
	}
}

// formatWarnings renders validation findings as a numbered list, with
// findings inherited from the baseline document labeled as such.
func formatWarnings(ws []compiler.Warning, isPreExisting func(compiler.Warning) bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Validation found %d issue(s):\n", len(ws))
	for i, w := range ws {
		label := ""
		if isPreExisting != nil && isPreExisting(w) {
			label = "[pre-existing] "
		}
		fmt.Fprintf(&b, "%d. %s%s\n", i+1, label, w.String())
	}
	b.WriteString("Fix these issues, then call validate again.")
	return b.String()
}

// formatHits renders catalog search results.
func formatHits(query string, hits []catalog.Hit) string {
	if len(hits) == 0 {
		return fmt.Sprintf("No node types match %q. Try different terms, or describe what the node should do.", query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d node type(s) matching %q:\n", len(hits), query)
	for _, h := range hits {
		fmt.Fprintf(&b, "- %s (%s, %s): %s\n", h.Type, h.Name, h.Kind, h.Description)
	}
	b.WriteString("Use the type string exactly as shown.")
	return b.String()
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return strings.Join(parts, ", ")
}
