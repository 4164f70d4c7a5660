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
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/document"
)

// MaxParamsSize caps argument JSON size to prevent memory exhaustion.
const MaxParamsSize = 1 << 20 // 1MB

// ViewParams are the arguments of the view tool.
type ViewParams struct {
	Path  string `json:"path"`
	Range []int  `json:"range,omitempty"`
}

// CreateParams are the arguments of the create tool.
type CreateParams struct {
	Path string `json:"path"`
	Text string `json:"text"`
}

// ReplaceParams are the arguments of the replace tool.
type ReplaceParams struct {
	Path string `json:"path"`
	Old  string `json:"old"`
	New  string `json:"new"`
}

// InsertParams are the arguments of the insert tool.
type InsertParams struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// BatchReplaceParams are the arguments of the batch_replace tool.
type BatchReplaceParams struct {
	Replacements []document.Replacement `json:"replacements"`
}

// ValidateParams are the arguments of the validate tool.
type ValidateParams struct {
	Path string `json:"path"`
}

// SearchParams are the arguments of the search_nodes tool.
type SearchParams struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// decodeParams unmarshals tool arguments with a size guard. An empty
// argument string decodes as an empty object; models sometimes send
// nothing for zero-argument calls.
func decodeParams(raw string, out any) error {
	if len(raw) > MaxParamsSize {
		return fmt.Errorf("arguments too large: %d bytes (max %d)", len(raw), MaxParamsSize)
	}
	if raw == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("malformed arguments: %v", err)
	}
	return nil
}

// decodeBatchParams handles both shapes the model produces for
// batch_replace: the replacements field as a JSON array, or the same
// array pre-serialized into a JSON string needing a second decode.
func decodeBatchParams(raw string) (*BatchReplaceParams, error) {
	if len(raw) > MaxParamsSize {
		return nil, fmt.Errorf("arguments too large: %d bytes (max %d)", len(raw), MaxParamsSize)
	}
	var envelope struct {
		Replacements json.RawMessage `json:"replacements"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil, fmt.Errorf("malformed arguments: %v", err)
	}
	if len(envelope.Replacements) == 0 {
		return nil, fmt.Errorf("missing replacements")
	}

	payload := bytes.TrimSpace(envelope.Replacements)
	if len(payload) > 0 && payload[0] == '"' {
		var inner string
		if err := json.Unmarshal(payload, &inner); err != nil {
			return nil, fmt.Errorf("malformed replacements string: %v", err)
		}
		payload = []byte(inner)
	}

	var reps []document.Replacement
	if err := json.Unmarshal(payload, &reps); err != nil {
		return nil, fmt.Errorf("malformed replacements list: %v", err)
	}
	if len(reps) == 0 {
		return nil, fmt.Errorf("replacements list is empty")
	}
	return &BatchReplaceParams{Replacements: reps}, nil
}

// viewRangeOf converts the two-element range field, when present.
func viewRangeOf(p *ViewParams) (*document.ViewRange, error) {
	if len(p.Range) == 0 {
		return nil, nil
	}
	if len(p.Range) != 2 {
		return nil, fmt.Errorf("range must be [start, end], got %d elements", len(p.Range))
	}
	return &document.ViewRange{Start: p.Range[0], End: p.Range[1]}, nil
}
