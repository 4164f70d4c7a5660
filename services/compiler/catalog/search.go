// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"context"
	"sort"
	"strings"
)

// DefaultSearchLimit is the result count used when a caller passes limit <= 0.
const DefaultSearchLimit = 5

// Hit is one search result.
type Hit struct {
	// Type is the canonical node type identifier.
	Type string `json:"type"`

	// Name is the display name.
	Name string `json:"name"`

	// Kind is "trigger" or "action".
	Kind string `json:"kind"`

	// Description is the one-line catalog summary.
	Description string `json:"description"`

	// Score is a relative relevance score, higher is better.
	Score float64 `json:"score"`
}

// Search ranks catalog entries against a free-text query.
//
// Scoring is keyword overlap with two boosts: exact token hits on the
// keyword index score higher than substring hits, and trigger/action intent
// words ("trigger", "when", "start") bias toward trigger entries. The ctx
// parameter keeps the signature aligned with remote searchers; the in-memory
// path never blocks.
func (c *Catalog) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	scores := make(map[int]float64)
	wantsTrigger := false
	for _, tok := range tokens {
		if tok == "trigger" || tok == "when" || tok == "start" {
			wantsTrigger = true
		}
		for _, pos := range c.index[tok] {
			scores[pos] += 2.0
		}
		// Substring pass catches partial words like "sched" or "mail".
		for pos := range c.entries {
			e := &c.entries[pos]
			if strings.Contains(strings.ToLower(e.Name), tok) ||
				strings.Contains(strings.ToLower(e.Type), tok) {
				scores[pos] += 1.0
			}
		}
	}
	if len(scores) == 0 {
		return nil, nil
	}

	hits := make([]Hit, 0, len(scores))
	for pos, score := range scores {
		e := &c.entries[pos]
		if wantsTrigger && e.Kind == KindTrigger {
			score += 1.5
		}
		hits = append(hits, Hit{
			Type:        e.Type,
			Name:        e.Name,
			Kind:        e.Kind,
			Description: e.Description,
			Score:       score,
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Type < hits[j].Type
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}
