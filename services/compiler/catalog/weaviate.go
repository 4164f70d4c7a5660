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
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// DefaultClassName is the Weaviate class holding catalog entries.
const DefaultClassName = "CatalogNode"

// Doc chunking bounds for indexing. Vendor node docs vary from one line
// to several pages; chunks keep each object within the vectorizer's
// useful input window.
const (
	docChunkSize    = 1200
	docChunkOverlap = 150
)

// ErrNilClient is returned when a searcher is constructed without a client.
var ErrNilClient = errors.New("weaviate client must not be nil")

// VectorSearcher answers node type searches through a Weaviate index
// instead of the in-memory keyword index.
//
// Description:
//
//	Catalog entries are indexed as one object per node type, vectorized
//	server-side. Search then uses nearText so queries like "post to chat
//	channel" find the Slack node even with no keyword overlap. The
//	in-memory Catalog.Search remains the fallback when no Weaviate
//	deployment is configured.
//
// Thread Safety: safe for concurrent use after construction.
type VectorSearcher struct {
	client *weaviate.Client
	class  string
}

// NewVectorSearcher creates a searcher over an existing Weaviate client.
//
// Inputs:
//
//	client - Weaviate client. Must not be nil.
//	class - Class name; empty selects DefaultClassName.
//
// Outputs:
//
//	*VectorSearcher - The configured searcher
//	error - Non-nil if client is nil
func NewVectorSearcher(client *weaviate.Client, class string) (*VectorSearcher, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if class == "" {
		class = DefaultClassName
	}
	return &VectorSearcher{client: client, class: class}, nil
}

// EnsureSchema creates the catalog class if it does not exist yet.
func (s *VectorSearcher) EnsureSchema(ctx context.Context) error {
	_, err := s.client.Schema().ClassGetter().WithClassName(s.class).Do(ctx)
	if err == nil {
		return nil
	}

	class := &models.Class{
		Class:       s.class,
		Description: "One automation node type from the Aleutian Flow catalog",
		Vectorizer:  "text2vec-transformers",
		Properties: []*models.Property{
			{Name: "nodeType", DataType: []string{"text"}},
			{Name: "name", DataType: []string{"text"}},
			{Name: "kind", DataType: []string{"text"}},
			{Name: "description", DataType: []string{"text"}},
			{Name: "docs", DataType: []string{"text"}},
			{Name: "chunk", DataType: []string{"int"}},
			{Name: "keywords", DataType: []string{"text[]"}},
		},
	}
	if err := s.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create catalog class: %w", err)
	}
	slog.Info("Created Weaviate catalog class", "class", s.class)
	return nil
}

// Index writes every catalog entry into Weaviate.
//
// Description:
//
//	Long node docs are split into overlapping chunks, one object per
//	chunk, so a match deep inside vendor documentation still surfaces
//	the node. Object IDs are derived from the node type and chunk index
//	via sha256, so re-indexing the same catalog version is an
//	idempotent upsert rather than a duplicate insert.
//
// Inputs:
//
//	ctx - Context for cancellation
//	cat - Catalog to index. Must not be nil.
//
// Outputs:
//
//	error - Non-nil if the batch insert fails or any object is rejected
func (s *VectorSearcher) Index(ctx context.Context, cat *Catalog) error {
	if cat == nil {
		return errors.New("catalog must not be nil")
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(docChunkSize),
		textsplitter.WithChunkOverlap(docChunkOverlap),
	)

	entries := cat.Entries()
	objects := make([]*models.Object, 0, len(entries))
	for _, e := range entries {
		chunks := []string{e.Docs}
		if len(e.Docs) > docChunkSize {
			split, err := splitter.SplitText(e.Docs)
			if err != nil {
				return fmt.Errorf("split docs for %s: %w", e.Type, err)
			}
			if len(split) > 0 {
				chunks = split
			}
		}

		for chunk, docs := range chunks {
			hash := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", e.Type, chunk)))
			id, err := uuid.FromBytes(hash[:16])
			if err != nil {
				return fmt.Errorf("derive object id for %s: %w", e.Type, err)
			}
			objects = append(objects, &models.Object{
				Class: s.class,
				ID:    strfmt.UUID(id.String()),
				Properties: map[string]interface{}{
					"nodeType":    e.Type,
					"name":        e.Name,
					"kind":        e.Kind,
					"description": e.Description,
					"docs":        docs,
					"chunk":       chunk,
					"keywords":    e.Keywords,
				},
			})
		}
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("batch index catalog: %w", err)
	}
	for _, item := range resp {
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			return fmt.Errorf("index object %s: %s", item.ID, item.Result.Errors.Error[0].Message)
		}
	}
	slog.Info("Indexed catalog into Weaviate",
		"class", s.class,
		"version", cat.Version(),
		"objects", len(objects))
	return nil
}

// Search ranks catalog entries against a free-text query via nearText.
func (s *VectorSearcher) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	nearText := s.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	fields := []graphql.Field{
		{Name: "nodeType"},
		{Name: "name"},
		{Name: "kind"},
		{Name: "description"},
		{Name: "_additional { certainty }"},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("catalog search: %s", result.Errors[0].Message)
	}
	return s.parseHits(result)
}

// parseHits converts the GraphQL response into Hit values. Chunked docs
// mean one node type can appear more than once; results arrive ordered
// by certainty, so the first occurrence per type wins.
func (s *VectorSearcher) parseHits(result *models.GraphQLResponse) ([]Hit, error) {
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return []Hit{}, nil
	}
	objects, ok := data[s.class].([]interface{})
	if !ok {
		return []Hit{}, nil
	}

	seen := make(map[string]bool, len(objects))
	hits := make([]Hit, 0, len(objects))
	for _, obj := range objects {
		props, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		hit := Hit{
			Type:        stringProp(props, "nodeType"),
			Name:        stringProp(props, "name"),
			Kind:        stringProp(props, "kind"),
			Description: stringProp(props, "description"),
		}
		if add, ok := props["_additional"].(map[string]interface{}); ok {
			if certainty, ok := add["certainty"].(float64); ok {
				hit.Score = certainty
			}
		}
		if hit.Type == "" || seen[hit.Type] {
			continue
		}
		seen[hit.Type] = true
		hits = append(hits, hit)
	}
	return hits, nil
}

func stringProp(props map[string]interface{}, key string) string {
	v, _ := props[key].(string)
	return v
}
