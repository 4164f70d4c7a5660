// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/AleutianAI/AleutianFlow/cmd/flowbuddy/config"
	"github.com/AleutianAI/AleutianFlow/services/compiler"
	"github.com/AleutianAI/AleutianFlow/services/compiler/catalog"
	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/agent"
	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/gateway"
	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/prompt"
	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/storage"
	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/tools"
	"github.com/AleutianAI/AleutianFlow/services/llm"
)

// newLLMClient builds the configured provider client.
func newLLMClient() (llm.Client, error) {
	switch cfg.Model.Provider {
	case "ollama":
		return llm.NewOllamaClient(llm.OllamaConfig{
			BaseURL: cfg.Model.BaseURL,
			Model:   cfg.Model.Name,
		})
	case "openai":
		openaiCfg := llm.DefaultOpenAIConfig()
		if cfg.Model.Name != "" {
			openaiCfg.Model = cfg.Model.Name
		}
		if cfg.Model.BaseURL != "" {
			openaiCfg.BaseURL = cfg.Model.BaseURL
		}
		if cfg.Model.RequestsPerMinute > 0 {
			openaiCfg.RequestsPerMinute = cfg.Model.RequestsPerMinute
		}
		return llm.NewOpenAIClient(openaiCfg)
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Model.Provider)
	}
}

// loadCatalog loads the configured catalog file or the embedded one.
func loadCatalog() (*catalog.Catalog, error) {
	if cfg.Catalog.Path != "" {
		return catalog.LoadFile(config.ExpandPath(cfg.Catalog.Path))
	}
	return catalog.LoadDefault()
}

// newSearcher picks the node search backend: Weaviate when configured,
// otherwise the catalog's in-memory keyword index.
func newSearcher(cat *catalog.Catalog, logger *slog.Logger) (tools.NodeSearcher, error) {
	if !cfg.Catalog.Weaviate.Enabled {
		return cat, nil
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   cfg.Catalog.Weaviate.Host,
		Scheme: cfg.Catalog.Weaviate.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("weaviate client: %w", err)
	}
	searcher, err := catalog.NewVectorSearcher(client, cfg.Catalog.Weaviate.Class)
	if err != nil {
		return nil, err
	}
	if err := searcher.EnsureSchema(context.Background()); err != nil {
		return nil, err
	}
	if err := searcher.Index(context.Background(), cat); err != nil {
		return nil, err
	}
	logger.Info("Semantic node search enabled",
		"host", cfg.Catalog.Weaviate.Host,
		"catalog_version", cat.Version())
	return searcher, nil
}

// newLoop assembles the build loop from the configuration. The searcher
// is passed in because serve swaps the static catalog for a hot-reloading
// watcher.
func newLoop(client llm.Client, cat *catalog.Catalog, searcher tools.NodeSearcher, logger *slog.Logger) (*agent.Loop, error) {
	comp, err := compiler.New(cat)
	if err != nil {
		return nil, fmt.Errorf("compiler: %w", err)
	}
	prompts, err := prompt.NewBuilder()
	if err != nil {
		return nil, fmt.Errorf("prompt builder: %w", err)
	}

	opts := []agent.LoopOption{
		agent.WithLogger(logger),
		agent.WithSearcher(searcher),
	}
	if cfg.Server.MaxConcurrentSessions > 0 {
		opts = append(opts, agent.WithMaxConcurrentSessions(cfg.Server.MaxConcurrentSessions))
	}

	gw := gateway.New(comp, logger)
	return agent.NewLoop(client, gw, tools.NewRegistry(), prompts, opts...), nil
}

// openRecordStore opens the configured local session record store.
func openRecordStore(logger *slog.Logger) (*storage.BadgerStore, error) {
	return storage.NewBadgerStore(storage.StoreConfig{
		Path:     config.ExpandPath(cfg.Store.Path),
		InMemory: cfg.Store.InMemory,
		Logger:   logger,
	})
}
