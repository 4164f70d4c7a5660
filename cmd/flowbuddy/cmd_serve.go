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
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianFlow/cmd/flowbuddy/config"
	"github.com/AleutianAI/AleutianFlow/services/compiler/catalog"
	"github.com/AleutianAI/AleutianFlow/services/flow_buddy"
	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/telemetry"
	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/tools"
)

// shutdownGrace bounds in-flight request draining on exit.
const shutdownGrace = 15 * time.Second

// runServe starts the FlowBuddy HTTP service.
func runServe(cmd *cobra.Command, args []string) error {
	logger := appLogger.Slog()
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Telemetry first so every later component picks up the global
	// providers.
	telCfg := telemetry.DefaultConfig()
	telCfg.TraceExporter = cfg.Telemetry.TraceExporter
	telCfg.MetricExporter = cfg.Telemetry.MetricExporter
	telCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	telCfg.SampleRate = cfg.Telemetry.SampleRate
	if cfg.Telemetry.Environment != "" {
		telCfg.Environment = cfg.Telemetry.Environment
	}
	telCfg.AllowDegraded = true

	telShutdown, err := telemetry.Init(ctx, telCfg)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := telShutdown(shutdownCtx); err != nil {
			logger.Warn("Telemetry shutdown incomplete", "error", err)
		}
	}()

	meter := otel.Meter("flowbuddy")
	metrics, err := telemetry.NewMetrics(meter)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	client, err := newLLMClient()
	if err != nil {
		return err
	}

	cat, err := loadCatalog()
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	// With watch enabled, searches go through the watcher so catalog
	// edits land without a restart. The compiler keeps the catalog it
	// was built with; node types are append-mostly and a restart picks
	// up removals.
	var searcher tools.NodeSearcher
	var watcher *catalog.Watcher
	if cfg.Catalog.Path != "" && cfg.Catalog.Watch {
		watcher, err = catalog.NewWatcher(config.ExpandPath(cfg.Catalog.Path), func(updated *catalog.Catalog) {
			logger.Info("Catalog reloaded", "version", updated.Version(), "nodes", updated.Len())
		})
		if err != nil {
			return fmt.Errorf("catalog watcher: %w", err)
		}
		watcher.Start(ctx)
		defer watcher.Stop()
		searcher = watcher
	} else {
		searcher, err = newSearcher(cat, logger)
		if err != nil {
			return err
		}
	}

	loop, err := newLoop(client, cat, searcher, logger)
	if err != nil {
		return err
	}

	registration, err := metrics.RegisterActiveSessions(meter, loop.ActiveSessions)
	if err != nil {
		logger.Warn("Active session gauge unavailable", "error", err)
	} else {
		defer registration.Unregister()
	}

	store, err := openRecordStore(logger)
	if err != nil {
		return fmt.Errorf("record store: %w", err)
	}
	defer store.Close()

	handlers := flow_buddy.NewHandlers(loop,
		flow_buddy.WithRecordStore(store),
		flow_buddy.WithMetrics(metrics),
		flow_buddy.WithHandlerLogger(logger),
	)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("flowbuddy"))
	router.Use(telemetry.Middleware(metrics))
	router.GET("/healthz", handlers.HandleHealth)

	v1 := router.Group("/v1")
	flow_buddy.RegisterRoutes(v1, handlers)

	port := cfg.Server.Port
	if servePort > 0 {
		port = servePort
	}
	apiServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, port),
		Handler: router,
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.MetricsHandler())
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
			Handler: mux,
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("FlowBuddy API listening", "addr", apiServer.Addr)
		if err := apiServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	if metricsServer != nil {
		g.Go(func() error {
			logger.Info("Metrics listening", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		var errs []error
		if err := apiServer.Shutdown(drainCtx); err != nil {
			errs = append(errs, err)
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(drainCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
