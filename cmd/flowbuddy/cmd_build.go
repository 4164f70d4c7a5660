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
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianFlow/pkg/ux"
	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/agent"
	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/agent/events"
	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/storage"
)

// runBuild performs one build session in the foreground.
func runBuild(cmd *cobra.Command, args []string) error {
	logger := appLogger.Slog()

	client, err := newLLMClient()
	if err != nil {
		return err
	}
	cat, err := loadCatalog()
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	searcher, err := newSearcher(cat, logger)
	if err != nil {
		return err
	}
	loop, err := newLoop(client, cat, searcher, logger)
	if err != nil {
		return err
	}

	sessionCfg := cfg.AgentConfig()
	if maxIter > 0 {
		sessionCfg.MaxIterations = maxIter
	}

	req := &agent.BuildRequest{
		Instruction: args[0],
		Path:        docPath,
		Config:      sessionCfg,
	}
	if baselinePath != "" {
		baseline, err := os.ReadFile(baselinePath)
		if err != nil {
			return fmt.Errorf("read baseline: %w", err)
		}
		req.Baseline = string(baseline)
	}

	// Ctrl-C cancels the session; the loop reports it as a cancelled
	// terminal result instead of dying mid-edit.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := loop.Start(ctx, req)
	if err != nil {
		return err
	}

	ux.Title("FlowBuddy")
	ux.Muted(args[0])

	var result *agent.BuildResult
	if ux.Plain() {
		subID := session.Events().Subscribe(func(event *events.Event) {
			plainProgress(event)
		})
		result, err = loop.Run(ctx, session)
		session.Events().Unsubscribe(subID)
	} else {
		result, err = runWithProgressUI(ctx, loop, session, sessionCfg.MaxIterations)
	}
	if err != nil && result == nil {
		return err
	}

	persistRecord(session, logger)
	printOutcome(result)

	if outputPath != "" && result.WorkflowSource != "" {
		if err := os.WriteFile(outputPath, []byte(result.WorkflowSource), 0644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		ux.Success("Workflow written to " + outputPath)
	}

	if !result.Succeeded() {
		return fmt.Errorf("build failed: %s", result.Error)
	}
	return nil
}

// runWithProgressUI drives the loop under the bubbletea progress view.
func runWithProgressUI(ctx context.Context, loop *agent.Loop, session *agent.Session, maxIterations int) (*agent.BuildResult, error) {
	program := tea.NewProgram(newBuildProgressModel(maxIterations))

	subID := session.Events().Subscribe(func(event *events.Event) {
		program.Send(progressEventMsg{event: event})
	})
	defer session.Events().Unsubscribe(subID)

	var (
		result *agent.BuildResult
		runErr error
		done   = make(chan struct{})
	)
	go func() {
		defer close(done)
		result, runErr = loop.Run(ctx, session)
		program.Send(progressDoneMsg{})
	}()

	if _, err := program.Run(); err != nil {
		// The progress view is cosmetic; the build keeps going.
		ux.Warning("progress display failed: " + err.Error())
	}
	<-done
	return result, runErr
}

// recordWriteTimeout bounds the local store write after a build.
const recordWriteTimeout = 10 * time.Second

// persistRecord stores the terminal session record so `session list`
// covers CLI builds too. Persistence failures are logged, not fatal.
func persistRecord(session *agent.Session, logger *slog.Logger) {
	store, err := openRecordStore(logger)
	if err != nil {
		logger.Warn("Record store unavailable, session not persisted", "error", err)
		return
	}
	defer store.Close()

	rec, err := storage.NewRecord(*session.View())
	if err != nil {
		logger.Warn("Session not persistable", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordWriteTimeout)
	defer cancel()
	if err := store.Put(ctx, rec); err != nil {
		logger.Warn("Failed to persist session record", "error", err)
	}
}

// printOutcome renders findings and the run summary.
func printOutcome(result *agent.BuildResult) {
	resolved := 0
	for i := range result.Warnings {
		t := &result.Warnings[i]
		if t.Resolved() {
			resolved++
			continue
		}
		ux.FindingLine(t.Warning.Code, warningLocation(t.Warning), t.Warning.Message, t.PreExisting)
	}

	switch {
	case result.Succeeded():
		ux.Success("Workflow validated clean")
	case result.Cancelled:
		ux.Warning("Build cancelled")
	default:
		ux.Error("Build failed: " + result.Error)
	}
	ux.BuildSummary(result.Iterations, resolved, result.DurationMs)
}
