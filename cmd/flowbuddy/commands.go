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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianFlow/cmd/flowbuddy/config"
	"github.com/AleutianAI/AleutianFlow/pkg/logging"
	"github.com/AleutianAI/AleutianFlow/pkg/ux"
)

// --- Global Command Variables ---
var (
	cfgPath      string
	plainOutput  bool
	baselinePath string
	outputPath   string
	docPath      string
	maxIter      int
	servePort    int
	keepLast     int
	strictMode   bool

	cfg       *config.Config
	appLogger *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "flowbuddy",
		Short: "Build automation workflows from natural language",
		Long: `FlowBuddy turns a natural language instruction into a validated
workflow document by driving an LLM through an iterative build loop.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if plainOutput {
				ux.SetPlainMode(true)
			}

			// init writes the config; loading before it exists would
			// only confuse the first run.
			if cmd.Name() == "init" {
				return nil
			}

			loaded, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			cfg = loaded

			appLogger = logging.New(logging.Config{
				Level:   parseLogLevel(cfg.Logging.Level),
				LogDir:  cfg.Logging.Dir,
				Service: "flowbuddy",
				JSON:    cfg.Logging.JSON,
			})
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if appLogger != nil {
				_ = appLogger.Close()
			}
		},
	}

	// --- Build ---
	buildCmd = &cobra.Command{
		Use:   "build [instruction]",
		Short: "Build a workflow from a natural language instruction",
		Args:  cobra.ExactArgs(1),
		RunE:  runBuild, // Defined in cmd_build.go
	}

	// --- Validate ---
	validateCmd = &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a workflow document and print its findings",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate, // Defined in cmd_validate.go
	}

	// --- Serve ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the FlowBuddy HTTP service",
		Args:  cobra.NoArgs,
		RunE:  runServe, // Defined in cmd_serve.go
	}

	// --- Session Records ---
	sessionCmd = &cobra.Command{
		Use:   "session",
		Short: "Inspect persisted build session records",
	}
	sessionListCmd = &cobra.Command{
		Use:   "list",
		Short: "List persisted session records, newest first",
		Args:  cobra.NoArgs,
		RunE:  runSessionList, // Defined in cmd_session.go
	}
	sessionShowCmd = &cobra.Command{
		Use:   "show [id]",
		Short: "Print one session record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runSessionShow, // Defined in cmd_session.go
	}
	sessionDeleteCmd = &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete one session record",
		Args:  cobra.ExactArgs(1),
		RunE:  runSessionDelete, // Defined in cmd_session.go
	}
	sessionPruneCmd = &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the most recent session records",
		Args:  cobra.NoArgs,
		RunE:  runSessionPrune, // Defined in cmd_session.go
	}

	// --- Backup ---
	backupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Archive session records to cloud storage",
	}
	backupRunCmd = &cobra.Command{
		Use:   "run",
		Short: "Copy every local session record to the configured GCS bucket",
		Args:  cobra.NoArgs,
		RunE:  runBackup, // Defined in cmd_backup.go
	}
	backupFetchCmd = &cobra.Command{
		Use:   "fetch [id]",
		Short: "Print an archived session record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runBackupFetch, // Defined in cmd_backup.go
	}

	// --- Init ---
	initCmd = &cobra.Command{
		Use:   "init",
		Short: "Create the FlowBuddy configuration interactively",
		Args:  cobra.NoArgs,
		RunE:  runInit, // Defined in cmd_init.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", fmt.Sprintf("config file (default %s)", config.DefaultPath))
	rootCmd.PersistentFlags().BoolVar(&plainOutput, "plain", false, "disable styled terminal output")

	buildCmd.Flags().StringVar(&baselinePath, "baseline", "", "existing workflow document to repair or extend")
	buildCmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the finished workflow to this file")
	buildCmd.Flags().StringVar(&docPath, "path", "", "logical document path inside the session")
	buildCmd.Flags().IntVar(&maxIter, "max-iterations", 0, "override the configured iteration ceiling")

	validateCmd.Flags().BoolVar(&strictMode, "strict", false, "exit non-zero on any finding, not only parse errors")

	serveCmd.Flags().IntVar(&servePort, "port", 0, "override the configured API port")

	sessionPruneCmd.Flags().IntVar(&keepLast, "keep", 20, "number of most recent records to keep")

	sessionCmd.AddCommand(sessionListCmd, sessionShowCmd, sessionDeleteCmd, sessionPruneCmd)
	backupCmd.AddCommand(backupRunCmd, backupFetchCmd)
	rootCmd.AddCommand(buildCmd, validateCmd, serveCmd, sessionCmd, backupCmd, initCmd)
}

// parseLogLevel maps the config string to a logging level.
func parseLogLevel(level string) logging.Level {
	switch level {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
