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
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianFlow/pkg/ux"
)

// storeOpTimeout bounds local record store operations from the CLI.
const storeOpTimeout = 30 * time.Second

// runSessionList prints all persisted session records, newest first.
func runSessionList(cmd *cobra.Command, args []string) error {
	store, err := openRecordStore(appLogger.Slog())
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	records, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		ux.Muted("No session records.")
		return nil
	}

	for _, rec := range records {
		icon := ux.IconSuccess
		if !rec.Succeeded() {
			icon = ux.IconError
			if rec.Cancelled {
				icon = ux.IconWarning
			}
		}
		fmt.Printf("%s %s  %s  %s  %s\n",
			icon.Render(),
			rec.ID,
			rec.CompletedAt.Local().Format("2006-01-02 15:04"),
			ux.Styles.Muted.Render(fmt.Sprintf("%d iter", rec.Iterations)),
			truncate(rec.Instruction, 60))
	}
	return nil
}

// runSessionShow prints one session record as indented JSON.
func runSessionShow(cmd *cobra.Command, args []string) error {
	store, err := openRecordStore(appLogger.Slog())
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	rec, err := store.Get(ctx, args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

// runSessionDelete removes one session record.
func runSessionDelete(cmd *cobra.Command, args []string) error {
	store, err := openRecordStore(appLogger.Slog())
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	if err := store.Delete(ctx, args[0]); err != nil {
		return err
	}
	ux.Success("Deleted session " + args[0])
	return nil
}

// runSessionPrune deletes all but the newest --keep records.
func runSessionPrune(cmd *cobra.Command, args []string) error {
	store, err := openRecordStore(appLogger.Slog())
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	deleted, err := store.Prune(ctx, keepLast)
	if err != nil {
		return err
	}
	if deleted == 0 {
		ux.Muted(fmt.Sprintf("Nothing to prune, %d or fewer records exist.", keepLast))
		return nil
	}
	ux.Success(fmt.Sprintf("Pruned %d record(s), kept the %d newest", deleted, keepLast))
	return nil
}

// truncate shortens an instruction for the one-line list view.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
