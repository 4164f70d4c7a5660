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
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianFlow/cmd/flowbuddy/config"
	"github.com/AleutianAI/AleutianFlow/pkg/ux"
	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/storage"
)

// archiveTimeout bounds a full archive run against the bucket.
const archiveTimeout = 5 * time.Minute

// newArchiver builds the GCS archiver from the configuration.
func newArchiver(ctx context.Context) (*storage.Archiver, error) {
	if cfg.Archive.Bucket == "" {
		return nil, errors.New("no archive bucket configured, set archive.bucket or FLOWBUDDY_ARCHIVE_BUCKET")
	}
	return storage.NewArchiver(ctx, storage.ArchiveConfig{
		Bucket:          cfg.Archive.Bucket,
		Prefix:          cfg.Archive.Prefix,
		CredentialsFile: config.ExpandPath(cfg.Archive.CredentialsFile),
	}, appLogger.Slog())
}

// runBackup copies every local session record to the archive bucket.
func runBackup(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	archiver, err := newArchiver(ctx)
	if err != nil {
		return err
	}
	defer archiver.Close()

	store, err := openRecordStore(appLogger.Slog())
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}
	defer store.Close()

	var spin *ux.Spinner
	if !ux.Plain() {
		spin = ux.NewSpinner("Archiving session records")
		spin.Start()
	}

	count, err := archiver.ArchiveAll(ctx, store)
	if spin != nil {
		if err != nil {
			spin.StopWithError("Archive failed")
		} else {
			spin.Stop()
		}
	}
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}

	if count == 0 {
		ux.Muted("No session records to archive.")
		return nil
	}
	ux.Success(fmt.Sprintf("Archived %d record(s) to gs://%s", count, cfg.Archive.Bucket))
	return nil
}

// runBackupFetch prints one archived session record as indented JSON.
func runBackupFetch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	archiver, err := newArchiver(ctx)
	if err != nil {
		return err
	}
	defer archiver.Close()

	rec, err := archiver.Fetch(ctx, args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}
