// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"

	gcs "cloud.google.com/go/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/api/option"
)

// DefaultArchivePrefix is the object name prefix for archived records.
const DefaultArchivePrefix = "flowbuddy/sessions"

// ArchiveConfig configures a GCS archiver.
type ArchiveConfig struct {
	// Bucket is the GCS bucket name. Required.
	Bucket string

	// Prefix is the object name prefix inside the bucket.
	// Defaults to DefaultArchivePrefix.
	Prefix string

	// CredentialsFile is the path to a service account key. When empty,
	// application default credentials are used.
	CredentialsFile string
}

// Validate checks the configuration.
func (c *ArchiveConfig) Validate() error {
	if c.Bucket == "" {
		return errors.New("bucket must not be empty")
	}
	return nil
}

// Archiver copies session records to a GCS bucket.
//
// Each record becomes one JSON object named {prefix}/{id}.json, the
// same bytes the local store holds. Archiving is one-way retention;
// Fetch exists so an operator can pull a record back without gsutil.
//
// Thread Safety: Safe for concurrent use.
type Archiver struct {
	client *gcs.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// NewArchiver creates an archiver for a bucket.
//
// Inputs:
//
//	ctx - Context for client construction.
//	cfg - Archive settings. Bucket is required.
//	logger - Optional logger. Defaults to slog.Default().
//
// Outputs:
//
//	*Archiver - The archiver. Caller owns Close.
//	error - Non-nil if the configuration is invalid, the credentials
//	        file is missing, or the GCS client cannot be created.
func NewArchiver(ctx context.Context, cfg ArchiveConfig, logger *slog.Logger) (*Archiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid archive config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultArchivePrefix
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", cfg.CredentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}

	return &Archiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
		logger: logger.With(slog.String("component", "archiver")),
	}, nil
}

// objectName returns the bucket object name for a session id.
func (a *Archiver) objectName(id string) string {
	return path.Join(a.prefix, id+".json")
}

// Archive uploads one record to the bucket.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	rec - The record. Must not be nil and must carry an id.
//
// Outputs:
//
//	string - The gs:// URL of the uploaded object.
//	error - Non-nil if encoding or the upload fails.
func (a *Archiver) Archive(ctx context.Context, rec *SessionRecord) (string, error) {
	if rec == nil {
		return "", ErrNilRecord
	}
	if rec.ID == "" {
		return "", errors.New("record id must not be empty")
	}

	ctx, span := storageTracer.Start(ctx, "archive.Archive")
	defer span.End()
	span.SetAttributes(
		attribute.String("session_id", rec.ID),
		attribute.String("bucket", a.bucket),
	)

	data, err := json.Marshal(rec)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("encode record %s: %w", rec.ID, err)
	}

	name := a.objectName(rec.ID)
	w := a.client.Bucket(a.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "application/json"
	w.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := w.Write(data); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload failed")
		return "", fmt.Errorf("write record %s to gs://%s/%s: %w", rec.ID, a.bucket, name, err)
	}
	if err := w.Close(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload failed")
		return "", fmt.Errorf("close GCS writer for %s: %w", name, err)
	}

	url := fmt.Sprintf("gs://%s/%s", a.bucket, name)
	a.logger.Info("session record archived",
		slog.String("session_id", rec.ID),
		slog.String("object", url),
		slog.Int("bytes", len(data)))

	return url, nil
}

// ArchiveAll uploads every record in a store.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	store - Source of records.
//
// Outputs:
//
//	int - Number of records uploaded before any failure.
//	error - Non-nil on the first listing or upload error.
func (a *Archiver) ArchiveAll(ctx context.Context, store RecordStore) (int, error) {
	ctx, span := storageTracer.Start(ctx, "archive.ArchiveAll")
	defer span.End()

	records, err := store.List(ctx)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	uploaded := 0
	for _, rec := range records {
		if _, err := a.Archive(ctx, rec); err != nil {
			span.SetAttributes(attribute.Int("uploaded", uploaded))
			return uploaded, err
		}
		uploaded++
	}

	span.SetAttributes(attribute.Int("uploaded", uploaded))
	return uploaded, nil
}

// Fetch downloads one archived record.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	id - Session id. Must not be empty.
//
// Outputs:
//
//	*SessionRecord - The archived record.
//	error - ErrRecordNotFound if no object exists for the id.
func (a *Archiver) Fetch(ctx context.Context, id string) (*SessionRecord, error) {
	if id == "" {
		return nil, errors.New("id must not be empty")
	}

	ctx, span := storageTracer.Start(ctx, "archive.Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", id))

	name := a.objectName(id)
	r, err := a.client.Bucket(a.bucket).Object(name).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("open gs://%s/%s: %w", a.bucket, name, err)
	}
	defer r.Close()

	var rec SessionRecord
	if err := json.NewDecoder(r).Decode(&rec); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("decode gs://%s/%s: %w", a.bucket, name, err)
	}

	return &rec, nil
}

// Close releases the GCS client.
func (a *Archiver) Close() error {
	return a.client.Close()
}
