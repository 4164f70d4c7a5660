// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage persists finished build sessions.
//
// A session lives in memory while the loop runs. When it reaches a
// terminal state the interesting part is the record: the instruction,
// the final document, the warning timeline, and the run metrics. This
// package stores those records in an embedded BadgerDB and can archive
// them to a GCS bucket for retention beyond the local disk.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/agent"
	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/storage/badger"
	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/warnings"
)

var storageTracer = otel.Tracer("flowbuddy.storage")

var (
	// ErrStoreClosed is returned by operations on a closed store.
	ErrStoreClosed = errors.New("record store is closed")

	// ErrRecordNotFound is returned when no record exists for an id.
	ErrRecordNotFound = errors.New("session record not found")

	// ErrNilRecord is returned when a nil record is offered for storage.
	ErrNilRecord = errors.New("record must not be nil")

	// ErrSessionActive is returned when a record is built from a session
	// that has not reached a terminal state yet.
	ErrSessionActive = errors.New("session has not reached a terminal state")
)

// recordKeyPrefix scopes session records within the key space.
const recordKeyPrefix = "session:"

func recordKey(id string) []byte {
	return []byte(recordKeyPrefix + id)
}

// SessionRecord is the persisted snapshot of a finished build session.
//
// Records are immutable once written; a session id is stored at most
// once, when its loop reaches DONE or FAILED.
type SessionRecord struct {
	// ID is the session id the record belongs to.
	ID string `json:"id"`

	// Instruction is the natural language request that started the session.
	Instruction string `json:"instruction"`

	// Path is the logical document path that was built.
	Path string `json:"path"`

	// State is the terminal state, DONE or FAILED.
	State agent.State `json:"state"`

	// WorkflowSource is the document text at session end.
	WorkflowSource string `json:"workflow_source,omitempty"`

	// Iterations is how many build iterations ran.
	Iterations int `json:"iterations"`

	// FinalizeAttempts is how many auto-finalize passes ran.
	FinalizeAttempts int `json:"finalize_attempts"`

	// Warnings is the occurrence/resolution timeline of every finding.
	Warnings []warnings.Tracked `json:"warnings,omitempty"`

	// Metrics are the session counters at the end of the run.
	Metrics agent.SessionMetrics `json:"metrics"`

	// Cancelled marks a failure caused by external cancellation.
	Cancelled bool `json:"cancelled,omitempty"`

	// Error describes why a FAILED session failed.
	Error string `json:"error,omitempty"`

	// CreatedAt is when the session was started.
	CreatedAt time.Time `json:"created_at"`

	// CompletedAt is when the session reached its terminal state.
	CompletedAt time.Time `json:"completed_at"`

	// DurationMs is the wall time of the run in milliseconds.
	DurationMs int64 `json:"duration_ms"`
}

// Succeeded reports whether the recorded session ended in DONE.
func (r *SessionRecord) Succeeded() bool {
	return r.State == agent.StateDone
}

// NewRecord builds a record from a terminal session view.
//
// Inputs:
//
//	view - Session view. Its Result must be set, which the agent
//	       guarantees once the session is terminal.
//
// Outputs:
//
//	*SessionRecord - The record, ready to store.
//	error - ErrSessionActive if the session has no result yet.
func NewRecord(view agent.SessionView) (*SessionRecord, error) {
	res := view.Result
	if res == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionActive, view.ID)
	}

	return &SessionRecord{
		ID:               view.ID,
		Instruction:      view.Instruction,
		Path:             view.Path,
		State:            res.State,
		WorkflowSource:   res.WorkflowSource,
		Iterations:       res.Iterations,
		FinalizeAttempts: res.FinalizeAttempts,
		Warnings:         res.Warnings,
		Metrics:          view.Metrics,
		Cancelled:        res.Cancelled,
		Error:            res.Error,
		CreatedAt:        view.CreatedAt,
		CompletedAt:      view.LastActiveAt,
		DurationMs:       res.DurationMs,
	}, nil
}

// RecordStore is the persistence surface for session records.
//
// Thread Safety: Implementations must be safe for concurrent use.
type RecordStore interface {
	// Put stores a record, overwriting any record with the same id.
	Put(ctx context.Context, rec *SessionRecord) error

	// Get returns the record for an id, or ErrRecordNotFound.
	Get(ctx context.Context, id string) (*SessionRecord, error)

	// List returns all records, newest first by completion time.
	List(ctx context.Context) ([]*SessionRecord, error)

	// Delete removes the record for an id, or ErrRecordNotFound.
	Delete(ctx context.Context, id string) error

	// Close releases the underlying database.
	Close() error
}

// StoreConfig configures a BadgerStore.
type StoreConfig struct {
	// Path is the directory for database files.
	// Required unless InMemory is true.
	Path string

	// InMemory keeps records in RAM, for tests.
	InMemory bool

	// Logger for store operations. Defaults to slog.Default().
	Logger *slog.Logger
}

// BadgerStore is a RecordStore backed by an embedded BadgerDB.
//
// Records are stored as JSON under "session:{id}" keys. JSON rather
// than a binary codec so the archive objects uploaded to GCS are the
// stored bytes, readable without this code.
//
// Thread Safety: Safe for concurrent use.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
	closed atomic.Bool
}

// NewBadgerStore opens a record store.
//
// Inputs:
//
//	cfg - Store settings. Path is required unless InMemory is true.
//
// Outputs:
//
//	*BadgerStore - The open store. Caller owns Close.
//	error - Non-nil if the database cannot be opened.
func NewBadgerStore(cfg StoreConfig) (*BadgerStore, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dbCfg := badger.DefaultConfig()
	dbCfg.Path = cfg.Path
	dbCfg.Logger = logger
	if cfg.InMemory {
		dbCfg = badger.InMemoryConfig()
	}

	db, err := badger.OpenDB(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}

	logger.Info("session record store opened",
		slog.String("path", cfg.Path),
		slog.Bool("in_memory", cfg.InMemory))

	return &BadgerStore{
		db:     db,
		logger: logger.With(slog.String("component", "record_store")),
	}, nil
}

// Put stores a record, overwriting any record with the same id.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	rec - The record. Must not be nil and must carry an id.
//
// Outputs:
//
//	error - Non-nil if validation, encoding, or the write fails.
func (s *BadgerStore) Put(ctx context.Context, rec *SessionRecord) error {
	if rec == nil {
		return ErrNilRecord
	}
	if rec.ID == "" {
		return errors.New("record id must not be empty")
	}
	if s.closed.Load() {
		return ErrStoreClosed
	}

	ctx, span := storageTracer.Start(ctx, "records.Put")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", rec.ID))

	data, err := json.Marshal(rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode failed")
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}

	err = s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set(recordKey(rec.ID), data)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		return fmt.Errorf("store record %s: %w", rec.ID, err)
	}

	s.logger.Debug("session record stored",
		slog.String("session_id", rec.ID),
		slog.String("state", string(rec.State)),
		slog.Int("bytes", len(data)))

	return nil
}

// Get returns the record for an id.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	id - Session id. Must not be empty.
//
// Outputs:
//
//	*SessionRecord - The stored record.
//	error - ErrRecordNotFound if no record exists for the id.
func (s *BadgerStore) Get(ctx context.Context, id string) (*SessionRecord, error) {
	if id == "" {
		return nil, errors.New("id must not be empty")
	}
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	ctx, span := storageTracer.Start(ctx, "records.Get")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", id))

	var rec SessionRecord
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(recordKey(id))
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
		}
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		if !errors.Is(err, ErrRecordNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "read failed")
		}
		return nil, err
	}

	return &rec, nil
}

// List returns all records, newest first by completion time.
//
// Records that fail to decode are skipped with a warning rather than
// hiding every other record behind one bad entry.
//
// Inputs:
//
//	ctx - Context for cancellation.
//
// Outputs:
//
//	[]*SessionRecord - All decodable records. Empty when none exist.
//	error - Non-nil if the scan itself fails.
func (s *BadgerStore) List(ctx context.Context) ([]*SessionRecord, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	ctx, span := storageTracer.Start(ctx, "records.List")
	defer span.End()

	var records []*SessionRecord
	prefix := []byte(recordKeyPrefix)

	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			item := it.Item()
			err := item.Value(func(val []byte) error {
				var rec SessionRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					s.logger.Warn("skipping undecodable session record",
						slog.String("key", string(item.Key())),
						slog.String("error", err.Error()))
					return nil
				}
				records = append(records, &rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scan failed")
		return nil, fmt.Errorf("list records: %w", err)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CompletedAt.After(records[j].CompletedAt)
	})

	span.SetAttributes(attribute.Int("record_count", len(records)))
	return records, nil
}

// Delete removes the record for an id.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	id - Session id. Must not be empty.
//
// Outputs:
//
//	error - ErrRecordNotFound if no record exists for the id.
func (s *BadgerStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("id must not be empty")
	}
	if s.closed.Load() {
		return ErrStoreClosed
	}

	ctx, span := storageTracer.Start(ctx, "records.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", id))

	err := s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		key := recordKey(id)
		if _, err := txn.Get(key); errors.Is(err, dgbadger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
		} else if err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if err != nil {
		if !errors.Is(err, ErrRecordNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "delete failed")
		}
		return err
	}

	s.logger.Debug("session record deleted", slog.String("session_id", id))
	return nil
}

// Prune deletes the oldest records beyond a retention count.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	keep - Number of newest records to retain. Must be non-negative.
//
// Outputs:
//
//	int - Number of records deleted.
//	error - Non-nil if listing or deletion fails.
func (s *BadgerStore) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		return 0, errors.New("keep must be non-negative")
	}

	ctx, span := storageTracer.Start(ctx, "records.Prune")
	defer span.End()
	span.SetAttributes(attribute.Int("keep", keep))

	records, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(records) <= keep {
		return 0, nil
	}

	victims := records[keep:]
	err = s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		for _, rec := range victims {
			if err := txn.Delete(recordKey(rec.ID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "prune failed")
		return 0, fmt.Errorf("prune records: %w", err)
	}

	span.SetAttributes(attribute.Int("deleted", len(victims)))
	s.logger.Info("pruned session records",
		slog.Int("deleted", len(victims)),
		slog.Int("kept", keep))

	return len(victims), nil
}

// Close releases the underlying database. Safe to call repeatedly.
func (s *BadgerStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
