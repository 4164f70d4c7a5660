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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/agent"
	"github.com/AleutianAI/AleutianFlow/services/compiler"
	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/warnings"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := NewBadgerStore(StoreConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// sampleRecord builds a record with a fixed completion time so JSON
// round-trips compare equal (wall-clock times only, no monotonic part).
func sampleRecord(id string, completed time.Time) *SessionRecord {
	return &SessionRecord{
		ID:             id,
		Instruction:    "build a nightly report workflow",
		Path:           "workflow.json",
		State:          agent.StateDone,
		WorkflowSource: `{"name":"report","nodes":[]}`,
		Iterations:     2,
		Metrics: agent.SessionMetrics{
			Iterations: 2,
			LLMCalls:   2,
			ToolCalls:  3,
		},
		CreatedAt:   completed.Add(-90 * time.Second),
		CompletedAt: completed,
		DurationMs:  90000,
	}
}

func TestNewRecord(t *testing.T) {
	created := time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC)
	completed := created.Add(45 * time.Second)
	resolved := 3

	t.Run("maps a terminal view", func(t *testing.T) {
		view := agent.SessionView{
			ID:           "sess_01",
			Path:         "flows/etl.json",
			Instruction:  "repair the ETL workflow",
			State:        agent.StateFailed,
			Metrics:      agent.SessionMetrics{Iterations: 4, LLMCalls: 4, ToolCalls: 6},
			CreatedAt:    created,
			LastActiveAt: completed,
			Result: &agent.BuildResult{
				SessionID:        "sess_01",
				State:            agent.StateFailed,
				WorkflowSource:   `{"name":"etl"}`,
				Iterations:       4,
				FinalizeAttempts: 2,
				Warnings: []warnings.Tracked{
					{
						Warning:           compiler.Warning{Code: "missing_param", NodeName: "Fetch"},
						IterationOccurred: 1,
						IterationResolved: &resolved,
					},
				},
				Error:      "iteration ceiling reached after 4 iterations",
				DurationMs: 45000,
			},
		}

		rec, err := NewRecord(view)
		require.NoError(t, err)

		assert.Equal(t, "sess_01", rec.ID)
		assert.Equal(t, "repair the ETL workflow", rec.Instruction)
		assert.Equal(t, "flows/etl.json", rec.Path)
		assert.Equal(t, agent.StateFailed, rec.State)
		assert.Equal(t, `{"name":"etl"}`, rec.WorkflowSource)
		assert.Equal(t, 4, rec.Iterations)
		assert.Equal(t, 2, rec.FinalizeAttempts)
		require.Len(t, rec.Warnings, 1)
		assert.Equal(t, "missing_param", rec.Warnings[0].Warning.Code)
		assert.Equal(t, view.Metrics, rec.Metrics)
		assert.False(t, rec.Cancelled)
		assert.Contains(t, rec.Error, "iteration ceiling")
		assert.Equal(t, created, rec.CreatedAt)
		assert.Equal(t, completed, rec.CompletedAt)
		assert.Equal(t, int64(45000), rec.DurationMs)
		assert.False(t, rec.Succeeded())
	})

	t.Run("rejects an active session", func(t *testing.T) {
		view := agent.SessionView{ID: "sess_02", State: agent.StateInvokingModel}
		_, err := NewRecord(view)
		assert.ErrorIs(t, err, ErrSessionActive)
	})
}

func TestBadgerStore_PutGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	completed := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)

	rec := sampleRecord("sess_roundtrip", completed)
	require.NoError(t, store.Put(ctx, rec))

	got, err := store.Get(ctx, "sess_roundtrip")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.True(t, got.Succeeded())
}

func TestBadgerStore_PutValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.Put(ctx, nil)
	assert.ErrorIs(t, err, ErrNilRecord)

	err = store.Put(ctx, &SessionRecord{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "id must not be empty")
}

func TestBadgerStore_GetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "no-such-session")
	assert.ErrorIs(t, err, ErrRecordNotFound)
	assert.Contains(t, err.Error(), "no-such-session")

	_, err = store.Get(context.Background(), "")
	assert.Error(t, err)
}

func TestBadgerStore_Overwrite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	completed := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)

	rec := sampleRecord("sess_ow", completed)
	require.NoError(t, store.Put(ctx, rec))

	rec2 := sampleRecord("sess_ow", completed.Add(time.Minute))
	rec2.Iterations = 5
	require.NoError(t, store.Put(ctx, rec2))

	got, err := store.Get(ctx, "sess_ow")
	require.NoError(t, err)
	assert.Equal(t, 5, got.Iterations)

	records, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestBadgerStore_ListNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)

	// Insert out of order to prove List sorts by completion time.
	for _, i := range []int{1, 3, 0, 2} {
		rec := sampleRecord(fmt.Sprintf("sess_%d", i), base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.Put(ctx, rec))
	}

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 4)

	for i, want := range []string{"sess_3", "sess_2", "sess_1", "sess_0"} {
		assert.Equal(t, want, records[i].ID)
	}
}

func TestBadgerStore_ListEmpty(t *testing.T) {
	store := newTestStore(t)

	records, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestBadgerStore_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	completed := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.Put(ctx, sampleRecord("sess_del", completed)))
	require.NoError(t, store.Delete(ctx, "sess_del"))

	_, err := store.Get(ctx, "sess_del")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	err = store.Delete(ctx, "sess_del")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestBadgerStore_Prune(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		rec := sampleRecord(fmt.Sprintf("sess_%d", i), base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.Put(ctx, rec))
	}

	deleted, err := store.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "sess_4", records[0].ID)
	assert.Equal(t, "sess_3", records[1].ID)

	// Nothing beyond the retention count, nothing deleted.
	deleted, err = store.Prune(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	_, err = store.Prune(ctx, -1)
	assert.Error(t, err)
}

func TestBadgerStore_Closed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Close())
	require.NoError(t, store.Close()) // second close is a no-op

	err := store.Put(ctx, sampleRecord("sess_x", time.Now()))
	assert.ErrorIs(t, err, ErrStoreClosed)

	_, err = store.Get(ctx, "sess_x")
	assert.ErrorIs(t, err, ErrStoreClosed)

	_, err = store.List(ctx)
	assert.ErrorIs(t, err, ErrStoreClosed)

	err = store.Delete(ctx, "sess_x")
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestBadgerStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	completed := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)

	store, err := NewBadgerStore(StoreConfig{Path: dir})
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, sampleRecord("sess_persist", completed)))
	require.NoError(t, store.Close())

	store2, err := NewBadgerStore(StoreConfig{Path: dir})
	require.NoError(t, err)
	defer store2.Close()

	got, err := store2.Get(ctx, "sess_persist")
	require.NoError(t, err)
	assert.Equal(t, "sess_persist", got.ID)
	assert.Equal(t, completed, got.CompletedAt.UTC())
}

func TestBadgerStore_ContextCancelled(t *testing.T) {
	store := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Put(ctx, sampleRecord("sess_ctx", time.Now()))
	assert.Error(t, err)
}
