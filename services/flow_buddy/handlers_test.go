// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package flow_buddy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFlow/services/compiler"
	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/agent"
	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/gateway"
	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/prompt"
	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/storage"
	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/tools"
	"github.com/AleutianAI/AleutianFlow/services/llm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// cleanCompiler accepts everything: every document parses and validates
// with no findings, so scripted turns decide the session outcome.
type cleanCompiler struct{}

func (cleanCompiler) Parse(source string) (*compiler.Workflow, error) {
	return &compiler.Workflow{Name: "test"}, nil
}
func (cleanCompiler) ValidateStructure(*compiler.Workflow) compiler.Report {
	return compiler.Report{}
}
func (cleanCompiler) ValidateArtifact(*compiler.Workflow) compiler.Report {
	return compiler.Report{}
}

func newTestRouter(t *testing.T, client llm.Client, opts ...HandlerOption) (*gin.Engine, *Handlers) {
	t.Helper()

	prompts, err := prompt.NewBuilder()
	require.NoError(t, err)
	loop := agent.NewLoop(client, gateway.New(cleanCompiler{}, nil), tools.NewRegistry(), prompts)
	require.NotNil(t, loop)

	handlers := NewHandlers(loop, opts...)
	require.NotNil(t, handlers)

	router := gin.New()
	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)
	return router, handlers
}

// scriptedClient returns a mock whose session creates a document and
// validates it clean: two turns, then done.
func scriptedClient() *llm.MockClient {
	return llm.NewMockClient().
		QueueTurn(&llm.TurnResult{ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: "create", Arguments: `{"path":"workflow.json","text":"{}"}`},
		}}).
		QueueTurn(&llm.TurnResult{ToolCalls: []llm.ToolCall{
			{ID: "v1", Name: "validate", Arguments: `{"path":"workflow.json"}`},
		}})
}

func postBuild(t *testing.T, router *gin.Engine, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/flowbuddy/build", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// waitTerminal polls the session resource until it reports a terminal
// state or the deadline passes.
func waitTerminal(t *testing.T, router *gin.Engine, id string) agent.SessionView {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		req := httptest.NewRequest(http.MethodGet, "/v1/flowbuddy/sessions/"+id, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var view agent.SessionView
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
		if view.State.IsTerminal() {
			return view
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session %s never reached a terminal state", id)
	return agent.SessionView{}
}

func TestHandleBuild_AcceptsAndCompletes(t *testing.T) {
	router, _ := newTestRouter(t, scriptedClient())

	w := postBuild(t, router, agent.BuildRequest{Instruction: "fetch and post"})
	require.Equal(t, http.StatusAccepted, w.Code)

	var accepted BuildAcceptedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
	assert.NotEmpty(t, accepted.SessionID)
	assert.Contains(t, accepted.EventsPath, accepted.SessionID)

	view := waitTerminal(t, router, accepted.SessionID)
	assert.Equal(t, agent.StateDone, view.State)
	assert.Equal(t, "{}", view.Workflow)
	require.NotNil(t, view.Result)
	assert.True(t, view.Result.Succeeded())
}

func TestHandleBuild_RejectsInvalidBody(t *testing.T) {
	router, _ := newTestRouter(t, llm.NewMockClient())

	req := httptest.NewRequest(http.MethodPost, "/v1/flowbuddy/build", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "INVALID_REQUEST", resp.Code)
}

func TestHandleBuild_RejectsEmptyInstruction(t *testing.T) {
	router, _ := newTestRouter(t, llm.NewMockClient())

	w := postBuild(t, router, agent.BuildRequest{})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "EMPTY_INSTRUCTION", resp.Code)
}

func TestHandleBuild_RejectsBadConfig(t *testing.T) {
	router, _ := newTestRouter(t, llm.NewMockClient())

	w := postBuild(t, router, agent.BuildRequest{
		Instruction: "build it",
		Config:      &agent.SessionConfig{MaxIterations: -1},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "INVALID_CONFIG", resp.Code)
}

func TestHandleBuild_PersistsTerminalRecord(t *testing.T) {
	store, err := storage.NewBadgerStore(storage.StoreConfig{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	router, _ := newTestRouter(t, scriptedClient(), WithRecordStore(store))

	w := postBuild(t, router, agent.BuildRequest{Instruction: "fetch and post"})
	require.Equal(t, http.StatusAccepted, w.Code)
	var accepted BuildAcceptedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
	waitTerminal(t, router, accepted.SessionID)

	// Persistence happens after Run returns; give the goroutine a beat.
	var rec *storage.SessionRecord
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, err = store.Get(context.Background(), accepted.SessionID)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	assert.True(t, rec.Succeeded())
	assert.Equal(t, "{}", rec.WorkflowSource)
}

func TestHandleGetSession_NotFound(t *testing.T) {
	router, _ := newTestRouter(t, llm.NewMockClient())

	req := httptest.NewRequest(http.MethodGet, "/v1/flowbuddy/sessions/missing", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "SESSION_NOT_FOUND", resp.Code)
}

func TestHandleListSessions(t *testing.T) {
	router, _ := newTestRouter(t, scriptedClient())

	w := postBuild(t, router, agent.BuildRequest{Instruction: "fetch and post"})
	require.Equal(t, http.StatusAccepted, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/flowbuddy/sessions", nil)
	lw := httptest.NewRecorder()
	router.ServeHTTP(lw, req)

	require.Equal(t, http.StatusOK, lw.Code)
	var list SessionListResponse
	require.NoError(t, json.Unmarshal(lw.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)
}

func TestHandleCancel(t *testing.T) {
	t.Run("unknown session", func(t *testing.T) {
		router, _ := newTestRouter(t, llm.NewMockClient())

		req := httptest.NewRequest(http.MethodPost, "/v1/flowbuddy/sessions/missing/cancel", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("terminated session is a no-op", func(t *testing.T) {
		router, _ := newTestRouter(t, scriptedClient())

		w := postBuild(t, router, agent.BuildRequest{Instruction: "fetch and post"})
		require.Equal(t, http.StatusAccepted, w.Code)
		var accepted BuildAcceptedResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
		waitTerminal(t, router, accepted.SessionID)

		req := httptest.NewRequest(http.MethodPost,
			fmt.Sprintf("/v1/flowbuddy/sessions/%s/cancel", accepted.SessionID), nil)
		cw := httptest.NewRecorder()
		router.ServeHTTP(cw, req)

		require.Equal(t, http.StatusOK, cw.Code)
		var resp CancelResponse
		require.NoError(t, json.Unmarshal(cw.Body.Bytes(), &resp))
		assert.Equal(t, agent.StateDone.String(), resp.State)
	})
}

func TestGetOrCreateRequestID(t *testing.T) {
	router := gin.New()
	router.GET("/ping", func(c *gin.Context) {
		id := getOrCreateRequestID(c)
		c.String(http.StatusOK, id)
	})

	t.Run("echoes supplied id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("X-Request-ID", "req-42")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, "req-42", w.Body.String())
		assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
	})

	t.Run("mints when absent", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.NotEmpty(t, w.Body.String())
	})
}
