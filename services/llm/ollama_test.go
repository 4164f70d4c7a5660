// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOllamaClient(t *testing.T, handler http.HandlerFunc) *OllamaClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewOllamaClient(OllamaConfig{BaseURL: server.URL, Model: "test-model"})
	require.NoError(t, err)
	return client
}

func TestOllamaChatWithTools(t *testing.T) {
	var captured ollamaChatRequest
	client := newTestOllamaClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Model: "test-model",
			Message: ollamaMessage{
				Role: "assistant",
				ToolCalls: []ollamaToolCall{
					{Function: ollamaFunctionCall{Name: "view", Arguments: json.RawMessage(`{"start":1}`)}},
					{Function: ollamaFunctionCall{Name: "validate", Arguments: json.RawMessage(`{}`)}},
				},
			},
			Done:            true,
			DoneReason:      "stop",
			PromptEvalCount: 50,
			EvalCount:       10,
		})
	})

	result, err := client.ChatWithTools(context.Background(), &TurnRequest{
		Messages: []Message{{Role: RoleUser, Content: "check the document"}},
		Tools:    []ToolSpec{{Name: "view", Parameters: []byte(`{"type":"object"}`)}},
	})
	require.NoError(t, err)

	assert.False(t, captured.Stream)
	require.Len(t, captured.Tools, 1)
	assert.Equal(t, "function", captured.Tools[0].Type)
	assert.Equal(t, "view", captured.Tools[0].Function.Name)
	assert.EqualValues(t, 8192, captured.Options["num_predict"])

	assert.Equal(t, "stop", result.FinishReason)
	assert.Equal(t, 50, result.InputTokens)
	assert.Equal(t, 10, result.OutputTokens)
	require.Len(t, result.ToolCalls, 2)
	assert.Equal(t, "view", result.ToolCalls[0].Name)
	assert.JSONEq(t, `{"start":1}`, result.ToolCalls[0].Arguments)
	assert.NotEmpty(t, result.ToolCalls[0].ID)
	assert.NotEmpty(t, result.ToolCalls[1].ID)
	assert.NotEqual(t, result.ToolCalls[0].ID, result.ToolCalls[1].ID)
}

func TestOllamaModelNotFoundHint(t *testing.T) {
	client := newTestOllamaClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model 'test-model' not found"}`))
	})

	_, err := client.ChatWithTools(context.Background(), &TurnRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ollama pull test-model")
}

func TestOllamaServerErrorIsUnavailable(t *testing.T) {
	client := newTestOllamaClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.ChatWithTools(context.Background(), &TurnRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	assert.True(t, errors.Is(err, ErrUnavailable), "err = %v", err)
}

func TestOllamaEmptyMessage(t *testing.T) {
	client := newTestOllamaClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaChatResponse{Model: "test-model", Done: true})
	})

	_, err := client.ChatWithTools(context.Background(), &TurnRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	assert.True(t, errors.Is(err, ErrEmptyResponse), "err = %v", err)
}

func TestNewOllamaClientRequiresModel(t *testing.T) {
	t.Setenv("OLLAMA_MODEL", "")
	_, err := NewOllamaClient(OllamaConfig{BaseURL: "http://localhost:11434"})
	assert.Error(t, err)
}

func TestNewOllamaClientTrimsSlash(t *testing.T) {
	client, err := NewOllamaClient(OllamaConfig{BaseURL: "http://localhost:11434/", Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:11434", client.baseURL)
}
