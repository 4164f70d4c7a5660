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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var ollamaTracer = otel.Tracer("flowbuddy.llm.ollama")

// OllamaConfig configures the local Ollama client.
type OllamaConfig struct {
	// BaseURL is the daemon address. Empty falls back to
	// OLLAMA_BASE_URL and then http://localhost:11434.
	BaseURL string

	// Model is the default model, overridable per request.
	Model string

	// MaxTokens is the default num_predict cap. Zero selects 8192.
	MaxTokens int

	// HTTPTimeout bounds each HTTP exchange. Zero selects 5 minutes;
	// local models can be slow to load on first use.
	HTTPTimeout time.Duration
}

// OllamaClient implements Client against a local Ollama daemon's
// /api/chat endpoint, non-streaming.
//
// Thread Safety: safe for concurrent use.
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
	maxTokens  int
}

// NewOllamaClient builds a client from config with env fallbacks.
func NewOllamaClient(cfg OllamaConfig) (*OllamaClient, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("OLLAMA_BASE_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:11434"
		slog.Warn("OLLAMA_BASE_URL not set, defaulting", "base_url", baseURL)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	model := cfg.Model
	if model == "" {
		model = os.Getenv("OLLAMA_MODEL")
	}
	if model == "" {
		return nil, fmt.Errorf("no model configured: set OLLAMA_MODEL or OllamaConfig.Model")
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	slog.Info("Initializing Ollama client", "base_url", baseURL, "model", model)
	return &OllamaClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		model:      model,
		maxTokens:  maxTokens,
	}, nil
}

// ===== Wire Types =====

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function ollamaFunctionCall `json:"function"`
}

type ollamaFunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type ollamaTool struct {
	Type     string             `json:"type"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

// ===== Client =====

// ChatWithTools implements Client.
func (c *OllamaClient) ChatWithTools(ctx context.Context, req *TurnRequest, opts ...Option) (*TurnResult, error) {
	callOpts := ApplyOptions(opts...)

	ctx, span := ollamaTracer.Start(ctx, "OllamaClient.ChatWithTools")
	defer span.End()

	if callOpts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, callOpts.Timeout)
		defer cancel()
	}

	chatReq := c.buildChatRequest(req, callOpts)
	span.SetAttributes(
		attribute.String("llm.model", chatReq.Model),
		attribute.Int("llm.num_messages", len(chatReq.Messages)),
		attribute.Int("llm.num_tools", len(chatReq.Tools)),
	)

	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	url := c.baseURL + "/api/chat"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	slog.Debug("Requesting model turn via Ollama", "model", chatReq.Model, "url", url)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: ollama request failed: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		err := c.describeHTTPError(resp.StatusCode, respBody, chatReq.Model)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var chatResp ollamaChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to decode chat response: %w", err)
	}
	result := turnResultFromOllama(&chatResp)
	if result.Content == "" && len(result.ToolCalls) == 0 {
		slog.Warn("Ollama returned an empty message", "model", chatResp.Model)
		return nil, ErrEmptyResponse
	}

	span.SetAttributes(
		attribute.String("llm.finish_reason", result.FinishReason),
		attribute.Int("llm.tool_calls", len(result.ToolCalls)),
	)
	return result, nil
}

// buildChatRequest converts a TurnRequest into the daemon's shape.
func (c *OllamaClient) buildChatRequest(req *TurnRequest, callOpts CallOptions) ollamaChatRequest {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	if callOpts.MaxTokens > 0 {
		maxTokens = callOpts.MaxTokens
	}
	temperature := float32(0.2)
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	if callOpts.Temperature != nil {
		temperature = *callOpts.Temperature
	}

	messages := make([]ollamaMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		om := ollamaMessage{Role: string(m.Role), Content: m.Content}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, ollamaToolCall{
				Function: ollamaFunctionCall{
					Name:      tc.Name,
					Arguments: json.RawMessage(tc.Arguments),
				},
			})
		}
		messages = append(messages, om)
	}

	tools := make([]ollamaTool, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, ollamaTool{
			Type: "function",
			Function: ollamaToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	return ollamaChatRequest{
		Model:    model,
		Messages: messages,
		Tools:    tools,
		Stream:   false,
		Options: map[string]any{
			"temperature": temperature,
			"top_k":       20,
			"top_p":       0.9,
			"num_predict": maxTokens,
		},
	}
}

// turnResultFromOllama converts the daemon response. The daemon does
// not assign call IDs, so we mint one per call to keep the response
// correlation contract intact downstream.
func turnResultFromOllama(resp *ollamaChatResponse) *TurnResult {
	result := &TurnResult{
		Content:      resp.Message.Content,
		FinishReason: resp.DoneReason,
		Model:        resp.Model,
		InputTokens:  resp.PromptEvalCount,
		OutputTokens: resp.EvalCount,
	}
	for i, tc := range resp.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        fmt.Sprintf("call_%d_%s", i, uuid.NewString()[:8]),
			Name:      tc.Function.Name,
			Arguments: string(tc.Function.Arguments),
		})
	}
	return result
}

// describeHTTPError turns a non-200 into a sentinel-wrapped error with
// an actionable hint for the common local-setup mistakes.
func (c *OllamaClient) describeHTTPError(status int, body []byte, model string) error {
	detail := strings.TrimSpace(string(body))
	if status == http.StatusNotFound && strings.Contains(detail, "not found") {
		return fmt.Errorf("model '%s' is not available. Please run: 'ollama pull %s'", model, model)
	}
	if status == http.StatusTooManyRequests {
		return fmt.Errorf("%w: ollama returned 429: %s", ErrRateLimited, detail)
	}
	if status >= 500 {
		return fmt.Errorf("%w: ollama returned %d: %s", ErrUnavailable, status, detail)
	}
	return fmt.Errorf("ollama returned %d: %s", status, detail)
}
