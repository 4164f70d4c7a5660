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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var openaiTracer = otel.Tracer("flowbuddy.llm.openai")

// OpenAIConfig configures the OpenAI-compatible client.
type OpenAIConfig struct {
	// APIKey is the bearer key. Empty falls back to OPENAI_API_KEY and
	// then the container secret file.
	APIKey string

	// BaseURL overrides the API endpoint for compatible providers.
	BaseURL string

	// Model is the default model, overridable per request.
	Model string

	// RequestsPerMinute paces outgoing calls. Zero selects 60.
	RequestsPerMinute int

	// MaxTokens is the default completion cap. Zero selects 8192.
	MaxTokens int

	// HTTPTimeout bounds each HTTP exchange. Zero selects 2 minutes.
	HTTPTimeout time.Duration
}

// DefaultOpenAIConfig returns the config used when nothing is set,
// resolving the model from OPENAI_MODEL.
func DefaultOpenAIConfig() OpenAIConfig {
	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
	}
	return OpenAIConfig{
		Model:             model,
		RequestsPerMinute: 60,
		MaxTokens:         8192,
		HTTPTimeout:       2 * time.Minute,
	}
}

// OpenAIClient implements Client against OpenAI-compatible chat APIs.
//
// Thread Safety: safe for concurrent use.
type OpenAIClient struct {
	client    *openai.Client
	model     string
	maxTokens int
	limiter   *rate.Limiter
}

// NewOpenAIClient builds a client from config. The API key is resolved
// through a memguard enclave; the only plaintext copy lives inside the
// HTTP client's auth header for the life of the process.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.Model == "" {
		def := DefaultOpenAIConfig()
		cfg.Model = def.Model
		slog.Warn("OPENAI_MODEL not set, defaulting", "model", cfg.Model)
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 2 * time.Minute
	}

	enclave, err := resolveAPIKey(cfg.APIKey)
	if err != nil {
		return nil, err
	}
	keyBuf, err := enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("open api key enclave: %w", err)
	}
	key := string(keyBuf.Bytes())
	keyBuf.Destroy()

	clientCfg := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.HTTPTimeout}

	slog.Info("Initializing OpenAI client",
		"model", cfg.Model,
		"base_url", cfg.BaseURL,
		"requests_per_minute", cfg.RequestsPerMinute)

	return &OpenAIClient{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 2),
	}, nil
}

// ChatWithTools implements Client.
func (c *OpenAIClient) ChatWithTools(ctx context.Context, req *TurnRequest, opts ...Option) (*TurnResult, error) {
	callOpts := ApplyOptions(opts...)

	ctx, span := openaiTracer.Start(ctx, "OpenAIClient.ChatWithTools")
	defer span.End()

	if callOpts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, callOpts.Timeout)
		defer cancel()
	}
	if err := c.limiter.Wait(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	ocReq := c.buildChatRequest(req, callOpts)
	span.SetAttributes(
		attribute.String("llm.model", ocReq.Model),
		attribute.Int("llm.num_messages", len(ocReq.Messages)),
		attribute.Int("llm.num_tools", len(ocReq.Tools)),
	)
	slog.Debug("Requesting model turn via OpenAI",
		"model", ocReq.Model,
		"messages", len(ocReq.Messages))

	resp, err := c.client.CreateChatCompletion(ctx, ocReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("OpenAI API call failed", "error", err)
		return nil, wrapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices")
		return nil, ErrEmptyResponse
	}

	result := turnResultFromResponse(&resp)
	span.SetAttributes(
		attribute.String("llm.finish_reason", result.FinishReason),
		attribute.Int("llm.tool_calls", len(result.ToolCalls)),
	)
	slog.Debug("Received model turn",
		"finish_reason", result.FinishReason,
		"tool_calls", len(result.ToolCalls))
	return result, nil
}

// buildChatRequest converts a TurnRequest into the provider's shape.
func (c *OpenAIClient) buildChatRequest(req *TurnRequest, callOpts CallOptions) openai.ChatCompletionRequest {
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

	out := openai.ChatCompletionRequest{
		Model:               model,
		Messages:            messagesToOpenAI(req.Messages),
		Tools:               toolsToOpenAI(req.Tools),
		MaxCompletionTokens: maxTokens,
	}
	if req.Temperature != nil {
		out.Temperature = *req.Temperature
	}
	if callOpts.Temperature != nil {
		out.Temperature = *callOpts.Temperature
	}
	return out
}

// messagesToOpenAI converts conversation history.
func messagesToOpenAI(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		ocm := openai.ChatCompletionMessage{Content: m.Content}
		switch m.Role {
		case RoleSystem:
			ocm.Role = openai.ChatMessageRoleSystem
		case RoleUser:
			ocm.Role = openai.ChatMessageRoleUser
		case RoleAssistant:
			ocm.Role = openai.ChatMessageRoleAssistant
			for _, tc := range m.ToolCalls {
				ocm.ToolCalls = append(ocm.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
		case RoleTool:
			ocm.Role = openai.ChatMessageRoleTool
			ocm.ToolCallID = m.ToolCallID
			ocm.Name = m.Name
		default:
			ocm.Role = openai.ChatMessageRoleUser
		}
		out = append(out, ocm)
	}
	return out
}

// toolsToOpenAI converts tool specs.
func toolsToOpenAI(specs []ToolSpec) []openai.Tool {
	if len(specs) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(specs))
	for _, s := range specs {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.Parameters,
			},
		})
	}
	return out
}

// turnResultFromResponse converts the provider response.
func turnResultFromResponse(resp *openai.ChatCompletionResponse) *TurnResult {
	choice := resp.Choices[0]
	result := &TurnResult{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	for _, tc := range choice.Message.ToolCalls {
		if tc.Type != openai.ToolTypeFunction {
			continue
		}
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return result
}

// wrapOpenAIError folds provider errors into the package sentinels.
func wrapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiErr.Code.(string); ok && code == "context_length_exceeded" {
			return fmt.Errorf("%w: %v", ErrContextLength, err)
		}
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case apiErr.HTTPStatusCode == http.StatusUnauthorized,
			apiErr.HTTPStatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrAuth, err)
		case apiErr.HTTPStatusCode >= 500:
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return fmt.Errorf("OpenAI API call failed: %w", err)
}
