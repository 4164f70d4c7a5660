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
	"fmt"
	"sync"
)

// MockClient is a scripted Client for tests. Queue turns and errors in
// the order the code under test should receive them.
//
// Thread Safety: safe for concurrent use.
type MockClient struct {
	mu       sync.Mutex
	queue    []mockTurn
	requests []*TurnRequest
	calls    int
}

type mockTurn struct {
	result *TurnResult
	err    error
}

// NewMockClient returns an empty mock. An unscripted call fails.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// QueueTurn appends a successful turn. Chainable.
func (m *MockClient) QueueTurn(result *TurnResult) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockTurn{result: result})
	return m
}

// QueueError appends a failing turn. Chainable.
func (m *MockClient) QueueError(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockTurn{err: err})
	return m
}

// ChatWithTools implements Client by replaying the queue.
func (m *MockClient) ChatWithTools(ctx context.Context, req *TurnRequest, opts ...Option) (*TurnResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	m.calls++
	if len(m.queue) == 0 {
		return nil, fmt.Errorf("mock client exhausted after %d calls", m.calls)
	}
	next := m.queue[0]
	m.queue = m.queue[1:]
	if next.err != nil {
		return nil, next.err
	}
	return next.result, nil
}

// Calls reports how many turns were requested.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests returns the recorded requests in order.
func (m *MockClient) Requests() []*TurnRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*TurnRequest, len(m.requests))
	copy(out, m.requests)
	return out
}
