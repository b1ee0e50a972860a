package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockClient returns scripted responses in order; for tests
type MockClient struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	UsagePer  Usage
	Requests  []*CompletionRequest
	next      int
}

// NewMockClient creates a mock that replays the given responses
func NewMockClient(responses ...string) *MockClient {
	return &MockClient{Responses: responses}
}

func (m *MockClient) GetModelName() string { return "mock-model" }

func (m *MockClient) CompleteWithRequest(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	m.Requests = append(m.Requests, req)
	if m.next >= len(m.Responses) {
		return nil, fmt.Errorf("mock client exhausted after %d responses", len(m.Responses))
	}
	content := m.Responses[m.next]
	m.next++
	return &CompletionResponse{Content: content, Usage: m.UsagePer}, nil
}

func (m *MockClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := m.CompleteWithRequest(ctx, &CompletionRequest{
		Messages: []*Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (m *MockClient) Stream(ctx context.Context, req *CompletionRequest, callback func(chunk string) error) error {
	resp, err := m.CompleteWithRequest(ctx, req)
	if err != nil {
		return err
	}
	return callback(resp.Content)
}

// Calls reports how many completions have been served
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.next
}
