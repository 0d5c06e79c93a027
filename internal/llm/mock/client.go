// Package mock provides a scriptable models.LLMClient for tests.
package mock

import (
	"context"

	"github.com/sciforge/discoveryd/pkg/models"
)

// MockClient satisfies models.LLMClient for testing.
type MockClient struct {
	Name_        string
	CompleteFunc func(ctx context.Context, apiKey string, req models.CompletionRequest) (string, error)

	// Calls records every request, in order.
	Calls []models.CompletionRequest
}

func (m *MockClient) Name() string {
	if m.Name_ == "" {
		return "mock"
	}
	return m.Name_
}

func (m *MockClient) Complete(ctx context.Context, apiKey string, req models.CompletionRequest) (string, error) {
	m.Calls = append(m.Calls, req)
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, apiKey, req)
	}
	return "", nil
}

// NewFailingClient returns a MockClient that always returns the given error.
func NewFailingClient(err error) *MockClient {
	return &MockClient{
		Name_: "mock-failing",
		CompleteFunc: func(_ context.Context, _ string, _ models.CompletionRequest) (string, error) {
			return "", err
		},
	}
}

// NewScriptedClient returns a MockClient that replays responses in order,
// repeating the last one once the script runs out.
func NewScriptedClient(responses ...string) *MockClient {
	i := 0
	return &MockClient{
		Name_: "mock",
		CompleteFunc: func(_ context.Context, _ string, _ models.CompletionRequest) (string, error) {
			resp := responses[i]
			if i < len(responses)-1 {
				i++
			}
			return resp, nil
		},
	}
}

// Compile-time check that MockClient implements LLMClient.
var _ models.LLMClient = (*MockClient)(nil)
