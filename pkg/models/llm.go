package models

import "context"

// CompletionRequest is one prompt for the language model.
type CompletionRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// LLMClient is the core interface that all language-model integrations
// implement. Callers inject this interface rather than naming a vendor.
// The API key is a per-call argument because keys rotate
// between calls.
type LLMClient interface {
	// Complete sends a prompt and returns the generated text.
	Complete(ctx context.Context, apiKey string, req CompletionRequest) (string, error)
	// Name returns the vendor identifier (e.g., "groq", "gemini").
	Name() string
}
