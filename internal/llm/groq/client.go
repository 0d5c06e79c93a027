// Package groq implements models.LLMClient against Groq's OpenAI-compatible
// chat completions API.
package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/sciforge/discoveryd/internal/config"
	"github.com/sciforge/discoveryd/internal/guard"
	"github.com/sciforge/discoveryd/pkg/models"
)

// Client implements models.LLMClient using Groq.
type Client struct {
	cfg    config.GroqConfig
	client *http.Client
}

func NewClient(cfg config.GroqConfig) *Client {
	return &Client{cfg: cfg, client: &http.Client{}}
}

func (c *Client) Name() string { return "groq" }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) Complete(ctx context.Context, apiKey string, req models.CompletionRequest) (string, error) {
	var messages []chatMessage
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", guard.NonRetryable(fmt.Errorf("groq: encoding request: %w", err))
	}

	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", guard.NonRetryable(fmt.Errorf("groq: building request: %w", err))
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(resp.StatusCode)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", guard.Transient(fmt.Errorf("groq: decoding response: %w", err))
	}
	if len(chatResp.Choices) == 0 {
		return "", guard.Transient(errors.New("groq: response contained no choices"))
	}

	return chatResp.Choices[0].Message.Content, nil
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return guard.RateLimited(fmt.Errorf("groq: rate limited: status %d", status))
	case status >= 500:
		return guard.Transient(fmt.Errorf("groq: server error: status %d", status))
	default:
		return guard.NonRetryable(fmt.Errorf("groq: rejected: status %d", status))
	}
}

func classifyError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return guard.Transient(fmt.Errorf("groq: timeout: %w", err))
	}
	return guard.Transient(fmt.Errorf("groq: request failed: %w", err))
}

var _ models.LLMClient = (*Client)(nil)
