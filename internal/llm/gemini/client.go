// Package gemini implements models.LLMClient against the Gemini
// generateContent API.
package gemini

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

// Client implements models.LLMClient using Gemini.
type Client struct {
	cfg    config.GeminiConfig
	client *http.Client
}

func NewClient(cfg config.GeminiConfig) *Client {
	return &Client{cfg: cfg, client: &http.Client{}}
}

func (c *Client) Name() string { return "gemini" }

type generateRequest struct {
	SystemInstruction *content       `json:"systemInstruction,omitempty"`
	Contents          []content      `json:"contents"`
	GenerationConfig  generateConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (c *Client) Complete(ctx context.Context, apiKey string, req models.CompletionRequest) (string, error) {
	genReq := generateRequest{
		Contents: []content{{Parts: []part{{Text: req.Prompt}}}},
		GenerationConfig: generateConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
		},
	}
	if req.System != "" {
		genReq.SystemInstruction = &content{Parts: []part{{Text: req.System}}}
	}

	body, err := json.Marshal(genReq)
	if err != nil {
		return "", guard.NonRetryable(fmt.Errorf("gemini: encoding request: %w", err))
	}

	u := fmt.Sprintf("%s/models/%s:generateContent",
		strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", guard.NonRetryable(fmt.Errorf("gemini: building request: %w", err))
	}
	httpReq.Header.Set("x-goog-api-key", apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(resp.StatusCode)
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", guard.Transient(fmt.Errorf("gemini: decoding response: %w", err))
	}
	if len(genResp.Candidates) == 0 || len(genResp.Candidates[0].Content.Parts) == 0 {
		return "", guard.Transient(errors.New("gemini: response contained no candidates"))
	}

	return genResp.Candidates[0].Content.Parts[0].Text, nil
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return guard.RateLimited(fmt.Errorf("gemini: rate limited: status %d", status))
	case status >= 500:
		return guard.Transient(fmt.Errorf("gemini: server error: status %d", status))
	default:
		return guard.NonRetryable(fmt.Errorf("gemini: rejected: status %d", status))
	}
}

func classifyError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return guard.Transient(fmt.Errorf("gemini: timeout: %w", err))
	}
	return guard.Transient(fmt.Errorf("gemini: request failed: %w", err))
}

var _ models.LLMClient = (*Client)(nil)
