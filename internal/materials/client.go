// Package materials queries the Materials Project v3 API.
package materials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/sciforge/discoveryd/internal/guard"
	"github.com/sciforge/discoveryd/pkg/models"
)

// Sentinel errors for Materials Project client failures.
var (
	ErrUnreachable = errors.New("materials project unreachable")
	ErrBadResponse = errors.New("materials project returned an unexpected response")
)

// Client is the interface for querying the materials database.
type Client interface {
	SearchFormula(ctx context.Context, apiKey, formula string) ([]models.Material, error)
}

// HTTPClient implements Client using the Materials Project HTTP API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a new Materials Project HTTP client.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

type summaryResponse struct {
	Data []models.Material `json:"data"`
}

// SearchFormula returns the known materials matching a chemical formula,
// with the summary fields the hypothesis tester cares about.
func (c *HTTPClient) SearchFormula(ctx context.Context, apiKey, formula string) ([]models.Material, error) {
	params := url.Values{
		"formula": {formula},
		"_fields": {"material_id,formula_pretty,band_gap,formation_energy_per_atom,energy_above_hull,is_stable"},
	}

	u := fmt.Sprintf("%s/materials/summary/?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, guard.NonRetryable(fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("X-API-KEY", apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, guard.RateLimited(fmt.Errorf("materials project rate limited: status %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return nil, guard.Transient(fmt.Errorf("materials project server error: status %d", resp.StatusCode))
	default:
		return nil, guard.NonRetryable(fmt.Errorf("%w: status %d", ErrBadResponse, resp.StatusCode))
	}

	var summary summaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return nil, guard.Transient(fmt.Errorf("%w: decoding body: %v", ErrBadResponse, err))
	}

	return summary.Data, nil
}

func classifyError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return guard.Transient(fmt.Errorf("%w: timeout: %v", ErrUnreachable, err))
	}
	return guard.Transient(fmt.Errorf("%w: %v", ErrUnreachable, err))
}
