// Package arxiv queries the arXiv Atom API for papers. arXiv needs no API
// key, but it does throttle aggressive clients, so calls still run through
// the execution guard and report health onto the anonymous credential.
package arxiv

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sciforge/discoveryd/internal/guard"
	"github.com/sciforge/discoveryd/pkg/models"
	"github.com/sciforge/discoveryd/pkg/searchq"
)

// Sentinel errors for arXiv client failures.
var (
	ErrUnreachable = errors.New("arxiv unreachable")
	ErrBadResponse = errors.New("arxiv returned an unexpected response")
)

// Client is the interface for searching arXiv.
type Client interface {
	Search(ctx context.Context, topic string, limit int) ([]models.Paper, error)
}

// HTTPClient implements Client using arXiv's Atom HTTP API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a new arXiv HTTP client. The per-request deadline
// comes from the caller's context, not the http.Client.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

// Search returns up to limit papers matching the topic, newest first.
func (c *HTTPClient) Search(ctx context.Context, topic string, limit int) ([]models.Paper, error) {
	qb := searchq.QueryBuilder{}
	params := url.Values{
		"search_query": {qb.BuildSearchQuery(searchq.SearchParams{Topic: topic})},
		"start":        {"0"},
		"max_results":  {strconv.Itoa(limit)},
		"sortBy":       {"submittedDate"},
		"sortOrder":    {"descending"},
	}

	u := fmt.Sprintf("%s/query?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, guard.NonRetryable(fmt.Errorf("building request: %w", err))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, guard.RateLimited(fmt.Errorf("arxiv throttled: status %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return nil, guard.Transient(fmt.Errorf("arxiv server error: status %d", resp.StatusCode))
	default:
		return nil, guard.NonRetryable(fmt.Errorf("%w: status %d", ErrBadResponse, resp.StatusCode))
	}

	var feed atomFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, guard.Transient(fmt.Errorf("%w: decoding feed: %v", ErrBadResponse, err))
	}

	return feed.papers(), nil
}

func classifyError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return guard.Transient(fmt.Errorf("%w: timeout: %v", ErrUnreachable, err))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return guard.Transient(fmt.Errorf("%w: deadline exceeded", ErrUnreachable))
	}
	return guard.Transient(fmt.Errorf("%w: %v", ErrUnreachable, err))
}

// --- Atom feed parsing ---

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID         string         `xml:"id"`
	Title      string         `xml:"title"`
	Summary    string         `xml:"summary"`
	Published  string         `xml:"published"`
	Updated    string         `xml:"updated"`
	Authors    []atomAuthor   `xml:"author"`
	Categories []atomCategory `xml:"category"`
	Links      []atomLink     `xml:"link"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

type atomCategory struct {
	Term string `xml:"term,attr"`
}

type atomLink struct {
	Href  string `xml:"href,attr"`
	Title string `xml:"title,attr"`
	Rel   string `xml:"rel,attr"`
}

func (f atomFeed) papers() []models.Paper {
	papers := make([]models.Paper, 0, len(f.Entries))
	for _, e := range f.Entries {
		p := models.Paper{
			ArxivID:  arxivID(e.ID),
			Title:    collapseWhitespace(e.Title),
			Abstract: collapseWhitespace(e.Summary),
		}
		for _, a := range e.Authors {
			p.Authors = append(p.Authors, a.Name)
		}
		for _, c := range e.Categories {
			p.Categories = append(p.Categories, c.Term)
		}
		for _, l := range e.Links {
			switch {
			case l.Title == "pdf":
				p.PDFURL = l.Href
			case l.Rel == "alternate":
				p.AbstractURL = l.Href
			}
		}
		if t, err := time.Parse(time.RFC3339, e.Published); err == nil {
			p.Published = t
		}
		if t, err := time.Parse(time.RFC3339, e.Updated); err == nil {
			p.Updated = t
		}
		papers = append(papers, p)
	}
	return papers
}

// arxivID extracts "2401.01234v1" from "http://arxiv.org/abs/2401.01234v1".
func arxivID(entryID string) string {
	if i := strings.LastIndex(entryID, "/abs/"); i >= 0 {
		return entryID[i+len("/abs/"):]
	}
	return entryID
}

// collapseWhitespace folds the newline-wrapped text arXiv returns into
// single-spaced prose.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
