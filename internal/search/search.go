package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/lailoo/vibe-blog/internal/logging"
	"github.com/lailoo/vibe-blog/internal/metrics"
)

var ErrNotConfigured = errors.New("web search not configured")

// Result is one web search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
	Media   string `json:"media,omitempty"`
}

// Searcher is what callers need from a search backend.
type Searcher interface {
	Search(ctx context.Context, query string, count int) ([]Result, error)
}

// Client calls the Z.AI web_search endpoint.
type Client struct {
	apiKey  string
	baseURL string
	http    *retryablehttp.Client
}

func New(apiKey, baseURL string, logger *zap.SugaredLogger) *Client {
	hc := retryablehttp.NewClient()
	hc.RetryMax = 3
	hc.RetryWaitMin = 500 * time.Millisecond
	hc.RetryWaitMax = 5 * time.Second
	hc.HTTPClient.Timeout = 30 * time.Second
	hc.Logger = logging.Leveled{S: logger}
	return &Client{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

func (c *Client) Configured() bool { return c != nil && c.apiKey != "" }

type searchRequest struct {
	SearchEngine string `json:"search_engine"`
	SearchQuery  string `json:"search_query"`
	Count        int    `json:"count"`
}

type searchResponse struct {
	SearchResult []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Content string `json:"content"`
		Media   string `json:"media"`
	} `json:"search_result"`
}

func (c *Client) Search(ctx context.Context, query string, count int) ([]Result, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	results, err := c.search(ctx, query, count)
	metrics.RecordProviderCall("zai_search", err)
	return results, err
}

func (c *Client) search(ctx context.Context, query string, count int) ([]Result, error) {
	if count <= 0 {
		count = 5
	}
	body, err := json.Marshal(searchRequest{SearchEngine: "search-std", SearchQuery: query, Count: count})
	if err != nil {
		return nil, err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/web_search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("web search: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	results := make([]Result, 0, len(out.SearchResult))
	for _, r := range out.SearchResult {
		results = append(results, Result{Title: r.Title, URL: r.Link, Content: r.Content, Media: r.Media})
	}
	return results, nil
}
