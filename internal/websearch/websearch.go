// Package websearch provides a minimal web lookup for questions that reach
// beyond the transcript. It queries the DuckDuckGo Instant Answer API, which
// needs no API key.
package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the DuckDuckGo Instant Answer endpoint.
const DefaultBaseURL = "https://api.duckduckgo.com/"

const defaultTimeout = 10 * time.Second

// ErrNoAnswer is returned when the API has no instant answer for the query.
var ErrNoAnswer = errors.New("websearch: no instant answer")

// Result is a condensed search outcome.
type Result struct {
	// Summary is the abstract or answer text.
	Summary string

	// Source is the URL the summary came from, if any.
	Source string
}

// Client queries the instant answer API.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a [Client].
type Option func(*Client)

// WithBaseURL overrides the API endpoint, mainly for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// instantAnswer is the subset of the API response we consume.
type instantAnswer struct {
	AbstractText string `json:"AbstractText"`
	AbstractURL  string `json:"AbstractURL"`
	Answer       string `json:"Answer"`
	Definition   string `json:"Definition"`
}

// Search returns an instant answer for the query, or [ErrNoAnswer] when the
// API has nothing useful.
func (c *Client) Search(ctx context.Context, query string) (*Result, error) {
	u := fmt.Sprintf("%s?q=%s&format=json&no_html=1&skip_disambig=1",
		c.baseURL, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("websearch: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("websearch: query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("websearch: unexpected status %d", resp.StatusCode)
	}

	var ia instantAnswer
	if err := json.NewDecoder(resp.Body).Decode(&ia); err != nil {
		return nil, fmt.Errorf("websearch: decode response: %w", err)
	}

	summary := firstNonEmpty(ia.Answer, ia.AbstractText, ia.Definition)
	if summary == "" {
		return nil, ErrNoAnswer
	}
	return &Result{Summary: summary, Source: ia.AbstractURL}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
