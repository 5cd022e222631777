// Package scraper is the client for the external ranking-lookup worker.
// The worker performs the actual search-engine scraping; this client only
// carries the request/response contract.
package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"rank_tracker/internal/apperr"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Result is one matching post reported by the lookup worker.
type Result struct {
	BlogID      string `json:"blogId"`
	PostURL     string `json:"postUrl"`
	RankInBlock int    `json:"rankInBlock"`
	BlockName   string `json:"blockName"`
}

type lookupRequest struct {
	Keyword string `json:"keyword"`
	BlogID  string `json:"blogId,omitempty"`
	Date    string `json:"date"`
}

type lookupResponse struct {
	Success bool     `json:"success"`
	Results []Result `json:"results"`
}

// Client calls the ranking-lookup worker over HTTP.
type Client struct {
	client  HTTPClient
	url     string
	timeout time.Duration
}

// New creates a Client against the given worker URL.
func New(client HTTPClient, url string) *Client {
	return &Client{
		client:  client,
		url:     url,
		timeout: 30 * time.Second,
	}
}

// SetTimeout overrides the default per-lookup timeout.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// Lookup asks the worker for the ranking positions of one keyword on one
// date. blogID narrows the search to a single blog when non-empty. An
// unsuccessful worker reply is an error; a successful reply with no
// matches returns an empty slice.
func (c *Client) Lookup(ctx context.Context, keyword, blogID, date string) ([]Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(lookupRequest{Keyword: keyword, BlogID: blogID, Date: date})
	if err != nil {
		return nil, fmt.Errorf("encode lookup: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "RankTracker/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("lookup %q: %w", keyword, apperr.ErrTransient)
		}
		return nil, fmt.Errorf("lookup %q: %w", keyword, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lookup %q: unexpected status %d", keyword, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var out lookupResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse lookup reply: %w", err)
	}
	if !out.Success {
		return nil, fmt.Errorf("lookup %q: worker reported failure", keyword)
	}
	return out.Results, nil
}
