package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mkovacs/salespanel/internal/extract"
	"github.com/mkovacs/salespanel/internal/quota"
)

// Request is the analysis call payload. The two advisory flags let the
// backend decide credit cost without a second round trip.
type Request struct {
	Extracted           *extract.Content `json:"extracted"`
	IsInternal          bool             `json:"isInternal"`
	DomainAnalyzedToday bool             `json:"domainAnalyzedToday"`
}

// Response carries the analysis, the post-call quota snapshot, or a blocked
// signal when the daily limit is spent.
type Response struct {
	Analysis *Result         `json:"analysis"`
	Quota    *quota.Snapshot `json:"quota"`
	Blocked  bool            `json:"blocked"`
}

// Client calls the remote analysis endpoint.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a Client against baseURL. A nil httpClient falls back
// to a dedicated client with a generous timeout (analysis is slow).
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
	}
}

// Analyze submits extracted content and returns the normalized response.
func (c *Client) Analyze(ctx context.Context, token string, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding analysis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building analysis request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling analysis endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("analysis endpoint returned %d", resp.StatusCode)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding analysis response: %w", err)
	}

	if out.Analysis != nil {
		Normalize(out.Analysis)
	}
	return &out, nil
}
