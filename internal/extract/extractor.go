package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mkovacs/salespanel/internal/webdomain"
)

const (
	// extractTimeout races against the page fetch; whichever settles first
	// wins and the loser is discarded.
	extractTimeout = 15 * time.Second

	maxFetchSize = 5 << 20 // 5MB

	userAgent = "salespanel/1.0 (+https://salespanel.io)"
)

// Extractor produces analyzable content for a page URL.
type Extractor interface {
	Extract(ctx context.Context, pageURL string) (*Content, error)
}

// HTTPExtractor fetches pages over plain HTTP and parses HTML or PDF bodies.
type HTTPExtractor struct {
	client  *http.Client
	timeout time.Duration
}

// NewHTTPExtractor creates an extractor with the default timeout. A nil
// client falls back to a dedicated http.Client.
func NewHTTPExtractor(client *http.Client) *HTTPExtractor {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPExtractor{client: client, timeout: extractTimeout}
}

type fetchResult struct {
	content *Content
	err     error
}

// Extract fetches and parses pageURL. Policy outcomes (restricted URL,
// restricted response, thin content) come back as *BlockedError; transport
// failures as plain errors.
func (e *HTTPExtractor) Extract(ctx context.Context, pageURL string) (*Content, error) {
	if webdomain.IsRestricted(pageURL) {
		return nil, &BlockedError{Reason: ReasonRestricted, Details: "browser-internal or invalid URL"}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	// Single-shot settle: the timeout and the fetch race, and the late one
	// is inert. The buffered channel lets a late fetch complete and be
	// garbage collected without blocking.
	ch := make(chan fetchResult, 1)
	go func() {
		c, err := e.fetch(ctx, pageURL)
		ch <- fetchResult{content: c, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("extraction timed out for %s: %w", pageURL, ctx.Err())
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if err := checkThin(res.content); err != nil {
			return nil, err
		}
		return res.content, nil
	}
}

func (e *HTTPExtractor) fetch(ctx context.Context, pageURL string) (*Content, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf;q=0.9,*/*;q=0.8")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusProxyAuthRequired, http.StatusUnavailableForLegalReasons:
		return nil, &BlockedError{
			Reason:  ReasonRestricted,
			Details: fmt.Sprintf("server returned %d", resp.StatusCode),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetching %s: status %d", pageURL, resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, maxFetchSize)

	if isPDF(resp.Header.Get("Content-Type"), pageURL) {
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("reading pdf body: %w", err)
		}
		return parsePDF(data, pageURL)
	}

	return parseHTML(body, pageURL)
}

func isPDF(contentType, pageURL string) bool {
	if strings.Contains(strings.ToLower(contentType), "application/pdf") {
		return true
	}
	return strings.HasSuffix(strings.ToLower(strings.SplitN(pageURL, "?", 2)[0]), ".pdf")
}
