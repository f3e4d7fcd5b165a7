// Package domainapi fetches the latest per-domain snapshots from the
// backend REST services.
package domainapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kalambet/aide/internal/gather"
)

// DefaultTimeout bounds a single domain fetch.
const DefaultTimeout = 4 * time.Second

// maxPayload caps how much of a domain response is read.
const maxPayload = 1 << 20

// Client implements gather.Fetcher over HTTP: GET {base}/{domain}/latest.
type Client struct {
	baseURL    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
}

func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

var _ gather.Fetcher = (*Client)(nil)

// FetchLatest returns the raw JSON body for d. Non-2xx responses and bodies
// that are not valid JSON are errors.
func (c *Client) FetchLatest(ctx context.Context, d gather.Domain) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + "/" + url.PathEscape(string(d)) + "/latest"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", d, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", d, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetching %s: unexpected status %d", d, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayload+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", d, err)
	}
	if len(body) > maxPayload {
		return nil, fmt.Errorf("%s payload exceeds %d bytes", d, maxPayload)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%s payload is not valid JSON", d)
	}
	return json.RawMessage(body), nil
}
