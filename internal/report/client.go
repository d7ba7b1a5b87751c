// Package report delivers latency samples from the dispatcher to the
// monitor as a best-effort side channel. A bounded queue decouples the
// request path from the monitor; delivery failures are absorbed here and
// only cost aggregate precision.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client posts one latency sample per call to the monitor's record
// endpoint.
type Client struct {
	url    string
	client *http.Client
}

// NewClient creates a client for the monitor at baseURL, bounding each
// report by timeout.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("monitor URL cannot be empty")
	}
	if timeout <= 0 {
		timeout = 1 * time.Second
	}
	return &Client{
		url:    strings.TrimRight(baseURL, "/") + "/record",
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Report posts a single latency sample in seconds.
func (c *Client) Report(ctx context.Context, latency float64) error {
	body, err := json.Marshal(map[string]float64{"latency": latency})
	if err != nil {
		return fmt.Errorf("encoding latency report: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building latency report: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting latency report: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("monitor rejected latency report: %s", resp.Status)
	}
	return nil
}
