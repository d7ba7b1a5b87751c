/*
Copyright 2025 The inferscale Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package scaler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// StatsSource yields the latest aggregate p99 latency in seconds.
type StatsSource interface {
	P99(ctx context.Context) (float64, error)
}

// HTTPStatsSource polls a monitor's stats endpoint.
type HTTPStatsSource struct {
	url    string
	client *http.Client
}

var _ StatsSource = (*HTTPStatsSource)(nil)

// NewHTTPStatsSource creates a source for the monitor at baseURL, bounding
// each poll by timeout.
func NewHTTPStatsSource(baseURL string, timeout time.Duration) (*HTTPStatsSource, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("monitor URL cannot be empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPStatsSource{
		url:    strings.TrimRight(baseURL, "/") + "/stats",
		client: &http.Client{Timeout: timeout},
	}, nil
}

// P99 fetches the current aggregate and returns its p99 field.
func (s *HTTPStatsSource) P99(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, fmt.Errorf("building stats request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("polling monitor stats: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return 0, fmt.Errorf("monitor stats returned %s", resp.Status)
	}
	var payload struct {
		P99Latency float64 `json:"p99_latency"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decoding monitor stats: %w", err)
	}
	return payload.P99Latency, nil
}
