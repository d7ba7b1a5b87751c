// Package dispatch routes inbound predict requests across the live worker
// pool, measures per-request latency and hands the samples to the monitor
// reporter.
package dispatch

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/inferscale/inferscale/internal/logging"
	"github.com/inferscale/inferscale/internal/membership"
)

// LatencyReporter receives the wall-clock latency, in seconds, of each
// successfully dispatched request. Implementations must not block.
type LatencyReporter interface {
	Enqueue(latency float64) bool
}

// DispatcherConfig carries the forwarding knobs.
type DispatcherConfig struct {
	// WorkerPath is the path of the worker predict operation.
	WorkerPath string
	// Timeout bounds one full forward round trip, body included.
	Timeout time.Duration
}

// Dispatcher forwards each inbound request to one live worker. A failed
// backend call removes the chosen endpoint from the pool immediately,
// ahead of the next discovery event; the request is never retried here.
type Dispatcher struct {
	pool     *membership.Pool
	picker   Picker
	reporter LatencyReporter
	client   *http.Client
	path     string
}

// NewDispatcher creates a dispatcher over pool, validating dependencies
// and applying defaults for unset config fields.
func NewDispatcher(pool *membership.Pool, picker Picker, reporter LatencyReporter, config *DispatcherConfig) (*Dispatcher, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool cannot be nil")
	}
	if picker == nil {
		return nil, fmt.Errorf("picker cannot be nil")
	}
	if reporter == nil {
		return nil, fmt.Errorf("reporter cannot be nil")
	}
	if config == nil {
		config = &DispatcherConfig{}
	}
	path := config.WorkerPath
	if path == "" {
		path = "/predict"
	}
	if path[0] != '/' {
		return nil, fmt.Errorf("worker path must start with /, got %q", path)
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		pool:     pool,
		picker:   picker,
		reporter: reporter,
		client:   &http.Client{Timeout: timeout},
		path:     path,
	}, nil
}

// Register mounts the dispatch surface on r.
func (d *Dispatcher) Register(r chi.Router) {
	r.Post("/", d.handleDispatch)
	r.Get("/healthz", handleHealthz)
}

func (d *Dispatcher) handleDispatch(w http.ResponseWriter, r *http.Request) {
	logger := ctrl.LoggerFrom(r.Context())

	endpoints := d.pool.Snapshot()
	if len(endpoints) == 0 {
		writeError(w, http.StatusServiceUnavailable, "no backend available")
		return
	}
	endpoint := d.picker.Pick(endpoints)

	start := time.Now()
	status, contentType, body, err := d.forward(r, endpoint)
	if err != nil {
		d.pool.Remove(endpoint)
		logger.Error(err, "Removed worker after failed dispatch", "endpoint", endpoint)
		writeError(w, http.StatusInternalServerError, "backend request failed")
		return
	}
	latency := time.Since(start).Seconds()

	d.reporter.Enqueue(latency)
	logger.V(logging.TRACE).Info("Dispatched request", "endpoint", endpoint, "latency", latency)

	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// forward relays the inbound payload to the worker's predict operation
// and buffers the full response so latency covers the whole exchange.
// Timeouts, connection errors and non-2xx worker statuses are all
// backend failures.
func (d *Dispatcher) forward(r *http.Request, endpoint membership.Endpoint) (int, string, []byte, error) {
	url := "http://" + string(endpoint) + d.path
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, url, r.Body)
	if err != nil {
		return 0, "", nil, fmt.Errorf("building worker request: %w", err)
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		req.Header.Set("Content-Type", ct)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", nil, fmt.Errorf("calling worker: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", nil, fmt.Errorf("reading worker response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, "", nil, fmt.Errorf("worker returned %s", resp.Status)
	}
	return resp.StatusCode, resp.Header.Get("Content-Type"), body, nil
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// writeError emits the dispatch error envelope.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":  message,
		"status": status,
	})
}
