// Package monitor exposes the latency aggregator over HTTP. Dispatchers
// push samples through /record; the autoscaler polls /stats. The metrics
// endpoint is a pass-through to the Prometheus registry.
package monitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/inferscale/inferscale/internal/logging"
	"github.com/inferscale/inferscale/internal/stats"
)

var errMissingLatency = errors.New("request body must carry a latency field")

// Server serves the record/stats surface for one aggregator.
type Server struct {
	aggregator *stats.Aggregator
	metrics    http.Handler
}

// NewServer creates a monitor server around aggregator. metricsHandler
// may be nil, in which case no /metrics route is mounted.
func NewServer(aggregator *stats.Aggregator, metricsHandler http.Handler) (*Server, error) {
	if aggregator == nil {
		return nil, fmt.Errorf("aggregator cannot be nil")
	}
	return &Server{aggregator: aggregator, metrics: metricsHandler}, nil
}

// Register mounts the monitor surface on r.
func (s *Server) Register(r chi.Router) {
	r.Post("/record", s.handleRecord)
	r.Get("/stats", s.handleStats)
	r.Get("/healthz", handleHealthz)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
}

type recordRequest struct {
	Latency *float64 `json:"latency"`
}

// statsResponse is the wire shape of the latency aggregate.
type statsResponse struct {
	P99Latency       float64 `json:"p99_latency"`
	P90Latency       float64 `json:"p90_latency"`
	P50Latency       float64 `json:"p50_latency"`
	AverageLatency   float64 `json:"average_latency"`
	MeasurementCount int     `json:"measurement_count"`
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	var payload recordRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeRecordError(w, fmt.Errorf("decoding record body: %w", err))
		return
	}
	if payload.Latency == nil {
		writeRecordError(w, errMissingLatency)
		return
	}
	if err := s.aggregator.Record(*payload.Latency); err != nil {
		writeRecordError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	summary := s.aggregator.Stats()
	ctrl.LoggerFrom(r.Context()).V(logging.DEBUG).Info("Serving latency statistics",
		"p99", summary.P99, "p90", summary.P90, "p50", summary.P50,
		"mean", summary.Mean, "count", summary.Count)

	writeJSON(w, http.StatusOK, statsResponse{
		P99Latency:       summary.P99,
		P90Latency:       summary.P90,
		P50Latency:       summary.P50,
		AverageLatency:   summary.Mean,
		MeasurementCount: summary.Count,
	})
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeRecordError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"status":  "error",
		"message": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
