package report

import (
	"context"
	"fmt"
	"sync/atomic"

	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/inferscale/inferscale/internal/logging"
)

// Reporter hands latency samples to a background sender over a bounded
// queue. Enqueue never blocks the request path: when the queue is full
// the newest sample is dropped and counted.
type Reporter struct {
	client  *Client
	queue   chan float64
	dropped atomic.Uint64
}

// NewReporter creates a reporter draining into client, buffering up to
// queueSize samples.
func NewReporter(client *Client, queueSize int) (*Reporter, error) {
	if client == nil {
		return nil, fmt.Errorf("report client cannot be nil")
	}
	if queueSize < 1 {
		return nil, fmt.Errorf("report queue size must be at least 1, got %d", queueSize)
	}
	return &Reporter{
		client: client,
		queue:  make(chan float64, queueSize),
	}, nil
}

// Enqueue offers a sample to the background sender. It returns false
// when the queue was full and the sample was dropped.
func (r *Reporter) Enqueue(latency float64) bool {
	select {
	case r.queue <- latency:
		return true
	default:
		r.dropped.Add(1)
		ctrl.Log.V(logging.DEBUG).Info("Dropped latency sample on full report queue",
			"latency", latency, "dropped", r.dropped.Load())
		return false
	}
}

// Dropped reports how many samples have been dropped on a full queue.
func (r *Reporter) Dropped() uint64 {
	return r.dropped.Load()
}

// Run drains the queue until ctx is canceled. Delivery failures are
// logged and swallowed; samples still queued at shutdown are abandoned.
func (r *Reporter) Run(ctx context.Context) error {
	logger := ctrl.LoggerFrom(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case latency := <-r.queue:
			if err := r.client.Report(ctx, latency); err != nil {
				logger.V(logging.DEBUG).Info("Failed to deliver latency sample", "error", err)
			}
		}
	}
}
