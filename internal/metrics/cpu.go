package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/cpu"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/inferscale/inferscale/internal/logging"
)

// RunCPUSampler refreshes gauge with the host's aggregate CPU utilization
// every interval until ctx is canceled. Each sample measures usage since the
// previous one, so the first tick primes the baseline. Sampling errors are
// logged and the tick skipped; the sampler itself never fails.
func RunCPUSampler(ctx context.Context, gauge prometheus.Gauge, interval time.Duration) error {
	logger := ctrl.LoggerFrom(ctx)
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			percents, err := cpu.PercentWithContext(ctx, 0, false)
			if err != nil || len(percents) == 0 {
				logger.V(logging.DEBUG).Info("Skipping CPU sample", "error", err)
				continue
			}
			gauge.Set(percents[0])
		}
	}
}
