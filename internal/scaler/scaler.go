package scaler

import (
	"context"
	"fmt"
	"time"

	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/inferscale/inferscale/internal/logging"
)

// AutoscalerConfig carries the loop cadence and the control policy.
type AutoscalerConfig struct {
	PollInterval time.Duration
	Policy       Policy
}

// Autoscaler runs the decision loop. Each cycle is strictly sequential:
// poll p99, poll replicas, decide, maybe patch, sleep. Cycles never
// overlap; a failed input skips the whole cycle without mutating anything.
type Autoscaler struct {
	source   StatsSource
	replicas ReplicaClient
	policy   Policy
	interval time.Duration
}

// NewAutoscaler creates the loop, validating dependencies and the policy.
func NewAutoscaler(source StatsSource, replicas ReplicaClient, config *AutoscalerConfig) (*Autoscaler, error) {
	if source == nil {
		return nil, fmt.Errorf("stats source cannot be nil")
	}
	if replicas == nil {
		return nil, fmt.Errorf("replica client cannot be nil")
	}
	if config == nil {
		return nil, fmt.Errorf("autoscaler config cannot be nil")
	}
	if err := config.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scaling policy: %w", err)
	}
	interval := config.PollInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Autoscaler{
		source:   source,
		replicas: replicas,
		policy:   config.Policy,
		interval: interval,
	}, nil
}

// Run cycles until ctx is canceled. No cycle outcome is fatal; broken
// inputs and failed patches heal on later cycles.
func (a *Autoscaler) Run(ctx context.Context) error {
	logger := ctrl.LoggerFrom(ctx)
	logger.Info("Starting autoscaler loop",
		"interval", a.interval,
		"latencyThreshold", a.policy.LatencyThreshold,
		"minReplicas", a.policy.MinReplicas,
		"maxReplicas", a.policy.MaxReplicas)

	for {
		a.cycle(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.interval):
		}
	}
}

func (a *Autoscaler) cycle(ctx context.Context) {
	logger := ctrl.LoggerFrom(ctx)

	p99, err := a.source.P99(ctx)
	if err != nil {
		logger.Error(err, "Skipping cycle, latency statistics unavailable")
		return
	}
	current, err := a.replicas.Replicas(ctx)
	if err != nil {
		logger.Error(err, "Skipping cycle, replica count unavailable")
		return
	}

	decision := Decide(current, p99, a.policy)
	logger.V(logging.DEBUG).Info("Evaluated scaling decision",
		"p99", p99, "replicas", current, "target", decision.Target,
		"apply", decision.Apply, "reason", decision.Reason)
	if !decision.Apply {
		if decision.Reason == reasonNoHeadroom {
			logger.Info("Latency breached but no headroom gained", "p99", p99, "replicas", current)
		}
		return
	}

	logger.Info("Scaling deployment", "from", decision.Current, "to", decision.Target,
		"p99", p99, "reason", decision.Reason)
	if err := a.replicas.Scale(ctx, decision.Target); err != nil {
		logger.Error(err, "Failed to patch replica count", "target", decision.Target)
	}
}
