// The autoscaler closes the capacity loop: it polls the monitor's p99,
// reads the deployment's replica count and patches the desired size.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/inferscale/inferscale/internal/config"
	"github.com/inferscale/inferscale/internal/k8sclient"
	"github.com/inferscale/inferscale/internal/logging"
	"github.com/inferscale/inferscale/internal/scaler"
)

var setupLog = ctrl.Log.WithName("setup")

func main() {
	fs := pflag.NewFlagSet("autoscaler", pflag.ExitOnError)
	config.RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(cfg.LogLevel, cfg.ZapDevel)

	if err := run(cfg); err != nil {
		setupLog.Error(err, "Autoscaler exited")
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	client, err := k8sclient.New()
	if err != nil {
		return err
	}
	source, err := scaler.NewHTTPStatsSource(cfg.MonitorURL, cfg.StatsTimeout)
	if err != nil {
		return err
	}
	replicas, err := scaler.NewDeploymentReplicaClient(client, cfg.Namespace, cfg.DeploymentName)
	if err != nil {
		return err
	}
	autoscaler, err := scaler.NewAutoscaler(source, replicas, &scaler.AutoscalerConfig{
		PollInterval: cfg.PollInterval,
		Policy: scaler.Policy{
			LatencyThreshold: cfg.LatencyThreshold,
			MinReplicas:      cfg.MinReplicas,
			MaxReplicas:      cfg.MaxReplicas,
			ScaleUpFactor:    cfg.ScaleUpFactor,
			ScaleDownStep:    cfg.ScaleDownStep,
		},
	})
	if err != nil {
		return err
	}

	ctx := ctrl.LoggerInto(ctrl.SetupSignalHandler(), ctrl.Log.WithName("autoscaler"))
	if err := autoscaler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
