// The monitor hosts the rolling latency aggregate: dispatchers push
// samples into /record, the autoscaler steers by /stats, and /metrics
// exposes the pass-through observability instruments.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/inferscale/inferscale/internal/config"
	"github.com/inferscale/inferscale/internal/logging"
	"github.com/inferscale/inferscale/internal/metrics"
	"github.com/inferscale/inferscale/internal/monitor"
	"github.com/inferscale/inferscale/internal/stats"
)

const shutdownGrace = 10 * time.Second

var setupLog = ctrl.Log.WithName("setup")

func main() {
	fs := pflag.NewFlagSet("monitor", pflag.ExitOnError)
	config.RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(cfg.LogLevel, cfg.ZapDevel)

	if err := run(cfg); err != nil {
		setupLog.Error(err, "Monitor exited")
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logger := ctrl.Log.WithName("monitor")

	registry := prometheus.NewRegistry()
	collectors := metrics.NewCollectors()
	if err := collectors.Register(registry); err != nil {
		return err
	}

	aggregator, err := stats.NewAggregator(cfg.WindowCapacity, collectors.RequestLatency)
	if err != nil {
		return err
	}
	server, err := monitor.NewServer(aggregator, metrics.Handler(registry))
	if err != nil {
		return err
	}

	router := chi.NewRouter()
	server.Register(router)

	baseCtx := ctrl.LoggerInto(context.Background(), logger)
	srv := &http.Server{
		Addr:              cfg.MonitorAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	ctx := ctrl.LoggerInto(ctrl.SetupSignalHandler(), logger)
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("Starting monitor", "addr", cfg.MonitorAddr, "windowCapacity", cfg.WindowCapacity)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down monitor")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	group.Go(func() error {
		if err := metrics.RunCPUSampler(ctx, collectors.CPUUsage, cfg.CPUSampleInterval); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	return group.Wait()
}
