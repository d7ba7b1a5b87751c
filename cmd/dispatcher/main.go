// The dispatcher is the farm's HTTP frontend. It tracks worker membership
// from pod watch events, forwards each predict request to one live worker
// and streams latency samples to the monitor.
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
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/inferscale/inferscale/internal/config"
	"github.com/inferscale/inferscale/internal/dispatch"
	"github.com/inferscale/inferscale/internal/k8sclient"
	"github.com/inferscale/inferscale/internal/logging"
	"github.com/inferscale/inferscale/internal/membership"
	"github.com/inferscale/inferscale/internal/report"
)

const shutdownGrace = 10 * time.Second

var setupLog = ctrl.Log.WithName("setup")

func main() {
	fs := pflag.NewFlagSet("dispatcher", pflag.ExitOnError)
	config.RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(cfg.LogLevel, cfg.ZapDevel)

	if err := run(cfg); err != nil {
		setupLog.Error(err, "Dispatcher exited")
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logger := ctrl.Log.WithName("dispatcher")

	client, err := k8sclient.New()
	if err != nil {
		return err
	}

	pool := membership.NewPool()
	tracker, err := membership.NewTracker(client, pool, &membership.TrackerConfig{
		Namespace:     cfg.Namespace,
		LabelSelector: cfg.PodLabelSelector,
		WorkerPort:    cfg.WorkerPort,
		WatchTimeout:  cfg.WatchTimeout,
		Backoff:       cfg.WatchBackoff,
	})
	if err != nil {
		return err
	}

	reportClient, err := report.NewClient(cfg.MonitorURL, cfg.ReportTimeout)
	if err != nil {
		return err
	}
	reporter, err := report.NewReporter(reportClient, cfg.ReportQueueSize)
	if err != nil {
		return err
	}

	dispatcher, err := dispatch.NewDispatcher(pool, dispatch.RandomPicker{}, reporter, &dispatch.DispatcherConfig{
		WorkerPath: cfg.WorkerPath,
		Timeout:    cfg.DispatchTimeout,
	})
	if err != nil {
		return err
	}

	router := chi.NewRouter()
	dispatcher.Register(router)

	baseCtx := ctrl.LoggerInto(context.Background(), logger)
	srv := &http.Server{
		Addr:              cfg.DispatcherAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	ctx := ctrl.LoggerInto(ctrl.SetupSignalHandler(), logger)
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("Starting dispatcher",
			"addr", cfg.DispatcherAddr, "workerPath", cfg.WorkerPath, "monitorURL", cfg.MonitorURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down dispatcher")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	group.Go(func() error {
		if err := tracker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		if err := reporter.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	return group.Wait()
}
