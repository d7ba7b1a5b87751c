// Package config assembles the immutable runtime configuration for the
// inferscale binaries from defaults, an optional config file, INFERSCALE_*
// environment variables and command-line flags, in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Defaults suit a single image-classifier farm on a small cluster.
const (
	DefaultDeploymentName    = "image-classifier"
	DefaultNamespace         = "default"
	DefaultPodLabelSelector  = "app=image-classifier"
	DefaultWorkerPort        = 5000
	DefaultWorkerPath        = "/predict"
	DefaultDispatcherAddr    = ":8080"
	DefaultMonitorAddr       = ":9000"
	DefaultMonitorURL        = "http://monitor:9000"
	DefaultLatencyThreshold  = 330 * time.Millisecond
	DefaultMinReplicas       = 1
	DefaultMaxReplicas       = 8
	DefaultPollInterval      = 10 * time.Second
	DefaultScaleUpFactor     = 1.2
	DefaultScaleDownStep     = 1
	DefaultWindowCapacity    = 1000
	DefaultDispatchTimeout   = 10 * time.Second
	DefaultReportTimeout     = 1 * time.Second
	DefaultReportQueueSize   = 256
	DefaultWatchTimeout      = 60 * time.Second
	DefaultWatchBackoff      = 5 * time.Second
	DefaultCPUSampleInterval = 1 * time.Second
	DefaultStatsTimeout      = 10 * time.Second
)

const envPrefix = "INFERSCALE"

// Config holds every knob of the control plane. It is built once in main and
// passed explicitly to the components that need it; nothing mutates it after
// Load returns.
type Config struct {
	// DeploymentName is the Deployment whose replica count is under control.
	DeploymentName string
	// Namespace is the namespace holding the deployment and its pods.
	Namespace string
	// PodLabelSelector selects the worker pods to watch for membership.
	PodLabelSelector string

	// WorkerPort is the port the inference workers listen on.
	WorkerPort int
	// WorkerPath is the predict path on each worker.
	WorkerPath string

	// DispatcherAddr is the dispatcher HTTP listen address.
	DispatcherAddr string
	// MonitorAddr is the monitor HTTP listen address.
	MonitorAddr string
	// MonitorURL is the monitor base URL as seen by its clients
	// (dispatcher latency reports, autoscaler stats polls).
	MonitorURL string

	// LatencyThreshold is the p99 latency above which capacity is added.
	LatencyThreshold time.Duration
	// MinReplicas is the floor for the desired replica count.
	MinReplicas int32
	// MaxReplicas is the ceiling for the desired replica count.
	MaxReplicas int32
	// PollInterval is the pause between autoscaler control cycles.
	PollInterval time.Duration
	// ScaleUpFactor is the multiplicative growth applied on a breach.
	ScaleUpFactor float64
	// ScaleDownStep is the subtractive shrink applied when latency is healthy.
	ScaleDownStep int32

	// WindowCapacity bounds the rolling latency window.
	WindowCapacity int

	// DispatchTimeout bounds a single forwarded worker call.
	DispatchTimeout time.Duration
	// ReportTimeout bounds a single latency report to the monitor.
	ReportTimeout time.Duration
	// ReportQueueSize bounds the queue of pending latency reports.
	ReportQueueSize int

	// WatchTimeout is the server-side timeout requested for pod watches.
	WatchTimeout time.Duration
	// WatchBackoff is the pause before re-establishing a failed watch.
	WatchBackoff time.Duration

	// CPUSampleInterval is the cadence of the CPU utilization gauge.
	CPUSampleInterval time.Duration
	// StatsTimeout bounds a single stats poll against the monitor.
	StatsTimeout time.Duration

	// LogLevel is the logr verbosity (0=info, 1=debug, 2=trace).
	LogLevel int
	// ZapDevel switches the logger to the development console encoder.
	ZapDevel bool

	// ScalePolicyFile optionally points at a YAML file overriding the
	// scaling policy fields above (typically mounted from a ConfigMap).
	ScalePolicyFile string
}

// RegisterFlags defines every configuration flag on the given flag set.
// Flag names double as viper keys and, upper-snake-cased with the
// INFERSCALE_ prefix, as environment variable names.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to an optional YAML config file.")
	fs.String("deployment-name", DefaultDeploymentName, "Deployment whose replica count is controlled.")
	fs.String("namespace", DefaultNamespace, "Namespace of the deployment and its worker pods.")
	fs.String("pod-label-selector", DefaultPodLabelSelector, "Label selector for the worker pods.")
	fs.Int("worker-port", DefaultWorkerPort, "Port the inference workers listen on.")
	fs.String("worker-path", DefaultWorkerPath, "Predict path on each worker.")
	fs.String("dispatcher-addr", DefaultDispatcherAddr, "Dispatcher HTTP listen address.")
	fs.String("monitor-addr", DefaultMonitorAddr, "Monitor HTTP listen address.")
	fs.String("monitor-url", DefaultMonitorURL, "Monitor base URL for reports and stats polls.")
	fs.Duration("latency-threshold", DefaultLatencyThreshold, "p99 latency above which capacity is added.")
	fs.Int32("min-replicas", DefaultMinReplicas, "Floor for the desired replica count.")
	fs.Int32("max-replicas", DefaultMaxReplicas, "Ceiling for the desired replica count.")
	fs.Duration("poll-interval", DefaultPollInterval, "Pause between autoscaler control cycles.")
	fs.Float64("scale-up-factor", DefaultScaleUpFactor, "Multiplicative growth applied on a latency breach.")
	fs.Int32("scale-down-step", DefaultScaleDownStep, "Subtractive shrink applied when latency is healthy.")
	fs.Int("window-capacity", DefaultWindowCapacity, "Size of the rolling latency window.")
	fs.Duration("dispatch-timeout", DefaultDispatchTimeout, "Timeout for a single forwarded worker call.")
	fs.Duration("report-timeout", DefaultReportTimeout, "Timeout for a single latency report.")
	fs.Int("report-queue-size", DefaultReportQueueSize, "Capacity of the pending latency report queue.")
	fs.Duration("watch-timeout", DefaultWatchTimeout, "Server-side timeout requested for pod watches.")
	fs.Duration("watch-backoff", DefaultWatchBackoff, "Pause before re-establishing a failed watch.")
	fs.Duration("cpu-sample-interval", DefaultCPUSampleInterval, "Cadence of the CPU utilization gauge.")
	fs.Duration("stats-timeout", DefaultStatsTimeout, "Timeout for a single stats poll.")
	fs.Int("log-level", 0, "Log verbosity (0=info, 1=debug, 2=trace).")
	fs.Bool("zap-devel", false, "Use the zap development console encoder.")
	fs.String("scale-policy-file", "", "Path to an optional YAML scaling policy override.")
}

// Load assembles the configuration from the flag set. Precedence, lowest to
// highest: built-in defaults, the --config file if given, INFERSCALE_*
// environment variables, explicit flags.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", file, err)
		}
	}

	cfg := &Config{
		DeploymentName:    v.GetString("deployment-name"),
		Namespace:         v.GetString("namespace"),
		PodLabelSelector:  v.GetString("pod-label-selector"),
		WorkerPort:        v.GetInt("worker-port"),
		WorkerPath:        v.GetString("worker-path"),
		DispatcherAddr:    v.GetString("dispatcher-addr"),
		MonitorAddr:       v.GetString("monitor-addr"),
		MonitorURL:        v.GetString("monitor-url"),
		LatencyThreshold:  v.GetDuration("latency-threshold"),
		MinReplicas:       v.GetInt32("min-replicas"),
		MaxReplicas:       v.GetInt32("max-replicas"),
		PollInterval:      v.GetDuration("poll-interval"),
		ScaleUpFactor:     v.GetFloat64("scale-up-factor"),
		ScaleDownStep:     v.GetInt32("scale-down-step"),
		WindowCapacity:    v.GetInt("window-capacity"),
		DispatchTimeout:   v.GetDuration("dispatch-timeout"),
		ReportTimeout:     v.GetDuration("report-timeout"),
		ReportQueueSize:   v.GetInt("report-queue-size"),
		WatchTimeout:      v.GetDuration("watch-timeout"),
		WatchBackoff:      v.GetDuration("watch-backoff"),
		CPUSampleInterval: v.GetDuration("cpu-sample-interval"),
		StatsTimeout:      v.GetDuration("stats-timeout"),
		LogLevel:          v.GetInt("log-level"),
		ZapDevel:          v.GetBool("zap-devel"),
		ScalePolicyFile:   v.GetString("scale-policy-file"),
	}

	if cfg.ScalePolicyFile != "" {
		policy, err := LoadScalePolicy(cfg.ScalePolicyFile)
		if err != nil {
			return nil, fmt.Errorf("loading scale policy %s: %w", cfg.ScalePolicyFile, err)
		}
		policy.ApplyTo(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks for invalid configuration values.
func (c *Config) Validate() error {
	if c.DeploymentName == "" {
		return fmt.Errorf("deployment-name cannot be empty")
	}
	if c.Namespace == "" {
		return fmt.Errorf("namespace cannot be empty")
	}
	if c.PodLabelSelector == "" {
		return fmt.Errorf("pod-label-selector cannot be empty")
	}
	if c.WorkerPort < 1 || c.WorkerPort > 65535 {
		return fmt.Errorf("worker-port must be between 1 and 65535, got %d", c.WorkerPort)
	}
	if !strings.HasPrefix(c.WorkerPath, "/") {
		return fmt.Errorf("worker-path must start with /, got %q", c.WorkerPath)
	}
	if c.MonitorURL == "" {
		return fmt.Errorf("monitor-url cannot be empty")
	}
	if c.LatencyThreshold <= 0 {
		return fmt.Errorf("latency-threshold must be positive, got %v", c.LatencyThreshold)
	}
	if c.MinReplicas < 1 {
		return fmt.Errorf("min-replicas must be at least 1, got %d", c.MinReplicas)
	}
	if c.MaxReplicas < c.MinReplicas {
		return fmt.Errorf("max-replicas (%d) must be >= min-replicas (%d)", c.MaxReplicas, c.MinReplicas)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll-interval must be positive, got %v", c.PollInterval)
	}
	if c.ScaleUpFactor <= 1 {
		return fmt.Errorf("scale-up-factor must be greater than 1, got %.2f", c.ScaleUpFactor)
	}
	if c.ScaleDownStep < 1 {
		return fmt.Errorf("scale-down-step must be at least 1, got %d", c.ScaleDownStep)
	}
	if c.WindowCapacity < 1 {
		return fmt.Errorf("window-capacity must be at least 1, got %d", c.WindowCapacity)
	}
	if c.DispatchTimeout <= 0 {
		return fmt.Errorf("dispatch-timeout must be positive, got %v", c.DispatchTimeout)
	}
	if c.ReportTimeout <= 0 {
		return fmt.Errorf("report-timeout must be positive, got %v", c.ReportTimeout)
	}
	if c.ReportQueueSize < 1 {
		return fmt.Errorf("report-queue-size must be at least 1, got %d", c.ReportQueueSize)
	}
	if c.WatchTimeout <= 0 {
		return fmt.Errorf("watch-timeout must be positive, got %v", c.WatchTimeout)
	}
	if c.WatchBackoff <= 0 {
		return fmt.Errorf("watch-backoff must be positive, got %v", c.WatchBackoff)
	}
	if c.CPUSampleInterval <= 0 {
		return fmt.Errorf("cpu-sample-interval must be positive, got %v", c.CPUSampleInterval)
	}
	if c.StatsTimeout <= 0 {
		return fmt.Errorf("stats-timeout must be positive, got %v", c.StatsTimeout)
	}
	return nil
}
