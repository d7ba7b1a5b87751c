package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/inferscale/inferscale/internal/logging"
)

// ScalePolicy is the optional scaling-policy override read from a YAML file,
// typically mounted from a ConfigMap. Unset fields keep the value already in
// the Config; durations are written as strings (e.g. "330ms", "10s").
type ScalePolicy struct {
	// LatencyThreshold overrides the p99 breach threshold.
	LatencyThreshold string `yaml:"latencyThreshold,omitempty"`

	// MinReplicas overrides the replica floor.
	MinReplicas int32 `yaml:"minReplicas,omitempty"`

	// MaxReplicas overrides the replica ceiling.
	MaxReplicas int32 `yaml:"maxReplicas,omitempty"`

	// PollInterval overrides the control cycle cadence.
	PollInterval string `yaml:"pollInterval,omitempty"`

	// ScaleUpFactor overrides the multiplicative growth factor.
	ScaleUpFactor float64 `yaml:"scaleUpFactor,omitempty"`

	// ScaleDownStep overrides the subtractive shrink step.
	ScaleDownStep int32 `yaml:"scaleDownStep,omitempty"`
}

// Validate checks the fields that carry their own syntax. Range checks run
// later, on the merged Config.
func (p *ScalePolicy) Validate() error {
	if p.LatencyThreshold != "" {
		if _, err := time.ParseDuration(p.LatencyThreshold); err != nil {
			return fmt.Errorf("invalid latencyThreshold: %w", err)
		}
	}
	if p.PollInterval != "" {
		if _, err := time.ParseDuration(p.PollInterval); err != nil {
			return fmt.Errorf("invalid pollInterval: %w", err)
		}
	}
	return nil
}

// LoadScalePolicy reads and parses a scaling policy override file.
func LoadScalePolicy(path string) (*ScalePolicy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScalePolicy(raw)
}

// ParseScalePolicy parses and validates a scaling policy document.
func ParseScalePolicy(raw []byte) (*ScalePolicy, error) {
	var policy ScalePolicy
	if err := yaml.Unmarshal(raw, &policy); err != nil {
		return nil, fmt.Errorf("parsing scale policy: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &policy, nil
}

// ApplyTo merges the policy into cfg: set fields override, unset fields keep
// the existing value.
func (p *ScalePolicy) ApplyTo(cfg *Config) {
	if p.LatencyThreshold != "" {
		if d, err := time.ParseDuration(p.LatencyThreshold); err == nil {
			cfg.LatencyThreshold = d
		}
	}
	if p.MinReplicas != 0 {
		cfg.MinReplicas = p.MinReplicas
	}
	if p.MaxReplicas != 0 {
		cfg.MaxReplicas = p.MaxReplicas
	}
	if p.PollInterval != "" {
		if d, err := time.ParseDuration(p.PollInterval); err == nil {
			cfg.PollInterval = d
		}
	}
	if p.ScaleUpFactor != 0 {
		cfg.ScaleUpFactor = p.ScaleUpFactor
	}
	if p.ScaleDownStep != 0 {
		cfg.ScaleDownStep = p.ScaleDownStep
	}

	ctrl.Log.V(logging.DEBUG).Info("Applied scaling policy override",
		"latencyThreshold", cfg.LatencyThreshold,
		"minReplicas", cfg.MinReplicas,
		"maxReplicas", cfg.MaxReplicas,
		"pollInterval", cfg.PollInterval,
		"scaleUpFactor", cfg.ScaleUpFactor,
		"scaleDownStep", cfg.ScaleDownStep)
}
