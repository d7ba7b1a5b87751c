// Package scaler closes the control loop: it polls the monitor's latency
// aggregate and the deployment's replica count, derives a scaling decision
// and patches the desired replicas.
package scaler

import (
	"fmt"
	"math"
	"time"
)

// Policy bounds the replica control law.
type Policy struct {
	// LatencyThreshold is the p99 above which the pool grows.
	LatencyThreshold time.Duration
	// MinReplicas and MaxReplicas clamp every applied target.
	MinReplicas int32
	MaxReplicas int32
	// ScaleUpFactor multiplies the current count on breach, ceil-rounded.
	ScaleUpFactor float64
	// ScaleDownStep is subtracted from the current count when under threshold.
	ScaleDownStep int32
}

// Validate checks the policy is usable as a control law.
func (p Policy) Validate() error {
	if p.LatencyThreshold <= 0 {
		return fmt.Errorf("latency threshold must be positive, got %v", p.LatencyThreshold)
	}
	if p.MinReplicas < 1 {
		return fmt.Errorf("min replicas must be at least 1, got %d", p.MinReplicas)
	}
	if p.MaxReplicas < p.MinReplicas {
		return fmt.Errorf("max replicas must be at least min replicas, got %d < %d", p.MaxReplicas, p.MinReplicas)
	}
	if p.ScaleUpFactor <= 1 {
		return fmt.Errorf("scale-up factor must be greater than 1, got %v", p.ScaleUpFactor)
	}
	if p.ScaleDownStep < 1 {
		return fmt.Errorf("scale-down step must be at least 1, got %d", p.ScaleDownStep)
	}
	return nil
}

// Decision is one cycle's output. Target is meaningful only when Apply
// is set; on a hold it echoes Current.
type Decision struct {
	Current int32
	Target  int32
	Reason  string
	Apply   bool
}

const (
	reasonAboveThreshold  = "p99 above threshold"
	reasonNoHeadroom      = "p99 above threshold but no replica headroom"
	reasonWithinThreshold = "p99 within threshold"
	reasonAtMinimum       = "already at minimum replicas"
)

// Decide derives the next replica count from the latest p99 (seconds) and
// the current count. The law is memoryless and asymmetric: multiplicative
// increase on breach, fixed-step decrease under threshold, no cooldown or
// hysteresis, so it can oscillate around the threshold.
func Decide(current int32, p99 float64, pol Policy) Decision {
	if p99 > pol.LatencyThreshold.Seconds() {
		target := clamp(int32(math.Ceil(float64(current)*pol.ScaleUpFactor)), pol.MinReplicas, pol.MaxReplicas)
		if target > current {
			return Decision{Current: current, Target: target, Apply: true, Reason: reasonAboveThreshold}
		}
		return Decision{Current: current, Target: current, Reason: reasonNoHeadroom}
	}
	if current > pol.MinReplicas {
		target := clamp(current-pol.ScaleDownStep, pol.MinReplicas, pol.MaxReplicas)
		return Decision{Current: current, Target: target, Apply: true, Reason: reasonWithinThreshold}
	}
	return Decision{Current: current, Target: current, Reason: reasonAtMinimum}
}

func clamp(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
