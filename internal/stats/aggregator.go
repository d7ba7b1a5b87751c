/*
Copyright 2025 The inferscale Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package stats maintains the rolling latency window and digests it into
// the quantile summary the autoscaler steers by.
package stats

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var errInvalidSample = errors.New("latency sample must be a finite non-negative number")

// Summary is a point-in-time digest of the rolling latency window, all
// latencies in seconds. An empty window digests to the zero Summary.
type Summary struct {
	P50   float64
	P90   float64
	P99   float64
	Mean  float64
	Count int
}

// Observer receives every accepted sample. The monitor attaches its
// request-latency histogram here; a nil observer disables the pass-through.
type Observer interface {
	Observe(float64)
}

// Aggregator accepts latency samples into a bounded window and computes
// summaries over point-in-time snapshots, so recording never blocks on a
// reader and vice versa.
type Aggregator struct {
	window   *Window
	observer Observer
}

// NewAggregator creates an aggregator over a window of the given capacity.
// observer may be nil.
func NewAggregator(capacity int, observer Observer) (*Aggregator, error) {
	window, err := NewWindow(capacity)
	if err != nil {
		return nil, err
	}
	return &Aggregator{window: window, observer: observer}, nil
}

// Record appends one latency sample in seconds. Negative and non-finite
// samples are rejected and never reach the window or the observer.
func (a *Aggregator) Record(sample float64) error {
	if sample < 0 || math.IsNaN(sample) || math.IsInf(sample, 0) {
		return fmt.Errorf("%w: got %v", errInvalidSample, sample)
	}
	a.window.Append(sample)
	if a.observer != nil {
		a.observer.Observe(sample)
	}
	return nil
}

// Len returns the number of samples currently windowed.
func (a *Aggregator) Len() int {
	return a.window.Len()
}

// Stats digests the current window. Quantiles interpolate linearly between
// closest ranks; with no samples yet every field reads as zero.
func (a *Aggregator) Stats() Summary {
	samples := a.window.Snapshot()
	if len(samples) == 0 {
		return Summary{}
	}
	sort.Float64s(samples)
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return Summary{
		P50:   percentile(samples, 50),
		P90:   percentile(samples, 90),
		P99:   percentile(samples, 99),
		Mean:  sum / float64(len(samples)),
		Count: len(samples),
	}
}

// percentile returns the p-th percentile (0..100) of an ascending-sorted,
// non-empty slice, interpolating linearly between the two closest ranks.
func percentile(sorted []float64, p float64) float64 {
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}
