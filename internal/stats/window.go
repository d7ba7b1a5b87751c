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

package stats

import (
	"fmt"
	"sync"
)

// Window is a fixed-capacity FIFO of latency samples in seconds. Appending
// beyond capacity evicts the oldest sample in O(1). Safe for concurrent
// writers and readers.
type Window struct {
	mu    sync.Mutex
	buf   []float64
	head  int // index of the oldest sample
	count int
}

// NewWindow creates a window bounding at most capacity samples.
func NewWindow(capacity int) (*Window, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("capacity must be at least 1, got %d", capacity)
	}
	return &Window{buf: make([]float64, capacity)}, nil
}

// Append adds v, evicting the oldest sample when the window is full.
func (w *Window) Append(v float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.count < len(w.buf) {
		w.buf[(w.head+w.count)%len(w.buf)] = v
		w.count++
		return
	}
	w.buf[w.head] = v
	w.head = (w.head + 1) % len(w.buf)
}

// Snapshot returns the samples oldest-first as a fresh slice.
func (w *Window) Snapshot() []float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]float64, w.count)
	for i := range out {
		out[i] = w.buf[(w.head+i)%len(w.buf)]
	}
	return out
}

// Len returns the number of buffered samples.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}
