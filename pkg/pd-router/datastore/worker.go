/*
Copyright The InferFlow Authors.

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

package datastore

import (
	"math"
	"sync/atomic"
)

// WorkerRole tags which serving role a worker fills.
type WorkerRole string

const (
	// RoleRegular serves complete requests (aggregated mode).
	RoleRegular WorkerRole = "regular"
	// RolePrefill serves the prefill phase in disaggregated mode and may
	// expose a bootstrap port for KV handoff.
	RolePrefill WorkerRole = "prefill"
	// RoleDecode serves the decode phase in disaggregated mode.
	RoleDecode WorkerRole = "decode"
)

// Worker is a routable backend. Implementations must be safe for concurrent
// readers while an external health checker mutates the health flag.
type Worker interface {
	// URL is the worker's stable identity; it is the hash input for
	// consistent selection and the equality key for registration.
	URL() string
	Role() WorkerRole
	// BootstrapPort is non-nil only for prefill workers configured with a
	// KV bootstrap endpoint.
	BootstrapPort() *int

	IsHealthy() bool
	SetHealthy(healthy bool)
	// IsAvailable reports whether the worker may receive traffic: healthy
	// and not draining.
	IsAvailable() bool
	SetDraining(draining bool)

	// Load is the number of in-flight requests the router has dispatched
	// to this worker and not yet completed.
	Load() int64
	IncLoad()
	DecLoad()

	// QueueDepth returns the last scraped running/waiting request gauges
	// from the worker's own metrics endpoint, or zeros before the first
	// scrape.
	QueueDepth() (running, waiting float64)
	SetQueueDepth(running, waiting float64)
}

type worker struct {
	url           string
	role          WorkerRole
	bootstrapPort *int

	healthy  atomic.Bool
	draining atomic.Bool
	load     atomic.Int64

	// Scraped gauges, stored as float bits so readers never block writers.
	runningBits atomic.Uint64
	waitingBits atomic.Uint64
}

// NewWorker creates a worker in the healthy state. bootstrapPort may be nil;
// it is only meaningful for prefill workers.
func NewWorker(url string, role WorkerRole, bootstrapPort *int) Worker {
	w := &worker{
		url:           url,
		role:          role,
		bootstrapPort: bootstrapPort,
	}
	w.healthy.Store(true)
	return w
}

func (w *worker) URL() string      { return w.url }
func (w *worker) Role() WorkerRole { return w.role }

func (w *worker) BootstrapPort() *int { return w.bootstrapPort }

func (w *worker) IsHealthy() bool { return w.healthy.Load() }

func (w *worker) SetHealthy(healthy bool) { w.healthy.Store(healthy) }

func (w *worker) IsAvailable() bool {
	return w.healthy.Load() && !w.draining.Load()
}

func (w *worker) SetDraining(draining bool) { w.draining.Store(draining) }

func (w *worker) Load() int64 { return w.load.Load() }

func (w *worker) IncLoad() { w.load.Add(1) }

func (w *worker) DecLoad() { w.load.Add(-1) }

func (w *worker) QueueDepth() (float64, float64) {
	return math.Float64frombits(w.runningBits.Load()),
		math.Float64frombits(w.waitingBits.Load())
}

func (w *worker) SetQueueDepth(running, waiting float64) {
	w.runningBits.Store(math.Float64bits(running))
	w.waitingBits.Store(math.Float64bits(waiting))
}

// FilterAvailable returns the subset of workers that may receive traffic.
// The result is a fresh slice; callers operate on this snapshot even if the
// registry changes underneath them.
func FilterAvailable(workers []Worker) []Worker {
	available := make([]Worker, 0, len(workers))
	for _, w := range workers {
		if w.IsAvailable() {
			available = append(available, w)
		}
	}
	return available
}
