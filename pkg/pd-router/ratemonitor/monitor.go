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

// Package ratemonitor counts accepted requests over a sliding window of
// per-second slots and runs the sustained-overload detector that gates
// worker-lifecycle actions.
package ratemonitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/deque"
	"k8s.io/klog/v2"

	"github.com/inferflow/pd-router/pkg/pd-router/common"
	"github.com/inferflow/pd-router/pkg/pd-router/datastore"
)

// sampleHistorySize bounds the recent-rate ring served by the debug
// endpoint: two minutes at one sample per second.
const sampleHistorySize = 120

type Config struct {
	// WindowSecs is the sliding-window length W. Must be at least 1.
	WindowSecs int64 `json:"windowSecs,omitempty"`
	// Threshold is the windowed request count at or above which the fleet
	// counts as overloaded.
	Threshold int `json:"threshold,omitempty"`
	// SustainedSecs is how many consecutive seconds the rate must hold at
	// or above Threshold before the detector fires.
	SustainedSecs int64 `json:"sustainedSecs,omitempty"`
}

// Sample is one rate observation from the background loop.
type Sample struct {
	Unix int64 `json:"unix"`
	Rate int   `json:"rate"`
}

// Monitor is a lock-free sliding-window request counter. Slot i holds the
// count for the wall-clock second s where s mod W == i, together with the
// second it was last reset for. A slot whose stored second is not within
// the trailing window is logically zero; it is lazily reset by the next
// writer that lands on it, which is what makes reuse across window
// wraparound correct.
//
// Counter and timestamp are independently atomic. A reader racing a
// reset-then-increment may observe a momentarily zeroed slot; that is a
// bounded undercount, not a correctness violation.
type Monitor struct {
	cfg Config

	slots  []atomic.Uint64
	stamps []atomic.Uint64

	// onSustained receives the healthy-worker snapshot each time the
	// sustained-threshold condition fires. The monitor only detects and
	// reports; lifecycle actions belong to the collaborator behind this
	// hook.
	onSustained func(rate int, healthy []datastore.Worker)

	// consecutive over-threshold ticks observed by the background loop;
	// only the loop goroutine touches it.
	overTicks int64

	samplesMu sync.Mutex
	samples   deque.Deque[Sample]

	nowFn func() int64
}

func New(cfg Config) (*Monitor, error) {
	if cfg.WindowSecs < 1 {
		return nil, &common.InvalidConfigurationError{Reason: "rate monitor window must be at least 1 second"}
	}
	if cfg.SustainedSecs < 1 {
		cfg.SustainedSecs = 1
	}
	return &Monitor{
		cfg:    cfg,
		slots:  make([]atomic.Uint64, cfg.WindowSecs),
		stamps: make([]atomic.Uint64, cfg.WindowSecs),
		nowFn:  func() int64 { return time.Now().Unix() },
	}, nil
}

// SetSustainedHook registers the collaborator notified on each sustained
// overload. Must be called before Start.
func (m *Monitor) SetSustainedHook(hook func(rate int, healthy []datastore.Worker)) {
	m.onSustained = hook
}

// Record counts one accepted request and returns the windowed rate
// immediately after the increment. Call it on every accepted request.
func (m *Monitor) Record() int {
	now := m.nowFn()
	idx := now % m.cfg.WindowSecs

	// Lazy reset: the slot last served a different second, whether the
	// previous wrap of the window or an idle gap.
	if m.stamps[idx].Load() != uint64(now) {
		m.slots[idx].Store(0)
		m.stamps[idx].Store(uint64(now))
	}
	m.slots[idx].Add(1)

	return m.CurrentRate(now)
}

// CurrentRate sums the slots whose stored second falls inside the trailing
// window ending at now. Safe to call from any goroutine; it never blocks
// writers.
func (m *Monitor) CurrentRate(now int64) int {
	total := 0
	for i := range m.slots {
		ts := int64(m.stamps[i].Load())
		if ts > 0 && now-ts < m.cfg.WindowSecs && now-ts >= 0 {
			total += int(m.slots[i].Load())
		}
	}
	return total
}

// Start runs the sustained-overload loop until ctx is cancelled: once per
// second it samples the windowed rate, and after the rate has held at or
// above the threshold for SustainedSecs consecutive ticks it fires the
// sustained hook exactly once and re-arms. Any tick below the threshold
// restarts the sustained timer from scratch.
func (m *Monitor) Start(ctx context.Context, registry *datastore.Registry) {
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				klog.Info("rate monitor stopped")
				return
			case <-ticker.C:
				m.tick(registry)
			}
		}
	}()
}

func (m *Monitor) tick(registry *datastore.Registry) {
	now := m.nowFn()
	rate := m.CurrentRate(now)
	klog.V(4).Infof("rate monitor tick: rate=%d window=%ds", rate, m.cfg.WindowSecs)
	m.pushSample(Sample{Unix: now, Rate: rate})

	if fired := m.observe(rate); fired {
		healthy := make([]datastore.Worker, 0)
		for _, w := range registry.List() {
			if w.IsHealthy() {
				healthy = append(healthy, w)
			}
		}
		klog.Infof("rate threshold sustained: rate=%d threshold=%d, reporting %d healthy workers",
			rate, m.cfg.Threshold, len(healthy))
		for _, w := range healthy {
			klog.Infof("sustained overload candidate: %s", w.URL())
		}
		if m.onSustained != nil {
			m.onSustained(rate, healthy)
		}
	}
}

// observe advances the sustained-detection state by one tick and reports
// whether this tick fired. Exactly one fire per qualifying excursion: the
// consecutive counter resets both on firing and on any sub-threshold tick.
func (m *Monitor) observe(rate int) bool {
	if rate < m.cfg.Threshold {
		m.overTicks = 0
		return false
	}
	m.overTicks++
	if m.overTicks >= m.cfg.SustainedSecs {
		m.overTicks = 0
		return true
	}
	return false
}

func (m *Monitor) pushSample(s Sample) {
	m.samplesMu.Lock()
	defer m.samplesMu.Unlock()
	m.samples.PushBack(s)
	for m.samples.Len() > sampleHistorySize {
		m.samples.PopFront()
	}
}

// RecentSamples returns the rate observations collected by the background
// loop, oldest first.
func (m *Monitor) RecentSamples() []Sample {
	m.samplesMu.Lock()
	defer m.samplesMu.Unlock()
	out := make([]Sample, 0, m.samples.Len())
	for i := 0; i < m.samples.Len(); i++ {
		out = append(out, m.samples.At(i))
	}
	return out
}
