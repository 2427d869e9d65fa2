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

package ratemonitor

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferflow/pd-router/pkg/pd-router/common"
)

func newTestMonitor(t *testing.T, cfg Config) (*Monitor, *int64) {
	t.Helper()
	m, err := New(cfg)
	require.NoError(t, err)

	now := int64(1_000_000)
	m.nowFn = func() int64 { return now }
	return m, &now
}

func TestNewRejectsZeroWindow(t *testing.T) {
	_, err := New(Config{WindowSecs: 0})
	var invalid *common.InvalidConfigurationError
	require.True(t, errors.As(err, &invalid))
}

func TestRecordCountsWithinSecond(t *testing.T) {
	m, _ := newTestMonitor(t, Config{WindowSecs: 10})

	for i := 1; i <= 5; i++ {
		assert.Equal(t, i, m.Record())
	}
}

func TestRateSpansWindow(t *testing.T) {
	m, now := newTestMonitor(t, Config{WindowSecs: 3})

	m.Record() // second 0
	*now++
	m.Record() // second 1
	*now++
	assert.Equal(t, 3, m.Record()) // second 2, all three visible

	// Second 3: the count from second 0 ages out of the trailing window.
	*now++
	assert.Equal(t, 3, m.Record())
}

func TestRateZeroAfterWindowPasses(t *testing.T) {
	m, now := newTestMonitor(t, Config{WindowSecs: 5})

	for i := 0; i < 7; i++ {
		m.Record()
	}
	*now += 6
	assert.Equal(t, 0, m.CurrentRate(*now))
}

func TestSlotReuseAcrossWraparound(t *testing.T) {
	m, now := newTestMonitor(t, Config{WindowSecs: 2})

	m.Record()
	m.Record()

	// Same slot index two wraps later: the stale count must be discarded by
	// the lazy reset, not accumulated.
	*now += 4
	assert.Equal(t, 1, m.Record())
}

func TestRecordConcurrent(t *testing.T) {
	m, now := newTestMonitor(t, Config{WindowSecs: 4})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.Record()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 8000, m.CurrentRate(*now))
}

func TestSustainedDetection(t *testing.T) {
	tests := []struct {
		name      string
		sustained int64
		rates     []int
		wantFires int
	}{
		{
			name:      "drops one tick short",
			sustained: 3,
			rates:     []int{10, 10, 0, 10, 10, 0},
			wantFires: 0,
		},
		{
			name:      "fires exactly once per excursion",
			sustained: 3,
			rates:     []int{10, 10, 10},
			wantFires: 1,
		},
		{
			name:      "long excursion re-arms",
			sustained: 2,
			rates:     []int{10, 10, 10, 10, 10},
			wantFires: 2,
		},
		{
			name:      "dip restarts the timer",
			sustained: 3,
			rates:     []int{10, 10, 0, 10, 10, 10},
			wantFires: 1,
		},
		{
			name:      "exactly at threshold counts",
			sustained: 2,
			rates:     []int{5, 5},
			wantFires: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestMonitor(t, Config{WindowSecs: 10, Threshold: 5, SustainedSecs: tt.sustained})

			fires := 0
			for _, rate := range tt.rates {
				if m.observe(rate) {
					fires++
				}
			}
			assert.Equal(t, tt.wantFires, fires)
		})
	}
}

func TestSampleHistoryBounded(t *testing.T) {
	m, _ := newTestMonitor(t, Config{WindowSecs: 1})

	for i := 0; i < sampleHistorySize+50; i++ {
		m.pushSample(Sample{Unix: int64(i), Rate: i})
	}

	samples := m.RecentSamples()
	require.Len(t, samples, sampleHistorySize)
	assert.Equal(t, int64(50), samples[0].Unix)
	assert.Equal(t, int64(sampleHistorySize+49), samples[len(samples)-1].Unix)
}
