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

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
)

const expositionPage = `# HELP vllm:num_requests_running Number of requests currently running.
# TYPE vllm:num_requests_running gauge
vllm:num_requests_running 3
# HELP vllm:num_requests_waiting Number of requests waiting.
# TYPE vllm:num_requests_waiting gauge
vllm:num_requests_waiting 7
# HELP vllm:gpu_cache_usage_perc GPU KV-cache usage.
# TYPE vllm:gpu_cache_usage_perc gauge
vllm:gpu_cache_usage_perc 0.25
`

func TestParseMetricsURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(expositionPage))
	}))
	defer server.Close()

	allMetrics, err := ParseMetricsURL(server.URL)
	require.NoError(t, err)

	running, waiting := QueueDepth(allMetrics)
	assert.Equal(t, 3.0, running)
	assert.Equal(t, 7.0, waiting)
	assert.Equal(t, 0.25, KVCacheUsage(allMetrics))
}

func TestQueueDepthMissingFamilies(t *testing.T) {
	running, waiting := QueueDepth(nil)
	assert.Zero(t, running)
	assert.Zero(t, waiting)
}

func TestParseMetricsURLUnreachable(t *testing.T) {
	_, err := ParseMetricsURL("http://127.0.0.1:1/metrics")
	require.Error(t, err)
}

func TestLastPeriodAvg(t *testing.T) {
	previous := &dto.Histogram{
		SampleSum:   proto.Float64(10),
		SampleCount: proto.Uint64(4),
	}
	current := &dto.Histogram{
		SampleSum:   proto.Float64(22),
		SampleCount: proto.Uint64(8),
	}

	assert.Equal(t, 3.0, LastPeriodAvg(previous, current))
	assert.Zero(t, LastPeriodAvg(previous, previous))
}
