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

// Package metrics scrapes a worker's own Prometheus exposition page and
// feeds the queue-depth gauges that load-sensitive policies consult.
package metrics

import (
	"fmt"
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"k8s.io/klog/v2"
)

// Gauge names exposed by vLLM-compatible serving engines.
var (
	RequestWaitingNum = "vllm:num_requests_waiting"
	RequestRunningNum = "vllm:num_requests_running"
	GPUCacheUsage     = "vllm:gpu_cache_usage_perc"
)

// ParseMetricsURL fetches and parses a Prometheus text exposition page.
func ParseMetricsURL(url string) (map[string]*dto.MetricFamily, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch metrics from %s: %v", url, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			klog.Errorf("failed to close response body: %v", err)
		}
	}()

	var parser expfmt.TextParser
	allMetrics, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error parsing metric families: %v", err)
	}
	return allMetrics, nil
}

// QueueDepth extracts the running/waiting request gauges from a parsed
// exposition page; absent families read as zero.
func QueueDepth(allMetrics map[string]*dto.MetricFamily) (running, waiting float64) {
	return gaugeValue(allMetrics, RequestRunningNum), gaugeValue(allMetrics, RequestWaitingNum)
}

func gaugeValue(allMetrics map[string]*dto.MetricFamily, name string) float64 {
	family, exist := allMetrics[name]
	if !exist {
		return 0
	}
	var value float64
	for _, metric := range family.Metric {
		value = metric.GetGauge().GetValue()
	}
	return value
}

// KVCacheUsage extracts the GPU KV cache utilization gauge in [0, 1];
// absent reads as zero.
func KVCacheUsage(allMetrics map[string]*dto.MetricFamily) float64 {
	return gaugeValue(allMetrics, GPUCacheUsage)
}

// LastPeriodAvg derives the mean observation between two histogram
// snapshots of the same family.
func LastPeriodAvg(previous, current *dto.Histogram) float64 {
	deltaSum := current.GetSampleSum() - previous.GetSampleSum()
	deltaCount := current.GetSampleCount() - previous.GetSampleCount()

	if deltaCount == 0 {
		return 0
	}
	return deltaSum / float64(deltaCount)
}
