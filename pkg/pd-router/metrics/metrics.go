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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Label names
	LabelPath       = "path"
	LabelStatusCode = "status_code"
	LabelErrorType  = "error_type"
	LabelPolicy     = "policy"
	LabelPool       = "pool"

	// Error type values
	ErrorTypeNoAvailableWorker = "no_available_worker"
	ErrorTypeRateLimited       = "rate_limited"
	ErrorTypeUpstream          = "upstream"
	ErrorTypeNone              = ""
)

// Metrics holds the router's Prometheus instruments.
type Metrics struct {
	RequestsTotal     prometheus.CounterVec
	RequestDuration   prometheus.HistogramVec
	SelectionDuration prometheus.HistogramVec

	WindowedRate    prometheus.Gauge
	SustainedEvents prometheus.Counter

	NoAvailableWorker prometheus.CounterVec
	ActiveRequests    prometheus.Gauge
}

// NewMetrics registers and returns the router metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsTotal: *promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pd_router_requests_total",
				Help: "Total number of requests processed by the router",
			},
			[]string{LabelPath, LabelStatusCode, LabelErrorType},
		),

		RequestDuration: *promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pd_router_request_duration_seconds",
				Help:    "End-to-end request latency distribution",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{LabelPath, LabelStatusCode},
		),

		SelectionDuration: *promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pd_router_selection_duration_seconds",
				Help:    "Worker selection latency distribution per policy",
				Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1},
			},
			[]string{LabelPolicy, LabelPool},
		),

		WindowedRate: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pd_router_windowed_request_rate",
				Help: "Requests observed in the trailing rate-monitor window",
			},
		),

		SustainedEvents: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pd_router_sustained_overload_events_total",
				Help: "Number of sustained-overload detections fired",
			},
		),

		NoAvailableWorker: *promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pd_router_no_available_worker_total",
				Help: "Requests rejected because a pool had no available worker",
			},
			[]string{LabelPool},
		),

		ActiveRequests: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pd_router_active_requests",
				Help: "Requests currently being proxied",
			},
		),
	}
}
