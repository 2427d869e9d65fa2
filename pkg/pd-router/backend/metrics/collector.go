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
	"context"
	"time"

	"k8s.io/klog/v2"

	"github.com/inferflow/pd-router/pkg/pd-router/connectors"
	"github.com/inferflow/pd-router/pkg/pd-router/datastore"
)

const defaultScrapeInterval = 5 * time.Second

// Collector periodically scrapes every registered worker's metrics page and
// stores the queue-depth gauges on the worker. Scrape failures only log;
// health is the health checker's job.
type Collector struct {
	registry *datastore.Registry
	interval time.Duration
	path     string
}

func NewCollector(registry *datastore.Registry, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = defaultScrapeInterval
	}
	return &Collector{
		registry: registry,
		interval: interval,
		path:     "/metrics",
	}
}

func (c *Collector) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				klog.Info("metrics collector stopped")
				return
			case <-ticker.C:
				c.scrapeAll()
			}
		}
	}()
}

func (c *Collector) scrapeAll() {
	for _, w := range c.registry.List() {
		if !w.IsHealthy() {
			continue
		}
		allMetrics, err := ParseMetricsURL(connectors.APIPath(w.URL(), c.path))
		if err != nil {
			klog.V(4).Infof("scrape failed for %s: %v", w.URL(), err)
			continue
		}
		running, waiting := QueueDepth(allMetrics)
		w.SetQueueDepth(running, waiting)
		klog.V(4).Infof("scraped %s: running=%.0f waiting=%.0f kv_cache=%.3f",
			w.URL(), running, waiting, KVCacheUsage(allMetrics))
	}
}
