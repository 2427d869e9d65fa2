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

// Package healthcheck is the probing collaborator: it owns the worker
// health flags, the routing engine only reads them.
package healthcheck

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"k8s.io/klog/v2"

	"github.com/inferflow/pd-router/pkg/pd-router/common"
	"github.com/inferflow/pd-router/pkg/pd-router/connectors"
	"github.com/inferflow/pd-router/pkg/pd-router/datastore"
)

const (
	defaultInterval = 10 * time.Second
	defaultTimeout  = 2 * time.Second
	defaultPath     = "/health"
)

type Checker struct {
	registry *datastore.Registry
	client   *retryablehttp.Client
	interval time.Duration
	path     string
}

func NewChecker(registry *datastore.Registry, interval, timeout time.Duration) *Checker {
	if interval <= 0 {
		interval = defaultInterval
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 500 * time.Millisecond
	client.HTTPClient.Timeout = timeout
	client.Logger = nil

	return &Checker{
		registry: registry,
		client:   client,
		interval: interval,
		path:     defaultPath,
	}
}

// Start probes every registered worker once per interval until ctx is
// cancelled, flipping each worker's health flag to match the probe result.
func (c *Checker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				klog.Info("health checker stopped")
				return
			case <-ticker.C:
				c.CheckAll(ctx)
			}
		}
	}()
}

// CheckAll probes the current registry snapshot concurrently and waits for
// every probe to finish.
func (c *Checker) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range c.registry.List() {
		wg.Add(1)
		go func(w datastore.Worker) {
			defer wg.Done()
			c.probe(ctx, w)
		}(w)
	}
	wg.Wait()
}

func (c *Checker) probe(ctx context.Context, w datastore.Worker) {
	err := c.probeOnce(ctx, w.URL())
	healthy := err == nil
	if healthy != w.IsHealthy() {
		if healthy {
			klog.Infof("worker %s became healthy", w.URL())
		} else {
			klog.Warningf("worker %s became unhealthy: %s", w.URL(),
				common.Chain(&common.HealthCheckError{URL: w.URL(), Err: err}))
		}
	}
	w.SetHealthy(healthy)
}

func (c *Checker) probeOnce(ctx context.Context, url string) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, connectors.APIPath(url, c.path), nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return &common.NetworkError{Message: "health probe failed", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &common.NetworkError{Message: resp.Status}
	}
	return nil
}
