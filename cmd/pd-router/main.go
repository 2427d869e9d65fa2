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

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"github.com/inferflow/pd-router/cmd/pd-router/app"
	backendmetrics "github.com/inferflow/pd-router/pkg/pd-router/backend/metrics"
	"github.com/inferflow/pd-router/pkg/pd-router/config"
	"github.com/inferflow/pd-router/pkg/pd-router/datastore"
	"github.com/inferflow/pd-router/pkg/pd-router/healthcheck"
	"github.com/inferflow/pd-router/pkg/pd-router/metrics"
	"github.com/inferflow/pd-router/pkg/pd-router/ratemonitor"
	"github.com/inferflow/pd-router/pkg/pd-router/scheduler"
	"github.com/inferflow/pd-router/pkg/pd-router/scheduler/framework"
	_ "github.com/inferflow/pd-router/pkg/pd-router/scheduler/plugins"
)

func main() {
	var (
		configPath string
		port       string
		policyName string
		pdMode     bool
	)

	// Initialize klog flags
	klog.InitFlags(nil)
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	pflag.StringVar(&configPath, "config", "", "Router config file path")
	pflag.StringVar(&port, "port", "", "Server listen port, overrides the config file")
	pflag.StringVar(&policyName, "policy", "", "Load balancing policy, overrides the config file")
	pflag.BoolVar(&pdMode, "pd-disaggregation", false, "Route through prefill/decode worker pairs")
	defer klog.Flush()
	pflag.Parse()

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			klog.Fatalf("failed to load config: %v", err)
		}
		cfg = loaded
	}
	if port != "" {
		cfg.Port = port
	}
	if policyName != "" {
		cfg.Policy.Name = policyName
		cfg.Policy.Args = nil
	}
	if pdMode {
		cfg.PDDisaggregation = true
	}

	pflag.CommandLine.VisitAll(func(f *pflag.Flag) {
		// print all flags for debugging
		klog.Infof("Flag: %s, Value: %s", f.Name, f.Value.String())
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signalCh
		klog.Info("Received termination, signaling shutdown")
		cancel()
	}()

	registry := datastore.NewRegistry()
	for _, wc := range cfg.Workers {
		w := datastore.NewWorker(wc.URL, wc.WorkerRole(), wc.BootstrapPort)
		if _, err := registry.Add(w); err != nil {
			klog.Fatalf("failed to register worker %s: %v", wc.URL, err)
		}
		klog.Infof("registered worker %s role=%s", wc.URL, wc.WorkerRole())
	}

	policy, err := framework.NewPolicy(cfg.Policy.Name, cfg.Policy.Args)
	if err != nil {
		klog.Fatalf("failed to build policy %q: %v", cfg.Policy.Name, err)
	}
	sched := scheduler.New(registry, policy)

	m := metrics.NewMetrics()

	monitor, err := ratemonitor.New(cfg.RateMonitor)
	if err != nil {
		klog.Fatalf("failed to build rate monitor: %v", err)
	}
	monitor.SetSustainedHook(func(rate int, healthy []datastore.Worker) {
		m.SustainedEvents.Inc()
	})
	monitor.Start(ctx, registry)

	checker := healthcheck.NewChecker(registry,
		time.Duration(cfg.HealthCheck.IntervalSecs)*time.Second,
		time.Duration(cfg.HealthCheck.TimeoutSecs)*time.Second)
	checker.Start(ctx)

	if cfg.ScrapeIntervalSecs > 0 {
		collector := backendmetrics.NewCollector(registry,
			time.Duration(cfg.ScrapeIntervalSecs)*time.Second)
		collector.Start(ctx)
	}

	app.NewServer(cfg, registry, sched, monitor, m).Run(ctx)
}
