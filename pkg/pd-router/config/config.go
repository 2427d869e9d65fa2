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

package config

import (
	"encoding/json"
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/inferflow/pd-router/pkg/pd-router/common"
	"github.com/inferflow/pd-router/pkg/pd-router/datastore"
	"github.com/inferflow/pd-router/pkg/pd-router/ratemonitor"
)

type PolicyConfig struct {
	Name string `json:"name,omitempty"`
	// Args is handed verbatim to the policy factory.
	Args json.RawMessage `json:"args,omitempty"`
}

type WorkerConfig struct {
	URL           string `json:"url"`
	Role          string `json:"role,omitempty"`
	BootstrapPort *int   `json:"bootstrapPort,omitempty"`
}

type HealthCheckConfig struct {
	IntervalSecs int `json:"intervalSecs,omitempty"`
	TimeoutSecs  int `json:"timeoutSecs,omitempty"`
}

type RateLimitConfig struct {
	RequestsPerSec float64 `json:"requestsPerSec,omitempty"`
	Burst          int     `json:"burst,omitempty"`
	// Global coordinates the budget across replicas through Redis.
	Global bool `json:"global,omitempty"`
}

type RouterConfig struct {
	Port string `json:"port,omitempty"`

	// PDDisaggregation switches the router to prefill/decode pairing.
	PDDisaggregation bool `json:"pdDisaggregation,omitempty"`

	Policy      PolicyConfig       `json:"policy,omitempty"`
	RateMonitor ratemonitor.Config `json:"rateMonitor,omitempty"`
	RateLimit   *RateLimitConfig   `json:"rateLimit,omitempty"`
	HealthCheck HealthCheckConfig  `json:"healthCheck,omitempty"`

	// ScrapeIntervalSecs controls worker metrics scraping; 0 disables it.
	ScrapeIntervalSecs int `json:"scrapeIntervalSecs,omitempty"`

	// Workers registered at startup. The registration API can add and
	// remove workers afterwards.
	Workers []WorkerConfig `json:"workers,omitempty"`
}

// Load reads, defaults, and validates a router config file.
func Load(path string) (*RouterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &common.InvalidConfigurationError{Reason: fmt.Sprintf("read %s: %v", path, err)}
	}
	return Parse(data)
}

// Parse decodes YAML (or JSON) config bytes.
func Parse(data []byte) (*RouterConfig, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &common.InvalidConfigurationError{Reason: fmt.Sprintf("decode config: %v", err)}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the config used when no file is given.
func Default() *RouterConfig {
	return &RouterConfig{
		Port:   "8080",
		Policy: PolicyConfig{Name: "consistent-hash"},
		RateMonitor: ratemonitor.Config{
			WindowSecs:    60,
			Threshold:     1000,
			SustainedSecs: 30,
		},
		HealthCheck: HealthCheckConfig{
			IntervalSecs: 10,
			TimeoutSecs:  2,
		},
		ScrapeIntervalSecs: 5,
	}
}

func (c *RouterConfig) Validate() error {
	if c.Port == "" {
		return &common.InvalidConfigurationError{Reason: "port must not be empty"}
	}
	if c.Policy.Name == "" {
		return &common.InvalidConfigurationError{Reason: "policy name must not be empty"}
	}
	if c.RateMonitor.WindowSecs < 1 {
		return &common.InvalidConfigurationError{Reason: "rateMonitor.windowSecs must be at least 1"}
	}
	for _, w := range c.Workers {
		if w.URL == "" {
			return &common.InvalidConfigurationError{Reason: "worker url must not be empty"}
		}
		switch datastore.WorkerRole(w.Role) {
		case datastore.RoleRegular, datastore.RolePrefill, datastore.RoleDecode, "":
		default:
			return &common.InvalidConfigurationError{Reason: fmt.Sprintf("unknown worker role %q for %s", w.Role, w.URL)}
		}
		if w.BootstrapPort != nil && (*w.BootstrapPort <= 0 || *w.BootstrapPort > 65535) {
			return &common.InvalidConfigurationError{Reason: fmt.Sprintf("invalid bootstrap port %d for %s", *w.BootstrapPort, w.URL)}
		}
	}
	return nil
}

// WorkerRole resolves the config role, defaulting to regular.
func (w WorkerConfig) WorkerRole() datastore.WorkerRole {
	if w.Role == "" {
		return datastore.RoleRegular
	}
	return datastore.WorkerRole(w.Role)
}
