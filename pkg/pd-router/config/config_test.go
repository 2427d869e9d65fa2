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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferflow/pd-router/pkg/pd-router/common"
	"github.com/inferflow/pd-router/pkg/pd-router/datastore"
)

func TestParseFullConfig(t *testing.T) {
	data := []byte(`
port: "9090"
pdDisaggregation: true
policy:
  name: consistent-hash
  args:
    virtualNodes: 64
rateMonitor:
  windowSecs: 30
  threshold: 500
  sustainedSecs: 10
rateLimit:
  requestsPerSec: 200
  burst: 400
healthCheck:
  intervalSecs: 5
  timeoutSecs: 1
scrapeIntervalSecs: 2
workers:
  - url: http://prefill-0:8000
    role: prefill
    bootstrapPort: 9100
  - url: http://decode-0:8000
    role: decode
`)

	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.PDDisaggregation)
	assert.Equal(t, "consistent-hash", cfg.Policy.Name)
	assert.JSONEq(t, `{"virtualNodes":64}`, string(cfg.Policy.Args))
	assert.Equal(t, int64(30), cfg.RateMonitor.WindowSecs)
	assert.Equal(t, 500, cfg.RateMonitor.Threshold)
	require.NotNil(t, cfg.RateLimit)
	assert.Equal(t, 200.0, cfg.RateLimit.RequestsPerSec)
	assert.Equal(t, 5, cfg.HealthCheck.IntervalSecs)
	assert.Equal(t, 2, cfg.ScrapeIntervalSecs)

	require.Len(t, cfg.Workers, 2)
	assert.Equal(t, datastore.RolePrefill, cfg.Workers[0].WorkerRole())
	require.NotNil(t, cfg.Workers[0].BootstrapPort)
	assert.Equal(t, 9100, *cfg.Workers[0].BootstrapPort)
	assert.Nil(t, cfg.Workers[1].BootstrapPort)
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`workers: []`))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "consistent-hash", cfg.Policy.Name)
	assert.Equal(t, int64(60), cfg.RateMonitor.WindowSecs)
	assert.Equal(t, 10, cfg.HealthCheck.IntervalSecs)
	assert.False(t, cfg.PDDisaggregation)
	assert.Nil(t, cfg.RateLimit)
}

func TestValidateRejections(t *testing.T) {
	port := 0
	tests := []struct {
		name   string
		mutate func(*RouterConfig)
	}{
		{"empty port", func(c *RouterConfig) { c.Port = "" }},
		{"empty policy", func(c *RouterConfig) { c.Policy.Name = "" }},
		{"zero window", func(c *RouterConfig) { c.RateMonitor.WindowSecs = 0 }},
		{"worker without url", func(c *RouterConfig) {
			c.Workers = []WorkerConfig{{Role: "prefill"}}
		}},
		{"unknown role", func(c *RouterConfig) {
			c.Workers = []WorkerConfig{{URL: "http://w:8000", Role: "observer"}}
		}},
		{"bad bootstrap port", func(c *RouterConfig) {
			c.Workers = []WorkerConfig{{URL: "http://w:8000", Role: "prefill", BootstrapPort: &port}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			var invalid *common.InvalidConfigurationError
			assert.ErrorAs(t, err, &invalid)
		})
	}
}

func TestWorkerRoleDefaultsToRegular(t *testing.T) {
	assert.Equal(t, datastore.RoleRegular, WorkerConfig{URL: "http://w:8000"}.WorkerRole())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "router.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: \"7070\"\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	var invalid *common.InvalidConfigurationError
	assert.ErrorAs(t, err, &invalid)
}
