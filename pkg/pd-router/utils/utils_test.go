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

package utils

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadEnv(t *testing.T) {
	t.Setenv("PD_ROUTER_TEST_KEY", "set")
	assert.Equal(t, "set", LoadEnv("PD_ROUTER_TEST_KEY", "fallback"))
	assert.Equal(t, "fallback", LoadEnv("PD_ROUTER_TEST_MISSING", "fallback"))
}

func TestLowercaseHeaders(t *testing.T) {
	header := http.Header{}
	header.Set("X-Session-Id", "s1")
	header.Set("Content-Type", "application/json")
	header.Add("X-Multi", "first")
	header.Add("X-Multi", "second")

	out := LowercaseHeaders(header)
	assert.Equal(t, "s1", out["x-session-id"])
	assert.Equal(t, "application/json", out["content-type"])
	assert.Equal(t, "first", out["x-multi"])
}
