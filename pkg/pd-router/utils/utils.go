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
	"os"
	"strings"
)

// LoadEnv returns the environment variable's value, or defaultValue when
// unset or empty.
func LoadEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// LowercaseHeaders flattens HTTP headers into the lower-cased single-value
// map the policy layer expects. The first value wins for repeated headers.
func LowercaseHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for name, values := range header {
		if len(values) == 0 {
			continue
		}
		key := strings.ToLower(name)
		if _, exists := out[key]; !exists {
			out[key] = values[0]
		}
	}
	return out
}
