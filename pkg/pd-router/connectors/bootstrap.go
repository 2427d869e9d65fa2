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

package connectors

import (
	"maps"
	"math/rand"
	"strings"

	"github.com/inferflow/pd-router/pkg/pd-router/datastore"
)

// Bootstrap metadata lets a decode worker locate and resume the KV state a
// prefill worker hands off. The router attaches it alongside the original
// request fields without mutating the caller's parsed body.

const (
	bootstrapHostField = "bootstrap_host"
	bootstrapPortField = "bootstrap_port"
	bootstrapRoomField = "bootstrap_room"
)

// batchFields are the request fields whose array form marks a batch
// submission; the first one present decides the batch size.
var batchFields = []string{"text", "input_ids", "prompt"}

// GenerateRoomID returns a fresh handoff correlation id, uniformly random
// in [0, 2^63): non-negative with the top bit always clear. Rooms are never
// session-sticky; every request gets a new one.
func GenerateRoomID() int64 {
	return rand.Int63()
}

// Hostname extracts the host from a worker URL, dropping scheme and port.
func Hostname(url string) string {
	host := strings.TrimPrefix(strings.TrimPrefix(url, "http://"), "https://")
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	if host == "" {
		return "localhost"
	}
	return host
}

// APIPath joins a worker URL and an api path with exactly one separator.
func APIPath(url, path string) string {
	if strings.HasPrefix(path, "/") {
		return url + path
	}
	return url + "/" + path
}

// WrapRequest returns a copy of the parsed request body with bootstrap
// metadata attached: the decode-side host, the prefill worker's configured
// bootstrap port (absent when the worker has none), and a fresh room id.
// Batch submissions get index-aligned slices, one entry per batch item.
// The input map is never modified.
func WrapRequest(body map[string]interface{}, prefill, decode datastore.Worker) map[string]interface{} {
	wrapped := make(map[string]interface{}, len(body)+3)
	maps.Copy(wrapped, body)

	host := Hostname(decode.URL())
	port := prefill.BootstrapPort()

	if n := batchSize(body); n > 0 {
		hosts := make([]string, n)
		ports := make([]*int, n)
		rooms := make([]int64, n)
		for i := 0; i < n; i++ {
			hosts[i] = host
			ports[i] = port
			rooms[i] = GenerateRoomID()
		}
		wrapped[bootstrapHostField] = hosts
		wrapped[bootstrapPortField] = ports
		wrapped[bootstrapRoomField] = rooms
		return wrapped
	}

	wrapped[bootstrapHostField] = host
	wrapped[bootstrapPortField] = port
	wrapped[bootstrapRoomField] = GenerateRoomID()
	return wrapped
}

// batchSize returns the number of batched items, or 0 for a single request.
func batchSize(body map[string]interface{}) int {
	for _, field := range batchFields {
		if items, ok := body[field].([]interface{}); ok {
			return len(items)
		}
	}
	return 0
}
