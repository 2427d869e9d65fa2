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

package plugins

import (
	"sort"
	"strconv"

	"github.com/cespare/xxhash"
	"sigs.k8s.io/yaml"

	"github.com/inferflow/pd-router/pkg/pd-router/datastore"
	"github.com/inferflow/pd-router/pkg/pd-router/scheduler/framework"
)

const ConsistentHashPolicyName = "consistent-hash"

// defaultVirtualNodes is the per-worker ring replication factor. Higher
// values smooth the key distribution at the cost of a larger per-call sort.
const defaultVirtualNodes = 160

var _ framework.Policy = &ConsistentHash{}

func init() {
	framework.RegisterPolicyBuilder(ConsistentHashPolicyName, func(rawArgs []byte) (framework.Policy, error) {
		return NewConsistentHash(rawArgs)
	})
}

type ConsistentHashArgs struct {
	VirtualNodes int `json:"virtualNodes,omitempty"`
}

// ConsistentHash maps a request's affinity key onto a hash ring populated
// from the candidate workers' URLs. The ring is rebuilt from the input list
// on every call, so selection depends only on the key and the candidate
// URLs, never on stale shared state. For a fixed key and a fixed candidate
// list the selected index is identical on every call, which is what makes
// sessions sticky.
type ConsistentHash struct {
	name         string
	virtualNodes int
}

func NewConsistentHash(rawArgs []byte) (*ConsistentHash, error) {
	var args ConsistentHashArgs
	if len(rawArgs) > 0 {
		if err := yaml.Unmarshal(rawArgs, &args); err != nil {
			return nil, err
		}
	}
	virtualNodes := args.VirtualNodes
	if virtualNodes <= 0 {
		virtualNodes = defaultVirtualNodes
	}

	return &ConsistentHash{
		name:         ConsistentHashPolicyName,
		virtualNodes: virtualNodes,
	}, nil
}

func (p *ConsistentHash) Name() string {
	return p.name
}

type ringNode struct {
	hash  uint64
	index int
}

func (p *ConsistentHash) SelectWorker(workers []datastore.Worker, body []byte, headers map[string]string) (int, bool) {
	if len(workers) == 0 {
		return 0, false
	}
	if len(workers) == 1 {
		return 0, true
	}

	keyHash := xxhash.Sum64(affinityKey(body, headers))

	ring := make([]ringNode, 0, len(workers)*p.virtualNodes)
	for i, w := range workers {
		url := w.URL()
		for v := 0; v < p.virtualNodes; v++ {
			h := xxhash.Sum64([]byte(url + "#" + strconv.Itoa(v)))
			ring = append(ring, ringNode{hash: h, index: i})
		}
	}
	sort.Slice(ring, func(i, j int) bool {
		if ring[i].hash != ring[j].hash {
			return ring[i].hash < ring[j].hash
		}
		// Hash collisions between virtual nodes are broken by position so
		// the ring order never depends on sort internals.
		return ring[i].index < ring[j].index
	})

	// First node at or after the key's position, wrapping around.
	pos := sort.Search(len(ring), func(i int) bool {
		return ring[i].hash >= keyHash
	})
	if pos == len(ring) {
		pos = 0
	}
	return ring[pos].index, true
}
