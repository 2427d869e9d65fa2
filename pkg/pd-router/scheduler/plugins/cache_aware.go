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
	"github.com/cespare/xxhash"
	lru "github.com/hashicorp/golang-lru/v2"
	"sigs.k8s.io/yaml"

	"github.com/inferflow/pd-router/pkg/pd-router/datastore"
	"github.com/inferflow/pd-router/pkg/pd-router/scheduler/framework"
)

const CacheAwarePolicyName = "cache-aware"

const (
	defaultCacheThreshold      = 0.5
	defaultBalanceAbsThreshold = 32
	defaultBalanceRelThreshold = 1.0001
	defaultMaxCachedKeys       = 65536
)

var _ framework.Policy = &CacheAware{}

func init() {
	framework.RegisterPolicyBuilder(CacheAwarePolicyName, func(rawArgs []byte) (framework.Policy, error) {
		return NewCacheAware(rawArgs)
	})
}

type CacheAwareArgs struct {
	CacheThreshold      float64 `json:"cacheThreshold,omitempty"`
	BalanceAbsThreshold float64 `json:"balanceAbsThreshold,omitempty"`
	BalanceRelThreshold float64 `json:"balanceRelThreshold,omitempty"`
	MaxCachedKeys       int     `json:"maxCachedKeys,omitempty"`
}

// CacheAware routes a repeated affinity key back to the worker that served
// it before, on the assumption that the worker still holds the prefix in its
// KV cache. The mapping lives in an LRU keyed by the affinity-key hash; the
// hit likelihood for a key grows with the number of times it has landed on
// the same worker.
//
// Cache placement is only honored while the fleet's load stays balanced:
// when the spread between the most and least loaded candidates exceeds both
// the absolute and relative thresholds, the policy falls back to the
// cache-oblivious power-of-two choice until the imbalance drains.
type CacheAware struct {
	name string

	cacheThreshold      float64
	balanceAbsThreshold float64
	balanceRelThreshold float64

	seen     *lru.Cache[uint64, cacheEntry]
	fallback *PowerOfTwo
}

type cacheEntry struct {
	url  string
	hits int
}

// likelihood is the policy's cache-hit estimate for this entry, in [0, 1).
// One prior route gives 0.5, asymptotically approaching 1 as the key keeps
// landing on the same worker.
func (e cacheEntry) likelihood() float64 {
	return float64(e.hits) / float64(e.hits+1)
}

func NewCacheAware(rawArgs []byte) (*CacheAware, error) {
	var args CacheAwareArgs
	if len(rawArgs) > 0 {
		if err := yaml.Unmarshal(rawArgs, &args); err != nil {
			return nil, err
		}
	}
	if args.CacheThreshold <= 0 {
		args.CacheThreshold = defaultCacheThreshold
	}
	if args.BalanceAbsThreshold <= 0 {
		args.BalanceAbsThreshold = defaultBalanceAbsThreshold
	}
	if args.BalanceRelThreshold <= 0 {
		args.BalanceRelThreshold = defaultBalanceRelThreshold
	}
	if args.MaxCachedKeys <= 0 {
		args.MaxCachedKeys = defaultMaxCachedKeys
	}

	// Entries are stored by value so concurrent selections never share a
	// mutable record; updates go through Add.
	seen, err := lru.New[uint64, cacheEntry](args.MaxCachedKeys)
	if err != nil {
		return nil, err
	}

	return &CacheAware{
		name:                CacheAwarePolicyName,
		cacheThreshold:      args.CacheThreshold,
		balanceAbsThreshold: args.BalanceAbsThreshold,
		balanceRelThreshold: args.BalanceRelThreshold,
		seen:                seen,
		fallback:            NewPowerOfTwo(),
	}, nil
}

func (p *CacheAware) Name() string {
	return p.name
}

func (p *CacheAware) SelectWorker(workers []datastore.Worker, body []byte, headers map[string]string) (int, bool) {
	if len(workers) == 0 {
		return 0, false
	}

	if p.imbalanced(workers) {
		return p.fallback.SelectWorker(workers, body, headers)
	}

	keyHash := xxhash.Sum64(affinityKey(body, headers))

	if entry, ok := p.seen.Get(keyHash); ok && entry.likelihood() >= p.cacheThreshold {
		for i, w := range workers {
			if w.URL() == entry.url {
				entry.hits++
				p.seen.Add(keyHash, entry)
				return i, true
			}
		}
		// The remembered worker left the candidate set; fall through and
		// re-place the key.
	}

	idx := leastLoaded(workers)
	p.seen.Add(keyHash, cacheEntry{url: workers[idx].URL(), hits: 1})
	return idx, true
}

// imbalanced reports whether the load spread across candidates exceeds both
// the absolute and the relative threshold.
func (p *CacheAware) imbalanced(workers []datastore.Worker) bool {
	minLoad := workerLoad(workers[0])
	maxLoad := minLoad
	for _, w := range workers[1:] {
		load := workerLoad(w)
		if load < minLoad {
			minLoad = load
		}
		if load > maxLoad {
			maxLoad = load
		}
	}
	return maxLoad-minLoad > p.balanceAbsThreshold && maxLoad > p.balanceRelThreshold*minLoad
}

func leastLoaded(workers []datastore.Worker) int {
	best := 0
	bestLoad := workerLoad(workers[0])
	for i, w := range workers[1:] {
		if load := workerLoad(w); load < bestLoad {
			best = i + 1
			bestLoad = load
		}
	}
	return best
}
