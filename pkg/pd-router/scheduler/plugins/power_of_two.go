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
	"math/rand"

	"github.com/inferflow/pd-router/pkg/pd-router/datastore"
	"github.com/inferflow/pd-router/pkg/pd-router/scheduler/framework"
)

const PowerOfTwoPolicyName = "power-of-two"

var _ framework.Policy = &PowerOfTwo{}

func init() {
	framework.RegisterPolicyBuilder(PowerOfTwoPolicyName, func(rawArgs []byte) (framework.Policy, error) {
		return NewPowerOfTwo(), nil
	})
}

// PowerOfTwo samples two distinct candidates and dispatches to the less
// loaded one. Load is the router's in-flight counter plus the worker's own
// waiting-queue gauge when metrics scraping is enabled; waiting requests
// weigh far more than running ones, same as the least-request scorer.
type PowerOfTwo struct {
	name string
}

func NewPowerOfTwo() *PowerOfTwo {
	return &PowerOfTwo{
		name: PowerOfTwoPolicyName,
	}
}

func (p *PowerOfTwo) Name() string {
	return p.name
}

func (p *PowerOfTwo) SelectWorker(workers []datastore.Worker, _ []byte, _ map[string]string) (int, bool) {
	switch len(workers) {
	case 0:
		return 0, false
	case 1:
		return 0, true
	}

	first := rand.Intn(len(workers))
	second := rand.Intn(len(workers) - 1)
	if second >= first {
		second++
	}

	if workerLoad(workers[second]) < workerLoad(workers[first]) {
		return second, true
	}
	return first, true
}

func workerLoad(w datastore.Worker) float64 {
	running, waiting := w.QueueDepth()
	// The weight of waiting requests is 100, mirroring the least-request
	// scoring: a queue that has started to back up dominates the signal.
	return float64(w.Load()) + running + 100*waiting
}
