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

const RandomPolicyName = "random"

var _ framework.Policy = &Random{}

func init() {
	framework.RegisterPolicyBuilder(RandomPolicyName, func(rawArgs []byte) (framework.Policy, error) {
		return NewRandom(), nil
	})
}

// Random picks a candidate uniformly at random. It ignores the request body
// and headers entirely, so it provides no session stickiness; it is the
// baseline policy for stateless fleets.
type Random struct {
	name string
}

func NewRandom() *Random {
	return &Random{
		name: RandomPolicyName,
	}
}

func (r *Random) Name() string {
	return r.name
}

func (r *Random) SelectWorker(workers []datastore.Worker, _ []byte, _ map[string]string) (int, bool) {
	if len(workers) == 0 {
		return 0, false
	}
	return rand.Intn(len(workers)), true
}
