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

package framework

import (
	"sync"

	"github.com/inferflow/pd-router/pkg/pd-router/common"
)

// PolicyFactory builds a policy from its raw YAML args block.
type PolicyFactory = func(rawArgs []byte) (Policy, error)

var (
	policyMutex sync.RWMutex

	policyBuilders = map[string]PolicyFactory{}
)

func RegisterPolicyBuilder(name string, factory PolicyFactory) {
	policyMutex.Lock()
	defer policyMutex.Unlock()

	policyBuilders[name] = factory
}

func GetPolicyBuilder(name string) (PolicyFactory, bool) {
	policyMutex.RLock()
	defer policyMutex.RUnlock()

	factory, exist := policyBuilders[name]
	return factory, exist
}

// NewPolicy builds the named policy, failing with InvalidConfigurationError
// for unknown names.
func NewPolicy(name string, rawArgs []byte) (Policy, error) {
	factory, exist := GetPolicyBuilder(name)
	if !exist {
		return nil, &common.InvalidConfigurationError{Reason: "unknown policy: " + name}
	}
	return factory(rawArgs)
}
