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

// Worker selection for the routing path.
package scheduler

import (
	"k8s.io/klog/v2"

	"github.com/inferflow/pd-router/pkg/pd-router/common"
	"github.com/inferflow/pd-router/pkg/pd-router/datastore"
	"github.com/inferflow/pd-router/pkg/pd-router/scheduler/framework"
)

// Scheduler filters the registry down to available workers and asks the
// configured policy for a selection. It never retries internally; retry
// policy belongs to the dispatch layer.
type Scheduler struct {
	registry *datastore.Registry
	policy   framework.Policy
}

func New(registry *datastore.Registry, policy framework.Policy) *Scheduler {
	return &Scheduler{
		registry: registry,
		policy:   policy,
	}
}

// SelectWorker picks one available worker for aggregated-mode dispatch.
func (s *Scheduler) SelectWorker(role datastore.WorkerRole, body []byte, headers map[string]string) (datastore.Worker, error) {
	candidates := datastore.FilterAvailable(s.registry.ListByRole(role))
	if len(candidates) == 0 {
		return nil, &common.NoAvailableWorkerError{Pool: string(role)}
	}
	idx, ok := s.policy.SelectWorker(candidates, body, headers)
	if !ok {
		return nil, &common.NoAvailableWorkerError{Pool: string(role)}
	}
	w := candidates[idx]
	klog.V(4).Infof("policy %s selected %s from %d %s candidates",
		s.policy.Name(), w.URL(), len(candidates), role)
	return w, nil
}

// SelectPDPair picks one prefill and one decode worker for a disaggregated
// request. Both pools see the identical body and headers, so a session's
// affinity key resolves to the same pair on every request; the whole
// request fails if either pool has no available worker.
func (s *Scheduler) SelectPDPair(body []byte, headers map[string]string) (prefill, decode datastore.Worker, err error) {
	prefill, err = s.SelectWorker(datastore.RolePrefill, body, headers)
	if err != nil {
		return nil, nil, err
	}
	decode, err = s.SelectWorker(datastore.RoleDecode, body, headers)
	if err != nil {
		return nil, nil, err
	}
	return prefill, decode, nil
}

// Policy exposes the configured policy, mainly for logging and debug dumps.
func (s *Scheduler) Policy() framework.Policy {
	return s.policy
}
