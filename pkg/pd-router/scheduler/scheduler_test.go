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

package scheduler

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferflow/pd-router/pkg/pd-router/common"
	"github.com/inferflow/pd-router/pkg/pd-router/datastore"
	"github.com/inferflow/pd-router/pkg/pd-router/scheduler/framework"
	_ "github.com/inferflow/pd-router/pkg/pd-router/scheduler/plugins"
)

func newScheduler(t *testing.T, policyName string) (*Scheduler, *datastore.Registry) {
	t.Helper()
	policy, err := framework.NewPolicy(policyName, nil)
	require.NoError(t, err)
	registry := datastore.NewRegistry()
	return New(registry, policy), registry
}

func addWorkers(t *testing.T, registry *datastore.Registry, role datastore.WorkerRole, n int) []datastore.Worker {
	t.Helper()
	workers := make([]datastore.Worker, 0, n)
	for i := 0; i < n; i++ {
		w := datastore.NewWorker(fmt.Sprintf("http://%s-%d:8000", role, i), role, nil)
		_, err := registry.Add(w)
		require.NoError(t, err)
		workers = append(workers, w)
	}
	return workers
}

func TestSelectWorkerEmptyRegistry(t *testing.T) {
	s, _ := newScheduler(t, "consistent-hash")

	_, err := s.SelectWorker(datastore.RoleRegular, nil, nil)
	var nav *common.NoAvailableWorkerError
	require.True(t, errors.As(err, &nav))
	assert.Equal(t, "regular", nav.Pool)
}

func TestSelectWorkerExcludesUnavailable(t *testing.T) {
	s, registry := newScheduler(t, "random")
	workers := addWorkers(t, registry, datastore.RoleRegular, 3)
	workers[0].SetHealthy(false)
	workers[1].SetDraining(true)

	// Only one candidate survives filtering; every selection must be it.
	for i := 0; i < 20; i++ {
		w, err := s.SelectWorker(datastore.RoleRegular, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, workers[2].URL(), w.URL())
		assert.True(t, w.IsHealthy())
	}
}

func TestSelectWorkerAllUnhealthy(t *testing.T) {
	s, registry := newScheduler(t, "random")
	for _, w := range addWorkers(t, registry, datastore.RoleRegular, 3) {
		w.SetHealthy(false)
	}

	_, err := s.SelectWorker(datastore.RoleRegular, nil, nil)
	var nav *common.NoAvailableWorkerError
	require.True(t, errors.As(err, &nav))
}

func TestSelectPDPairStickyAcrossCalls(t *testing.T) {
	s, registry := newScheduler(t, "consistent-hash")
	prefills := addWorkers(t, registry, datastore.RolePrefill, 3)
	decodes := addWorkers(t, registry, datastore.RoleDecode, 3)

	// One unhealthy worker in each pool; pairing must stay inside the two
	// available workers per pool and return the identical pair every time.
	prefills[1].SetHealthy(false)
	decodes[2].SetHealthy(false)

	headers := map[string]string{common.SessionIDHeader: "session-1"}

	firstPrefill, firstDecode, err := s.SelectPDPair([]byte(`{"text":"a"}`), headers)
	require.NoError(t, err)
	assert.True(t, firstPrefill.IsHealthy())
	assert.True(t, firstDecode.IsHealthy())
	assert.NotEqual(t, prefills[1].URL(), firstPrefill.URL())
	assert.NotEqual(t, decodes[2].URL(), firstDecode.URL())

	for i := 0; i < 10; i++ {
		p, d, err := s.SelectPDPair([]byte(fmt.Sprintf(`{"text":"body-%d"}`, i)), headers)
		require.NoError(t, err)
		assert.Equal(t, firstPrefill.URL(), p.URL())
		assert.Equal(t, firstDecode.URL(), d.URL())
	}
}

func TestSelectPDPairFailsWhenOnePoolEmpty(t *testing.T) {
	s, registry := newScheduler(t, "consistent-hash")
	addWorkers(t, registry, datastore.RolePrefill, 2)
	// Decode pool exists but nothing is available.
	for _, w := range addWorkers(t, registry, datastore.RoleDecode, 2) {
		w.SetHealthy(false)
	}

	_, _, err := s.SelectPDPair([]byte(`{"text":"a"}`), nil)
	var nav *common.NoAvailableWorkerError
	require.True(t, errors.As(err, &nav))
	assert.Equal(t, "decode", nav.Pool)
}

func TestSelectWorkerSessionFailover(t *testing.T) {
	s, registry := newScheduler(t, "consistent-hash")
	addWorkers(t, registry, datastore.RoleRegular, 5)
	headers := map[string]string{common.SessionIDHeader: "s1"}

	first, err := s.SelectWorker(datastore.RoleRegular, []byte(`{"text":"0"}`), headers)
	require.NoError(t, err)
	for i := 1; i < 20; i++ {
		w, err := s.SelectWorker(datastore.RoleRegular, []byte(fmt.Sprintf(`{"text":"%d"}`, i)), headers)
		require.NoError(t, err)
		assert.Equal(t, first.URL(), w.URL())
	}

	first.SetHealthy(false)

	moved, err := s.SelectWorker(datastore.RoleRegular, []byte(`{"text":"x"}`), headers)
	require.NoError(t, err)
	assert.NotEqual(t, first.URL(), moved.URL())
	assert.True(t, moved.IsHealthy())

	for i := 0; i < 10; i++ {
		w, err := s.SelectWorker(datastore.RoleRegular, []byte(`{"text":"y"}`), headers)
		require.NoError(t, err)
		assert.Equal(t, moved.URL(), w.URL())
	}
}
