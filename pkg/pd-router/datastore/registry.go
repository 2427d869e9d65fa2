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

package datastore

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/inferflow/pd-router/pkg/pd-router/common"
)

// WorkerID is the registry's opaque map key, distinct from the worker URL
// and stable for the worker's registered lifetime.
type WorkerID string

// Registry is a concurrent worker store. Readers get snapshot slices, so an
// in-flight selection is never disturbed by a concurrent add or remove.
type Registry struct {
	mu      sync.RWMutex
	workers map[WorkerID]Worker
	byURL   map[string]WorkerID
}

func NewRegistry() *Registry {
	return &Registry{
		workers: make(map[WorkerID]Worker),
		byURL:   make(map[string]WorkerID),
	}
}

// Add registers a worker and returns its assigned id. Registering a URL
// twice fails with WorkerAlreadyExistsError.
func (r *Registry) Add(w Worker) (WorkerID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byURL[w.URL()]; exists {
		return "", &common.WorkerAlreadyExistsError{URL: w.URL()}
	}
	id := WorkerID(uuid.NewString())
	r.workers[id] = w
	r.byURL[w.URL()] = id
	return id, nil
}

// Remove deregisters a worker by id.
func (r *Registry) Remove(id WorkerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, exists := r.workers[id]
	if !exists {
		return &common.WorkerNotFoundError{URL: string(id)}
	}
	delete(r.workers, id)
	delete(r.byURL, w.URL())
	return nil
}

// RemoveByURL deregisters a worker by URL.
func (r *Registry) RemoveByURL(url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, exists := r.byURL[url]
	if !exists {
		return &common.WorkerNotFoundError{URL: url}
	}
	delete(r.workers, id)
	delete(r.byURL, url)
	return nil
}

// Get returns the worker registered under id.
func (r *Registry) Get(id WorkerID) (Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[id]
	return w, ok
}

// GetByURL returns the worker registered under url.
func (r *Registry) GetByURL(url string) (Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byURL[url]
	if !ok {
		return nil, false
	}
	return r.workers[id], true
}

// List returns a snapshot of all workers, ordered by URL so repeated calls
// against an unchanged registry present candidates in a stable order.
func (r *Registry) List() []Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workers := make([]Worker, 0, len(r.workers))
	for _, w := range r.workers {
		workers = append(workers, w)
	}
	sort.Slice(workers, func(i, j int) bool {
		return workers[i].URL() < workers[j].URL()
	})
	return workers
}

// ListByRole returns a snapshot of workers with the given role, ordered by
// URL.
func (r *Registry) ListByRole(role WorkerRole) []Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workers := make([]Worker, 0, len(r.workers))
	for _, w := range r.workers {
		if w.Role() == role {
			workers = append(workers, w)
		}
	}
	sort.Slice(workers, func(i, j int) bool {
		return workers[i].URL() < workers[j].URL()
	})
	return workers
}

// Len returns the number of registered workers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}
