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
	"github.com/inferflow/pd-router/pkg/pd-router/datastore"
)

// Policy selects one worker out of an availability-filtered candidate list.
//
// workers is a snapshot the caller already filtered; the policy never
// excludes candidates itself. body is the raw request body (may be nil) and
// headers maps lower-cased header names to values (may be nil). Both are
// only consulted by affinity-aware policies.
//
// SelectWorker returns an index into workers and true, or false when no
// selection is possible (the only such case for a non-empty list is a
// policy-internal failure; an empty list always returns false).
//
// Implementations must be safe for concurrent use: one policy instance
// serves every in-flight request.
type Policy interface {
	Name() string
	SelectWorker(workers []datastore.Worker, body []byte, headers map[string]string) (int, bool)
}
