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

package common

import (
	"errors"
	"fmt"
	"strings"
)

// The router reports failures through a closed set of error types. The HTTP
// binding maps them to transport responses; everything below it only wraps
// and inspects them with errors.As.

// WorkerAlreadyExistsError is returned when registering a worker whose URL
// is already present in the registry.
type WorkerAlreadyExistsError struct {
	URL string
}

func (e *WorkerAlreadyExistsError) Error() string {
	return fmt.Sprintf("worker already exists: %s", e.URL)
}

// WorkerNotFoundError is returned when a lookup or removal names a worker
// the registry does not hold.
type WorkerNotFoundError struct {
	URL string
}

func (e *WorkerNotFoundError) Error() string {
	return fmt.Sprintf("worker not found: %s", e.URL)
}

// LockAcquisitionError is returned when an internal lock could not be taken
// for the named operation.
type LockAcquisitionError struct {
	Operation string
}

func (e *LockAcquisitionError) Error() string {
	return fmt.Sprintf("lock acquisition failed: %s", e.Operation)
}

// HealthCheckError is returned when a worker's health probe fails.
type HealthCheckError struct {
	URL string
	Err error
}

func (e *HealthCheckError) Error() string {
	return fmt.Sprintf("health check failed for worker: %s", e.URL)
}

func (e *HealthCheckError) Unwrap() error { return e.Err }

// InvalidConfigurationError is returned when router or worker configuration
// fails validation.
type InvalidConfigurationError struct {
	Reason string
}

func (e *InvalidConfigurationError) Error() string {
	return fmt.Sprintf("invalid worker configuration: %s", e.Reason)
}

// NetworkError wraps a failure to reach a worker.
type NetworkError struct {
	Message string
	Err     error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %s", e.Message)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// TimeoutError is returned when waiting on a worker exceeded its deadline.
type TimeoutError struct {
	URL string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout waiting for worker: %s", e.URL)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// NoAvailableWorkerError is returned by the routing path when the
// availability-filtered candidate list is empty. Pool names the pool that
// came up empty ("prefill", "decode", or "regular").
type NoAvailableWorkerError struct {
	Pool string
}

func (e *NoAvailableWorkerError) Error() string {
	if e.Pool == "" {
		return "no available worker"
	}
	return fmt.Sprintf("no available worker in %s pool", e.Pool)
}

// Chain formats the full error chain for diagnostics, walking Unwrap from
// the outermost error to the root cause.
// Produces output like: "outer error caused by: middle error caused by: root cause"
func Chain(err error) string {
	if err == nil {
		return ""
	}
	parts := []string{err.Error()}
	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		parts = append(parts, cause.Error())
	}
	return strings.Join(parts, " caused by: ")
}
