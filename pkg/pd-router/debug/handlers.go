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

package debug

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/inferflow/pd-router/pkg/pd-router/datastore"
	"github.com/inferflow/pd-router/pkg/pd-router/ratemonitor"
)

// DebugHandler provides config-dump style endpoints for the router.
type DebugHandler struct {
	registry *datastore.Registry
	monitor  *ratemonitor.Monitor
}

func NewDebugHandler(registry *datastore.Registry, monitor *ratemonitor.Monitor) *DebugHandler {
	return &DebugHandler{
		registry: registry,
		monitor:  monitor,
	}
}

type WorkerResponse struct {
	URL           string  `json:"url"`
	Role          string  `json:"role"`
	Healthy       bool    `json:"healthy"`
	Available     bool    `json:"available"`
	Load          int64   `json:"load"`
	RunningReqs   float64 `json:"runningReqs"`
	WaitingReqs   float64 `json:"waitingReqs"`
	BootstrapPort *int    `json:"bootstrapPort,omitempty"`
}

// ListWorkers handles GET /debug/workers
func (h *DebugHandler) ListWorkers(c *gin.Context) {
	var responses []WorkerResponse
	for _, w := range h.registry.List() {
		running, waiting := w.QueueDepth()
		responses = append(responses, WorkerResponse{
			URL:           w.URL(),
			Role:          string(w.Role()),
			Healthy:       w.IsHealthy(),
			Available:     w.IsAvailable(),
			Load:          w.Load(),
			RunningReqs:   running,
			WaitingReqs:   waiting,
			BootstrapPort: w.BootstrapPort(),
		})
	}

	c.JSON(http.StatusOK, gin.H{"workers": responses})
}

// RateSamples handles GET /debug/rate
func (h *DebugHandler) RateSamples(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"samples": h.monitor.RecentSamples()})
}

// RegisterRoutes attaches the debug endpoints to a gin engine.
func (h *DebugHandler) RegisterRoutes(engine *gin.Engine) {
	group := engine.Group("/debug")
	group.GET("/workers", h.ListWorkers)
	group.GET("/rate", h.RateSamples)
}
