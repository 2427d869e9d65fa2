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

package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"

	"github.com/inferflow/pd-router/pkg/pd-router/common"
	"github.com/inferflow/pd-router/pkg/pd-router/config"
	"github.com/inferflow/pd-router/pkg/pd-router/connectors"
	"github.com/inferflow/pd-router/pkg/pd-router/datastore"
	"github.com/inferflow/pd-router/pkg/pd-router/debug"
	"github.com/inferflow/pd-router/pkg/pd-router/filters/ratelimit"
	"github.com/inferflow/pd-router/pkg/pd-router/metrics"
	"github.com/inferflow/pd-router/pkg/pd-router/ratemonitor"
	"github.com/inferflow/pd-router/pkg/pd-router/scheduler"
	"github.com/inferflow/pd-router/pkg/pd-router/utils"
)

const gracefulShutdownTimeout = 15 * time.Second

// Server wires the routing engine, its collaborators, and the HTTP surface.
type Server struct {
	cfg       *config.RouterConfig
	registry  *datastore.Registry
	scheduler *scheduler.Scheduler
	monitor   *ratemonitor.Monitor
	connector *connectors.PDConnector
	metrics   *metrics.Metrics

	localLimiter  *ratelimit.LocalRateLimiter
	globalLimiter ratelimit.Limiter
}

func NewServer(
	cfg *config.RouterConfig,
	registry *datastore.Registry,
	sched *scheduler.Scheduler,
	monitor *ratemonitor.Monitor,
	m *metrics.Metrics,
) *Server {
	s := &Server{
		cfg:       cfg,
		registry:  registry,
		scheduler: sched,
		monitor:   monitor,
		connector: connectors.NewPDConnector(),
		metrics:   m,
	}

	if cfg.RateLimit != nil && cfg.RateLimit.RequestsPerSec > 0 {
		if cfg.RateLimit.Global {
			if client := utils.TryGetRedisClient(); client != nil {
				s.globalLimiter = ratelimit.NewGlobalRateLimiter(
					client, "pd-router", "default",
					cfg.RateLimit.RequestsPerSec, cfg.RateLimit.Burst)
			} else {
				klog.Warning("global rate limit configured but Redis unavailable, using local limiter")
			}
		}
		if s.globalLimiter == nil {
			s.localLimiter = ratelimit.NewLocalRateLimiter(cfg.RateLimit.RequestsPerSec, cfg.RateLimit.Burst)
		}
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.LoggerWithWriter(gin.DefaultWriter, "/health", "/metrics"), gin.Recovery())

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		prometheus.DefaultGatherer, promhttp.HandlerOpts{})))

	engine.POST("/generate", s.handleGenerate)
	engine.POST("/add_worker", s.handleAddWorker)
	engine.POST("/remove_worker", s.handleRemoveWorker)
	engine.POST("/drain_worker", s.handleDrainWorker)

	debug.NewDebugHandler(s.registry, s.monitor).RegisterRoutes(engine)

	server := &http.Server{
		Addr:    ":" + s.cfg.Port,
		Handler: engine.Handler(),
	}
	go func() {
		klog.Infof("router listening on %s, policy=%s, pdDisaggregation=%v",
			server.Addr, s.scheduler.Policy().Name(), s.cfg.PDDisaggregation)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			klog.Fatalf("listen failed: %v", err)
		}
	}()

	<-ctx.Done()
	klog.Info("Shutting down HTTP server ...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		klog.Errorf("Server shutdown failed: %v", err)
	}
	klog.Info("HTTP server exited")
}

func (s *Server) handleGenerate(c *gin.Context) {
	start := time.Now()
	path := c.Request.URL.Path

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		s.finish(c, path, start, http.StatusBadRequest, metrics.ErrorTypeNone)
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	headers := utils.LowercaseHeaders(c.Request.Header)

	requestID := headers[common.RequestIDHeader]
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header(common.RequestIDHeader, requestID)
	// Both sides of a disaggregated request trace under one id.
	c.Request.Header.Set(common.RequestIDHeader, requestID)

	if !s.admit(body) {
		s.finish(c, path, start, http.StatusTooManyRequests, metrics.ErrorTypeRateLimited)
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		return
	}

	rate := s.monitor.Record()
	s.metrics.WindowedRate.Set(float64(rate))

	s.metrics.ActiveRequests.Inc()
	defer s.metrics.ActiveRequests.Dec()

	var status int
	if s.cfg.PDDisaggregation {
		status, err = s.dispatchPD(c, body, headers)
	} else {
		status, err = s.dispatchDirect(c, body, headers)
	}

	if err != nil {
		var noWorker *common.NoAvailableWorkerError
		if errors.As(err, &noWorker) {
			s.metrics.NoAvailableWorker.WithLabelValues(noWorker.Pool).Inc()
			s.finish(c, path, start, http.StatusServiceUnavailable, metrics.ErrorTypeNoAvailableWorker)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		klog.Errorf("request %s failed: %s", requestID, common.Chain(err))
		if status == 0 {
			status = http.StatusBadGateway
			c.JSON(status, gin.H{"error": "upstream request failed"})
		}
		s.finish(c, path, start, status, metrics.ErrorTypeUpstream)
		return
	}
	s.finish(c, path, start, status, metrics.ErrorTypeNone)
}

// dispatchDirect proxies to a single selected worker (aggregated mode).
func (s *Server) dispatchDirect(c *gin.Context, body []byte, headers map[string]string) (int, error) {
	selectStart := time.Now()
	w, err := s.scheduler.SelectWorker(datastore.RoleRegular, body, headers)
	if err != nil {
		return 0, err
	}
	s.observeSelection(datastore.RoleRegular, selectStart)

	w.IncLoad()
	defer w.DecLoad()
	return connectors.ProxyDirect(c, body, w.URL())
}

// dispatchPD selects a prefill-decode pair, attaches bootstrap metadata, and
// runs the two-phase proxy.
func (s *Server) dispatchPD(c *gin.Context, body []byte, headers map[string]string) (int, error) {
	var parsed map[string]interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be a JSON object"})
		return http.StatusBadRequest, nil
	}

	selectStart := time.Now()
	prefill, decode, err := s.scheduler.SelectPDPair(body, headers)
	if err != nil {
		return 0, err
	}
	s.observeSelection(datastore.RolePrefill, selectStart)

	wrapped := connectors.WrapRequest(parsed, prefill, decode)

	prefill.IncLoad()
	decode.IncLoad()
	defer prefill.DecLoad()
	defer decode.DecLoad()
	return s.connector.Proxy(c, wrapped, prefill.URL(), decode.URL())
}

func (s *Server) observeSelection(pool datastore.WorkerRole, start time.Time) {
	s.metrics.SelectionDuration.
		WithLabelValues(s.scheduler.Policy().Name(), string(pool)).
		Observe(time.Since(start).Seconds())
}

// admit runs the configured rate limiter; a router without one admits
// everything.
func (s *Server) admit(body []byte) bool {
	if s.globalLimiter != nil {
		return s.globalLimiter.AllowN(time.Now(), 1)
	}
	if s.localLimiter != nil {
		return s.localLimiter.Allow(modelFrom(body))
	}
	return true
}

func modelFrom(body []byte) string {
	var probe common.GenerateRequest
	if err := json.Unmarshal(body, &probe); err != nil || probe.Model == "" {
		return "default"
	}
	return probe.Model
}

func (s *Server) finish(c *gin.Context, path string, start time.Time, status int, errorType string) {
	code := strconv.Itoa(status)
	s.metrics.RequestsTotal.WithLabelValues(path, code, errorType).Inc()
	s.metrics.RequestDuration.WithLabelValues(path, code).Observe(time.Since(start).Seconds())
}

type workerRequest struct {
	URL           string `json:"url" binding:"required"`
	Role          string `json:"role"`
	BootstrapPort *int   `json:"bootstrapPort"`
}

// handleAddWorker registers a worker at runtime. The health checker owns
// flipping it unhealthy afterwards; new workers start healthy.
func (s *Server) handleAddWorker(c *gin.Context) {
	var req workerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}

	role := datastore.WorkerRole(req.Role)
	if role == "" {
		role = datastore.RoleRegular
	}
	switch role {
	case datastore.RoleRegular, datastore.RolePrefill, datastore.RoleDecode:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown worker role: " + req.Role})
		return
	}

	id, err := s.registry.Add(datastore.NewWorker(req.URL, role, req.BootstrapPort))
	if err != nil {
		var exists *common.WorkerAlreadyExistsError
		if errors.As(err, &exists) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	klog.Infof("worker added: url=%s role=%s id=%s", req.URL, role, id)
	c.JSON(http.StatusOK, gin.H{"id": string(id), "url": req.URL, "role": string(role)})
}

func (s *Server) handleRemoveWorker(c *gin.Context) {
	var req workerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}

	if err := s.registry.RemoveByURL(req.URL); err != nil {
		var notFound *common.WorkerNotFoundError
		if errors.As(err, &notFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	klog.Infof("worker removed: url=%s", req.URL)
	c.JSON(http.StatusOK, gin.H{"url": req.URL})
}

// handleDrainWorker takes a worker out of selection without deregistering
// it, so in-flight requests finish before a later remove_worker call.
func (s *Server) handleDrainWorker(c *gin.Context) {
	var req workerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}

	w, ok := s.registry.GetByURL(req.URL)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": (&common.WorkerNotFoundError{URL: req.URL}).Error()})
		return
	}
	w.SetDraining(true)

	klog.Infof("worker draining: url=%s", req.URL)
	c.JSON(http.StatusOK, gin.H{"url": req.URL, "draining": true})
}
