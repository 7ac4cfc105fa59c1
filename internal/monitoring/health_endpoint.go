package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rama-kairi/termcore/internal/logger"
)

// HealthEndpoint serves health probes and Prometheus metrics over HTTP
type HealthEndpoint struct {
	server       *http.Server
	handler      http.Handler
	logger       *logger.Logger
	resourceMon  *ResourceMonitor
	healthChecks map[string]HealthChecker
	mu           sync.RWMutex
	startTime    time.Time
}

// HealthChecker is implemented by components that can report health
type HealthChecker interface {
	HealthCheck() error
}

// HealthCheckFunc adapts a function to HealthChecker
type HealthCheckFunc func() error

// HealthCheck implements HealthChecker
func (f HealthCheckFunc) HealthCheck() error { return f() }

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status     string                     `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp  time.Time                  `json:"timestamp"`
	Uptime     string                     `json:"uptime"`
	Components map[string]ComponentHealth `json:"components"`
	Metrics    HealthMetrics              `json:"metrics"`
}

// ComponentHealth represents health of a single component
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthMetrics contains resource metrics
type HealthMetrics struct {
	MemoryUsedMB  uint64  `json:"memory_used_mb"`
	MemoryTotalMB uint64  `json:"memory_total_mb"`
	Goroutines    int     `json:"goroutines"`
	CPUs          int     `json:"cpus"`
	GCPauseMs     float64 `json:"gc_pause_ms"`
	Sessions      int     `json:"sessions"`
	Shells        int     `json:"shells"`
}

// NewHealthEndpoint creates the endpoint. /metrics is served from gatherer
// when it is not nil.
func NewHealthEndpoint(port int, resourceMon *ResourceMonitor, gatherer prometheus.Gatherer, log *logger.Logger) *HealthEndpoint {
	if log == nil {
		log = logger.NewNop()
	}
	he := &HealthEndpoint{
		logger:       log.WithComponent("health"),
		resourceMon:  resourceMon,
		healthChecks: make(map[string]HealthChecker),
		startTime:    time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", he.handleHealth)
	mux.HandleFunc("/health/live", he.handleLiveness)
	mux.HandleFunc("/health/ready", he.handleReadiness)
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	he.handler = mux

	he.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return he
}

// Handler returns the HTTP handler, for embedding or tests
func (he *HealthEndpoint) Handler() http.Handler {
	return he.handler
}

// RegisterHealthCheck registers a component for health checking
func (he *HealthEndpoint) RegisterHealthCheck(name string, checker HealthChecker) {
	he.mu.Lock()
	defer he.mu.Unlock()
	he.healthChecks[name] = checker
}

// Start binds the port and serves in the background. A bind failure is
// returned; later serve errors are logged.
func (he *HealthEndpoint) Start() error {
	ln, err := net.Listen("tcp", he.server.Addr)
	if err != nil {
		return fmt.Errorf("health endpoint listen: %w", err)
	}

	go func() {
		if err := he.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			he.logger.Error("Health endpoint stopped", err)
		}
	}()

	he.logger.Info("Health endpoint listening", map[string]interface{}{"addr": ln.Addr().String()})
	return nil
}

// Stop gracefully stops the health endpoint server
func (he *HealthEndpoint) Stop(ctx context.Context) error {
	return he.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (he *HealthEndpoint) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := he.getHealthStatus()

	code := http.StatusOK
	if status.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (he *HealthEndpoint) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": time.Since(he.startTime).String(),
	})
}

func (he *HealthEndpoint) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	ready := true
	components := make(map[string]string)

	for name, checker := range he.checkers() {
		if err := checker.HealthCheck(); err != nil {
			ready = false
			components[name] = err.Error()
		} else {
			components[name] = "ready"
		}
	}

	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"ready":      ready,
		"components": components,
	})
}

func (he *HealthEndpoint) checkers() map[string]HealthChecker {
	he.mu.RLock()
	defer he.mu.RUnlock()
	out := make(map[string]HealthChecker, len(he.healthChecks))
	for name, c := range he.healthChecks {
		out[name] = c
	}
	return out
}

// CheckNames returns the registered component names in order
func (he *HealthEndpoint) CheckNames() []string {
	he.mu.RLock()
	defer he.mu.RUnlock()
	names := make([]string, 0, len(he.healthChecks))
	for name := range he.healthChecks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (he *HealthEndpoint) getHealthStatus() HealthStatus {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	components := make(map[string]ComponentHealth)
	overallHealthy := true
	hasDegraded := false

	for name, checker := range he.checkers() {
		if err := checker.HealthCheck(); err != nil {
			components[name] = ComponentHealth{Status: "unhealthy", Message: err.Error()}
			overallHealthy = false
		} else {
			components[name] = ComponentHealth{Status: "healthy"}
		}
	}

	if runtime.NumGoroutine() > 1000 {
		hasDegraded = true
		components["goroutines"] = ComponentHealth{Status: "degraded", Message: "High goroutine count"}
	}

	if m.Alloc > 500*1024*1024 {
		hasDegraded = true
		components["memory"] = ComponentHealth{Status: "degraded", Message: "High memory usage"}
	}

	status := "healthy"
	if !overallHealthy {
		status = "unhealthy"
	} else if hasDegraded {
		status = "degraded"
	}

	metrics := HealthMetrics{
		MemoryUsedMB:  m.Alloc / (1024 * 1024),
		MemoryTotalMB: m.Sys / (1024 * 1024),
		Goroutines:    runtime.NumGoroutine(),
		CPUs:          runtime.NumCPU(),
		GCPauseMs:     float64(m.PauseNs[(m.NumGC+255)%256]) / 1e6,
	}
	if he.resourceMon != nil {
		current := he.resourceMon.GetCurrentMetrics()
		metrics.Sessions = current.Sessions
		metrics.Shells = current.Shells
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Uptime:     time.Since(he.startTime).String(),
		Components: components,
		Metrics:    metrics,
	}
}
