package monitoring

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rama-kairi/termcore/internal/logger"
	"github.com/rama-kairi/termcore/internal/session"
)

// maxSamples bounds the in-memory sample history
const maxSamples = 1000

// ResourceMetrics holds one resource usage sample
type ResourceMetrics struct {
	Timestamp       time.Time `json:"timestamp"`
	Goroutines      int       `json:"goroutines"`
	MemoryAlloc     uint64    `json:"memory_alloc_mb"`
	MemoryHeapInuse uint64    `json:"memory_heap_inuse_mb"`
	MemoryHeapObjs  uint64    `json:"memory_heap_objects"`
	GCCount         uint32    `json:"gc_count"`
	Sessions        int       `json:"sessions"`
	OutputLines     int       `json:"output_lines"`
	HistoryEntries  int       `json:"history_entries"`
	Shells          int       `json:"shells"`
}

// gauges mirrors each sample into Prometheus
type gauges struct {
	goroutines     prometheus.Gauge
	heapAlloc      prometheus.Gauge
	sessions       prometheus.Gauge
	outputLines    prometheus.Gauge
	historyEntries prometheus.Gauge
	shells         prometheus.Gauge
	evicted        prometheus.Gauge
	expired        prometheus.Gauge
}

func newGauges(reg prometheus.Registerer) *gauges {
	f := promauto.With(reg)
	gauge := func(name, help string) prometheus.Gauge {
		return f.NewGauge(prometheus.GaugeOpts{Namespace: "termcore", Name: name, Help: help})
	}
	return &gauges{
		goroutines:     gauge("goroutines", "Current number of goroutines"),
		heapAlloc:      gauge("heap_alloc_bytes", "Heap bytes allocated"),
		sessions:       gauge("sessions_active", "Sessions in the store"),
		outputLines:    gauge("session_output_lines", "Output lines held across all sessions"),
		historyEntries: gauge("session_history_entries", "History entries held across all sessions"),
		shells:         gauge("shells_running", "Live session shells"),
		evicted:        gauge("sessions_evicted", "Sessions evicted to make room since start"),
		expired:        gauge("sessions_expired", "Sessions removed for inactivity since start"),
	}
}

// ResourceMonitor samples runtime and session store usage and warns about leaks
type ResourceMonitor struct {
	logger   *logger.Logger
	metrics  []ResourceMetrics
	mutex    sync.RWMutex
	stopCh   chan struct{}
	stopOnce sync.Once
	interval time.Duration

	baselineGoroutines int
	baselineMemory     uint64

	maxGoroutineIncrease int
	maxMemoryIncreaseMB  int

	sessionStats func() session.Stats
	shellCounter func() int
	last         session.Stats

	gauges *gauges
}

// NewResourceMonitor creates a resource monitor. A nil registerer disables
// the Prometheus gauges.
func NewResourceMonitor(log *logger.Logger, interval time.Duration, reg prometheus.Registerer) *ResourceMonitor {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	if log == nil {
		log = logger.NewNop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	rm := &ResourceMonitor{
		logger:               log.WithComponent("resource_monitor"),
		metrics:              make([]ResourceMetrics, 0, 64),
		interval:             interval,
		stopCh:               make(chan struct{}),
		baselineGoroutines:   runtime.NumGoroutine(),
		baselineMemory:       m.Alloc,
		maxGoroutineIncrease: 100,
		maxMemoryIncreaseMB:  200,
	}
	if reg != nil {
		rm.gauges = newGauges(reg)
	}
	return rm
}

// SetSources sets the callbacks that report store and shell usage
func (rm *ResourceMonitor) SetSources(sessionStats func() session.Stats, shellCounter func() int) {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()
	rm.sessionStats = sessionStats
	rm.shellCounter = shellCounter
}

// Start samples every interval until ctx is done or Stop is called
func (rm *ResourceMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(rm.interval)

	go func() {
		defer ticker.Stop()

		rm.recordMetrics()

		for {
			select {
			case <-ticker.C:
				rm.recordMetrics()
				rm.checkForLeaks()
			case <-rm.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	rm.logger.Info("Resource monitor started", map[string]interface{}{
		"interval":            rm.interval.String(),
		"baseline_goroutines": rm.baselineGoroutines,
		"baseline_memory_mb":  rm.baselineMemory / 1024 / 1024,
	})
}

// Stop stops sampling. It is safe to call more than once.
func (rm *ResourceMonitor) Stop() {
	rm.stopOnce.Do(func() {
		close(rm.stopCh)
		rm.logger.Info("Resource monitor stopped")
	})
}

func (rm *ResourceMonitor) recordMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	rm.mutex.RLock()
	statsFn, shellFn := rm.sessionStats, rm.shellCounter
	rm.mutex.RUnlock()

	var stats session.Stats
	if statsFn != nil {
		stats = statsFn()
	}
	shells := 0
	if shellFn != nil {
		shells = shellFn()
	}

	metric := ResourceMetrics{
		Timestamp:       time.Now(),
		Goroutines:      runtime.NumGoroutine(),
		MemoryAlloc:     m.Alloc / 1024 / 1024,
		MemoryHeapInuse: m.HeapInuse / 1024 / 1024,
		MemoryHeapObjs:  m.HeapObjects,
		GCCount:         m.NumGC,
		Sessions:        stats.Sessions,
		OutputLines:     stats.OutputLines,
		HistoryEntries:  stats.HistoryEntries,
		Shells:          shells,
	}

	rm.mutex.Lock()
	rm.metrics = append(rm.metrics, metric)
	if len(rm.metrics) > maxSamples {
		rm.metrics = rm.metrics[len(rm.metrics)-maxSamples:]
	}
	rm.last = stats
	rm.mutex.Unlock()

	if g := rm.gauges; g != nil {
		g.goroutines.Set(float64(metric.Goroutines))
		g.heapAlloc.Set(float64(m.Alloc))
		g.sessions.Set(float64(stats.Sessions))
		g.outputLines.Set(float64(stats.OutputLines))
		g.historyEntries.Set(float64(stats.HistoryEntries))
		g.shells.Set(float64(shells))
		g.evicted.Set(float64(stats.Evicted))
		g.expired.Set(float64(stats.Expired))
	}
}

// checkForLeaks compares the latest sample with the startup baseline
func (rm *ResourceMonitor) checkForLeaks() {
	rm.mutex.RLock()
	if len(rm.metrics) == 0 {
		rm.mutex.RUnlock()
		return
	}
	current := rm.metrics[len(rm.metrics)-1]
	rm.mutex.RUnlock()

	goroutineIncrease := current.Goroutines - rm.baselineGoroutines
	memoryIncreaseMB := int(current.MemoryAlloc) - int(rm.baselineMemory/1024/1024)

	if goroutineIncrease > rm.maxGoroutineIncrease {
		rm.logger.Warn("potential_goroutine_leak", map[string]interface{}{
			"current_goroutines":  current.Goroutines,
			"baseline_goroutines": rm.baselineGoroutines,
			"increase":            goroutineIncrease,
			"threshold":           rm.maxGoroutineIncrease,
			"sessions":            current.Sessions,
			"shells":              current.Shells,
		})
	}

	if memoryIncreaseMB > rm.maxMemoryIncreaseMB {
		rm.logger.Warn("potential_memory_leak", map[string]interface{}{
			"current_memory_mb":  current.MemoryAlloc,
			"baseline_memory_mb": rm.baselineMemory / 1024 / 1024,
			"increase_mb":        memoryIncreaseMB,
			"threshold_mb":       rm.maxMemoryIncreaseMB,
			"output_lines":       current.OutputLines,
			"sessions":           current.Sessions,
		})
	}
}

// GetCurrentMetrics returns the latest sample
func (rm *ResourceMonitor) GetCurrentMetrics() ResourceMetrics {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	if len(rm.metrics) == 0 {
		return ResourceMetrics{}
	}
	return rm.metrics[len(rm.metrics)-1]
}

// Samples returns how many samples are retained
func (rm *ResourceMonitor) Samples() int {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()
	return len(rm.metrics)
}

// Sample takes a measurement now
func (rm *ResourceMonitor) Sample() ResourceMetrics {
	rm.recordMetrics()
	return rm.GetCurrentMetrics()
}

// GetResourceSummary returns the latest sample with leak indicators
func (rm *ResourceMonitor) GetResourceSummary() map[string]interface{} {
	current := rm.GetCurrentMetrics()

	rm.mutex.RLock()
	last := rm.last
	rm.mutex.RUnlock()

	goroutineIncrease := current.Goroutines - rm.baselineGoroutines
	memoryIncreaseMB := int(current.MemoryAlloc) - int(rm.baselineMemory/1024/1024)

	return map[string]interface{}{
		"timestamp":                current.Timestamp.Format(time.RFC3339),
		"goroutines":               current.Goroutines,
		"goroutines_increase":      goroutineIncrease,
		"memory_alloc_mb":          current.MemoryAlloc,
		"memory_increase_mb":       memoryIncreaseMB,
		"memory_heap_inuse_mb":     current.MemoryHeapInuse,
		"heap_objects":             current.MemoryHeapObjs,
		"gc_count":                 current.GCCount,
		"sessions":                 current.Sessions,
		"output_lines":             current.OutputLines,
		"history_entries":          current.HistoryEntries,
		"shells":                   current.Shells,
		"sessions_evicted":         last.Evicted,
		"sessions_expired":         last.Expired,
		"potential_goroutine_leak": goroutineIncrease > rm.maxGoroutineIncrease,
		"potential_memory_leak":    memoryIncreaseMB > rm.maxMemoryIncreaseMB,
	}
}
