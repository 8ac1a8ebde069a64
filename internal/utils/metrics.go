// internal/utils/metrics.go
package utils

import (
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector collects application metrics
type MetricsCollector struct {
	counters   map[string]*Counter
	histograms map[string]*Histogram

	mu sync.RWMutex
}

// Counter metric - using atomic operations for thread-safe value updates
type Counter struct {
	name  string
	value int64
}

// Histogram metric (simple implementation tracking count, sum, min, max)
type Histogram struct {
	name  string
	count int64
	sum   int64
	min   int64
	max   int64
	mu    sync.Mutex
}

var (
	globalMetrics *MetricsCollector
	metricsOnce   sync.Once
)

// GetMetricsCollector returns the global metrics collector
func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		globalMetrics = &MetricsCollector{
			counters:   make(map[string]*Counter),
			histograms: make(map[string]*Histogram),
		}
	})
	return globalMetrics
}

// Counter returns the named counter, creating it on first use
func (m *MetricsCollector) Counter(name string) *Counter {
	m.mu.RLock()
	if c, ok := m.counters[name]; ok {
		m.mu.RUnlock()
		return c
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counters[name]; ok {
		return c
	}
	c := &Counter{name: name}
	m.counters[name] = c
	return c
}

// Histogram returns the named histogram, creating it on first use
func (m *MetricsCollector) Histogram(name string) *Histogram {
	m.mu.RLock()
	if h, ok := m.histograms[name]; ok {
		m.mu.RUnlock()
		return h
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.histograms[name]; ok {
		return h
	}
	h := &Histogram{name: name}
	m.histograms[name] = h
	return h
}

// Inc increments the counter by one
func (c *Counter) Inc() {
	atomic.AddInt64(&c.value, 1)
}

// Value returns the current counter value
func (c *Counter) Value() int64 {
	return atomic.LoadInt64(&c.value)
}

// Observe records one duration sample
func (h *Histogram) Observe(d time.Duration) {
	ms := d.Milliseconds()

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 || ms < h.min {
		h.min = ms
	}
	if ms > h.max {
		h.max = ms
	}
	h.count++
	h.sum += ms
}

// Summary returns count, mean, min and max in milliseconds
func (h *Histogram) Summary() (count int64, mean float64, min int64, max int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return 0, 0, 0, 0
	}
	return h.count, float64(h.sum) / float64(h.count), h.min, h.max
}

// Snapshot returns all metric values for the debug endpoint
func (m *MetricsCollector) Snapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := make(map[string]interface{})
	for name, c := range m.counters {
		snapshot[name] = c.Value()
	}
	for name, h := range m.histograms {
		count, mean, min, max := h.Summary()
		snapshot[name+"_ms"] = map[string]interface{}{
			"count": count,
			"mean":  mean,
			"min":   min,
			"max":   max,
		}
	}
	return snapshot
}
