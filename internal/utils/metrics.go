// internal/utils/metrics.go
package utils

import (
	"sync"
	"sync/atomic"
)

// MetricsCollector collects application metrics
type MetricsCollector struct {
	counters map[string]*Counter
	mu       sync.RWMutex
}

// Counter metric - using atomic operations for thread-safe value updates
type Counter struct {
	value int64
}

var (
	globalMetrics *MetricsCollector
	metricsOnce   sync.Once
)

// GetMetricsCollector returns the global metrics collector
func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		globalMetrics = &MetricsCollector{
			counters: make(map[string]*Counter),
		}
	})
	return globalMetrics
}

// NewMetricsCollector creates an isolated collector (used by tests)
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters: make(map[string]*Counter),
	}
}

func (m *MetricsCollector) counter(name string) *Counter {
	m.mu.RLock()
	c, exists := m.counters[name]
	m.mu.RUnlock()
	if exists {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, exists = m.counters[name]; exists {
		return c
	}
	c = &Counter{}
	m.counters[name] = c
	return c
}

// IncrementCounter increments a counter metric
func (m *MetricsCollector) IncrementCounter(name string) {
	atomic.AddInt64(&m.counter(name).value, 1)
}

// AddToCounter adds a value to a counter metric
func (m *MetricsCollector) AddToCounter(name string, delta int64) {
	atomic.AddInt64(&m.counter(name).value, delta)
}

// GetCounter returns the current value of a counter
func (m *MetricsCollector) GetCounter(name string) int64 {
	return atomic.LoadInt64(&m.counter(name).value)
}

// Snapshot returns a copy of all counter values
func (m *MetricsCollector) Snapshot() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := make(map[string]int64, len(m.counters))
	for name, c := range m.counters {
		snapshot[name] = atomic.LoadInt64(&c.value)
	}
	return snapshot
}
