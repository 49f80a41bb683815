package mqttc

import (
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

// MemoryMetrics is an in-memory implementation of Metrics, used by tests and
// by applications that export the values themselves.
type MemoryMetrics struct {
	mu         sync.RWMutex
	counters   map[string]*memoryCounter
	gauges     map[string]*memoryGauge
	histograms map[string]*memoryHistogram
}

// NewMemoryMetrics creates a new in-memory metrics instance.
func NewMemoryMetrics() *MemoryMetrics {
	return &MemoryMetrics{
		counters:   make(map[string]*memoryCounter),
		gauges:     make(map[string]*memoryGauge),
		histograms: make(map[string]*memoryHistogram),
	}
}

// labelsKey builds a map key that does not depend on label iteration order.
func labelsKey(name string, labels MetricLabels) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString("|" + k + "=" + labels[k])
	}

	return b.String()
}

func getOrCreate[T any](mu *sync.RWMutex, m map[string]*T, key string) *T {
	mu.Lock()
	defer mu.Unlock()

	if v, ok := m[key]; ok {
		return v
	}

	v := new(T)
	m[key] = v
	return v
}

func lookup[T any](mu *sync.RWMutex, m map[string]*T, key string) (*T, bool) {
	mu.RLock()
	defer mu.RUnlock()

	v, ok := m[key]
	return v, ok
}

// Counter returns a counter metric.
func (m *MemoryMetrics) Counter(name string, labels MetricLabels) Counter {
	return getOrCreate(&m.mu, m.counters, labelsKey(name, labels))
}

// Gauge returns a gauge metric.
func (m *MemoryMetrics) Gauge(name string, labels MetricLabels) Gauge {
	return getOrCreate(&m.mu, m.gauges, labelsKey(name, labels))
}

// Histogram returns a histogram metric.
func (m *MemoryMetrics) Histogram(name string, labels MetricLabels) Histogram {
	return getOrCreate(&m.mu, m.histograms, labelsKey(name, labels))
}

// CounterValue returns the value of a counter, or 0 if it was never touched.
func (m *MemoryMetrics) CounterValue(name string, labels MetricLabels) float64 {
	if c, ok := lookup(&m.mu, m.counters, labelsKey(name, labels)); ok {
		return c.Value()
	}
	return 0
}

// GaugeValue returns the value of a gauge, or 0 if it was never touched.
func (m *MemoryMetrics) GaugeValue(name string, labels MetricLabels) float64 {
	if g, ok := lookup(&m.mu, m.gauges, labelsKey(name, labels)); ok {
		return g.Value()
	}
	return 0
}

// HistogramCount returns the number of observations of a histogram.
func (m *MemoryMetrics) HistogramCount(name string, labels MetricLabels) uint64 {
	if h, ok := lookup(&m.mu, m.histograms, labelsKey(name, labels)); ok {
		return h.Count()
	}
	return 0
}

// atomicFloat is a float64 updated with compare-and-swap.
type atomicFloat struct {
	bits atomic.Uint64
}

func (f *atomicFloat) add(delta float64) {
	for {
		old := f.bits.Load()
		if f.bits.CompareAndSwap(old, math.Float64bits(math.Float64frombits(old)+delta)) {
			return
		}
	}
}

func (f *atomicFloat) store(v float64) {
	f.bits.Store(math.Float64bits(v))
}

func (f *atomicFloat) load() float64 {
	return math.Float64frombits(f.bits.Load())
}

type memoryCounter struct {
	value atomicFloat
}

// Add ignores negative deltas; counters only grow.
func (c *memoryCounter) Add(delta float64) {
	if delta > 0 {
		c.value.add(delta)
	}
}

func (c *memoryCounter) Value() float64 { return c.value.load() }

type memoryGauge struct {
	value atomicFloat
}

func (g *memoryGauge) Add(delta float64) { g.value.add(delta) }
func (g *memoryGauge) Set(value float64) { g.value.store(value) }
func (g *memoryGauge) Value() float64 { return g.value.load() }

type memoryHistogram struct {
	count atomic.Uint64
	sum   atomicFloat
}

func (h *memoryHistogram) Observe(value float64) {
	h.count.Add(1)
	h.sum.add(value)
}

func (h *memoryHistogram) Count() uint64 {
	return h.count.Load()
}

func (h *memoryHistogram) Sum() float64 {
	return h.sum.load()
}
