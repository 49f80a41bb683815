package mqttc

import (
	"time"
)

// MetricLabels are the label pairs of one metric series.
type MetricLabels map[string]string

// Metrics is the sink the Engine records into. Implementations adapt it to a
// metrics system; MemoryMetrics keeps the values in memory.
type Metrics interface {
	Counter(name string, labels MetricLabels) Counter
	Gauge(name string, labels MetricLabels) Gauge
	Histogram(name string, labels MetricLabels) Histogram
}

// Counter only grows.
type Counter interface {
	Add(delta float64)
	Value() float64
}

// Gauge moves both ways.
type Gauge interface {
	Add(delta float64)
	Set(value float64)
	Value() float64
}

// Histogram records observations. The Engine observes durations in seconds.
type Histogram interface {
	Observe(value float64)
	Count() uint64
	Sum() float64
}

// NoOpMetrics discards everything. It is the Engine default.
type NoOpMetrics struct{}

// Counter returns a counter that discards updates.
func (NoOpMetrics) Counter(string, MetricLabels) Counter { return discard{} }

// Gauge returns a gauge that discards updates.
func (NoOpMetrics) Gauge(string, MetricLabels) Gauge { return discard{} }

// Histogram returns a histogram that discards observations.
func (NoOpMetrics) Histogram(string, MetricLabels) Histogram { return discard{} }

// discard implements Counter, Gauge and Histogram.
type discard struct{}

func (discard) Add(float64) {}
func (discard) Set(float64) {}
func (discard) Observe(float64) {}
func (discard) Value() float64 { return 0 }
func (discard) Count() uint64 { return 0 }
func (discard) Sum() float64 { return 0 }

// Metric names recorded by the Engine.
const (
	// MetricPacketsSent counts packets written, labeled by packet type.
	MetricPacketsSent = "mqttc_packets_sent_total"

	// MetricPacketsReceived counts packets decoded, labeled by packet type.
	MetricPacketsReceived = "mqttc_packets_received_total"

	// MetricBytesSent counts bytes written to transports.
	MetricBytesSent = "mqttc_bytes_sent_total"

	// MetricBytesReceived counts bytes read from transports.
	MetricBytesReceived = "mqttc_bytes_received_total"

	// MetricClientsActive is the number of clients holding a registry slot.
	MetricClientsActive = "mqttc_clients_active"

	// MetricAborts counts connection teardowns, labeled by reason.
	MetricAborts = "mqttc_aborts_total"

	// MetricPingsSent counts PINGREQ packets sent by Live.
	MetricPingsSent = "mqttc_pings_sent_total"

	// MetricWriteLatency observes transport write durations.
	MetricWriteLatency = "mqttc_write_latency_seconds"
)

// Standard metric labels.
const (
	// LabelPacketType is the packet type label.
	LabelPacketType = "packet_type"

	// LabelReason is the teardown reason label.
	LabelReason = "reason"
)

// Teardown reasons used with LabelReason.
const (
	reasonGraceful  = "graceful"
	reasonRemote    = "remote_close"
	reasonTransport = "transport"
	reasonProtocol  = "protocol"
	reasonRefused   = "refused"
	reasonKeepAlive = "keep_alive"
	reasonAbort     = "abort"
)

// engineMetrics provides convenience methods for the engine metrics.
type engineMetrics struct {
	metrics Metrics
}

func newEngineMetrics(m Metrics) *engineMetrics {
	if m == nil {
		m = NoOpMetrics{}
	}
	return &engineMetrics{metrics: m}
}

func (e *engineMetrics) packetSent(t PacketType, n int, d time.Duration) {
	e.metrics.Counter(MetricPacketsSent, MetricLabels{LabelPacketType: t.String()}).Add(1)
	e.metrics.Counter(MetricBytesSent, nil).Add(float64(n))
	e.metrics.Histogram(MetricWriteLatency, nil).Observe(d.Seconds())
}

func (e *engineMetrics) packetReceived(t PacketType) {
	e.metrics.Counter(MetricPacketsReceived, MetricLabels{LabelPacketType: t.String()}).Add(1)
}

func (e *engineMetrics) bytesReceived(n int) {
	e.metrics.Counter(MetricBytesReceived, nil).Add(float64(n))
}

func (e *engineMetrics) clientAcquired() {
	e.metrics.Gauge(MetricClientsActive, nil).Add(1)
}

func (e *engineMetrics) clientReleased(reason string) {
	e.metrics.Gauge(MetricClientsActive, nil).Add(-1)
	e.metrics.Counter(MetricAborts, MetricLabels{LabelReason: reason}).Add(1)
}

func (e *engineMetrics) pingSent() {
	e.metrics.Counter(MetricPingsSent, nil).Add(1)
}
