package mqttc

import "time"

// Engine defaults.
const (
	// DefaultMaxClients is the default number of registry slots.
	DefaultMaxClients = 1

	// DefaultMaxPacketSize is the default size of each TX and RX block and
	// thus the largest packet a client can send or receive.
	DefaultMaxPacketSize = 128

	// MinPacketSize is the smallest accepted block size. It fits the fixed
	// header slack plus a CONNECT with a short client id.
	MinPacketSize = 32
)

// engineOptions holds configuration for an Engine.
type engineOptions struct {
	maxClients    int
	maxPacketSize int
	keepAlive     uint16

	logger   Logger
	metrics  Metrics
	onEvent  EventHandler
	now      func() time.Time
	registry Registry
}

func defaultEngineOptions() *engineOptions {
	return &engineOptions{
		maxClients:    DefaultMaxClients,
		maxPacketSize: DefaultMaxPacketSize,
		logger:        NoOpLogger{},
		metrics:       NoOpMetrics{},
		now:           time.Now,
	}
}

// Option configures an Engine.
type Option func(*engineOptions)

// WithMaxClients sets the number of clients that can be connected at the
// same time. The buffer pool holds two blocks per client. Values below 1 are
// ignored.
//
// Default: 1
func WithMaxClients(n int) Option {
	return func(o *engineOptions) {
		if n > 0 {
			o.maxClients = n
		}
	}
}

// WithMaxPacketSize sets the size of the per-client TX and RX blocks.
// Values below MinPacketSize are raised to it and values above the protocol
// maximum are clamped.
//
// Default: 128
func WithMaxPacketSize(size int) Option {
	return func(o *engineOptions) {
		size = max(size, MinPacketSize)
		size = min(size, maxRemainingLength+fixedHeaderMaxSize)
		o.maxPacketSize = size
	}
}

// WithKeepAlive sets the keep-alive interval in seconds sent in CONNECT and
// used by Live. Zero disables keep-alive.
//
// Default: 0
func WithKeepAlive(seconds uint16) Option {
	return func(o *engineOptions) {
		o.keepAlive = seconds
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(o *engineOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(metrics Metrics) Option {
	return func(o *engineOptions) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// WithEventHandler sets the callback receiving events for every client.
func WithEventHandler(handler EventHandler) Option {
	return func(o *engineOptions) {
		o.onEvent = handler
	}
}

// WithClock replaces the clock used for keep-alive bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRegistry replaces the default SlotRegistry. The registry capacity
// takes precedence over WithMaxClients.
func WithRegistry(r Registry) Option {
	return func(o *engineOptions) {
		o.registry = r
	}
}
