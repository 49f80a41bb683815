package mqttc

import "time"

// Client is the per-connection context of one MQTT client. The exported
// fields configure the connection; set them after Engine.ClientInit and before
// Engine.Connect. Everything else is owned by the Engine and guarded by its
// lock.
type Client struct {
	// ClientID is the client identifier. Required, non-empty.
	ClientID string

	// ProtocolVersion selects MQTT 3.1 or 3.1.1. Defaults to 3.1.1.
	ProtocolVersion ProtocolVersion

	// CleanSession asks the broker to discard prior session state.
	// Defaults to true.
	CleanSession bool

	// Auth holds optional credentials.
	Auth *Auth

	// Will holds an optional last will.
	Will *Will

	// Broker is the address handed to Transport.Connect.
	Broker string

	// Transport moves bytes to and from the broker. Once Connect succeeds
	// the transport belongs to the client until teardown.
	Transport Transport

	state           ConnState
	pendingWrite    bool
	pingOutstanding bool

	// tx and rx are BlockPool blocks. rxLen counts buffered bytes that do not
	// yet form a complete packet.
	tx    []byte
	rx    []byte
	rxLen int

	lastActivity time.Time
	slot         int

	// gen counts connections; code that released the lock compares it to
	// detect a teardown or reconnect that happened meanwhile.
	gen uint64

	// closing is set once teardown started while a write was in flight.
	// The writer completes the teardown with closeReason.
	closing     bool
	closeReason error
	closeLabel  string
}

// active reports whether the client owns a transport that is not being torn
// down.
func (c *Client) active() bool {
	return c.state.hasTransport() && !c.closing
}

// hasBuffers reports whether the client owns both of its blocks.
func (c *Client) hasBuffers() bool {
	return c.tx != nil && c.rx != nil
}
