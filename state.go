package mqttc

// ConnState is the connection state of a Client.
type ConnState int

// Connection states. A client cycles Idle → TCPConnected → Connected →
// Disconnecting → Idle; any failure returns it to Idle directly.
const (
	// StateIdle is the state of an initialized client without a transport,
	// and of a client that has been torn down.
	StateIdle ConnState = iota

	// StateTCPConnected means the transport is open and CONNECT was sent.
	StateTCPConnected

	// StateConnected means the broker accepted the connection.
	StateConnected

	// StateDisconnecting means DISCONNECT was sent and teardown is due on
	// the next Input or Live call.
	StateDisconnecting
)

// String returns the string representation of the state.
func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTCPConnected:
		return "tcp-connected"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// hasTransport reports whether a client in state s owns an open transport.
func (s ConnState) hasTransport() bool {
	return s != StateIdle
}
