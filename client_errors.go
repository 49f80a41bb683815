package mqttc

import "errors"

// Sentinel errors for parameter validation - check with errors.Is().
var (
	// ErrInvalidParam is returned for a nil client, list or message.
	ErrInvalidParam = errors.New("mqttc: invalid parameter")

	// ErrEmptyClientID is returned by Connect when the client id is empty.
	ErrEmptyClientID = errors.New("mqttc: empty client id")

	// ErrMissingMessageID is returned when a mandatory message id is zero.
	ErrMissingMessageID = errors.New("mqttc: message id must be non-zero")

	// ErrInvalidQoS is returned for a QoS level above 2.
	ErrInvalidQoS = errors.New("mqttc: invalid QoS")
)

// Sentinel errors for sequencing - check with errors.Is().
var (
	// ErrNotConnected is returned when an operation requires an MQTT connection.
	ErrNotConnected = errors.New("mqttc: not connected")

	// ErrAlreadyConnected is returned by Connect for a client that is not idle.
	ErrAlreadyConnected = errors.New("mqttc: already connected")

	// ErrBusy is returned when another write is pending on the same client.
	ErrBusy = errors.New("mqttc: write pending")

	// ErrNotPermitted is returned by Input for a client without a connection.
	ErrNotPermitted = errors.New("mqttc: operation not permitted")

	// ErrNoResources is returned when the registry is full or the client has
	// no buffers.
	ErrNoResources = errors.New("mqttc: out of resources")
)

// Sentinel errors for connection failures - check with errors.Is().
var (
	// ErrWouldBlock is returned by a non-blocking Transport.Read without data.
	ErrWouldBlock = errors.New("mqttc: operation would block")

	// ErrTransport marks errors reported by the transport.
	ErrTransport = errors.New("mqttc: transport error")

	// ErrConnectionRefused is reported when the broker refuses CONNECT or the
	// connection failed before CONNACK.
	ErrConnectionRefused = errors.New("mqttc: connection refused")

	// ErrPacketTooLarge is reported when an inbound packet exceeds the
	// maximum packet size.
	ErrPacketTooLarge = errors.New("mqttc: packet exceeds maximum size")

	// ErrMalformedPacket is reported when an inbound packet fails decoding.
	ErrMalformedPacket = errors.New("mqttc: malformed packet")

	// ErrConnectionAborted is the DISCONNECT result after Engine.Abort.
	ErrConnectionAborted = errors.New("mqttc: connection aborted")

	// ErrKeepAliveTimeout is reported when the broker does not answer PINGREQ
	// within one keep-alive interval.
	ErrKeepAliveTimeout = errors.New("mqttc: keep-alive timeout")
)

// ConnectError contains the return code of a refused CONNACK.
// Extract with errors.As().
type ConnectError struct {
	ReturnCode ConnackReturnCode
}

func (e *ConnectError) Error() string {
	return "mqttc: connect refused: " + e.ReturnCode.String()
}

func (e *ConnectError) Unwrap() error { return ErrConnectionRefused }

// TransportError wraps a failure of one transport operation.
// Extract with errors.As().
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "mqttc: transport " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }

func transportError(op string, err error) error {
	return &TransportError{Op: op, Err: err}
}
