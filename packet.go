package mqttc

// QoS is the MQTT Quality of Service level.
type QoS byte

// QoS levels.
const (
	QoS0 QoS = 0 // at most once
	QoS1 QoS = 1 // at least once, acknowledged by PUBACK
	QoS2 QoS = 2 // exactly once, PUBREC / PUBREL / PUBCOMP
)

// Valid returns true if q is 0, 1 or 2.
func (q QoS) Valid() bool {
	return q <= QoS2
}

// ProtocolVersion is the protocol level byte sent in CONNECT.
type ProtocolVersion byte

// Supported protocol versions.
const (
	ProtocolV31  ProtocolVersion = 3 // MQTT 3.1, protocol name "MQIsdp"
	ProtocolV311 ProtocolVersion = 4 // MQTT 3.1.1, protocol name "MQTT"
)

// String returns the human readable protocol version.
func (v ProtocolVersion) String() string {
	switch v {
	case ProtocolV31:
		return "3.1"
	case ProtocolV311:
		return "3.1.1"
	default:
		return "unknown"
	}
}

// Message is an application message carried by PUBLISH.
type Message struct {
	// Topic is the topic name to publish to or received from.
	Topic string

	// Payload is the application payload. Received payloads are copies
	// owned by the receiver and may be retained after the event returns.
	Payload []byte

	// QoS is the Quality of Service level.
	QoS QoS
}

// PublishParam describes a PUBLISH packet, outbound or inbound.
type PublishParam struct {
	Message

	// MessageID is mandatory (non-zero) when Message.QoS > 0.
	MessageID uint16

	Dup    bool
	Retain bool
}

// TopicQoS is one entry of a subscription list.
type TopicQoS struct {
	Topic string
	QoS   QoS
}

// SubscriptionList is the input of SUBSCRIBE and UNSUBSCRIBE. QoS values are
// ignored for UNSUBSCRIBE.
type SubscriptionList struct {
	MessageID uint16
	Topics    []TopicQoS
}

// Auth carries CONNECT credentials. A nil Password omits the password field,
// a non-nil empty one sends a zero-length password.
type Auth struct {
	Username string
	Password []byte
}

// Will is the last will registered with the broker at CONNECT time.
// A nil Message is sent as a zero-length will message.
type Will struct {
	Topic   string
	Message []byte
	QoS     QoS
	Retain  bool
}
