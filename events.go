package mqttc

// EventType identifies the kind of event raised to the application.
type EventType int

// Event types.
const (
	EventConnack EventType = iota + 1
	EventDisconnect
	EventPublish
	EventPuback
	EventPubrec
	EventPubrel
	EventPubcomp
	EventSuback
	EventUnsuback
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventConnack:
		return "CONNACK"
	case EventDisconnect:
		return "DISCONNECT"
	case EventPublish:
		return "PUBLISH"
	case EventPuback:
		return "PUBACK"
	case EventPubrec:
		return "PUBREC"
	case EventPubrel:
		return "PUBREL"
	case EventPubcomp:
		return "PUBCOMP"
	case EventSuback:
		return "SUBACK"
	case EventUnsuback:
		return "UNSUBACK"
	default:
		return "UNKNOWN"
	}
}

// Event is raised for every decoded inbound packet and for every connection
// teardown. Only the field matching Type is set.
type Event struct {
	Type EventType

	// Result is nil on success. For CONNACK it wraps ErrConnectionRefused when
	// the broker refused or the connection failed; for DISCONNECT it carries
	// the teardown reason, nil for a graceful close.
	Result error

	Connack ConnackParam
	Publish PublishParam
	Suback  SubackParam

	// MessageID is set for PUBACK, PUBREC, PUBREL, PUBCOMP and UNSUBACK.
	MessageID uint16
}

// EventHandler receives events. It runs with the engine lock released.
type EventHandler func(c *Client, ev *Event)
