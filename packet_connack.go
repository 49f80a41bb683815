package mqttc

// ConnackReturnCode is the CONNACK return code.
type ConnackReturnCode byte

// CONNACK return codes (MQTT 3.1.1 section 3.2.2.3).
const (
	ConnectionAccepted          ConnackReturnCode = 0x00
	UnacceptableProtocolVersion ConnackReturnCode = 0x01
	IdentifierRejected          ConnackReturnCode = 0x02
	ServerUnavailable           ConnackReturnCode = 0x03
	BadUserNameOrPassword       ConnackReturnCode = 0x04
	NotAuthorized               ConnackReturnCode = 0x05
)

// String returns the string representation of the return code.
func (c ConnackReturnCode) String() string {
	switch c {
	case ConnectionAccepted:
		return "connection accepted"
	case UnacceptableProtocolVersion:
		return "unacceptable protocol version"
	case IdentifierRejected:
		return "identifier rejected"
	case ServerUnavailable:
		return "server unavailable"
	case BadUserNameOrPassword:
		return "bad user name or password"
	case NotAuthorized:
		return "not authorized"
	default:
		return "unknown return code"
	}
}

// ConnackParam is the decoded content of CONNACK.
type ConnackParam struct {
	// SessionPresent is only reported by MQTT 3.1.1 brokers.
	SessionPresent bool
	ReturnCode     ConnackReturnCode
}

func decodeConnack(d *decoder, version ProtocolVersion) (ConnackParam, error) {
	var p ConnackParam

	ackFlags, err := d.readUint8()
	if err != nil {
		return p, err
	}

	code, err := d.readUint8()
	if err != nil {
		return p, err
	}

	if version == ProtocolV311 {
		p.SessionPresent = ackFlags&0x01 != 0
	}
	p.ReturnCode = ConnackReturnCode(code)

	return p, nil
}
