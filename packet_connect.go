package mqttc

// CONNECT flag bits.
const (
	connectFlagCleanSession = 0x02
	connectFlagWill         = 0x04
	connectFlagWillRetain   = 0x20
	connectFlagPassword     = 0x40
	connectFlagUsername     = 0x80
)

var (
	protocolNameV31  = []byte("MQIsdp")
	protocolNameV311 = []byte("MQTT")
)

// encodeConnect builds the CONNECT packet for c inside tx. The returned slice
// aliases tx.
func encodeConnect(c *Client, tx []byte, keepAlive uint16) ([]byte, error) {
	enc := newEncoder(tx[fixedHeaderMaxSize:])

	name := protocolNameV311
	if c.ProtocolVersion == ProtocolV31 {
		name = protocolNameV31
	}

	if err := enc.putUTF8(name); err != nil {
		return nil, err
	}
	if err := enc.putUint8(byte(c.ProtocolVersion)); err != nil {
		return nil, err
	}

	// Connect flags are known only after the payload is packed.
	flagsPos := enc.pos
	if err := enc.putUint8(0); err != nil {
		return nil, err
	}

	var flags byte
	if c.CleanSession {
		flags |= connectFlagCleanSession
	}

	if err := enc.putUint16(keepAlive); err != nil {
		return nil, err
	}
	if err := enc.putUTF8([]byte(c.ClientID)); err != nil {
		return nil, err
	}

	if w := c.Will; w != nil {
		if !w.QoS.Valid() {
			return nil, ErrInvalidQoS
		}

		flags |= connectFlagWill | byte(w.QoS)<<3
		if w.Retain {
			flags |= connectFlagWillRetain
		}

		if err := enc.putUTF8([]byte(w.Topic)); err != nil {
			return nil, err
		}
		if err := enc.putUTF8(w.Message); err != nil {
			return nil, err
		}
	}

	// A password is only valid together with a user name.
	if a := c.Auth; a != nil {
		flags |= connectFlagUsername
		if err := enc.putUTF8([]byte(a.Username)); err != nil {
			return nil, err
		}

		if a.Password != nil {
			flags |= connectFlagPassword
			if err := enc.putUTF8(a.Password); err != nil {
				return nil, err
			}
		}
	}

	enc.buf[flagsPos] = flags

	// MQTT 3.1 brokers expect QoS 1 in the CONNECT fixed header.
	qos := QoS0
	if c.ProtocolVersion == ProtocolV31 {
		qos = QoS1
	}

	return prependFixedHeader(tx, fixedHeaderMaxSize, typeFlags(PacketCONNECT, false, qos, false), enc.pos)
}
