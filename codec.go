package mqttc

import "fmt"

// expectedFlags returns the fixed header flags a broker must send for t, and
// false for packet types a client never receives.
func expectedFlags(t PacketType) (byte, bool) {
	switch t {
	case PacketCONNACK, PacketPUBACK, PacketPUBREC, PacketPUBCOMP,
		PacketSUBACK, PacketUNSUBACK, PacketPINGRESP:
		return 0x00, true
	case PacketPUBREL:
		return 0x02, true
	default:
		return 0, false
	}
}

// decodePacket decodes the body of one complete inbound packet. A nil event
// with a nil error means the packet is consumed without notifying the
// application.
func decodePacket(first byte, body []byte, version ProtocolVersion) (*Event, error) {
	t := PacketType(first >> 4)
	d := newDecoder(body)

	if t != PacketPUBLISH {
		flags, ok := expectedFlags(t)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected %s from broker", ErrMalformedPacket, t)
		}
		if first&0x0F != flags {
			return nil, fmt.Errorf("%w: invalid %s flags 0x%02x", ErrMalformedPacket, t, first&0x0F)
		}
	}

	ev := &Event{}
	var err error

	switch t {
	case PacketCONNACK:
		ev.Type = EventConnack
		ev.Connack, err = decodeConnack(d, version)
	case PacketPUBLISH:
		ev.Type = EventPublish
		ev.Publish, err = decodePublish(d, first)
	case PacketPUBACK:
		ev.Type = EventPuback
		ev.MessageID, err = decodeMessageID(d)
	case PacketPUBREC:
		ev.Type = EventPubrec
		ev.MessageID, err = decodeMessageID(d)
	case PacketPUBREL:
		ev.Type = EventPubrel
		ev.MessageID, err = decodeMessageID(d)
	case PacketPUBCOMP:
		ev.Type = EventPubcomp
		ev.MessageID, err = decodeMessageID(d)
	case PacketSUBACK:
		ev.Type = EventSuback
		ev.Suback, err = decodeSuback(d)
	case PacketUNSUBACK:
		ev.Type = EventUnsuback
		ev.MessageID, err = decodeMessageID(d)
	case PacketPINGRESP:
		ev = nil
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedPacket, t, err)
	}

	if d.remaining() != 0 {
		return nil, fmt.Errorf("%w: %s has %d trailing bytes", ErrMalformedPacket, t, d.remaining())
	}

	return ev, nil
}
