package mqttc

// encodePublish builds a PUBLISH packet inside tx. The payload is copied once,
// directly behind the variable header.
func encodePublish(p *PublishParam, tx []byte) ([]byte, error) {
	if !p.Message.QoS.Valid() {
		return nil, ErrInvalidQoS
	}

	if p.Message.QoS > QoS0 && p.MessageID == 0 {
		return nil, ErrMissingMessageID
	}

	enc := newEncoder(tx[fixedHeaderMaxSize:])

	if err := enc.putUTF8([]byte(p.Message.Topic)); err != nil {
		return nil, err
	}

	if p.Message.QoS > QoS0 {
		if err := enc.putUint16(p.MessageID); err != nil {
			return nil, err
		}
	}

	if err := enc.putBinary(p.Message.Payload); err != nil {
		return nil, err
	}

	first := typeFlags(PacketPUBLISH, p.Dup, p.Message.QoS, p.Retain)
	return prependFixedHeader(tx, fixedHeaderMaxSize, first, enc.pos)
}

// decodePublish decodes the PUBLISH variable header and payload. first is the
// fixed header type byte carrying DUP, QoS and RETAIN. Topic and payload are
// copied out of the receive buffer.
func decodePublish(d *decoder, first byte) (PublishParam, error) {
	var p PublishParam

	p.Dup = first&flagDUP != 0
	p.Retain = first&flagRetain != 0
	p.Message.QoS = QoS((first >> 1) & 0x03)

	if !p.Message.QoS.Valid() {
		return p, ErrMalformedPacket
	}

	topic, err := d.readUTF8()
	if err != nil {
		return p, err
	}
	p.Message.Topic = string(topic)

	if p.Message.QoS > QoS0 {
		if p.MessageID, err = d.readUint16(); err != nil {
			return p, err
		}
	}

	payload := d.readBinary()
	p.Message.Payload = append(make([]byte, 0, len(payload)), payload...)

	return p, nil
}
