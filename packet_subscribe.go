package mqttc

// SubackFailure is the SUBACK return code for a rejected topic filter.
const SubackFailure byte = 0x80

// SubackParam is the decoded content of SUBACK.
type SubackParam struct {
	MessageID uint16

	// ReturnCodes holds one granted QoS (or SubackFailure) per requested
	// topic filter, in request order.
	ReturnCodes []byte
}

func encodeSubscribe(list *SubscriptionList, tx []byte) ([]byte, error) {
	if list.MessageID == 0 {
		return nil, ErrMissingMessageID
	}
	if len(list.Topics) == 0 {
		return nil, ErrInvalidParam
	}

	enc := newEncoder(tx[fixedHeaderMaxSize:])
	if err := enc.putUint16(list.MessageID); err != nil {
		return nil, err
	}

	for _, t := range list.Topics {
		if !t.QoS.Valid() {
			return nil, ErrInvalidQoS
		}
		if err := enc.putUTF8([]byte(t.Topic)); err != nil {
			return nil, err
		}
		if err := enc.putUint8(byte(t.QoS)); err != nil {
			return nil, err
		}
	}

	return prependFixedHeader(tx, fixedHeaderMaxSize, typeFlags(PacketSUBSCRIBE, false, QoS1, false), enc.pos)
}

func encodeUnsubscribe(list *SubscriptionList, tx []byte) ([]byte, error) {
	if list.MessageID == 0 {
		return nil, ErrMissingMessageID
	}
	if len(list.Topics) == 0 {
		return nil, ErrInvalidParam
	}

	enc := newEncoder(tx[fixedHeaderMaxSize:])
	if err := enc.putUint16(list.MessageID); err != nil {
		return nil, err
	}

	for _, t := range list.Topics {
		if err := enc.putUTF8([]byte(t.Topic)); err != nil {
			return nil, err
		}
	}

	return prependFixedHeader(tx, fixedHeaderMaxSize, typeFlags(PacketUNSUBSCRIBE, false, QoS1, false), enc.pos)
}

// decodeSuback reads the message id followed by one return code per
// subscribed topic; the count is implied by the remaining length.
func decodeSuback(d *decoder) (SubackParam, error) {
	var p SubackParam

	id, err := d.readUint16()
	if err != nil {
		return p, err
	}

	codes := d.readBinary()
	p.MessageID = id
	p.ReturnCodes = append(make([]byte, 0, len(codes)), codes...)

	return p, nil
}
