package mqttc

// encodeMessageIDOnly builds PUBACK, PUBREC, PUBREL and PUBCOMP packets, whose
// variable header is a single message identifier.
func encodeMessageIDOnly(first byte, messageID uint16, tx []byte) ([]byte, error) {
	if messageID == 0 {
		return nil, ErrMissingMessageID
	}

	enc := newEncoder(tx[fixedHeaderMaxSize:])
	if err := enc.putUint16(messageID); err != nil {
		return nil, err
	}

	return prependFixedHeader(tx, fixedHeaderMaxSize, first, enc.pos)
}

func encodePuback(messageID uint16, tx []byte) ([]byte, error) {
	return encodeMessageIDOnly(typeFlags(PacketPUBACK, false, QoS0, false), messageID, tx)
}

func encodePubrec(messageID uint16, tx []byte) ([]byte, error) {
	return encodeMessageIDOnly(typeFlags(PacketPUBREC, false, QoS0, false), messageID, tx)
}

// PUBREL carries the QoS 1 flag pattern (0x62).
func encodePubrel(messageID uint16, tx []byte) ([]byte, error) {
	return encodeMessageIDOnly(typeFlags(PacketPUBREL, false, QoS1, false), messageID, tx)
}

func encodePubcomp(messageID uint16, tx []byte) ([]byte, error) {
	return encodeMessageIDOnly(typeFlags(PacketPUBCOMP, false, QoS0, false), messageID, tx)
}

// decodeMessageID decodes PUBACK, PUBREC, PUBREL, PUBCOMP and UNSUBACK.
func decodeMessageID(d *decoder) (uint16, error) {
	return d.readUint16()
}
