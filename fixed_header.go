package mqttc

import "errors"

// PacketType represents an MQTT control packet type.
type PacketType byte

// MQTT control packet types (MQTT 3.1.1 section 2.2.1).
const (
	PacketCONNECT     PacketType = 1
	PacketCONNACK     PacketType = 2
	PacketPUBLISH     PacketType = 3
	PacketPUBACK      PacketType = 4
	PacketPUBREC      PacketType = 5
	PacketPUBREL      PacketType = 6
	PacketPUBCOMP     PacketType = 7
	PacketSUBSCRIBE   PacketType = 8
	PacketSUBACK      PacketType = 9
	PacketUNSUBSCRIBE PacketType = 10
	PacketUNSUBACK    PacketType = 11
	PacketPINGREQ     PacketType = 12
	PacketPINGRESP    PacketType = 13
	PacketDISCONNECT  PacketType = 14
)

// String returns the string representation of the packet type.
func (p PacketType) String() string {
	switch p {
	case PacketCONNECT:
		return "CONNECT"
	case PacketCONNACK:
		return "CONNACK"
	case PacketPUBLISH:
		return "PUBLISH"
	case PacketPUBACK:
		return "PUBACK"
	case PacketPUBREC:
		return "PUBREC"
	case PacketPUBREL:
		return "PUBREL"
	case PacketPUBCOMP:
		return "PUBCOMP"
	case PacketSUBSCRIBE:
		return "SUBSCRIBE"
	case PacketSUBACK:
		return "SUBACK"
	case PacketUNSUBSCRIBE:
		return "UNSUBSCRIBE"
	case PacketUNSUBACK:
		return "UNSUBACK"
	case PacketPINGREQ:
		return "PINGREQ"
	case PacketPINGRESP:
		return "PINGRESP"
	case PacketDISCONNECT:
		return "DISCONNECT"
	default:
		return "UNKNOWN"
	}
}

// Fixed header errors.
var (
	ErrMalformedRemainingLength = errors.New("mqttc: malformed remaining length")
	ErrRemainingLengthTooLarge  = errors.New("mqttc: remaining length too large")
)

const (
	// fixedHeaderMaxSize is the header slack reserved in front of every
	// encoded payload: one type byte plus at most four length bytes.
	fixedHeaderMaxSize = 5

	maxRemainingLengthBytes = 4
	maxRemainingLength      = 268435455 // 0x0FFFFFFF
	varintContinueBit       = 0x80
	varintValueMask         = 0x7F
)

// PUBLISH fixed header flags.
const (
	flagDUP    = 0x08
	flagRetain = 0x01
)

// typeFlags builds the first fixed header byte.
func typeFlags(t PacketType, dup bool, qos QoS, retain bool) byte {
	b := byte(t)<<4 | byte(qos&0x03)<<1
	if dup {
		b |= flagDUP
	}
	if retain {
		b |= flagRetain
	}
	return b
}

// remainingLengthSize returns the number of bytes needed to encode length.
func remainingLengthSize(length uint32) int {
	switch {
	case length < 128:
		return 1
	case length < 16384:
		return 2
	case length < 2097152:
		return 3
	default:
		return 4
	}
}

// encodeRemainingLength writes length as a base-128 varint into dst, which
// must hold at least remainingLengthSize(length) bytes.
func encodeRemainingLength(dst []byte, length uint32) (int, error) {
	if length > maxRemainingLength {
		return 0, ErrRemainingLengthTooLarge
	}

	n := 0
	for {
		encoded := byte(length & varintValueMask)
		length >>= 7

		if length > 0 {
			encoded |= varintContinueBit
		}

		if n >= len(dst) {
			return n, ErrBufferOverflow
		}
		dst[n] = encoded
		n++

		if length == 0 {
			return n, nil
		}
	}
}

// decodeRemainingLength reads the varint at the start of src. It returns
// ErrInsufficientData when src ends before the terminating byte and
// ErrMalformedRemainingLength when more than four bytes carry the
// continuation bit.
func decodeRemainingLength(src []byte) (uint32, int, error) {
	var value uint32

	for i := 0; i < maxRemainingLengthBytes; i++ {
		if i >= len(src) {
			return 0, 0, ErrInsufficientData
		}

		b := src[i]
		value |= uint32(b&varintValueMask) << (7 * i)

		if b&varintContinueBit == 0 {
			return value, i + 1, nil
		}
	}

	return 0, 0, ErrMalformedRemainingLength
}

// prependFixedHeader writes the fixed header immediately before the payload
// region buf[payloadStart:payloadStart+length], using the header slack that
// precedes it, and returns the complete packet. Writing backward from the
// payload start avoids moving the payload itself.
func prependFixedHeader(buf []byte, payloadStart int, first byte, length int) ([]byte, error) {
	if length < 0 || length > maxRemainingLength {
		return nil, ErrRemainingLengthTooLarge
	}

	size := remainingLengthSize(uint32(length))
	start := payloadStart - 1 - size
	if start < 0 || payloadStart+length > len(buf) {
		return nil, ErrBufferOverflow
	}

	buf[start] = first
	if _, err := encodeRemainingLength(buf[start+1:payloadStart], uint32(length)); err != nil {
		return nil, err
	}

	return buf[start : payloadStart+length], nil
}
