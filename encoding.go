package mqttc

import (
	"encoding/binary"
	"errors"
)

// Encoding errors.
var (
	ErrBufferOverflow   = errors.New("mqttc: value does not fit in buffer")
	ErrInsufficientData = errors.New("mqttc: insufficient data")
	ErrStringTooLong    = errors.New("mqttc: string exceeds maximum length of 65535 bytes")
)

const maxUint16 = 65535

// encoder packs MQTT primitives into buf[:limit], advancing pos on success.
// A failed put leaves pos unchanged.
type encoder struct {
	buf   []byte
	pos   int
	limit int
}

func newEncoder(buf []byte) *encoder {
	return &encoder{buf: buf, limit: len(buf)}
}

func (e *encoder) available() int {
	return e.limit - e.pos
}

func (e *encoder) putUint8(v byte) error {
	if e.available() < 1 {
		return ErrBufferOverflow
	}

	e.buf[e.pos] = v
	e.pos++
	return nil
}

func (e *encoder) putUint16(v uint16) error {
	if e.available() < 2 {
		return ErrBufferOverflow
	}

	binary.BigEndian.PutUint16(e.buf[e.pos:], v)
	e.pos += 2
	return nil
}

// putUTF8 writes a 2-byte big-endian length followed by the bytes of s.
// An empty s is written as a present, zero-length string.
func (e *encoder) putUTF8(s []byte) error {
	if len(s) > maxUint16 {
		return ErrStringTooLong
	}

	if e.available() < 2+len(s) {
		return ErrBufferOverflow
	}

	binary.BigEndian.PutUint16(e.buf[e.pos:], uint16(len(s)))
	copy(e.buf[e.pos+2:], s)
	e.pos += 2 + len(s)
	return nil
}

// putBinary writes data verbatim, without a length prefix.
func (e *encoder) putBinary(data []byte) error {
	if e.available() < len(data) {
		return ErrBufferOverflow
	}

	copy(e.buf[e.pos:], data)
	e.pos += len(data)
	return nil
}

// decoder unpacks MQTT primitives from buf, advancing pos on success.
// A failed read leaves pos unchanged so the caller may retry framing later.
type decoder struct {
	buf []byte
	pos int
}

func newDecoder(buf []byte) *decoder {
	return &decoder{buf: buf}
}

func (d *decoder) remaining() int {
	return len(d.buf) - d.pos
}

func (d *decoder) readUint8() (byte, error) {
	if d.remaining() < 1 {
		return 0, ErrInsufficientData
	}

	v := d.buf[d.pos]
	d.pos++
	return v, nil
}

func (d *decoder) readUint16() (uint16, error) {
	if d.remaining() < 2 {
		return 0, ErrInsufficientData
	}

	v := binary.BigEndian.Uint16(d.buf[d.pos:])
	d.pos += 2
	return v, nil
}

// readUTF8 reads a length-prefixed string. The returned slice aliases buf and
// is never nil on success, so a zero-length string stays distinguishable from
// a field that was not present at all.
func (d *decoder) readUTF8() ([]byte, error) {
	start := d.pos

	length, err := d.readUint16()
	if err != nil {
		return nil, err
	}

	if d.remaining() < int(length) {
		d.pos = start
		return nil, ErrInsufficientData
	}

	s := d.buf[d.pos : d.pos+int(length) : d.pos+int(length)]
	d.pos += int(length)
	return s, nil
}

// readBinary consumes every remaining byte. Its length is implied by the
// enclosing packet, so zero remaining bytes yield an empty, non-nil slice.
func (d *decoder) readBinary() []byte {
	data := d.buf[d.pos:len(d.buf):len(d.buf)]
	d.pos = len(d.buf)
	return data
}
