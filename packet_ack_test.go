package mqttc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeMessageIDOnly(t *testing.T) {
	tests := []struct {
		name   string
		encode func(uint16, []byte) ([]byte, error)
		first  byte
	}{
		{"PUBACK", encodePuback, 0x40},
		{"PUBREC", encodePubrec, 0x50},
		{"PUBREL", encodePubrel, 0x62},
		{"PUBCOMP", encodePubcomp, 0x70},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkt, err := tt.encode(0x1234, make([]byte, 16))
			require.NoError(t, err)
			assert.Equal(t, []byte{tt.first, 0x02, 0x12, 0x34}, pkt)

			_, err = tt.encode(0, make([]byte, 16))
			assert.ErrorIs(t, err, ErrMissingMessageID)
		})
	}
}

func TestEncodeMessageIDOnlyOverflow(t *testing.T) {
	_, err := encodePuback(1, make([]byte, fixedHeaderMaxSize+1))
	assert.ErrorIs(t, err, ErrBufferOverflow)
}

func TestDecodeMessageID(t *testing.T) {
	id, err := decodeMessageID(newDecoder([]byte{0xAB, 0xCD}))
	require.NoError(t, err)
	assert.Equal(t, uint16(0xABCD), id)

	_, err = decodeMessageID(newDecoder([]byte{0xAB}))
	assert.ErrorIs(t, err, ErrInsufficientData)
}
