package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_BodyInverse(t *testing.T) {
	bodies := [][]byte{
		{},
		{0x01},
		make([]byte, maxBodyLen),
	}
	for code := range registry {
		for _, body := range bodies {
			raw, err := Frame(code, body)
			require.NoError(t, err)
			assert.True(t, Valid(raw), "%s frame of %d bytes", code, len(body))

			gotCode, gotBody, err := Body(raw)
			require.NoError(t, err)
			assert.Equal(t, code, gotCode)
			assert.Equal(t, body, gotBody)
		}
	}
}

func TestValid_RejectsCorruption(t *testing.T) {
	raw, err := Frame(TypeKeepAlive, []byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
	require.True(t, Valid(raw))

	corrupt := func(pos int) []byte {
		c := append([]byte(nil), raw...)
		c[pos] ^= 0xFF
		return c
	}

	// BOF bytes
	assert.False(t, Valid(corrupt(0)))
	assert.False(t, Valid(corrupt(1)))
	// length bytes
	assert.False(t, Valid(corrupt(4)))
	assert.False(t, Valid(corrupt(5)))
	// EOF bytes
	assert.False(t, Valid(corrupt(len(raw)-2)))
	assert.False(t, Valid(corrupt(len(raw)-1)))
}

func TestValid_RejectsUnknownType(t *testing.T) {
	raw, err := Frame(TypeKeepAlive, []byte{0x01})
	require.NoError(t, err)
	raw[2], raw[3] = 0x77, 0x77
	assert.False(t, Valid(raw))
}

func TestValid_RejectsLengthMismatch(t *testing.T) {
	raw, err := Frame(TypeKeepAlive, []byte{0x01, 0x02})
	require.NoError(t, err)
	raw[5] = 0x05
	assert.False(t, Valid(raw))
}

func TestValid_RejectsRunt(t *testing.T) {
	assert.False(t, Valid(nil))
	assert.False(t, Valid([]byte{0xAB, 0xCD, 0x00}))
}

func TestBody_FailsOnInvalid(t *testing.T) {
	_, _, err := Body([]byte{0xAB, 0xCD, 0x00, 0x06, 0x00, 0x00, 0xDC, 0xBB})
	assert.Error(t, err)
}

func TestFrame_RejectsOversizedBody(t *testing.T) {
	_, err := Frame(TypeClientRTP, make([]byte, maxBodyLen+1))
	assert.Error(t, err)
}
