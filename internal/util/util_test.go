package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUvarint_RoundTrip(t *testing.T) {
	t.Parallel()

	values := []uint64{0, 1, 127, 128, 255, 256, 16383, 16384, 1 << 32, ^uint64(0)}

	for _, v := range values {
		buf := PutUvarint(nil, v)

		got, n, err := Uvarint(buf)
		require.NoError(t, err)
		assert.Equal(t, v, got)
		assert.Equal(t, len(buf), n)
	}
}

func TestUvarint_Truncated(t *testing.T) {
	t.Parallel()

	_, _, err := Uvarint(nil)
	assert.ErrorIs(t, err, errTruncatedVarint)
}

func TestPutUvarint_AppendsToExisting(t *testing.T) {
	t.Parallel()

	dst := []byte{0xAA}
	got := PutUvarint(dst, 5)

	assert.Equal(t, []byte{0xAA, 0x05}, got)
}

func TestCRC32Equal(t *testing.T) {
	t.Parallel()

	sum := []byte{0x12, 0x34, 0x56, 0x78}

	assert.True(t, CRC32Equal(sum, 0x12345678))
	assert.False(t, CRC32Equal(sum, 0x00000000))
	assert.False(t, CRC32Equal(sum[:3], 0x123456))
}
