package aes7z

import (
	"bytes"
	"crypto/aes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWriter_InvalidIV(t *testing.T) {
	t.Parallel()

	_, err := NewWriter(io.Discard, "password", 19, make([]byte, 8)) //nolint:mnd
	assert.Equal(t, errInsufficientProperties, err)
}

func TestWriter_Properties(t *testing.T) {
	t.Parallel()

	iv := bytes.Repeat([]byte{0x42}, aes.BlockSize)

	const cycles = 19

	w, err := NewWriter(io.Discard, "password", cycles, iv)
	require.NoError(t, err)

	props := w.Properties()
	require.Len(t, props, 2+aes.BlockSize) //nolint:mnd

	assert.NotZero(t, props[0]&0xc0) //nolint:mnd
	assert.Equal(t, byte(cycles), props[0]&0x3f)
	assert.Equal(t, iv, props[2:])
}

func TestWriter_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		data   []byte
		cycles int
	}{
		{"single block", bytes.Repeat([]byte{0xaa}, aes.BlockSize), 18},
		{"multiple blocks, exact", bytes.Repeat([]byte("0123456789abcdef"), 10), 19},
		{"partial final block", []byte("not a multiple of sixteen bytes!!!!!"), 19},
		{"empty input", []byte{}, 19},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			iv := bytes.Repeat([]byte{0x07}, aes.BlockSize)

			var encoded bytes.Buffer

			w, err := NewWriter(&encoded, "correct horse battery staple", tt.cycles, iv)
			require.NoError(t, err)

			_, err = w.Write(tt.data)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			rc, err := NewReader(w.Properties(), 0, []io.ReadCloser{io.NopCloser(&encoded)})
			require.NoError(t, err)

			pwc, ok := rc.(interface{ Password(string) error })
			require.True(t, ok)
			require.NoError(t, pwc.Password("correct horse battery staple"))

			decoded := make([]byte, len(tt.data))
			if len(tt.data) > 0 {
				_, err = io.ReadFull(rc, decoded)
				require.NoError(t, err)
			}

			assert.Equal(t, tt.data, decoded)
		})
	}
}
