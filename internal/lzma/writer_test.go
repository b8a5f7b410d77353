package lzma

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
	}{
		{"empty input", []byte{}},
		{"short input", []byte("hello, world")},
		{"repetitive input", bytes.Repeat([]byte("abcdefghijklmnop"), 500)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var encoded bytes.Buffer

			w, err := NewWriter(&encoded)
			require.NoError(t, err)

			_, err = w.Write(tt.data)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			props := w.Properties()
			require.Len(t, props, propertiesSize)

			rc, err := NewReader(props, uint64(len(tt.data)), []io.ReadCloser{io.NopCloser(&encoded)})
			require.NoError(t, err)

			decoded, err := io.ReadAll(rc)
			require.NoError(t, err)

			assert.Equal(t, tt.data, decoded)
		})
	}
}

func TestWriter_Close_ShortStream(t *testing.T) {
	t.Parallel()

	w, err := NewWriter(io.Discard)
	require.NoError(t, err)

	// Swap in a buffer too short to contain a full header, independent of
	// the one the underlying encoder actually writes into, to exercise
	// Close's length check in isolation.
	w.buf = bytes.NewBuffer([]byte{0x00, 0x01, 0x02})

	err = w.Close()
	assert.Equal(t, errShortStream, err)
}
