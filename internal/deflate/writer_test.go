package deflate

import (
	"bytes"
	"io"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_Properties(t *testing.T) {
	t.Parallel()

	w, err := NewWriter(io.Discard, flate.DefaultCompression)
	require.NoError(t, err)
	assert.Nil(t, w.Properties())
}

func TestWriter_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		level int
		data  []byte
	}{
		{"default level, empty input", flate.DefaultCompression, []byte{}},
		{"default level", flate.DefaultCompression, []byte("the quick brown fox jumps over the lazy dog")},
		{"best compression", flate.BestCompression, bytes.Repeat([]byte("compress me please "), 200)},
		{"no compression", flate.NoCompression, []byte{0x00, 0x01, 0x02, 0x03}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var encoded bytes.Buffer

			w, err := NewWriter(&encoded, tt.level)
			require.NoError(t, err)

			_, err = w.Write(tt.data)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			fr := flate.NewReader(&encoded)
			defer fr.Close()

			decoded, err := io.ReadAll(fr)
			require.NoError(t, err)

			assert.Equal(t, tt.data, decoded)
		})
	}
}
