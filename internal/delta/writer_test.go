package delta

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWriter_InvalidDistance(t *testing.T) {
	t.Parallel()

	for _, distance := range []int{0, -1, 257} {
		_, err := NewWriter(io.Discard, distance)
		assert.Equal(t, ErrInsufficientProperties, err)
	}
}

func TestWriter_Properties(t *testing.T) {
	t.Parallel()

	w, err := NewWriter(io.Discard, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{3}, w.Properties())
}

func TestWriter_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		distance int
		data     []byte
	}{
		{"single byte distance, short input", 1, []byte("a")},
		{"distance 1", 1, bytes.Repeat([]byte("abcdefgh"), 17)},
		{"distance 4", 4, []byte("the quick brown fox jumps over the lazy dog, repeatedly")},
		{"distance larger than input", 250, []byte("short")},
		{"distance 256", 256, bytes.Repeat([]byte{0x01, 0x02, 0x03, 0x04}, 300)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var encoded bytes.Buffer

			w, err := NewWriter(&encoded, tt.distance)
			require.NoError(t, err)

			_, err = w.Write(tt.data)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			rc, err := NewReader([]byte{byte(tt.distance - 1)}, 0, []io.ReadCloser{io.NopCloser(&encoded)})
			require.NoError(t, err)

			decoded, err := io.ReadAll(rc)
			require.NoError(t, err)

			assert.Equal(t, tt.data, decoded)
		})
	}
}

func TestWriter_RoundTrip_MultipleWrites(t *testing.T) {
	t.Parallel()

	const distance = 3

	data := [][]byte{
		[]byte("hello, "),
		[]byte("world! "),
		[]byte("this message spans several Write calls."),
	}

	var encoded bytes.Buffer

	w, err := NewWriter(&encoded, distance)
	require.NoError(t, err)

	var want bytes.Buffer

	for _, chunk := range data {
		_, err = w.Write(chunk)
		require.NoError(t, err)

		want.Write(chunk)
	}

	require.NoError(t, w.Close())

	rc, err := NewReader([]byte{distance - 1}, 0, []io.ReadCloser{io.NopCloser(&encoded)})
	require.NoError(t, err)

	decoded, err := io.ReadAll(rc)
	require.NoError(t, err)

	assert.Equal(t, want.Bytes(), decoded)
}
