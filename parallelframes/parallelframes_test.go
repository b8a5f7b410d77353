package parallelframes

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompress_EmptyInput(t *testing.T) {
	t.Parallel()

	for _, codec := range []Codec{CodecCopy, CodecLZMA2, CodecZstd, CodecLZ4, CodecBrotli} {
		archive, err := Compress(nil, Options{Codec: codec})
		require.NoError(t, err)

		out, err := Decompress(archive)
		require.NoError(t, err)
		assert.Empty(t, out)
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 10000)

	tests := []struct {
		name string
		opts Options
	}{
		{"copy default frame size", Options{Codec: CodecCopy}},
		{"copy small frames", Options{Codec: CodecCopy, FrameSize: 4096}},
		{"lzma2 small frames", Options{Codec: CodecLZMA2, FrameSize: 8192}},
		{"zstd small frames", Options{Codec: CodecZstd, Level: 3, FrameSize: 8192}},
		{"lz4 small frames", Options{Codec: CodecLZ4, FrameSize: 8192}},
		{"brotli small frames", Options{Codec: CodecBrotli, Level: 5, FrameSize: 8192}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			archive, err := Compress(data, tt.opts)
			require.NoError(t, err)

			out, err := Decompress(archive)
			require.NoError(t, err)
			assert.Equal(t, data, out)
		})
	}
}

func TestRoundTrip_SingleFrame(t *testing.T) {
	t.Parallel()

	data := []byte("a single small payload")

	archive, err := Compress(data, Options{Codec: CodecLZMA2})
	require.NoError(t, err)

	out, err := Decompress(archive)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestDecompress_InvalidMagic(t *testing.T) {
	t.Parallel()

	_, err := Decompress([]byte("XXXX\x00\x00\x00"))
	assert.ErrorIs(t, err, errInvalidMagic)
}

func TestDecompress_TruncatedHeader(t *testing.T) {
	t.Parallel()

	_, err := Decompress([]byte("PF7Z"))
	assert.ErrorIs(t, err, errTruncatedHeader)
}

func TestDecompress_UnknownCodec(t *testing.T) {
	t.Parallel()

	archive, err := Compress([]byte("hello"), Options{Codec: CodecCopy})
	require.NoError(t, err)

	archive[4] = 0xff

	_, err = Decompress(archive)
	assert.ErrorIs(t, err, errUnknownCodec)
}

func TestCodec_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "lzma2", CodecLZMA2.String())
	assert.Contains(t, Codec(0xff).String(), "unknown")
}
