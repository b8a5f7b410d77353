package lzma2

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDictCapToProperty_InverseOfDecodeFormula(t *testing.T) {
	t.Parallel()

	// decodeDictCap mirrors reader.go's NewReader formula exactly, so the
	// round trip below exercises dictCapToProperty against the same
	// arithmetic the reader will apply to whatever property byte Properties
	// reports.
	decodeDictCap := func(p byte) int {
		return (2 | (int(p) & 1)) << (p/2 + 11) //nolint:mnd
	}

	for _, dictCap := range []int{1 << 16, 1 << 20, 8 << 20, 64 << 20, 1536 << 20} {
		p := dictCapToProperty(dictCap)
		assert.GreaterOrEqual(t, decodeDictCap(p), dictCap)
	}
}

func TestWriter_Properties(t *testing.T) {
	t.Parallel()

	w, err := NewWriter(io.Discard, 8<<20) //nolint:mnd
	require.NoError(t, err)

	props := w.Properties()
	require.Len(t, props, 1)
	assert.Equal(t, dictCapToProperty(8<<20), props[0]) //nolint:mnd
}

func TestWriter_RoundTrip(t *testing.T) {
	t.Parallel()

	const dictCap = 1 << 20

	data := bytes.Repeat([]byte("lzma2 round trip payload "), 1000)

	var encoded bytes.Buffer

	w, err := NewWriter(&encoded, dictCap)
	require.NoError(t, err)

	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	rc, err := NewReader(w.Properties(), uint64(len(data)), []io.ReadCloser{io.NopCloser(&encoded)})
	require.NoError(t, err)

	decoded, err := io.ReadAll(rc)
	require.NoError(t, err)

	assert.Equal(t, data, decoded)
}
