package sevenzip

import (
	"bytes"
	"io"
	iofs "io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seekBuffer is a minimal io.WriteSeeker over an in-memory byte slice,
// standing in for an *os.File in tests that never touch the filesystem.
type seekBuffer struct {
	buf []byte
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	end := s.pos + len(p)
	if end > len(s.buf) {
		grown := make([]byte, end)
		copy(grown, s.buf)
		s.buf = grown
	}

	copy(s.buf[s.pos:end], p)
	s.pos = end

	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var base int

	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = s.pos
	case io.SeekEnd:
		base = len(s.buf)
	}

	s.pos = base + int(offset)

	return int64(s.pos), nil
}

func (s *seekBuffer) ReadAt(p []byte, off int64) (int, error) {
	if int(off) >= len(s.buf) {
		return 0, io.EOF
	}

	n := copy(p, s.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}

	return n, nil
}

type testEntry struct {
	name string
	data []byte
}

func writeArchive(t *testing.T, opts WriterOptions, entries []testEntry) *seekBuffer {
	t.Helper()

	dst := new(seekBuffer)

	zw, err := NewWriterOptions(dst, opts)
	require.NoError(t, err)

	for _, e := range entries {
		fh := &FileHeader{
			Name:             e.name,
			Modified:         time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			UncompressedSize: uint64(len(e.data)), //nolint:gosec
			Attributes:       fileModeToAttributes(0o644),
		}

		w, err := zw.CreateHeader(fh)
		require.NoError(t, err)

		_, err = w.Write(e.data)
		require.NoError(t, err)
	}

	require.NoError(t, zw.Close())

	return dst
}

func readBackAndVerify(t *testing.T, dst *seekBuffer, password string, entries []testEntry) {
	t.Helper()

	zr, err := NewReaderWithPassword(dst, int64(len(dst.buf)), password)
	require.NoError(t, err)

	require.Len(t, zr.File, len(entries))

	for i, e := range entries {
		f := zr.File[i]
		assert.Equal(t, e.name, f.Name)
		assert.Equal(t, uint64(len(e.data)), f.UncompressedSize) //nolint:gosec

		rc, err := f.Open()
		require.NoError(t, err)

		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())

		assert.Equal(t, e.data, got)
	}
}

func TestWriter_RoundTrip(t *testing.T) {
	t.Parallel()

	entries := []testEntry{
		{"hello.txt", []byte("hello, world")},
		{"empty.txt", []byte{}},
		{"big.bin", bytes.Repeat([]byte("0123456789"), 4096)},
	}

	tests := []struct {
		name string
		opts WriterOptions
	}{
		{"copy, non-solid", WriterOptions{Method: MethodCopy}},
		{"lzma2, non-solid", WriterOptions{Method: MethodLZMA2}},
		{"lzma, solid", WriterOptions{Method: MethodLZMA, Solid: true}},
		{"deflate, non-solid", WriterOptions{Method: MethodDeflate}},
		{"copy, solid, compressed header", WriterOptions{Method: MethodCopy, Solid: true, CompressHeader: true}},
		{"copy, delta filter", WriterOptions{Method: MethodCopy, Delta: 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dst := writeArchive(t, tt.opts, entries)
			readBackAndVerify(t, dst, "", entries)
		})
	}
}

func TestWriter_RoundTrip_Encrypted(t *testing.T) {
	t.Parallel()

	entries := []testEntry{
		{"secret.txt", []byte("the launch code is swordfish")},
		{"another.bin", bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef}, 50)},
	}

	opts := WriterOptions{Method: MethodLZMA2, Password: "hunter2", Solid: true}

	dst := writeArchive(t, opts, entries)
	readBackAndVerify(t, dst, "hunter2", entries)
}

func TestWriter_RoundTrip_Deterministic(t *testing.T) {
	t.Parallel()

	entries := []testEntry{
		{"a.txt", []byte("deterministic output")},
	}

	opts := WriterOptions{Method: MethodCopy, Password: "swordfish", Deterministic: true}

	first := writeArchive(t, opts, entries)
	second := writeArchive(t, opts, entries)

	assert.Equal(t, first.buf, second.buf)
}

func TestWriter_Directory(t *testing.T) {
	t.Parallel()

	dst := new(seekBuffer)

	zw, err := NewWriterOptions(dst, WriterOptions{Method: MethodCopy})
	require.NoError(t, err)

	w, err := zw.CreateHeader(&FileHeader{
		Name:       "dir/",
		Attributes: fileModeToAttributes(iofs.ModeDir | 0o755),
	})
	require.NoError(t, err)
	assert.Equal(t, io.Discard, w)

	require.NoError(t, zw.Close())

	zr, err := NewReader(dst, int64(len(dst.buf)))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.True(t, zr.File[0].FileInfo().IsDir())
}

func TestWriter_CreateHeaderAfterClose(t *testing.T) {
	t.Parallel()

	dst := new(seekBuffer)

	zw, err := NewWriterOptions(dst, WriterOptions{})
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = zw.CreateHeader(&FileHeader{Name: "too-late.txt"})
	assert.Equal(t, errWriterClosed, err)

	assert.Equal(t, errWriterClosed, zw.Close())
}
