// Package util contains small shared helpers used by the coder packages and
// the root package: a byte-oriented read closer, a size-aware read/seek
// closer, a CRC32 comparison helper and a LEB128 varint codec.
package util

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
)

// ReadCloser is an io.ReadCloser that also exposes ReadByte, which several
// coders (bcj2, deflate) need in order to drive their underlying decoder a
// byte at a time without losing buffered look-ahead.
type ReadCloser interface {
	io.Reader
	io.ByteReader
	io.Closer
}

type byteReadCloser struct {
	*bufio.Reader
	c io.Closer
}

func (b *byteReadCloser) Close() error {
	return b.c.Close()
}

// ByteReadCloser adapts rc so that it also satisfies io.ByteReader. If rc
// already does, it is returned unchanged.
func ByteReadCloser(rc io.ReadCloser) ReadCloser {
	if b, ok := rc.(ReadCloser); ok {
		return b
	}

	return &byteReadCloser{
		Reader: bufio.NewReader(rc),
		c:      rc,
	}
}

type nopCloser struct {
	io.Reader
}

func (nopCloser) Close() error {
	return nil
}

// NopCloser returns an io.ReadCloser with a no-op Close method wrapping r.
func NopCloser(r io.Reader) io.ReadCloser {
	return nopCloser{r}
}

// SizeReadSeekCloser is a Reader that also knows its own total size and can
// Seek and Close. The decoder pool and the per-file reader both operate on
// this interface rather than a concrete type.
type SizeReadSeekCloser interface {
	io.Reader
	io.Seeker
	io.Closer
	Size() int64
}

// CRC32Equal reports whether sum, the big-endian bytes produced by a
// hash/crc32 Hash32's Sum method, equals crc, a little-endian-decoded CRC32
// value read from an archive.
func CRC32Equal(sum []byte, crc uint32) bool {
	if len(sum) != 4 {
		return false
	}

	return binary.BigEndian.Uint32(sum) == crc
}

// PutUvarint appends the LEB128 encoding of v to dst and returns the result.
func PutUvarint(dst []byte, v uint64) []byte {
	var buf [binary.MaxVarintLen64]byte

	n := binary.PutUvarint(buf[:], v)

	return append(dst, buf[:n]...)
}

var errTruncatedVarint = errors.New("util: truncated varint")

// Uvarint decodes a single LEB128-encoded value from the start of buf,
// returning the value and the number of bytes it occupied.
func Uvarint(buf []byte) (uint64, int, error) {
	v, n := binary.Uvarint(buf)
	if n <= 0 {
		return 0, 0, errTruncatedVarint
	}

	return v, n, nil
}
