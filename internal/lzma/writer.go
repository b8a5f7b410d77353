package lzma

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/ulikunitz/xz/lzma"
)

// headerSize is the classic LZMA alone-format header ulikunitz/xz/lzma
// writes ahead of the compressed stream: a 5 byte properties block followed
// by an 8 byte little-endian uncompressed size. NewReader reconstructs this
// same header from the coder's stored properties before decoding, so the
// writer strips it back off and keeps only the properties bytes.
const (
	headerSize     = 13
	propertiesSize = 5
)

var errShortStream = errors.New("lzma: encoder produced a short header")

// Writer is an io.WriteCloser that LZMA-compresses everything written to
// it. The encoded payload isn't available until Close, since the
// properties bytes have to be peeled off the header the underlying encoder
// writes first.
type Writer struct {
	buf   *bytes.Buffer
	w     io.WriteCloser
	dst   io.Writer
	props []byte
}

// NewWriter returns a Writer that appends its compressed output to dst once
// closed.
func NewWriter(dst io.Writer) (*Writer, error) {
	buf := new(bytes.Buffer)

	w, err := lzma.NewWriter(buf)
	if err != nil {
		return nil, fmt.Errorf("lzma: error creating encoder: %w", err)
	}

	return &Writer{buf: buf, w: w, dst: dst}, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	if err != nil {
		return n, fmt.Errorf("lzma: error writing: %w", err)
	}

	return n, nil
}

// Close flushes the encoder, writes the compressed payload to dst and
// records the properties bytes for Properties.
func (w *Writer) Close() error {
	if err := w.w.Close(); err != nil {
		return fmt.Errorf("lzma: error closing encoder: %w", err)
	}

	b := w.buf.Bytes()
	if len(b) < headerSize {
		return errShortStream
	}

	w.props = append([]byte(nil), b[:propertiesSize]...)

	if _, err := w.dst.Write(b[headerSize:]); err != nil {
		return fmt.Errorf("lzma: error writing payload: %w", err)
	}

	return nil
}

// Properties returns the 5 byte properties block to store in the coder
// header. Only valid after Close returns successfully.
func (w *Writer) Properties() []byte {
	return w.props
}
