package deflate

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// Writer DEFLATE-compresses everything written to it. The coder carries no
// properties bytes, mirroring NewReader which ignores them entirely.
type Writer struct {
	fw *flate.Writer
}

// NewWriter returns a Writer using level, one of the flate.* compression
// level constants.
func NewWriter(dst io.Writer, level int) (*Writer, error) {
	fw, err := flate.NewWriter(dst, level)
	if err != nil {
		return nil, fmt.Errorf("deflate: error creating encoder: %w", err)
	}

	return &Writer{fw: fw}, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.fw.Write(p)
	if err != nil {
		return n, fmt.Errorf("deflate: error writing: %w", err)
	}

	return n, nil
}

// Close flushes the final block.
func (w *Writer) Close() error {
	if err := w.fw.Close(); err != nil {
		return fmt.Errorf("deflate: error closing encoder: %w", err)
	}

	return nil
}

// Properties always returns nil.
func (w *Writer) Properties() []byte {
	return nil
}
