package delta

import (
	"fmt"
	"io"
)

// Writer applies the inverse of the Delta filter: each output byte is the
// difference between the current and delta-back plaintext bytes, so that
// NewReader's running sum reconstructs the original data.
type Writer struct {
	dst   io.Writer
	state [stateSize]byte
	delta int
}

// NewWriter returns a Writer using distance as the delta distance (1-256).
func NewWriter(dst io.Writer, distance int) (*Writer, error) {
	if distance < 1 || distance > stateSize {
		return nil, ErrInsufficientProperties
	}

	return &Writer{dst: dst, delta: distance}, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	var buffer [stateSize]byte

	j := 0
	copy(buffer[:], w.state[:w.delta])

	out := make([]byte, len(p))

	for i := 0; i < len(p); {
		for j = 0; j < w.delta && i < len(p); i++ {
			out[i] = p[i] - buffer[j]
			buffer[j] = p[i]
			j++
		}
	}

	if j == w.delta {
		j = 0
	}

	copy(w.state[:], buffer[j:w.delta])
	copy(w.state[w.delta-j:], buffer[:j])

	n, err := w.dst.Write(out)
	if err != nil {
		return n, fmt.Errorf("delta: error writing: %w", err)
	}

	return n, nil
}

// Close is a no-op; the filter holds no buffered output.
func (w *Writer) Close() error {
	return nil
}

// Properties returns the single delta-distance-minus-one property byte.
func (w *Writer) Properties() []byte {
	return []byte{byte(w.delta - 1)}
}
