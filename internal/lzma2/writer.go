package lzma2

import (
	"fmt"
	"io"

	"github.com/ulikunitz/xz/lzma"
)

// Writer LZMA2-compresses everything written to it as a sequence of
// headerless chunks, the inverse of what NewReader consumes.
type Writer struct {
	w       *lzma.Writer2
	dictCap int
}

// NewWriter returns a Writer using dictCap as the dictionary capacity.
// Properties reports it as the single property byte NewReader decodes,
// rounded up to the smallest encodable capacity that is at least dictCap.
func NewWriter(dst io.Writer, dictCap int) (*Writer, error) {
	cfg := lzma.Writer2Config{DictCap: dictCap}

	w, err := cfg.NewWriter2(dst)
	if err != nil {
		return nil, fmt.Errorf("lzma2: error creating encoder: %w", err)
	}

	return &Writer{w: w, dictCap: dictCap}, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	if err != nil {
		return n, fmt.Errorf("lzma2: error writing: %w", err)
	}

	return n, nil
}

// Close flushes the final chunk.
func (w *Writer) Close() error {
	if err := w.w.Close(); err != nil {
		return fmt.Errorf("lzma2: error closing encoder: %w", err)
	}

	return nil
}

// Properties returns the single dictionary-size property byte, the inverse
// of the (2|p&1)<<(p/2+11) formula NewReader decodes.
func (w *Writer) Properties() []byte {
	return []byte{dictCapToProperty(w.dictCap)}
}

func dictCapToProperty(dictCap int) byte {
	for p := 0; p < 41; p++ {
		v := (2 | (p & 1)) << (uint(p)/2 + 11) //nolint:mnd
		if v >= dictCap {
			return byte(p)
		}
	}

	return 40 //nolint:mnd
}
