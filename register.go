package sevenzip

import (
	"io"
	"sync"

	"github.com/go7z/sevenzip/internal/aes7z"
	"github.com/go7z/sevenzip/internal/bcj2"
	"github.com/go7z/sevenzip/internal/bra"
	"github.com/go7z/sevenzip/internal/brotli"
	"github.com/go7z/sevenzip/internal/bzip2"
	"github.com/go7z/sevenzip/internal/deflate"
	"github.com/go7z/sevenzip/internal/delta"
	"github.com/go7z/sevenzip/internal/lz4"
	"github.com/go7z/sevenzip/internal/lzma"
	"github.com/go7z/sevenzip/internal/lzma2"
	"github.com/go7z/sevenzip/internal/zstd"
)

// Decompressor is the function prototype that every codec and filter
// package in internal/ implements: given the coder's properties, its
// declared unpacked size, and one or more already-open input streams, it
// returns a single combined output stream.
type Decompressor func(properties []byte, size uint64, readers []io.ReadCloser) (io.ReadCloser, error)

//nolint:gochecknoglobals
var decompressors sync.Map

//nolint:gochecknoglobals,mnd
func init() {
	RegisterDecompressor([]byte{0x00}, Decompressor(func(_ []byte, _ uint64, r []io.ReadCloser) (io.ReadCloser, error) {
		if len(r) != 1 {
			return nil, errAlgorithm
		}

		return r[0], nil
	}))

	RegisterDecompressor([]byte{0x03, 0x01, 0x01}, Decompressor(lzma.NewReader))
	RegisterDecompressor([]byte{0x21}, Decompressor(lzma2.NewReader))
	RegisterDecompressor([]byte{0x04, 0x01, 0x08}, Decompressor(deflate.NewReader))
	RegisterDecompressor([]byte{0x04, 0x02, 0x02}, Decompressor(bzip2.NewReader))

	RegisterDecompressor([]byte{0x03}, Decompressor(delta.NewReader))

	RegisterDecompressor([]byte{0x03, 0x03, 0x01, 0x03}, Decompressor(bra.NewBCJReader))
	RegisterDecompressor([]byte{0x03, 0x03, 0x01, 0x1b}, Decompressor(bcj2.NewReader))
	RegisterDecompressor([]byte{0x03, 0x03, 0x02, 0x05}, Decompressor(bra.NewPPCReader))
	RegisterDecompressor([]byte{0x03, 0x03, 0x05, 0x01}, Decompressor(bra.NewARMReader))
	RegisterDecompressor([]byte{0x03, 0x03, 0x08, 0x05}, Decompressor(bra.NewSPARCReader))
	RegisterDecompressor([]byte{0x0a}, Decompressor(bra.NewARM64Reader))

	RegisterDecompressor([]byte{0x06, 0xf1, 0x07, 0x01}, Decompressor(aes7z.NewReader))

	// 7-Zip-ZS extension space.
	RegisterDecompressor([]byte{0x04, 0xf7, 0x11, 0x04}, Decompressor(lz4.NewReader))
	RegisterDecompressor([]byte{0x04, 0xf7, 0x11, 0x01}, Decompressor(zstd.NewReader))
	RegisterDecompressor([]byte{0x04, 0xf7, 0x11, 0x02}, Decompressor(brotli.NewReader))
}

// RegisterDecompressor records a decompressor for a given method ID. It
// panics if a decompressor is already registered for method, mirroring the
// closed, compile-time codec set described by the registry: there is no
// runtime plugin loading.
func RegisterDecompressor(method []byte, dcomp Decompressor) {
	if _, dup := decompressors.LoadOrStore(string(method), dcomp); dup {
		panic("sevenzip: decompressor already registered")
	}
}

func decompressor(method []byte) Decompressor {
	di, ok := decompressors.Load(string(method))
	if !ok {
		return nil
	}

	d, ok := di.(Decompressor)
	if !ok {
		return nil
	}

	return d
}
