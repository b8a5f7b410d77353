// Package parallelframes implements PF7Z, a small self-contained framing
// format that splits a byte stream into independently compressed frames so
// they can be produced and consumed concurrently. It is not part of the 7z
// container format; it exists alongside it as a way to get multi-core
// throughput out of the same codec set for payloads that don't need
// solid-folder sharing of the LZ dictionary across entries.
//
// Layout:
//
//	"PF7Z" | codec (1 byte) | level (1 byte) | frame count (varint)
//	( compressed size (varint) | uncompressed size (varint) ) * frame count
//	frame 0 bytes | frame 1 bytes | ...
package parallelframes

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"runtime"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	lz4 "github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz/lzma"
	"golang.org/x/sync/errgroup"

	"github.com/go7z/sevenzip/internal/util"
)

// Codec identifies the compressor used for every frame in an archive. The
// byte values match the 7z method IDs they correspond to where one exists;
// only this package interprets them.
type Codec byte

// Recognised frame codecs.
const (
	CodecCopy   Codec = 0x00
	CodecZstd   Codec = 0x01
	CodecBrotli Codec = 0x02
	CodecLZ4    Codec = 0x04
	CodecLZMA2  Codec = 0x21
)

func (c Codec) String() string {
	switch c {
	case CodecCopy:
		return "copy"
	case CodecZstd:
		return "zstd"
	case CodecBrotli:
		return "brotli"
	case CodecLZ4:
		return "lz4"
	case CodecLZMA2:
		return "lzma2"
	default:
		return fmt.Sprintf("unknown codec 0x%02x", byte(c))
	}
}

var magic = [4]byte{'P', 'F', '7', 'Z'} //nolint:gochecknoglobals

const (
	defaultFrameSize = 4 << 20 // 4 MiB
	minFrameSize     = 1 << 10 // 1 KiB
	lzma2DictCap     = 1 << 24 // 16 MiB, fixed so every frame is self-describing
)

var (
	errInvalidMagic    = errors.New("parallelframes: invalid frame magic")
	errTruncatedHeader = errors.New("parallelframes: truncated header")
	errTruncatedFrame  = errors.New("parallelframes: frame data truncated")
	errUnknownCodec    = errors.New("parallelframes: unknown codec")
)

// Options configures Compress.
type Options struct {
	Codec Codec
	// Level is codec-specific: a quality 0-11 for brotli, a compression
	// level for zstd, ignored by Copy and LZ4 (LZ4 is always the fast
	// path).
	Level int
	// FrameSize is the uncompressed size of each frame. It is clamped to
	// a minimum of 1 KiB; zero selects the 4 MiB default.
	FrameSize int
}

func (o Options) frameSize() int {
	if o.FrameSize <= 0 {
		return defaultFrameSize
	}

	if o.FrameSize < minFrameSize {
		return minFrameSize
	}

	return o.FrameSize
}

// frameInfo records one frame's compressed and uncompressed sizes.
type frameInfo struct {
	compressedSize   uint64
	uncompressedSize uint64
}

// Compress splits data into frames of opts.FrameSize bytes, compresses each
// one concurrently with opts.Codec, and returns the assembled PF7Z archive.
func Compress(data []byte, opts Options) ([]byte, error) {
	if len(data) == 0 {
		return emptyArchive(opts), nil
	}

	frameSize := opts.frameSize()

	var chunks [][]byte

	for off := 0; off < len(data); off += frameSize {
		end := off + frameSize
		if end > len(data) {
			end = len(data)
		}

		chunks = append(chunks, data[off:end])
	}

	compressed := make([][]byte, len(chunks))

	g := new(errgroup.Group)
	g.SetLimit(runtime.NumCPU())

	for i, chunk := range chunks {
		i, chunk := i, chunk

		g.Go(func() error {
			out, err := compressFrame(opts.Codec, opts.Level, chunk)
			if err != nil {
				return err
			}

			compressed[i] = out

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var head bytes.Buffer

	head.Write(magic[:])
	head.WriteByte(byte(opts.Codec))
	head.WriteByte(byte(opts.Level)) //nolint:gosec

	var body []byte

	body = util.PutUvarint(body, uint64(len(chunks)))

	for i, frame := range compressed {
		body = util.PutUvarint(body, uint64(len(frame)))
		body = util.PutUvarint(body, uint64(len(chunks[i])))
	}

	for _, frame := range compressed {
		body = append(body, frame...)
	}

	return append(head.Bytes(), body...), nil
}

func emptyArchive(opts Options) []byte {
	out := append([]byte{}, magic[:]...)
	out = append(out, byte(opts.Codec), byte(opts.Level)) //nolint:gosec
	out = util.PutUvarint(out, 0)

	return out
}

// Decompress reverses Compress, decoding every frame concurrently and
// concatenating the results in order.
func Decompress(data []byte) ([]byte, error) {
	if len(data) < 6 {
		return nil, errTruncatedHeader
	}

	if !bytes.Equal(data[:4], magic[:]) {
		return nil, errInvalidMagic
	}

	codec := Codec(data[4])
	pos := 6

	count, n, err := util.Uvarint(data[pos:])
	if err != nil {
		return nil, fmt.Errorf("parallelframes: error reading frame count: %w", err)
	}

	pos += n

	frames := make([]frameInfo, count)

	for i := range frames {
		csize, n, err := util.Uvarint(data[pos:])
		if err != nil {
			return nil, fmt.Errorf("parallelframes: error reading frame %d compressed size: %w", i, err)
		}

		pos += n

		usize, n, err := util.Uvarint(data[pos:])
		if err != nil {
			return nil, fmt.Errorf("parallelframes: error reading frame %d uncompressed size: %w", i, err)
		}

		pos += n

		frames[i] = frameInfo{compressedSize: csize, uncompressedSize: usize}
	}

	if count == 0 {
		return []byte{}, nil
	}

	body := data[pos:]

	slices := make([][]byte, count)
	outOffsets := make([]int, count)

	pos, outPos := 0, 0

	for i, fi := range frames {
		end := pos + int(fi.compressedSize) //nolint:gosec
		if end > len(body) {
			return nil, errTruncatedFrame
		}

		slices[i] = body[pos:end]
		outOffsets[i] = outPos
		pos = end
		outPos += int(fi.uncompressedSize) //nolint:gosec
	}

	output := make([]byte, outPos)

	g := new(errgroup.Group)
	g.SetLimit(runtime.NumCPU())

	for i, slice := range slices {
		i, slice := i, slice

		g.Go(func() error {
			out, err := decompressFrame(codec, slice)
			if err != nil {
				return err
			}

			copy(output[outOffsets[i]:], out)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return output, nil
}

func compressFrame(codec Codec, level int, chunk []byte) ([]byte, error) {
	switch codec {
	case CodecCopy:
		return append([]byte{}, chunk...), nil
	case CodecLZMA2:
		return compressLZMA2(chunk)
	case CodecZstd:
		return compressZstd(chunk, level)
	case CodecLZ4:
		return compressLZ4(chunk)
	case CodecBrotli:
		return compressBrotli(chunk, level)
	default:
		return nil, fmt.Errorf("%w: 0x%02x", errUnknownCodec, byte(codec))
	}
}

func decompressFrame(codec Codec, frame []byte) ([]byte, error) {
	switch codec {
	case CodecCopy:
		return frame, nil
	case CodecLZMA2:
		return decompressLZMA2(frame)
	case CodecZstd:
		return decompressZstd(frame)
	case CodecLZ4:
		return decompressLZ4(frame)
	case CodecBrotli:
		return decompressBrotli(frame)
	default:
		return nil, fmt.Errorf("%w: 0x%02x", errUnknownCodec, byte(codec))
	}
}

func compressLZMA2(chunk []byte) ([]byte, error) {
	var buf bytes.Buffer

	cfg := lzma.Writer2Config{DictCap: lzma2DictCap}

	w, err := cfg.NewWriter2(&buf)
	if err != nil {
		return nil, fmt.Errorf("parallelframes: error creating lzma2 encoder: %w", err)
	}

	if _, err := w.Write(chunk); err != nil {
		return nil, fmt.Errorf("parallelframes: error writing lzma2 frame: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("parallelframes: error closing lzma2 frame: %w", err)
	}

	return buf.Bytes(), nil
}

func decompressLZMA2(frame []byte) ([]byte, error) {
	cfg := lzma.Reader2Config{DictCap: lzma2DictCap}

	if err := cfg.Verify(); err != nil {
		return nil, fmt.Errorf("parallelframes: error verifying lzma2 config: %w", err)
	}

	r, err := cfg.NewReader2(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("parallelframes: error creating lzma2 decoder: %w", err)
	}

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("parallelframes: error reading lzma2 frame: %w", err)
	}

	return out, nil
}

func compressZstd(chunk []byte, level int) ([]byte, error) {
	var buf bytes.Buffer

	w, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("parallelframes: error creating zstd encoder: %w", err)
	}

	if _, err := w.Write(chunk); err != nil {
		_ = w.Close()

		return nil, fmt.Errorf("parallelframes: error writing zstd frame: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("parallelframes: error closing zstd frame: %w", err)
	}

	return buf.Bytes(), nil
}

func decompressZstd(frame []byte) ([]byte, error) {
	r, err := zstd.NewReader(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("parallelframes: error creating zstd decoder: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("parallelframes: error reading zstd frame: %w", err)
	}

	return out, nil
}

func compressLZ4(chunk []byte) ([]byte, error) {
	var buf bytes.Buffer

	w := lz4.NewWriter(&buf)

	if _, err := w.Write(chunk); err != nil {
		return nil, fmt.Errorf("parallelframes: error writing lz4 frame: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("parallelframes: error closing lz4 frame: %w", err)
	}

	return buf.Bytes(), nil
}

func decompressLZ4(frame []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(frame))

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("parallelframes: error reading lz4 frame: %w", err)
	}

	return out, nil
}

func compressBrotli(chunk []byte, level int) ([]byte, error) {
	if level < 0 {
		level = 0
	}

	if level > 11 {
		level = 11
	}

	var buf bytes.Buffer

	w := brotli.NewWriterLevel(&buf, level)

	if _, err := w.Write(chunk); err != nil {
		return nil, fmt.Errorf("parallelframes: error writing brotli frame: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("parallelframes: error closing brotli frame: %w", err)
	}

	return buf.Bytes(), nil
}

func decompressBrotli(frame []byte) ([]byte, error) {
	r := brotli.NewReader(bytes.NewReader(frame))

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("parallelframes: error reading brotli frame: %w", err)
	}

	return out, nil
}
