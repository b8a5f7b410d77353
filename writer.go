package sevenzip

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"time"

	"github.com/bodgit/plumbing"
	"github.com/go7z/sevenzip/internal/aes7z"
	"github.com/go7z/sevenzip/internal/deflate"
	"github.com/go7z/sevenzip/internal/delta"
	"github.com/go7z/sevenzip/internal/lzma"
	"github.com/go7z/sevenzip/internal/lzma2"
)

// Method selects the compressor a [Writer] applies to each folder.
type Method int

const (
	// MethodCopy stores entries uncompressed.
	MethodCopy Method = iota
	// MethodLZMA compresses with LZMA.
	MethodLZMA
	// MethodLZMA2 compresses with LZMA2.
	MethodLZMA2
	// MethodDeflate compresses with DEFLATE.
	MethodDeflate
)

var (
	errWriterClosed  = errors.New("sevenzip: writer already closed")
	errUnknownMethod = errors.New("sevenzip: unknown method")
)

// WriterOptions configures a [Writer] for the lifetime of the archive.
// Every folder it produces uses the same coder chain; per-entry overrides
// aren't supported.
type WriterOptions struct {
	// Method is the compressor applied to every folder. The zero value is
	// MethodCopy; NewWriter selects MethodLZMA2.
	Method Method
	// Level is the DEFLATE compression level, passed straight through to
	// flate.NewWriter. Ignored by every other Method.
	Level int
	// DictCap is the LZMA/LZMA2 dictionary capacity in bytes. Zero picks
	// a 8 MiB default.
	DictCap int
	// Delta, when non-zero, runs the entries through a Delta filter with
	// this distance (1-256) before Method compresses them.
	Delta int
	// Password, if non-empty, AES-256 encrypts every folder's compressed
	// output.
	Password string
	// Solid groups every entry added between Flush calls into a single
	// folder sharing one encoder, rather than giving each entry its own
	// folder.
	Solid bool
	// CompressHeader runs the final NextHeader block through the same
	// Method before it's written.
	CompressHeader bool
	// Deterministic zeroes timestamps and derives AES IVs from the
	// folder index instead of crypto/rand, so two runs over the same
	// input produce byte-identical archives.
	Deterministic bool
}

const defaultDictCap = 8 << 20

func (o WriterOptions) withDefaults() WriterOptions {
	if o.DictCap == 0 {
		o.DictCap = defaultDictCap
	}

	return o
}

// encoder is satisfied by every codec package's write-side type.
type encoder interface {
	io.Writer
	Close() error
	Properties() []byte
}

type copyEncoder struct {
	dst io.Writer
}

func (c *copyEncoder) Write(p []byte) (int, error) {
	n, err := c.dst.Write(p)
	if err != nil {
		return n, fmt.Errorf("sevenzip: error writing: %w", err)
	}

	return n, nil
}

func (c *copyEncoder) Close() error       { return nil }
func (c *copyEncoder) Properties() []byte { return nil }

// coderStage is one link in a folder's coder chain. A pendingFolder keeps
// its stages in read order: the first stage's output goes straight to the
// physical pack bytes, and plaintext enters at the last stage.
type coderStage struct {
	id  []byte
	enc encoder
	// sizeIsCompressed reports whether this stage's declared coder size
	// is the compressed payload length rather than the archive's true
	// uncompressed entry size, which only the AES stage needs.
	sizeIsCompressed bool
}

// pendingFolder accumulates one folder's worth of encoder state. In solid
// mode the same pendingFolder spans every entry until Flush or Close.
type pendingFolder struct {
	stages      []coderStage // read order: last stage sees plaintext
	head        encoder
	packCounter *plumbing.WriteCounter
	compCounter *plumbing.WriteCounter

	substreamSizes []uint64
	substreamCRCs  []uint32
	totalSize      uint64
}

// Writer creates a 7-zip archive, mirroring the streaming, header-last
// shape of archive/zip.Writer: CreateHeader starts an entry and the
// returned io.Writer accepts its content, and the central-directory
// equivalent (the NextHeader block) is only assembled and written on
// Close.
type Writer struct {
	w    io.WriteSeeker
	opts WriterOptions

	pos uint64

	folders []*folder
	packSizes []uint64
	files   []FileHeader

	subStreams []uint64
	subSizes   []uint64
	subCRCs    []uint32

	pf  *pendingFolder
	cur *entryWriter

	folderIndex int
	closed      bool
}

// NewWriter returns a Writer using MethodLZMA2 and otherwise zero-value
// options (no password, one folder per entry).
func NewWriter(w io.WriteSeeker) (*Writer, error) {
	return NewWriterOptions(w, WriterOptions{Method: MethodLZMA2})
}

// NewWriterOptions returns a Writer configured by opts.
func NewWriterOptions(w io.WriteSeeker, opts WriterOptions) (*Writer, error) {
	zw := &Writer{w: w, opts: opts.withDefaults()}

	placeholder := make([]byte, 32) //nolint:mnd
	if _, err := zw.w.Write(placeholder); err != nil {
		return nil, fmt.Errorf("sevenzip: error reserving signature header: %w", err)
	}

	zw.pos = 32 //nolint:mnd

	return zw, nil
}

type entryWriter struct {
	pf   *pendingFolder
	crc  hash.Hash32
	size uint64
}

func (e *entryWriter) Write(p []byte) (int, error) {
	_, _ = e.crc.Write(p)
	e.size += uint64(len(p))

	n, err := e.pf.head.Write(p)
	if err != nil {
		return n, fmt.Errorf("sevenzip: error compressing: %w", err)
	}

	return len(p), nil
}

// CreateHeader starts a new entry described by fh and returns an io.Writer
// for its content. Any previous entry's writer is implicitly finalised, as
// with archive/zip.Writer. Directories and explicitly empty files return a
// writer that discards anything written to it.
func (z *Writer) CreateHeader(fh *FileHeader) (io.Writer, error) {
	if z.closed {
		return nil, errWriterClosed
	}

	if err := z.finishEntry(); err != nil {
		return nil, err
	}

	hdr := *fh

	if hdr.Attributes == 0 {
		hdr.Attributes = fileModeToAttributes(hdr.Mode())
	}

	if z.opts.Deterministic {
		hdr.Created, hdr.Accessed, hdr.Modified = time.Time{}, time.Time{}, time.Time{}
	}

	if hdr.Mode().IsDir() {
		hdr.isEmptyStream = true
		z.files = append(z.files, hdr)

		return io.Discard, nil
	}

	if z.pf == nil {
		pf, err := z.newPendingFolder()
		if err != nil {
			return nil, err
		}

		z.pf = pf
	}

	z.files = append(z.files, hdr)

	z.cur = &entryWriter{pf: z.pf, crc: crc32.NewIEEE()}

	return z.cur, nil
}

func (z *Writer) finishEntry() error {
	if z.cur == nil {
		return nil
	}

	e := z.cur
	z.cur = nil

	e.pf.substreamSizes = append(e.pf.substreamSizes, e.size)
	e.pf.substreamCRCs = append(e.pf.substreamCRCs, e.crc.Sum32())
	e.pf.totalSize += e.size

	if !z.opts.Solid {
		return z.closeCurrentFolder()
	}

	return nil
}

// Flush ends the current solid folder early, so the next entry starts a
// fresh one. A no-op outside solid mode.
func (z *Writer) Flush() error {
	if err := z.finishEntry(); err != nil {
		return err
	}

	return z.closeCurrentFolder()
}

func methodCoderID(m Method) []byte {
	switch m {
	case MethodCopy:
		return []byte{0x00}
	case MethodLZMA:
		return []byte{0x03, 0x01, 0x01}
	case MethodLZMA2:
		return []byte{0x21}
	case MethodDeflate:
		return []byte{0x04, 0x01, 0x08}
	default:
		return nil
	}
}

var (
	idDelta = []byte{0x03}
	idAES   = []byte{0x06, 0xf1, 0x07, 0x01}
)

const aesCycles = 19

func (z *Writer) deterministicIV() []byte {
	if !z.opts.Deterministic {
		return nil
	}

	h := sha256.Sum256(binary.LittleEndian.AppendUint64(nil, uint64(z.folderIndex))) //nolint:gosec

	return h[:16] //nolint:mnd
}

//nolint:cyclop
func (z *Writer) newPendingFolder() (*pendingFolder, error) {
	pf := &pendingFolder{packCounter: new(plumbing.WriteCounter)}

	dst := io.Writer(io.MultiWriter(z.w, pf.packCounter))

	var stages []coderStage

	if z.opts.Password != "" {
		aw, err := aes7z.NewWriter(dst, z.opts.Password, aesCycles, z.deterministicIV())
		if err != nil {
			return nil, fmt.Errorf("sevenzip: error creating AES encoder: %w", err)
		}

		pf.compCounter = new(plumbing.WriteCounter)
		dst = io.MultiWriter(aw, pf.compCounter)
		stages = append(stages, coderStage{id: idAES, enc: aw, sizeIsCompressed: true})
	}

	methodEnc, err := z.newMethodEncoder(dst)
	if err != nil {
		return nil, err
	}

	stages = append(stages, coderStage{id: methodCoderID(z.opts.Method), enc: methodEnc})

	head := methodEnc

	if z.opts.Delta > 0 {
		dw, err := delta.NewWriter(methodEnc, z.opts.Delta)
		if err != nil {
			return nil, fmt.Errorf("sevenzip: error creating delta encoder: %w", err)
		}

		stages = append(stages, coderStage{id: idDelta, enc: dw})
		head = dw
	}

	// stages is already in read order (pack to plain): AES first since
	// it's the first thing a reader decodes, then the method, then any
	// delta filter last, mirroring struct.go's folder.coder convention.
	pf.stages = stages
	pf.head = head

	z.folderIndex++

	return pf, nil
}

func (z *Writer) newMethodEncoder(dst io.Writer) (encoder, error) {
	switch z.opts.Method {
	case MethodCopy:
		return &copyEncoder{dst: dst}, nil
	case MethodLZMA:
		w, err := lzma.NewWriter(dst)
		if err != nil {
			return nil, fmt.Errorf("sevenzip: error creating LZMA encoder: %w", err)
		}

		return w, nil
	case MethodLZMA2:
		w, err := lzma2.NewWriter(dst, z.opts.DictCap)
		if err != nil {
			return nil, fmt.Errorf("sevenzip: error creating LZMA2 encoder: %w", err)
		}

		return w, nil
	case MethodDeflate:
		w, err := deflate.NewWriter(dst, z.opts.Level)
		if err != nil {
			return nil, fmt.Errorf("sevenzip: error creating DEFLATE encoder: %w", err)
		}

		return w, nil
	default:
		return nil, errUnknownMethod
	}
}

// closeCurrentFolder flushes every stage of z.pf in write order, then
// records the resulting *folder and pack size.
func (z *Writer) closeCurrentFolder() error {
	pf := z.pf
	z.pf = nil

	if pf == nil || len(pf.substreamSizes) == 0 {
		return nil
	}

	// pf.stages holds read order (AES, method, delta); closing back to
	// front runs delta, then the method, then AES, the order each stage's
	// Close must flush into the next.
	for i := len(pf.stages) - 1; i >= 0; i-- {
		if err := pf.stages[i].enc.Close(); err != nil {
			return fmt.Errorf("sevenzip: error closing encoder: %w", err)
		}
	}

	f := &folder{
		coder: make([]*coder, len(pf.stages)),
		in:    uint64(len(pf.stages)),
		out:   uint64(len(pf.stages)),
		size:  make([]uint64, len(pf.stages)),
	}

	for i, s := range pf.stages {
		f.coder[i] = &coder{id: s.id, in: 1, out: 1, properties: s.enc.Properties()}

		if s.sizeIsCompressed {
			f.size[i] = pf.compCounter.Count()
		} else {
			f.size[i] = pf.totalSize
		}
	}

	for i := 0; i < len(pf.stages)-1; i++ {
		f.bindPair = append(f.bindPair, &bindPair{in: uint64(i + 1), out: uint64(i)})
	}

	f.packedStreams = 1
	f.packed = []uint64{0}

	z.folders = append(z.folders, f)
	z.packSizes = append(z.packSizes, pf.packCounter.Count())
	z.pos += pf.packCounter.Count()

	z.subStreams = append(z.subStreams, uint64(len(pf.substreamSizes)))
	z.subSizes = append(z.subSizes, pf.substreamSizes...)
	z.subCRCs = append(z.subCRCs, pf.substreamCRCs...)

	return nil
}

// Close finalises the archive: any open entry and folder are flushed, the
// NextHeader block is assembled and written, and the signature header at
// the start of the stream is patched in with its real offset and size.
//
//nolint:funlen
func (z *Writer) Close() error {
	if z.closed {
		return errWriterClosed
	}

	z.closed = true

	if err := z.finishEntry(); err != nil {
		return err
	}

	if err := z.closeCurrentFolder(); err != nil {
		return err
	}

	h := &header{filesInfo: &filesInfo{file: z.files}}

	if len(z.folders) > 0 {
		h.streamsInfo = &streamsInfo{
			packInfo: &packInfo{streams: uint64(len(z.packSizes)), size: z.packSizes},
			unpackInfo: &unpackInfo{
				folder: z.folders,
			},
			subStreamsInfo: &subStreamsInfo{
				streams: z.subStreams,
				size:    z.subSizes,
				digest:  z.subCRCs,
			},
		}
	}

	var headerBuf bytes.Buffer

	bw := bufio.NewWriter(&headerBuf)
	if err := writeHeader(bw, h, z.opts.Deterministic); err != nil {
		return err
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("sevenzip: error flushing header: %w", err)
	}

	nextHeader, err := z.encodeNextHeader(headerBuf.Bytes())
	if err != nil {
		return err
	}

	return z.writeTrailer(nextHeader)
}

// encodeNextHeader returns either plain bytes (idHeader followed by hdr) or,
// when header compression is requested, an idEncodedHeader block describing
// one extra folder that decodes to hdr.
func (z *Writer) encodeNextHeader(hdr []byte) ([]byte, error) {
	if !z.opts.CompressHeader {
		return append([]byte{idHeader}, hdr...), nil
	}

	pf, err := z.newPendingFolder()
	if err != nil {
		return nil, err
	}

	// The decompressed payload is itself dispatched on a leading id byte
	// (parseEncodedHeader), exactly like the uncompressed NextHeader case.
	plain := append([]byte{idHeader}, hdr...)

	if _, err := pf.head.Write(plain); err != nil {
		return nil, fmt.Errorf("sevenzip: error compressing header: %w", err)
	}

	pf.substreamSizes = append(pf.substreamSizes, uint64(len(plain)))
	pf.substreamCRCs = append(pf.substreamCRCs, crc32.ChecksumIEEE(plain))
	pf.totalSize = uint64(len(plain))

	z.pf = pf
	if err := z.closeCurrentFolder(); err != nil {
		return nil, err
	}

	headerFolder := z.folders[len(z.folders)-1]
	headerPackSize := z.packSizes[len(z.packSizes)-1]
	headerPackPos := z.pos - headerPackSize

	si := &streamsInfo{
		packInfo:   &packInfo{position: headerPackPos - 32, streams: 1, size: []uint64{headerPackSize}}, //nolint:mnd
		unpackInfo: &unpackInfo{folder: []*folder{headerFolder}},
	}

	var buf bytes.Buffer

	bw := bufio.NewWriter(&buf)
	if err := writeStreamsInfo(bw, si); err != nil {
		return nil, err
	}

	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("sevenzip: error flushing encoded header: %w", err)
	}

	return append([]byte{idEncodedHeader}, buf.Bytes()...), nil
}

func (z *Writer) writeTrailer(nextHeader []byte) error {
	start := startHeader{
		Offset: z.pos - 32, //nolint:mnd
		Size:   uint64(len(nextHeader)),
		CRC:    crc32.ChecksumIEEE(nextHeader),
	}

	if _, err := z.w.Write(nextHeader); err != nil {
		return fmt.Errorf("sevenzip: error writing header: %w", err)
	}

	var startBuf bytes.Buffer
	if err := binary.Write(&startBuf, binary.LittleEndian, start); err != nil {
		return fmt.Errorf("sevenzip: error encoding start header: %w", err)
	}

	sig := signatureHeader{
		Signature: [6]byte{'7', 'z', 0xbc, 0xaf, 0x27, 0x1c},
		Major:     0,
		Minor:     4,
		CRC:       crc32.ChecksumIEEE(startBuf.Bytes()),
	}

	var prefix bytes.Buffer
	if err := binary.Write(&prefix, binary.LittleEndian, sig); err != nil {
		return fmt.Errorf("sevenzip: error encoding signature header: %w", err)
	}

	prefix.Write(startBuf.Bytes())

	if _, err := z.w.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("sevenzip: error seeking to signature header: %w", err)
	}

	if _, err := z.w.Write(prefix.Bytes()); err != nil {
		return fmt.Errorf("sevenzip: error writing signature header: %w", err)
	}

	return nil
}
