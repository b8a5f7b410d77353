package sevenzip

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go7z/sevenzip/errs"
	"github.com/go7z/sevenzip/internal/util"
)

// Property IDs, one byte tags terminated by idEnd, as laid out in the 7-zip
// NextHeader grammar.
const (
	idEnd                   = 0x00
	idHeader                = 0x01
	idArchiveProperties     = 0x02
	idAdditionalStreamsInfo = 0x03
	idMainStreamsInfo       = 0x04
	idFilesInfo             = 0x05
	idPackInfo              = 0x06
	idUnpackInfo            = 0x07
	idSubStreamsInfo        = 0x08
	idSize                  = 0x09
	idCRC                   = 0x0a
	idFolder                = 0x0b
	idCodersUnpackSize      = 0x0c
	idNumUnpackStream       = 0x0d
	idEmptyStream           = 0x0e
	idEmptyFile             = 0x0f
	idAnti                  = 0x10
	idName                  = 0x11
	idCTime                 = 0x12
	idATime                 = 0x13
	idMTime                 = 0x14
	idWinAttributes         = 0x15
	idComment               = 0x16
	idEncodedHeader         = 0x17
	idStartPos              = 0x18
	idDummy                 = 0x19
)

// maxEncodedHeaderDepth bounds the encoded-header recursion so a maliciously
// nested header can't exhaust memory or the stack.
const maxEncodedHeaderDepth = 4

var (
	errUnexpectedID       = errors.New("sevenzip: unexpected id")
	errUnsupportedVersion = errors.New("sevenzip: unsupported version")
	errHeaderTooDeep      = errors.New("sevenzip: encoded header nested too deeply")
)

// filetimeToTime converts a Windows FILETIME (100ns intervals since
// 1601-01-01 UTC) to a time.Time.
func filetimeToTime(lo, hi uint32) time.Time {
	ft := uint64(hi)<<32 | uint64(lo)
	// 100ns intervals between 1601-01-01 and 1970-01-01.
	const epochDiff = 116444736000000000

	sec := int64(ft-epochDiff) / 10000000    //nolint:mnd
	nsec := (int64(ft-epochDiff) % 10000000) * 100

	return time.Unix(sec, nsec).UTC()
}

func readByte(r io.ByteReader) (byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("sevenzip: error reading byte: %w", err)
	}

	return b, nil
}

func readUint32(r io.Reader) (uint32, error) {
	var v uint32
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return 0, fmt.Errorf("sevenzip: error reading uint32: %w", err)
	}

	return v, nil
}

func readUint64(r io.Reader) (uint64, error) {
	var v uint64
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return 0, fmt.Errorf("sevenzip: error reading uint64: %w", err)
	}

	return v, nil
}

// readNumber decodes a 7-zip variable length integer. The leading bits of
// the first byte (from the top down) that are set to one indicate how many
// further little-endian bytes follow; the remaining low bits of the first
// byte, together with any bits left over once the extra bytes are
// exhausted, contribute the high-order bits of the value.
func readNumber(r io.ByteReader) (uint64, error) {
	first, err := readByte(r)
	if err != nil {
		return 0, err
	}

	var (
		mask  byte = 0x80
		value uint64
	)

	for i := 0; i < 8; i++ {
		if first&mask == 0 {
			value |= uint64(first&(mask-1)) << (8 * i) //nolint:mnd

			return value, nil
		}

		b, err := readByte(r)
		if err != nil {
			return 0, err
		}

		value |= uint64(b) << (8 * i) //nolint:mnd
		mask >>= 1
	}

	return value, nil
}

func readSize(r io.ByteReader) (uint64, error) {
	return readNumber(r)
}

func readBytes(r io.Reader, n uint64) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("sevenzip: error reading %d bytes: %w", n, err)
	}

	return buf, nil
}

// readBoolVector reads n booleans packed MSB-first into ceil(n/8) bytes.
func readBoolVector(r io.Reader, n int) ([]bool, error) {
	buf, err := readBytes(r, uint64((n+7)/8)) //nolint:mnd
	if err != nil {
		return nil, err
	}

	v := make([]bool, n)

	var mask byte

	var b byte

	for i := 0; i < n; i++ {
		if mask == 0 {
			b = buf[0]
			buf = buf[1:]
			mask = 0x80
		}

		v[i] = b&mask != 0
		mask >>= 1
	}

	return v, nil
}

// readOptionalBoolVector reads an "all defined" byte; if non-zero every
// element is true, otherwise a packed bool vector of n bits follows.
func readOptionalBoolVector(br *bufio.Reader, n int) ([]bool, error) {
	allDefined, err := readByte(br)
	if err != nil {
		return nil, err
	}

	if allDefined != 0 {
		v := make([]bool, n)
		for i := range v {
			v[i] = true
		}

		return v, nil
	}

	return readBoolVector(br, n)
}

// readDigests reads n optional CRC32 values governed by a defined-vector; an
// entry with its bit unset gets a zero (absent) CRC.
func readDigests(br *bufio.Reader, n int) ([]uint32, []bool, error) {
	defined, err := readOptionalBoolVector(br, n)
	if err != nil {
		return nil, nil, err
	}

	digest := make([]uint32, n)

	for i := 0; i < n; i++ {
		if !defined[i] {
			continue
		}

		if digest[i], err = readUint32(br); err != nil {
			return nil, nil, err
		}
	}

	return digest, defined, nil
}

func expect(br *bufio.Reader, want byte) error {
	id, err := readByte(br)
	if err != nil {
		return err
	}

	if id != want {
		return fmt.Errorf("%w: got %#x want %#x", errUnexpectedID, id, want) //nolint:err113
	}

	return nil
}

//nolint:cyclop
func readPackInfo(br *bufio.Reader) (*packInfo, error) {
	pi := new(packInfo)

	pos, err := readNumber(br)
	if err != nil {
		return nil, err
	}

	pi.position = pos

	streams, err := readNumber(br)
	if err != nil {
		return nil, err
	}

	pi.streams = streams

	for {
		id, err := readByte(br)
		if err != nil {
			return nil, err
		}

		switch id {
		case idEnd:
			return pi, nil
		case idSize:
			pi.size = make([]uint64, streams)

			for i := range pi.size {
				if pi.size[i], err = readNumber(br); err != nil {
					return nil, err
				}
			}
		case idCRC:
			digest, _, err := readDigests(br, int(streams)) //nolint:gosec
			if err != nil {
				return nil, err
			}

			pi.digest = digest
		default:
			return nil, fmt.Errorf("%w: %#x in pack info", errUnexpectedID, id) //nolint:err113
		}
	}
}

//nolint:cyclop,funlen
func readFolder(br *bufio.Reader) (*folder, error) {
	f := new(folder)

	numCoders, err := readNumber(br)
	if err != nil {
		return nil, err
	}

	f.coder = make([]*coder, numCoders)

	var totalIn, totalOut uint64

	for i := range f.coder {
		flags, err := readByte(br)
		if err != nil {
			return nil, err
		}

		idSize := flags & 0x0f
		isComplex := flags&0x10 != 0
		hasAttributes := flags&0x20 != 0

		id, err := readBytes(br, uint64(idSize))
		if err != nil {
			return nil, err
		}

		c := &coder{id: id, in: 1, out: 1}

		if isComplex {
			if c.in, err = readNumber(br); err != nil {
				return nil, err
			}

			if c.out, err = readNumber(br); err != nil {
				return nil, err
			}
		}

		if hasAttributes {
			size, err := readNumber(br)
			if err != nil {
				return nil, err
			}

			if c.properties, err = readBytes(br, size); err != nil {
				return nil, err
			}
		}

		totalIn += c.in
		totalOut += c.out
		f.coder[i] = c
	}

	f.in, f.out = totalIn, totalOut

	numBindPairs := totalOut - 1

	f.bindPair = make([]*bindPair, numBindPairs)

	for i := range f.bindPair {
		in, err := readNumber(br)
		if err != nil {
			return nil, err
		}

		out, err := readNumber(br)
		if err != nil {
			return nil, err
		}

		f.bindPair[i] = &bindPair{in: in, out: out}
	}

	numPackedStreams := totalIn - numBindPairs
	f.packedStreams = numPackedStreams

	f.packed = make([]uint64, numPackedStreams)

	if numPackedStreams == 1 {
		// The single packed stream is whichever global input index isn't
		// referenced by a bind pair.
		for i := uint64(0); i < totalIn; i++ {
			if f.findInBindPair(i) == nil {
				f.packed[0] = i

				break
			}
		}
	} else {
		for i := range f.packed {
			if f.packed[i], err = readNumber(br); err != nil {
				return nil, err
			}
		}
	}

	return f, nil
}

//nolint:cyclop
func readUnpackInfo(br *bufio.Reader) (*unpackInfo, error) {
	if err := expect(br, idFolder); err != nil {
		return nil, err
	}

	numFolders, err := readNumber(br)
	if err != nil {
		return nil, err
	}

	external, err := readByte(br)
	if err != nil {
		return nil, err
	}

	if external != 0 {
		return nil, fmt.Errorf("%w: external folder data unsupported", errUnexpectedID) //nolint:err113
	}

	ui := new(unpackInfo)
	ui.folder = make([]*folder, numFolders)

	for i := range ui.folder {
		if ui.folder[i], err = readFolder(br); err != nil {
			return nil, err
		}
	}

	if err := expect(br, idCodersUnpackSize); err != nil {
		return nil, err
	}

	for _, f := range ui.folder {
		f.size = make([]uint64, f.out)

		for i := range f.size {
			if f.size[i], err = readNumber(br); err != nil {
				return nil, err
			}
		}
	}

	for {
		id, err := readByte(br)
		if err != nil {
			return nil, err
		}

		switch id {
		case idEnd:
			return ui, nil
		case idCRC:
			digest, _, err := readDigests(br, len(ui.folder))
			if err != nil {
				return nil, err
			}

			ui.digest = digest
		default:
			return nil, fmt.Errorf("%w: %#x in unpack info", errUnexpectedID, id) //nolint:err113
		}
	}
}

//nolint:cyclop,funlen
func readSubStreamsInfo(br *bufio.Reader, folder []*folder) (*subStreamsInfo, error) {
	ssi := new(subStreamsInfo)

	numUnpackStreamsInFolders := make([]uint64, len(folder))
	for i := range numUnpackStreamsInFolders {
		numUnpackStreamsInFolders[i] = 1
	}

	id, err := readByte(br)
	if err != nil {
		return nil, err
	}

	if id == idNumUnpackStream {
		for i := range numUnpackStreamsInFolders {
			if numUnpackStreamsInFolders[i], err = readNumber(br); err != nil {
				return nil, err
			}
		}

		if id, err = readByte(br); err != nil {
			return nil, err
		}
	}

	ssi.streams = numUnpackStreamsInFolders

	var numDigestsUnknown int

	for folderIdx, n := range numUnpackStreamsInFolders {
		if n == 0 {
			continue
		}

		total := uint64(0)

		for i := uint64(0); i < n-1; i++ {
			var size uint64

			if id == idSize {
				if size, err = readNumber(br); err != nil {
					return nil, err
				}
			}

			ssi.size = append(ssi.size, size)
			total += size
		}

		ssi.size = append(ssi.size, folder[folderIdx].unpackSize()-total)

		if n != 1 || !folder[folderIdx].unpackInfoDigestKnown {
			numDigestsUnknown += int(n)
		}
	}

	if id == idSize {
		if id, err = readByte(br); err != nil {
			return nil, err
		}
	}

	count := 0
	for _, n := range numUnpackStreamsInFolders {
		count += int(n) //nolint:gosec
	}

	ssi.digest = make([]uint32, count)

	known := make([]bool, count)

	idx := 0

	for folderIdx, n := range numUnpackStreamsInFolders {
		if n == 1 && folder[folderIdx].unpackInfoDigestKnown {
			ssi.digest[idx] = folder[folderIdx].unpackInfoDigest
			known[idx] = true
			idx++

			continue
		}

		idx += int(n) //nolint:gosec
	}

	if id == idCRC {
		digest, defined, err := readDigests(br, numDigestsUnknown)
		if err != nil {
			return nil, err
		}

		j := 0

		for i := 0; i < count; i++ {
			if known[i] {
				continue
			}

			if defined[j] {
				ssi.digest[i] = digest[j]
			}

			j++
		}

		if id, err = readByte(br); err != nil {
			return nil, err
		}
	}

	for id != idEnd {
		return nil, fmt.Errorf("%w: %#x in substreams info", errUnexpectedID, id) //nolint:err113
	}

	return ssi, nil
}

func readStreamsInfo(br *bufio.Reader) (*streamsInfo, error) {
	si := new(streamsInfo)

	id, err := readByte(br)
	if err != nil {
		return nil, err
	}

	if id == idPackInfo {
		if si.packInfo, err = readPackInfo(br); err != nil {
			return nil, err
		}

		if id, err = readByte(br); err != nil {
			return nil, err
		}
	}

	if id == idUnpackInfo {
		if si.unpackInfo, err = readUnpackInfo(br); err != nil {
			return nil, err
		}

		for i, f := range si.unpackInfo.digest {
			if si.unpackInfo.folder[i] != nil && f != 0 {
				si.unpackInfo.folder[i].unpackInfoDigest = f
				si.unpackInfo.folder[i].unpackInfoDigestKnown = true
			}
		}

		if id, err = readByte(br); err != nil {
			return nil, err
		}
	}

	if id == idSubStreamsInfo {
		if si.unpackInfo == nil {
			return nil, fmt.Errorf("%w: substreams info without unpack info", errUnexpectedID) //nolint:err113
		}

		if si.subStreamsInfo, err = readSubStreamsInfo(br, si.unpackInfo.folder); err != nil {
			return nil, err
		}

		if id, err = readByte(br); err != nil {
			return nil, err
		}
	} else if si.unpackInfo != nil {
		// No SubStreamsInfo: one substream per folder, whole folder size.
		ssi := new(subStreamsInfo)
		ssi.streams = make([]uint64, len(si.unpackInfo.folder))

		for i, f := range si.unpackInfo.folder {
			ssi.streams[i] = 1
			ssi.size = append(ssi.size, f.unpackSize())
		}

		si.subStreamsInfo = ssi
	}

	if id != idEnd {
		return nil, fmt.Errorf("%w: %#x in streams info", errUnexpectedID, id) //nolint:err113
	}

	return si, nil
}

//nolint:cyclop,funlen,gocognit
func readFilesInfo(br *bufio.Reader) (*filesInfo, error) {
	fi := new(filesInfo)

	numFiles, err := readNumber(br)
	if err != nil {
		return nil, err
	}

	file := make([]FileHeader, numFiles)

	emptyStream := make([]bool, numFiles)
	numEmptyStreams := 0

	var (
		emptyFile []bool
		anti      []bool
	)

	for {
		id, err := readByte(br)
		if err != nil {
			return nil, err
		}

		if id == idEnd {
			break
		}

		size, err := readNumber(br)
		if err != nil {
			return nil, err
		}

		lr := io.LimitReader(br, int64(size)) //nolint:gosec
		lbr := bufio.NewReader(lr)

		switch id {
		case idEmptyStream:
			if emptyStream, err = readBoolVector(lbr, int(numFiles)); err != nil { //nolint:gosec
				return nil, err
			}

			for _, b := range emptyStream {
				if b {
					numEmptyStreams++
				}
			}
		case idEmptyFile:
			if emptyFile, err = readBoolVector(lbr, numEmptyStreams); err != nil {
				return nil, err
			}
		case idAnti:
			if anti, err = readBoolVector(lbr, numEmptyStreams); err != nil {
				return nil, err
			}
		case idName:
			external, err := readByte(lbr)
			if err != nil {
				return nil, err
			}

			if external != 0 {
				return nil, fmt.Errorf("%w: external names unsupported", errUnexpectedID) //nolint:err113
			}

			for i := range file {
				name, err := readUTF16String(lbr)
				if err != nil {
					return nil, err
				}

				file[i].Name = name
			}
		case idWinAttributes:
			defined, err := readOptionalBoolVector(lbr, int(numFiles)) //nolint:gosec
			if err != nil {
				return nil, err
			}

			external, err := readByte(lbr)
			if err != nil {
				return nil, err
			}

			if external != 0 {
				return nil, fmt.Errorf("%w: external attributes unsupported", errUnexpectedID) //nolint:err113
			}

			for i := range file {
				if !defined[i] {
					continue
				}

				if file[i].Attributes, err = readUint32(lbr); err != nil {
					return nil, err
				}
			}
		case idCTime, idATime, idMTime:
			defined, err := readOptionalBoolVector(lbr, int(numFiles)) //nolint:gosec
			if err != nil {
				return nil, err
			}

			external, err := readByte(lbr)
			if err != nil {
				return nil, err
			}

			if external != 0 {
				return nil, fmt.Errorf("%w: external timestamps unsupported", errUnexpectedID) //nolint:err113
			}

			for i := range file {
				if !defined[i] {
					continue
				}

				lo, err := readUint32(lbr)
				if err != nil {
					return nil, err
				}

				hi, err := readUint32(lbr)
				if err != nil {
					return nil, err
				}

				t := filetimeToTime(lo, hi)

				switch id {
				case idCTime:
					file[i].Created = t
				case idATime:
					file[i].Accessed = t
				case idMTime:
					file[i].Modified = t
				}
			}
		default:
			// Unknown/unneeded property (comment, dummy, start pos, ...);
			// the size-prefixed block lets us safely skip it.
		}

		if _, err := io.Copy(io.Discard, lr); err != nil {
			return nil, fmt.Errorf("sevenzip: error skipping property: %w", err)
		}
	}

	j := 0

	for i := range file {
		file[i].isEmptyStream = emptyStream[i]

		if !emptyStream[i] {
			continue
		}

		if j < len(emptyFile) {
			file[i].isEmptyFile = emptyFile[j]
		}

		if j < len(anti) {
			file[i].IsAnti = anti[j]
		}

		j++
	}

	fi.file = file

	return fi, nil
}

// readUTF16String reads a null-terminated UTF-16LE string.
func readUTF16String(r io.Reader) (string, error) {
	var units []uint16

	for {
		u, err := readUint16(r)
		if err != nil {
			return "", err
		}

		if u == 0 {
			break
		}

		units = append(units, u)
	}

	return decodeUTF16(units), nil
}

func readUint16(r io.Reader) (uint16, error) {
	var v uint16
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return 0, fmt.Errorf("sevenzip: error reading uint16: %w", err)
	}

	return v, nil
}

// decodeUTF16 converts UTF-16LE code units, including surrogate pairs, to a
// Go string.
func decodeUTF16(units []uint16) string {
	runes := make([]rune, 0, len(units))

	for i := 0; i < len(units); i++ {
		u := units[i]

		switch {
		case u >= 0xd800 && u <= 0xdbff && i+1 < len(units) && units[i+1] >= 0xdc00 && units[i+1] <= 0xdfff:
			r := (rune(u)-0xd800)<<10 | (rune(units[i+1]) - 0xdc00) + 0x10000
			runes = append(runes, r)
			i++
		default:
			runes = append(runes, rune(u))
		}
	}

	return string(runes)
}

//nolint:cyclop
func readHeader(br *bufio.Reader) (*header, error) {
	h := new(header)

	id, err := readByte(br)
	if err != nil {
		return nil, err
	}

	if id == idArchiveProperties {
		if err := skipArchiveProperties(br); err != nil {
			return nil, err
		}

		if id, err = readByte(br); err != nil {
			return nil, err
		}
	}

	if id == idAdditionalStreamsInfo {
		if _, err := readStreamsInfo(br); err != nil {
			return nil, err
		}

		if id, err = readByte(br); err != nil {
			return nil, err
		}
	}

	if id == idMainStreamsInfo {
		if h.streamsInfo, err = readStreamsInfo(br); err != nil {
			return nil, err
		}

		if id, err = readByte(br); err != nil {
			return nil, err
		}
	}

	if id == idFilesInfo {
		if h.filesInfo, err = readFilesInfo(br); err != nil {
			return nil, err
		}

		if id, err = readByte(br); err != nil {
			return nil, err
		}
	}

	if id != idEnd {
		return nil, fmt.Errorf("%w: %#x in header", errUnexpectedID, id) //nolint:err113
	}

	return h, nil
}

func skipArchiveProperties(br *bufio.Reader) error {
	for {
		id, err := readByte(br)
		if err != nil {
			return err
		}

		if id == idEnd {
			return nil
		}

		size, err := readNumber(br)
		if err != nil {
			return err
		}

		if _, err := io.CopyN(io.Discard, br, int64(size)); err != nil { //nolint:gosec
			return fmt.Errorf("sevenzip: error skipping archive property: %w", err)
		}
	}
}

// parseEncodedHeader decodes the single folder described by an
// ENCODED_HEADER block and parses the HEADER it produces. If the decoded
// bytes begin with another ENCODED_HEADER id it recurses with depth+1, and
// once depth exceeds maxEncodedHeaderDepth it fails with a
// ResourceLimitExceeded error wrapping errHeaderTooDeep.
func parseEncodedHeader(z *Reader, br *bufio.Reader, depth int) (*header, error) {
	if depth > maxEncodedHeaderDepth {
		return nil, &errs.Error{
			Kind:     errs.KindResourceLimitExceeded,
			EntryIdx: -1,
			Reason:   "encoded header nesting exceeds maxEncodedHeaderDepth",
			Err:      errHeaderTooDeep,
		}
	}

	streamsInfo, err := readStreamsInfo(br)
	if err != nil {
		return nil, err
	}

	if streamsInfo.Folders() != 1 {
		return nil, errOneHeaderStream
	}

	fr, crc, encrypted, err := z.folderReader(streamsInfo, 0)
	if err != nil {
		return nil, &ReadError{Encrypted: encrypted, Err: err}
	}

	defer func() {
		_ = fr.Close()
	}()

	inner := bufio.NewReader(util.ByteReadCloser(fr))

	id, err := readByte(inner)
	if err != nil {
		return nil, err
	}

	var h *header

	switch id {
	case idHeader:
		if h, err = readHeader(inner); err != nil {
			return nil, err
		}
	case idEncodedHeader:
		if h, err = parseEncodedHeader(z, inner, depth+1); err != nil {
			return nil, err
		}
	default:
		return nil, errUnexpectedID
	}

	if crc != 0 && !util.CRC32Equal(fr.Checksum(), crc) {
		return nil, errChecksum
	}

	return h, nil
}
