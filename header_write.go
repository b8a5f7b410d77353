package sevenzip

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	iofs "io/fs"
	"time"
)

// writeNumber encodes value using the 7-zip variable length integer format,
// the exact inverse of readNumber: the leading bits of the first byte, set
// from the top down, count how many further little-endian bytes follow.
func writeNumber(bw *bufio.Writer, value uint64) error {
	var firstByte byte

	mask := byte(0x80)

	i := 0

	for ; i < 8; i++ { //nolint:mnd
		if value < uint64(1)<<(7*(i+1)) { //nolint:mnd
			firstByte |= byte(value >> (8 * i)) //nolint:mnd

			break
		}

		firstByte |= mask
		mask >>= 1
	}

	if err := bw.WriteByte(firstByte); err != nil {
		return fmt.Errorf("sevenzip: error writing number: %w", err)
	}

	for ; i > 0; i-- {
		if err := bw.WriteByte(byte(value)); err != nil {
			return fmt.Errorf("sevenzip: error writing number: %w", err)
		}

		value >>= 8 //nolint:mnd
	}

	return nil
}

func writeByte(bw *bufio.Writer, b byte) error {
	if err := bw.WriteByte(b); err != nil {
		return fmt.Errorf("sevenzip: error writing byte: %w", err)
	}

	return nil
}

func writeUint32(bw *bufio.Writer, v uint32) error {
	if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
		return fmt.Errorf("sevenzip: error writing uint32: %w", err)
	}

	return nil
}

func writeUint64(bw *bufio.Writer, v uint64) error {
	if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
		return fmt.Errorf("sevenzip: error writing uint64: %w", err)
	}

	return nil
}

func writeRawBytes(bw *bufio.Writer, b []byte) error {
	if _, err := bw.Write(b); err != nil {
		return fmt.Errorf("sevenzip: error writing bytes: %w", err)
	}

	return nil
}

// writeBoolVector packs n booleans MSB-first into ceil(n/8) bytes.
func writeBoolVector(bw *bufio.Writer, v []bool) error {
	buf := make([]byte, (len(v)+7)/8) //nolint:mnd

	for i, b := range v {
		if b {
			buf[i/8] |= 0x80 >> (i % 8) //nolint:mnd
		}
	}

	return writeRawBytes(bw, buf)
}

// writeOptionalBoolVector writes the "all defined" shortcut when every
// element is true, otherwise an explicit packed vector.
func writeOptionalBoolVector(bw *bufio.Writer, v []bool) error {
	all := true

	for _, b := range v {
		if !b {
			all = false

			break
		}
	}

	if all {
		return writeByte(bw, 1)
	}

	if err := writeByte(bw, 0); err != nil {
		return err
	}

	return writeBoolVector(bw, v)
}

func writeDigests(bw *bufio.Writer, digest []uint32, defined []bool) error {
	if err := writeOptionalBoolVector(bw, defined); err != nil {
		return err
	}

	for i, d := range digest {
		if !defined[i] {
			continue
		}

		if err := writeUint32(bw, d); err != nil {
			return err
		}
	}

	return nil
}

func writePackInfo(bw *bufio.Writer, pi *packInfo) error {
	if err := writeByte(bw, idPackInfo); err != nil {
		return err
	}

	if err := writeNumber(bw, pi.position); err != nil {
		return err
	}

	if err := writeNumber(bw, pi.streams); err != nil {
		return err
	}

	if err := writeByte(bw, idSize); err != nil {
		return err
	}

	for _, s := range pi.size {
		if err := writeNumber(bw, s); err != nil {
			return err
		}
	}

	if len(pi.digest) > 0 {
		if err := writeByte(bw, idCRC); err != nil {
			return err
		}

		defined := make([]bool, len(pi.digest))
		for i := range defined {
			defined[i] = true
		}

		if err := writeDigests(bw, pi.digest, defined); err != nil {
			return err
		}
	}

	return writeByte(bw, idEnd)
}

func writeFolder(bw *bufio.Writer, f *folder) error {
	if err := writeNumber(bw, uint64(len(f.coder))); err != nil {
		return err
	}

	for _, c := range f.coder {
		flags := byte(len(c.id)) & 0x0f //nolint:mnd

		isComplex := c.in != 1 || c.out != 1
		if isComplex {
			flags |= 0x10 //nolint:mnd
		}

		if len(c.properties) > 0 {
			flags |= 0x20 //nolint:mnd
		}

		if err := writeByte(bw, flags); err != nil {
			return err
		}

		if err := writeRawBytes(bw, c.id); err != nil {
			return err
		}

		if isComplex {
			if err := writeNumber(bw, c.in); err != nil {
				return err
			}

			if err := writeNumber(bw, c.out); err != nil {
				return err
			}
		}

		if len(c.properties) > 0 {
			if err := writeNumber(bw, uint64(len(c.properties))); err != nil {
				return err
			}

			if err := writeRawBytes(bw, c.properties); err != nil {
				return err
			}
		}
	}

	for _, bp := range f.bindPair {
		if err := writeNumber(bw, bp.in); err != nil {
			return err
		}

		if err := writeNumber(bw, bp.out); err != nil {
			return err
		}
	}

	if f.packedStreams != 1 {
		for _, p := range f.packed {
			if err := writeNumber(bw, p); err != nil {
				return err
			}
		}
	}

	return nil
}

func writeUnpackInfo(bw *bufio.Writer, ui *unpackInfo) error {
	if err := writeByte(bw, idUnpackInfo); err != nil {
		return err
	}

	if err := writeByte(bw, idFolder); err != nil {
		return err
	}

	if err := writeNumber(bw, uint64(len(ui.folder))); err != nil {
		return err
	}

	if err := writeByte(bw, 0); err != nil { // external == false
		return err
	}

	for _, f := range ui.folder {
		if err := writeFolder(bw, f); err != nil {
			return err
		}
	}

	if err := writeByte(bw, idCodersUnpackSize); err != nil {
		return err
	}

	for _, f := range ui.folder {
		for _, s := range f.size {
			if err := writeNumber(bw, s); err != nil {
				return err
			}
		}
	}

	if len(ui.digest) > 0 {
		if err := writeByte(bw, idCRC); err != nil {
			return err
		}

		defined := make([]bool, len(ui.digest))
		for i := range defined {
			defined[i] = ui.digest[i] != 0
		}

		if err := writeDigests(bw, ui.digest, defined); err != nil {
			return err
		}
	}

	return writeByte(bw, idEnd)
}

// writeSubStreamsInfo emits an explicit per-folder stream count and, for
// every substream but the last in each folder, an explicit size, mirroring
// readSubStreamsInfo's expectation that the last substream's size is
// implicit (the folder's own unpack size minus the sum of the others).
// Every substream's CRC is always written explicitly: nothing here ever
// populates unpackInfo's own digest vector, so readSubStreamsInfo never
// takes its "digest already known from the folder" shortcut either.
func writeSubStreamsInfo(bw *bufio.Writer, si *streamsInfo) error {
	if err := writeByte(bw, idSubStreamsInfo); err != nil {
		return err
	}

	if err := writeByte(bw, idNumUnpackStream); err != nil {
		return err
	}

	for _, n := range si.subStreamsInfo.streams {
		if err := writeNumber(bw, n); err != nil {
			return err
		}
	}

	if err := writeByte(bw, idSize); err != nil {
		return err
	}

	// readSubStreamsInfo only ever consumes n-1 explicit sizes per folder,
	// reconstructing the final substream's size as the folder's own
	// unpack size minus the sum of the others, so that size is never
	// written here.
	idx := 0

	for _, n := range si.subStreamsInfo.streams {
		for i := uint64(0); i < n; i++ {
			if i < n-1 {
				if err := writeNumber(bw, si.subStreamsInfo.size[idx]); err != nil {
					return err
				}
			}

			idx++
		}
	}

	if len(si.subStreamsInfo.digest) > 0 {
		if err := writeByte(bw, idCRC); err != nil {
			return err
		}

		defined := make([]bool, len(si.subStreamsInfo.digest))
		for i := range defined {
			defined[i] = si.subStreamsInfo.digest[i] != 0
		}

		if err := writeDigests(bw, si.subStreamsInfo.digest, defined); err != nil {
			return err
		}
	}

	return writeByte(bw, idEnd)
}

func writeStreamsInfo(bw *bufio.Writer, si *streamsInfo) error {
	if err := writePackInfo(bw, si.packInfo); err != nil {
		return err
	}

	if err := writeUnpackInfo(bw, si.unpackInfo); err != nil {
		return err
	}

	if si.subStreamsInfo != nil {
		if err := writeSubStreamsInfo(bw, si); err != nil {
			return err
		}
	}

	return writeByte(bw, idEnd)
}

// encodeUTF16 is the inverse of decodeUTF16: runes above the BMP are split
// into a surrogate pair.
func encodeUTF16(s string) []uint16 {
	units := make([]uint16, 0, len(s))

	for _, r := range s {
		switch {
		case r < 0x10000: //nolint:mnd
			units = append(units, uint16(r))
		default:
			r -= 0x10000
			units = append(units, uint16(0xd800+(r>>10)), uint16(0xdc00+(r&0x3ff))) //nolint:mnd
		}
	}

	return units
}

func writeUTF16String(bw *bufio.Writer, s string) error {
	for _, u := range encodeUTF16(s) {
		if err := binary.Write(bw, binary.LittleEndian, u); err != nil {
			return fmt.Errorf("sevenzip: error writing name: %w", err)
		}
	}

	return binary.Write(bw, binary.LittleEndian, uint16(0))
}

// timeToFiletime is the inverse of filetimeToTime.
func timeToFiletime(t time.Time) (uint32, uint32) {
	const epochDiff = 116444736000000000

	ft := uint64(t.Unix())*10000000 + uint64(t.Nanosecond()/100) + epochDiff //nolint:mnd

	return uint32(ft), uint32(ft >> 32) //nolint:mnd
}

// fileModeToAttributes is the inverse of (*FileHeader).Mode for the POSIX
// attribute representation: the low 16 bits of a Unix st_mode-style value,
// shifted up 16 bits, with the FILE_ATTRIBUTE_UNIX_EXTENSION marker
// (0x8000) implied by a non-zero S_IFMT nibble landing in the top byte.
func fileModeToAttributes(mode iofs.FileMode) uint32 {
	m := uint32(mode.Perm())

	switch {
	case mode&iofs.ModeDir != 0:
		m |= sIFDIR
	case mode&iofs.ModeSymlink != 0:
		m |= sIFLNK
	case mode&iofs.ModeDevice != 0 && mode&iofs.ModeCharDevice != 0:
		m |= sIFCHR
	case mode&iofs.ModeDevice != 0:
		m |= sIFBLK
	case mode&iofs.ModeNamedPipe != 0:
		m |= sIFIFO
	case mode&iofs.ModeSocket != 0:
		m |= sIFSOCK
	default:
		m |= sIFREG
	}

	if mode&iofs.ModeSetgid != 0 {
		m |= sISGID
	}

	if mode&iofs.ModeSetuid != 0 {
		m |= sISUID
	}

	if mode&iofs.ModeSticky != 0 {
		m |= sISVTX
	}

	return m << 16 //nolint:mnd
}

//nolint:cyclop,funlen
func writeFilesInfo(bw *bufio.Writer, fi *filesInfo, deterministic bool) error {
	if err := writeByte(bw, idFilesInfo); err != nil {
		return err
	}

	if err := writeNumber(bw, uint64(len(fi.file))); err != nil {
		return err
	}

	emptyStream := make([]bool, len(fi.file))

	var emptyFile, anti []bool

	haveEmptyStream := false

	for i, f := range fi.file {
		emptyStream[i] = f.isEmptyStream
		if f.isEmptyStream {
			haveEmptyStream = true

			emptyFile = append(emptyFile, f.isEmptyFile)
			anti = append(anti, f.IsAnti)
		}
	}

	if haveEmptyStream {
		if err := writeProperty(bw, idEmptyStream, func(b *bufio.Writer) error {
			return writeBoolVector(b, emptyStream)
		}); err != nil {
			return err
		}

		if err := writeProperty(bw, idEmptyFile, func(b *bufio.Writer) error {
			return writeBoolVector(b, emptyFile)
		}); err != nil {
			return err
		}
	}

	if err := writeProperty(bw, idName, func(b *bufio.Writer) error {
		if err := writeByte(b, 0); err != nil { // external == false
			return err
		}

		for _, f := range fi.file {
			if err := writeUTF16String(b, f.Name); err != nil {
				return err
			}
		}

		return nil
	}); err != nil {
		return err
	}

	if err := writeProperty(bw, idWinAttributes, func(b *bufio.Writer) error {
		defined := make([]bool, len(fi.file))
		for i := range defined {
			defined[i] = true
		}

		if err := writeOptionalBoolVector(b, defined); err != nil {
			return err
		}

		if err := writeByte(b, 0); err != nil { // external == false
			return err
		}

		for _, f := range fi.file {
			if err := writeUint32(b, f.Attributes); err != nil {
				return err
			}
		}

		return nil
	}); err != nil {
		return err
	}

	if !deterministic {
		haveMTime := false

		for _, f := range fi.file {
			if !f.Modified.IsZero() {
				haveMTime = true

				break
			}
		}

		if haveMTime {
			if err := writeProperty(bw, idMTime, func(b *bufio.Writer) error {
				return writeTimestamps(b, fi.file, func(f *FileHeader) time.Time { return f.Modified })
			}); err != nil {
				return err
			}
		}
	}

	return writeByte(bw, idEnd)
}

func writeTimestamps(bw *bufio.Writer, file []FileHeader, pick func(*FileHeader) time.Time) error {
	defined := make([]bool, len(file))
	for i := range file {
		defined[i] = !pick(&file[i]).IsZero()
	}

	if err := writeOptionalBoolVector(bw, defined); err != nil {
		return err
	}

	if err := writeByte(bw, 0); err != nil { // external == false
		return err
	}

	for i := range file {
		if !defined[i] {
			continue
		}

		lo, hi := timeToFiletime(pick(&file[i]))

		if err := writeUint32(bw, lo); err != nil {
			return err
		}

		if err := writeUint32(bw, hi); err != nil {
			return err
		}
	}

	return nil
}

// writeProperty buffers fn's output so its size, required by the grammar
// before the payload, is known up front.
func writeProperty(bw *bufio.Writer, id byte, fn func(*bufio.Writer) error) error {
	var buf bytes.Buffer

	inner := bufio.NewWriter(&buf)

	if err := fn(inner); err != nil {
		return err
	}

	if err := inner.Flush(); err != nil {
		return fmt.Errorf("sevenzip: error flushing property: %w", err)
	}

	if err := writeByte(bw, id); err != nil {
		return err
	}

	if err := writeNumber(bw, uint64(buf.Len())); err != nil {
		return err
	}

	return writeRawBytes(bw, buf.Bytes())
}

// writeHeader writes the body of a NextHeader block: idMainStreamsInfo and
// idFilesInfo sections followed by idEnd. The leading idHeader (or
// idEncodedHeader, for a compressed header) tag is the caller's
// responsibility, matching how readHeader expects its own leading id byte
// to already have been consumed by whoever dispatched to it.
func writeHeader(bw *bufio.Writer, h *header, deterministic bool) error {
	if h.streamsInfo != nil {
		if err := writeByte(bw, idMainStreamsInfo); err != nil {
			return err
		}

		if err := writeStreamsInfo(bw, h.streamsInfo); err != nil {
			return err
		}
	}

	if h.filesInfo != nil {
		if err := writeFilesInfo(bw, h.filesInfo, deterministic); err != nil {
			return err
		}
	}

	return writeByte(bw, idEnd)
}
