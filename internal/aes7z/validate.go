package aes7z

import (
	"bytes"
	"encoding/binary"
)

// maxLZMADictSize bounds the dictionary size a genuine LZMA stream declares;
// 7-Zip never emits one larger than 1 GiB.
const maxLZMADictSize = 1 << 30

// ValidateHeader inspects the first decrypted plaintext block against the
// header grammar of the codec identified by methodID. It reports false only
// when the grammar is known and violated, meaning the decrypting password
// was almost certainly wrong. Codecs with no reliable header (PPMd, Copy,
// anything unrecognised) always pass.
func ValidateHeader(methodID, plaintext []byte) bool {
	switch {
	case bytes.Equal(methodID, []byte{0x03, 0x01, 0x01}):
		return validateLZMA(plaintext)
	case bytes.Equal(methodID, []byte{0x21}):
		return validateLZMA2(plaintext)
	case bytes.Equal(methodID, []byte{0x04, 0x01, 0x08}):
		return validateDeflate(plaintext)
	case bytes.Equal(methodID, []byte{0x04, 0x02, 0x02}):
		return validateBZip2(plaintext)
	default:
		return true
	}
}

func validateLZMA(p []byte) bool {
	if len(p) < 5 {
		return true
	}

	props := int(p[0])
	lc := props % 9
	rem := props / 9
	lp := rem % 5
	pb := rem / 5

	if lc >= 9 || lp >= 5 || pb >= 5 {
		return false
	}

	dictSize := binary.LittleEndian.Uint32(p[1:5])

	return dictSize <= maxLZMADictSize
}

func validateLZMA2(p []byte) bool {
	if len(p) < 1 {
		return true
	}

	control := p[0]

	return control < 0x03 || control > 0x7f
}

func validateDeflate(p []byte) bool {
	if len(p) < 1 {
		return true
	}

	btype := (p[0] >> 1) & 0x03

	return btype != 0x03
}

func validateBZip2(p []byte) bool {
	if len(p) < 2 {
		return true
	}

	return p[0] == 'B' && p[1] == 'Z'
}
