package aes7z

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// Writer AES-256-CBC encrypts everything written to it, zero-padding the
// final partial block the same way NewReader's caller truncates it back
// off using the declared unpacked size rather than any padding scheme.
type Writer struct {
	dst  io.Writer
	cbc  cipher.BlockMode
	buf  []byte
	salt []byte
	iv   []byte
	cycles int
}

// NewWriter returns a Writer encrypting with a key derived from password
// at the given cycles (0-30, or 0x3f meaning "use the raw password bytes";
// key derivation rejects any other value). iv
// must be 16 bytes; a nil iv is filled with crypto/rand output.
func NewWriter(dst io.Writer, password string, cycles int, iv []byte) (*Writer, error) {
	if iv == nil {
		iv = make([]byte, aes.BlockSize)
		if _, err := rand.Read(iv); err != nil {
			return nil, fmt.Errorf("aes7z: error generating iv: %w", err)
		}
	}

	if len(iv) != aes.BlockSize {
		return nil, errInsufficientProperties
	}

	key, err := calculateKey(password, cycles, nil)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes7z: error creating cipher: %w", err)
	}

	return &Writer{
		dst:    dst,
		cbc:    cipher.NewCBCEncrypter(block, iv),
		iv:     iv,
		cycles: cycles,
	}, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)

	n := len(w.buf) - len(w.buf)%aes.BlockSize
	if n > 0 {
		out := make([]byte, n)
		w.cbc.CryptBlocks(out, w.buf[:n])

		if _, err := w.dst.Write(out); err != nil {
			return 0, fmt.Errorf("aes7z: error writing: %w", err)
		}

		w.buf = w.buf[n:]
	}

	return len(p), nil
}

// Close flushes the final, zero-padded partial block.
func (w *Writer) Close() error {
	if len(w.buf) == 0 {
		return nil
	}

	padded := make([]byte, aes.BlockSize)
	copy(padded, w.buf)

	out := make([]byte, aes.BlockSize)
	w.cbc.CryptBlocks(out, padded)

	if _, err := w.dst.Write(out); err != nil {
		return fmt.Errorf("aes7z: error writing final block: %w", err)
	}

	w.buf = nil

	return nil
}

// Properties returns the coder properties block: a flags byte, a sizes
// byte and the salt/iv bytes, the exact inverse of NewReader's parsing.
func (w *Writer) Properties() []byte {
	saltBit, saltNibble := sizeToBitNibble(len(w.salt))
	ivBit, ivNibble := sizeToBitNibble(len(w.iv))

	p0 := byte(w.cycles&0x3f) | ivBit<<6 | saltBit<<7 //nolint:mnd
	p1 := saltNibble<<4 | ivNibble                     //nolint:mnd

	props := make([]byte, 0, 2+len(w.salt)+len(w.iv))
	props = append(props, p0, p1)
	props = append(props, w.salt...)
	props = append(props, w.iv...)

	return props
}

func sizeToBitNibble(size int) (byte, byte) {
	if size > 15 { //nolint:mnd
		return 1, 15 //nolint:mnd
	}

	return 0, byte(size)
}
