package aes7z

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/go7z/sevenzip/errs"
	"github.com/go7z/sevenzip/internal/keycache"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// maxCyclesPower is the highest NumCyclesPower this package will honour.
// AES properties encode cycles as a 6-bit field (0-63), with 0x3f singled
// out to mean "no key stretching"; anything above this still asks for up to
// 1<<62 SHA-256 iterations per key derivation, so it's treated as a
// resource-limit violation rather than actually spun.
const maxCyclesPower = 30

func calculateKey(password string, cycles int, salt []byte) ([]byte, error) {
	if cycles != 0x3f && cycles > maxCyclesPower {
		return nil, &errs.Error{
			Kind:   errs.KindResourceLimitExceeded,
			Reason: "AES cycles power exceeds max_cycles_power",
		}
	}

	cache, err := keycache.Default()
	if err != nil {
		return nil, fmt.Errorf("aes7z: error creating cache: %w", err)
	}

	hash, err := keycache.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("aes7z: error hashing password: %w", err)
	}

	if key, ok := cache.Lookup(hash, cycles, salt); ok {
		return key, nil
	}

	b := bytes.NewBuffer(salt)

	// Convert password to UTF-16LE
	utf16le := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
	t := transform.NewWriter(b, utf16le.NewEncoder())
	_, _ = t.Write([]byte(password))

	key := make([]byte, sha256.Size)
	if cycles == 0x3f {
		copy(key, b.Bytes())
	} else {
		h := sha256.New()
		for i := uint64(0); i < 1<<cycles; i++ {
			// These will never error
			_, _ = h.Write(b.Bytes())
			_ = binary.Write(h, binary.LittleEndian, i)
		}

		copy(key, h.Sum(nil))
	}

	cache.Store(hash, cycles, salt, key)

	return key, nil
}
