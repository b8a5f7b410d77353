// Package keycache caches AES-256 keys derived from archive passwords.
//
// The cache is keyed by a SHA-256 hash of the UTF-16LE password bytes, never
// by the password itself, so a process dump or cache trace never recovers
// the plaintext password from a cache entry.
package keycache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultSize is the number of derived keys kept per process.
const DefaultSize = 10

// PasswordHash is a SHA-256 digest of a password's UTF-16LE encoding. It is
// safe to log or compare; it never reveals the password.
type PasswordHash [sha256.Size]byte

// HashPassword returns the cache key material for password. Callers should
// discard the password's plaintext as soon as the derived key is obtained
// and keep only the hash for any further lookups.
func HashPassword(password string) (PasswordHash, error) {
	utf16le := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

	encoded, _, err := transform.String(utf16le.NewEncoder(), password)
	if err != nil {
		return PasswordHash{}, fmt.Errorf("keycache: error encoding password: %w", err)
	}

	return sha256.Sum256([]byte(encoded)), nil
}

type cacheKey struct {
	passwordHash PasswordHash
	cycles       int
	salt         string // []byte isn't comparable
}

// Stats tracks cache effectiveness. IterationsSaved estimates the SHA-256
// compression-function calls avoided by each hit, at 2^cycles per lookup.
type Stats struct {
	Hits            uint64
	Misses          uint64
	IterationsSaved uint64
}

// Cache stores derived AES keys, indexed by password hash, cycle count and
// salt. It never stores or compares plaintext passwords.
type Cache struct {
	lru *lru.Cache[cacheKey, []byte]

	hits            atomic.Uint64
	misses          atomic.Uint64
	iterationsSaved atomic.Uint64
}

// New creates a Cache holding at most size derived keys.
func New(size int) (*Cache, error) {
	l, err := lru.New[cacheKey, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("keycache: error creating cache: %w", err)
	}

	return &Cache{lru: l}, nil
}

//nolint:gochecknoglobals
var (
	defaultOnce  sync.Once
	defaultCache *Cache
	defaultErr   error
)

// Default returns the process-wide cache used by aes7z.
func Default() (*Cache, error) {
	defaultOnce.Do(func() {
		defaultCache, defaultErr = New(DefaultSize)
	})

	return defaultCache, defaultErr
}

// Lookup returns the cached key for the given password hash, cycle count
// and salt, if present.
func (c *Cache) Lookup(hash PasswordHash, cycles int, salt []byte) ([]byte, bool) {
	key, ok := c.lru.Get(cacheKey{passwordHash: hash, cycles: cycles, salt: hex.EncodeToString(salt)})
	if ok {
		c.hits.Add(1)

		if cycles >= 0 && cycles < 64 {
			c.iterationsSaved.Add(1 << uint(cycles))
		}

		return key, true
	}

	c.misses.Add(1)

	return nil, false
}

// Store records a derived key for the given password hash, cycle count and
// salt.
func (c *Cache) Store(hash PasswordHash, cycles int, salt []byte, key []byte) {
	c.lru.Add(cacheKey{passwordHash: hash, cycles: cycles, salt: hex.EncodeToString(salt)}, key)
}

// Stats returns a snapshot of the cache's hit/miss counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:            c.hits.Load(),
		Misses:          c.misses.Load(),
		IterationsSaved: c.iterationsSaved.Load(),
	}
}
