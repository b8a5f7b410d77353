// Package stream holds the configuration knobs for the root package's
// solid-aware streaming iterator: how much memory a buffered read is
// allowed to hold before it must flush to the caller.
package stream

// Config bounds the memory a streaming iterator may hold onto per entry.
type Config struct {
	// MaxMemoryBuffer is carried in the configuration but the root
	// iterator does not consult it: the only read-ahead it keeps is the
	// ReadBufferSize buffer in front of the current entry.
	MaxMemoryBuffer int64
	// ReadBufferSize sizes the buffered reader placed in front of each
	// entry's decoder.
	ReadBufferSize int
}

const (
	// DefaultMaxMemoryBuffer is 16 MiB.
	DefaultMaxMemoryBuffer = 16 << 20
	// DefaultReadBufferSize is 64 KiB.
	DefaultReadBufferSize = 64 << 10
)

// Default returns the iterator's out-of-the-box memory bounds.
func Default() Config {
	return Config{
		MaxMemoryBuffer: DefaultMaxMemoryBuffer,
		ReadBufferSize:  DefaultReadBufferSize,
	}
}
