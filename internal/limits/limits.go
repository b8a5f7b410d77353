// Package limits enforces the anti-bomb resource caps applied while
// parsing headers and decoding folder contents: a cap on the raw header
// size, a cap on entry count, caps on total and per-entry unpacked bytes,
// and a compression-ratio cap enforced as bytes stream through a decoder.
package limits

import (
	"sync/atomic"

	"github.com/go7z/sevenzip/errs"
)

const (
	// DefaultMaxEntries bounds the number of files a single archive may
	// declare.
	DefaultMaxEntries = 1_000_000
	// DefaultMaxHeaderBytes bounds the NextHeader block's on-disk size as
	// the StartHeader declares it, checked before the block is read. When
	// the block is an ENCODED_HEADER, the size of the header it decodes to
	// is not checked against this bound.
	DefaultMaxHeaderBytes = 64 << 20
	// DefaultMaxTotalUnpacked bounds the sum of every entry's uncompressed
	// size across an entire archive.
	DefaultMaxTotalUnpacked = 1 << 40
	// DefaultMaxEntryUnpacked bounds a single entry's uncompressed size.
	DefaultMaxEntryUnpacked = 64 << 30
	// DefaultMaxRatio bounds how many uncompressed bytes a decoder may
	// produce per compressed byte it consumes.
	DefaultMaxRatio = 1000
)

// RatioLimit caps uncompressed output relative to compressed input.
type RatioLimit struct {
	Max uint64
}

// Exceeded reports whether uncompressed bytes produced from compressed
// bytes consumed violates the limit. Division is avoided so the check is
// exact regardless of rounding.
func (r RatioLimit) Exceeded(compressed, uncompressed uint64) bool {
	if r.Max == 0 {
		return false
	}

	if compressed == 0 {
		return uncompressed > 0
	}

	return uncompressed > r.Max*compressed
}

// ResourceLimits bounds how much an archive is trusted to declare about
// itself before it has been read.
type ResourceLimits struct {
	MaxEntries       uint64
	MaxHeaderBytes   uint64
	MaxTotalUnpacked uint64
	MaxEntryUnpacked uint64
	Ratio            RatioLimit
}

// Default returns the limits applied when a caller doesn't configure its
// own.
func Default() ResourceLimits {
	return ResourceLimits{
		MaxEntries:       DefaultMaxEntries,
		MaxHeaderBytes:   DefaultMaxHeaderBytes,
		MaxTotalUnpacked: DefaultMaxTotalUnpacked,
		MaxEntryUnpacked: DefaultMaxEntryUnpacked,
		Ratio:            RatioLimit{Max: DefaultMaxRatio},
	}
}

// CheckHeaderSize rejects a NextHeader block declaring more bytes than
// MaxHeaderBytes.
func (l ResourceLimits) CheckHeaderSize(size uint64) error {
	if size > l.MaxHeaderBytes {
		return &errs.Error{
			Kind:   errs.KindResourceLimitExceeded,
			Reason: "header size exceeds max_header_bytes",
		}
	}

	return nil
}

// CheckEntryCount rejects an archive declaring more files than MaxEntries.
func (l ResourceLimits) CheckEntryCount(n int) error {
	if uint64(n) > l.MaxEntries { //nolint:gosec
		return &errs.Error{
			Kind:   errs.KindResourceLimitExceeded,
			Reason: "entry count exceeds max_entries",
		}
	}

	return nil
}

// Tracker accumulates unpacked bytes across every entry of one archive so
// MaxTotalUnpacked can be enforced as entries stream through in any order.
type Tracker struct {
	total atomic.Uint64
}

// NewTracker returns a fresh, zeroed Tracker.
func NewTracker() *Tracker {
	return new(Tracker)
}

// Add records n additional unpacked bytes and reports whether the running
// total now exceeds max.
func (t *Tracker) Add(n uint64, max uint64) bool { //nolint:predeclared
	return t.total.Add(n) > max
}

// CompressedCounter reports how many compressed bytes a decoder has
// consumed so far, for ratio enforcement against bytes produced.
type CompressedCounter func() uint64

// Reader wraps a folder's decoded output, enforcing MaxEntryUnpacked,
// MaxTotalUnpacked and the ratio limit on every Read. It reports a
// KindResourceLimitExceeded *errs.Error as soon as any cap trips, even if
// the underlying decoder would have produced valid bytes.
type Reader struct {
	rc        readCloser
	limits    ResourceLimits
	compresed CompressedCounter
	tracker   *Tracker
	produced  uint64
}

type readCloser interface {
	Read(p []byte) (int, error)
	Close() error
}

// NewReader returns a Reader enforcing limits on rc's output. compressed,
// if non-nil, is consulted on every Read to enforce the ratio cap; tracker,
// if non-nil, accumulates produced bytes across every entry sharing it.
func NewReader(rc readCloser, limits ResourceLimits, compressed CompressedCounter, tracker *Tracker) *Reader {
	return &Reader{rc: rc, limits: limits, compresed: compressed, tracker: tracker}
}

func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	if n <= 0 {
		return n, err
	}

	r.produced += uint64(n)

	if r.produced > r.limits.MaxEntryUnpacked {
		return n, &errs.Error{Kind: errs.KindResourceLimitExceeded, Reason: "entry exceeds max_entry_unpacked"}
	}

	if r.tracker != nil && r.tracker.Add(uint64(n), r.limits.MaxTotalUnpacked) {
		return n, &errs.Error{Kind: errs.KindResourceLimitExceeded, Reason: "archive exceeds max_total_unpacked"}
	}

	if r.compresed != nil {
		if r.limits.Ratio.Exceeded(r.compresed(), r.produced) {
			return n, &errs.Error{Kind: errs.KindResourceLimitExceeded, Reason: "compression ratio exceeds max_ratio"}
		}
	}

	return n, err
}

// Close closes the wrapped reader.
func (r *Reader) Close() error {
	return r.rc.Close()
}
