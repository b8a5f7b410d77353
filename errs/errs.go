// Package errs defines the single tagged error type used across the
// sevenzip module, together with the classifier methods callers use to
// decide how to react to a failure without switching on error strings.
package errs

import (
	"errors"
	"fmt"
	"os"
)

// Kind categorizes an Error. It is not a Go error type itself — Error is.
type Kind int

const (
	// KindIO is an underlying byte-level I/O failure.
	KindIO Kind = iota
	// KindInvalidFormat means the archive isn't recognizable as 7z at all.
	KindInvalidFormat
	// KindCorruptHeader means a structural problem was detected with
	// certainty (bad CRC, malformed property).
	KindCorruptHeader
	// KindUnsupportedMethod means a coder's method ID has no registered
	// implementation.
	KindUnsupportedMethod
	// KindUnsupportedFeature means the archive is valid but needs a
	// capability the library doesn't implement.
	KindUnsupportedFeature
	// KindPasswordRequired means encryption is present and no password was
	// supplied.
	KindPasswordRequired
	// KindWrongPassword means the supplied password was rejected, either
	// by early header validation or by a post-extraction CRC mismatch.
	KindWrongPassword
	// KindCrcMismatch means extracted bytes didn't match the recorded CRC.
	KindCrcMismatch
	// KindPathTraversal means a decoded entry path escapes the extraction
	// root.
	KindPathTraversal
	// KindSymlinkRejected means a symlink entry was rejected by policy.
	KindSymlinkRejected
	// KindSymlinkTargetEscape means a symlink's target is absolute or
	// contains a traversal segment.
	KindSymlinkTargetEscape
	// KindResourceLimitExceeded means a configured cap (ratio, entry count,
	// byte count, recursion depth) was tripped.
	KindResourceLimitExceeded
	// KindCancelled means the caller's cancellation flag was observed set.
	KindCancelled
	// KindInvalidArchivePath means a path failed ArchivePath validation.
	KindInvalidArchivePath
	// KindInvalidCompressionLevel means a writer option was out of range.
	KindInvalidCompressionLevel
	// KindVolumeMissing means a multi-volume archive is missing a volume.
	KindVolumeMissing
	// KindVolumeCorrupted means a multi-volume archive's volume failed
	// validation.
	KindVolumeCorrupted
	// KindIncompleteArchive means the archive ends before the header says
	// it should.
	KindIncompleteArchive
	// KindEntryNotFound means a lookup by name or index found nothing.
	KindEntryNotFound
	// KindEntryExists means an overwrite-policy check rejected a write.
	KindEntryExists
	// KindInvalidRegex means a caller-supplied selector pattern didn't
	// compile.
	KindInvalidRegex
)

//nolint:gochecknoglobals
var kindNames = map[Kind]string{
	KindIO:                      "I/O error",
	KindInvalidFormat:           "invalid format",
	KindCorruptHeader:           "corrupt header",
	KindUnsupportedMethod:       "unsupported method",
	KindUnsupportedFeature:      "unsupported feature",
	KindPasswordRequired:        "password required",
	KindWrongPassword:           "wrong password",
	KindCrcMismatch:             "CRC mismatch",
	KindPathTraversal:           "path traversal",
	KindSymlinkRejected:         "symlink rejected",
	KindSymlinkTargetEscape:     "symlink target escape",
	KindResourceLimitExceeded:   "resource limit exceeded",
	KindCancelled:               "cancelled",
	KindInvalidArchivePath:      "invalid archive path",
	KindInvalidCompressionLevel: "invalid compression level",
	KindVolumeMissing:           "volume missing",
	KindVolumeCorrupted:         "volume corrupted",
	KindIncompleteArchive:       "incomplete archive",
	KindEntryNotFound:           "entry not found",
	KindEntryExists:             "entry exists",
	KindInvalidRegex:            "invalid regex",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}

	return "unknown error"
}

// DetectionMethod distinguishes how a WrongPassword error was discovered.
type DetectionMethod int

const (
	// DetectionNone is the zero value, used by non-WrongPassword errors.
	DetectionNone DetectionMethod = iota
	// DetectionEarlyHeaderValidation means the wrapped codec's header
	// grammar rejected the decrypted plaintext before full decompression
	// was attempted.
	DetectionEarlyHeaderValidation
	// DetectionCrcMismatch means decompression succeeded but the result
	// failed its recorded CRC, and the entry was encrypted.
	DetectionCrcMismatch
)

// Error is the single tagged error variant used throughout the module.
// Its zero value is not useful; construct with the New* helpers.
type Error struct {
	Kind Kind

	// EntryIdx and EntryName identify the entry involved, if any. EntryIdx
	// is -1 when not applicable.
	EntryIdx  int
	EntryName string

	// Offset and Reason detail a CorruptHeader.
	Offset int64
	Reason string

	// MethodID/Feature detail Unsupported{Method,Feature}.
	MethodID []byte
	Feature  string

	// Detection details a WrongPassword.
	Detection DetectionMethod

	// Expected/Actual detail a CrcMismatch.
	Expected uint32
	Actual   uint32

	// Path details PathTraversal/SymlinkTargetEscape/InvalidArchivePath.
	Path string

	Err error
}

func (e *Error) Error() string {
	msg := "sevenzip: " + e.Kind.String()

	switch e.Kind {
	case KindCorruptHeader:
		msg = fmt.Sprintf("%s: offset %d: %s", msg, e.Offset, e.Reason)
	case KindUnsupportedMethod:
		msg = fmt.Sprintf("%s: %x", msg, e.MethodID)
	case KindUnsupportedFeature:
		msg = fmt.Sprintf("%s: %s", msg, e.Feature)
	case KindCrcMismatch:
		msg = fmt.Sprintf("%s: entry %d: expected %#08x, got %#08x", msg, e.EntryIdx, e.Expected, e.Actual)
	case KindPathTraversal, KindSymlinkTargetEscape, KindInvalidArchivePath:
		msg = fmt.Sprintf("%s: %q", msg, e.Path)
	case KindIO, KindInvalidFormat, KindPasswordRequired, KindWrongPassword,
		KindSymlinkRejected, KindResourceLimitExceeded, KindCancelled,
		KindInvalidCompressionLevel, KindVolumeMissing, KindVolumeCorrupted,
		KindIncompleteArchive, KindEntryNotFound, KindEntryExists, KindInvalidRegex:
		// no extra detail beyond the kind name
	}

	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}

	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// EntryIndex returns the entry index this error relates to, and whether
// one is set.
func (e *Error) EntryIndex() (int, bool) {
	if e.EntryIdx < 0 {
		return 0, false
	}

	return e.EntryIdx, true
}

// IsSecurityError reports whether e represents a security-policy rejection
// that must always abort an entire extraction, never merely skip an entry.
func (e *Error) IsSecurityError() bool {
	switch e.Kind {
	case KindPathTraversal, KindSymlinkRejected, KindSymlinkTargetEscape:
		return true
	default:
		return false
	}
}

// IsRecoverable reports whether the operation that produced e might
// succeed if retried or given different input, per the propagation policy:
// only transient I/O kinds, Cancelled, WrongPassword, PasswordRequired and
// VolumeMissing are recoverable.
func (e *Error) IsRecoverable() bool {
	switch e.Kind {
	case KindCancelled, KindWrongPassword, KindPasswordRequired, KindVolumeMissing:
		return true
	case KindIO:
		var netErr interface{ Timeout() bool }

		return errors.Is(e.Err, os.ErrDeadlineExceeded) || (errors.As(e.Err, &netErr) && netErr.Timeout())
	default:
		return false
	}
}

// IsCorruption reports whether e indicates a structural or integrity
// problem with the archive bytes themselves.
func (e *Error) IsCorruption() bool {
	switch e.Kind {
	case KindInvalidFormat, KindCorruptHeader, KindCrcMismatch, KindIncompleteArchive, KindVolumeCorrupted:
		return true
	default:
		return false
	}
}

// IsEncryptionError reports whether e relates to encryption handling.
func (e *Error) IsEncryptionError() bool {
	switch e.Kind {
	case KindPasswordRequired, KindWrongPassword:
		return true
	default:
		return false
	}
}

// IsUnsupported reports whether e means the archive is valid but requires
// a capability the library doesn't implement.
func (e *Error) IsUnsupported() bool {
	switch e.Kind {
	case KindUnsupportedMethod, KindUnsupportedFeature:
		return true
	default:
		return false
	}
}

// New constructs a bare Error of the given kind wrapping err.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, EntryIdx: -1, Err: err}
}

// Wrap wraps err as a KindIO Error, or returns nil if err is nil.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}

	return New(KindIO, err)
}
