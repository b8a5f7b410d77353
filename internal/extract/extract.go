// Package extract implements the policy decisions of the extraction
// pipeline: path-safety resolution, symlink gating and overwrite handling.
// It knows nothing about the 7z format; the root package drives it with
// concrete entries.
package extract

import (
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/go7z/sevenzip/errs"
	"github.com/hashicorp/go-multierror"
)

// LinkPolicy controls how symlink entries are handled during extraction.
type LinkPolicy int

const (
	// LinkForbid rejects every symlink entry outright.
	LinkForbid LinkPolicy = iota
	// LinkValidateTargets allows a symlink only if its target, resolved
	// relative to the link's directory, stays within the extraction root.
	LinkValidateTargets
	// LinkAllow creates every symlink without inspecting its target.
	LinkAllow
)

// PathSafety controls how an entry's path is checked against the
// extraction root before any bytes are written.
type PathSafety int

const (
	// PathStrict rejects any path that normalizes outside the root, and
	// also any path with a literal `..` segment, even one that collapses
	// back inside the root (e.g. "a/../b").
	PathStrict PathSafety = iota
	// PathRelaxed collapses `.`/`..` segments and accepts the result if it
	// still resolves inside the root.
	PathRelaxed
	// PathDisabled performs no path-safety check at all.
	PathDisabled
)

// OverwritePolicy controls what happens when an extraction target already
// exists.
type OverwritePolicy int

const (
	// OverwriteError fails the entry with KindEntryExists.
	OverwriteError OverwritePolicy = iota
	// OverwriteSkip records the entry as skipped and continues.
	OverwriteSkip
	// OverwriteOverwrite replaces the existing file.
	OverwriteOverwrite
)

// ValidateDestPath resolves rel (an archive entry's forward-slash path)
// against root under the given safety policy, returning the cleaned,
// OS-native relative path to extract to.
func ValidateDestPath(safety PathSafety, rel string) (string, error) {
	if safety == PathDisabled {
		return filepath.FromSlash(rel), nil
	}

	cleaned := path.Clean("/" + rel)
	cleaned = strings.TrimPrefix(cleaned, "/")

	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", &errs.Error{Kind: errs.KindPathTraversal, Path: rel}
	}

	if safety == PathStrict {
		for _, seg := range strings.Split(rel, "/") {
			if seg == ".." {
				return "", &errs.Error{Kind: errs.KindPathTraversal, Path: rel}
			}
		}
	}

	return filepath.FromSlash(cleaned), nil
}

// ValidateSymlinkTarget checks target (as recorded in the archive, for the
// entry living at entryDir) against policy. entryDir is the symlink's own
// directory, forward-slash separated and relative to the extraction root.
func ValidateSymlinkTarget(policy LinkPolicy, entryDir, target string) error {
	switch policy {
	case LinkForbid:
		return &errs.Error{Kind: errs.KindSymlinkRejected, Path: target}
	case LinkAllow:
		return nil
	case LinkValidateTargets:
		if path.IsAbs(target) || isWindowsAbs(target) {
			return &errs.Error{Kind: errs.KindSymlinkTargetEscape, Path: target}
		}

		resolved := path.Clean(path.Join(entryDir, target))
		if resolved == ".." || strings.HasPrefix(resolved, "../") {
			return &errs.Error{Kind: errs.KindSymlinkTargetEscape, Path: target}
		}

		return nil
	default:
		return &errs.Error{Kind: errs.KindSymlinkRejected, Path: target}
	}
}

func isWindowsAbs(target string) bool {
	if len(target) >= 2 && target[1] == ':' {
		return true
	}

	return strings.HasPrefix(target, `\\`)
}

// Decision is what ShouldOverwrite decided to do with an existing target.
type Decision int

const (
	// DecisionProceed means extraction should continue and overwrite.
	DecisionProceed Decision = iota
	// DecisionSkip means the entry should be recorded as skipped.
	DecisionSkip
)

// ShouldOverwrite applies policy to an existing destination path.
func ShouldOverwrite(policy OverwritePolicy, exists bool, name string) (Decision, error) {
	if !exists {
		return DecisionProceed, nil
	}

	switch policy {
	case OverwriteOverwrite:
		return DecisionProceed, nil
	case OverwriteSkip:
		return DecisionSkip, nil
	case OverwriteError:
		return DecisionSkip, &errs.Error{Kind: errs.KindEntryExists, Path: name}
	default:
		return DecisionSkip, &errs.Error{Kind: errs.KindEntryExists, Path: name}
	}
}

// Outcome records what happened to one archive entry during extraction.
type Outcome struct {
	Name    string
	Skipped bool
	Err     error
}

// Result aggregates the outcome of extracting every selected entry.
type Result struct {
	Extracted int
	Skipped   int
	Outcomes  []Outcome
}

// Record appends an outcome and updates the running counters.
func (r *Result) Record(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)

	switch {
	case o.Err != nil:
	case o.Skipped:
		r.Skipped++
	default:
		r.Extracted++
	}
}

// Err returns a combined error for every failed entry, or nil if none
// failed. Skipped entries are not errors.
func (r *Result) Err() error {
	var merr *multierror.Error

	for _, o := range r.Outcomes {
		if o.Err != nil {
			merr = multierror.Append(merr, o.Err)
		}
	}

	return merr.ErrorOrNil()
}

// CancelFlag is an atomic boolean an in-progress extraction polls between
// entries so a caller can request early termination.
type CancelFlag struct {
	flag atomic.Bool
}

// Cancel requests that the extraction in progress stop as soon as it next
// checks.
func (c *CancelFlag) Cancel() {
	c.flag.Store(true)
}

// Cancelled reports whether Cancel has been called.
func (c *CancelFlag) Cancelled() bool {
	return c.flag.Load()
}
