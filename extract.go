package sevenzip

import (
	"fmt"
	"hash/crc32"
	"io"
	iofs "io/fs"
	"os"
	"path"
	"time"

	"github.com/bodgit/windows"
	"github.com/go7z/sevenzip/errs"
	"github.com/go7z/sevenzip/internal/extract"
	"github.com/go7z/sevenzip/internal/limits"
	"github.com/go7z/sevenzip/internal/util"
	"github.com/spf13/afero"
)

const createFlags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC

// ExtractOptions configures a call to [Reader.Extract].
type ExtractOptions struct {
	LinkPolicy extract.LinkPolicy
	PathSafety extract.PathSafety
	Overwrite  extract.OverwritePolicy
	Limits     limits.ResourceLimits
	Cancel     *extract.CancelFlag
}

// DefaultExtractOptions returns the conservative defaults: symlink targets
// are validated against the extraction root, paths are strictly checked,
// and existing files are never silently overwritten.
func DefaultExtractOptions() ExtractOptions {
	return ExtractOptions{
		LinkPolicy: extract.LinkValidateTargets,
		PathSafety: extract.PathStrict,
		Overwrite:  extract.OverwriteError,
		Limits:     limits.Default(),
	}
}

// symlinker is implemented by afero filesystems, such as afero.OsFs, that
// can create real symbolic links.
type symlinker interface {
	SymlinkIfPossible(oldname, newname string) error
}

// Extract writes every entry to dest, rooted at root, applying opts. It
// returns an *extract.Result describing what happened to each entry even
// when it also returns a non-nil error for a security violation that
// aborted the whole operation early.
//
//nolint:cyclop,funlen
func (z *Reader) Extract(dest afero.Fs, root string, opts ExtractOptions) (*extract.Result, error) {
	result := &extract.Result{}
	tracker := limits.NewTracker()

	for _, f := range z.File {
		if opts.Cancel != nil && opts.Cancel.Cancelled() {
			return result, &errs.Error{Kind: errs.KindCancelled}
		}

		destRel, err := extract.ValidateDestPath(opts.PathSafety, f.Name)
		if err != nil {
			return result, err
		}

		destPath := path.Join(root, destRel)

		outcome := extract.Outcome{Name: f.Name}

		if err := z.extractOne(dest, destPath, f, opts, tracker); err != nil {
			if e := new(errs.Error); asErr(err, e) && e.IsSecurityError() {
				return result, err
			}

			if isSkip(err) {
				outcome.Skipped = true
			} else {
				outcome.Err = err
			}
		}

		result.Record(outcome)
	}

	return result, nil
}

type skipError struct{ error }

func isSkip(err error) bool {
	_, ok := err.(skipError) //nolint:errorlint

	return ok
}

func asErr(err error, target *errs.Error) bool {
	if e, ok := err.(*errs.Error); ok { //nolint:errorlint
		*target = *e

		return true
	}

	return false
}

func (z *Reader) extractOne(
	dest afero.Fs, destPath string, f *File, opts ExtractOptions, tracker *limits.Tracker,
) error {
	mode := f.Mode()

	if mode.IsDir() {
		return dest.MkdirAll(destPath, 0o777)
	}

	if err := dest.MkdirAll(path.Dir(destPath), 0o777); err != nil {
		return fmt.Errorf("sevenzip: error creating directory: %w", err)
	}

	exists := false
	if _, err := dest.Stat(destPath); err == nil {
		exists = true
	}

	decision, err := extract.ShouldOverwrite(opts.Overwrite, exists, f.Name)
	if err != nil {
		return err
	}

	if decision == extract.DecisionSkip {
		return skipError{&errs.Error{Kind: errs.KindEntryExists, Path: f.Name}}
	}

	if mode&iofs.ModeSymlink != 0 {
		return z.extractSymlink(dest, destPath, f, opts)
	}

	return z.extractRegular(dest, destPath, f, opts, tracker)
}

func (z *Reader) extractSymlink(dest afero.Fs, destPath string, f *File, opts ExtractOptions) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	target, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("sevenzip: error reading symlink target: %w", err)
	}

	if err := extract.ValidateSymlinkTarget(opts.LinkPolicy, path.Dir(f.Name), string(target)); err != nil {
		return err
	}

	sl, ok := dest.(symlinker)
	if !ok {
		return &errs.Error{Kind: errs.KindUnsupportedFeature, Feature: "symlink extraction on this filesystem"}
	}

	return sl.SymlinkIfPossible(string(target), destPath)
}

func (z *Reader) extractRegular(
	dest afero.Fs, destPath string, f *File, opts ExtractOptions, tracker *limits.Tracker,
) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := dest.OpenFile(destPath, createFlags, f.Mode().Perm())
	if err != nil {
		return fmt.Errorf("sevenzip: error creating file: %w", err)
	}

	h := crc32.NewIEEE()
	tee := io.TeeReader(rc, h)

	limited := limits.NewReader(io.NopCloser(tee), opts.Limits, nil, tracker)

	if _, err := io.Copy(out, limited); err != nil {
		_ = out.Close()
		_ = dest.Remove(destPath)

		return fmt.Errorf("sevenzip: error extracting: %w", err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("sevenzip: error closing destination: %w", err)
	}

	if f.CRC32 != 0 && !util.CRC32Equal(h.Sum(nil), f.CRC32) {
		_ = dest.Remove(destPath)

		kind := errs.KindCrcMismatch
		detection := errs.DetectionNone

		if hasEncryptedSource(f) {
			kind = errs.KindWrongPassword
			detection = errs.DetectionCrcMismatch
		}

		return &errs.Error{Kind: kind, Detection: detection, Path: f.Name, Expected: f.CRC32, Actual: h.Sum32()}
	}

	applyMetadata(dest, destPath, f)

	return nil
}

// hasEncryptedSource reports whether f's folder chain involves AES, so a
// post-extraction CRC failure should be reported as WrongPassword rather
// than plain CrcMismatch.
func hasEncryptedSource(f *File) bool {
	si := f.zip.si
	if si == nil || si.unpackInfo == nil || f.folder >= len(si.unpackInfo.folder) {
		return false
	}

	for _, c := range si.unpackInfo.folder[f.folder].coder {
		if len(c.id) == 4 && c.id[0] == 0x06 && c.id[1] == 0xf1 && c.id[2] == 0x07 && c.id[3] == 0x01 {
			return true
		}
	}

	return false
}

// applyMetadata best-effort restores the modification time and, for
// entries whose Windows attributes mark them read-only, strips write
// permission. Failures are intentionally ignored: metadata is cosmetic
// next to having extracted the bytes at all.
func applyMetadata(dest afero.Fs, destPath string, f *File) {
	if !f.Modified.IsZero() {
		_ = dest.Chtimes(destPath, time.Time{}, f.Modified)
	}

	attr := windows.FileAttributes(f.Attributes)
	if attr&windows.FileAttributeReadonly != 0 {
		_ = dest.Chmod(destPath, f.Mode().Perm()&^0o222)
	}
}
