// Package extract performs safety-checked decompression of downloaded
// release archives. Exactly two container formats are accepted, sniffed by
// magic bytes before anything is written: 7z and zip, each with automatic
// per-entry decompression-filter detection. Extraction is two-pass: a
// counting pass to obtain the progress denominator, then the extraction
// pass proper.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mbfetch/mbfetch/internal/progress"
	"github.com/mbfetch/mbfetch/internal/safety"
)

// ErrUnsupportedFormat indicates the file is neither a 7z nor a zip
// container. Nothing is written when this is returned.
var ErrUnsupportedFormat = errors.New("unsupported archive format")

// OpenError indicates the archive could not be opened or its entry table
// could not be read.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("opening archive %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// TraversalError indicates an entry whose normalized target escapes the
// output directory. It aborts the whole extraction: an archive that climbs
// out of its root is hostile or corrupt, and partial trust is unsafe.
type TraversalError struct {
	Entry string
}

func (e *TraversalError) Error() string {
	return fmt.Sprintf("blocked unsafe path in archive entry %q", e.Entry)
}

// CorruptionError indicates entry data could not be read back out of the
// archive. Fatal: the archive is likely truncated or corrupt beyond this
// point.
type CorruptionError struct {
	Entry string
	Err   error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corrupt archive data in entry %q: %v", e.Entry, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// LocalIOError indicates a local filesystem failure while writing
// extracted data. Fatal.
type LocalIOError struct {
	Path string
	Err  error
}

func (e *LocalIOError) Error() string {
	return fmt.Sprintf("local io failure at %s: %v", e.Path, e.Err)
}

func (e *LocalIOError) Unwrap() error { return e.Err }

// Format is a supported archive container format.
type Format string

const (
	FormatUnknown Format = ""
	Format7z      Format = "7z"
	FormatZip     Format = "zip"
)

// Magic prefixes. Zip has three local-header variants (regular, empty,
// spanned).
var (
	magic7z = []byte{0x37, 0x7A, 0xBC, 0xAF, 0x27, 0x1C}
	magicZips = [][]byte{
		{'P', 'K', 0x03, 0x04},
		{'P', 'K', 0x05, 0x06},
		{'P', 'K', 0x07, 0x08},
	}
)

// DetectFormat sniffs the container format from the file's leading bytes.
// Unknown content fails with ErrUnsupportedFormat; an unreadable file
// fails with OpenError.
func DetectFormat(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, &OpenError{Path: path, Err: err}
	}
	defer f.Close()

	head := make([]byte, len(magic7z))
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return FormatUnknown, &OpenError{Path: path, Err: err}
	}
	head = head[:n]

	if bytes.HasPrefix(head, magic7z) {
		return Format7z, nil
	}
	for _, m := range magicZips {
		if bytes.HasPrefix(head, m) {
			return FormatZip, nil
		}
	}
	return FormatUnknown, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
}

// ProgressFunc receives entries processed so far and the expected total.
// A total of zero or less means the count pass failed and only liveness
// can be shown.
type ProgressFunc func(done, total int)

// entry is one archive member presented to the extraction loop,
// abstracting over the container format.
type entry struct {
	name    string
	mode    fs.FileMode
	modTime time.Time
	isDir   bool
	open    func() (io.ReadCloser, error)
}

// Extractor extracts supported archives into a target directory.
type Extractor struct {
	logger *slog.Logger
}

// NewExtractor creates an extractor.
func NewExtractor(logger *slog.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// CountEntries is the first pass: it opens the archive and counts entry
// headers without materializing any data. Callers treat a failure here as
// a degraded-progress condition, not a fatal one; the extraction pass
// surfaces the real error if the archive is truly unreadable.
func (e *Extractor) CountEntries(archivePath string) (int, error) {
	format, err := DetectFormat(archivePath)
	if err != nil {
		return 0, err
	}

	switch format {
	case FormatZip:
		return countZipEntries(archivePath)
	case Format7z:
		return countSevenZipEntries(archivePath)
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(archivePath))
	}
}

// Extract is the second pass: it re-opens the archive and writes entries
// under outputDir, creating it first. total is the entry count from
// CountEntries, or zero when counting failed. onEntry, when non-nil, is
// invoked after every processed entry whether it was written or skipped.
// The returned count is the number of entries actually written.
//
// Per-entry policy: an absolute entry path is skipped; an entry escaping
// outputDir aborts with TraversalError; a failure to create the entry's
// file or directory skips that entry; a failure reading entry data aborts
// with CorruptionError; a failure writing it aborts with LocalIOError.
func (e *Extractor) Extract(ctx context.Context, archivePath, outputDir string, total int, onEntry ProgressFunc) (int, error) {
	format, err := DetectFormat(archivePath)
	if err != nil {
		return 0, err
	}

	var entries []entry
	var closer io.Closer
	switch format {
	case FormatZip:
		entries, closer, err = openZipEntries(archivePath)
	case Format7z:
		entries, closer, err = openSevenZipEntries(archivePath)
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(archivePath))
	}
	if err != nil {
		return 0, &OpenError{Path: archivePath, Err: err}
	}
	defer closer.Close()

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return 0, &LocalIOError{Path: outputDir, Err: err}
	}

	extracted := 0
	for i, ent := range entries {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return extracted, fmt.Errorf("extraction aborted: %w", ctxErr)
		}

		skipped, err := e.writeEntry(outputDir, ent)
		if err != nil {
			return extracted, err
		}
		if !skipped {
			extracted++
		}
		if onEntry != nil {
			onEntry(i+1, total)
		}
	}

	e.logger.Debug("extraction complete",
		slog.String("archive", archivePath),
		slog.String("output_dir", outputDir),
		slog.Int("entries", extracted))
	return extracted, nil
}

// writeEntry writes one entry under outputDir. skipped=true means the
// entry was passed over without failing the extraction; a non-nil error is
// always fatal to the whole operation.
func (e *Extractor) writeEntry(outputDir string, ent entry) (skipped bool, err error) {
	target, err := safety.JoinUnder(outputDir, ent.name)
	if err != nil {
		if errors.Is(err, safety.ErrEscapesRoot) {
			return false, &TraversalError{Entry: ent.name}
		}
		// Absolute, empty, or self-referential names are skipped, not fatal.
		e.logger.Warn("skipping archive entry with unusable path",
			slog.String("entry", ent.name),
			slog.String("error", err.Error()))
		return true, nil
	}

	if ent.isDir {
		if err := os.MkdirAll(target, dirPerm(ent.mode)); err != nil {
			e.logger.Warn("skipping directory entry",
				slog.String("entry", ent.name),
				slog.String("error", err.Error()))
			return true, nil
		}
		restoreTimes(target, ent.modTime)
		return false, nil
	}

	if !ent.mode.IsRegular() {
		e.logger.Warn("skipping non-regular archive entry",
			slog.String("entry", ent.name),
			slog.String("mode", ent.mode.String()))
		return true, nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		e.logger.Warn("skipping entry: cannot create parent directory",
			slog.String("entry", ent.name),
			slog.String("error", err.Error()))
		return true, nil
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm(ent.mode))
	if err != nil {
		e.logger.Warn("skipping entry: cannot create file",
			slog.String("entry", ent.name),
			slog.String("error", err.Error()))
		return true, nil
	}

	src, err := ent.open()
	if err != nil {
		out.Close()
		return false, &CorruptionError{Entry: ent.name, Err: err}
	}

	dst := &errTrackingWriter{w: out}
	_, copyErr := io.Copy(dst, src)
	src.Close()
	closeErr := out.Close()

	if copyErr != nil {
		if dst.err != nil {
			return false, &LocalIOError{Path: target, Err: dst.err}
		}
		return false, &CorruptionError{Entry: ent.name, Err: copyErr}
	}
	if closeErr != nil {
		return false, &LocalIOError{Path: target, Err: closeErr}
	}

	restoreTimes(target, ent.modTime)
	return false, nil
}

// Reason maps an extraction failure to its presentation-side failure class.
func Reason(err error) progress.FailureReason {
	if err == nil {
		return progress.ReasonNone
	}
	var traversalErr *TraversalError
	var corruptionErr *CorruptionError
	var openErr *OpenError
	var ioErr *LocalIOError
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return progress.ReasonCancelled
	case errors.Is(err, ErrUnsupportedFormat):
		return progress.ReasonUnsupportedFormat
	case errors.As(err, &traversalErr):
		return progress.ReasonBlockedPath
	case errors.As(err, &corruptionErr):
		return progress.ReasonCorruptArchive
	case errors.As(err, &openErr):
		return progress.ReasonOpenFailure
	case errors.As(err, &ioErr):
		return progress.ReasonLocalIO
	default:
		return progress.ReasonLocalIO
	}
}

func filePerm(mode fs.FileMode) fs.FileMode {
	if perm := mode.Perm(); perm != 0 {
		return perm
	}
	return 0644
}

func dirPerm(mode fs.FileMode) fs.FileMode {
	if perm := mode.Perm(); perm != 0 {
		return perm | 0700
	}
	return 0755
}

// restoreTimes applies the stored modification time where available.
// Best-effort: filesystems that refuse are not an extraction failure.
func restoreTimes(path string, modTime time.Time) {
	if modTime.IsZero() {
		return
	}
	_ = os.Chtimes(path, modTime, modTime)
}

// errTrackingWriter remembers the first write failure so a failed copy can
// be attributed to the local disk rather than the archive data.
type errTrackingWriter struct {
	w   io.Writer
	err error
}

func (t *errTrackingWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil && t.err == nil {
		t.err = err
	}
	return n, err
}
