package extract

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/mbfetch/mbfetch/internal/progress"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixtureEntry struct {
	name    string
	body    string
	dir     bool
	modTime time.Time
}

func buildZip(t *testing.T, entries []fixtureEntry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating fixture: %v", err)
	}
	zw := zip.NewWriter(f)
	for _, e := range entries {
		hdr := &zip.FileHeader{Name: e.name, Method: zip.Deflate}
		if e.dir {
			hdr.SetMode(fs.ModeDir | 0755)
		} else {
			hdr.SetMode(0644)
		}
		if !e.modTime.IsZero() {
			hdr.Modified = e.modTime
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			t.Fatalf("adding entry %q: %v", e.name, err)
		}
		if !e.dir {
			if _, err := w.Write([]byte(e.body)); err != nil {
				t.Fatalf("writing entry %q: %v", e.name, err)
			}
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("closing fixture: %v", err)
	}
	return path
}

// TestDetectFormat verifies magic-byte sniffing for both supported formats
// and the fail-fast on anything else.
func TestDetectFormat(t *testing.T) {
	dir := t.TempDir()

	sevenZip := filepath.Join(dir, "a.7z")
	os.WriteFile(sevenZip, []byte{0x37, 0x7A, 0xBC, 0xAF, 0x27, 0x1C, 0x00}, 0644)
	if format, err := DetectFormat(sevenZip); err != nil || format != Format7z {
		t.Fatalf("7z sniff = (%q, %v), want (7z, nil)", format, err)
	}

	zipPath := buildZip(t, []fixtureEntry{{name: "f.txt", body: "x"}})
	if format, err := DetectFormat(zipPath); err != nil || format != FormatZip {
		t.Fatalf("zip sniff = (%q, %v), want (zip, nil)", format, err)
	}

	gz := filepath.Join(dir, "a.tar.gz")
	os.WriteFile(gz, []byte{0x1F, 0x8B, 0x08, 0x00, 0x00}, 0644)
	if _, err := DetectFormat(gz); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}

	if _, err := DetectFormat(filepath.Join(dir, "missing.7z")); err == nil {
		t.Fatal("expected error for missing file")
	} else {
		var openErr *OpenError
		if !errors.As(err, &openErr) {
			t.Fatalf("expected OpenError, got %v", err)
		}
	}
}

// TestCountEntries verifies the counting pass sees every header without
// extracting anything.
func TestCountEntries(t *testing.T) {
	path := buildZip(t, []fixtureEntry{
		{name: "bin/", dir: true},
		{name: "bin/gcc.exe", body: "binary"},
		{name: "share/doc.txt", body: "docs"},
	})

	e := NewExtractor(testLogger())
	n, err := e.CountEntries(path)
	if err != nil {
		t.Fatalf("CountEntries returned error: %v", err)
	}
	if n != 3 {
		t.Fatalf("count = %d, want 3", n)
	}
}

// TestExtractZip verifies a normal extraction: nested paths, directory
// entries, contents, returned count, and a complete monotone progress
// sequence.
func TestExtractZip(t *testing.T) {
	path := buildZip(t, []fixtureEntry{
		{name: "bin/", dir: true},
		{name: "bin/gcc.exe", body: "binary payload"},
		{name: "share/man/deep/page.1", body: "manual"},
		{name: "readme.txt", body: "hello"},
	})
	outDir := filepath.Join(t.TempDir(), "out")

	var ticks [][2]int
	e := NewExtractor(testLogger())
	n, err := e.Extract(context.Background(), path, outDir, 4, func(done, total int) {
		ticks = append(ticks, [2]int{done, total})
	})
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if n != 4 {
		t.Fatalf("extracted = %d, want 4", n)
	}

	data, err := os.ReadFile(filepath.Join(outDir, "bin", "gcc.exe"))
	if err != nil || string(data) != "binary payload" {
		t.Fatalf("bin/gcc.exe = (%q, %v)", data, err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "share", "man", "deep", "page.1")); err != nil {
		t.Fatalf("nested entry missing: %v", err)
	}

	if len(ticks) != 4 {
		t.Fatalf("got %d progress ticks, want 4", len(ticks))
	}
	for i, tick := range ticks {
		if tick[0] != i+1 || tick[1] != 4 {
			t.Fatalf("tick %d = %d/%d, want %d/4", i, tick[0], tick[1], i+1)
		}
	}
}

// TestExtractTraversalFails verifies an entry climbing out of the output
// directory aborts the whole extraction and writes nothing outside it.
func TestExtractTraversalFails(t *testing.T) {
	path := buildZip(t, []fixtureEntry{
		{name: "good.txt", body: "fine"},
		{name: "../../evil.txt", body: "escape"},
		{name: "never.txt", body: "unreached"},
	})

	root := t.TempDir()
	outDir := filepath.Join(root, "deep", "out")

	e := NewExtractor(testLogger())
	_, err := e.Extract(context.Background(), path, outDir, 3, nil)

	var traversalErr *TraversalError
	if !errors.As(err, &traversalErr) {
		t.Fatalf("expected TraversalError, got %v", err)
	}
	if Reason(err) != progress.ReasonBlockedPath {
		t.Fatalf("Reason = %q, want %q", Reason(err), progress.ReasonBlockedPath)
	}

	// Nothing named evil.txt may exist anywhere under the test root.
	filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err == nil && d.Name() == "evil.txt" {
			t.Fatalf("evil.txt written at %s", p)
		}
		return nil
	})
	// The entry after the hostile one must not have been processed.
	if _, err := os.Stat(filepath.Join(outDir, "never.txt")); !os.IsNotExist(err) {
		t.Fatal("extraction continued past the traversal failure")
	}
}

// TestExtractAbsolutePathSkipped verifies an absolute entry name is skipped
// without failing the rest of the archive.
func TestExtractAbsolutePathSkipped(t *testing.T) {
	path := buildZip(t, []fixtureEntry{
		{name: "/abs.txt", body: "skipme"},
		{name: "kept.txt", body: "kept"},
	})
	outDir := filepath.Join(t.TempDir(), "out")

	e := NewExtractor(testLogger())
	n, err := e.Extract(context.Background(), path, outDir, 2, nil)
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if n != 1 {
		t.Fatalf("extracted = %d, want 1", n)
	}
	if _, err := os.Stat(filepath.Join(outDir, "kept.txt")); err != nil {
		t.Fatalf("kept.txt missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "abs.txt")); !os.IsNotExist(err) {
		t.Fatal("absolute entry was written")
	}
}

// TestExtractUnsupportedFormat verifies rejection happens before the output
// directory is created.
func TestExtractUnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.rar")
	os.WriteFile(path, []byte("Rar!\x1a\x07\x00junk"), 0644)

	outDir := filepath.Join(dir, "out")
	e := NewExtractor(testLogger())
	_, err := e.Extract(context.Background(), path, outDir, 0, nil)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if _, err := os.Stat(outDir); !os.IsNotExist(err) {
		t.Fatal("output directory created for a rejected format")
	}
	if Reason(err) != progress.ReasonUnsupportedFormat {
		t.Fatalf("Reason = %q, want %q", Reason(err), progress.ReasonUnsupportedFormat)
	}
}

// TestExtractCorruptArchive verifies a zip with a valid signature but
// unreadable structure fails with OpenError, and the counting pass reports
// the same failure.
func TestExtractCorruptArchive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.zip")
	os.WriteFile(path, append([]byte{'P', 'K', 0x03, 0x04}, bytes.Repeat([]byte{0xAB}, 64)...), 0644)

	e := NewExtractor(testLogger())
	if _, err := e.CountEntries(path); err == nil {
		t.Fatal("CountEntries succeeded on a broken archive")
	}

	_, err := e.Extract(context.Background(), path, filepath.Join(dir, "out"), 0, nil)
	var openErr *OpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("expected OpenError, got %v", err)
	}
	if Reason(err) != progress.ReasonOpenFailure {
		t.Fatalf("Reason = %q, want %q", Reason(err), progress.ReasonOpenFailure)
	}
}

// TestExtractCorruptEntryData verifies damaged entry bytes abort the whole
// extraction as corruption, not as a skip.
func TestExtractCorruptEntryData(t *testing.T) {
	body := "0123456789abcdef0123456789abcdef"
	dir := t.TempDir()
	path := filepath.Join(dir, "fixture.zip")

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating fixture: %v", err)
	}
	zw := zip.NewWriter(f)
	hdr := &zip.FileHeader{Name: "data.bin", Method: zip.Store}
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		t.Fatalf("adding entry: %v", err)
	}
	w.Write([]byte(body))
	zw.Close()
	f.Close()

	// Flip bytes inside the stored body so the CRC no longer matches.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading fixture: %v", err)
	}
	idx := bytes.Index(raw, []byte(body))
	if idx < 0 {
		t.Fatal("stored body not found in fixture")
	}
	for i := idx; i < idx+8; i++ {
		raw[i] ^= 0xFF
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatalf("rewriting fixture: %v", err)
	}

	e := NewExtractor(testLogger())
	_, err = e.Extract(context.Background(), path, filepath.Join(dir, "out"), 1, nil)
	var corruptionErr *CorruptionError
	if !errors.As(err, &corruptionErr) {
		t.Fatalf("expected CorruptionError, got %v", err)
	}
	if Reason(err) != progress.ReasonCorruptArchive {
		t.Fatalf("Reason = %q, want %q", Reason(err), progress.ReasonCorruptArchive)
	}
}

// TestExtractSevenZipDispatch verifies a 7z signature routes to the 7z
// reader; garbage after the signature surfaces as OpenError.
func TestExtractSevenZipDispatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.7z")
	os.WriteFile(path, append([]byte{0x37, 0x7A, 0xBC, 0xAF, 0x27, 0x1C}, bytes.Repeat([]byte{0x01}, 64)...), 0644)

	e := NewExtractor(testLogger())
	_, err := e.Extract(context.Background(), path, filepath.Join(dir, "out"), 0, nil)
	var openErr *OpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("expected OpenError from 7z reader, got %v", err)
	}
}

// TestExtractOverwrites verifies re-extraction into the same directory
// replaces files without pre-clearing unrelated contents.
func TestExtractOverwrites(t *testing.T) {
	path := buildZip(t, []fixtureEntry{{name: "file.txt", body: "fresh"}})
	outDir := filepath.Join(t.TempDir(), "out")

	if err := os.MkdirAll(outDir, 0755); err != nil {
		t.Fatalf("preparing output dir: %v", err)
	}
	os.WriteFile(filepath.Join(outDir, "file.txt"), []byte("stale stale stale"), 0644)
	os.WriteFile(filepath.Join(outDir, "unrelated.txt"), []byte("keep"), 0644)

	e := NewExtractor(testLogger())
	if _, err := e.Extract(context.Background(), path, outDir, 1, nil); err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}

	data, _ := os.ReadFile(filepath.Join(outDir, "file.txt"))
	if string(data) != "fresh" {
		t.Fatalf("file.txt = %q, want %q", data, "fresh")
	}
	if _, err := os.Stat(filepath.Join(outDir, "unrelated.txt")); err != nil {
		t.Fatal("unrelated file was removed")
	}
}

// TestExtractPreservesModTime verifies stored timestamps are applied to
// extracted files.
func TestExtractPreservesModTime(t *testing.T) {
	want := time.Date(2023, 6, 15, 12, 30, 0, 0, time.UTC)
	path := buildZip(t, []fixtureEntry{{name: "dated.txt", body: "x", modTime: want}})
	outDir := filepath.Join(t.TempDir(), "out")

	e := NewExtractor(testLogger())
	if _, err := e.Extract(context.Background(), path, outDir, 1, nil); err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}

	fi, err := os.Stat(filepath.Join(outDir, "dated.txt"))
	if err != nil {
		t.Fatalf("stat extracted file: %v", err)
	}
	if diff := fi.ModTime().Sub(want); diff < -2*time.Second || diff > 2*time.Second {
		t.Fatalf("mod time = %v, want about %v", fi.ModTime(), want)
	}
}

// TestExtractCancelled verifies a cancelled context aborts between entries
// and maps to the cancelled reason.
func TestExtractCancelled(t *testing.T) {
	path := buildZip(t, []fixtureEntry{{name: "a.txt", body: "a"}, {name: "b.txt", body: "b"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewExtractor(testLogger())
	_, err := e.Extract(ctx, path, filepath.Join(t.TempDir(), "out"), 2, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if Reason(err) != progress.ReasonCancelled {
		t.Fatalf("Reason = %q, want %q", Reason(err), progress.ReasonCancelled)
	}
}
