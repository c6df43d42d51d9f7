package extract

import (
	"io"

	"github.com/bodgit/sevenzip"
)

// countSevenZipEntries parses the archive header and returns the entry
// count without reading any streams.
func countSevenZipEntries(path string) (int, error) {
	r, err := sevenzip.OpenReader(path)
	if err != nil {
		return 0, &OpenError{Path: path, Err: err}
	}
	defer r.Close()
	return len(r.File), nil
}

// openSevenZipEntries opens the archive and adapts its members to the
// shared extraction loop. Members are listed in stored order; the loop
// reads them sequentially, which keeps solid-block decompression from
// restarting per file.
func openSevenZipEntries(path string) ([]entry, io.Closer, error) {
	r, err := sevenzip.OpenReader(path)
	if err != nil {
		return nil, nil, err
	}

	entries := make([]entry, 0, len(r.File))
	for _, f := range r.File {
		entries = append(entries, entry{
			name:    f.Name,
			mode:    f.Mode(),
			modTime: f.Modified,
			isDir:   f.FileInfo().IsDir(),
			open:    f.Open,
		})
	}
	return entries, r, nil
}
