package extract

import (
	"io"

	"github.com/klauspost/compress/zip"
)

// countZipEntries reads the central directory and returns the entry count
// without touching any entry data.
func countZipEntries(path string) (int, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return 0, &OpenError{Path: path, Err: err}
	}
	defer zr.Close()
	return len(zr.File), nil
}

// openZipEntries opens the archive and adapts its members to the shared
// extraction loop. Entry data is only read when an entry's open func is
// called.
func openZipEntries(path string) ([]entry, io.Closer, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, nil, err
	}

	entries := make([]entry, 0, len(zr.File))
	for _, f := range zr.File {
		entries = append(entries, entry{
			name:    f.Name,
			mode:    f.Mode(),
			modTime: f.Modified,
			isDir:   f.FileInfo().IsDir(),
			open:    f.Open,
		})
	}
	return entries, zr, nil
}
