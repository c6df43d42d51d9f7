// Package safety holds the path-containment and hardened-HTTP helpers used
// when handling untrusted archives and upstream responses.
package safety

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrAbsolutePath indicates an entry name that is absolute or
// volume-qualified and therefore cannot be joined under a root.
var ErrAbsolutePath = errors.New("absolute path not allowed")

// ErrEscapesRoot indicates a path whose normalized form resolves outside
// the intended root directory.
var ErrEscapesRoot = errors.New("path escapes root")

// RelativeEntryPath normalizes an archive entry name for joining under an
// extraction root. Absolute and volume-qualified names fail with
// ErrAbsolutePath; names whose lexical form already climbs out of the root
// fail with ErrEscapesRoot.
func RelativeEntryPath(name string) (string, error) {
	if name == "" {
		return "", errors.New("empty entry name")
	}

	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" {
		return "", fmt.Errorf("%w: %q", ErrAbsolutePath, name)
	}
	if clean == "." {
		return "", fmt.Errorf("entry resolves to the root itself: %q", name)
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrEscapesRoot, name)
	}
	return clean, nil
}

// JoinUnder joins a relative entry name under root and verifies the result
// stays inside root. The name passes through RelativeEntryPath first, so
// the same sentinel errors apply.
func JoinUnder(root, name string) (string, error) {
	rel, err := RelativeEntryPath(name)
	if err != nil {
		return "", err
	}
	return WithinRoot(root, filepath.Join(root, rel))
}

// WithinRoot resolves candidate to an absolute path and verifies it remains
// under root, returning the normalized absolute path. Escapes fail with
// ErrEscapesRoot.
func WithinRoot(root, candidate string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving root: %w", err)
	}
	candAbs, err := filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("resolving candidate: %w", err)
	}

	rel, err := filepath.Rel(rootAbs, candAbs)
	if err != nil {
		return "", fmt.Errorf("comparing paths: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrEscapesRoot, candidate)
	}
	return candAbs, nil
}
