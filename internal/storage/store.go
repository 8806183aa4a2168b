package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// dirPerm is the permission for store-managed directories.
const dirPerm = 0750

// scratchDirName is the shared scratch area under the store base.
const scratchDirName = ".tmp"

// Store places files at deterministic paths derived from their content
// fingerprint and hands out isolated scratch directories for downloads and
// archive extraction.
//
// Layout: <base>/<AB>/<CD>/<fingerprint>/<sanitized_name>, where AB and CD
// are the first two hex pairs of the fingerprint. Same-content files with
// different names share the fingerprint directory without duplicating
// bytes elsewhere in the tree.
type Store struct {
	base    string
	scratch string
}

// New creates a store rooted at base, creating the base and scratch
// directories if needed.
func New(base string) (*Store, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("resolve store base: %w", err)
	}
	scratch := filepath.Join(abs, scratchDirName)
	for _, dir := range []string{abs, scratch} {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return &Store{base: abs, scratch: scratch}, nil
}

// Base returns the absolute store root.
func (s *Store) Base() string { return s.base }

// NewScratchDir creates a fresh uniquely named directory under the scratch
// area, for use as a per-job download or extraction sandbox.
func (s *Store) NewScratchDir() (string, error) {
	dir, err := os.MkdirTemp(s.scratch, "scratch-")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	return dir, nil
}

// CleanupScratch removes a scratch directory recursively, ignoring errors.
func (s *Store) CleanupScratch(path string) {
	if path == "" {
		return
	}
	_ = os.RemoveAll(path)
}

// CanonicalPath returns the deterministic location for a fingerprint and
// original filename without touching the filesystem.
func (s *Store) CanonicalPath(fingerprint, originalName string) string {
	return filepath.Join(s.hashDir(fingerprint), SanitizeFilename(originalName))
}

// Persist moves the file at tempPath to its canonical location. If a file
// with the same name already exists under the fingerprint directory, the
// temp file is deleted and the existing path returned (idempotent).
// Returns the canonical absolute path.
func (s *Store) Persist(tempPath, fingerprint, originalName string) (string, error) {
	if len(fingerprint) < 4 {
		return "", fmt.Errorf("short fingerprint: %q", fingerprint)
	}
	if _, err := os.Stat(tempPath); err != nil {
		return "", fmt.Errorf("temp file missing: %w", err)
	}

	final := s.CanonicalPath(fingerprint, originalName)
	if err := os.MkdirAll(filepath.Dir(final), dirPerm); err != nil {
		return "", fmt.Errorf("create hash dir: %w", err)
	}

	if _, err := os.Stat(final); err == nil {
		_ = os.Remove(tempPath)
		return final, nil
	}

	if err := moveFile(tempPath, final); err != nil {
		return "", fmt.Errorf("persist %s: %w", final, err)
	}
	return final, nil
}

// HasContent reports whether any file is already stored under the given
// fingerprint. Fast existence probe for audit tooling; the repository
// remains the authoritative dedup source.
func (s *Store) HasContent(fingerprint string) bool {
	if len(fingerprint) < 4 {
		return false
	}
	entries, err := os.ReadDir(s.hashDir(fingerprint))
	return err == nil && len(entries) > 0
}

// JanitorScratch removes scratch entries older than maxAge. Returns the
// number of entries removed. Removal errors are ignored; a stuck entry is
// retried on the next sweep.
func (s *Store) JanitorScratch(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.scratch)
	if err != nil {
		return 0, fmt.Errorf("read scratch dir: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.scratch, e.Name())
		if err := os.RemoveAll(path); err == nil {
			removed++
		}
	}
	return removed, nil
}

func (s *Store) hashDir(fingerprint string) string {
	return filepath.Join(s.base, fingerprint[0:2], fingerprint[2:4], fingerprint)
}

// moveFile moves src to dst using os.Rename. If rename fails with EXDEV
// (cross-device link, e.g. scratch and store on different mounts), it
// falls back to copy + remove.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var errno syscall.Errno
	if !errors.As(err, &errno) || errno != syscall.EXDEV {
		return err
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

// copyFile copies src to dst preserving permissions.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}
