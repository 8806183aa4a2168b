// Package extract expands ZIP and RAR archives into an isolated directory
// with zip-bomb and path-traversal guards. All member names are validated
// before any byte is written; a hostile archive fails closed.
package extract

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nwaples/rardecode/v2"

	"github.com/ppiankov/leakwatch/internal/storage"
)

// ErrUnsafeArchive is returned for archives that trip a bomb or traversal
// guard.
var ErrUnsafeArchive = errors.New("unsafe archive")

// ErrUnsupportedFormat is returned for archives that are neither .zip nor
// .rar.
var ErrUnsupportedFormat = errors.New("unsupported archive format")

const (
	// maxEntries bounds the number of archive members.
	maxEntries = 1000
	// maxTotalSize bounds the sum of declared uncompressed sizes.
	maxTotalSize = 10 << 30 // 10 GiB
	// filePerm is the permission for extracted files.
	filePerm = 0640
	// dirPerm is the permission for extracted directories.
	dirPerm = 0750
)

// Extract expands the archive at archivePath into target. The target is
// expected to be a fresh scratch directory owned by the caller.
func Extract(archivePath, target string) error {
	switch strings.ToLower(filepath.Ext(archivePath)) {
	case ".zip":
		return extractZip(archivePath, target)
	case ".rar":
		return extractRar(archivePath, target)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(archivePath))
	}
}

func extractZip(archivePath, target string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer r.Close()

	if len(r.File) > maxEntries {
		return fmt.Errorf("%w: %d entries", ErrUnsafeArchive, len(r.File))
	}
	// Declared sizes are attacker-controlled; sum with an overflow check
	// so huge declarations cannot wrap past the cap.
	var total uint64
	for _, f := range r.File {
		if f.UncompressedSize64 > maxTotalSize || total > maxTotalSize-f.UncompressedSize64 {
			return fmt.Errorf("%w: declared size exceeds %d bytes", ErrUnsafeArchive, uint64(maxTotalSize))
		}
		total += f.UncompressedSize64
	}

	// Validate every member name before writing anything.
	dests := make([]string, len(r.File))
	for i, f := range r.File {
		dest, err := memberDest(target, f.Name)
		if err != nil {
			return err
		}
		dests[i] = dest
	}

	for i, f := range r.File {
		mode := f.Mode()
		if mode&os.ModeSymlink != 0 {
			// Symlink members could point anywhere; skip them.
			continue
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dests[i], dirPerm); err != nil {
				return fmt.Errorf("create dir %s: %w", f.Name, err)
			}
			continue
		}
		if err := writeMember(dests[i], func() (io.ReadCloser, error) { return f.Open() }); err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}
	return nil
}

func extractRar(archivePath, target string) error {
	// First pass: headers only, to enforce the guards before extraction.
	if err := validateRar(archivePath, target); err != nil {
		return err
	}

	r, err := rardecode.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open rar: %w", err)
	}
	defer r.Close()

	for {
		hdr, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read rar: %w", err)
		}
		dest, err := memberDest(target, hdr.Name)
		if err != nil {
			return err
		}
		if hdr.IsDir {
			if err := os.MkdirAll(dest, dirPerm); err != nil {
				return fmt.Errorf("create dir %s: %w", hdr.Name, err)
			}
			continue
		}
		if hdr.Mode()&os.ModeSymlink != 0 {
			continue
		}
		if err := writeMember(dest, func() (io.ReadCloser, error) { return io.NopCloser(r), nil }); err != nil {
			return fmt.Errorf("extract %s: %w", hdr.Name, err)
		}
	}
}

// validateRar walks the archive headers and applies the entry-count, total
// declared size, and traversal guards without writing any member.
func validateRar(archivePath, target string) error {
	r, err := rardecode.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open rar: %w", err)
	}
	defer r.Close()

	entries := 0
	var total int64
	for {
		hdr, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read rar headers: %w", err)
		}
		entries++
		if entries > maxEntries {
			return fmt.Errorf("%w: more than %d entries", ErrUnsafeArchive, maxEntries)
		}
		if hdr.UnPackedSize > 0 {
			if hdr.UnPackedSize > maxTotalSize || total > maxTotalSize-hdr.UnPackedSize {
				return fmt.Errorf("%w: declared size exceeds %d bytes", ErrUnsafeArchive, int64(maxTotalSize))
			}
			total += hdr.UnPackedSize
		}
		if _, err := memberDest(target, hdr.Name); err != nil {
			return err
		}
	}
}

// memberDest validates that a member name stays inside target and returns
// its destination path.
func memberDest(target, name string) (string, error) {
	dest, err := storage.ValidateSafePath(target, filepath.FromSlash(name))
	if err != nil {
		if errors.Is(err, storage.ErrTraversal) {
			return "", fmt.Errorf("%w: traversal in member %q", ErrUnsafeArchive, name)
		}
		return "", err
	}
	return dest, nil
}

// writeMember copies one archive member to dest, creating parent
// directories as needed.
func writeMember(dest string, open func() (io.ReadCloser, error)) error {
	if err := os.MkdirAll(filepath.Dir(dest), dirPerm); err != nil {
		return err
	}
	src, err := open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		_ = os.Remove(dest)
		return err
	}
	return out.Close()
}
