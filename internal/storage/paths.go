package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrTraversal is returned when a candidate path would escape its base
// directory.
var ErrTraversal = errors.New("path traversal detected")

// unsafeChars matches runs of characters not allowed in materialized
// filenames.
var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_\-. ]+`)

// maxFilenameBytes is the filesystem name limit.
const maxFilenameBytes = 255

// SanitizeFilename rewrites a filename so it is safe to materialize on the
// local filesystem: anything outside [A-Za-z0-9_-. ] becomes "_", names
// that strip to nothing become "unnamed_file", and the result is capped at
// 255 bytes.
func SanitizeFilename(name string) string {
	sanitized := unsafeChars.ReplaceAllString(name, "_")
	sanitized = strings.TrimSpace(sanitized)
	if sanitized == "" || strings.Trim(sanitized, ". _") == "" {
		sanitized = "unnamed_file"
	}
	if len(sanitized) > maxFilenameBytes {
		sanitized = sanitized[:maxFilenameBytes]
	}
	return sanitized
}

// ValidateSafePath joins user onto base and returns the absolute result,
// failing with ErrTraversal if it does not stay inside base once
// canonicalized. Covers ".." segments, absolute user paths, and symlink
// escapes for components that already exist on disk.
func ValidateSafePath(base, user string) (string, error) {
	canonBase, err := canonicalize(base)
	if err != nil {
		return "", fmt.Errorf("canonicalize base %s: %w", base, err)
	}

	joined := filepath.Join(canonBase, user)
	resolved, err := canonicalize(joined)
	if err != nil {
		return "", fmt.Errorf("canonicalize %s: %w", joined, err)
	}

	if resolved != canonBase && !strings.HasPrefix(resolved, canonBase+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrTraversal, user)
	}
	return resolved, nil
}

// canonicalize returns the absolute path with symlinks resolved. Path
// components that do not exist yet are cleaned lexically on top of the
// deepest existing ancestor, mirroring how the final path would resolve
// once created.
func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	prefix := abs
	var tail []string
	for {
		resolved, err := filepath.EvalSymlinks(prefix)
		if err == nil {
			return filepath.Join(append([]string{resolved}, tail...)...), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(prefix)
		if parent == prefix {
			// Walked up to the root without finding anything; fall back
			// to the lexically cleaned absolute path.
			return abs, nil
		}
		tail = append([]string{filepath.Base(prefix)}, tail...)
		prefix = parent
	}
}
