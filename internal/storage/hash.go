// Package storage owns the content-addressed file store: streaming content
// fingerprints, filename/path hardening, deterministic placement by hash
// prefix, and scratch directory lifecycle.
package storage

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
)

// hashChunkSize is the read buffer used when fingerprinting files.
const hashChunkSize = 64 * 1024

// HashFile streams the file at path through BLAKE2b-256 and returns the
// digest as 64 lowercase hex characters. The file is never loaded into
// memory as a whole.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for hashing: %w", err)
	}
	defer f.Close()

	return HashReader(f)
}

// HashReader streams r through BLAKE2b-256.
func HashReader(r io.Reader) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", fmt.Errorf("init blake2b: %w", err)
	}
	buf := make([]byte, hashChunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", fmt.Errorf("read for hashing: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
