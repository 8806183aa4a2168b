package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"testing"
)

var hexRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestHashFileFormat(t *testing.T) {
	path := writeFile(t, t.TempDir(), "a.bin", []byte("hello leakwatch"))

	sum, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if !hexRe.MatchString(sum) {
		t.Fatalf("digest %q is not 64 lowercase hex chars", sum)
	}
}

func TestHashFileDeterministic(t *testing.T) {
	dir := t.TempDir()
	// Spans several 64 KiB chunks to exercise the streaming path.
	data := bytes.Repeat([]byte("0123456789abcdef"), 3*4096+7)
	a := writeFile(t, dir, "a.bin", data)
	b := writeFile(t, dir, "b.bin", data)

	sumA, err := HashFile(a)
	if err != nil {
		t.Fatalf("HashFile(a): %v", err)
	}
	sumB, err := HashFile(b)
	if err != nil {
		t.Fatalf("HashFile(b): %v", err)
	}
	if sumA != sumB {
		t.Fatalf("identical contents hashed differently: %s vs %s", sumA, sumB)
	}

	sumR, err := HashReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("HashReader: %v", err)
	}
	if sumR != sumA {
		t.Fatalf("reader and file digests differ: %s vs %s", sumR, sumA)
	}
}

func TestHashFileDistinct(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.bin", []byte("one"))
	b := writeFile(t, dir, "b.bin", []byte("two"))

	sumA, _ := HashFile(a)
	sumB, _ := HashFile(b)
	if sumA == sumB {
		t.Fatal("distinct contents produced the same digest")
	}
}

func TestHashFileMissing(t *testing.T) {
	if _, err := HashFile(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
