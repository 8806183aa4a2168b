package dropdir

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/leakwatch/internal/model"
)

type captureSink struct {
	refs chan model.FileRef
}

func (s *captureSink) Enqueue(_ context.Context, f model.FileRef) error {
	s.refs <- f
	return nil
}

func waitRef(t *testing.T, sink *captureSink) model.FileRef {
	t.Helper()
	select {
	case f := <-sink.refs:
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for enqueue")
		return model.FileRef{}
	}
}

func TestScanPicksUpExistingArchives(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"dump.zip", "notes.txt", "old.rar"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	sink := &captureSink{refs: make(chan model.FileRef, 8)}
	src := New(dir, sink, 1<<20, time.Second)
	src.scan(context.Background())

	got := map[string]model.FileRef{}
	for len(sink.refs) > 0 {
		f := <-sink.refs
		got[f.Filename] = f
	}
	if len(got) != 2 {
		t.Fatalf("offered %d files, want 2: %v", len(got), got)
	}
	if _, ok := got["notes.txt"]; ok {
		t.Fatal("non-archive offered")
	}
	f := got["dump.zip"]
	if !strings.HasPrefix(f.RemoteID, "local_dump.zip_") {
		t.Errorf("RemoteID = %q", f.RemoteID)
	}
	if f.LocalPath != filepath.Join(dir, "dump.zip") {
		t.Errorf("LocalPath = %q", f.LocalPath)
	}
	if f.ChannelTitle != "dropdir" {
		t.Errorf("ChannelTitle = %q", f.ChannelTitle)
	}
}

func TestScanSkipsOversizedAndDeduplicates(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "big.zip"), []byte("0123456789"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ok.zip"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	sink := &captureSink{refs: make(chan model.FileRef, 8)}
	src := New(dir, sink, 5, time.Second)
	src.scan(context.Background())
	src.scan(context.Background())

	if n := len(sink.refs); n != 1 {
		t.Fatalf("offered %d files, want 1", n)
	}
	if f := <-sink.refs; f.Filename != "ok.zip" {
		t.Fatalf("offered %q, want ok.zip", f.Filename)
	}
}

func TestRunNoticesNewFile(t *testing.T) {
	dir := t.TempDir()
	sink := &captureSink{refs: make(chan model.FileRef, 8)}
	src := New(dir, sink, 1<<20, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = src.Run(ctx)
	}()

	// Give the watcher a moment to attach before creating the file.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "fresh.rar"), []byte("data"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	f := waitRef(t, sink)
	if f.Filename != "fresh.rar" {
		t.Fatalf("Filename = %q", f.Filename)
	}
	cancel()
	<-done
}

func TestCopierDownload(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "dump.zip")
	if err := os.WriteFile(srcPath, []byte("archive payload"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "copy.zip")
	f := model.FileRef{Filename: "dump.zip", LocalPath: srcPath}
	if err := (Copier{}).Download(context.Background(), f, dest); err != nil {
		t.Fatalf("Download: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read copy: %v", err)
	}
	if string(data) != "archive payload" {
		t.Fatalf("copied content = %q", data)
	}
}

func TestCopierMissingSource(t *testing.T) {
	f := model.FileRef{LocalPath: filepath.Join(t.TempDir(), "absent.zip")}
	if err := (Copier{}).Download(context.Background(), f, filepath.Join(t.TempDir(), "out.zip")); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestLocalKeyChangesWithMtime(t *testing.T) {
	a := localKey("dump.zip", 10, time.Unix(1000, 0))
	b := localKey("dump.zip", 10, time.Unix(2000, 0))
	if a == b {
		t.Fatalf("keys not distinct: %q", a)
	}
}
