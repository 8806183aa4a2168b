// Package dropdir feeds archives placed in a local directory into the
// pipeline. It is the offline counterpart of the Telegram source: useful
// for backfills and for running without Telegram credentials.
package dropdir

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/ppiankov/leakwatch/internal/model"
)

// debounceDefault is the debounce interval for file events. Archives are
// often written in several chunks; the debounce lets writes settle.
const debounceDefault = 200 * time.Millisecond

// enqueueTimeout bounds how long a full queue may stall the watcher.
const enqueueTimeout = 30 * time.Second

// Sink accepts file references for processing.
type Sink interface {
	Enqueue(ctx context.Context, f model.FileRef) error
}

// Source watches a drop directory for new .zip/.rar files using
// fsnotify, with a polling fallback for filesystems without inotify
// support (e.g. NFS).
type Source struct {
	dir      string
	sink     Sink
	maxSize  int64
	poll     time.Duration
	debounce time.Duration

	mu   sync.Mutex
	seen map[string]bool

	log *logrus.Entry
}

// New creates a drop-directory source. maxSize is the largest file, in
// bytes, worth processing; poll is the fallback scan interval.
func New(dir string, sink Sink, maxSize int64, poll time.Duration) *Source {
	return &Source{
		dir:      dir,
		sink:     sink,
		maxSize:  maxSize,
		poll:     poll,
		debounce: debounceDefault,
		seen:     make(map[string]bool),
		log:      logrus.WithField("component", "dropdir"),
	}
}

// Run processes files already present, then watches for new ones.
// Blocks until ctx is cancelled.
func (s *Source) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create drop dir: %w", err)
	}
	s.scan(ctx)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.Warnf("fsnotify unavailable, falling back to polling: %v", err)
		return s.runPoll(ctx)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(s.dir); err != nil {
		s.log.Warnf("cannot watch %s, falling back to polling: %v", s.dir, err)
		return s.runPoll(ctx)
	}

	// ready collects paths that passed debounce. A single timer resets
	// on each event; when it fires, all accumulated paths flush.
	var mu sync.Mutex
	ready := make(map[string]bool)

	flush := func() {
		mu.Lock()
		batch := make([]string, 0, len(ready))
		for p := range ready {
			batch = append(batch, p)
		}
		ready = make(map[string]bool)
		mu.Unlock()

		for _, p := range batch {
			s.offer(ctx, p)
		}
	}

	// Initialized as stopped; the first event starts it.
	debounceTimer := time.NewTimer(s.debounce)
	debounceTimer.Stop()
	defer debounceTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-debounceTimer.C:
			flush()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isArchive(event.Name) {
				continue
			}

			mu.Lock()
			ready[event.Name] = true
			mu.Unlock()

			if !debounceTimer.Stop() {
				select {
				case <-debounceTimer.C:
				default:
				}
			}
			debounceTimer.Reset(s.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warnf("watch error: %v", err)
		}
	}
}

// runPoll scans the directory on a fixed interval.
func (s *Source) runPoll(ctx context.Context) error {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}

// scan offers every archive currently in the directory.
func (s *Source) scan(ctx context.Context) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warnf("scan %s: %v", s.dir, err)
		}
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		if isArchive(path) {
			s.offer(ctx, path)
		}
	}
}

// offer enqueues a single file unless it was already offered, is
// oversized, or disappeared.
func (s *Source) offer(ctx context.Context, path string) {
	s.mu.Lock()
	offered := s.seen[path]
	s.seen[path] = true
	s.mu.Unlock()
	if offered {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		s.log.Warnf("stat %s: %v", path, err)
		return
	}
	if info.Size() > s.maxSize {
		s.log.Warnf("skipping oversized file %s: %d bytes", path, info.Size())
		return
	}

	name := filepath.Base(path)
	f := model.FileRef{
		RemoteID:     localKey(name, info.Size(), info.ModTime()),
		ChannelTitle: "dropdir",
		Filename:     name,
		SizeBytes:    info.Size(),
		Timestamp:    info.ModTime().UTC(),
		LocalPath:    path,
	}

	enqueueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	if err := s.sink.Enqueue(enqueueCtx, f); err != nil {
		s.log.Warnf("dropping %s, queue full: %v", name, err)
		// Let a later scan retry it.
		s.mu.Lock()
		delete(s.seen, path)
		s.mu.Unlock()
	}
}

// localKey builds the synthetic remote identity for a local file. Name,
// size, and mtime together make re-drops of modified files new events.
func localKey(name string, size int64, mtime time.Time) string {
	return fmt.Sprintf("local_%s_%d_%d", name, size, mtime.Unix())
}

func isArchive(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip", ".rar":
		return true
	}
	return false
}

// Copier is the downloader for drop-directory files: a plain copy of the
// original into the scratch destination.
type Copier struct{}

// Download copies f.LocalPath to dest.
func (Copier) Download(ctx context.Context, f model.FileRef, dest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := os.Open(f.LocalPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", f.LocalPath, err)
	}
	defer func() { _ = src.Close() }()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		_ = os.Remove(dest)
		return fmt.Errorf("copy %s: %w", f.LocalPath, err)
	}
	return out.Close()
}
