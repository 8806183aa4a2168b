package telegram

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/ppiankov/leakwatch/internal/model"
)

const (
	// enqueueTimeout bounds how long a full pipeline queue may stall the
	// listener before the event is dropped.
	enqueueTimeout = 30 * time.Second
	// floodWaitCap caps how long a server-requested pause is honored.
	floodWaitCap = 300 * time.Second
	// downloadAttempts is the total number of tries per document.
	downloadAttempts = 3
)

// Sink accepts file references for processing. Implemented by the
// pipeline.
type Sink interface {
	Enqueue(ctx context.Context, f model.FileRef) error
}

// Source filters channel documents down to candidate archives, feeds
// them to the sink, and downloads documents for the pipeline.
type Source struct {
	client  Client
	sink    Sink
	maxSize int64
	log     *logrus.Entry
}

// NewSource creates a source over an already constructed client.
// maxSize is the largest document, in bytes, worth downloading.
func NewSource(client Client, sink Sink, maxSize int64) *Source {
	return &Source{
		client:  client,
		sink:    sink,
		maxSize: maxSize,
		log:     logrus.WithField("component", "telegram"),
	}
}

// wantedFile reports whether the filename has a supported archive
// extension.
func wantedFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".zip", ".rar":
		return true
	}
	return false
}

// Listen consumes document announcements until ctx is cancelled or the
// client's stream closes. Oversized and non-archive documents are
// skipped; a persistently full queue drops events rather than stalling
// the update stream.
func (s *Source) Listen(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case doc, ok := <-s.client.Documents():
			if !ok {
				return nil
			}
			s.handle(ctx, doc)
		}
	}
}

func (s *Source) handle(ctx context.Context, doc Document) {
	if !wantedFile(doc.Filename) {
		return
	}
	if doc.SizeBytes > s.maxSize {
		s.log.WithFields(logrus.Fields{
			"channel": doc.ChannelTitle,
			"file":    doc.Filename,
		}).Warnf("skipping oversized document: %s > %s",
			humanize.IBytes(uint64(doc.SizeBytes)), humanize.IBytes(uint64(s.maxSize)))
		return
	}

	f := model.FileRef{
		RemoteID:     model.RemoteKey(doc.ChannelID, doc.MessageID, doc.DocumentID),
		ChannelID:    doc.ChannelID,
		ChannelTitle: doc.ChannelTitle,
		Filename:     doc.Filename,
		SizeBytes:    doc.SizeBytes,
		Timestamp:    doc.Date,
	}

	enqueueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	if err := s.sink.Enqueue(enqueueCtx, f); err != nil {
		s.log.WithFields(logrus.Fields{
			"channel": doc.ChannelTitle,
			"file":    doc.Filename,
		}).Warnf("dropping event, queue full: %v", err)
	}
}

// Download fetches the document behind f into dest, verifying the byte
// count against the announced size. Up to downloadAttempts tries with
// exponential backoff; flood waits are honored up to floodWaitCap.
func (s *Source) Download(ctx context.Context, f model.FileRef, dest string) error {
	channelID, messageID, _, err := model.ParseRemoteKey(f.RemoteID)
	if err != nil {
		return err
	}

	attempt := 0
	op := func() error {
		attempt++
		written, err := s.client.Fetch(ctx, channelID, messageID, dest)
		if err != nil {
			var flood *FloodWaitError
			if errors.As(err, &flood) {
				wait := min(flood.Wait, floodWaitCap)
				s.log.Warnf("flood wait on %s: pausing %s", f.RemoteID, wait)
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return backoff.Permanent(ctx.Err())
				}
				return err
			}
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			s.log.Warnf("download attempt %d/%d for %s failed: %v",
				attempt, downloadAttempts, f.RemoteID, err)
			return err
		}
		if written != f.SizeBytes {
			_ = os.Remove(dest)
			s.log.Warnf("download attempt %d/%d for %s: size mismatch, got %d bytes, want %d",
				attempt, downloadAttempts, f.RemoteID, written, f.SizeBytes)
			return fmt.Errorf("%w: got %d bytes, want %d", ErrIntegrity, written, f.SizeBytes)
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), downloadAttempts-1), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s after %d attempts: %v", ErrDownloadFailed, f.RemoteID, attempt, err)
	}
	return nil
}
