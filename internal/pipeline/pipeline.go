// Package pipeline runs the archive processing loop: a bounded queue of
// file events drained by a fixed pool of workers, each walking one job
// through dedup, download, storage, extraction, and indicator scanning.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/ppiankov/leakwatch/internal/dedup"
	"github.com/ppiankov/leakwatch/internal/extract"
	"github.com/ppiankov/leakwatch/internal/ioc"
	"github.com/ppiankov/leakwatch/internal/metrics"
	"github.com/ppiankov/leakwatch/internal/model"
	"github.com/ppiankov/leakwatch/internal/repo"
	"github.com/ppiankov/leakwatch/internal/storage"
	"github.com/ppiankov/leakwatch/internal/telegram"
)

// drainTimeout is how long in-flight jobs may keep running after
// shutdown begins.
const drainTimeout = 30 * time.Second

// maxErrorLen caps the message stored in the job error column.
const maxErrorLen = 200

// Downloader fetches the bytes behind a file reference into dest.
type Downloader interface {
	Download(ctx context.Context, f model.FileRef, dest string) error
}

// Config wires the pipeline's collaborators.
type Config struct {
	Workers    int
	QueueSize  int
	Store      repo.Store
	Files      *storage.Store
	Scanner    *ioc.Scanner
	Downloader Downloader
	Metrics    *metrics.Metrics
}

// Pipeline owns the queue and the worker pool.
type Pipeline struct {
	cfg   Config
	dedup *dedup.Deduper
	queue chan model.FileRef
	log   *logrus.Entry
}

// New creates a pipeline. Run must be called before enqueued work makes
// progress.
func New(cfg Config) *Pipeline {
	return &Pipeline{
		cfg:   cfg,
		dedup: dedup.New(cfg.Store),
		queue: make(chan model.FileRef, cfg.QueueSize),
		log:   logrus.WithField("component", "pipeline"),
	}
}

// Enqueue adds a file event to the queue, blocking until a slot opens or
// ctx expires.
func (p *Pipeline) Enqueue(ctx context.Context, f model.FileRef) error {
	select {
	case p.queue <- f:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue %s: %w", f.RemoteID, ctx.Err())
	}
}

// Run drains the queue until ctx is cancelled. In-flight jobs get a
// drain window after cancellation before their context is cut.
func (p *Pipeline) Run(ctx context.Context) error {
	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()
	go func() {
		<-ctx.Done()
		t := time.NewTimer(drainTimeout)
		defer t.Stop()
		select {
		case <-t.C:
			cancelJobs()
		case <-jobCtx.Done():
		}
	}()

	sem := semaphore.NewWeighted(int64(p.cfg.Workers))
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-p.queue:
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer sem.Release(1)
				p.process(jobCtx, f)
			}()
		}
	}
}

// process runs one job end to end. Failures land in the job row; a
// shutdown interruption does not.
func (p *Pipeline) process(ctx context.Context, f model.FileRef) {
	job := model.NewJob(f)
	log := p.log.WithFields(logrus.Fields{"job": job.ShortID(), "file": f.Filename})

	if err := p.cfg.Store.LogJob(ctx, job); err != nil {
		log.WithError(err).Error("cannot log job")
		return
	}

	err := p.run(ctx, job, log)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		log.Info("job interrupted by shutdown")
	default:
		p.cfg.Metrics.JobsFailed.Inc()
		msg := failureMessage(err)
		if uerr := p.cfg.Store.UpdateJob(ctx, job.ID, model.JobFailed, &msg, nil); uerr != nil {
			log.WithError(uerr).Error("cannot record job failure")
		}
		log.WithError(err).Error("job failed")
	}
}

func (p *Pipeline) run(ctx context.Context, job *model.Job, log *logrus.Entry) error {
	f := job.File

	fresh, err := p.dedup.ShouldProcessByRemote(ctx, f)
	if err != nil {
		return fmt.Errorf("remote dedup: %w", err)
	}
	if !fresh {
		p.cfg.Metrics.FilesDeduplicated.Inc()
		if err := p.cfg.Store.TouchProcessedFile(ctx, f.RemoteID); err != nil {
			return fmt.Errorf("touch processed file: %w", err)
		}
		log.Info("remote file already processed, skipping")
		return p.complete(ctx, job, nil)
	}

	if err := p.cfg.Store.UpdateJob(ctx, job.ID, model.JobProcessing, nil, nil); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	scratch, err := p.cfg.Files.NewScratchDir()
	if err != nil {
		return err
	}
	defer p.cfg.Files.CleanupScratch(scratch)

	archivePath := filepath.Join(scratch, storage.SanitizeFilename(f.Filename))
	if err := p.cfg.Downloader.Download(ctx, f, archivePath); err != nil {
		return fmt.Errorf("download: %w", err)
	}

	fresh, fingerprint, err := p.dedup.ShouldProcessByContent(ctx, archivePath)
	if err != nil {
		return fmt.Errorf("content dedup: %w", err)
	}
	if !fresh && !p.cfg.Files.HasContent(fingerprint) {
		log.Warnf("fingerprint %s known to the database but missing from storage, re-placing", fingerprint[:12])
	}
	storedPath, err := p.cfg.Files.Persist(archivePath, fingerprint, f.Filename)
	if err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	if err := p.cfg.Store.RecordProcessedFile(ctx, f, fingerprint, storedPath); err != nil {
		return fmt.Errorf("record processed file: %w", err)
	}
	if !fresh {
		// Known content under a new remote identity: the row above keeps
		// remote-id dedup working, but the bytes need no re-scan.
		p.cfg.Metrics.FilesDeduplicated.Inc()
		log.Infof("content %s already stored, skipping scan", fingerprint[:12])
		return p.complete(ctx, job, &fingerprint)
	}
	// The archive is safely stored at this point; mark the job completed
	// so a later scan failure does not lose that fact.
	if err := p.cfg.Store.UpdateJob(ctx, job.ID, model.JobCompleted, nil, &fingerprint); err != nil {
		return fmt.Errorf("mark stored: %w", err)
	}

	extractDir := filepath.Join(scratch, "extracted")
	if err := os.MkdirAll(extractDir, 0o750); err != nil {
		return fmt.Errorf("create extraction dir: %w", err)
	}
	if err := extract.Extract(storedPath, extractDir); err != nil {
		return fmt.Errorf("extract: %w", err)
	}

	indicators, err := p.cfg.Scanner.ScanDir(extractDir, fingerprint, f.ChannelID)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	newCount := 0
	for _, ind := range indicators {
		wasNew, err := p.cfg.Store.UpsertIndicator(ctx, ind)
		if err != nil {
			return fmt.Errorf("upsert indicator: %w", err)
		}
		if wasNew {
			newCount++
			p.cfg.Metrics.IndicatorsFound.Inc()
		}
	}
	log.Infof("stored %s with %d indicators (%d new)", fingerprint[:12], len(indicators), newCount)

	if err := p.complete(ctx, job, &fingerprint); err != nil {
		return err
	}
	// Only full-pipeline completions count as processed; dedup skips
	// increment the deduplicated counter instead.
	p.cfg.Metrics.JobsProcessed.Inc()
	return nil
}

func (p *Pipeline) complete(ctx context.Context, job *model.Job, fingerprint *string) error {
	if err := p.cfg.Store.UpdateJob(ctx, job.ID, model.JobCompleted, nil, fingerprint); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

// failureMessage renders the error column value: a stable kind prefix
// followed by a truncated message.
func failureMessage(err error) string {
	kind := "Internal"
	switch {
	case errors.Is(err, extract.ErrUnsafeArchive):
		kind = "UnsafeArchive"
	case errors.Is(err, extract.ErrUnsupportedFormat):
		kind = "UnsupportedFormat"
	case errors.Is(err, storage.ErrTraversal):
		kind = "Traversal"
	case errors.Is(err, telegram.ErrIntegrity):
		kind = "Integrity"
	case errors.Is(err, telegram.ErrDownloadFailed):
		kind = "DownloadFailed"
	case errors.Is(err, repo.ErrNotConnected):
		kind = "Database"
	}
	msg := err.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	return kind + ": " + msg
}
