// Package dedup implements the two-stage deduplication policy: a cheap
// pre-download probe by remote identity and a post-download probe by
// content fingerprint. Both stages are advisory; final idempotence rests
// on the repository's upsert constraints.
package dedup

import (
	"context"

	"github.com/ppiankov/leakwatch/internal/model"
	"github.com/ppiankov/leakwatch/internal/repo"
	"github.com/ppiankov/leakwatch/internal/storage"
)

// Deduper decides whether a file is worth downloading or persisting.
type Deduper struct {
	store repo.Store
}

// New creates a deduper over the given store.
func New(store repo.Store) *Deduper {
	return &Deduper{store: store}
}

// ShouldProcessByRemote reports whether the file's remote identity is
// unknown, i.e. the download is worth doing.
func (d *Deduper) ShouldProcessByRemote(ctx context.Context, file model.FileRef) (bool, error) {
	exists, err := d.store.ExistsByRemoteID(ctx, file.RemoteID)
	if err != nil {
		return false, err
	}
	return !exists, nil
}

// ShouldProcessByContent fingerprints the downloaded file and reports
// whether that content is unknown. The fingerprint is returned either way
// so callers can record it on the job.
func (d *Deduper) ShouldProcessByContent(ctx context.Context, path string) (bool, string, error) {
	fingerprint, err := storage.HashFile(path)
	if err != nil {
		return false, "", err
	}
	exists, err := d.store.ExistsByFingerprint(ctx, fingerprint)
	if err != nil {
		return false, fingerprint, err
	}
	return !exists, fingerprint, nil
}
