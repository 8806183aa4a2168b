// Package model defines the core domain types of the ingestion pipeline:
// file references produced by sources, per-attempt processing jobs, and
// extracted indicators.
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a processing job.
// Status advances queued → processing → (completed | failed);
// terminal states are final.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// IndicatorKind identifies the category of an extracted indicator.
type IndicatorKind string

const (
	KindDomain IndicatorKind = "domain"
	KindEmail  IndicatorKind = "email"
	KindIPv4   IndicatorKind = "ipv4"
)

// FileRef is an immutable event record describing a candidate archive.
// RemoteID is the composite key "{channel_id}_{message_id}_{document_id}"
// for Telegram documents, or a synthetic "local_..." key for drop-directory
// files.
type FileRef struct {
	RemoteID     string
	ChannelID    int64
	ChannelTitle string
	Filename     string
	SizeBytes    int64
	Timestamp    time.Time

	// LocalPath is set only for drop-directory files and points at the
	// original file on disk. Empty for remote documents.
	LocalPath string
}

// RemoteKey composes the canonical remote identity of a document.
func RemoteKey(channelID int64, messageID int, documentID int64) string {
	return fmt.Sprintf("%d_%d_%d", channelID, messageID, documentID)
}

// ParseRemoteKey splits a remote key back into its components.
func ParseRemoteKey(key string) (channelID int64, messageID int, documentID int64, err error) {
	parts := strings.Split(key, "_")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("malformed remote key: %q", key)
	}
	channelID, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("malformed remote key %q: %w", key, err)
	}
	messageID, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("malformed remote key %q: %w", key, err)
	}
	documentID, err = strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("malformed remote key %q: %w", key, err)
	}
	return channelID, messageID, documentID, nil
}

// Job is a mutable per-attempt processing record. One job per pipeline
// execution of a FileRef. Job rows are inserted at entry and updated at
// each terminal decision point, never deleted.
type Job struct {
	ID        string
	File      FileRef
	Status    JobStatus
	CreatedAt time.Time
	UpdatedAt time.Time
	FileHash  string
	Error     string
}

// NewJob creates a queued job for the given file with a fresh ID.
func NewJob(f FileRef) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.NewString(),
		File:      f,
		Status:    JobQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ShortID returns the 8-character job ID prefix used in log lines.
func (j *Job) ShortID() string {
	if len(j.ID) < 8 {
		return j.ID
	}
	return j.ID[:8]
}

// Indicator is a single extracted indicator of compromise. Identity is the
// tuple (Kind, Value, SourceFingerprint, SourceLine); re-scanning the same
// fingerprint upserts rather than duplicates.
type Indicator struct {
	Kind              IndicatorKind
	Value             string
	SourceFingerprint string
	RelativePath      string
	SourceLine        int
	ChannelID         int64
}
