package telegram

import (
	"errors"
	"fmt"
	"time"
)

// ErrIntegrity means a downloaded file's size does not match the size the
// server declared. The partial file is removed before this is returned.
var ErrIntegrity = errors.New("downloaded size mismatch")

// ErrDownloadFailed means all download attempts for a document were
// exhausted.
var ErrDownloadFailed = errors.New("download failed")

// FloodWaitError is returned when the server asks the client to back off.
// The caller is expected to sleep for Wait (capped) before retrying.
type FloodWaitError struct {
	Wait time.Duration
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("flood wait: server requested %s pause", e.Wait)
}
