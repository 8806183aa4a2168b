// Package telegram turns watched Telegram channels into a stream of
// candidate archives and downloads their documents on demand.
package telegram

import (
	"context"
	"time"
)

// Document is a raw document announcement from a watched channel.
type Document struct {
	ChannelID    int64
	ChannelTitle string
	MessageID    int
	DocumentID   int64
	Filename     string
	SizeBytes    int64
	Date         time.Time
}

// Client is the transport contract the source runs on. The production
// implementation speaks MTProto; tests substitute a fake.
type Client interface {
	// Connect establishes the session, authenticating if needed.
	Connect(ctx context.Context) error
	// Close tears the session down. Safe to call once after Connect.
	Close() error
	// Resolve looks up the given channel usernames and subscribes the
	// client to their updates. Must be called after Connect.
	Resolve(ctx context.Context, channels []string) error
	// Documents yields document announcements from resolved channels.
	// The channel is closed when the session ends.
	Documents() <-chan Document
	// Fetch downloads one document to dest and returns the byte count
	// written. May return *FloodWaitError.
	Fetch(ctx context.Context, channelID int64, messageID int, dest string) (int64, error)
}
