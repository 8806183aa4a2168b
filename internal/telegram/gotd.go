package telegram

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gotd/td/session"
	tgclient "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/sirupsen/logrus"
)

// docBuffer is the announcement channel depth. The source drains it
// quickly; the buffer only absorbs bursts.
const docBuffer = 64

// MTClient is the production Client over MTProto. Session state is kept
// in a file so restarts do not re-prompt for a login code.
type MTClient struct {
	phone  string
	client *tgclient.Client
	api    *tg.Client
	docs   chan Document

	mu     sync.Mutex
	access map[int64]int64
	titles map[int64]string

	cancel context.CancelFunc
	done   chan struct{}
	log    *logrus.Entry
}

// NewMTClient builds an MTProto client. sessionDir holds the session
// file and is created if missing.
func NewMTClient(apiID int, apiHash, phone, sessionDir string) (*MTClient, error) {
	if err := os.MkdirAll(sessionDir, 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	c := &MTClient{
		phone:  phone,
		docs:   make(chan Document, docBuffer),
		access: make(map[int64]int64),
		titles: make(map[int64]string),
		log:    logrus.WithField("component", "telegram"),
	}

	dispatcher := tg.NewUpdateDispatcher()
	dispatcher.OnNewChannelMessage(c.onChannelMessage)

	c.client = tgclient.NewClient(apiID, apiHash, tgclient.Options{
		SessionStorage: &session.FileStorage{
			Path: filepath.Join(sessionDir, "leakwatch.session"),
		},
		UpdateHandler: dispatcher,
	})
	c.api = c.client.API()
	return c, nil
}

// Connect starts the session loop in the background and blocks until
// authentication completes or fails.
func (c *MTClient) Connect(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	ready := make(chan struct{})
	errCh := make(chan error, 1)

	go func() {
		defer close(c.done)
		defer close(c.docs)
		errCh <- c.client.Run(runCtx, func(ctx context.Context) error {
			flow := auth.NewFlow(
				auth.Constant(c.phone, "", auth.CodeAuthenticatorFunc(askLoginCode)),
				auth.SendCodeOptions{},
			)
			if err := c.client.Auth().IfNecessary(ctx, flow); err != nil {
				return fmt.Errorf("authenticate: %w", err)
			}
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	select {
	case <-ready:
		c.log.Info("telegram session established")
		return nil
	case err := <-errCh:
		return sessionErr(err)
	case <-ctx.Done():
		cancel()
		<-c.done
		return ctx.Err()
	}
}

// Close stops the session loop.
func (c *MTClient) Close() error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	select {
	case <-c.done:
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("telegram session did not stop")
	}
}

// Resolve looks up each channel username and records its access hash.
func (c *MTClient) Resolve(ctx context.Context, channels []string) error {
	for _, name := range channels {
		username := strings.TrimPrefix(strings.TrimSpace(name), "@")
		res, err := c.api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{
			Username: username,
		})
		if err != nil {
			return fmt.Errorf("resolve channel %s: %w", username, err)
		}
		found := false
		for _, chat := range res.Chats {
			ch, ok := chat.(*tg.Channel)
			if !ok {
				continue
			}
			c.mu.Lock()
			c.access[ch.ID] = ch.AccessHash
			c.titles[ch.ID] = ch.Title
			c.mu.Unlock()
			c.log.Infof("watching channel %q (%d)", ch.Title, ch.ID)
			found = true
		}
		if !found {
			return fmt.Errorf("resolve channel %s: not a channel", username)
		}
	}
	return nil
}

// Documents yields announcements from watched channels.
func (c *MTClient) Documents() <-chan Document {
	return c.docs
}

func (c *MTClient) onChannelMessage(_ context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
	msg, ok := u.Message.(*tg.Message)
	if !ok {
		return nil
	}
	peer, ok := msg.PeerID.(*tg.PeerChannel)
	if !ok {
		return nil
	}

	c.mu.Lock()
	title, watched := c.titles[peer.ChannelID]
	// Entities carry fresh access hashes; keep ours current.
	if ch, ok := e.Channels[peer.ChannelID]; ok && watched {
		c.access[ch.ID] = ch.AccessHash
	}
	c.mu.Unlock()
	if !watched {
		return nil
	}

	media, ok := msg.Media.(*tg.MessageMediaDocument)
	if !ok {
		return nil
	}
	doc, ok := media.Document.AsNotEmpty()
	if !ok {
		return nil
	}

	announcement := Document{
		ChannelID:    peer.ChannelID,
		ChannelTitle: title,
		MessageID:    msg.ID,
		DocumentID:   doc.ID,
		Filename:     documentFilename(doc),
		SizeBytes:    doc.Size,
		Date:         time.Unix(int64(msg.Date), 0).UTC(),
	}
	select {
	case c.docs <- announcement:
	default:
		c.log.Warnf("announcement buffer full, dropping %s from %q",
			announcement.Filename, title)
	}
	return nil
}

// Fetch downloads the document attached to the given message.
func (c *MTClient) Fetch(ctx context.Context, channelID int64, messageID int, dest string) (int64, error) {
	c.mu.Lock()
	hash, ok := c.access[channelID]
	c.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("unknown channel %d", channelID)
	}

	res, err := c.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
		Channel: &tg.InputChannel{ChannelID: channelID, AccessHash: hash},
		ID:      []tg.InputMessageClass{&tg.InputMessageID{ID: messageID}},
	})
	if err != nil {
		return 0, wrapFloodWait(err)
	}
	msgs, ok := res.(*tg.MessagesChannelMessages)
	if !ok {
		return 0, fmt.Errorf("unexpected messages response %T", res)
	}

	var doc *tg.Document
	for _, m := range msgs.Messages {
		msg, ok := m.(*tg.Message)
		if !ok || msg.ID != messageID {
			continue
		}
		media, ok := msg.Media.(*tg.MessageMediaDocument)
		if !ok {
			continue
		}
		if d, ok := media.Document.AsNotEmpty(); ok {
			doc = d
		}
	}
	if doc == nil {
		return 0, fmt.Errorf("message %d in channel %d has no document", messageID, channelID)
	}

	loc := doc.AsInputDocumentFileLocation()
	if _, err := downloader.NewDownloader().Download(c.api, loc).ToPath(ctx, dest); err != nil {
		_ = os.Remove(dest)
		return 0, wrapFloodWait(err)
	}
	info, err := os.Stat(dest)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// sessionErr wraps a session loop result for Connect's caller. The loop
// can return nil when the transport closes before authentication
// finishes; that is still a failed connect.
func sessionErr(err error) error {
	if err == nil {
		err = errors.New("session closed before ready")
	}
	return fmt.Errorf("telegram session: %w", err)
}

func documentFilename(doc *tg.Document) string {
	for _, attr := range doc.Attributes {
		if fn, ok := attr.(*tg.DocumentAttributeFilename); ok {
			return fn.FileName
		}
	}
	return ""
}

func wrapFloodWait(err error) error {
	if wait, ok := tgerr.AsFloodWait(err); ok {
		return &FloodWaitError{Wait: wait}
	}
	return err
}

func askLoginCode(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	fmt.Fprint(os.Stderr, "Telegram login code: ")
	code, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read login code: %w", err)
	}
	return strings.TrimSpace(code), nil
}
