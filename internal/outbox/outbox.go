// Package outbox orchestrates outbound chat intents: optimistic sends,
// local edits, deletions, reactions, and attachment uploads.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/casaline/casachat/internal/attachment"
	"github.com/casaline/casachat/internal/channel"
	"github.com/casaline/casachat/internal/store"
)

const (
	// MaxContentLength caps a text message, in runes.
	MaxContentLength = 1000

	// MaxAttachmentBytes caps an upload before any network activity.
	MaxAttachmentBytes = 10 << 20 // 10MB
)

// Validation failures. These never reach the channel.
var (
	ErrEmptyContent       = errors.New("message is empty")
	ErrContentTooLong     = errors.New("message exceeds the length limit")
	ErrNoActiveRoom       = errors.New("no active room")
	ErrAttachmentTooLarge = errors.New("attachment exceeds the size limit")
)

// Uploader stores a file and returns its durable public URL.
type Uploader interface {
	Upload(ctx context.Context, filename string, r io.Reader, size int64) (string, error)
}

// MessageDeleter removes a message server-side.
type MessageDeleter interface {
	DeleteMessage(ctx context.Context, messageID string) error
}

// Controller drives outbound intents against the store and the channel.
// The active room is read through a getter so the session stays the
// single owner of room state.
type Controller struct {
	store    *store.Store
	ch       channel.RoomChannel
	uploader Uploader
	deleter  MessageDeleter
	self     channel.Identity
	room     func() string
	now      func() time.Time
}

// Config wires a Controller.
type Config struct {
	Store    *store.Store
	Channel  channel.RoomChannel
	Uploader Uploader
	Deleter  MessageDeleter
	Self     channel.Identity
	Room     func() string
}

// New creates a send controller.
func New(cfg Config) *Controller {
	return &Controller{
		store:    cfg.Store,
		ch:       cfg.Channel,
		uploader: cfg.Uploader,
		deleter:  cfg.Deleter,
		self:     cfg.Self,
		room:     cfg.Room,
		now:      time.Now,
	}
}

// Send validates content, inserts an optimistic pending message, and
// issues the send intent carrying its provisional id. A channel
// failure marks the optimistic entry failed; the content stays visible
// for retry.
func (c *Controller) Send(ctx context.Context, content, replyToID string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return "", ErrContentTooLong
	}
	roomID := c.room()
	if roomID == "" {
		return "", ErrNoActiveRoom
	}

	// A reply may only reference a durable message; a link to our own
	// still-pending send has no server-side meaning yet.
	replyToID = c.sendableReply(replyToID)

	tempID := store.ProvisionalID(uuid.NewString())
	msg := &store.Message{
		ID:         tempID,
		Content:    content,
		SenderName: c.self.DisplayName,
		Timestamp:  c.now(),
	}
	if replyToID != "" {
		msg.Reply = &store.Reply{ID: replyToID}
	}
	c.store.AddPending(msg)

	err := c.ch.SendMessage(ctx, channel.SendIntent{
		RoomID:     roomID,
		SenderID:   c.self.UserID,
		SenderType: c.self.Role,
		Content:    content,
		TempID:     tempID,
		ReplyToID:  replyToID,
	})
	if err != nil {
		c.store.MarkFailed(tempID)
		return tempID, fmt.Errorf("send message: %w", err)
	}
	return tempID, nil
}

// Retry resubmits a failed message's content as a brand-new send and
// drops the failed entry. Provisional ids are never reused.
func (c *Controller) Retry(ctx context.Context, failedID string) (string, error) {
	m, ok := c.store.Get(failedID)
	if !ok || m.Status != store.StatusFailed {
		return "", fmt.Errorf("no failed message %s", failedID)
	}
	replyTo := ""
	if m.Reply != nil {
		replyTo = m.Reply.ID
	}
	c.store.Remove(failedID)
	return c.Send(ctx, m.Content, replyTo)
}

// Edit replaces a message's content locally. There is no server round
// trip for edits in this client.
func (c *Controller) Edit(messageID, newContent string) error {
	if strings.TrimSpace(newContent) == "" {
		return ErrEmptyContent
	}
	if !c.store.SetContent(messageID, newContent, true) {
		return fmt.Errorf("no message %s", messageID)
	}
	return nil
}

// Delete removes a message through the marketplace API and, on
// success, drops it from the store entirely. Soft deletion is reserved
// for retractions the server broadcasts.
func (c *Controller) Delete(ctx context.Context, messageID string) error {
	if err := c.deleter.DeleteMessage(ctx, messageID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	c.store.Remove(messageID)
	return nil
}

// React toggles the local user's reaction on a message.
func (c *Controller) React(messageID, emoji string) error {
	if !c.store.ToggleReaction(messageID, emoji, c.self.UserID) {
		return fmt.Errorf("no message %s", messageID)
	}
	return nil
}

// UploadAttachment validates an attachment, shows it optimistically,
// uploads it, and sends the resolved descriptor over the channel. Any
// failure removes the optimistic entry outright: the provisional id is
// tied to this one upload attempt, so there is nothing to retry in
// place.
func (c *Controller) UploadAttachment(ctx context.Context, filename, mimeType string, r io.Reader, size int64) (string, error) {
	if size > MaxAttachmentBytes {
		return "", ErrAttachmentTooLarge
	}
	roomID := c.room()
	if roomID == "" {
		return "", ErrNoActiveRoom
	}

	kind := store.KindFile
	if strings.HasPrefix(mimeType, "image/") {
		kind = store.KindImage
	}
	tempID := store.ProvisionalID(uuid.NewString())
	c.store.AddPending(&store.Message{
		ID:         tempID,
		Content:    filename,
		SenderName: c.self.DisplayName,
		Timestamp:  c.now(),
		Kind:       kind,
		Attachment: &attachment.Descriptor{Name: filename, MimeType: mimeType},
	})

	url, err := c.uploader.Upload(ctx, filename, r, size)
	if err != nil {
		c.store.Remove(tempID)
		return "", fmt.Errorf("upload attachment: %w", err)
	}

	content := attachment.Encode(attachment.Descriptor{Name: filename, URL: url, MimeType: mimeType})
	c.store.SetContent(tempID, content, false)

	err = c.ch.SendMessage(ctx, channel.SendIntent{
		RoomID:     roomID,
		SenderID:   c.self.UserID,
		SenderType: c.self.Role,
		Content:    content,
		TempID:     tempID,
	})
	if err != nil {
		c.store.Remove(tempID)
		return "", fmt.Errorf("send attachment: %w", err)
	}
	return tempID, nil
}

// sendableReply resolves a reply target to a durable id, or drops it.
func (c *Controller) sendableReply(replyToID string) string {
	if replyToID == "" || store.IsProvisionalID(replyToID) {
		return ""
	}
	m, ok := c.store.Get(replyToID)
	if !ok || m.Status == store.StatusPending {
		return ""
	}
	return replyToID
}
