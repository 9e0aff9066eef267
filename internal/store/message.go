// Package store holds the ordered, deduplicated message collection for
// the active chat room and the reconciliation logic that merges local
// optimistic sends with the authoritative server stream.
package store

import (
	"strings"
	"time"

	"github.com/casaline/casachat/internal/attachment"
)

// Sender says which side of the conversation a message came from. It is
// derived by comparing the message's origin identity to the local user,
// never taken as a raw flag from the server.
type Sender string

const (
	SenderSelf  Sender = "self"
	SenderOther Sender = "other"
)

// Status is a message's delivery state. Pending only ever occurs for
// messages the local user originated.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// Kind classifies a message's content, derived by attempting an
// attachment decode on the content string.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindFile  Kind = "file"
)

// Reply is a weak reference to another message: an id plus a cached
// content snippet. The target may be absent from the store (older than
// the loaded history window), in which case Resolved is false and the
// snippet falls back to a generic label.
type Reply struct {
	ID       string
	Snippet  string
	Resolved bool
}

// Message is a single chat entry.
type Message struct {
	ID         string
	Content    string
	Sender     Sender
	SenderName string
	Timestamp  time.Time
	Status     Status
	Kind       Kind
	Attachment *attachment.Descriptor
	Reply      *Reply
	Reactions  map[string]map[string]bool // emoji -> set of reactor ids
	Deleted    bool
	Edited     bool
}

// provisionalPrefix marks client-generated ids of unconfirmed messages.
const provisionalPrefix = "local-"

// IsProvisionalID reports whether id is a client-generated provisional
// id rather than a server-assigned durable one.
func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, provisionalPrefix)
}

// ProvisionalID builds a provisional message id from a unique suffix.
func ProvisionalID(suffix string) string {
	return provisionalPrefix + suffix
}

// decodeKind classifies content and caches the parsed descriptor.
func (m *Message) decodeKind() {
	if d := attachment.Decode(m.Content); d != nil {
		m.Attachment = d
		if d.IsImage() {
			m.Kind = KindImage
		} else {
			m.Kind = KindFile
		}
		return
	}
	m.Attachment = nil
	m.Kind = KindText
}

// react records or removes a reaction by actor, enforcing the
// single-reaction-per-user policy.
func (m *Message) react(emoji, actorID string) {
	if m.Reactions == nil {
		m.Reactions = make(map[string]map[string]bool)
	}
	if m.Reactions[emoji][actorID] {
		delete(m.Reactions[emoji], actorID)
		if len(m.Reactions[emoji]) == 0 {
			delete(m.Reactions, emoji)
		}
		return
	}
	for other, actors := range m.Reactions {
		if actors[actorID] {
			delete(actors, actorID)
			if len(actors) == 0 {
				delete(m.Reactions, other)
			}
		}
	}
	if m.Reactions[emoji] == nil {
		m.Reactions[emoji] = make(map[string]bool)
	}
	m.Reactions[emoji][actorID] = true
}
