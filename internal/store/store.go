package store

import (
	"sort"
	"sync"
	"time"
)

// Store is the message collection for one room. All mutation goes
// through its methods; callers never touch messages directly. Methods
// are safe to call from the channel read goroutine and the UI loop
// concurrently.
type Store struct {
	mu   sync.RWMutex
	msgs []*Message
}

// New creates an empty store.
func New() *Store {
	return &Store{}
}

// Seed replaces the store's content with a freshly loaded,
// server-ordered history page. Attachment kinds are decoded and reply
// references resolved against the new content, so replies that pointed
// at not-yet-loaded messages re-link once their targets arrive.
func (s *Store) Seed(history []*Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.msgs = s.msgs[:0]
	for _, m := range history {
		if m == nil || s.indexByID(m.ID) >= 0 {
			continue
		}
		m.decodeKind()
		s.insertOrdered(m)
	}
	s.relinkReplies()
}

// ApplyIncoming merges one authoritative server message into the store.
// Re-delivered events are discarded by durable id, so applying the same
// event twice is a no-op. When the server did not echo our provisional
// id (a broadcast from another of our sessions), the oldest pending
// entry from the same sender is retired in its place.
func (s *Store) ApplyIncoming(m *Message) {
	if m == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Idempotent re-delivery. Checked before pending retirement so a
	// broadcast that follows an explicit ack cannot retire an
	// unrelated pending entry.
	if s.indexByID(m.ID) >= 0 {
		return
	}

	if m.Sender == SenderSelf {
		if i := s.oldestPending(m.Sender); i >= 0 {
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
		}
	}

	m.decodeKind()
	if m.Reply != nil {
		*m.Reply = s.resolveReplyLocked(m.Reply.ID)
	}
	s.insertOrdered(m)
}

// AddPending inserts a local optimistic message. The caller supplies
// the provisional id; the store only classifies content and orders it.
func (s *Store) AddPending(m *Message) {
	if m == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m.Sender = SenderSelf
	m.Status = StatusPending
	if m.Kind == "" {
		m.decodeKind()
	}
	if m.Reply != nil {
		*m.Reply = s.resolveReplyLocked(m.Reply.ID)
	}
	s.insertOrdered(m)
}

// ConfirmPending reconciles a pending message with the durable id the
// server echoed back for its provisional id. The entry is updated in
// place; if the broadcast already retired it, this is a no-op.
func (s *Store) ConfirmPending(tempID, durableID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexByID(tempID)
	if i < 0 || s.msgs[i].Status != StatusPending {
		return false
	}
	if j := s.indexByID(durableID); j >= 0 {
		// Broadcast won the race under a different pending; drop ours.
		s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
		return true
	}
	s.msgs[i].ID = durableID
	s.msgs[i].Status = StatusConfirmed
	return true
}

// MarkFailed flags the matching pending message as failed. The entry
// stays in the store so the UI can offer a retry.
func (s *Store) MarkFailed(tempID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexByID(tempID)
	if i < 0 || s.msgs[i].Status != StatusPending {
		return false
	}
	s.msgs[i].Status = StatusFailed
	return true
}

// ToggleReaction flips actorID's reaction on a message. An actor holds
// at most one reaction per message; picking a new emoji replaces the
// old one, picking the same emoji again removes it.
func (s *Store) ToggleReaction(messageID, emoji, actorID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexByID(messageID)
	if i < 0 {
		return false
	}
	s.msgs[i].react(emoji, actorID)
	return true
}

// SoftDelete marks a message retracted. The entry keeps its id and
// timestamp so ordering and reply references stay intact.
func (s *Store) SoftDelete(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexByID(messageID)
	if i < 0 {
		return false
	}
	s.msgs[i].Deleted = true
	return true
}

// Remove physically removes a message. Used after a confirmed server
// deletion and to roll back failed attachment uploads.
func (s *Store) Remove(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexByID(messageID)
	if i < 0 {
		return false
	}
	s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
	return true
}

// SetContent replaces a message's content in place and reclassifies it.
// Used for local edits and for attachment messages once the upload
// resolves to a durable URL.
func (s *Store) SetContent(messageID, content string, edited bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexByID(messageID)
	if i < 0 {
		return false
	}
	s.msgs[i].Content = content
	s.msgs[i].decodeKind()
	if edited {
		s.msgs[i].Edited = true
	}
	return true
}

// Get returns a copy of the message with the given id.
func (s *Store) Get(messageID string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexByID(messageID)
	if i < 0 {
		return Message{}, false
	}
	return *s.msgs[i], true
}

// Len reports the number of messages held, including pending ones.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}

// Messages returns a copy of every message in display order. Used by
// the local room cache.
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, len(s.msgs))
	for i, m := range s.msgs {
		out[i] = *m
	}
	return out
}

// DaySection is one calendar day's worth of messages for rendering.
type DaySection struct {
	Date     time.Time
	Messages []Message
}

// View returns the renderable messages in ascending timestamp order,
// grouped by local calendar date. Entries that are pending but not
// ours are filtered out; they should never exist, the filter is
// defensive.
func (s *Store) View() []DaySection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sections []DaySection
	for _, m := range s.msgs {
		if m.Status == StatusPending && m.Sender != SenderSelf {
			continue
		}
		day := time.Date(m.Timestamp.Year(), m.Timestamp.Month(), m.Timestamp.Day(), 0, 0, 0, 0, m.Timestamp.Location())
		if len(sections) == 0 || !sections[len(sections)-1].Date.Equal(day) {
			sections = append(sections, DaySection{Date: day})
		}
		last := &sections[len(sections)-1]
		last.Messages = append(last.Messages, *m)
	}
	return sections
}

// --- internals; callers hold s.mu ---

func (s *Store) indexByID(id string) int {
	for i, m := range s.msgs {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) oldestPending(sender Sender) int {
	oldest := -1
	for i, m := range s.msgs {
		if m.Status != StatusPending || m.Sender != sender {
			continue
		}
		if oldest < 0 || m.Timestamp.Before(s.msgs[oldest].Timestamp) {
			oldest = i
		}
	}
	return oldest
}

// insertOrdered places m at its timestamp position regardless of
// arrival order.
func (s *Store) insertOrdered(m *Message) {
	i := sort.Search(len(s.msgs), func(i int) bool {
		return s.msgs[i].Timestamp.After(m.Timestamp)
	})
	s.msgs = append(s.msgs, nil)
	copy(s.msgs[i+1:], s.msgs[i:])
	s.msgs[i] = m
}

func (s *Store) relinkReplies() {
	for _, m := range s.msgs {
		if m.Reply != nil && !m.Reply.Resolved {
			*m.Reply = s.resolveReplyLocked(m.Reply.ID)
		}
	}
}
