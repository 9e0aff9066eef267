// Package session binds one chat room to the push channel: join/leave
// lifecycle, event dispatch into the message store, read-receipt
// triggering, and remote typing state.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/casaline/casachat/internal/cache"
	"github.com/casaline/casachat/internal/channel"
	"github.com/casaline/casachat/internal/store"
	"github.com/casaline/casachat/internal/typing"
)

// State is the room binding's lifecycle position.
type State int

const (
	StateUninitialized State = iota
	StateJoining
	StateJoined
	StateLeft
)

func (s State) String() string {
	switch s {
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	case StateLeft:
		return "left"
	default:
		return "uninitialized"
	}
}

// Notice is a user-visible message surfaced by the session; channel
// errors are converted to notices here and never escape as failures.
type Notice struct {
	Err  bool
	Text string
}

// Config wires a Session.
type Config struct {
	Channel channel.RoomChannel
	Store   *store.Store
	Cache   *cache.Cache // optional
	Self    channel.Identity

	// RemoteTypingDecay clears a remote typing indicator that never
	// got an explicit stop. Zero means the default.
	RemoteTypingDecay time.Duration

	// OnUpdate fires whenever the renderable state changed.
	OnUpdate func()
	// OnNotice surfaces user-visible notices.
	OnNotice func(Notice)
}

// Session owns the active room's state. The message store is mutated
// only from here and from the send controller; events are applied one
// at a time by Run.
type Session struct {
	ch       channel.RoomChannel
	store    *store.Store
	cache    *cache.Cache
	self     channel.Identity
	remote   *typing.Remote
	onUpdate func()
	onNotice func(Notice)

	mu        sync.Mutex
	state     State
	roomID    string
	connected bool
}

// New creates a session. It does nothing until Run consumes events and
// SetRoom picks a room.
func New(cfg Config) *Session {
	s := &Session{
		ch:       cfg.Channel,
		store:    cfg.Store,
		cache:    cfg.Cache,
		self:     cfg.Self,
		onUpdate: cfg.OnUpdate,
		onNotice: cfg.OnNotice,
	}
	s.remote = typing.NewRemote(cfg.RemoteTypingDecay, s.update)
	return s
}

// Run consumes channel events until ctx is cancelled, then tears the
// session down. It is the only goroutine that applies events.
func (s *Session) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.teardown(context.Background())
			return
		case ev, ok := <-s.ch.Events():
			if !ok {
				s.teardown(context.Background())
				return
			}
			s.handle(ctx, ev)
		}
	}
}

// SetRoom switches the session to a room, leaving the previous one
// first so room-scoped events can never leak across. The store is
// cleared and repainted from the local cache until the live history
// replay arrives.
func (s *Session) SetRoom(ctx context.Context, roomID string) {
	s.mu.Lock()
	prev := s.roomID
	if prev == roomID {
		s.mu.Unlock()
		return
	}
	prevState := s.state
	s.roomID = roomID
	s.state = StateUninitialized
	connected := s.connected
	s.mu.Unlock()

	if prev != "" && (prevState == StateJoining || prevState == StateJoined) {
		if err := s.ch.LeaveRoom(ctx, prev); err != nil {
			slog.Warn("Leave room failed", "room", prev, "err", err)
		}
	}
	s.remote.Cancel()

	if roomID == "" {
		s.store.Seed(nil)
		s.update()
		return
	}

	s.paintCache(roomID)
	if connected {
		s.join(ctx, roomID)
	}
	s.update()
}

// Room returns the active room id, or "" when none is bound.
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports the push channel's connection state.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// RemoteTyping returns the counterpart's display name while they are
// typing, or "".
func (s *Session) RemoteTyping() string {
	return s.remote.Name()
}

func (s *Session) handle(ctx context.Context, ev channel.Event) {
	switch ev := ev.(type) {
	case channel.Connected:
		s.mu.Lock()
		s.connected = true
		roomID := s.roomID
		s.mu.Unlock()
		if roomID != "" {
			s.join(ctx, roomID)
		}
		s.update()

	case channel.Disconnected:
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
		s.remote.Cancel()
		s.update()

	case channel.HistoryLoaded:
		s.mu.Lock()
		current := s.roomID
		if ev.RoomID == current && current != "" {
			s.state = StateJoined
		}
		s.mu.Unlock()
		if ev.RoomID != current || current == "" {
			slog.Debug("Dropping history for inactive room", "room", ev.RoomID)
			return
		}
		history := make([]*store.Message, len(ev.Messages))
		for i, wm := range ev.Messages {
			history[i] = s.toMessage(wm)
		}
		s.store.Seed(history)
		s.saveCache(current)
		s.update()

	case channel.HistoryError:
		if ev.RoomID != s.Room() {
			return
		}
		s.notice(Notice{Err: true, Text: "Could not load message history: " + ev.Error})

	case channel.MessageReceived:
		current := s.Room()
		if ev.Message.RoomID != current || current == "" {
			return
		}
		m := s.toMessage(ev.Message)
		s.store.ApplyIncoming(m)
		if m.Sender == store.SenderOther {
			// Receipt of a counterpart message is an implicit read.
			if err := s.ch.MarkRead(ctx, current, s.self); err != nil {
				slog.Warn("Mark read failed", "room", current, "err", err)
			}
			s.remote.Stop()
		}
		s.saveCache(current)
		s.update()

	case channel.TypingStart:
		if ev.UserID == s.self.UserID {
			return
		}
		s.remote.Start(ev.UserName)

	case channel.TypingStop:
		if ev.UserID == s.self.UserID {
			return
		}
		s.remote.Stop()

	case channel.RoomDeleted:
		s.mu.Lock()
		current := s.roomID
		if ev.RoomID == current && current != "" {
			s.state = StateLeft
			s.roomID = ""
		}
		s.mu.Unlock()
		if ev.RoomID != current || current == "" {
			return
		}
		s.remote.Cancel()
		if s.cache != nil {
			if err := s.cache.DeleteRoom(ev.RoomID); err != nil {
				slog.Warn("Drop cached room failed", "room", ev.RoomID, "err", err)
			}
		}
		s.notice(Notice{Err: true, Text: "This conversation was deleted."})
		s.update()

	case channel.SendAck:
		s.store.ConfirmPending(ev.TempID, ev.MessageID)
		s.saveCache(s.Room())
		s.update()

	case channel.SendError:
		if ev.TempID != "" {
			s.store.MarkFailed(ev.TempID)
		}
		text := "Message could not be sent."
		if ev.Reason != "" {
			text = "Message could not be sent: " + ev.Reason
		}
		s.notice(Notice{Err: true, Text: text})
		s.update()
	}
}

// join issues the join intent and the initial read receipt.
func (s *Session) join(ctx context.Context, roomID string) {
	s.mu.Lock()
	if s.state == StateJoining || s.state == StateJoined {
		s.mu.Unlock()
		return
	}
	s.state = StateJoining
	s.mu.Unlock()

	if err := s.ch.JoinRoom(ctx, roomID); err != nil {
		slog.Warn("Join room failed", "room", roomID, "err", err)
		s.notice(Notice{Err: true, Text: "Could not join the conversation."})
		return
	}
	if err := s.ch.MarkRead(ctx, roomID, s.self); err != nil {
		slog.Warn("Mark read failed", "room", roomID, "err", err)
	}
}

func (s *Session) teardown(ctx context.Context) {
	s.mu.Lock()
	roomID := s.roomID
	state := s.state
	s.state = StateLeft
	s.mu.Unlock()

	if roomID != "" && (state == StateJoining || state == StateJoined) {
		if err := s.ch.LeaveRoom(ctx, roomID); err != nil {
			slog.Warn("Leave room failed", "room", roomID, "err", err)
		}
	}
	s.remote.Cancel()
}

// toMessage converts a wire message, deriving the sender side from the
// local identity.
func (s *Session) toMessage(wm channel.WireMessage) *store.Message {
	sender := store.SenderOther
	if wm.SenderID == s.self.UserID {
		sender = store.SenderSelf
	}
	status := store.StatusConfirmed
	switch wm.Status {
	case "delivered":
		status = store.StatusDelivered
	case "read":
		status = store.StatusRead
	}
	m := &store.Message{
		ID:         wm.ID,
		Content:    wm.Content,
		Sender:     sender,
		SenderName: wm.SenderName,
		Timestamp:  wm.CreatedAt,
		Status:     status,
		Deleted:    wm.Status == "deleted",
	}
	if wm.ReplyToID != "" {
		m.Reply = &store.Reply{ID: wm.ReplyToID}
	}
	return m
}

func (s *Session) paintCache(roomID string) {
	if s.cache == nil {
		s.store.Seed(nil)
		return
	}
	cached, err := s.cache.LoadRoom(roomID)
	if err != nil {
		slog.Warn("Load cached room failed", "room", roomID, "err", err)
		s.store.Seed(nil)
		return
	}
	history := make([]*store.Message, len(cached))
	for i := range cached {
		m := cached[i]
		history[i] = &m
	}
	s.store.Seed(history)
}

func (s *Session) saveCache(roomID string) {
	if s.cache == nil || roomID == "" {
		return
	}
	if err := s.cache.SaveRoom(roomID, s.store.Messages()); err != nil {
		slog.Warn("Save cached room failed", "room", roomID, "err", err)
	}
}

func (s *Session) update() {
	if s.onUpdate != nil {
		s.onUpdate()
	}
}

func (s *Session) notice(n Notice) {
	if s.onNotice != nil {
		s.onNotice(n)
	}
}
