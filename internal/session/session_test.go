package session

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/casaline/casachat/internal/cache"
	"github.com/casaline/casachat/internal/channel"
	"github.com/casaline/casachat/internal/store"
)

type call struct {
	name   string
	roomID string
}

type fakeChannel struct {
	mu     sync.Mutex
	calls  []call
	events chan channel.Event
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan channel.Event, 16)}
}

func (f *fakeChannel) record(name, roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{name, roomID})
}

func (f *fakeChannel) JoinRoom(ctx context.Context, roomID string) error {
	f.record("join", roomID)
	return nil
}

func (f *fakeChannel) LeaveRoom(ctx context.Context, roomID string) error {
	f.record("leave", roomID)
	return nil
}

func (f *fakeChannel) SendMessage(ctx context.Context, intent channel.SendIntent) error {
	f.record("send", intent.RoomID)
	return nil
}

func (f *fakeChannel) TypingStart(ctx context.Context, roomID string, who channel.Identity) error {
	f.record("typing-start", roomID)
	return nil
}

func (f *fakeChannel) TypingStop(ctx context.Context, roomID string, who channel.Identity) error {
	f.record("typing-stop", roomID)
	return nil
}

func (f *fakeChannel) MarkRead(ctx context.Context, roomID string, who channel.Identity) error {
	f.record("mark-read", roomID)
	return nil
}

func (f *fakeChannel) Events() <-chan channel.Event { return f.events }

func (f *fakeChannel) named(name string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

func newTestSession(t *testing.T, ch *fakeChannel) (*Session, *store.Store) {
	t.Helper()
	st := store.New()
	s := New(Config{
		Channel: ch,
		Store:   st,
		Self:    channel.Identity{UserID: "u1", Role: "tenant", DisplayName: "Ana"},
	})
	return s, st
}

func wire(id, roomID, senderID, content string, at time.Time) channel.WireMessage {
	return channel.WireMessage{
		ID: id, RoomID: roomID, SenderID: senderID, Content: content, CreatedAt: at,
	}
}

func TestJoinOnConnectThenMarkRead(t *testing.T) {
	ch := newFakeChannel()
	s, _ := newTestSession(t, ch)
	ctx := context.Background()

	s.SetRoom(ctx, "r1")
	if len(ch.named("join")) != 0 {
		t.Fatal("joined before the channel connected")
	}

	s.handle(ctx, channel.Connected{})
	joins := ch.named("join")
	if len(joins) != 1 || joins[0].roomID != "r1" {
		t.Fatalf("joins = %v", joins)
	}
	reads := ch.named("mark-read")
	if len(reads) != 1 || reads[0].roomID != "r1" {
		t.Fatalf("mark-read calls = %v, want one on join", reads)
	}
	if s.State() != StateJoining {
		t.Errorf("state = %s, want joining", s.State())
	}
}

func TestNoDoubleJoin(t *testing.T) {
	ch := newFakeChannel()
	s, _ := newTestSession(t, ch)
	ctx := context.Background()

	s.handle(ctx, channel.Connected{})
	s.SetRoom(ctx, "r1")
	s.SetRoom(ctx, "r1") // same room again
	if got := len(ch.named("join")); got != 1 {
		t.Errorf("joins = %d, want 1", got)
	}
}

func TestRoomChangeLeavesBeforeJoining(t *testing.T) {
	ch := newFakeChannel()
	s, _ := newTestSession(t, ch)
	ctx := context.Background()

	s.handle(ctx, channel.Connected{})
	s.SetRoom(ctx, "r1")
	s.SetRoom(ctx, "r2")

	ch.mu.Lock()
	calls := append([]call(nil), ch.calls...)
	ch.mu.Unlock()
	var ordered []string
	for _, c := range calls {
		if c.name == "join" || c.name == "leave" {
			ordered = append(ordered, c.name+":"+c.roomID)
		}
	}
	want := []string{"join:r1", "leave:r1", "join:r2"}
	if fmt.Sprint(ordered) != fmt.Sprint(want) {
		t.Errorf("lifecycle calls = %v, want %v", ordered, want)
	}
}

func TestHistorySeedsStoreAndJoinsState(t *testing.T) {
	ch := newFakeChannel()
	s, st := newTestSession(t, ch)
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	removed := wire("m3", "r1", "u2", "", base.Add(2*time.Minute))
	removed.Status = "deleted"

	s.handle(ctx, channel.Connected{})
	s.SetRoom(ctx, "r1")
	s.handle(ctx, channel.HistoryLoaded{RoomID: "r1", Messages: []channel.WireMessage{
		wire("m1", "r1", "u2", "hello", base),
		wire("m2", "r1", "u1", "hi", base.Add(time.Minute)),
		removed,
	}})

	if st.Len() != 3 {
		t.Fatalf("store holds %d messages, want 3", st.Len())
	}
	m1, _ := st.Get("m1")
	if m1.Sender != store.SenderOther {
		t.Error("counterpart message derived as self")
	}
	m2, _ := st.Get("m2")
	if m2.Sender != store.SenderSelf {
		t.Error("own message derived as other")
	}
	m3, _ := st.Get("m3")
	if !m3.Deleted {
		t.Error("deleted status not mapped to the tombstone flag")
	}
	if s.State() != StateJoined {
		t.Errorf("state = %s, want joined", s.State())
	}
}

func TestStaleHistoryIgnoredAfterRoomChange(t *testing.T) {
	ch := newFakeChannel()
	s, st := newTestSession(t, ch)
	ctx := context.Background()

	s.handle(ctx, channel.Connected{})
	s.SetRoom(ctx, "r1")
	s.SetRoom(ctx, "r2")
	// r1's replay lands after the switch; it must not pollute r2.
	s.handle(ctx, channel.HistoryLoaded{RoomID: "r1", Messages: []channel.WireMessage{
		wire("m1", "r1", "u2", "stale", time.Now()),
	}})

	if st.Len() != 0 {
		t.Error("stale history replayed into the new room's store")
	}
	if s.State() == StateJoined {
		t.Error("stale history advanced the lifecycle state")
	}
}

func TestCounterpartMessageMarksRead(t *testing.T) {
	ch := newFakeChannel()
	s, _ := newTestSession(t, ch)
	ctx := context.Background()

	s.handle(ctx, channel.Connected{})
	s.SetRoom(ctx, "r1")
	before := len(ch.named("mark-read"))

	s.handle(ctx, channel.MessageReceived{Message: wire("m1", "r1", "u2", "hello", time.Now())})
	if got := len(ch.named("mark-read")); got != before+1 {
		t.Errorf("mark-read calls = %d, want %d (receipt is an implicit read)", got, before+1)
	}

	// Our own broadcast must not mark read.
	s.handle(ctx, channel.MessageReceived{Message: wire("m2", "r1", "u1", "mine", time.Now())})
	if got := len(ch.named("mark-read")); got != before+1 {
		t.Error("own message triggered a read receipt")
	}
}

func TestCrossRoomMessageIgnored(t *testing.T) {
	ch := newFakeChannel()
	s, st := newTestSession(t, ch)
	ctx := context.Background()

	s.handle(ctx, channel.Connected{})
	s.SetRoom(ctx, "r1")
	s.handle(ctx, channel.MessageReceived{Message: wire("m1", "r9", "u2", "wrong room", time.Now())})

	if st.Len() != 0 {
		t.Error("message for another room leaked into the store")
	}
}

func TestTypingEvents(t *testing.T) {
	ch := newFakeChannel()
	s, _ := newTestSession(t, ch)
	ctx := context.Background()

	s.handle(ctx, channel.TypingStart{UserID: "u2", UserName: "Dana"})
	if got := s.RemoteTyping(); got != "Dana" {
		t.Errorf("RemoteTyping = %q, want Dana", got)
	}

	// Our own typing echo is not a remote indicator.
	s.handle(ctx, channel.TypingStop{UserID: "u2"})
	s.handle(ctx, channel.TypingStart{UserID: "u1", UserName: "Ana"})
	if got := s.RemoteTyping(); got != "" {
		t.Errorf("RemoteTyping = %q, want empty for own echo", got)
	}
}

func TestTypingClearedByCounterpartMessage(t *testing.T) {
	ch := newFakeChannel()
	s, _ := newTestSession(t, ch)
	ctx := context.Background()

	s.handle(ctx, channel.Connected{})
	s.SetRoom(ctx, "r1")
	s.handle(ctx, channel.TypingStart{UserID: "u2", UserName: "Dana"})
	s.handle(ctx, channel.MessageReceived{Message: wire("m1", "r1", "u2", "done typing", time.Now())})

	if got := s.RemoteTyping(); got != "" {
		t.Errorf("RemoteTyping = %q, want cleared after their message arrived", got)
	}
}

func TestSendAckAndError(t *testing.T) {
	ch := newFakeChannel()
	s, st := newTestSession(t, ch)
	ctx := context.Background()

	var notices []Notice
	s.onNotice = func(n Notice) { notices = append(notices, n) }

	s.handle(ctx, channel.Connected{})
	s.SetRoom(ctx, "r1")

	tempA := store.ProvisionalID("a")
	tempB := store.ProvisionalID("b")
	st.AddPending(&store.Message{ID: tempA, Content: "one", Timestamp: time.Now()})
	st.AddPending(&store.Message{ID: tempB, Content: "two", Timestamp: time.Now().Add(time.Second)})

	s.handle(ctx, channel.SendAck{TempID: tempA, MessageID: "m1"})
	m, _ := st.Get("m1")
	if m.Status != store.StatusConfirmed {
		t.Errorf("acked message status = %s", m.Status)
	}

	s.handle(ctx, channel.SendError{TempID: tempB, Reason: "room archived"})
	m, _ = st.Get(tempB)
	if m.Status != store.StatusFailed {
		t.Errorf("errored message status = %s", m.Status)
	}
	if len(notices) != 1 || !notices[0].Err {
		t.Errorf("notices = %v, want one error notice", notices)
	}
}

func TestRoomDeletedInvalidatesSession(t *testing.T) {
	ch := newFakeChannel()
	s, _ := newTestSession(t, ch)
	ctx := context.Background()

	var notices []Notice
	s.onNotice = func(n Notice) { notices = append(notices, n) }

	s.handle(ctx, channel.Connected{})
	s.SetRoom(ctx, "r1")
	s.handle(ctx, channel.RoomDeleted{RoomID: "r1"})

	if s.State() != StateLeft {
		t.Errorf("state = %s, want left", s.State())
	}
	if s.Room() != "" {
		t.Errorf("room = %q, want cleared", s.Room())
	}
	if len(notices) != 1 {
		t.Errorf("notices = %v", notices)
	}
}

func TestRunTeardownLeavesRoom(t *testing.T) {
	ch := newFakeChannel()
	s, _ := newTestSession(t, ch)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	ch.events <- channel.Connected{}
	// Wait for the connect to be applied before binding the room.
	deadline := time.After(time.Second)
	for !s.Connected() {
		select {
		case <-deadline:
			t.Fatal("session never observed the connect event")
		case <-time.After(time.Millisecond):
		}
	}
	s.SetRoom(ctx, "r1")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancellation")
	}

	leaves := ch.named("leave")
	if len(leaves) != 1 || leaves[0].roomID != "r1" {
		t.Errorf("leave calls = %v, want one for r1", leaves)
	}
}

func TestCachePaintsBeforeHistory(t *testing.T) {
	ch := newFakeChannel()
	st := store.New()
	c, err := cache.Open(filepath.Join(t.TempDir(), "rooms.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	c.SaveRoom("r1", []store.Message{
		{ID: "m1", Content: "cached", Sender: store.SenderOther, Status: store.StatusConfirmed, Timestamp: base},
	})

	s := New(Config{
		Channel: ch,
		Store:   st,
		Cache:   c,
		Self:    channel.Identity{UserID: "u1", Role: "tenant"},
	})
	ctx := context.Background()
	s.handle(ctx, channel.Connected{})
	s.SetRoom(ctx, "r1")

	if st.Len() != 1 {
		t.Fatalf("store holds %d messages, want the cached one", st.Len())
	}

	// Live replay replaces the snapshot wholesale.
	s.handle(ctx, channel.HistoryLoaded{RoomID: "r1", Messages: []channel.WireMessage{
		wire("m2", "r1", "u2", "live", base.Add(time.Minute)),
	}})
	if _, ok := st.Get("m1"); ok {
		t.Error("cached entry merged into live history instead of being replaced")
	}
	if _, ok := st.Get("m2"); !ok {
		t.Error("live history missing")
	}
}
