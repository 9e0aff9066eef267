package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	reconnectWait = 5 * time.Second
	writeWait     = 10 * time.Second
	readLimit     = 1 << 20 // 1MB
)

// envelope is the wire frame: an event name plus its payload.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Socket is the websocket implementation of RoomChannel. It owns the
// connection lifecycle: dial, read loop, reconnect with backoff, and
// serialized writes.
type Socket struct {
	url    string
	token  string
	events chan Event

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
}

// NewSocket creates a socket for the given websocket URL. The token is
// sent as a bearer Authorization header on dial.
func NewSocket(url, token string) *Socket {
	return &Socket{
		url:    url,
		token:  token,
		events: make(chan Event, 64),
	}
}

// Events implements RoomChannel.
func (s *Socket) Events() <-chan Event { return s.events }

// Start connects and processes events until ctx is cancelled,
// reconnecting on failures. It closes the events channel on return.
func (s *Socket) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	defer close(s.events)

	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		slog.Info("Connecting to chat server", "url", s.url)
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, header)
		if err != nil {
			slog.Warn("Chat server dial error", "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(reconnectWait):
				continue
			}
		}

		conn.SetReadLimit(readLimit)
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		s.deliver(Connected{})

		err = s.readLoop(ctx, conn)
		conn.Close()
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.deliver(Disconnected{Err: err})
		slog.Warn("Chat server disconnected, reconnecting", "err", err, "wait", reconnectWait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectWait):
		}
	}
}

// Stop tears the socket down.
func (s *Socket) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}

func (s *Socket) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("Invalid frame from chat server", "err", err, "frame", truncate(string(data), 200))
			continue
		}

		ev, err := decodeEvent(env)
		if err != nil {
			slog.Warn("Dropping malformed event", "event", env.Event, "err", err, "frame", truncate(string(data), 200))
			continue
		}
		if ev == nil {
			slog.Debug("Ignoring unknown event", "event", env.Event)
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case s.events <- ev:
		}
	}
}

// decodeEvent maps a wire envelope to a typed event. Unknown names
// return (nil, nil); they must not kill the read loop.
func decodeEvent(env envelope) (Event, error) {
	switch env.Event {
	case evHistoryLoaded:
		var ev HistoryLoaded
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case evHistoryError:
		var ev HistoryError
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case evMessageReceived:
		var wm WireMessage
		if err := json.Unmarshal(env.Data, &wm); err != nil {
			return nil, err
		}
		return MessageReceived{Message: wm}, nil
	case evTypingStart:
		var ev TypingStart
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case evTypingStop:
		var ev TypingStop
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case evRoomDeleted:
		var ev RoomDeleted
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case evSendAck:
		var ev SendAck
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case evSendError:
		var ev SendError
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	}
	return nil, nil
}

// deliver pushes a connection-state event, waiting up to a second for
// a stalled consumer before dropping it.
func (s *Socket) deliver(ev Event) {
	select {
	case s.events <- ev:
	case <-time.After(time.Second):
		slog.Warn("Event consumer stalled, dropping event", "type", fmt.Sprintf("%T", ev))
	}
}

// --- outbound intents ---

func (s *Socket) JoinRoom(ctx context.Context, roomID string) error {
	return s.send(intentJoinRoom, map[string]any{"roomId": roomID})
}

func (s *Socket) LeaveRoom(ctx context.Context, roomID string) error {
	return s.send(intentLeaveRoom, map[string]any{"roomId": roomID})
}

func (s *Socket) SendMessage(ctx context.Context, intent SendIntent) error {
	return s.send(intentSendMessage, intent)
}

func (s *Socket) TypingStart(ctx context.Context, roomID string, who Identity) error {
	return s.send(intentTypingStart, map[string]any{
		"roomId":   roomID,
		"userId":   who.UserID,
		"userName": who.DisplayName,
	})
}

func (s *Socket) TypingStop(ctx context.Context, roomID string, who Identity) error {
	return s.send(intentTypingStop, map[string]any{
		"roomId": roomID,
		"userId": who.UserID,
	})
}

func (s *Socket) MarkRead(ctx context.Context, roomID string, who Identity) error {
	return s.send(intentMarkRead, map[string]any{
		"roomId":   roomID,
		"userId":   who.UserID,
		"userType": who.Role,
	})
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// send marshals and writes one intent frame. Gorilla connections allow
// a single concurrent writer, hence the lock.
func (s *Socket) send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	frame, err := json.Marshal(envelope{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", event, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("%s: not connected", event)
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	return nil
}
