// Package channel is the bidirectional push transport between the
// client and the chat server: typed inbound events, outbound intents,
// and a websocket implementation.
package channel

import "context"

// RoomChannel is the push channel as the session and the send
// controller consume it. Intents are fire-and-forget at this layer;
// delivery outcomes come back as events.
type RoomChannel interface {
	JoinRoom(ctx context.Context, roomID string) error
	LeaveRoom(ctx context.Context, roomID string) error
	SendMessage(ctx context.Context, intent SendIntent) error
	TypingStart(ctx context.Context, roomID string, who Identity) error
	TypingStop(ctx context.Context, roomID string, who Identity) error
	MarkRead(ctx context.Context, roomID string, who Identity) error

	// Events delivers inbound events in arrival order. The channel is
	// closed when the transport shuts down for good.
	Events() <-chan Event
}
