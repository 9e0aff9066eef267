package channel

import "time"

// Wire event names pushed by the chat server.
const (
	evHistoryLoaded   = "history-loaded"
	evHistoryError    = "history-error"
	evMessageReceived = "message-received"
	evTypingStart     = "typing-start"
	evTypingStop      = "typing-stop"
	evRoomDeleted     = "room-deleted"
	evSendAck         = "send-ack"
	evSendError       = "send-error"
)

// Outbound intent names.
const (
	intentJoinRoom    = "join-room"
	intentLeaveRoom   = "leave-room"
	intentSendMessage = "send-message"
	intentTypingStart = "typing-start"
	intentTypingStop  = "typing-stop"
	intentMarkRead    = "mark-read"
)

// Identity is the local user's identity as the channel and the
// marketplace know it.
type Identity struct {
	UserID      string
	Role        string // "tenant" or "landlord"
	DisplayName string
}

// WireMessage is a message as the server ships it. Sender side is
// derived client-side by comparing SenderID against the local identity.
type WireMessage struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"roomId"`
	SenderID   string    `json:"senderId"`
	SenderType string    `json:"senderType"`
	SenderName string    `json:"senderName,omitempty"`
	Content    string    `json:"content"`
	Status     string    `json:"status,omitempty"`
	ReplyToID  string    `json:"replyToId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Event is one inbound push-channel event. Concrete types below; the
// session switches on them.
type Event any

// Connected reports the socket (re)established its connection.
type Connected struct{}

// Disconnected reports the socket dropped; the transport keeps
// reconnecting on its own.
type Disconnected struct {
	Err error
}

// HistoryLoaded carries a full history replay for a room.
type HistoryLoaded struct {
	RoomID   string        `json:"roomId"`
	Messages []WireMessage `json:"messages"`
}

// HistoryError reports that a history replay failed.
type HistoryError struct {
	RoomID string `json:"roomId"`
	Error  string `json:"error"`
}

// MessageReceived carries one new message broadcast to the room.
type MessageReceived struct {
	Message WireMessage
}

// TypingStart reports a remote participant started typing.
type TypingStart struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

// TypingStop reports a remote participant stopped typing.
type TypingStop struct {
	UserID string `json:"userId"`
}

// RoomDeleted reports the room was removed server-side.
type RoomDeleted struct {
	RoomID string `json:"roomId"`
}

// SendAck confirms a send, echoing the client's provisional id along
// with the server-assigned durable id.
type SendAck struct {
	TempID    string `json:"tempId"`
	MessageID string `json:"messageId"`
}

// SendError reports a rejected send. TempID may be empty when the
// server could not attribute the failure.
type SendError struct {
	TempID string `json:"tempId,omitempty"`
	Reason string `json:"error"`
}

// SendIntent is the outbound send-message payload.
type SendIntent struct {
	RoomID     string `json:"roomId"`
	SenderID   string `json:"senderId"`
	SenderType string `json:"senderType"`
	Content    string `json:"content"`
	TempID     string `json:"tempId"`
	ReplyToID  string `json:"replyToId,omitempty"`
}
