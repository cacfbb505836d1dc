package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	InboundTypeJoin       = "join"
	InboundTypeMessage    = "message"
	InboundTypeTyping     = "typing"
	InboundTypeMarkAsRead = "markAsRead"

	OutboundTypeAdminJoined = "adminJoined"
	OutboundTypeUserJoined  = "userJoined"
	OutboundTypeMessage     = "message"
	OutboundTypeNewUser     = "newUser"
	OutboundTypeUserLeft    = "userLeft"
	OutboundTypeTyping      = "typing"
	OutboundTypeHelpRequest = "helpRequest"
	OutboundTypeError       = "error"
)

// JoinData introduces the connection's self-asserted identity.
type JoinData struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	Room     string `json:"roomId,omitempty"`
}

// MessageData is a chat message from the client. Target is required when the
// sender is admin and ignored otherwise.
type MessageData struct {
	Body   string `json:"body"`
	Target string `json:"targetUsername,omitempty"`
}

// TypingData is a transient typing indicator.
type TypingData struct {
	IsTyping bool   `json:"isTyping"`
	Target   string `json:"targetUsername,omitempty"`
}

// MarkAsReadData scopes a mark-as-read action to one room.
type MarkAsReadData struct {
	Room string `json:"roomId"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// MessageEvent is a persisted message as delivered on the wire.
type MessageEvent struct {
	ID        int64  `json:"id"`
	Room      string `json:"roomId"`
	Sender    string `json:"senderUsername"`
	Receiver  string `json:"receiverUsername"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
	IsRead    bool   `json:"isRead"`
}

// ConversationData is one entry of the admin's multi-room overview.
type ConversationData struct {
	Username    string        `json:"username"`
	Room        string        `json:"roomId"`
	LastMessage *MessageEvent `json:"lastMessage"`
	UnreadCount int           `json:"unreadCount"`
}

// PresenceData is one open connection of a participant.
type PresenceData struct {
	Username string `json:"username"`
	Room     string `json:"roomId"`
	Role     string `json:"role"`
	JoinedAt int64  `json:"joinedAt"`
}

// AdminJoinedData is the admin's bootstrap payload.
type AdminJoinedData struct {
	Username      string             `json:"username"`
	Conversations []ConversationData `json:"conversations"`
	Presence      []PresenceData     `json:"presence"`
}

// UserJoinedData is a user's bootstrap payload.
type UserJoinedData struct {
	Username string         `json:"username"`
	Room     string         `json:"roomId"`
	History  []MessageEvent `json:"history"`
}

// UserEventData notifies admins about a user arriving or leaving.
type UserEventData struct {
	Username string `json:"username"`
	Room     string `json:"roomId"`
}

// TypingEvent relays a typing indicator to the other side.
type TypingEvent struct {
	Username string `json:"username"`
	Room     string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

// HelpRequestData notifies admins about a new help request.
type HelpRequestData struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Room      string `json:"roomId"`
	Message   string `json:"message"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"createdAt"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
