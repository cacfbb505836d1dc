package core

import "github.com/deskchat/deskchat-server/internal/store"

// EventKind is a notification the core emits to connections.
type EventKind int

const (
	// EventAdminJoined is the admin's bootstrap reply: conversation index
	// plus current presence list.
	EventAdminJoined EventKind = iota
	// EventUserJoined is a user's bootstrap reply: own history with admin.
	EventUserJoined
	// EventMessage delivers a persisted chat message.
	EventMessage
	// EventNewUser notifies admin connections of a user arrival.
	EventNewUser
	// EventUserLeft notifies admin connections of a user departure.
	EventUserLeft
	// EventTyping relays a transient typing indicator.
	EventTyping
	// EventHelpRequest notifies admin connections of a new help request.
	EventHelpRequest
	// EventError notifies the connection about a domain error.
	EventError
)

// Event is sent to connections to describe what happened in the system.
type Event struct {
	Kind EventKind

	// Username and Room identify the subject of join/leave/typing events.
	Username string
	Room     string

	IsTyping bool

	// Message is set for EventMessage.
	Message *store.Message

	// History is set for EventUserJoined.
	History []*store.Message

	// Conversations and Presence are set for EventAdminJoined.
	Conversations []Conversation
	Presence      []*store.Presence

	// HelpRequest is set for EventHelpRequest.
	HelpRequest *store.HelpRequest

	// Error is set for EventError.
	Error *CoreError
}
