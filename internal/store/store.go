package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// User represents a chat participant known to the system.
// Usernames are self-asserted; the role recorded here is pinned on first join.
type User struct {
	ID        int64
	Username  string
	Role      string
	CreatedAt time.Time
}

// Message represents a persisted chat message.
// Room is the user's username for both directions of a conversation;
// Receiver is "admin" for user-authored messages and the target username
// for admin-authored ones.
type Message struct {
	ID        int64
	Room      string
	Sender    string
	Receiver  string
	Body      string
	IsRead    bool
	CreatedAt time.Time
}

// Presence marks one open connection for a username. A username with
// multiple tabs has multiple presence rows; "online" means at least one row.
type Presence struct {
	Token    string
	Username string
	Room     string
	Role     string
	JoinedAt time.Time
}

// HelpRequestStatus defines the lifecycle of a help request.
type HelpRequestStatus string

const (
	HelpRequestPending    HelpRequestStatus = "pending"
	HelpRequestInProgress HelpRequestStatus = "in_progress"
	HelpRequestResolved   HelpRequestStatus = "resolved"
)

// HelpRequest is an explicit escalation created by a user.
type HelpRequest struct {
	ID        string
	Username  string
	Room      string
	Message   string
	Status    HelpRequestStatus
	CreatedAt time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// UpsertUser creates the user on first sight and returns the stored
	// record. The role of an existing user is never overwritten.
	UpsertUser(ctx context.Context, username, role string) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage persists a message and sets its assigned ID.
	SaveMessage(ctx context.Context, msg *Message) error

	// ListMessagesForRoom returns messages for a room in chronological
	// order. A non-positive limit returns everything.
	ListMessagesForRoom(ctx context.Context, room string, limit int) ([]*Message, error)

	// ListMessagesBetween returns messages exchanged between two usernames,
	// in either direction, in chronological order.
	ListMessagesBetween(ctx context.Context, a, b string, limit int) ([]*Message, error)

	// ListMessagesInvolving returns every message sent or received by the
	// given username, in chronological order.
	ListMessagesInvolving(ctx context.Context, username string) ([]*Message, error)

	// MarkRead flags all messages in the room addressed to the recipient
	// as read. Messages the recipient sent are untouched.
	MarkRead(ctx context.Context, room, recipient string) error
}

// PresenceStore handles presence persistence.
type PresenceStore interface {
	// AddPresence records one open connection.
	AddPresence(ctx context.Context, p *Presence) error

	// RemovePresence deletes the presence row for a connection token.
	// Removing an absent token is not an error.
	RemovePresence(ctx context.Context, token string) error

	// ListPresence returns all current presence records.
	ListPresence(ctx context.Context) ([]*Presence, error)
}

// HelpRequestStore handles help request persistence.
type HelpRequestStore interface {
	// CreateHelpRequest persists a new help request.
	CreateHelpRequest(ctx context.Context, hr *HelpRequest) error

	// ListHelpRequests returns help requests, newest first.
	ListHelpRequests(ctx context.Context) ([]*HelpRequest, error)

	// UpdateHelpRequestStatus mutates the status of an existing request.
	UpdateHelpRequestStatus(ctx context.Context, id string, status HelpRequestStatus) error
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	MessageStore
	PresenceStore
	HelpRequestStore

	// Close closes the underlying database connection.
	Close() error
}
