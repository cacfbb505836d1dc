package core

import (
	"sort"

	"github.com/deskchat/deskchat-server/internal/store"
)

// Conversation is the derived per-user summary backing the admin's
// multi-room overview: who, their room, the latest message, and how many
// user-authored messages admin has not read yet.
type Conversation struct {
	Username    string
	Room        string
	LastMessage *store.Message
	UnreadCount int
}

// ConversationIndex maintains one Conversation per non-admin party that has
// ever exchanged a message with admin (or joined at least once). It is owned
// by the hub loop and rebuilt from persisted messages on cold start.
type ConversationIndex struct {
	entries map[string]*Conversation
	order   []string // discovery order
}

// NewConversationIndex constructs an empty index.
func NewConversationIndex() *ConversationIndex {
	return &ConversationIndex{entries: make(map[string]*Conversation)}
}

// Rebuild replaces the index contents from a scan of all admin-involving
// messages, grouping by the non-admin party.
func (x *ConversationIndex) Rebuild(msgs []*store.Message) {
	x.entries = make(map[string]*Conversation)
	x.order = nil
	for _, msg := range msgs {
		party := partyOf(msg)
		if party == "" {
			continue
		}
		entry := x.entry(party)
		if entry.LastMessage == nil || !msg.CreatedAt.Before(entry.LastMessage.CreatedAt) {
			entry.LastMessage = msg
		}
		if msg.Sender == party && msg.Receiver == AdminUsername && !msg.IsRead {
			entry.UnreadCount++
		}
	}
}

// Touch creates a zero-state entry so the user is listed before any message
// exists. An existing entry is left untouched.
func (x *ConversationIndex) Touch(username string) {
	x.entry(username)
}

// Apply updates the index for one newly routed message. adminViewing
// suppresses the unread increment when admin currently has the room open.
func (x *ConversationIndex) Apply(msg *store.Message, adminViewing bool) {
	party := partyOf(msg)
	if party == "" {
		return
	}
	entry := x.entry(party)
	if entry.LastMessage == nil || !msg.CreatedAt.Before(entry.LastMessage.CreatedAt) {
		entry.LastMessage = msg
	}
	if msg.Sender == party && msg.Receiver == AdminUsername && !adminViewing {
		entry.UnreadCount++
	}
}

// MarkRead resets the unread counter for a room. Unknown rooms are a no-op,
// which keeps repeated mark-read calls idempotent.
func (x *ConversationIndex) MarkRead(room string) {
	if entry, ok := x.entries[room]; ok {
		entry.UnreadCount = 0
	}
}

// Get returns the entry for a username.
func (x *ConversationIndex) Get(username string) (Conversation, bool) {
	entry, ok := x.entries[username]
	if !ok {
		return Conversation{}, false
	}
	return *entry, true
}

// Snapshot returns a copy of all conversations, most recent activity first.
// Entries without messages keep their discovery order at the tail.
func (x *ConversationIndex) Snapshot() []Conversation {
	out := make([]Conversation, 0, len(x.order))
	for _, name := range x.order {
		out = append(out, *x.entries[name])
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastMessage, out[j].LastMessage
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.CreatedAt.After(b.CreatedAt)
		}
	})
	return out
}

func (x *ConversationIndex) entry(username string) *Conversation {
	if entry, ok := x.entries[username]; ok {
		return entry
	}
	entry := &Conversation{Username: username, Room: username}
	x.entries[username] = entry
	x.order = append(x.order, username)
	return entry
}

// BuildConversations computes the projection from a full message scan.
// Used by the read-side API, which rebuilds rather than sharing the hub's
// loop-owned index.
func BuildConversations(msgs []*store.Message) []Conversation {
	idx := NewConversationIndex()
	idx.Rebuild(msgs)
	return idx.Snapshot()
}

// partyOf returns the non-admin side of a message, or "" if the message does
// not involve admin at all.
func partyOf(msg *store.Message) string {
	switch {
	case msg.Sender != AdminUsername && msg.Receiver == AdminUsername:
		return msg.Sender
	case msg.Sender == AdminUsername && msg.Receiver != AdminUsername:
		return msg.Receiver
	default:
		return ""
	}
}
