package core

import (
	"context"
	"testing"
	"time"

	"github.com/deskchat/deskchat-server/internal/store"
)

func TestUserMessageFansOutToAdminAndSiblings(t *testing.T) {
	st := newMemStore()
	hub := startHub(t, st)

	admin := joinAdmin(t, hub, "adm1")
	alice1 := joinUser(t, hub, "a1", "alice")
	alice2 := joinUser(t, hub, "a2", "alice")

	alice1.Commands <- &Command{Kind: CommandSendMessage, Body: "hello"}

	ev := mustEvent(t, admin.Events, EventMessage)
	if ev.Message.Sender != "alice" || ev.Message.Receiver != AdminUsername || ev.Message.Room != "alice" {
		t.Fatalf("unexpected message event: %+v", ev.Message)
	}
	if ev.Message.Body != "hello" {
		t.Fatalf("unexpected body: %q", ev.Message.Body)
	}

	// Both sibling tabs get the echo.
	if ev := mustEvent(t, alice1.Events, EventMessage); ev.Message.Body != "hello" {
		t.Fatalf("sender tab missing echo: %+v", ev)
	}
	if ev := mustEvent(t, alice2.Events, EventMessage); ev.Message.Body != "hello" {
		t.Fatalf("sibling tab missing echo: %+v", ev)
	}

	// Admin gets it once, not once per alice tab.
	noEvent(t, admin.Events, EventMessage)

	if st.messageCount() != 1 {
		t.Fatalf("expected 1 persisted message, got %d", st.messageCount())
	}

	// Conversation index shows one unread for alice.
	boot := bootstrapOf(t, hub, "adm2")
	conv := findConversation(t, boot.Conversations, "alice")
	if conv.UnreadCount != 1 {
		t.Fatalf("expected unread 1, got %d", conv.UnreadCount)
	}
}

func TestAdminMessageFansOutToTargetAndOwnTabs(t *testing.T) {
	st := newMemStore()
	hub := startHub(t, st)

	admin1 := joinAdmin(t, hub, "adm1")
	admin2 := joinAdmin(t, hub, "adm2")
	alice := joinUser(t, hub, "a1", "alice")
	bob := joinUser(t, hub, "b1", "bob")

	admin1.Commands <- &Command{Kind: CommandSendMessage, Body: "hi", Target: "alice"}

	ev := mustEvent(t, alice.Events, EventMessage)
	if ev.Message.Sender != AdminUsername || ev.Message.Receiver != "alice" || ev.Message.Room != "alice" {
		t.Fatalf("unexpected message event: %+v", ev.Message)
	}

	// Admin sibling tabs (including the sender) get the echo.
	mustEvent(t, admin1.Events, EventMessage)
	mustEvent(t, admin2.Events, EventMessage)

	// Other users never see it.
	noEvent(t, bob.Events, EventMessage)
}

func TestAdminMessageWithoutTargetIsDropped(t *testing.T) {
	st := newMemStore()
	hub := startHub(t, st)

	admin := joinAdmin(t, hub, "adm1")
	alice := joinUser(t, hub, "a1", "alice")

	admin.Commands <- &Command{Kind: CommandSendMessage, Body: "orphan"}

	ev := mustEvent(t, admin.Events, EventError)
	if ev.Error == nil || ev.Error.Code != ErrCodeMissingTarget {
		t.Fatalf("expected missing_target, got %+v", ev)
	}

	// Barrier: route a valid message behind it.
	alice.Commands <- &Command{Kind: CommandSendMessage, Body: "ping"}
	mustEvent(t, admin.Events, EventMessage)

	msgs := st.allMessages()
	if len(msgs) != 1 || msgs[0].Body != "ping" {
		t.Fatalf("expected only the valid message persisted, got %+v", msgs)
	}
}

func TestUnidentifiedConnectionMessageDropped(t *testing.T) {
	st := newMemStore()
	hub := startHub(t, st)

	c := NewClient("c1", 32)
	hub.RegisterClient(c)

	c.Commands <- &Command{Kind: CommandSendMessage, Body: "ghost"}

	ev := mustEvent(t, c.Events, EventError)
	if ev.Error == nil || ev.Error.Code != ErrCodeUnidentified {
		t.Fatalf("expected unidentified_connection, got %+v", ev)
	}

	// The connection stays open and usable: a join still works afterwards.
	c.Commands <- &Command{Kind: CommandJoin, Username: "alice", Role: RoleUser}
	mustEvent(t, c.Events, EventUserJoined)

	if st.messageCount() != 0 {
		t.Fatalf("expected no persisted messages, got %d", st.messageCount())
	}
}

func TestPersistenceFailureAcknowledgedToSenderOnly(t *testing.T) {
	st := newMemStore()
	hub := startHub(t, st)

	admin := joinAdmin(t, hub, "adm1")
	alice := joinUser(t, hub, "a1", "alice")

	st.mu.Lock()
	st.failSaves = true
	st.mu.Unlock()

	alice.Commands <- &Command{Kind: CommandSendMessage, Body: "doomed"}

	ev := mustEvent(t, alice.Events, EventError)
	if ev.Error == nil || ev.Error.Code != ErrCodePersistenceFailure {
		t.Fatalf("expected persistence_failure, got %+v", ev)
	}

	// Persistence is the durability boundary: nobody is delivered to.
	noEvent(t, admin.Events, EventMessage)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	st := newMemStore()
	hub := startHub(t, st)

	admin := joinAdmin(t, hub, "adm1")
	alice := joinUser(t, hub, "a1", "alice")

	alice.Commands <- &Command{Kind: CommandSendMessage, Body: "one"}
	alice.Commands <- &Command{Kind: CommandSendMessage, Body: "two"}
	mustEvent(t, admin.Events, EventMessage)
	mustEvent(t, admin.Events, EventMessage)

	for i := 0; i < 2; i++ {
		admin.Commands <- &Command{Kind: CommandMarkRead, Room: "alice"}
	}

	// The store write is the observable effect of mark-read.
	waitFor(t, func() bool {
		for _, msg := range st.allMessages() {
			if !msg.IsRead {
				return false
			}
		}
		return true
	})

	boot := bootstrapOf(t, hub, "adm2")
	conv := findConversation(t, boot.Conversations, "alice")
	if conv.UnreadCount != 0 {
		t.Fatalf("expected unread 0 after mark-read, got %d", conv.UnreadCount)
	}
	if conv.LastMessage == nil || conv.LastMessage.Body != "two" {
		t.Fatalf("mark-read must not change last message: %+v", conv.LastMessage)
	}

}

func TestUnreadNotCountedWhileAdminViewsRoom(t *testing.T) {
	st := newMemStore()
	hub := startHub(t, st)

	admin := joinAdmin(t, hub, "adm1")
	alice := joinUser(t, hub, "a1", "alice")

	// Sending into a room implies it is on screen; the echo doubles as a
	// barrier so the reply below is routed afterwards.
	admin.Commands <- &Command{Kind: CommandSendMessage, Body: "how can I help?", Target: "alice"}
	mustEvent(t, alice.Events, EventMessage)

	alice.Commands <- &Command{Kind: CommandSendMessage, Body: "seen live"}
	waitFor(t, func() bool { return st.messageCount() == 2 })

	boot := bootstrapOf(t, hub, "adm2")
	conv := findConversation(t, boot.Conversations, "alice")
	if conv.UnreadCount != 0 {
		t.Fatalf("expected unread 0 while viewing, got %d", conv.UnreadCount)
	}
}

func TestUserJoinAndLeaveNotifyAdmins(t *testing.T) {
	st := newMemStore()
	hub := startHub(t, st)

	admin := joinAdmin(t, hub, "adm1")
	alice := joinUser(t, hub, "a1", "alice")

	ev := mustEvent(t, admin.Events, EventNewUser)
	if ev.Username != "alice" || ev.Room != "alice" {
		t.Fatalf("unexpected new-user event: %+v", ev)
	}
	if st.presenceCount() != 2 {
		t.Fatalf("expected 2 presence records, got %d", st.presenceCount())
	}

	hub.UnregisterClient(alice)

	ev = mustEvent(t, admin.Events, EventUserLeft)
	if ev.Username != "alice" {
		t.Fatalf("unexpected user-left event: %+v", ev)
	}
	if st.presenceCount() != 1 {
		t.Fatalf("expected 1 presence record after leave, got %d", st.presenceCount())
	}
}

func TestTypingRelayedByRole(t *testing.T) {
	st := newMemStore()
	hub := startHub(t, st)

	admin := joinAdmin(t, hub, "adm1")
	alice1 := joinUser(t, hub, "a1", "alice")
	alice2 := joinUser(t, hub, "a2", "alice")
	bob := joinUser(t, hub, "b1", "bob")

	alice1.Commands <- &Command{Kind: CommandTyping, IsTyping: true}
	ev := mustEvent(t, admin.Events, EventTyping)
	if ev.Username != "alice" || !ev.IsTyping || ev.Room != "alice" {
		t.Fatalf("unexpected typing event: %+v", ev)
	}

	admin.Commands <- &Command{Kind: CommandTyping, IsTyping: true, Target: "alice"}
	for _, tab := range []*Client{alice1, alice2} {
		ev := mustEvent(t, tab.Events, EventTyping)
		if ev.Username != AdminUsername || ev.Room != "alice" {
			t.Fatalf("unexpected typing event: %+v", ev)
		}
	}
	noEvent(t, bob.Events, EventTyping)

	if st.messageCount() != 0 {
		t.Fatalf("typing must never be persisted")
	}
}

func TestTypingThenImmediateDisconnect(t *testing.T) {
	st := newMemStore()
	hub := startHub(t, st)

	admin := joinAdmin(t, hub, "adm1")
	alice := joinUser(t, hub, "a1", "alice")

	alice.Commands <- &Command{Kind: CommandTyping, IsTyping: true}
	hub.UnregisterClient(alice)

	// Admin either sees the stale indicator or nothing; the departure
	// notification must arrive either way.
	mustEvent(t, admin.Events, EventUserLeft)
}

func TestRoleMismatchRejected(t *testing.T) {
	st := newMemStore()
	if _, err := st.UpsertUser(context.Background(), "bob", string(RoleAdmin)); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	hub := startHub(t, st)

	c := NewClient("c1", 32)
	hub.RegisterClient(c)
	c.Commands <- &Command{Kind: CommandJoin, Username: "bob", Role: RoleUser}

	ev := mustEvent(t, c.Events, EventError)
	if ev.Error == nil || ev.Error.Code != ErrCodeRoleMismatch {
		t.Fatalf("expected role_mismatch, got %+v", ev)
	}
}

func TestSecondJoinOnSameConnectionIgnored(t *testing.T) {
	st := newMemStore()
	hub := startHub(t, st)

	alice := joinUser(t, hub, "a1", "alice")
	alice.Commands <- &Command{Kind: CommandJoin, Username: "alice", Role: RoleUser}

	noEvent(t, alice.Events, EventUserJoined)
	noEvent(t, alice.Events, EventError)
}

func TestIndexRebuiltFromStoreOnStart(t *testing.T) {
	st := newMemStore()
	ctx := context.Background()
	seed := []*store.Message{
		{Room: "alice", Sender: "alice", Receiver: AdminUsername, Body: "old", CreatedAt: time.Now().Add(-time.Hour)},
		{Room: "alice", Sender: "alice", Receiver: AdminUsername, Body: "new", CreatedAt: time.Now().Add(-time.Minute)},
		{Room: "bob", Sender: AdminUsername, Receiver: "bob", Body: "hi bob", CreatedAt: time.Now()},
	}
	for _, msg := range seed {
		if err := st.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("seed message: %v", err)
		}
	}

	hub := startHub(t, st)
	boot := bootstrapOf(t, hub, "adm1")

	if len(boot.Conversations) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(boot.Conversations))
	}
	// bob has the most recent activity.
	if boot.Conversations[0].Username != "bob" {
		t.Fatalf("expected bob first, got %s", boot.Conversations[0].Username)
	}

	aliceConv := findConversation(t, boot.Conversations, "alice")
	if aliceConv.UnreadCount != 2 || aliceConv.LastMessage.Body != "new" {
		t.Fatalf("unexpected alice conversation: %+v", aliceConv)
	}
	bobConv := findConversation(t, boot.Conversations, "bob")
	if bobConv.UnreadCount != 0 {
		t.Fatalf("admin-sent messages must not count as unread: %+v", bobConv)
	}
}

func TestUserJoinCreatesZeroStateConversation(t *testing.T) {
	st := newMemStore()
	hub := startHub(t, st)

	joinUser(t, hub, "a1", "alice")

	boot := bootstrapOf(t, hub, "adm1")
	conv := findConversation(t, boot.Conversations, "alice")
	if conv.LastMessage != nil || conv.UnreadCount != 0 {
		t.Fatalf("expected zero-state entry, got %+v", conv)
	}
}

func TestHelpRequestBroadcastToAdmins(t *testing.T) {
	st := newMemStore()
	hub := startHub(t, st)

	admin := joinAdmin(t, hub, "adm1")
	hub.NotifyHelpRequest(&store.HelpRequest{
		ID:       "hr-1",
		Username: "alice",
		Room:     "alice",
		Message:  "stuck on checkout",
		Status:   store.HelpRequestPending,
	})

	ev := mustEvent(t, admin.Events, EventHelpRequest)
	if ev.HelpRequest == nil || ev.HelpRequest.ID != "hr-1" || ev.Username != "alice" {
		t.Fatalf("unexpected help request event: %+v", ev)
	}
}

func bootstrapOf(t *testing.T, hub *Hub, id string) *Event {
	t.Helper()

	c := NewClient(id, 32)
	hub.RegisterClient(c)
	c.Commands <- &Command{Kind: CommandJoin, Username: AdminUsername, Role: RoleAdmin}
	return mustEvent(t, c.Events, EventAdminJoined)
}

func findConversation(t *testing.T, conversations []Conversation, username string) Conversation {
	t.Helper()

	for _, conv := range conversations {
		if conv.Username == username {
			return conv
		}
	}
	t.Fatalf("conversation for %q not found in %+v", username, conversations)
	return Conversation{}
}
