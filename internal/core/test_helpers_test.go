package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/deskchat/deskchat-server/internal/store"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("expected event kind %v not received", kind)
			return nil
		}
	}
}

// waitFor polls until the condition holds.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

// noEvent asserts that no event of the given kind arrives within the window.
// Other kinds are discarded.
func noEvent(t *testing.T, ch <-chan *Event, kind EventKind) {
	t.Helper()

	deadline := time.After(150 * time.Millisecond)
	for {
		select {
		case ev := <-ch:
			if ev != nil && ev.Kind == kind {
				t.Fatalf("unexpected event: %+v", ev)
			}
		case <-deadline:
			return
		}
	}
}

func startHub(t *testing.T, st store.Store) *Hub {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(st, nil, 0)
	go hub.Run(ctx)
	return hub
}

func joinUser(t *testing.T, hub *Hub, id, username string) *Client {
	t.Helper()

	c := NewClient(id, 32)
	hub.RegisterClient(c)
	c.Commands <- &Command{Kind: CommandJoin, Username: username, Role: RoleUser}
	mustEvent(t, c.Events, EventUserJoined)
	return c
}

func joinAdmin(t *testing.T, hub *Hub, id string) *Client {
	t.Helper()

	c := NewClient(id, 32)
	hub.RegisterClient(c)
	c.Commands <- &Command{Kind: CommandJoin, Username: AdminUsername, Role: RoleAdmin}
	mustEvent(t, c.Events, EventAdminJoined)
	return c
}

// memStore is an in-memory store.Store for isolated hub tests.
type memStore struct {
	mu        sync.Mutex
	nextID    int64
	messages  []*store.Message
	users     map[string]*store.User
	presence  map[string]*store.Presence
	requests  []*store.HelpRequest
	failSaves bool
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[string]*store.User),
		presence: make(map[string]*store.Presence),
	}
}

func (m *memStore) UpsertUser(_ context.Context, username, role string) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[username]; ok {
		copied := *u
		return &copied, nil
	}
	m.nextID++
	u := &store.User{ID: m.nextID, Username: username, Role: role, CreatedAt: time.Now()}
	m.users[username] = u
	copied := *u
	return &copied, nil
}

func (m *memStore) GetUserByUsername(_ context.Context, username string) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return nil, fmt.Errorf("user %q: %w", username, store.ErrNotFound)
	}
	copied := *u
	return &copied, nil
}

func (m *memStore) SaveMessage(_ context.Context, msg *store.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSaves {
		return errors.New("disk full")
	}
	m.nextID++
	msg.ID = m.nextID
	copied := *msg
	m.messages = append(m.messages, &copied)
	return nil
}

func (m *memStore) ListMessagesForRoom(_ context.Context, room string, limit int) ([]*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Message
	for _, msg := range m.messages {
		if msg.Room == room {
			copied := *msg
			out = append(out, &copied)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) ListMessagesBetween(_ context.Context, a, b string, limit int) ([]*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Message
	for _, msg := range m.messages {
		if (msg.Sender == a && msg.Receiver == b) || (msg.Sender == b && msg.Receiver == a) {
			copied := *msg
			out = append(out, &copied)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) ListMessagesInvolving(_ context.Context, username string) ([]*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Message
	for _, msg := range m.messages {
		if msg.Sender == username || msg.Receiver == username {
			copied := *msg
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memStore) MarkRead(_ context.Context, room, recipient string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.Room == room && msg.Receiver == recipient {
			msg.IsRead = true
		}
	}
	return nil
}

func (m *memStore) AddPresence(_ context.Context, p *store.Presence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *p
	m.presence[p.Token] = &copied
	return nil
}

func (m *memStore) RemovePresence(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.presence, token)
	return nil
}

func (m *memStore) ListPresence(_ context.Context) ([]*store.Presence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Presence
	for _, p := range m.presence {
		copied := *p
		out = append(out, &copied)
	}
	return out, nil
}

func (m *memStore) CreateHelpRequest(_ context.Context, hr *store.HelpRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *hr
	m.requests = append(m.requests, &copied)
	return nil
}

func (m *memStore) ListHelpRequests(_ context.Context) ([]*store.HelpRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*store.HelpRequest, 0, len(m.requests))
	for i := len(m.requests) - 1; i >= 0; i-- {
		copied := *m.requests[i]
		out = append(out, &copied)
	}
	return out, nil
}

func (m *memStore) UpdateHelpRequestStatus(_ context.Context, id string, status store.HelpRequestStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, hr := range m.requests {
		if hr.ID == id {
			hr.Status = status
			return nil
		}
	}
	return fmt.Errorf("help request %q: %w", id, store.ErrNotFound)
}

func (m *memStore) Close() error { return nil }

func (m *memStore) messageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

func (m *memStore) presenceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.presence)
}

func (m *memStore) allMessages() []*store.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*store.Message, 0, len(m.messages))
	for _, msg := range m.messages {
		copied := *msg
		out = append(out, &copied)
	}
	return out
}
