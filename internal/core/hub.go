package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/deskchat/deskchat-server/internal/store"
	"github.com/deskchat/deskchat-server/internal/utils"
)

// Hub owns the connection registry and the conversation index and processes
// every inbound event on a single loop. Strict serialization is the
// concurrency model: no other goroutine ever touches either structure.
type Hub struct {
	store        store.Store
	log          zerolog.Logger
	registry     *Registry
	index        *ConversationIndex
	historyLimit int

	register     chan *Client
	unregister   chan *Client
	inbound      chan clientCommand
	helpRequests chan *store.HelpRequest

	pumps  map[*Client]chan struct{}
	tokens map[*Client]string

	// adminRoom is the room admin is presumed to be viewing. Set by admin
	// mark-read and admin sends, cleared when the last admin tab closes.
	adminRoom string
}

type clientCommand struct {
	client *Client
	cmd    *Command
}

// NewHub constructs a hub. The store may be nil, in which case messages are
// routed without durability (used by isolated tests).
func NewHub(st store.Store, logger *zerolog.Logger, historyLimit int) *Hub {
	lg := zerolog.Nop()
	if logger != nil {
		lg = *logger
	}
	return &Hub{
		store:        st,
		log:          lg,
		registry:     NewRegistry(),
		index:        NewConversationIndex(),
		historyLimit: historyLimit,
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		inbound:      make(chan clientCommand),
		helpRequests: make(chan *store.HelpRequest, 8),
		pumps:        make(map[*Client]chan struct{}),
		tokens:       make(map[*Client]string),
	}
}

// RegisterClient hands a new transport connection to the hub loop.
func (h *Hub) RegisterClient(c *Client) {
	h.register <- c
}

// UnregisterClient tells the hub loop the transport connection closed.
func (h *Hub) UnregisterClient(c *Client) {
	h.unregister <- c
}

// NotifyHelpRequest fans a freshly created help request out to all admin
// connections. Safe to call from any goroutine.
func (h *Hub) NotifyHelpRequest(hr *store.HelpRequest) {
	h.helpRequests <- hr
}

// Run processes events until the context is cancelled. The conversation
// index is rebuilt from persisted messages before the first event.
func (h *Hub) Run(ctx context.Context) {
	h.rebuildIndex(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.addClient(ctx, c)
		case c := <-h.unregister:
			h.dropClient(ctx, c)
		case cc := <-h.inbound:
			h.handleCommand(ctx, cc.client, cc.cmd)
		case hr := <-h.helpRequests:
			h.broadcastHelpRequest(hr)
		}
	}
}

func (h *Hub) rebuildIndex(ctx context.Context) {
	if h.store == nil {
		return
	}
	msgs, err := h.store.ListMessagesInvolving(ctx, AdminUsername)
	if err != nil {
		h.log.Error().Err(err).Msg("rebuild conversation index")
		return
	}
	h.index.Rebuild(msgs)
	h.log.Info().Int("conversations", len(h.index.entries)).Msg("conversation index rebuilt")
}

// addClient starts a pump that feeds the client's commands into the hub
// loop. The client is not yet in the registry; identity arrives with join.
func (h *Hub) addClient(ctx context.Context, c *Client) {
	if _, exists := h.pumps[c]; exists {
		return
	}
	done := make(chan struct{})
	h.pumps[c] = done

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case cmd, ok := <-c.Commands:
				if !ok {
					return
				}
				select {
				case h.inbound <- clientCommand{client: c, cmd: cmd}:
				case <-done:
					return
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}

// dropClient is the single close path: stop the pump, unregister, remove
// presence, and tell admins when a user went away.
func (h *Hub) dropClient(ctx context.Context, c *Client) {
	if done, ok := h.pumps[c]; ok {
		close(done)
		delete(h.pumps, c)
	}

	id, ok := h.registry.Lookup(c)
	if !ok {
		return
	}
	h.registry.Unregister(c)

	if token, ok := h.tokens[c]; ok {
		delete(h.tokens, c)
		if h.store != nil {
			if err := h.store.RemovePresence(ctx, token); err != nil {
				h.log.Error().Err(err).Str("token", token).Msg("remove presence")
			}
		}
	}

	switch id.Role {
	case RoleUser:
		h.broadcastToAdmins(&Event{Kind: EventUserLeft, Username: id.Username, Room: id.Room})
	case RoleAdmin:
		if len(h.registry.Find(Identity.IsAdmin)) == 0 {
			h.adminRoom = ""
		}
	}

	h.log.Debug().Str("client_id", c.ID).Str("username", id.Username).Msg("connection closed")
}

func (h *Hub) handleCommand(ctx context.Context, c *Client, cmd *Command) {
	switch cmd.Kind {
	case CommandJoin:
		h.handleJoin(ctx, c, cmd)
	case CommandSendMessage:
		h.handleMessage(ctx, c, cmd)
	case CommandTyping:
		h.handleTyping(c, cmd)
	case CommandMarkRead:
		h.handleMarkRead(ctx, c, cmd)
	default:
		h.log.Warn().Int("kind", int(cmd.Kind)).Msg("unhandled command kind")
	}
}

func (h *Hub) handleJoin(ctx context.Context, c *Client, cmd *Command) {
	if _, joined := h.registry.Lookup(c); joined {
		h.log.Warn().Str("client_id", c.ID).Msg("join on already-joined connection ignored")
		return
	}

	username := cmd.Username
	role := cmd.Role
	if role == RoleAdmin {
		// Admin is a single shared identity; the sentinel name keeps
		// routing and the index consistent.
		username = AdminUsername
	}
	if username == "" || (role != RoleAdmin && role != RoleUser) {
		h.send(c, errorEvent(ErrCodeBadRequest, "username and role are required"))
		return
	}
	if role == RoleUser && username == AdminUsername {
		h.send(c, errorEvent(ErrCodeBadRequest, "username is reserved"))
		return
	}

	room := username
	if role == RoleAdmin {
		room = AdminRoom
	}

	if h.store != nil {
		// The first join pins the role; a later join claiming the other
		// role is rejected rather than silently re-asserted.
		if existing, err := h.store.GetUserByUsername(ctx, username); err == nil && existing.Role != string(role) {
			h.send(c, errorEvent(ErrCodeRoleMismatch, "username is already registered with a different role"))
			return
		}
		if _, err := h.store.UpsertUser(ctx, username, string(role)); err != nil {
			h.log.Error().Err(err).Str("username", username).Msg("upsert user")
			h.send(c, errorEvent(ErrCodePersistenceFailure, "join was not recorded"))
			return
		}
	}

	id := Identity{Username: username, Role: role, Room: room}
	if err := h.registry.Register(c, id); err != nil {
		h.log.Error().Err(err).Str("client_id", c.ID).Msg("register connection")
		h.send(c, errorEvent(ErrCodeBadRequest, "connection already registered"))
		return
	}

	token := utils.NewID()
	h.tokens[c] = token
	if h.store != nil {
		p := &store.Presence{Token: token, Username: username, Room: room, Role: string(role), JoinedAt: time.Now().UTC()}
		if err := h.store.AddPresence(ctx, p); err != nil {
			h.log.Error().Err(err).Str("username", username).Msg("add presence")
		}
	}

	switch role {
	case RoleAdmin:
		h.send(c, &Event{
			Kind:          EventAdminJoined,
			Username:      username,
			Room:          room,
			Conversations: h.index.Snapshot(),
			Presence:      h.listPresence(ctx),
		})
	case RoleUser:
		h.index.Touch(username)
		h.send(c, &Event{
			Kind:     EventUserJoined,
			Username: username,
			Room:     room,
			History:  h.listHistory(ctx, username),
		})
		h.broadcastToAdmins(&Event{Kind: EventNewUser, Username: username, Room: room})
	}

	h.log.Info().Str("client_id", c.ID).Str("username", username).Str("role", string(role)).Msg("connection joined")
}

// handleMessage is the routing state machine: resolve sender, compute
// receiver, persist, fan out, update the index. Persistence is the
// durability boundary; a failed write is acknowledged to the sender and
// delivered to nobody.
func (h *Hub) handleMessage(ctx context.Context, c *Client, cmd *Command) {
	id, ok := h.registry.Lookup(c)
	if !ok {
		h.log.Debug().Str("client_id", c.ID).Msg("message from unidentified connection dropped")
		h.send(c, errorEvent(ErrCodeUnidentified, "join before sending messages"))
		return
	}

	var receiver, room string
	if id.IsAdmin() {
		if cmd.Target == "" {
			h.log.Debug().Str("client_id", c.ID).Msg("admin message without target dropped")
			h.send(c, errorEvent(ErrCodeMissingTarget, "admin messages require a target username"))
			return
		}
		receiver, room = cmd.Target, cmd.Target
		// Sending into a room implies admin is viewing it.
		h.adminRoom = room
	} else {
		receiver, room = AdminUsername, id.Username
	}

	msg := &store.Message{
		Room:      room,
		Sender:    id.Username,
		Receiver:  receiver,
		Body:      cmd.Body,
		CreatedAt: time.Now().UTC(),
	}
	if h.store != nil {
		if err := h.store.SaveMessage(ctx, msg); err != nil {
			h.log.Error().Err(err).Str("room", room).Msg("save message")
			h.send(c, errorEvent(ErrCodePersistenceFailure, "message was not saved"))
			return
		}
	}

	sender := id.Username
	var targets []Entry
	if id.IsAdmin() {
		// Target user's sibling tabs plus admin's own tabs (self-echo).
		targets = h.registry.Find(func(other Identity) bool {
			return other.Username == cmd.Target || (other.IsAdmin() && other.Username == sender)
		})
	} else {
		// Every admin tab plus the sender's own sibling tabs.
		targets = h.registry.Find(func(other Identity) bool {
			return other.IsAdmin() || other.Username == sender
		})
	}

	ev := &Event{Kind: EventMessage, Room: room, Message: msg}
	for _, entry := range targets {
		h.send(entry.Client, ev)
	}

	h.index.Apply(msg, h.adminRoom == room)
}

// handleTyping relays the indicator without persisting anything. Directional
// by role: user indicators go to all admin tabs, admin indicators go to the
// explicit target's tabs.
func (h *Hub) handleTyping(c *Client, cmd *Command) {
	id, ok := h.registry.Lookup(c)
	if !ok {
		h.log.Debug().Str("client_id", c.ID).Msg("typing from unidentified connection dropped")
		return
	}

	if id.IsAdmin() {
		if cmd.Target == "" {
			h.log.Debug().Str("client_id", c.ID).Msg("admin typing without target dropped")
			return
		}
		ev := &Event{Kind: EventTyping, Username: AdminUsername, Room: cmd.Target, IsTyping: cmd.IsTyping}
		for _, entry := range h.registry.Find(func(other Identity) bool { return other.Username == cmd.Target }) {
			h.send(entry.Client, ev)
		}
		return
	}

	h.broadcastToAdmins(&Event{Kind: EventTyping, Username: id.Username, Room: id.Room, IsTyping: cmd.IsTyping})
}

func (h *Hub) handleMarkRead(ctx context.Context, c *Client, cmd *Command) {
	id, ok := h.registry.Lookup(c)
	if !ok {
		h.log.Debug().Str("client_id", c.ID).Msg("mark-read from unidentified connection dropped")
		return
	}

	room := cmd.Room
	if room == "" && !id.IsAdmin() {
		room = id.Room
	}
	if room == "" {
		h.log.Debug().Str("client_id", c.ID).Msg("mark-read without room dropped")
		return
	}

	if h.store != nil {
		if err := h.store.MarkRead(ctx, room, id.Username); err != nil {
			h.log.Error().Err(err).Str("room", room).Msg("mark read")
			h.send(c, errorEvent(ErrCodePersistenceFailure, "mark-read was not recorded"))
			return
		}
	}

	if id.IsAdmin() {
		h.index.MarkRead(room)
		h.adminRoom = room
	}
}

func (h *Hub) broadcastHelpRequest(hr *store.HelpRequest) {
	h.index.Touch(hr.Username)
	h.broadcastToAdmins(&Event{Kind: EventHelpRequest, Username: hr.Username, Room: hr.Room, HelpRequest: hr})
}

func (h *Hub) broadcastToAdmins(ev *Event) {
	for _, entry := range h.registry.Find(Identity.IsAdmin) {
		h.send(entry.Client, ev)
	}
}

// send is fire-and-forget: a slow consumer loses the event and recovers via
// history on its next join.
func (h *Hub) send(c *Client, ev *Event) {
	select {
	case c.Events <- ev:
	default:
		h.log.Debug().Str("client_id", c.ID).Msg("dropping event for slow consumer")
	}
}

func (h *Hub) listPresence(ctx context.Context) []*store.Presence {
	if h.store == nil {
		return nil
	}
	records, err := h.store.ListPresence(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("list presence")
		return nil
	}
	return records
}

func (h *Hub) listHistory(ctx context.Context, username string) []*store.Message {
	if h.store == nil {
		return nil
	}
	msgs, err := h.store.ListMessagesBetween(ctx, username, AdminUsername, h.historyLimit)
	if err != nil {
		h.log.Error().Err(err).Str("username", username).Msg("list history")
		return nil
	}
	return msgs
}

func errorEvent(code, msg string) *Event {
	return &Event{Kind: EventError, Error: coreError(code, msg)}
}
