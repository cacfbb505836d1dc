package core

// CommandKind describes what the connection wants to do.
type CommandKind int

const (
	// CommandJoin binds an identity to the connection and loads bootstrap state.
	CommandJoin CommandKind = iota
	// CommandSendMessage persists and routes a chat message.
	CommandSendMessage
	// CommandTyping relays a transient typing indicator. Never persisted.
	CommandTyping
	// CommandMarkRead marks all messages in a room addressed to the sender as read.
	CommandMarkRead
)

// Command represents an action requested by a connection.
type Command struct {
	Kind CommandKind

	// Join fields.
	Username string
	Role     Role

	// Target is the explicit recipient username on admin-originated
	// message and typing commands.
	Target string

	// Body is the message text.
	Body string

	// IsTyping carries the typing indicator state.
	IsTyping bool

	// Room scopes a mark-read command.
	Room string
}
