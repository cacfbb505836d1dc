package core

// Client is one live transport connection as seen by the core layer.
// Identity is not part of the client; it is bound in the registry when the
// connection joins.
type Client struct {
	ID       string
	Commands chan *Command
	Events   chan *Event
}

// NewClient constructs a client with channels buffered to the given size.
func NewClient(id string, buffer int) *Client {
	if buffer <= 0 {
		buffer = 16
	}
	return &Client{
		ID:       id,
		Commands: make(chan *Command, buffer),
		Events:   make(chan *Event, buffer),
	}
}
