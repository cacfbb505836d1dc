package core

import "errors"

// ErrAlreadyRegistered is returned when a connection is registered twice.
// This is a programming error and is treated as fatal to that connection.
var ErrAlreadyRegistered = errors.New("connection already registered")

// Entry is one (connection, identity) pair held by the registry.
type Entry struct {
	Client   *Client
	Identity Identity
}

// Registry exclusively owns the connection-to-identity mapping. It is not
// safe for concurrent use: the hub loop is its only caller, which keeps all
// reads atomic with respect to register/unregister without locking.
type Registry struct {
	entries map[*Client]Identity
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[*Client]Identity)}
}

// Register binds a connection to an identity. Siblings are allowed: there is
// no uniqueness constraint on username.
func (r *Registry) Register(c *Client, id Identity) error {
	if _, exists := r.entries[c]; exists {
		return ErrAlreadyRegistered
	}
	r.entries[c] = id
	return nil
}

// Unregister removes a connection. It is idempotent; removing an absent
// connection reports false. A removed connection is never resurrected.
func (r *Registry) Unregister(c *Client) bool {
	if _, exists := r.entries[c]; !exists {
		return false
	}
	delete(r.entries, c)
	return true
}

// Lookup returns the identity bound to a connection.
func (r *Registry) Lookup(c *Client) (Identity, bool) {
	id, ok := r.entries[c]
	return id, ok
}

// Find returns all entries whose identity matches the predicate. This is the
// sole mechanism used to compute fan-out sets.
func (r *Registry) Find(pred func(Identity) bool) []Entry {
	var matched []Entry
	for c, id := range r.entries {
		if pred(id) {
			matched = append(matched, Entry{Client: c, Identity: id})
		}
	}
	return matched
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	return len(r.entries)
}
