package utils

import "github.com/google/uuid"

// NewID returns a unique identifier for connections, presence tokens and
// help requests.
func NewID() string {
	return uuid.NewString()
}
