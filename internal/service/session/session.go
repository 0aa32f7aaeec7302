package session

import "github.com/google/uuid"

// NewID returns a fresh media session id.
func NewID() string {
	return "ms-" + uuid.NewString()
}

// NewConnectionID returns a fresh socket connection id.
func NewConnectionID() string {
	return "conn-" + uuid.NewString()
}
