package core

import "github.com/google/uuid"

// NewID returns a random identifier for tasks, profiles and log entries.
func NewID() string {
	return uuid.NewString()
}
