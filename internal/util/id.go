package util

import "github.com/google/uuid"

// NewID returns a random identifier for storage keys and request traces.
func NewID() string {
	return uuid.NewString()
}
