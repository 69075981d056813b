package util

import "github.com/google/uuid"

// NewID returns a fresh entity identifier.
func NewID() string {
	return uuid.NewString()
}
