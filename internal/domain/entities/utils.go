package entities

import (
	"github.com/google/uuid"
)

// generateID creates a unique identifier for entities and session keys
func generateID() string {
	return uuid.NewString()
}

// NewSessionKey creates an opaque key grouping the live connections of one
// logical client
func NewSessionKey() string {
	return uuid.NewString()
}
