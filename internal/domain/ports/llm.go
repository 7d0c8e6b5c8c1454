package ports

import (
	"context"

	"github.com/username/branchtalk/internal/domain/entities"
)

// ChatTurn is one ordered role/content pair of the generation context
type ChatTurn struct {
	Role    entities.MessageRole `json:"role"`
	Content string               `json:"content"`
}

// LLMPort defines the interface to the external completion backend.
// The contract is a single blocking request/response; progressive delivery is
// produced locally by chunking the returned text, so no streaming is required
// from the backend.
type LLMPort interface {
	// Complete returns the full assistant text for the given context.
	// Failures map to the domain taxonomy: entities.ErrUpstream for backend
	// error payloads, entities.ErrEmptyResponse for a blank completion,
	// entities.ErrTransport for network failures. No retries are performed.
	Complete(ctx context.Context, turns []ChatTurn) (string, error)

	// Health check
	Ping(ctx context.Context) error
}
