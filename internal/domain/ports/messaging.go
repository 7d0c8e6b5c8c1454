package ports

import (
	"context"
	"fmt"
)

// MessageHandler defines a function type for handling incoming messages
type MessageHandler func(ctx context.Context, subject string, data []byte) error

// MessagingPort defines the interface for event bus operations
type MessagingPort interface {
	// Publish sends a message to the specified subject
	Publish(ctx context.Context, subject string, data []byte) error

	// PublishJSON publishes a JSON-serializable object to the subject
	PublishJSON(ctx context.Context, subject string, obj interface{}) error

	// Subscribe listens for messages on the specified subject
	Subscribe(ctx context.Context, subject string, handler MessageHandler) error

	// Unsubscribe stops listening to a subject
	Unsubscribe(ctx context.Context, subject string) error

	// Close closes the messaging connection
	Close() error

	// Health check
	Ping() error
}

// Standard subjects used across the system
const (
	// SubjectSessionEvent carries delivery events for one session key
	SubjectSessionEvent = "session.%s.event"

	// SubjectSessionEvents is the wildcard the hub subscribes to
	SubjectSessionEvents = "session.*.event"

	// SubjectSystemError carries asynchronous failures for observability
	SubjectSystemError = "system.error"
)

// SessionSubject formats the event subject for a session key
func SessionSubject(sessionKey string) string {
	return fmt.Sprintf(SubjectSessionEvent, sessionKey)
}
