package ports

import (
	"context"
	"time"

	"github.com/username/branchtalk/internal/domain/entities"
)

// StoragePort defines the interface for persistent storage operations
type StoragePort interface {
	// AppendMessage persists a new message as a single atomic unit: it
	// computes the sibling count for the message's parent/role, renumbers
	// current_version/total_versions across the sibling set, points the
	// parent's active_child at the new message, and moves the conversation's
	// current_node to it. Concurrent appends under the same parent serialize
	// against each other. The version fields and the passed conversation are
	// updated in place on success.
	AppendMessage(ctx context.Context, conversation *entities.Conversation, message *entities.Message) error

	// Message operations
	GetMessage(ctx context.Context, id string) (*entities.Message, error)
	GetMessages(ctx context.Context, conversationID string) ([]*entities.Message, error)
	UpdateMessage(ctx context.Context, message *entities.Message) error

	// DeleteMessagesAfter removes all messages of the conversation strictly
	// newer than the given timestamp, atomically
	DeleteMessagesAfter(ctx context.Context, conversationID string, after time.Time) error

	// Conversation operations
	SaveConversation(ctx context.Context, conversation *entities.Conversation) error
	GetConversation(ctx context.Context, id string) (*entities.Conversation, error)
	GetConversationsByOwner(ctx context.Context, owner entities.Principal, limit int) ([]*entities.Conversation, error)
	UpdateConversation(ctx context.Context, conversation *entities.Conversation) error
	DeleteConversation(ctx context.Context, id string) error

	// Health check
	Ping(ctx context.Context) error

	// Migration support
	Migrate(ctx context.Context) error
}
