package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/username/branchtalk/internal/domain/entities"
	"github.com/username/branchtalk/internal/domain/ports"
)

// Tree implements the conversation-tree operations: appending versioned
// siblings, walking the active branch, switching branches, and regeneration.
// Single-step mutations are atomic in the storage layer; SwitchBranch and
// Regenerate span several storage calls, so mutations are additionally
// serialized per conversation.
type Tree struct {
	storage ports.StoragePort

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTree creates a new conversation tree service
func NewTree(storage ports.StoragePort) *Tree {
	return &Tree{
		storage: storage,
		locks:   make(map[string]*sync.Mutex),
	}
}

// lockConversation serializes tree mutations for one conversation. Without
// it two interleaved SwitchBranch calls could each re-point a different
// selector and leave the tip unreachable through active-child links.
func (t *Tree) lockConversation(id string) func() {
	t.mu.Lock()
	l, ok := t.locks[id]
	if !ok {
		l = &sync.Mutex{}
		t.locks[id] = l
	}
	t.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Append creates a new message under the given parent (nil for a root
// message). Sibling version numbers, the parent's active-child pointer and
// the conversation tip are maintained atomically by the storage layer.
func (t *Tree) Append(ctx context.Context, conv *entities.Conversation, parent *entities.Message, role entities.MessageRole, content string) (*entities.Message, error) {
	defer t.lockConversation(conv.ID)()

	var parentID *string
	if parent != nil {
		if parent.ConversationID != conv.ID {
			return nil, fmt.Errorf("parent %s: %w", parent.ID, entities.ErrNotFound)
		}
		parentID = &parent.ID
	}

	msg := entities.NewMessage(conv.ID, role, content, parentID)
	if err := t.storage.AppendMessage(ctx, conv, msg); err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	if parent != nil {
		parent.SetActiveChild(msg.ID)
	}

	return msg, nil
}

// ActiveBranch returns the root-to-tip path of the currently active branch,
// in chronological order. An empty conversation yields an empty branch.
func (t *Tree) ActiveBranch(ctx context.Context, conv *entities.Conversation) ([]*entities.Message, error) {
	if conv.CurrentNodeID == nil {
		return nil, nil
	}

	index, err := t.loadIndex(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	return walkToRoot(index, *conv.CurrentNodeID)
}

// BranchForReplyContext returns the path from the root down to the given
// message inclusive. It is the generation context when replying to an
// arbitrary historical node instead of the conversation tip.
func (t *Tree) BranchForReplyContext(ctx context.Context, message *entities.Message) ([]*entities.Message, error) {
	index, err := t.loadIndex(ctx, message.ConversationID)
	if err != nil {
		return nil, err
	}

	return walkToRoot(index, message.ID)
}

// SwitchBranch makes target the selected sibling under its parent, then
// follows active-child pointers forward to whichever leaf was last active
// below it and moves the conversation tip there. Version bookkeeping is not
// touched. Returns the resulting active branch.
func (t *Tree) SwitchBranch(ctx context.Context, conv *entities.Conversation, target *entities.Message) ([]*entities.Message, error) {
	if target.ConversationID != conv.ID {
		return nil, fmt.Errorf("message %s: %w", target.ID, entities.ErrNotFound)
	}

	defer t.lockConversation(conv.ID)()

	index, err := t.loadIndex(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	if _, ok := index[target.ID]; !ok {
		return nil, fmt.Errorf("message %s: %w", target.ID, entities.ErrNotFound)
	}
	target = index[target.ID]

	// Re-point the parent's selector; a root target is a no-op.
	if target.ParentID != nil {
		parent, ok := index[*target.ParentID]
		if !ok {
			return nil, fmt.Errorf("parent %s: %w", *target.ParentID, entities.ErrNotFound)
		}
		if parent.ActiveChildID == nil || *parent.ActiveChildID != target.ID {
			parent.SetActiveChild(target.ID)
			if err := t.storage.UpdateMessage(ctx, parent); err != nil {
				return nil, fmt.Errorf("failed to update active child: %w", err)
			}
		}
	}

	// Forward walk to the leaf of the sub-branch last active under target.
	leaf := target
	seen := map[string]bool{leaf.ID: true}
	for leaf.ActiveChildID != nil {
		next, ok := index[*leaf.ActiveChildID]
		if !ok || seen[next.ID] {
			break
		}
		seen[next.ID] = true
		leaf = next
	}

	conv.SetCurrentNode(leaf.ID)
	if err := t.storage.UpdateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to update conversation tip: %w", err)
	}

	return walkToRoot(index, leaf.ID)
}

// Regenerate prepares an assistant message for a fresh completion: every
// message of the conversation newer than it is deleted, its version counter
// is bumped, and the conversation tip moves back to it. The content stays
// stale until the new generation overwrites it in place. This deliberately
// discards the old future instead of branching.
func (t *Tree) Regenerate(ctx context.Context, conv *entities.Conversation, message *entities.Message) (*entities.Message, error) {
	if message.ConversationID != conv.ID {
		return nil, fmt.Errorf("message %s: %w", message.ID, entities.ErrNotFound)
	}
	if !message.IsFromAssistant() {
		return nil, fmt.Errorf("cannot regenerate %s message: %w", message.Role, entities.ErrInvalidRole)
	}

	defer t.lockConversation(conv.ID)()

	if err := t.storage.DeleteMessagesAfter(ctx, conv.ID, message.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to delete later messages: %w", err)
	}

	message.CurrentVersion++
	if message.CurrentVersion > message.TotalVersions {
		message.TotalVersions = message.CurrentVersion
	}
	message.ClearActiveChild()
	if err := t.storage.UpdateMessage(ctx, message); err != nil {
		return nil, fmt.Errorf("failed to bump message version: %w", err)
	}

	conv.SetCurrentNode(message.ID)
	if err := t.storage.UpdateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to update conversation tip: %w", err)
	}

	return message, nil
}

// loadIndex fetches all messages of a conversation keyed by ID
func (t *Tree) loadIndex(ctx context.Context, conversationID string) (map[string]*entities.Message, error) {
	messages, err := t.storage.GetMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	index := make(map[string]*entities.Message, len(messages))
	for _, m := range messages {
		index[m.ID] = m
	}
	return index, nil
}

// walkToRoot follows parent pointers from the given message up to the root
// and returns the path in root-first order
func walkToRoot(index map[string]*entities.Message, fromID string) ([]*entities.Message, error) {
	node, ok := index[fromID]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", fromID, entities.ErrNotFound)
	}

	var path []*entities.Message
	seen := make(map[string]bool)
	for node != nil {
		if seen[node.ID] {
			return nil, fmt.Errorf("cycle detected at message %s", node.ID)
		}
		seen[node.ID] = true
		path = append(path, node)

		if node.ParentID == nil {
			break
		}
		parent, ok := index[*node.ParentID]
		if !ok {
			return nil, fmt.Errorf("parent %s: %w", *node.ParentID, entities.ErrNotFound)
		}
		node = parent
	}

	// Reverse to root-first chronological order.
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}
