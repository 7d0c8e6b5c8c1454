package entities

import (
	"time"
)

// MessageRole represents the role of a message in a conversation
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message represents a single turn in a conversation tree. Messages form a
// tree through ParentID; sibling messages under the same parent with the same
// role are versions of one another, numbered 1..TotalVersions. ActiveChildID
// records which child is currently selected and is the only place selection
// state lives.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Role           MessageRole `json:"role"`
	Content        string      `json:"content"`
	ParentID       *string     `json:"parent_id,omitempty"`
	ActiveChildID  *string     `json:"active_child_id,omitempty"`
	CurrentVersion int         `json:"current_version"`
	TotalVersions  int         `json:"total_versions"`
	CreatedAt      time.Time   `json:"created_at"`
}

// NewMessage creates a new message with generated ID and timestamp.
// Version bookkeeping is filled in by the storage layer when the message is
// appended, so a fresh message starts as version 1 of 1.
func NewMessage(conversationID string, role MessageRole, content string, parentID *string) *Message {
	return &Message{
		ID:             generateID(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		ParentID:       parentID,
		CurrentVersion: 1,
		TotalVersions:  1,
		CreatedAt:      time.Now().UTC(),
	}
}

// IsRoot returns true if the message has no parent
func (m *Message) IsRoot() bool {
	return m.ParentID == nil
}

// IsFromUser returns true if the message is from a user
func (m *Message) IsFromUser() bool {
	return m.Role == RoleUser
}

// IsFromAssistant returns true if the message is from an assistant
func (m *Message) IsFromAssistant() bool {
	return m.Role == RoleAssistant
}

// SetActiveChild points the selection marker at the given child ID
func (m *Message) SetActiveChild(childID string) {
	m.ActiveChildID = &childID
}

// ClearActiveChild removes the selection marker
func (m *Message) ClearActiveChild() {
	m.ActiveChildID = nil
}
