package entities

import (
	"time"
	"unicode/utf8"
)

// MaxTitleLength caps how many runes of the first user message become the title
const MaxTitleLength = 255

// Conversation represents a chat conversation owned by a principal.
// CurrentNodeID is the tip of the currently active branch; walking parent
// pointers from it yields the linear history shown to the user.
type Conversation struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Owner         Principal `json:"owner"`
	CurrentNodeID *string   `json:"current_node_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewConversation creates a new conversation for the given owner
func NewConversation(owner Principal, title string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:        generateID(),
		Title:     TitleFromContent(title),
		Owner:     owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SetCurrentNode moves the active-branch tip to the given message ID
func (c *Conversation) SetCurrentNode(messageID string) {
	c.CurrentNodeID = &messageID
	c.UpdatedAt = time.Now().UTC()
}

// SetTitle updates the conversation title
func (c *Conversation) SetTitle(title string) {
	c.Title = TitleFromContent(title)
	c.UpdatedAt = time.Now().UTC()
}

// OwnedBy reports whether the conversation belongs to the given principal
func (c *Conversation) OwnedBy(p Principal) bool {
	return c.Owner.Kind == p.Kind && c.Owner.Key == p.Key
}

// TitleFromContent derives a display title from message content,
// truncating past MaxTitleLength runes
func TitleFromContent(content string) string {
	if utf8.RuneCountInString(content) <= MaxTitleLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:MaxTitleLength])
}
