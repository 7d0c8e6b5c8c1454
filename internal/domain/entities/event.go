package entities

import (
	"time"
)

// EventType tags a delivery event
type EventType string

const (
	EventConnected         EventType = "connected"
	EventUserMessage       EventType = "userMessage"
	EventStartGeneration   EventType = "startGeneration"
	EventLoadingStart      EventType = "loadingStart"
	EventLoadingEnd        EventType = "loadingEnd"
	EventAssistantChunk    EventType = "assistantChunk"
	EventAssistantComplete EventType = "assistantComplete"
	EventStopStreaming     EventType = "stopStreaming"
	EventDoneGeneration    EventType = "doneGeneration"
	EventEndTokens         EventType = "endTokens"
	EventPing              EventType = "ping"
	EventError             EventType = "error"
)

// Event is a transport-facing payload delivered to every live connection of a
// session. One struct covers all event kinds; fields not used by a kind stay
// empty and are omitted from the wire form. Chunk events carry the entire
// accumulated content so far, never a delta, so a client joining mid-stream
// can render from any single event.
type Event struct {
	Type           EventType `json:"type"`
	SessionKey     string    `json:"sessionKey,omitempty"`
	MessageID      string    `json:"messageId,omitempty"`
	ChatID         string    `json:"chatId,omitempty"`
	Role           string    `json:"role,omitempty"`
	Content        string    `json:"content,omitempty"`
	ParentID       *string   `json:"parentId,omitempty"`
	CurrentVersion int       `json:"currentVersion,omitempty"`
	TotalVersions  int       `json:"totalVersions,omitempty"`
	ResolveMessage *bool     `json:"resolveMessage,omitempty"`
	Exhausted      *bool     `json:"exhausted,omitempty"`
	Timestamp      int64     `json:"timestamp,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// NewConnectedEvent acknowledges a freshly registered connection
func NewConnectedEvent(sessionKey string) Event {
	return Event{Type: EventConnected, SessionKey: sessionKey}
}

// NewUserMessageEvent echoes a persisted user message to all connections
func NewUserMessageEvent(m *Message) Event {
	return Event{
		Type:           EventUserMessage,
		MessageID:      m.ID,
		ChatID:         m.ConversationID,
		Role:           string(m.Role),
		Content:        m.Content,
		ParentID:       m.ParentID,
		CurrentVersion: m.CurrentVersion,
		TotalVersions:  m.TotalVersions,
	}
}

// NewStartGenerationEvent announces that chunks for a message will follow
func NewStartGenerationEvent(chatID, messageID string) Event {
	return Event{Type: EventStartGeneration, ChatID: chatID, MessageID: messageID}
}

// NewLoadingStartEvent marks the beginning of a generation for a conversation
func NewLoadingStartEvent(chatID string) Event {
	return Event{Type: EventLoadingStart, ChatID: chatID}
}

// NewLoadingEndEvent marks the end of a generation for a conversation
func NewLoadingEndEvent(chatID string) Event {
	return Event{Type: EventLoadingEnd, ChatID: chatID}
}

// NewAssistantChunkEvent carries the accumulated content produced so far
func NewAssistantChunkEvent(m *Message, accumulated string) Event {
	resolve := false
	return Event{
		Type:           EventAssistantChunk,
		MessageID:      m.ID,
		ChatID:         m.ConversationID,
		Role:           string(m.Role),
		Content:        accumulated,
		ParentID:       m.ParentID,
		CurrentVersion: m.CurrentVersion,
		TotalVersions:  m.TotalVersions,
		ResolveMessage: &resolve,
	}
}

// NewAssistantCompleteEvent carries the final content and the quota-prompt flag
func NewAssistantCompleteEvent(m *Message, resolveMessage bool) Event {
	return Event{
		Type:           EventAssistantComplete,
		MessageID:      m.ID,
		ChatID:         m.ConversationID,
		Role:           string(m.Role),
		Content:        m.Content,
		ParentID:       m.ParentID,
		CurrentVersion: m.CurrentVersion,
		TotalVersions:  m.TotalVersions,
		ResolveMessage: &resolveMessage,
	}
}

// NewStopStreamingEvent is the terminal event of a stopped generation
func NewStopStreamingEvent(chatID, messageID string) Event {
	return Event{Type: EventStopStreaming, ChatID: chatID, MessageID: messageID}
}

// NewDoneGenerationEvent is the terminal event of a completed generation
func NewDoneGenerationEvent(chatID, messageID string) Event {
	return Event{Type: EventDoneGeneration, ChatID: chatID, MessageID: messageID}
}

// NewEndTokensEvent notifies the client about quota exhaustion state
func NewEndTokensEvent(exhausted bool) Event {
	return Event{Type: EventEndTokens, Exhausted: &exhausted}
}

// NewPingEvent is the liveness probe sent to a single connection
func NewPingEvent() Event {
	return Event{Type: EventPing, Timestamp: time.Now().UnixMilli()}
}

// NewErrorEvent reports an asynchronous generation failure to the session
func NewErrorEvent(chatID string, err error) Event {
	return Event{Type: EventError, ChatID: chatID, Error: err.Error()}
}
