package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/username/branchtalk/internal/domain/entities"
	"github.com/username/branchtalk/internal/domain/ports"
)

// memStorage is an in-memory StoragePort mirroring the adapter's versioning
// semantics, used by the service tests.
type memStorage struct {
	mu            sync.Mutex
	conversations map[string]*entities.Conversation
	messages      map[string]*entities.Message
	seq           map[string]int
	nextSeq       int
}

func newMemStorage() *memStorage {
	return &memStorage{
		conversations: make(map[string]*entities.Conversation),
		messages:      make(map[string]*entities.Message),
		seq:           make(map[string]int),
	}
}

func copyMessage(m *entities.Message) *entities.Message {
	c := *m
	if m.ParentID != nil {
		p := *m.ParentID
		c.ParentID = &p
	}
	if m.ActiveChildID != nil {
		a := *m.ActiveChildID
		c.ActiveChildID = &a
	}
	return &c
}

func copyConversation(c *entities.Conversation) *entities.Conversation {
	cp := *c
	if c.CurrentNodeID != nil {
		n := *c.CurrentNodeID
		cp.CurrentNodeID = &n
	}
	return &cp
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *memStorage) AppendMessage(ctx context.Context, conversation *entities.Conversation, message *entities.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	siblings := 0
	for _, m := range s.messages {
		if m.ConversationID == message.ConversationID && m.Role == message.Role && sameParent(m.ParentID, message.ParentID) {
			siblings++
		}
	}

	version := siblings + 1
	message.CurrentVersion = version
	message.TotalVersions = version
	for _, m := range s.messages {
		if m.ConversationID == message.ConversationID && m.Role == message.Role && sameParent(m.ParentID, message.ParentID) {
			m.TotalVersions = version
		}
	}

	s.messages[message.ID] = copyMessage(message)
	s.nextSeq++
	s.seq[message.ID] = s.nextSeq

	if message.ParentID != nil {
		if parent, ok := s.messages[*message.ParentID]; ok {
			parent.SetActiveChild(message.ID)
		}
	}

	conversation.CurrentNodeID = &message.ID
	conversation.UpdatedAt = time.Now().UTC()
	s.conversations[conversation.ID] = copyConversation(conversation)
	return nil
}

func (s *memStorage) GetMessage(ctx context.Context, id string) (*entities.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, entities.ErrNotFound)
	}
	return copyMessage(m), nil
}

func (s *memStorage) GetMessages(ctx context.Context, conversationID string) ([]*entities.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*entities.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, copyMessage(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.seq[out[i].ID] < s.seq[out[j].ID] })
	return out, nil
}

func (s *memStorage) UpdateMessage(ctx context.Context, message *entities.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[message.ID]; !ok {
		return fmt.Errorf("message %s: %w", message.ID, entities.ErrNotFound)
	}
	s.messages[message.ID] = copyMessage(message)
	return nil
}

func (s *memStorage) DeleteMessagesAfter(ctx context.Context, conversationID string, after time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, m := range s.messages {
		if m.ConversationID == conversationID && m.CreatedAt.After(after) {
			delete(s.messages, id)
			delete(s.seq, id)
		}
	}
	return nil
}

func (s *memStorage) SaveConversation(ctx context.Context, conversation *entities.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conversation.ID] = copyConversation(conversation)
	return nil
}

func (s *memStorage) GetConversation(ctx context.Context, id string) (*entities.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, entities.ErrNotFound)
	}
	return copyConversation(c), nil
}

func (s *memStorage) GetConversationsByOwner(ctx context.Context, owner entities.Principal, limit int) ([]*entities.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*entities.Conversation
	for _, c := range s.conversations {
		if c.OwnedBy(owner) {
			out = append(out, copyConversation(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStorage) UpdateConversation(ctx context.Context, conversation *entities.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversation.ID]; !ok {
		return fmt.Errorf("conversation %s: %w", conversation.ID, entities.ErrNotFound)
	}
	s.conversations[conversation.ID] = copyConversation(conversation)
	return nil
}

func (s *memStorage) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conversations, id)
	for mid, m := range s.messages {
		if m.ConversationID == id {
			delete(s.messages, mid)
		}
	}
	return nil
}

func (s *memStorage) Ping(ctx context.Context) error    { return nil }
func (s *memStorage) Migrate(ctx context.Context) error { return nil }

// fakeLLM returns a canned completion or error
type fakeLLM struct {
	mu       sync.Mutex
	response string
	err      error
	calls    [][]ports.ChatTurn
}

func (f *fakeLLM) Complete(ctx context.Context, turns []ports.ChatTurn) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, turns)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeLLM) Ping(ctx context.Context) error { return nil }

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeLLM) lastCall() []ports.ChatTurn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

// fakeGate implements UsageGatePort and IdentityPort with fixed decisions
type fakeGate struct {
	mu         sync.Mutex
	decision   ports.GateDecision
	sessionKey string
	increments int
}

func (g *fakeGate) Check(ctx context.Context, principal entities.Principal) (*ports.GateDecision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d := g.decision
	return &d, nil
}

func (g *fakeGate) Increment(ctx context.Context, principal entities.Principal) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.increments++
	return nil
}

func (g *fakeGate) SessionKey(ctx context.Context, principal entities.Principal) (string, error) {
	return g.sessionKey, nil
}

func (g *fakeGate) incrementCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.increments
}

// fakeBus records published events keyed by subject
type fakeBus struct {
	mu        sync.Mutex
	published []publishedEvent
}

type publishedEvent struct {
	subject string
	event   entities.Event
}

func (b *fakeBus) Publish(ctx context.Context, subject string, data []byte) error { return nil }

func (b *fakeBus) PublishJSON(ctx context.Context, subject string, obj interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ev, ok := obj.(entities.Event); ok {
		b.published = append(b.published, publishedEvent{subject: subject, event: ev})
	}
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, subject string, handler ports.MessageHandler) error {
	return nil
}

func (b *fakeBus) Unsubscribe(ctx context.Context, subject string) error { return nil }
func (b *fakeBus) Close() error                                          { return nil }
func (b *fakeBus) Ping() error                                           { return nil }

func (b *fakeBus) events() []entities.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]entities.Event, 0, len(b.published))
	for _, p := range b.published {
		out = append(out, p.event)
	}
	return out
}

func (b *fakeBus) lastEvent() *entities.Event {
	evs := b.events()
	if len(evs) == 0 {
		return nil
	}
	return &evs[len(evs)-1]
}

func (b *fakeBus) eventsOfType(t entities.EventType) []entities.Event {
	var out []entities.Event
	for _, ev := range b.events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (b *fakeBus) waitFor(t entities.EventType, timeout time.Duration) *entities.Event {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		evs := b.eventsOfType(t)
		if len(evs) > 0 {
			return &evs[len(evs)-1]
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

// flatCounter charges one token per turn so trimming is easy to reason about
type flatCounter struct{ perTurn int }

func (f flatCounter) CountTurnTokens(role, content string) int { return f.perTurn }
