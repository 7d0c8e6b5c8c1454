package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/username/branchtalk/internal/domain/entities"
	"github.com/username/branchtalk/internal/domain/metrics"
	"github.com/username/branchtalk/internal/domain/ports"
	"github.com/username/branchtalk/internal/pkg/constants"
)

// ChatService orchestrates a conversational turn: it validates the request,
// consults the usage gate, mutates the conversation tree, spawns the
// generation task and publishes the resulting events on the session's
// subject. The caller gets a synchronous acknowledgment; generation itself is
// asynchronous.
type ChatService struct {
	storage   ports.StoragePort
	tree      *Tree
	engine    *GenerationEngine
	gate      ports.UsageGatePort
	identity  ports.IdentityPort
	messaging ports.MessagingPort
	builder   *ContextBuilder
	collector *metrics.Collector
	logger    zerolog.Logger
}

// NewChatService creates a new chat orchestration service
func NewChatService(
	storage ports.StoragePort,
	tree *Tree,
	engine *GenerationEngine,
	gate ports.UsageGatePort,
	identity ports.IdentityPort,
	messaging ports.MessagingPort,
	builder *ContextBuilder,
	collector *metrics.Collector,
	logger zerolog.Logger,
) *ChatService {
	return &ChatService{
		storage:   storage,
		tree:      tree,
		engine:    engine,
		gate:      gate,
		identity:  identity,
		messaging: messaging,
		builder:   builder,
		collector: collector,
		logger:    logger.With().Str("component", "chat").Logger(),
	}
}

// PostMessageRequest is a user turn submission. ChatID is empty for the
// first message of a new conversation; ParentID overrides the conversation
// tip as the reply target when set.
type PostMessageRequest struct {
	Content  string `json:"content"`
	ChatID   string `json:"chatId,omitempty"`
	ParentID string `json:"parentId,omitempty"`
}

// PostMessageAck is the synchronous acknowledgment of an accepted turn;
// the generated reply arrives later as session events.
type PostMessageAck struct {
	MessageID      string  `json:"messageId"`
	ChatID         string  `json:"chatId"`
	ParentID       *string `json:"parentId,omitempty"`
	CurrentVersion int     `json:"currentVersion"`
	TotalVersions  int     `json:"totalVersions"`
	Status         string  `json:"status"`
}

// PostMessage saves a user turn and starts its generation. The quota gate is
// consulted before any mutation: a blocked request persists nothing.
func (s *ChatService) PostMessage(ctx context.Context, principal entities.Principal, req *PostMessageRequest) (*PostMessageAck, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("content is required: %w", entities.ErrValidation)
	}

	sessionKey, err := s.identity.SessionKey(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session key: %w", err)
	}

	decision, err := s.gate.Check(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("failed to check usage gate: %w", err)
	}
	if !decision.Allowed {
		s.collector.QuotaBlocked()
		s.publish(ctx, sessionKey, entities.NewEndTokensEvent(true))
		return nil, fmt.Errorf("principal %s: %w", principal.Key, entities.ErrQuotaExceeded)
	}

	// Resolve or create the conversation.
	var conv *entities.Conversation
	if req.ChatID == "" {
		conv = entities.NewConversation(principal, req.Content)
		if err := s.storage.SaveConversation(ctx, conv); err != nil {
			return nil, fmt.Errorf("failed to create conversation: %w", err)
		}
	} else {
		conv, err = s.ownedConversation(ctx, principal, req.ChatID)
		if err != nil {
			return nil, err
		}
	}

	// Resolve the parent: an explicit reply target, or the active-branch tip.
	var parent *entities.Message
	switch {
	case req.ParentID != "":
		parent, err = s.storage.GetMessage(ctx, req.ParentID)
		if err != nil {
			return nil, fmt.Errorf("parent %s: %w", req.ParentID, entities.ErrNotFound)
		}
		if parent.ConversationID != conv.ID {
			return nil, fmt.Errorf("parent %s: %w", req.ParentID, entities.ErrNotFound)
		}
	case conv.CurrentNodeID != nil:
		parent, err = s.storage.GetMessage(ctx, *conv.CurrentNodeID)
		if err != nil {
			return nil, fmt.Errorf("failed to load conversation tip: %w", err)
		}
	}

	userMsg, err := s.tree.Append(ctx, conv, parent, entities.RoleUser, req.Content)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, sessionKey, entities.NewUserMessageEvent(userMsg))
	s.publish(ctx, sessionKey, entities.NewLoadingStartEvent(conv.ID))

	go s.runGeneration(sessionKey, principal, conv, userMsg, nil)

	return &PostMessageAck{
		MessageID:      userMsg.ID,
		ChatID:         conv.ID,
		ParentID:       userMsg.ParentID,
		CurrentVersion: userMsg.CurrentVersion,
		TotalVersions:  userMsg.TotalVersions,
		Status:         constants.StatusProcessing,
	}, nil
}

// Regenerate discards everything after the assistant message, bumps its
// version and starts a fresh generation that overwrites its content in
// place. Gated by quota like a new turn.
func (s *ChatService) Regenerate(ctx context.Context, principal entities.Principal, chatID, messageID string) (*PostMessageAck, error) {
	if chatID == "" || messageID == "" {
		return nil, fmt.Errorf("chatId and messageId are required: %w", entities.ErrValidation)
	}

	sessionKey, err := s.identity.SessionKey(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session key: %w", err)
	}

	decision, err := s.gate.Check(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("failed to check usage gate: %w", err)
	}
	if !decision.Allowed {
		s.collector.QuotaBlocked()
		s.publish(ctx, sessionKey, entities.NewEndTokensEvent(true))
		return nil, fmt.Errorf("principal %s: %w", principal.Key, entities.ErrQuotaExceeded)
	}

	conv, err := s.ownedConversation(ctx, principal, chatID)
	if err != nil {
		return nil, err
	}

	msg, err := s.storage.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", messageID, entities.ErrNotFound)
	}

	msg, err = s.tree.Regenerate(ctx, conv, msg)
	if err != nil {
		return nil, err
	}

	// The generation context ends at the message being replaced.
	var contextFrom *entities.Message
	if msg.ParentID != nil {
		contextFrom, err = s.storage.GetMessage(ctx, *msg.ParentID)
		if err != nil {
			return nil, fmt.Errorf("parent %s: %w", *msg.ParentID, entities.ErrNotFound)
		}
	}

	s.publish(ctx, sessionKey, entities.NewLoadingStartEvent(conv.ID))

	go s.runGeneration(sessionKey, principal, conv, contextFrom, msg)

	return &PostMessageAck{
		MessageID:      msg.ID,
		ChatID:         conv.ID,
		ParentID:       msg.ParentID,
		CurrentVersion: msg.CurrentVersion,
		TotalVersions:  msg.TotalVersions,
		Status:         constants.StatusProcessing,
	}, nil
}

// SwitchBranch selects a different sibling version and returns the new
// active branch
func (s *ChatService) SwitchBranch(ctx context.Context, principal entities.Principal, chatID, messageID string) ([]*entities.Message, error) {
	if chatID == "" || messageID == "" {
		return nil, fmt.Errorf("chatId and messageId are required: %w", entities.ErrValidation)
	}

	conv, err := s.ownedConversation(ctx, principal, chatID)
	if err != nil {
		return nil, err
	}

	target, err := s.storage.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", messageID, entities.ErrNotFound)
	}

	return s.tree.SwitchBranch(ctx, conv, target)
}

// StopGeneration flips the cancellation flag for the conversation's
// in-flight generation. It acts on the generation task, not on any
// particular connection.
func (s *ChatService) StopGeneration(ctx context.Context, principal entities.Principal, chatID string) error {
	if chatID == "" {
		return fmt.Errorf("chatId is required: %w", entities.ErrValidation)
	}

	if _, err := s.ownedConversation(ctx, principal, chatID); err != nil {
		return err
	}

	s.engine.Stop(chatID)
	return nil
}

// History returns the active branch of a conversation, root first
func (s *ChatService) History(ctx context.Context, principal entities.Principal, chatID string) ([]*entities.Message, error) {
	if chatID == "" {
		return nil, fmt.Errorf("chatId is required: %w", entities.ErrValidation)
	}

	conv, err := s.ownedConversation(ctx, principal, chatID)
	if err != nil {
		return nil, err
	}

	return s.tree.ActiveBranch(ctx, conv)
}

// ListConversations returns the principal's conversations, most recently
// updated first
func (s *ChatService) ListConversations(ctx context.Context, principal entities.Principal, limit int) ([]*entities.Conversation, error) {
	return s.storage.GetConversationsByOwner(ctx, principal, limit)
}

// Rename updates a conversation title
func (s *ChatService) Rename(ctx context.Context, principal entities.Principal, chatID, title string) (*entities.Conversation, error) {
	if chatID == "" || strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("chatId and title are required: %w", entities.ErrValidation)
	}

	conv, err := s.ownedConversation(ctx, principal, chatID)
	if err != nil {
		return nil, err
	}

	conv.SetTitle(title)
	if err := s.storage.UpdateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to rename conversation: %w", err)
	}

	return conv, nil
}

// SessionKey resolves the delivery session key for a principal
func (s *ChatService) SessionKey(ctx context.Context, principal entities.Principal) (string, error) {
	return s.identity.SessionKey(ctx, principal)
}

// ownedConversation loads a conversation and enforces ownership. A
// conversation belonging to someone else is indistinguishable from a missing
// one.
func (s *ChatService) ownedConversation(ctx context.Context, principal entities.Principal, chatID string) (*entities.Conversation, error) {
	conv, err := s.storage.GetConversation(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("conversation %s: %w", chatID, entities.ErrNotFound)
	}
	if !conv.OwnedBy(principal) {
		return nil, fmt.Errorf("conversation %s: %w", chatID, entities.ErrNotFound)
	}
	return conv, nil
}

// runGeneration is the asynchronous generation task. contextFrom is the last
// message of the generation context (nil for an empty conversation);
// regenTarget, when set, is the assistant message whose content is
// overwritten in place instead of appending a new node.
//
// Whatever happens, any non-empty content that was emitted is persisted
// before the task exits.
func (s *ChatService) runGeneration(sessionKey string, principal entities.Principal, conv *entities.Conversation, contextFrom, regenTarget *entities.Message) {
	ctx := context.Background()
	startedAt := time.Now()
	s.collector.GenerationStarted()

	s.engine.Begin(conv.ID)
	defer s.engine.Finish(conv.ID)

	var branch []*entities.Message
	var err error
	if contextFrom != nil {
		branch, err = s.tree.BranchForReplyContext(ctx, contextFrom)
		if err != nil {
			s.fail(ctx, sessionKey, conv.ID, err)
			return
		}
	}

	turns := s.builder.Build(branch)

	fullText, err := s.engine.Generate(ctx, turns)
	if err != nil {
		// Nothing was produced, so there is nothing to persist.
		s.fail(ctx, sessionKey, conv.ID, err)
		return
	}

	// The assistant node: the regeneration target, or a fresh sibling under
	// the context tip. A fresh node is persisted at exit, once its final
	// content is known.
	assistant := regenTarget
	if assistant == nil {
		var parentID *string
		if contextFrom != nil {
			parentID = &contextFrom.ID
		}
		assistant = entities.NewMessage(conv.ID, entities.RoleAssistant, "", parentID)
	}

	s.publish(ctx, sessionKey, entities.NewStartGenerationEvent(conv.ID, assistant.ID))

	emitted, stopped, emitErr := s.engine.Stream(ctx, conv.ID, fullText, func(accumulated string) error {
		return s.publish(ctx, sessionKey, entities.NewAssistantChunkEvent(assistant, accumulated))
	})

	// Persistence-on-exit: whatever was emitted is stored, even when the
	// stream was stopped or delivery broke.
	if emitted != "" {
		assistant.Content = emitted
		if regenTarget != nil {
			err = s.storage.UpdateMessage(ctx, assistant)
		} else {
			err = s.storage.AppendMessage(ctx, conv, assistant)
		}
		if err != nil {
			s.fail(ctx, sessionKey, conv.ID, fmt.Errorf("failed to persist assistant message: %w", err))
			return
		}
	}

	// loadingEnd precedes the terminal event, so stopStreaming,
	// doneGeneration and error are always the last thing a session sees
	// for the generation.
	switch {
	case stopped:
		s.collector.GenerationStopped(time.Since(startedAt))
		s.publish(ctx, sessionKey, entities.NewLoadingEndEvent(conv.ID))
		s.publish(ctx, sessionKey, entities.NewStopStreamingEvent(conv.ID, assistant.ID))
		s.logger.Info().Str("conversation_id", conv.ID).Str("message_id", assistant.ID).Msg("generation stopped")
	case emitErr != nil:
		s.fail(ctx, sessionKey, conv.ID, emitErr)
	default:
		s.collector.GenerationCompleted(time.Since(startedAt))
		s.publish(ctx, sessionKey, entities.NewLoadingEndEvent(conv.ID))
		if err := s.gate.Increment(ctx, principal); err != nil {
			s.logger.Error().Err(err).Str("conversation_id", conv.ID).Msg("failed to increment usage")
		}

		resolve := false
		if decision, err := s.gate.Check(ctx, principal); err == nil {
			resolve = ResolveMessage(principal, decision)
		}

		s.publish(ctx, sessionKey, entities.NewAssistantCompleteEvent(assistant, resolve))
		s.publish(ctx, sessionKey, entities.NewDoneGenerationEvent(conv.ID, assistant.ID))
		s.logger.Info().Str("conversation_id", conv.ID).Str("message_id", assistant.ID).Msg("generation completed")
	}
}

// fail reports an asynchronous generation failure on the session and the
// system error subject. Failed generations never increment usage. The error
// event closes out the generation, so loadingEnd goes first.
func (s *ChatService) fail(ctx context.Context, sessionKey, chatID string, err error) {
	s.collector.GenerationFailed()
	s.logger.Error().Err(err).Str("conversation_id", chatID).Msg("generation failed")
	s.publish(ctx, sessionKey, entities.NewLoadingEndEvent(chatID))
	s.publish(ctx, sessionKey, entities.NewErrorEvent(chatID, err))
	if pubErr := s.messaging.PublishJSON(ctx, ports.SubjectSystemError, map[string]interface{}{
		"conversation_id": chatID,
		"error":           err.Error(),
	}); pubErr != nil {
		s.logger.Error().Err(pubErr).Msg("failed to publish system error")
	}
}

// publish sends an event on the session's subject
func (s *ChatService) publish(ctx context.Context, sessionKey string, ev entities.Event) error {
	if err := s.messaging.PublishJSON(ctx, ports.SessionSubject(sessionKey), ev); err != nil {
		s.logger.Error().Err(err).Str("session_key", sessionKey).Str("event", string(ev.Type)).Msg("failed to publish event")
		return err
	}
	return nil
}

// ResolveMessage decides whether the client should be prompted about its
// remaining quota after a completed generation. Pure function of the
// principal kind and subscription state; no side effects.
func ResolveMessage(principal entities.Principal, decision *ports.GateDecision) bool {
	if decision.Unlimited {
		return false
	}
	if principal.IsAnonymous() {
		return true
	}
	return !decision.Paid
}
