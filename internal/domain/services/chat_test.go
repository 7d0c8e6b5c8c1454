package services

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/branchtalk/internal/domain/entities"
	"github.com/username/branchtalk/internal/domain/metrics"
	"github.com/username/branchtalk/internal/domain/ports"
)

type chatHarness struct {
	service *ChatService
	storage *memStorage
	engine  *GenerationEngine
	llm     *fakeLLM
	gate    *fakeGate
	bus     *fakeBus
}

func newChatHarness(t *testing.T, response string, chunkDelay time.Duration) *chatHarness {
	t.Helper()

	storage := newMemStorage()
	llm := &fakeLLM{response: response}
	engine := NewGenerationEngine(llm, 2, chunkDelay)
	gate := &fakeGate{
		decision:   ports.GateDecision{Allowed: true, Remaining: 10},
		sessionKey: "sess-1",
	}
	bus := &fakeBus{}
	builder := NewContextBuilderWith(flatCounter{perTurn: 1}, 1000)
	tree := NewTree(storage)

	return &chatHarness{
		service: NewChatService(storage, tree, engine, gate, gate, bus, builder, metrics.NewCollector(), zerolog.Nop()),
		storage: storage,
		engine:  engine,
		llm:     llm,
		gate:    gate,
		bus:     bus,
	}
}

func TestPostMessageRequiresContent(t *testing.T) {
	h := newChatHarness(t, "reply", 0)
	principal := entities.NewAccountPrincipal("acct-1")

	_, err := h.service.PostMessage(context.Background(), principal, &PostMessageRequest{Content: "   "})
	assert.ErrorIs(t, err, entities.ErrValidation)
}

func TestPostMessageNewConversationFullCycle(t *testing.T) {
	ctx := context.Background()
	h := newChatHarness(t, "hello from the assistant", 0)
	principal := entities.NewAccountPrincipal("acct-1")

	ack, err := h.service.PostMessage(ctx, principal, &PostMessageRequest{Content: "hi there"})
	require.NoError(t, err)
	assert.NotEmpty(t, ack.ChatID)
	assert.Equal(t, 1, ack.CurrentVersion)
	assert.Equal(t, "processing", ack.Status)
	assert.Nil(t, ack.ParentID)

	done := h.bus.waitFor(entities.EventDoneGeneration, time.Second)
	require.NotNil(t, done, "generation did not complete")

	// The assistant reply is persisted under the user message with the full
	// generated content.
	assistant, err := h.storage.GetMessage(ctx, done.MessageID)
	require.NoError(t, err)
	assert.Equal(t, entities.RoleAssistant, assistant.Role)
	assert.Equal(t, "hello from the assistant", assistant.Content)
	require.NotNil(t, assistant.ParentID)
	assert.Equal(t, ack.MessageID, *assistant.ParentID)

	// Tip moved to the assistant reply.
	conv, err := h.storage.GetConversation(ctx, ack.ChatID)
	require.NoError(t, err)
	require.NotNil(t, conv.CurrentNodeID)
	assert.Equal(t, assistant.ID, *conv.CurrentNodeID)

	// Completed generations count against the quota exactly once.
	assert.Equal(t, 1, h.gate.incrementCount())

	// Chunk events carry accumulated prefixes of the final content.
	chunks := h.bus.eventsOfType(entities.EventAssistantChunk)
	require.NotEmpty(t, chunks)
	for _, ev := range chunks {
		assert.Equal(t, assistant.Content[:len(ev.Content)], ev.Content)
	}

	complete := h.bus.eventsOfType(entities.EventAssistantComplete)
	require.Len(t, complete, 1)
	assert.Equal(t, "hello from the assistant", complete[0].Content)

	// loadingEnd comes before the terminal event; doneGeneration is the
	// last thing the session sees.
	assert.NotEmpty(t, h.bus.eventsOfType(entities.EventLoadingEnd))
	last := h.bus.lastEvent()
	require.NotNil(t, last)
	assert.Equal(t, entities.EventDoneGeneration, last.Type)
}

func TestPostMessageQuotaBlocked(t *testing.T) {
	ctx := context.Background()
	h := newChatHarness(t, "reply", 0)
	h.gate.decision = ports.GateDecision{Allowed: false, Remaining: 0}
	principal := entities.NewAnonymousPrincipal("fp-1")

	_, err := h.service.PostMessage(ctx, principal, &PostMessageRequest{Content: "hi"})
	assert.ErrorIs(t, err, entities.ErrQuotaExceeded)

	// A blocked request persists nothing and counts nothing.
	convs, err := h.storage.GetConversationsByOwner(ctx, principal, 10)
	require.NoError(t, err)
	assert.Empty(t, convs)
	assert.Equal(t, 0, h.gate.incrementCount())

	// The client is told its quota ran out.
	end := h.bus.eventsOfType(entities.EventEndTokens)
	require.Len(t, end, 1)
	require.NotNil(t, end[0].Exhausted)
	assert.True(t, *end[0].Exhausted)
}

func TestPostMessageGenerationFailureKeepsUserMessage(t *testing.T) {
	ctx := context.Background()
	h := newChatHarness(t, "", 0)
	h.llm.err = entities.ErrUpstream
	principal := entities.NewAccountPrincipal("acct-1")

	ack, err := h.service.PostMessage(ctx, principal, &PostMessageRequest{Content: "hi"})
	require.NoError(t, err)

	errEv := h.bus.waitFor(entities.EventError, time.Second)
	require.NotNil(t, errEv, "failure was not reported")
	assert.Equal(t, ack.ChatID, errEv.ChatID)

	// The user turn survives; no assistant row appears and usage is untouched.
	messages, err := h.storage.GetMessages(ctx, ack.ChatID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, entities.RoleUser, messages[0].Role)
	assert.Equal(t, 0, h.gate.incrementCount())
}

func TestStopGenerationPersistsEmittedPrefix(t *testing.T) {
	ctx := context.Background()
	h := newChatHarness(t, "a very long answer that keeps going for a while", 20*time.Millisecond)
	principal := entities.NewAccountPrincipal("acct-1")

	ack, err := h.service.PostMessage(ctx, principal, &PostMessageRequest{Content: "hi"})
	require.NoError(t, err)

	require.NotNil(t, h.bus.waitFor(entities.EventAssistantChunk, time.Second))
	require.NoError(t, h.service.StopGeneration(ctx, principal, ack.ChatID))

	stop := h.bus.waitFor(entities.EventStopStreaming, time.Second)
	require.NotNil(t, stop, "stop event never arrived")

	// The partial content was persisted and is a strict prefix.
	assistant, err := h.storage.GetMessage(ctx, stop.MessageID)
	require.NoError(t, err)
	assert.NotEmpty(t, assistant.Content)
	assert.Less(t, len(assistant.Content), len("a very long answer that keeps going for a while"))
	assert.Equal(t, "a very long answer that keeps going for a while"[:len(assistant.Content)], assistant.Content)

	// Stopped generations never increment usage.
	assert.Equal(t, 0, h.gate.incrementCount())
	assert.Empty(t, h.bus.eventsOfType(entities.EventDoneGeneration))

	// stopStreaming closes out the generation: nothing, loadingEnd
	// included, follows it on the session.
	last := h.bus.lastEvent()
	require.NotNil(t, last)
	assert.Equal(t, entities.EventStopStreaming, last.Type)
	assert.NotEmpty(t, h.bus.eventsOfType(entities.EventLoadingEnd))
}

func TestRegenerateOverwritesInPlace(t *testing.T) {
	ctx := context.Background()
	h := newChatHarness(t, "first answer", 0)
	principal := entities.NewAccountPrincipal("acct-1")

	ack, err := h.service.PostMessage(ctx, principal, &PostMessageRequest{Content: "hi"})
	require.NoError(t, err)
	done := h.bus.waitFor(entities.EventDoneGeneration, time.Second)
	require.NotNil(t, done)
	assistantID := done.MessageID

	h.llm.response = "second answer"

	regenAck, err := h.service.Regenerate(ctx, principal, ack.ChatID, assistantID)
	require.NoError(t, err)
	assert.Equal(t, assistantID, regenAck.MessageID)
	assert.Equal(t, 2, regenAck.CurrentVersion)
	assert.Equal(t, 2, regenAck.TotalVersions)

	require.Eventually(t, func() bool {
		m, err := h.storage.GetMessage(ctx, assistantID)
		return err == nil && m.Content == "second answer"
	}, time.Second, 5*time.Millisecond)

	// Still a single assistant node: overwritten, not branched.
	messages, err := h.storage.GetMessages(ctx, ack.ChatID)
	require.NoError(t, err)
	assert.Len(t, messages, 2)

	assert.Equal(t, 2, h.gate.incrementCount())
}

func TestRegenerateFailureKeepsStaleContent(t *testing.T) {
	ctx := context.Background()
	h := newChatHarness(t, "first answer", 0)
	principal := entities.NewAccountPrincipal("acct-1")

	ack, err := h.service.PostMessage(ctx, principal, &PostMessageRequest{Content: "hi"})
	require.NoError(t, err)
	done := h.bus.waitFor(entities.EventDoneGeneration, time.Second)
	require.NotNil(t, done)
	assistantID := done.MessageID

	h.llm.err = entities.ErrUpstream

	_, err = h.service.Regenerate(ctx, principal, ack.ChatID, assistantID)
	require.NoError(t, err)
	require.NotNil(t, h.bus.waitFor(entities.EventError, time.Second))

	// The stale content survives; no duplicate assistant row appears and the
	// failed attempt does not count against the quota.
	assistant, err := h.storage.GetMessage(ctx, assistantID)
	require.NoError(t, err)
	assert.Equal(t, "first answer", assistant.Content)
	assert.Equal(t, 2, assistant.CurrentVersion)

	messages, err := h.storage.GetMessages(ctx, ack.ChatID)
	require.NoError(t, err)
	assert.Len(t, messages, 2)
	assert.Equal(t, 1, h.gate.incrementCount())
}

func TestPostMessageWithExplicitParentCreatesSiblings(t *testing.T) {
	ctx := context.Background()
	h := newChatHarness(t, "answer", 0)
	principal := entities.NewAccountPrincipal("acct-1")

	first, err := h.service.PostMessage(ctx, principal, &PostMessageRequest{Content: "q1"})
	require.NoError(t, err)
	waitForDoneCount(t, h, 1)

	// Second turn goes under the first assistant reply (the tip).
	second, err := h.service.PostMessage(ctx, principal, &PostMessageRequest{
		Content: "q2",
		ChatID:  first.ChatID,
	})
	require.NoError(t, err)
	waitForDoneCount(t, h, 2)

	secondTurn, err := h.storage.GetMessage(ctx, second.MessageID)
	require.NoError(t, err)
	require.NotNil(t, secondTurn.ParentID)

	// Resending an edited turn under the same parent becomes a sibling
	// version of the second user message.
	edited, err := h.service.PostMessage(ctx, principal, &PostMessageRequest{
		Content:  "q2 edited",
		ChatID:   first.ChatID,
		ParentID: *secondTurn.ParentID,
	})
	require.NoError(t, err)
	waitForDoneCount(t, h, 3)

	assert.Equal(t, 2, edited.CurrentVersion)
	assert.Equal(t, 2, edited.TotalVersions)

	stored, err := h.storage.GetMessage(ctx, second.MessageID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentVersion)
	assert.Equal(t, 2, stored.TotalVersions)
}

func waitForDoneCount(t *testing.T, h *chatHarness, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(h.bus.eventsOfType(entities.EventDoneGeneration)) >= n
	}, time.Second, 5*time.Millisecond, "generation %d did not complete", n)
}

func TestRegenerateRejectsUserMessage(t *testing.T) {
	ctx := context.Background()
	h := newChatHarness(t, "answer", 0)
	principal := entities.NewAccountPrincipal("acct-1")

	ack, err := h.service.PostMessage(ctx, principal, &PostMessageRequest{Content: "hi"})
	require.NoError(t, err)
	require.NotNil(t, h.bus.waitFor(entities.EventDoneGeneration, time.Second))

	_, err = h.service.Regenerate(ctx, principal, ack.ChatID, ack.MessageID)
	assert.ErrorIs(t, err, entities.ErrInvalidRole)
}

func TestOwnershipIndistinguishableFromMissing(t *testing.T) {
	ctx := context.Background()
	h := newChatHarness(t, "answer", 0)
	owner := entities.NewAccountPrincipal("acct-1")
	intruder := entities.NewAccountPrincipal("acct-2")

	ack, err := h.service.PostMessage(ctx, owner, &PostMessageRequest{Content: "hi"})
	require.NoError(t, err)
	require.NotNil(t, h.bus.waitFor(entities.EventDoneGeneration, time.Second))

	_, err = h.service.History(ctx, intruder, ack.ChatID)
	assert.ErrorIs(t, err, entities.ErrNotFound)

	_, err = h.service.Rename(ctx, intruder, ack.ChatID, "stolen")
	assert.ErrorIs(t, err, entities.ErrNotFound)

	err = h.service.StopGeneration(ctx, intruder, ack.ChatID)
	assert.ErrorIs(t, err, entities.ErrNotFound)
}

func TestHistoryReturnsActiveBranch(t *testing.T) {
	ctx := context.Background()
	h := newChatHarness(t, "answer", 0)
	principal := entities.NewAccountPrincipal("acct-1")

	ack, err := h.service.PostMessage(ctx, principal, &PostMessageRequest{Content: "hi"})
	require.NoError(t, err)
	require.NotNil(t, h.bus.waitFor(entities.EventDoneGeneration, time.Second))

	branch, err := h.service.History(ctx, principal, ack.ChatID)
	require.NoError(t, err)
	require.Len(t, branch, 2)
	assert.Equal(t, entities.RoleUser, branch[0].Role)
	assert.Equal(t, entities.RoleAssistant, branch[1].Role)
}

func TestRenameUpdatesTitle(t *testing.T) {
	ctx := context.Background()
	h := newChatHarness(t, "answer", 0)
	principal := entities.NewAccountPrincipal("acct-1")

	ack, err := h.service.PostMessage(ctx, principal, &PostMessageRequest{Content: "hi"})
	require.NoError(t, err)
	require.NotNil(t, h.bus.waitFor(entities.EventDoneGeneration, time.Second))

	conv, err := h.service.Rename(ctx, principal, ack.ChatID, "project notes")
	require.NoError(t, err)
	assert.Equal(t, "project notes", conv.Title)

	_, err = h.service.Rename(ctx, principal, ack.ChatID, "  ")
	assert.ErrorIs(t, err, entities.ErrValidation)
}

func TestResolveMessage(t *testing.T) {
	account := entities.NewAccountPrincipal("acct-1")
	anon := entities.NewAnonymousPrincipal("fp-1")

	tests := []struct {
		name      string
		principal entities.Principal
		decision  ports.GateDecision
		want      bool
	}{
		{"unlimited account", account, ports.GateDecision{Unlimited: true}, false},
		{"unlimited anonymous", anon, ports.GateDecision{Unlimited: true}, false},
		{"anonymous", anon, ports.GateDecision{Allowed: true}, true},
		{"free account", account, ports.GateDecision{Allowed: true}, true},
		{"paid account", account, ports.GateDecision{Allowed: true, Paid: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveMessage(tt.principal, &tt.decision))
		})
	}
}
