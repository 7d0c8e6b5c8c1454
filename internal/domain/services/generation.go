package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/username/branchtalk/internal/domain/entities"
	"github.com/username/branchtalk/internal/domain/ports"
)

// GenerationEngine turns a generation context into full assistant text with a
// single blocking call to the completion backend, then replays the result as
// fixed-size accumulated-content chunks. It owns the per-conversation
// cancellation flags; cancellation is cooperative and checked between chunk
// emissions, never mid-call.
type GenerationEngine struct {
	llm        ports.LLMPort
	chunkSize  int
	chunkDelay time.Duration

	mu     sync.Mutex
	active map[string]*cancelFlag
}

type cancelFlag struct {
	mu             sync.Mutex
	shouldContinue bool
}

func (f *cancelFlag) stop() {
	f.mu.Lock()
	f.shouldContinue = false
	f.mu.Unlock()
}

func (f *cancelFlag) ok() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shouldContinue
}

// NewGenerationEngine creates a new generation engine
func NewGenerationEngine(llm ports.LLMPort, chunkSize int, chunkDelay time.Duration) *GenerationEngine {
	if chunkSize <= 0 {
		chunkSize = 1
	}
	return &GenerationEngine{
		llm:        llm,
		chunkSize:  chunkSize,
		chunkDelay: chunkDelay,
		active:     make(map[string]*cancelFlag),
	}
}

// Begin registers a generation for the conversation and arms its
// cancellation flag
func (e *GenerationEngine) Begin(conversationID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active[conversationID] = &cancelFlag{shouldContinue: true}
}

// Finish removes the conversation's cancellation flag when the generation
// task exits
func (e *GenerationEngine) Finish(conversationID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, conversationID)
}

// Stop clears the should-continue flag for the conversation's in-flight
// generation. It is keyed by conversation, not by connection: any client of
// the session, connected or not, can issue it. Stopping a conversation with
// no generation in flight is a no-op.
func (e *GenerationEngine) Stop(conversationID string) {
	e.mu.Lock()
	flag := e.active[conversationID]
	e.mu.Unlock()

	if flag != nil {
		flag.stop()
	}
}

// ShouldContinue reports whether the conversation's generation may keep
// emitting chunks
func (e *GenerationEngine) ShouldContinue(conversationID string) bool {
	e.mu.Lock()
	flag := e.active[conversationID]
	e.mu.Unlock()

	return flag != nil && flag.ok()
}

// Generate performs the single blocking completion call. Errors surface
// immediately with the domain taxonomy; the caller decides whether to
// re-invoke.
func (e *GenerationEngine) Generate(ctx context.Context, turns []ports.ChatTurn) (string, error) {
	text, err := e.llm.Complete(ctx, turns)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", fmt.Errorf("completion for %d turns: %w", len(turns), entities.ErrEmptyResponse)
	}
	return text, nil
}

// EmitFunc delivers one accumulated-content snapshot to the session
type EmitFunc func(accumulated string) error

// Stream replays the full text as progressive chunks of chunkSize runes,
// invoking emit with the entire content produced so far each time. The
// cancellation flag is checked before every emission; on stop, emission
// ceases and the returned string is truncated to exactly what was emitted.
// Returns the emitted content and whether the stream was stopped early.
func (e *GenerationEngine) Stream(ctx context.Context, conversationID, fullText string, emit EmitFunc) (string, bool, error) {
	runes := []rune(fullText)

	for pos := 0; pos < len(runes); pos += e.chunkSize {
		if !e.ShouldContinue(conversationID) {
			return string(runes[:pos]), true, nil
		}

		end := pos + e.chunkSize
		if end > len(runes) {
			end = len(runes)
		}

		accumulated := string(runes[:end])
		if err := emit(accumulated); err != nil {
			return string(runes[:pos]), false, fmt.Errorf("failed to emit chunk: %w", err)
		}

		if e.chunkDelay > 0 && end < len(runes) {
			select {
			case <-ctx.Done():
				return accumulated, true, nil
			case <-time.After(e.chunkDelay):
			}
		}
	}

	return fullText, false, nil
}
