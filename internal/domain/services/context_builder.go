package services

import (
	"fmt"

	"github.com/username/branchtalk/internal/domain/entities"
	"github.com/username/branchtalk/internal/domain/ports"
	"github.com/username/branchtalk/pkg/tokenizer"
)

// TurnCounter measures the token cost of one chat turn
type TurnCounter interface {
	CountTurnTokens(role, content string) int
}

// ContextBuilder converts an active branch into the ordered role/content
// pairs sent to the completion backend, trimming oldest turns first when the
// branch exceeds the model's context window.
type ContextBuilder struct {
	counter   TurnCounter
	maxTokens int
}

// NewContextBuilder creates a context builder for the given model
func NewContextBuilder(model string, maxTokens int) (*ContextBuilder, error) {
	tok, err := tokenizer.NewTokenizer(model)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tokenizer: %w", err)
	}

	return NewContextBuilderWith(tok, maxTokens), nil
}

// NewContextBuilderWith creates a context builder around an existing counter
func NewContextBuilderWith(counter TurnCounter, maxTokens int) *ContextBuilder {
	return &ContextBuilder{
		counter:   counter,
		maxTokens: maxTokens,
	}
}

// Build converts the branch to chat turns and trims to the token budget.
// The most recent turn is always kept, even if it alone exceeds the budget.
func (b *ContextBuilder) Build(branch []*entities.Message) []ports.ChatTurn {
	turns := make([]ports.ChatTurn, 0, len(branch))
	for _, m := range branch {
		turns = append(turns, ports.ChatTurn{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	return b.trim(turns)
}

// trim drops turns from the front until the remainder fits maxTokens
func (b *ContextBuilder) trim(turns []ports.ChatTurn) []ports.ChatTurn {
	if len(turns) == 0 {
		return turns
	}

	total := 0
	counts := make([]int, len(turns))
	for i, turn := range turns {
		counts[i] = b.counter.CountTurnTokens(string(turn.Role), turn.Content)
		total += counts[i]
	}

	start := 0
	for total > b.maxTokens && start < len(turns)-1 {
		total -= counts[start]
		start++
	}

	return turns[start:]
}
