package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/branchtalk/internal/domain/entities"
	"github.com/username/branchtalk/internal/domain/ports"
)

func TestGenerateReturnsFullText(t *testing.T) {
	llm := &fakeLLM{response: "the quick brown fox"}
	engine := NewGenerationEngine(llm, 4, 0)

	text, err := engine.Generate(context.Background(), []ports.ChatTurn{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "the quick brown fox", text)
	assert.Equal(t, 1, llm.callCount())
}

func TestGenerateEmptyResponse(t *testing.T) {
	llm := &fakeLLM{response: ""}
	engine := NewGenerationEngine(llm, 4, 0)

	_, err := engine.Generate(context.Background(), []ports.ChatTurn{{Role: "user", Content: "hi"}})
	assert.ErrorIs(t, err, entities.ErrEmptyResponse)
}

func TestGeneratePropagatesBackendError(t *testing.T) {
	llm := &fakeLLM{err: entities.ErrUpstream}
	engine := NewGenerationEngine(llm, 4, 0)

	_, err := engine.Generate(context.Background(), []ports.ChatTurn{{Role: "user", Content: "hi"}})
	assert.ErrorIs(t, err, entities.ErrUpstream)
}

func TestStreamChunksArePrefixes(t *testing.T) {
	engine := NewGenerationEngine(&fakeLLM{}, 3, 0)
	engine.Begin("conv-1")
	defer engine.Finish("conv-1")

	full := "hello branching world"
	var snapshots []string
	emitted, stopped, err := engine.Stream(context.Background(), "conv-1", full, func(accumulated string) error {
		snapshots = append(snapshots, accumulated)
		return nil
	})
	require.NoError(t, err)
	assert.False(t, stopped)
	assert.Equal(t, full, emitted)

	// Every snapshot extends the previous one and the last is the full text.
	require.NotEmpty(t, snapshots)
	for i := 1; i < len(snapshots); i++ {
		assert.True(t, len(snapshots[i]) > len(snapshots[i-1]))
		assert.Equal(t, snapshots[i-1], snapshots[i][:len(snapshots[i-1])])
	}
	assert.Equal(t, full, snapshots[len(snapshots)-1])
}

func TestStreamRuneChunking(t *testing.T) {
	engine := NewGenerationEngine(&fakeLLM{}, 2, 0)
	engine.Begin("conv-1")
	defer engine.Finish("conv-1")

	// Multi-byte runes must never be split.
	full := "héllo wörld"
	var snapshots []string
	emitted, stopped, err := engine.Stream(context.Background(), "conv-1", full, func(accumulated string) error {
		snapshots = append(snapshots, accumulated)
		return nil
	})
	require.NoError(t, err)
	assert.False(t, stopped)
	assert.Equal(t, full, emitted)
	for _, s := range snapshots {
		assert.True(t, len([]rune(s))%2 == 0 || s == full)
	}
}

func TestStreamStopTruncatesToEmittedPrefix(t *testing.T) {
	engine := NewGenerationEngine(&fakeLLM{}, 2, 0)
	engine.Begin("conv-1")
	defer engine.Finish("conv-1")

	full := "abcdefghij"
	var snapshots []string
	emitted, stopped, err := engine.Stream(context.Background(), "conv-1", full, func(accumulated string) error {
		snapshots = append(snapshots, accumulated)
		if len(snapshots) == 2 {
			engine.Stop("conv-1")
		}
		return nil
	})
	require.NoError(t, err)
	assert.True(t, stopped)
	assert.Equal(t, "abcd", emitted)
	assert.Len(t, snapshots, 2)
}

func TestStreamEmitErrorAborts(t *testing.T) {
	engine := NewGenerationEngine(&fakeLLM{}, 2, 0)
	engine.Begin("conv-1")
	defer engine.Finish("conv-1")

	boom := errors.New("transport gone")
	emitted, stopped, err := engine.Stream(context.Background(), "conv-1", "abcdef", func(accumulated string) error {
		if len(accumulated) >= 4 {
			return boom
		}
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.False(t, stopped)
	assert.Equal(t, "ab", emitted)
}

func TestStopIsConversationScoped(t *testing.T) {
	engine := NewGenerationEngine(&fakeLLM{}, 2, 0)
	engine.Begin("conv-1")
	engine.Begin("conv-2")
	defer engine.Finish("conv-1")
	defer engine.Finish("conv-2")

	engine.Stop("conv-1")
	assert.False(t, engine.ShouldContinue("conv-1"))
	assert.True(t, engine.ShouldContinue("conv-2"))
}

func TestStopWithoutActiveGeneration(t *testing.T) {
	engine := NewGenerationEngine(&fakeLLM{}, 2, 0)

	// No-op, and nothing to continue either.
	engine.Stop("conv-1")
	assert.False(t, engine.ShouldContinue("conv-1"))
}

func TestFinishClearsFlag(t *testing.T) {
	engine := NewGenerationEngine(&fakeLLM{}, 2, 0)
	engine.Begin("conv-1")
	assert.True(t, engine.ShouldContinue("conv-1"))
	engine.Finish("conv-1")
	assert.False(t, engine.ShouldContinue("conv-1"))
}
