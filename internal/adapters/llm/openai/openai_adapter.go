package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/username/branchtalk/internal/domain/entities"
	"github.com/username/branchtalk/internal/domain/ports"
)

// Adapter implements the LLMPort interface using OpenAI-compatible APIs
type Adapter struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
}

// NewAdapter creates a new OpenAI-compatible LLM adapter. An empty baseURL
// uses the official OpenAI endpoint; any OpenAI-compatible server works
// when one is supplied.
func NewAdapter(baseURL, apiKey, model string, maxTokens int, temperature float64) (*Adapter, error) {
	config := openai.DefaultConfig(apiKey)

	if baseURL != "" {
		config.BaseURL = strings.TrimSuffix(baseURL, "/")
	}

	return &Adapter{
		client:      openai.NewClientWithConfig(config),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
	}, nil
}

// Complete generates a single completion for the given turns. The whole
// reply body is returned at once; chunked replay happens downstream.
func (a *Adapter) Complete(ctx context.Context, turns []ports.ChatTurn) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       a.model,
		Messages:    convertTurns(turns),
		MaxTokens:   a.maxTokens,
		Temperature: float32(a.temperature),
		Stream:      false,
	}

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classifyError(err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned: %w", entities.ErrEmptyResponse)
	}

	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", fmt.Errorf("empty completion content: %w", entities.ErrEmptyResponse)
	}

	return content, nil
}

// Ping checks LLM connectivity
func (a *Adapter) Ping(ctx context.Context) error {
	if _, err := a.client.ListModels(ctx); err != nil {
		return fmt.Errorf("LLM ping failed: %w", classifyError(err))
	}
	return nil
}

// classifyError folds provider failures into the domain error taxonomy:
// API-level rejections are upstream errors, everything network-shaped is
// a transport error.
func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("provider returned %d: %s: %w", apiErr.HTTPStatusCode, apiErr.Message, entities.ErrUpstream)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("provider request failed with %d: %w", reqErr.HTTPStatusCode, entities.ErrUpstream)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("provider unreachable: %v: %w", err, entities.ErrTransport)
	}

	return fmt.Errorf("completion failed: %v: %w", err, entities.ErrTransport)
}

func convertTurns(turns []ports.ChatTurn) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, turn := range turns {
		result = append(result, openai.ChatCompletionMessage{
			Role:    convertRole(turn.Role),
			Content: turn.Content,
		})
	}
	return result
}

func convertRole(role entities.MessageRole) string {
	switch role {
	case entities.RoleUser:
		return openai.ChatMessageRoleUser
	case entities.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case entities.RoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}
