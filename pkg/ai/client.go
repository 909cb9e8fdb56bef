package ai

import (
	"context"

	"strategylab/pkg/domain"
)

// Client talks to a hosted chat-completion API.
// Converse produces the next assistant turn for a coaching conversation.
// GenerateDocument produces a single markdown document for a prompt.
type Client interface {
	Converse(ctx context.Context, systemPrompt string, history []domain.ChatMessage) (string, error)
	GenerateDocument(ctx context.Context, prompt string, maxTokens int) (string, error)
}
