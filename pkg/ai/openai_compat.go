package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"strategylab/pkg/domain"
)

// OpenAICompatClient calls any OpenAI-compatible /v1/chat/completions
// endpoint. Works with OpenAI, vLLM, LiteLLM, OpenRouter, self-hosted
// models, etc.
type OpenAICompatClient struct {
	baseURL       string
	apiKey        string
	chatModel     string
	documentModel string
	httpClient    *http.Client
}

// NewOpenAICompatClient builds an OpenAI-compatible Client.
// baseURL should include the /v1 prefix, e.g. "https://api.openai.com/v1".
// documentModel falls back to chatModel when empty.
func NewOpenAICompatClient(baseURL, apiKey, chatModel, documentModel string) (*OpenAICompatClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("llm base URL required")
	}
	chatModel = strings.TrimSpace(chatModel)
	if chatModel == "" {
		return nil, fmt.Errorf("llm chat model required")
	}
	documentModel = strings.TrimSpace(documentModel)
	if documentModel == "" {
		documentModel = chatModel
	}
	return &OpenAICompatClient{
		baseURL:       baseURL,
		apiKey:        strings.TrimSpace(apiKey),
		chatModel:     chatModel,
		documentModel: documentModel,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}, nil
}

// Converse implements Client using the chat completions API.
func (c *OpenAICompatClient) Converse(ctx context.Context, systemPrompt string, history []domain.ChatMessage) (string, error) {
	messages := make([]oaiMessage, 0, len(history)+1)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, oaiMessage{Role: "system", Content: systemPrompt})
	}
	for _, msg := range history {
		role := strings.ToLower(strings.TrimSpace(msg.Role))
		if role != "assistant" {
			role = "user"
		}
		messages = append(messages, oaiMessage{Role: role, Content: msg.Content})
	}
	return c.complete(ctx, c.chatModel, messages, 0)
}

// GenerateDocument implements Client with a single-shot prompt.
func (c *OpenAICompatClient) GenerateDocument(ctx context.Context, prompt string, maxTokens int) (string, error) {
	messages := []oaiMessage{{Role: "user", Content: prompt}}
	return c.complete(ctx, c.documentModel, messages, maxTokens)
}

func (c *OpenAICompatClient) complete(ctx context.Context, model string, messages []oaiMessage, maxTokens int) (string, error) {
	reqBody := oaiChatRequest{
		Model:    model,
		Messages: messages,
	}
	if maxTokens > 0 {
		reqBody.MaxTokens = maxTokens
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}
	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp oaiErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return "", translateStatus(resp.StatusCode, errResp.Error.Message)
	}

	var chatResp oaiChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("llm decode: %w", err)
	}
	// Only the first text-typed content counts; anything else is a shape
	// the caller cannot use.
	if len(chatResp.Choices) == 0 {
		return "", ErrUnexpectedResponse
	}
	text := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrUnexpectedResponse
	}
	return text, nil
}

// OpenAI-compatible request/response types.

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiChatRequest struct {
	Model     string       `json:"model"`
	Messages  []oaiMessage `json:"messages"`
	MaxTokens int          `json:"max_tokens,omitempty"`
}

type oaiChatResponse struct {
	Choices []struct {
		Message oaiMessage `json:"message"`
	} `json:"choices"`
}

type oaiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
