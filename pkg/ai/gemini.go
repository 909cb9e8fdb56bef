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

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiClient calls the Google AI Studio (Gemini) API.
type GeminiClient struct {
	apiKey        string
	baseURL       string
	chatModel     string
	documentModel string
	httpClient    *http.Client
}

// NewGeminiClient constructs a Gemini-backed Client.
func NewGeminiClient(apiKey, chatModel, documentModel string) (*GeminiClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key required")
	}
	chatModel = strings.TrimSpace(chatModel)
	if chatModel == "" {
		return nil, fmt.Errorf("gemini chat model required")
	}
	documentModel = strings.TrimSpace(documentModel)
	if documentModel == "" {
		documentModel = chatModel
	}
	return &GeminiClient{
		apiKey:        apiKey,
		baseURL:       defaultGeminiBaseURL,
		chatModel:     chatModel,
		documentModel: documentModel,
		httpClient:    &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// Converse implements Client using generateContent with the full history.
func (c *GeminiClient) Converse(ctx context.Context, systemPrompt string, history []domain.ChatMessage) (string, error) {
	contents := make([]geminiContent, 0, len(history))
	for _, msg := range history {
		role := "user"
		if strings.EqualFold(strings.TrimSpace(msg.Role), "assistant") {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: msg.Content}},
		})
	}
	return c.generate(ctx, c.chatModel, systemPrompt, contents, 0)
}

// GenerateDocument implements Client with a single-shot prompt.
func (c *GeminiClient) GenerateDocument(ctx context.Context, prompt string, maxTokens int) (string, error) {
	contents := []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}}
	return c.generate(ctx, c.documentModel, "", contents, maxTokens)
}

func (c *GeminiClient) generate(ctx context.Context, model, systemPrompt string, contents []geminiContent, maxTokens int) (string, error) {
	reqBody := geminiGenerateRequest{Contents: contents}
	if strings.TrimSpace(systemPrompt) != "" {
		reqBody.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: systemPrompt}},
		}
	}
	if maxTokens > 0 {
		reqBody.GenerationConfig = &geminiGenerationConfig{MaxOutputTokens: maxTokens}
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, normalizeModel(model), c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp geminiErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return "", translateStatus(resp.StatusCode, errResp.Error.Message)
	}
	var genResp geminiGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("gemini decode: %w", err)
	}
	if len(genResp.Candidates) == 0 || len(genResp.Candidates[0].Content.Parts) == 0 {
		return "", ErrUnexpectedResponse
	}
	text := strings.TrimSpace(genResp.Candidates[0].Content.Parts[0].Text)
	if text == "" {
		return "", ErrUnexpectedResponse
	}
	return text, nil
}

func normalizeModel(model string) string {
	model = strings.TrimSpace(model)
	return strings.TrimPrefix(model, "models/")
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

type geminiGenerateRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

type geminiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
