package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/microapp-studio/runcore/internal/config"
	"github.com/microapp-studio/runcore/internal/modelregistry"
	"github.com/tidwall/gjson"
)

// DefaultGeminiBaseURL is the Generative Language API endpoint.
const DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// GeminiAdapter calls generateContent.
type GeminiAdapter struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewGeminiAdapter builds the Gemini adapter.
func NewGeminiAdapter(pc config.ProviderConfig) *GeminiAdapter {
	baseURL := strings.TrimRight(strings.TrimSpace(pc.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultGeminiBaseURL
	}
	return &GeminiAdapter{
		apiKey:  strings.TrimSpace(pc.APIKey),
		baseURL: baseURL,
		client:  http.DefaultClient,
	}
}

// ShapeMessages maps system, assistant and model turns to "model" and everything else to "user".
func (a *GeminiAdapter) ShapeMessages(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		role := RoleUser
		switch m.Role {
		case RoleSystem, RoleAssistant, RoleModel:
			role = RoleModel
		}
		out = append(out, Message{Role: role, Content: m.Content})
	}
	return out
}

// ScoringMessages appends the instruction as a model turn.
func (a *GeminiAdapter) ScoringMessages(messages []Message, instruction string) []Message {
	out := append([]Message(nil), messages...)
	return append(out, Message{Role: RoleModel, Content: instruction})
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"topP,omitempty"`
	MaxOutputTokens  int      `json:"maxOutputTokens,omitempty"`
	PresencePenalty  *float64 `json:"presencePenalty,omitempty"`
	FrequencyPenalty *float64 `json:"frequencyPenalty,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

// Call posts to /v1beta/models/{model}:generateContent.
func (a *GeminiAdapter) Call(ctx context.Context, req Request) (Usage, error) {
	apiReq := geminiRequest{Contents: make([]geminiContent, 0, len(req.Messages))}
	for _, m := range req.Messages {
		apiReq.Contents = append(apiReq.Contents, geminiContent{Role: m.Role, Parts: []geminiPart{{Text: m.Content}}})
	}
	temperature, topP := req.Params.Temperature, req.Params.TopP
	apiReq.GenerationConfig = geminiGenerationConfig{
		Temperature:     &temperature,
		TopP:            &topP,
		MaxOutputTokens: req.Params.MaxTokens,
	}
	if req.Params.PresencePenalty != 0 {
		presence := req.Params.PresencePenalty
		apiReq.GenerationConfig.PresencePenalty = &presence
	}
	if req.Params.FrequencyPenalty != 0 {
		frequency := req.Params.FrequencyPenalty
		apiReq.GenerationConfig.FrequencyPenalty = &frequency
	}

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return Usage{}, fmt.Errorf("gemini: marshal request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", a.baseURL, url.PathEscape(req.Model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return Usage{}, fmt.Errorf("gemini: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", a.apiKey)

	body, status, err := doRequest(a.client, httpReq)
	if err != nil {
		return Usage{}, fmt.Errorf("gemini: %w", err)
	}
	if status != http.StatusOK {
		return Usage{}, parseAPIError(modelregistry.FamilyGemini, status, body)
	}

	var text strings.Builder
	gjson.GetBytes(body, "candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		text.WriteString(part.Get("text").String())
		return true
	})
	if text.Len() == 0 {
		if reason := gjson.GetBytes(body, "promptFeedback.blockReason").String(); reason != "" {
			return Usage{}, &APIError{Family: modelregistry.FamilyGemini, StatusCode: http.StatusBadRequest, Type: "blocked", Message: "prompt blocked: " + reason}
		}
	}
	usage := Usage{
		InputTokens:  gjson.GetBytes(body, "usageMetadata.promptTokenCount").Int(),
		OutputTokens: gjson.GetBytes(body, "usageMetadata.candidatesTokenCount").Int(),
		TotalTokens:  gjson.GetBytes(body, "usageMetadata.totalTokenCount").Int(),
		Text:         text.String(),
	}
	return usage, nil
}
