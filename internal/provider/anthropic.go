package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/microapp-studio/runcore/internal/config"
	"github.com/microapp-studio/runcore/internal/modelregistry"
	"github.com/tidwall/gjson"
)

const (
	// DefaultAnthropicBaseURL is the Anthropic API endpoint.
	DefaultAnthropicBaseURL = "https://api.anthropic.com"
	// AnthropicAPIVersion is sent as the anthropic-version header.
	AnthropicAPIVersion = "2023-06-01"

	anthropicOpening      = "This is a conversation between user and assistant"
	anthropicClosing      = "your thoughts on this"
	anthropicNextQuestion = "What is the next instruction"
)

// AnthropicAdapter calls the Messages API.
type AnthropicAdapter struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewAnthropicAdapter builds the Anthropic adapter.
func NewAnthropicAdapter(pc config.ProviderConfig) *AnthropicAdapter {
	baseURL := strings.TrimRight(strings.TrimSpace(pc.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultAnthropicBaseURL
	}
	return &AnthropicAdapter{
		apiKey:  strings.TrimSpace(pc.APIKey),
		baseURL: baseURL,
		client:  http.DefaultClient,
	}
}

// ShapeMessages keeps only user and assistant roles and makes the conversation open and close on a user turn.
func (a *AnthropicAdapter) ShapeMessages(messages []Message) []Message {
	if len(messages) == 0 {
		return nil
	}
	out := make([]Message, 0, len(messages)+2)
	if messages[0].Role != RoleUser {
		out = append(out, Message{Role: RoleUser, Content: anthropicOpening})
	}
	for _, m := range messages {
		role := RoleUser
		if m.Role == RoleAssistant || m.Role == RoleModel {
			role = RoleAssistant
		}
		out = append(out, Message{Role: role, Content: m.Content})
	}
	if out[len(out)-1].Role == RoleAssistant {
		out = append(out, Message{Role: RoleUser, Content: anthropicClosing})
	}
	return out
}

// ScoringMessages inserts an assistant turn before the instruction when the last turn is the user's.
func (a *AnthropicAdapter) ScoringMessages(messages []Message, instruction string) []Message {
	out := append([]Message(nil), messages...)
	if len(out) > 0 && out[len(out)-1].Role == RoleUser {
		out = append(out, Message{Role: RoleAssistant, Content: anthropicNextQuestion})
	}
	return append(out, Message{Role: RoleUser, Content: instruction})
}

type anthropicRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	Stream      bool      `json:"stream"`
}

// Call posts to /v1/messages. Parameters holding the unset sentinel are left out.
func (a *AnthropicAdapter) Call(ctx context.Context, req Request) (Usage, error) {
	apiReq := anthropicRequest{
		Model:     req.Model,
		MaxTokens: req.Params.MaxTokens,
		Messages:  req.Messages,
	}
	if apiReq.MaxTokens <= 0 {
		apiReq.MaxTokens = 1000
	}
	if req.Params.Temperature != modelregistry.UnsetSentinel {
		temperature := req.Params.Temperature
		apiReq.Temperature = &temperature
	}
	if req.Params.TopP != modelregistry.UnsetSentinel {
		topP := req.Params.TopP
		apiReq.TopP = &topP
	}

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return Usage{}, fmt.Errorf("anthropic: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(reqBody))
	if err != nil {
		return Usage{}, fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", AnthropicAPIVersion)

	body, status, err := doRequest(a.client, httpReq)
	if err != nil {
		return Usage{}, fmt.Errorf("anthropic: %w", err)
	}
	if status != http.StatusOK {
		return Usage{}, parseAPIError(modelregistry.FamilyAnthropic, status, body)
	}

	var text strings.Builder
	gjson.GetBytes(body, "content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			text.WriteString(block.Get("text").String())
		}
		return true
	})
	usage := Usage{
		InputTokens:  gjson.GetBytes(body, "usage.input_tokens").Int(),
		OutputTokens: gjson.GetBytes(body, "usage.output_tokens").Int(),
		Text:         text.String(),
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	return usage, nil
}

func doRequest(client *http.Client, req *http.Request) ([]byte, int, error) {
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// parseAPIError reads {"error": {"type", "message"}} bodies, falling back to the raw text.
func parseAPIError(family modelregistry.Family, status int, body []byte) error {
	apiErr := &APIError{Family: family, StatusCode: status}
	if gjson.ValidBytes(body) {
		apiErr.Type = gjson.GetBytes(body, "error.type").String()
		if apiErr.Type == "" {
			apiErr.Type = gjson.GetBytes(body, "error.status").String()
		}
		apiErr.Message = gjson.GetBytes(body, "error.message").String()
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
