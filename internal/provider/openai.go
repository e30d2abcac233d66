package provider

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"strings"

	"github.com/microapp-studio/runcore/internal/config"
	"github.com/microapp-studio/runcore/internal/modelregistry"
	openai "github.com/sashabaranov/go-openai"
)

// Default endpoints of the OpenAI-compatible families.
const (
	DefaultOpenAIBaseURL     = "https://api.openai.com/v1"
	DefaultPerplexityBaseURL = "https://api.perplexity.ai"
	DefaultDeepSeekBaseURL   = "https://api.deepseek.com/v1"
)

// OpenAIAdapter serves every family that speaks the chat completions protocol.
type OpenAIAdapter struct {
	family modelregistry.Family
	cfg    openai.ClientConfig
	client *openai.Client
}

// NewOpenAIAdapter builds an adapter for an OpenAI-compatible family.
func NewOpenAIAdapter(family modelregistry.Family, pc config.ProviderConfig) *OpenAIAdapter {
	cfg := openai.DefaultConfig(strings.TrimSpace(pc.APIKey))
	cfg.BaseURL = defaultOpenAIBaseURL(family)
	if baseURL := strings.TrimSpace(pc.BaseURL); baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	a := &OpenAIAdapter{family: family, cfg: cfg}
	return a.withHTTPClient(http.DefaultClient)
}

func defaultOpenAIBaseURL(family modelregistry.Family) string {
	switch family {
	case modelregistry.FamilyPerplexity:
		return DefaultPerplexityBaseURL
	case modelregistry.FamilyDeepSeek:
		return DefaultDeepSeekBaseURL
	default:
		return DefaultOpenAIBaseURL
	}
}

func (a *OpenAIAdapter) withHTTPClient(client *http.Client) *OpenAIAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	wrapped := *client
	wrapped.Transport = capturingTransport{base: base}

	cfg := a.cfg
	cfg.HTTPClient = &wrapped
	return &OpenAIAdapter{family: a.family, cfg: cfg, client: openai.NewClientWithConfig(cfg)}
}

// ShapeMessages passes messages through unchanged.
func (a *OpenAIAdapter) ShapeMessages(messages []Message) []Message {
	return append([]Message(nil), messages...)
}

// ScoringMessages appends the instruction as a user turn.
func (a *OpenAIAdapter) ScoringMessages(messages []Message, instruction string) []Message {
	out := append([]Message(nil), messages...)
	return append(out, Message{Role: RoleUser, Content: instruction})
}

// Call performs a non-streaming chat completion.
func (a *OpenAIAdapter) Call(ctx context.Context, req Request) (Usage, error) {
	chatMessages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		chatMessages = append(chatMessages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	capture := &bodyCapture{}
	ctx = context.WithValue(ctx, bodyCaptureKey{}, capture)

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:            req.Model,
		Messages:         chatMessages,
		MaxTokens:        req.Params.MaxTokens,
		Temperature:      nonZero32(req.Params.Temperature),
		TopP:             nonZero32(req.Params.TopP),
		FrequencyPenalty: float32(req.Params.FrequencyPenalty),
		PresencePenalty:  float32(req.Params.PresencePenalty),
		Stream:           false,
	})
	if err != nil {
		return Usage{}, err
	}

	var text strings.Builder
	if len(resp.Choices) > 0 {
		text.WriteString(resp.Choices[0].Message.Content)
	}
	usage := Usage{
		InputTokens:  int64(resp.Usage.PromptTokens),
		OutputTokens: int64(resp.Usage.CompletionTokens),
		TotalTokens:  int64(resp.Usage.TotalTokens),
		Text:         text.String(),
	}
	if cost, ok := ReportedCost(capture.body); ok {
		usage.Cost = cost
		usage.CostReported = true
	}
	return usage, nil
}

// nonZero32 keeps an explicit zero on the wire; the client drops zero values as omitempty.
func nonZero32(v float64) float32 {
	if v == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(v)
}

func openAIErrorDetail(err error) (int, string, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode, apiErr.Message, true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := ""
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return reqErr.HTTPStatusCode, msg, true
	}
	return 0, "", false
}

type bodyCaptureKey struct{}

type bodyCapture struct {
	body []byte
}

// capturingTransport keeps a copy of the response body for callers that asked for it,
// so fields the typed client ignores (reported cost) remain readable.
type capturingTransport struct {
	base http.RoundTripper
}

func (t capturingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp == nil || resp.Body == nil {
		return resp, err
	}
	capture, ok := req.Context().Value(bodyCaptureKey{}).(*bodyCapture)
	if !ok || capture == nil {
		return resp, nil
	}
	data, errRead := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if errRead != nil {
		return nil, errRead
	}
	capture.body = data
	resp.Body = io.NopCloser(bytes.NewReader(data))
	return resp, nil
}
