package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/microapp-studio/runcore/internal/apierr"
	"github.com/microapp-studio/runcore/internal/config"
	"github.com/microapp-studio/runcore/internal/modelregistry"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func mustSpec(t *testing.T, id string) modelregistry.Spec {
	t.Helper()
	spec, err := modelregistry.Default().Get(id)
	require.NoError(t, err)
	return spec
}

func TestAnthropicShapingWrapsAssistantOnlyConversation(t *testing.T) {
	var captured struct {
		Model    string    `json:"model"`
		Messages []Message `json:"messages"`
		TopP     *float64  `json:"top_p"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get("x-api-key"))
		require.Equal(t, AnthropicAPIVersion, r.Header.Get("anthropic-version"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"content":[{"type":"text","text":"Hi "},{"type":"text","text":"there"}],"usage":{"input_tokens":12,"output_tokens":3}}`)
	}))
	defer srv.Close()

	d := NewDispatcher(config.ProvidersConfig{Anthropic: config.ProviderConfig{APIKey: "test-key", BaseURL: srv.URL}})
	spec := mustSpec(t, "claude-3-5-haiku")

	result, err := d.Complete(context.Background(), spec, []Message{{Role: RoleAssistant, Content: "Hello"}}, Params{Temperature: 0.5, TopP: modelregistry.UnsetSentinel, MaxTokens: 200})
	require.NoError(t, err)

	require.Equal(t, "claude-3-5-haiku-20241022", captured.Model)
	require.Equal(t, []Message{
		{Role: RoleUser, Content: "This is a conversation between user and assistant"},
		{Role: RoleAssistant, Content: "Hello"},
		{Role: RoleUser, Content: "your thoughts on this"},
	}, captured.Messages)
	require.Nil(t, captured.TopP)

	require.Equal(t, "Hi there", result.Usage.Text)
	require.Equal(t, int64(15), result.Usage.TotalTokens)
	// (12*0.80 + 3*4.00) / 1e6
	require.True(t, result.Cost.Equal(decimal.RequireFromString("0.000022")), "cost %s", result.Cost)
}

func TestAnthropicShapingMapsRoles(t *testing.T) {
	a := NewAnthropicAdapter(config.ProviderConfig{})
	got := a.ShapeMessages([]Message{
		{Role: RoleUser, Content: "q"},
		{Role: RoleModel, Content: "a"},
		{Role: RoleSystem, Content: "s"},
	})
	require.Equal(t, []Message{
		{Role: RoleUser, Content: "q"},
		{Role: RoleAssistant, Content: "a"},
		{Role: RoleUser, Content: "s"},
	}, got)
	require.Empty(t, a.ShapeMessages(nil))
}

func TestScoringMessagesPerFamily(t *testing.T) {
	msgs := []Message{{Role: RoleUser, Content: "answer me"}}

	anthropic := NewAnthropicAdapter(config.ProviderConfig{}).ScoringMessages(msgs, "grade")
	require.Equal(t, []Message{
		{Role: RoleUser, Content: "answer me"},
		{Role: RoleAssistant, Content: "What is the next instruction"},
		{Role: RoleUser, Content: "grade"},
	}, anthropic)

	gemini := NewGeminiAdapter(config.ProviderConfig{}).ScoringMessages(msgs, "grade")
	require.Equal(t, RoleModel, gemini[len(gemini)-1].Role)

	openaiMsgs := NewOpenAIAdapter(modelregistry.FamilyOpenAI, config.ProviderConfig{}).ScoringMessages(msgs, "grade")
	require.Equal(t, Message{Role: RoleUser, Content: "grade"}, openaiMsgs[len(openaiMsgs)-1])
	require.Len(t, msgs, 1)
}

func TestGeminiCallShapesRolesAndReadsUsage(t *testing.T) {
	var captured geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", r.URL.Path)
		require.Equal(t, "g-key", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"bonjour"}]}}],"usageMetadata":{"promptTokenCount":100,"candidatesTokenCount":20,"totalTokenCount":120}}`)
	}))
	defer srv.Close()

	d := NewDispatcher(config.ProvidersConfig{Gemini: config.ProviderConfig{APIKey: "g-key", BaseURL: srv.URL}})
	result, err := d.Complete(context.Background(), mustSpec(t, "gemini-2.0-flash"), []Message{
		{Role: RoleSystem, Content: "be terse"},
		{Role: RoleUser, Content: "hello"},
	}, Params{Temperature: 0, TopP: 0.95, MaxTokens: 64})
	require.NoError(t, err)

	require.Len(t, captured.Contents, 2)
	require.Equal(t, RoleModel, captured.Contents[0].Role)
	require.Equal(t, RoleUser, captured.Contents[1].Role)
	require.NotNil(t, captured.GenerationConfig.Temperature)
	require.Equal(t, 0.0, *captured.GenerationConfig.Temperature)

	require.Equal(t, "bonjour", result.Usage.Text)
	require.Equal(t, int64(100), result.Usage.InputTokens)
	require.Equal(t, int64(20), result.Usage.OutputTokens)
	// (100*0.10 + 20*0.40) / 1e6
	require.True(t, result.Cost.Equal(decimal.RequireFromString("0.000018")), "cost %s", result.Cost)
}

func TestOpenAICompatibleUsesReportedCost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "gpt-4o-mini", body["model"])
		require.Nil(t, body["stream"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":50,"completion_tokens":10,"total_tokens":60,"cost":0.0000375}}`)
	}))
	defer srv.Close()

	d := NewDispatcher(config.ProvidersConfig{OpenAI: config.ProviderConfig{APIKey: "sk-test", BaseURL: srv.URL}})
	result, err := d.Complete(context.Background(), mustSpec(t, "gpt-4o-mini"), []Message{{Role: RoleUser, Content: "Say hi"}}, Params{Temperature: 1, TopP: 1, MaxTokens: 100})
	require.NoError(t, err)
	require.Equal(t, "hi", result.Usage.Text)
	require.True(t, result.Usage.CostReported)
	require.True(t, result.Cost.Equal(decimal.RequireFromString("0.0000375")), "cost %s", result.Cost)
}

func TestOpenAICompatibleComputesCostWhenNotReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"ok"}}],"usage":{"prompt_tokens":50,"completion_tokens":10,"total_tokens":60}}`)
	}))
	defer srv.Close()

	d := NewDispatcher(config.ProvidersConfig{DeepSeek: config.ProviderConfig{APIKey: "ds", BaseURL: srv.URL}})
	result, err := d.Complete(context.Background(), mustSpec(t, "deepseek-chat"), []Message{{Role: RoleUser, Content: "x"}}, Params{Temperature: 1, TopP: 1})
	require.NoError(t, err)
	require.False(t, result.Usage.CostReported)
	// (50*0.27 + 10*1.10) / 1e6 = 0.0000245
	require.True(t, result.Cost.Equal(decimal.RequireFromString("0.000025")), "cost %s", result.Cost)
}

func TestProviderErrorsKeepMessageAndClassifyStatus(t *testing.T) {
	status := http.StatusBadRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"invalid_request_error","message":"temperature: range"}}`)
	}))
	defer srv.Close()

	d := NewDispatcher(config.ProvidersConfig{Anthropic: config.ProviderConfig{APIKey: "k", BaseURL: srv.URL}})
	spec := mustSpec(t, "claude-3-5-haiku")
	msgs := []Message{{Role: RoleUser, Content: "x"}}

	_, err := d.Complete(context.Background(), spec, msgs, Params{Temperature: 1, TopP: -1})
	require.True(t, apierr.Is(err, apierr.KindProviderError))
	require.Equal(t, "temperature: range", err.Error())
	require.Equal(t, http.StatusBadRequest, apierr.HTTPStatus(err))

	status = http.StatusServiceUnavailable
	_, err = d.Complete(context.Background(), spec, msgs, Params{Temperature: 1, TopP: -1})
	require.Equal(t, http.StatusInternalServerError, apierr.HTTPStatus(err))
}

func TestProviderTimeoutIsProviderError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	d := NewDispatcher(config.ProvidersConfig{
		Timeout: config.Duration(50 * time.Millisecond),
		Gemini:  config.ProviderConfig{APIKey: "k", BaseURL: srv.URL},
	})
	_, err := d.Complete(context.Background(), mustSpec(t, "gemini-2.0-flash"), []Message{{Role: RoleUser, Content: "x"}}, Params{})
	require.True(t, apierr.Is(err, apierr.KindProviderError))
	require.Equal(t, http.StatusInternalServerError, apierr.HTTPStatus(err))
}

func TestCostRoundsToSixPlaces(t *testing.T) {
	spec := mustSpec(t, "gpt-4o-mini")
	// (50*0.15 + 10*0.60) / 1e6 = 0.0000135
	require.True(t, Cost(spec, 50, 10).Equal(decimal.RequireFromString("0.000014")))
	require.True(t, Cost(spec, 0, 0).IsZero())
}

func TestReportedCostPaths(t *testing.T) {
	cost, ok := ReportedCost([]byte(`{"usage":{"cost":{"total_cost":0.012}}}`))
	require.True(t, ok)
	require.True(t, cost.Equal(decimal.RequireFromString("0.012")))

	cost, ok = ReportedCost([]byte(`{"response_cost":"0.5"}`))
	require.True(t, ok)
	require.True(t, cost.Equal(decimal.RequireFromString("0.5")))

	_, ok = ReportedCost([]byte(`{"usage":{"prompt_tokens":3}}`))
	require.False(t, ok)
}

type countingTransport struct {
	mu    sync.Mutex
	paths []string
}

func (c *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	c.paths = append(c.paths, req.URL.Path)
	c.mu.Unlock()
	return http.DefaultTransport.RoundTrip(req)
}

func TestWithHTTPClientRoutesEveryBuiltInAdapter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/v1/messages":
			_, _ = io.WriteString(w, `{"content":[{"type":"text","text":"a"}],"usage":{"input_tokens":1,"output_tokens":1}}`)
		case strings.HasSuffix(r.URL.Path, ":generateContent"):
			_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"g"}]}}],"usageMetadata":{"promptTokenCount":1,"candidatesTokenCount":1}}`)
		default:
			_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"o"}}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`)
		}
	}))
	defer srv.Close()

	transport := &countingTransport{}
	pc := config.ProviderConfig{APIKey: "k", BaseURL: srv.URL}
	d := NewDispatcher(config.ProvidersConfig{OpenAI: pc, Anthropic: pc, Gemini: pc},
		WithHTTPClient(&http.Client{Transport: transport}))

	for _, id := range []string{"gpt-4o-mini", "claude-3-5-haiku", "gemini-2.0-flash"} {
		_, err := d.Complete(context.Background(), mustSpec(t, id), []Message{{Role: RoleUser, Content: "hi"}}, Params{MaxTokens: 10})
		require.NoError(t, err, id)
	}
	transport.mu.Lock()
	defer transport.mu.Unlock()
	require.Len(t, transport.paths, 3)
}

func TestNewHTTPClientPoolsConnections(t *testing.T) {
	client := NewHTTPClient()
	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	require.Equal(t, idleConnsPerHost, transport.MaxIdleConnsPerHost)

	d := NewDispatcher(config.ProvidersConfig{Timeout: config.Duration(3 * time.Second)}, WithHTTPClient(nil))
	require.Equal(t, 3*time.Second, d.Timeout())
	require.Equal(t, config.DefaultProviderTimeout, NewDispatcher(config.ProvidersConfig{}).Timeout())
}
