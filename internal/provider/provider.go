// Package provider adapts neutral run requests to each LLM family's wire protocol.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/microapp-studio/runcore/internal/apierr"
	"github.com/microapp-studio/runcore/internal/config"
	"github.com/microapp-studio/runcore/internal/metrics"
	"github.com/microapp-studio/runcore/internal/modelregistry"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// idleConnsPerHost sizes the idle pool of NewHTTPClient.
const idleConnsPerHost = 16

// Neutral and provider roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleModel     = "model"
)

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params are the effective sampling parameters of a call.
type Params struct {
	Temperature      float64 `json:"temperature"`
	TopP             float64 `json:"top_p"`
	FrequencyPenalty float64 `json:"frequency_penalty"`
	PresencePenalty  float64 `json:"presence_penalty"`
	MaxTokens        int     `json:"max_tokens"`
}

// Request is a single provider invocation with already-shaped messages.
type Request struct {
	Model    string
	Messages []Message
	Params   Params
}

// Usage is the uniform outcome of a provider call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
	Text         string
	// Cost is set when the provider reported it; CostReported tells it apart from zero.
	Cost         decimal.Decimal
	CostReported bool
}

// Adapter is implemented once per provider family.
type Adapter interface {
	// ShapeMessages rewrites neutral messages into the roles the family accepts.
	ShapeMessages(messages []Message) []Message
	// ScoringMessages appends the grading instruction to unshaped messages.
	ScoringMessages(messages []Message, instruction string) []Message
	// Call performs one blocking completion.
	Call(ctx context.Context, req Request) (Usage, error)
}

// APIError is a non-2xx answer from a provider.
type APIError struct {
	Family     modelregistry.Family
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s API error (status %d, type %s): %s", e.Family, e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Family, e.StatusCode, e.Message)
}

// Result is a completed call with its shaped prompt and cost.
type Result struct {
	Usage   Usage
	Prompt  []Message
	Cost    decimal.Decimal
	Elapsed time.Duration
}

// Dispatcher routes calls to the adapter registered for a model's family.
type Dispatcher struct {
	adapters map[modelregistry.Family]Adapter
	timeout  time.Duration
	metrics  *metrics.RunMetrics
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithAdapter registers or replaces the adapter of a family.
func WithAdapter(family modelregistry.Family, adapter Adapter) Option {
	return func(d *Dispatcher) {
		if adapter != nil {
			d.adapters[family] = adapter
		}
	}
}

// WithMetrics records call latency on m.
func WithMetrics(m *metrics.RunMetrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithHTTPClient makes the built-in adapters send requests through client. Custom adapters are left alone.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client == nil {
			return
		}
		for family, adapter := range d.adapters {
			switch a := adapter.(type) {
			case *OpenAIAdapter:
				d.adapters[family] = a.withHTTPClient(client)
			case *AnthropicAdapter:
				a.client = client
			case *GeminiAdapter:
				a.client = client
			}
		}
	}
}

// NewHTTPClient returns a client whose pooled transport keeps more idle connections per provider host.
func NewHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = idleConnsPerHost
	return &http.Client{Transport: transport}
}

// NewDispatcher builds adapters for every family from configuration.
func NewDispatcher(cfg config.ProvidersConfig, opts ...Option) *Dispatcher {
	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = config.DefaultProviderTimeout
	}
	d := &Dispatcher{
		adapters: map[modelregistry.Family]Adapter{
			modelregistry.FamilyOpenAI:     NewOpenAIAdapter(modelregistry.FamilyOpenAI, cfg.OpenAI),
			modelregistry.FamilyPerplexity: NewOpenAIAdapter(modelregistry.FamilyPerplexity, cfg.Perplexity),
			modelregistry.FamilyDeepSeek:   NewOpenAIAdapter(modelregistry.FamilyDeepSeek, cfg.DeepSeek),
			modelregistry.FamilyAnthropic:  NewAnthropicAdapter(cfg.Anthropic),
			modelregistry.FamilyGemini:     NewGeminiAdapter(cfg.Gemini),
		},
		timeout: timeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Timeout returns the per-call deadline.
func (d *Dispatcher) Timeout() time.Duration { return d.timeout }

// Complete shapes messages for the model's family and performs one call.
func (d *Dispatcher) Complete(ctx context.Context, spec modelregistry.Spec, messages []Message, params Params) (Result, error) {
	adapter, err := d.adapter(spec.Family)
	if err != nil {
		return Result{}, err
	}
	return d.call(ctx, spec, adapter, adapter.ShapeMessages(messages), params)
}

// CompleteScoring appends the grading instruction, shapes the result and performs one call.
func (d *Dispatcher) CompleteScoring(ctx context.Context, spec modelregistry.Spec, messages []Message, instruction string, params Params) (Result, error) {
	adapter, err := d.adapter(spec.Family)
	if err != nil {
		return Result{}, err
	}
	withInstruction := adapter.ScoringMessages(messages, instruction)
	return d.call(ctx, spec, adapter, adapter.ShapeMessages(withInstruction), params)
}

// ShapeMessages exposes the family shaping without calling the provider.
func (d *Dispatcher) ShapeMessages(family modelregistry.Family, messages []Message) ([]Message, error) {
	adapter, err := d.adapter(family)
	if err != nil {
		return nil, err
	}
	return adapter.ShapeMessages(messages), nil
}

func (d *Dispatcher) adapter(family modelregistry.Family) (Adapter, error) {
	adapter, ok := d.adapters[family]
	if !ok || adapter == nil {
		return nil, apierr.Provider(0, fmt.Sprintf("no adapter for provider family %q", family), nil)
	}
	return adapter, nil
}

func (d *Dispatcher) call(ctx context.Context, spec modelregistry.Spec, adapter Adapter, shaped []Message, params Params) (Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	usage, errCall := adapter.Call(callCtx, Request{Model: spec.ProviderModel, Messages: shaped, Params: params})
	elapsed := time.Since(start)
	d.metrics.ObserveProviderCall(string(spec.Family), elapsed, errCall)
	if errCall != nil {
		log.WithFields(log.Fields{
			"family":  spec.Family,
			"model":   spec.ID,
			"elapsed": elapsed.String(),
		}).WithError(errCall).Warn("provider call failed")
		return Result{}, classify(errCall, d.timeout)
	}

	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}
	cost := usage.Cost
	if !usage.CostReported {
		cost = Cost(spec, usage.InputTokens, usage.OutputTokens)
	}
	return Result{Usage: usage, Prompt: shaped, Cost: cost, Elapsed: elapsed}, nil
}

func classify(err error, timeout time.Duration) error {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		msg := strings.TrimSpace(apiErr.Message)
		if msg == "" {
			msg = apiErr.Error()
		}
		return apierr.Provider(apiErr.StatusCode, msg, err)
	case errors.Is(err, context.DeadlineExceeded):
		return apierr.Provider(0, fmt.Sprintf("provider did not answer within %s", timeout), err)
	default:
		if status, msg, ok := openAIErrorDetail(err); ok {
			return apierr.Provider(status, msg, err)
		}
		return apierr.Provider(0, "", err)
	}
}
