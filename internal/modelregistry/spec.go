// Package modelregistry holds the static catalogue of supported LLMs and their per-model limits.
package modelregistry

import (
	"errors"
	"slices"

	"github.com/shopspring/decimal"
)

// ErrModelNotFound is returned when an identifier is absent from the registry.
var ErrModelNotFound = errors.New("modelregistry: model not found")

// Family identifies the provider protocol a model is served through.
type Family string

// Supported provider families.
const (
	FamilyOpenAI     Family = "openai"
	FamilyAnthropic  Family = "anthropic"
	FamilyGemini     Family = "gemini"
	FamilyPerplexity Family = "perplexity"
	FamilyDeepSeek   Family = "deepseek"
)

// Families lists every supported family in a stable order.
var Families = []Family{FamilyOpenAI, FamilyAnthropic, FamilyGemini, FamilyPerplexity, FamilyDeepSeek}

// Plan is a subscription tier that may use a model.
type Plan string

// Subscription tiers.
const (
	PlanFree       Plan = "free"
	PlanIndividual Plan = "individual"
	PlanEnterprise Plan = "enterprise"
)

// ParsePlan normalizes a plan name; ok is false for unknown plans.
func ParsePlan(raw string) (Plan, bool) {
	switch Plan(raw) {
	case PlanFree, PlanIndividual, PlanEnterprise:
		return Plan(raw), true
	default:
		return "", false
	}
}

// UnsetSentinel marks a parameter as intentionally not sent to providers that accept it (Anthropic).
const UnsetSentinel = -1.0

// Range is an inclusive numeric bound.
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether v lies within the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Defaults are the parameter values used when a run leaves them out.
type Defaults struct {
	Temperature      float64
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
	MaxTokens        int
}

// Spec is a fully resolved, immutable model entry.
type Spec struct {
	ID            string
	FriendlyName  string
	Family        Family
	ProviderModel string // Identifier sent to the provider.

	Temperature      Range
	TopP             Range
	FrequencyPenalty Range
	PresencePenalty  Range
	Defaults         Defaults
	MaxTokensLimit   int

	InputPrice  decimal.Decimal // Price per PriceScale input tokens.
	OutputPrice decimal.Decimal // Price per PriceScale output tokens.
	PriceScale  decimal.Decimal

	SupportsImage bool
	Stream        bool // Informational; runs never stream.
	Plans         []Plan
}

// AllowsPlan reports whether plan may use the model.
func (s Spec) AllowsPlan(plan Plan) bool {
	return slices.Contains(s.Plans, plan)
}

func (s Spec) clone() Spec {
	s.Plans = slices.Clone(s.Plans)
	return s
}
