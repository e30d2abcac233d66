package modelregistry

import "github.com/shopspring/decimal"

// Entry declares one model through its family and its own overrides.
type Entry struct {
	ID     string
	Family Family
	Layer  Layer
}

// BaseSpec holds the values every model starts from.
func BaseSpec() Spec {
	return Spec{
		Temperature:      Range{Min: 0, Max: 2},
		TopP:             Range{Min: 0, Max: 1},
		FrequencyPenalty: Range{Min: -2, Max: 2},
		PresencePenalty:  Range{Min: -2, Max: 2},
		Defaults: Defaults{
			Temperature:      1,
			TopP:             1,
			FrequencyPenalty: 0,
			PresencePenalty:  0,
			MaxTokens:        1000,
		},
		MaxTokensLimit: 4096,
		InputPrice:     decimal.Zero,
		OutputPrice:    decimal.Zero,
		PriceScale:     decimal.NewFromInt(1_000_000),
		Stream:         true,
		Plans:          []Plan{PlanFree, PlanIndividual, PlanEnterprise},
	}
}

var paidPlans = []Plan{PlanIndividual, PlanEnterprise}

// FamilyLayers holds per-family defaults.
func FamilyLayers() map[Family]Layer {
	return map[Family]Layer{
		FamilyOpenAI: {
			MaxTokensLimit: ptr(16384),
		},
		FamilyAnthropic: {
			TemperatureMax:          ptr(1.0),
			DefaultTopP:             ptr(UnsetSentinel),
			DefaultFrequencyPenalty: ptr(UnsetSentinel),
			DefaultPresencePenalty:  ptr(UnsetSentinel),
			MaxTokensLimit:          ptr(8192),
			SupportsImage:           ptr(true),
		},
		FamilyGemini: {
			DefaultTopP:    ptr(0.95),
			MaxTokensLimit: ptr(8192),
			SupportsImage:  ptr(true),
		},
		FamilyPerplexity: {
			TemperatureMax:      ptr(1.99),
			DefaultTopP:         ptr(0.9),
			FrequencyPenaltyMin: ptr(0.0),
			Stream:              ptr(false),
		},
		FamilyDeepSeek: {
			MaxTokensLimit: ptr(8192),
		},
	}
}

// DefaultCatalog lists the models offered out of the box. Prices are USD per million tokens.
func DefaultCatalog() []Entry {
	return []Entry{
		{ID: "gpt-4o-mini", Family: FamilyOpenAI, Layer: Layer{
			FriendlyName:  ptr("GPT-4o mini"),
			InputPrice:    price("0.15"),
			OutputPrice:   price("0.60"),
			SupportsImage: ptr(true),
		}},
		{ID: "gpt-4o", Family: FamilyOpenAI, Layer: Layer{
			FriendlyName:  ptr("GPT-4o"),
			InputPrice:    price("2.50"),
			OutputPrice:   price("10.00"),
			SupportsImage: ptr(true),
			Plans:         paidPlans,
		}},
		{ID: "gpt-4.1-mini", Family: FamilyOpenAI, Layer: Layer{
			FriendlyName:  ptr("GPT-4.1 mini"),
			InputPrice:    price("0.40"),
			OutputPrice:   price("1.60"),
			SupportsImage: ptr(true),
		}},
		{ID: "claude-3-5-haiku", Family: FamilyAnthropic, Layer: Layer{
			FriendlyName:  ptr("Claude 3.5 Haiku"),
			ProviderModel: ptr("claude-3-5-haiku-20241022"),
			InputPrice:    price("0.80"),
			OutputPrice:   price("4.00"),
		}},
		{ID: "claude-3-7-sonnet", Family: FamilyAnthropic, Layer: Layer{
			FriendlyName:  ptr("Claude 3.7 Sonnet"),
			ProviderModel: ptr("claude-3-7-sonnet-20250219"),
			InputPrice:    price("3.00"),
			OutputPrice:   price("15.00"),
			Plans:         paidPlans,
		}},
		{ID: "gemini-2.0-flash", Family: FamilyGemini, Layer: Layer{
			FriendlyName: ptr("Gemini 2.0 Flash"),
			InputPrice:   price("0.10"),
			OutputPrice:  price("0.40"),
		}},
		{ID: "gemini-1.5-pro", Family: FamilyGemini, Layer: Layer{
			FriendlyName: ptr("Gemini 1.5 Pro"),
			InputPrice:   price("1.25"),
			OutputPrice:  price("5.00"),
			Plans:        paidPlans,
		}},
		{ID: "sonar", Family: FamilyPerplexity, Layer: Layer{
			FriendlyName: ptr("Perplexity Sonar"),
			InputPrice:   price("1.00"),
			OutputPrice:  price("1.00"),
		}},
		{ID: "sonar-pro", Family: FamilyPerplexity, Layer: Layer{
			FriendlyName: ptr("Perplexity Sonar Pro"),
			InputPrice:   price("3.00"),
			OutputPrice:  price("15.00"),
			Plans:        paidPlans,
		}},
		{ID: "deepseek-chat", Family: FamilyDeepSeek, Layer: Layer{
			FriendlyName: ptr("DeepSeek V3"),
			InputPrice:   price("0.27"),
			OutputPrice:  price("1.10"),
		}},
		{ID: "deepseek-reasoner", Family: FamilyDeepSeek, Layer: Layer{
			FriendlyName:   ptr("DeepSeek R1"),
			InputPrice:     price("0.55"),
			OutputPrice:    price("2.19"),
			MaxTokensLimit: ptr(32768),
			Plans:          paidPlans,
		}},
	}
}
