package modelregistry

import (
	"slices"

	"github.com/shopspring/decimal"
)

// Layer is a partial Spec. Nil fields inherit from the layer below.
type Layer struct {
	FriendlyName  *string
	ProviderModel *string

	TemperatureMin      *float64
	TemperatureMax      *float64
	TopPMin             *float64
	TopPMax             *float64
	FrequencyPenaltyMin *float64
	FrequencyPenaltyMax *float64
	PresencePenaltyMin  *float64
	PresencePenaltyMax  *float64

	DefaultTemperature      *float64
	DefaultTopP             *float64
	DefaultFrequencyPenalty *float64
	DefaultPresencePenalty  *float64
	DefaultMaxTokens        *int
	MaxTokensLimit          *int

	InputPrice  *decimal.Decimal
	OutputPrice *decimal.Decimal
	PriceScale  *decimal.Decimal

	SupportsImage *bool
	Stream        *bool
	Plans         []Plan
}

// Resolve merges base, family and model layers in that order and returns the result.
func Resolve(id string, family Family, base Spec, layers ...Layer) Spec {
	out := base.clone()
	out.ID = id
	out.Family = family
	out.FriendlyName = id
	out.ProviderModel = id
	for _, layer := range layers {
		apply(&out, layer)
	}
	return out
}

func apply(s *Spec, l Layer) {
	setString(&s.FriendlyName, l.FriendlyName)
	setString(&s.ProviderModel, l.ProviderModel)

	setFloat(&s.Temperature.Min, l.TemperatureMin)
	setFloat(&s.Temperature.Max, l.TemperatureMax)
	setFloat(&s.TopP.Min, l.TopPMin)
	setFloat(&s.TopP.Max, l.TopPMax)
	setFloat(&s.FrequencyPenalty.Min, l.FrequencyPenaltyMin)
	setFloat(&s.FrequencyPenalty.Max, l.FrequencyPenaltyMax)
	setFloat(&s.PresencePenalty.Min, l.PresencePenaltyMin)
	setFloat(&s.PresencePenalty.Max, l.PresencePenaltyMax)

	setFloat(&s.Defaults.Temperature, l.DefaultTemperature)
	setFloat(&s.Defaults.TopP, l.DefaultTopP)
	setFloat(&s.Defaults.FrequencyPenalty, l.DefaultFrequencyPenalty)
	setFloat(&s.Defaults.PresencePenalty, l.DefaultPresencePenalty)
	setInt(&s.Defaults.MaxTokens, l.DefaultMaxTokens)
	setInt(&s.MaxTokensLimit, l.MaxTokensLimit)

	setDecimal(&s.InputPrice, l.InputPrice)
	setDecimal(&s.OutputPrice, l.OutputPrice)
	setDecimal(&s.PriceScale, l.PriceScale)

	setBool(&s.SupportsImage, l.SupportsImage)
	setBool(&s.Stream, l.Stream)
	if l.Plans != nil {
		s.Plans = slices.Clone(l.Plans)
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setDecimal(dst *decimal.Decimal, v *decimal.Decimal) {
	if v != nil {
		*dst = *v
	}
}

func ptr[T any](v T) *T { return &v }

func price(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}
