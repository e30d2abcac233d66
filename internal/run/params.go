package run

import (
	"fmt"
	"math"

	"github.com/microapp-studio/runcore/internal/apierr"
	"github.com/microapp-studio/runcore/internal/modelregistry"
	"github.com/microapp-studio/runcore/internal/provider"
)

// Overrides are per-run sampling parameters. Nil fields fall back to the model defaults.
type Overrides struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	MaxTokens        *int     `json:"max_tokens,omitempty"`
}

// ValidateParams fills defaults from spec and bounds-checks every supplied value.
// Anthropic models accept -1 as "leave unset" for any float parameter.
func ValidateParams(spec modelregistry.Spec, o Overrides) (provider.Params, error) {
	params := provider.Params{
		Temperature:      spec.Defaults.Temperature,
		TopP:             spec.Defaults.TopP,
		FrequencyPenalty: spec.Defaults.FrequencyPenalty,
		PresencePenalty:  spec.Defaults.PresencePenalty,
		MaxTokens:        spec.Defaults.MaxTokens,
	}
	sentinelAllowed := spec.Family == modelregistry.FamilyAnthropic

	checks := []struct {
		name  string
		value *float64
		rng   modelregistry.Range
		dst   *float64
	}{
		{"temperature", o.Temperature, spec.Temperature, &params.Temperature},
		{"top_p", o.TopP, spec.TopP, &params.TopP},
		{"frequency_penalty", o.FrequencyPenalty, spec.FrequencyPenalty, &params.FrequencyPenalty},
		{"presence_penalty", o.PresencePenalty, spec.PresencePenalty, &params.PresencePenalty},
	}
	for _, c := range checks {
		if c.value == nil {
			continue
		}
		v := *c.value
		if sentinelAllowed && v == modelregistry.UnsetSentinel {
			*c.dst = v
			continue
		}
		if math.IsNaN(v) || !c.rng.Contains(v) {
			return provider.Params{}, apierr.InvalidParameter(c.name, fmt.Sprintf("must be between %g and %g", c.rng.Min, c.rng.Max))
		}
		*c.dst = v
	}

	if o.MaxTokens != nil {
		limit := spec.MaxTokensLimit
		if *o.MaxTokens < 1 || (limit > 0 && *o.MaxTokens > limit) {
			return provider.Params{}, apierr.InvalidParameter("max_tokens", fmt.Sprintf("must be between 1 and %d", limit))
		}
		params.MaxTokens = *o.MaxTokens
	}
	return params, nil
}
