package modelregistry

import (
	"fmt"
	"sort"
	"strings"
)

// Registry is an immutable, resolved model catalogue keyed by lower-cased identifier.
type Registry struct {
	byID map[string]Spec
	ids  []string
}

// PublicModel is the client-facing portion of a Spec.
type PublicModel struct {
	ID             string  `json:"id"`
	FriendlyName   string  `json:"friendly_name"`
	Family         Family  `json:"family"`
	TemperatureMin float64 `json:"temperature_min"`
	TemperatureMax float64 `json:"temperature_max"`
	MaxTokens      int     `json:"max_tokens"`
	SupportsImage  bool    `json:"supports_image"`
	Plans          []Plan  `json:"plans"`
}

// New resolves every entry against the base and family layers once.
func New(base Spec, families map[Family]Layer, entries []Entry) (*Registry, error) {
	r := &Registry{byID: make(map[string]Spec, len(entries))}
	for _, entry := range entries {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			return nil, fmt.Errorf("modelregistry: empty model id")
		}
		key := strings.ToLower(id)
		if _, exists := r.byID[key]; exists {
			return nil, fmt.Errorf("modelregistry: duplicate model %s", id)
		}
		familyLayer, ok := families[entry.Family]
		if !ok {
			return nil, fmt.Errorf("modelregistry: model %s has unknown family %q", id, entry.Family)
		}
		r.byID[key] = Resolve(id, entry.Family, base, familyLayer, entry.Layer)
		r.ids = append(r.ids, id)
	}
	sort.Strings(r.ids)
	return r, nil
}

// Default builds the registry from the built-in catalogue.
func Default() *Registry {
	r, err := New(BaseSpec(), FamilyLayers(), DefaultCatalog())
	if err != nil {
		panic(err)
	}
	return r
}

// Get returns the resolved spec for id.
func (r *Registry) Get(id string) (Spec, error) {
	if r == nil {
		return Spec{}, ErrModelNotFound
	}
	spec, ok := r.byID[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}
	return spec.clone(), nil
}

// IDs returns every model identifier in sorted order.
func (r *Registry) IDs() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.ids...)
}

// ModelsForPlan returns the identifiers a plan may use.
func (r *Registry) ModelsForPlan(plan Plan) []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.ids))
	for _, id := range r.ids {
		if r.byID[strings.ToLower(id)].AllowsPlan(plan) {
			out = append(out, id)
		}
	}
	return out
}

// PlansForModel returns the plans allowed to use id.
func (r *Registry) PlansForModel(id string) ([]Plan, error) {
	spec, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return spec.Plans, nil
}

// Public returns the client-facing listing, optionally restricted to a plan.
func (r *Registry) Public(plan Plan) []PublicModel {
	if r == nil {
		return nil
	}
	out := make([]PublicModel, 0, len(r.ids))
	for _, id := range r.ids {
		spec := r.byID[strings.ToLower(id)]
		if plan != "" && !spec.AllowsPlan(plan) {
			continue
		}
		out = append(out, PublicModel{
			ID:             spec.ID,
			FriendlyName:   spec.FriendlyName,
			Family:         spec.Family,
			TemperatureMin: spec.Temperature.Min,
			TemperatureMax: spec.Temperature.Max,
			MaxTokens:      spec.MaxTokensLimit,
			SupportsImage:  spec.SupportsImage,
			Plans:          append([]Plan(nil), spec.Plans...),
		})
	}
	return out
}
