package modelregistry

import (
	"errors"
	"slices"
	"testing"

	"github.com/shopspring/decimal"
)

func TestResolveAppliesLayersInOrder(t *testing.T) {
	base := BaseSpec()
	family := Layer{TemperatureMax: ptr(1.0), DefaultTopP: ptr(UnsetSentinel), MaxTokensLimit: ptr(8192)}
	model := Layer{MaxTokensLimit: ptr(2048), InputPrice: price("3")}

	spec := Resolve("claude-x", FamilyAnthropic, base, family, model)

	if spec.Temperature.Max != 1 {
		t.Fatalf("expected family temperature max 1, got %v", spec.Temperature.Max)
	}
	if spec.Temperature.Min != 0 {
		t.Fatalf("expected base temperature min 0, got %v", spec.Temperature.Min)
	}
	if spec.Defaults.TopP != UnsetSentinel {
		t.Fatalf("expected unset top_p default, got %v", spec.Defaults.TopP)
	}
	if spec.MaxTokensLimit != 2048 {
		t.Fatalf("expected model override 2048, got %d", spec.MaxTokensLimit)
	}
	if !spec.InputPrice.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("expected input price 3, got %s", spec.InputPrice)
	}
	if spec.ProviderModel != "claude-x" || spec.FriendlyName != "claude-x" {
		t.Fatalf("expected id fallbacks, got %q/%q", spec.ProviderModel, spec.FriendlyName)
	}
}

func TestDefaultRegistryLookups(t *testing.T) {
	r := Default()

	spec, errGet := r.Get("GPT-4o-mini")
	if errGet != nil {
		t.Fatalf("get: %v", errGet)
	}
	if spec.Family != FamilyOpenAI {
		t.Fatalf("expected openai family, got %s", spec.Family)
	}

	if _, errMissing := r.Get("gpt-2"); !errors.Is(errMissing, ErrModelNotFound) {
		t.Fatalf("expected ErrModelNotFound, got %v", errMissing)
	}

	free := r.ModelsForPlan(PlanFree)
	if slices.Contains(free, "gpt-4o") {
		t.Fatalf("gpt-4o must not be available on the free plan")
	}
	if !slices.Contains(free, "gpt-4o-mini") {
		t.Fatalf("gpt-4o-mini must be available on the free plan")
	}

	plans, errPlans := r.PlansForModel("claude-3-7-sonnet")
	if errPlans != nil {
		t.Fatalf("plans: %v", errPlans)
	}
	if !slices.Equal(plans, []Plan{PlanIndividual, PlanEnterprise}) {
		t.Fatalf("unexpected plans %v", plans)
	}
}

func TestRegistryGetReturnsCopies(t *testing.T) {
	r := Default()
	spec, _ := r.Get("gpt-4o-mini")
	spec.Plans[0] = PlanEnterprise

	again, _ := r.Get("gpt-4o-mini")
	if again.Plans[0] != PlanFree {
		t.Fatalf("registry entry was mutated through a returned spec")
	}
}

func TestNewRejectsDuplicatesAndUnknownFamilies(t *testing.T) {
	families := FamilyLayers()
	if _, err := New(BaseSpec(), families, []Entry{{ID: "a", Family: FamilyOpenAI}, {ID: "A", Family: FamilyOpenAI}}); err == nil {
		t.Fatalf("expected duplicate error")
	}
	if _, err := New(BaseSpec(), families, []Entry{{ID: "a", Family: Family("mistral")}}); err == nil {
		t.Fatalf("expected unknown family error")
	}
}

func TestPublicListingFiltersByPlan(t *testing.T) {
	r := Default()
	all := r.Public("")
	free := r.Public(PlanFree)
	if len(free) >= len(all) {
		t.Fatalf("expected free listing to be smaller than full listing")
	}
	for _, m := range free {
		if m.TemperatureMax <= m.TemperatureMin {
			t.Fatalf("model %s has an empty temperature range", m.ID)
		}
	}
}
