package billing

import (
	"strings"

	"github.com/microapp-studio/runcore/internal/modelregistry"
)

// PlanClassifier maps payment price ids to plan tiers.
type PlanClassifier struct {
	individual map[string]struct{}
	enterprise map[string]struct{}
}

// NewPlanClassifier builds a classifier from the configured price id lists.
func NewPlanClassifier(individual, enterprise []string) PlanClassifier {
	return PlanClassifier{individual: toSet(individual), enterprise: toSet(enterprise)}
}

// Classify returns the plan for priceID; unknown and empty ids are free.
func (p PlanClassifier) Classify(priceID string) modelregistry.Plan {
	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		return modelregistry.PlanFree
	}
	if _, ok := p.enterprise[priceID]; ok {
		return modelregistry.PlanEnterprise
	}
	if _, ok := p.individual[priceID]; ok {
		return modelregistry.PlanIndividual
	}
	return modelregistry.PlanFree
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out[trimmed] = struct{}{}
		}
	}
	return out
}
