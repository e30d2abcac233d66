package provider

import (
	"github.com/microapp-studio/runcore/internal/modelregistry"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// CostPrecision is the number of decimal places kept for computed costs.
const CostPrecision = 6

// Cost computes (input*inputPrice + output*outputPrice) / scale, rounded to CostPrecision places.
func Cost(spec modelregistry.Spec, inputTokens, outputTokens int64) decimal.Decimal {
	scale := spec.PriceScale
	if scale.IsZero() {
		return decimal.Zero
	}
	in := decimal.NewFromInt(inputTokens).Mul(spec.InputPrice)
	out := decimal.NewFromInt(outputTokens).Mul(spec.OutputPrice)
	return in.Add(out).DivRound(scale, CostPrecision+4).Round(CostPrecision)
}

// ReportedCost extracts a provider- or gateway-reported USD cost from a raw response body.
func ReportedCost(body []byte) (decimal.Decimal, bool) {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return decimal.Zero, false
	}
	for _, path := range []string{"usage.cost.total_cost", "usage.cost", "response_cost"} {
		value := gjson.GetBytes(body, path)
		if value.Type != gjson.Number && value.Type != gjson.String {
			continue
		}
		cost, err := decimal.NewFromString(value.String())
		if err != nil || cost.IsNegative() {
			continue
		}
		return cost, true
	}
	return decimal.Zero, false
}
