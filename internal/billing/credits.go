// Package billing owns credit accounting: the credit formula, plan classification,
// subscription and cycle lookups, owner-scoped locking and the deduction ledger.
package billing

import "github.com/shopspring/decimal"

const (
	// CreditsMultiplier converts USD into credits (1 credit = $0.0001).
	CreditsMultiplier = 10000
	// MinimumCredits is charged for any run with a positive cost.
	MinimumCredits = 1
)

// CreditsForCost returns max(ceil(cost * CreditsMultiplier), MinimumCredits) for positive costs and 0 otherwise.
func CreditsForCost(cost decimal.Decimal) int64 {
	if !cost.IsPositive() {
		return 0
	}
	credits := cost.Mul(decimal.NewFromInt(CreditsMultiplier)).Ceil().IntPart()
	if credits < MinimumCredits {
		return MinimumCredits
	}
	return credits
}
