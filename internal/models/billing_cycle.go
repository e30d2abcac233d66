package models

import "time"

// Billing cycle statuses.
const (
	BillingCycleStatusOpen   = "open"
	BillingCycleStatusClosed = "closed"
	BillingCycleStatusError  = "error"
)

// BillingCycle is a time-bounded credit allocation tied to a subscription period.
// CreditsUsed + CreditsRemaining always equals CreditsAllocated.
type BillingCycle struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID         uint64        `gorm:"not null;index:idx_billing_cycles_user_status,priority:1"` // Owner user ID.
	SubscriptionID *uint64       `gorm:"index"`                                                    // Related subscription ID.
	Subscription   *Subscription `gorm:"foreignKey:SubscriptionID"`                                // Related subscription record.

	Status  string    `gorm:"type:text;not null;index:idx_billing_cycles_user_status,priority:2"` // Cycle status.
	StartAt time.Time `gorm:"not null"`                                                           // Cycle start (inclusive).
	EndAt   time.Time `gorm:"not null;index"`                                                     // Cycle end (inclusive).

	CreditsAllocated int64 `gorm:"not null;default:0"` // Credits granted for the cycle.
	CreditsUsed      int64 `gorm:"not null;default:0"` // Credits consumed so far.
	CreditsRemaining int64 `gorm:"not null;default:0"` // Credits still available.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// ActiveAt reports whether the cycle is open and covers at.
func (c *BillingCycle) ActiveAt(at time.Time) bool {
	if c == nil || c.Status != BillingCycleStatusOpen {
		return false
	}
	return !at.Before(c.StartAt) && !at.After(c.EndAt)
}
