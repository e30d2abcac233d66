package models

import "time"

// UsageEvent records one metered deduction for a run.
type UsageEvent struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	BillingCycleID uint64  `gorm:"not null;index"`       // Cycle charged first.
	TopUpID        *uint64 `gorm:"index"`                // Last top-up touched, if any.
	UserID         uint64  `gorm:"not null;index"`       // Owner charged.
	ConsumerUserID *uint64 `gorm:"index"`                // Acting user; nil for guests.
	RunID          uint64  `gorm:"not null;uniqueIndex"` // Metered run.

	CreditsCharged   int64 `gorm:"not null;default:0"` // Credits actually deducted.
	CreditsRequested int64 `gorm:"not null;default:0"` // Credits declared on the run.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Event timestamp.
}
