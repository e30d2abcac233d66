package models

import "time"

// Subscription statuses as delivered by the payment collaborator.
const (
	SubscriptionStatusActive            = "active"
	SubscriptionStatusTrialing          = "trialing"
	SubscriptionStatusCanceled          = "canceled"
	SubscriptionStatusPastDue           = "past_due"
	SubscriptionStatusIncomplete        = "incomplete"
	SubscriptionStatusIncompleteExpired = "incomplete_expired"
	SubscriptionStatusUnpaid            = "unpaid"
)

// Subscription is the owner's plan state. An empty PriceID denotes the free tier.
type Subscription struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index"`     // Subscribed user ID.
	User   *User  `gorm:"foreignKey:UserID"`  // Subscribed user record.
	Status string `gorm:"type:text;not null"` // Subscription status.

	PriceID string `gorm:"type:text;not null;default:''"` // Payment-provider price identifier.

	PeriodStart       time.Time `gorm:"not null"`               // Current period start.
	PeriodEnd         time.Time `gorm:"not null;index"`         // Current period end.
	CancelAtPeriodEnd bool      `gorm:"not null;default:false"` // Whether the plan ends with the period.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`       // Last update timestamp.
}
