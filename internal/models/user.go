package models

import "time"

// User is an account that can own microapps and run them.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Email    string `gorm:"type:text;not null;uniqueIndex"` // Login email.
	Name     string `gorm:"type:text"`                      // Display name.
	Disabled bool   `gorm:"not null;default:false"`         // Whether the account is disabled.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
