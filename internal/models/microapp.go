package models

import "time"

// Microapp privacy levels.
const (
	MicroappPrivacyPrivate = "private"
	MicroappPrivacyPublic  = "public"
)

// Microapp is an authored multi-phase interaction. The run core only reads it.
type Microapp struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	OwnerID uint64 `gorm:"not null;index"`                       // Owning user ID; bears the credit cost.
	Owner   *User  `gorm:"foreignKey:OwnerID"`                   // Owning user record.
	HashID  string `gorm:"type:text;not null;uniqueIndex"`       // Stable public hash identifier.
	Title   string `gorm:"type:text"`                            // Display title.
	Privacy string `gorm:"type:text;not null;default:'private'"` // Visibility level.

	Archived bool `gorm:"not null;default:false;index"` // Archived apps do not count toward the plan cap.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
