package models

import (
	"encoding/json"
	"time"
)

// Setting is a runtime override read by the settings snapshot, e.g. GUEST_USER_SESSION_LIMIT.
type Setting struct {
	Key       string          `gorm:"type:varchar(255);primaryKey"`                      // Override name.
	Value     json.RawMessage `gorm:"type:jsonb"`                                        // JSON number, string or {"value": ...}.
	UpdatedAt time.Time       `gorm:"not null;autoUpdateTime;default:CURRENT_TIMESTAMP"` // Last change, drives snapshot freshness.
}
