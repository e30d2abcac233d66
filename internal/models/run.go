package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Run response types.
const (
	ResponseTypeAI    = "AI"
	ResponseTypeFixed = "Fixed_Response"
	// ResponseTypeError is a valid stored value for rows written by other services.
	// The run path never persists failed runs, so it never writes it.
	ResponseTypeError = "Error"
)

// Run is one execution of a microapp phase. Only Satisfaction and Feedback change after creation.
type Run struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	MicroappID uint64  `gorm:"not null;index"`                  // Executed microapp ID.
	UserID     *uint64 `gorm:"index"`                           // Acting user; nil for guests.
	OwnerID    uint64  `gorm:"not null;index"`                  // Microapp owner at run time.
	SessionID  string  `gorm:"type:varchar(36);not null;index"` // Client session identifier.
	ModelID    string  `gorm:"type:text;not null;default:''"`   // Public model identifier.
	Phase      string  `gorm:"type:text;not null"`              // Classified phase kind.

	Response     string `gorm:"type:text"`          // Text shown to the user.
	ResponseType string `gorm:"type:text;not null"` // AI, Fixed_Response or Error.

	InputTokens  int64           `gorm:"not null;default:0"`                     // Prompt tokens across calls.
	OutputTokens int64           `gorm:"not null;default:0"`                     // Completion tokens across calls.
	Cost         decimal.Decimal `gorm:"type:decimal(20,10);not null;default:0"` // Provider cost in USD.
	Credits      int64           `gorm:"not null;default:0"`                     // Credits declared for the run.

	Params datatypes.JSON `gorm:"type:jsonb"` // Effective model parameters.
	Prompt datatypes.JSON `gorm:"type:jsonb"` // Messages sent to the provider.
	Score  datatypes.JSON `gorm:"type:jsonb"` // Raw grading output for scored runs.

	RunPassed    bool     `gorm:"not null;default:false"` // Scored run verdict.
	MinimumScore *float64 // Pass threshold for scored runs.

	Satisfaction *int   // User rating in {-1, 0, 1}.
	Feedback     string `gorm:"type:text"` // Free-text user feedback.

	UserIP    string `gorm:"type:text;index"` // Client IP snapshot.
	AppHashID string `gorm:"type:text"`       // Microapp hash snapshot.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Run timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`       // Last patch timestamp.
}
