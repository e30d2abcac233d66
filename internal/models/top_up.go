package models

import "time"

// TopUp is a credit pack drained FIFO once the active cycle is exhausted.
type TopUp struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index"`    // Owner user ID.
	User   *User  `gorm:"foreignKey:UserID"` // Owner user record.

	AllocatedCredits int64 `gorm:"not null;default:0"` // Credits purchased.
	UsedCredits      int64 `gorm:"not null;default:0"` // Credits consumed; never above AllocatedCredits.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Purchase timestamp; defines consumption order.
}

// Remaining returns the unconsumed credits of the pack.
func (t *TopUp) Remaining() int64 {
	if t == nil || t.UsedCredits >= t.AllocatedCredits {
		return 0
	}
	return t.AllocatedCredits - t.UsedCredits
}
