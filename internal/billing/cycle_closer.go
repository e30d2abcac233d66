package billing

import (
	"context"
	"time"

	"github.com/microapp-studio/runcore/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const defaultCycleCloseInterval = 10 * time.Minute

// CycleCloser periodically closes open billing cycles whose end has passed.
type CycleCloser struct {
	db       *gorm.DB
	interval time.Duration
	now      func() time.Time
}

// NewCycleCloser returns nil when db is nil.
func NewCycleCloser(db *gorm.DB, interval time.Duration) *CycleCloser {
	if db == nil {
		return nil
	}
	if interval <= 0 {
		interval = defaultCycleCloseInterval
	}
	return &CycleCloser{
		db:       db,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the close loop in a background goroutine.
func (c *CycleCloser) Start(ctx context.Context) {
	if c == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go c.run(ctx)
	log.Infof("billing cycle closer started (interval=%s)", c.interval)
}

func (c *CycleCloser) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if _, errClose := c.CloseExpired(ctx); errClose != nil {
			log.WithError(errClose).Warn("billing cycle closer: close expired cycles failed")
		}
		if ctx.Err() != nil {
			return
		}
		timer := time.NewTimer(c.interval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

// CloseExpired marks open cycles with end_at before now as closed and returns how many changed.
func (c *CycleCloser) CloseExpired(ctx context.Context) (int64, error) {
	if c == nil || c.db == nil {
		return 0, nil
	}
	now := c.now().UTC()
	res := c.db.WithContext(ctx).
		Model(&models.BillingCycle{}).
		Where("status = ? AND end_at < ?", models.BillingCycleStatusOpen, now).
		Updates(map[string]any{"status": models.BillingCycleStatusClosed, "updated_at": now})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		log.Infof("billing cycle closer: closed %d cycles (cutoff=%s)", res.RowsAffected, now.Format(time.RFC3339))
	}
	return res.RowsAffected, nil
}
