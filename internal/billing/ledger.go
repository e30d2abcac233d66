package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/microapp-studio/runcore/internal/db"
	"github.com/microapp-studio/runcore/internal/metrics"
	"github.com/microapp-studio/runcore/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const maxDeductAttempts = 3

var errConflict = errors.New("billing: balance changed during deduction")

// Charge is one metered deduction request.
type Charge struct {
	OwnerID    uint64
	ConsumerID *uint64
	RunID      uint64
	Credits    int64
}

// Receipt describes what a deduction actually took.
type Receipt struct {
	EventID   uint64
	CycleID   uint64
	TopUpID   *uint64
	Requested int64
	Charged   int64
	FromCycle int64
	FromTopUp int64
}

// Shortfall returns the requested credits the owner could not cover.
func (r *Receipt) Shortfall() int64 {
	if r == nil || r.Charged >= r.Requested {
		return 0
	}
	return r.Requested - r.Charged
}

// Ledger deducts credits from the owner's active cycle, then from top-ups oldest first.
type Ledger struct {
	db      *gorm.DB
	subs    *SubscriptionStore
	locker  Locker
	metrics *metrics.RunMetrics
}

// LedgerOption customizes a Ledger.
type LedgerOption func(*Ledger)

// WithLocker replaces the in-process owner lock.
func WithLocker(locker Locker) LedgerOption {
	return func(l *Ledger) {
		if locker != nil {
			l.locker = locker
		}
	}
}

// WithLedgerMetrics records charged credits and shortfalls.
func WithLedgerMetrics(m *metrics.RunMetrics) LedgerOption {
	return func(l *Ledger) { l.metrics = m }
}

// NewLedger builds a ledger over conn. Free cycles are created through subs.
func NewLedger(conn *gorm.DB, subs *SubscriptionStore, opts ...LedgerOption) *Ledger {
	l := &Ledger{db: conn, subs: subs, locker: NewLocalLocker()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Deduct charges c.Credits to the owner and writes one usage event.
// A zero charge writes nothing and returns a nil receipt. When the owner cannot cover the full amount
// the available credits are taken and the receipt carries the shortfall.
func (l *Ledger) Deduct(ctx context.Context, c Charge) (*Receipt, error) {
	if c.Credits <= 0 {
		return nil, nil
	}
	unlock, errLock := l.locker.Lock(ctx, ownerLockKey(c.OwnerID))
	if errLock != nil {
		return nil, fmt.Errorf("billing: lock owner %d: %w", c.OwnerID, errLock)
	}
	defer unlock()

	var (
		receipt *Receipt
		errTx   error
	)
	for attempt := 1; attempt <= maxDeductAttempts; attempt++ {
		receipt, errTx = l.deductOnce(ctx, c)
		if !errors.Is(errTx, errConflict) {
			break
		}
		log.WithFields(log.Fields{"owner_id": c.OwnerID, "run_id": c.RunID, "attempt": attempt}).
			Debug("billing: deduction conflict, retrying")
	}
	if errTx != nil {
		return nil, errTx
	}

	l.metrics.ObserveDeduction(receipt.Requested, receipt.Charged)
	if shortfall := receipt.Shortfall(); shortfall > 0 {
		log.WithFields(log.Fields{
			"owner_id":  c.OwnerID,
			"run_id":    c.RunID,
			"requested": receipt.Requested,
			"charged":   receipt.Charged,
		}).Warn("billing: insufficient credits, deduction clamped")
	}
	return receipt, nil
}

func (l *Ledger) deductOnce(ctx context.Context, c Charge) (*Receipt, error) {
	now := l.subs.Now()
	receipt := &Receipt{Requested: c.Credits}

	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errLock := lockOwner(tx, c.OwnerID); errLock != nil {
			return errLock
		}

		cycle, errCycle := l.lockActiveCycle(tx, c.OwnerID, now)
		if errCycle != nil {
			return errCycle
		}
		receipt.CycleID = cycle.ID

		remaining := c.Credits
		if take := min(cycle.CreditsRemaining, remaining); take > 0 {
			res := tx.Model(&models.BillingCycle{}).
				Where("id = ? AND credits_remaining >= ?", cycle.ID, take).
				Updates(map[string]any{
					"credits_used":      gorm.Expr("credits_used + ?", take),
					"credits_remaining": gorm.Expr("credits_remaining - ?", take),
					"updated_at":        now,
				})
			if res.Error != nil {
				return fmt.Errorf("billing: deduct cycle: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return errConflict
			}
			remaining -= take
			receipt.FromCycle = take
		}

		if remaining > 0 {
			var topUps []models.TopUp
			if errFind := db.ForUpdate(tx).
				Where("user_id = ? AND allocated_credits > used_credits", c.OwnerID).
				Order("created_at ASC").
				Order("id ASC").
				Find(&topUps).Error; errFind != nil {
				return fmt.Errorf("billing: list top-ups: %w", errFind)
			}
			for i := range topUps {
				if remaining == 0 {
					break
				}
				topUp := &topUps[i]
				take := min(topUp.Remaining(), remaining)
				if take <= 0 {
					continue
				}
				res := tx.Model(&models.TopUp{}).
					Where("id = ? AND used_credits + ? <= allocated_credits", topUp.ID, take).
					Update("used_credits", gorm.Expr("used_credits + ?", take))
				if res.Error != nil {
					return fmt.Errorf("billing: deduct top-up: %w", res.Error)
				}
				if res.RowsAffected == 0 {
					return errConflict
				}
				remaining -= take
				receipt.FromTopUp += take
				id := topUp.ID
				receipt.TopUpID = &id
			}
		}
		receipt.Charged = c.Credits - remaining

		event := models.UsageEvent{
			BillingCycleID:   cycle.ID,
			TopUpID:          receipt.TopUpID,
			UserID:           c.OwnerID,
			ConsumerUserID:   c.ConsumerID,
			RunID:            c.RunID,
			CreditsCharged:   receipt.Charged,
			CreditsRequested: c.Credits,
		}
		if errCreate := tx.Create(&event).Error; errCreate != nil {
			return fmt.Errorf("billing: write usage event: %w", errCreate)
		}
		receipt.EventID = event.ID
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return receipt, nil
}

func (l *Ledger) lockActiveCycle(tx *gorm.DB, ownerID uint64, now time.Time) (*models.BillingCycle, error) {
	var cycle models.BillingCycle
	errFind := activeCycleQuery(db.ForUpdate(tx), ownerID, now).First(&cycle).Error
	if errFind == nil {
		return &cycle, nil
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("billing: find active cycle: %w", errFind)
	}

	var subscriptionID *uint64
	sub, errSub := currentSubscription(tx, ownerID)
	if errSub != nil {
		return nil, errSub
	}
	if sub != nil {
		subscriptionID = &sub.ID
	}
	created, errCreate := createFreeCycle(tx, ownerID, subscriptionID, l.subs.FreeCredits(), now)
	if errCreate != nil {
		return nil, errCreate
	}
	log.WithFields(log.Fields{"owner_id": ownerID, "cycle_id": created.ID}).Info("billing: created free cycle")
	return created, nil
}
