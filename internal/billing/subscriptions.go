package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/microapp-studio/runcore/internal/apierr"
	"github.com/microapp-studio/runcore/internal/db"
	"github.com/microapp-studio/runcore/internal/models"
	"github.com/microapp-studio/runcore/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// FreeTierMonths is the length in months of synthesized free subscriptions and cycles.
const FreeTierMonths = 1

// Balance is the credit availability of one owner.
type Balance struct {
	CycleID        uint64 `json:"cycle_id,omitempty"`
	CycleRemaining int64  `json:"cycle_remaining"`
	TopUpRemaining int64  `json:"top_up_remaining"`
}

// Total returns cycle and top-up credits combined.
func (b Balance) Total() int64 {
	return b.CycleRemaining + b.TopUpRemaining
}

// SubscriptionStore reads subscription state and writes free-tier subscriptions and cycles.
type SubscriptionStore struct {
	db          *gorm.DB
	freeCredits int64
	now         func() time.Time
}

// NewSubscriptionStore returns a store granting freeCredits to synthesized free cycles.
func NewSubscriptionStore(conn *gorm.DB, freeCredits int64) *SubscriptionStore {
	return &SubscriptionStore{db: conn, freeCredits: freeCredits, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock overrides the time source.
func (s *SubscriptionStore) SetClock(now func() time.Time) {
	if s != nil && now != nil {
		s.now = now
	}
}

// Now returns the store's current time in UTC.
func (s *SubscriptionStore) Now() time.Time {
	return s.now().UTC()
}

// FreeCredits returns the allocation of a synthesized free cycle. The settings table wins over the configured value.
func (s *SubscriptionStore) FreeCredits() int64 {
	credits := int64(settings.IntValue(settings.FreePlanCreditsKey, int(s.freeCredits)))
	if credits < 0 {
		return 0
	}
	return credits
}

// Current returns the owner's most recently written subscription, or nil when the owner never subscribed.
func (s *SubscriptionStore) Current(ctx context.Context, userID uint64) (*models.Subscription, error) {
	return currentSubscription(s.db.WithContext(ctx), userID)
}

// ActiveCycle returns the owner's active cycle at the store's current time, or nil.
func (s *SubscriptionStore) ActiveCycle(ctx context.Context, userID uint64) (*models.BillingCycle, error) {
	var cycle models.BillingCycle
	errFind := activeCycleQuery(s.db.WithContext(ctx), userID, s.Now()).First(&cycle).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if errFind != nil {
		return nil, fmt.Errorf("billing: find active cycle: %w", errFind)
	}
	return &cycle, nil
}

// NeedsFreeTier reports whether sub must be replaced by a synthesized free tier at now.
func NeedsFreeTier(sub *models.Subscription, now time.Time) bool {
	if sub == nil {
		return true
	}
	return sub.Status == models.SubscriptionStatusCanceled || sub.PeriodEnd.Before(now)
}

// CreateFreeTier writes an active free subscription and its cycle for the owner.
// The owner row is locked first; when a concurrent caller already wrote a usable subscription,
// that subscription is returned with a nil cycle.
func (s *SubscriptionStore) CreateFreeTier(ctx context.Context, userID uint64) (*models.Subscription, *models.BillingCycle, error) {
	now := s.Now()
	var (
		sub   models.Subscription
		cycle *models.BillingCycle
	)
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errLock := lockOwner(tx, userID); errLock != nil {
			return errLock
		}
		existing, errSub := currentSubscription(tx, userID)
		if errSub != nil {
			return errSub
		}
		if !NeedsFreeTier(existing, now) {
			sub = *existing
			return nil
		}

		sub = models.Subscription{
			UserID:      userID,
			Status:      models.SubscriptionStatusActive,
			PeriodStart: now,
			PeriodEnd:   now.AddDate(0, FreeTierMonths, 0),
		}
		if errCreate := tx.Create(&sub).Error; errCreate != nil {
			return fmt.Errorf("billing: create free subscription: %w", errCreate)
		}
		created, errCycle := createFreeCycle(tx, userID, &sub.ID, s.FreeCredits(), now)
		if errCycle != nil {
			return errCycle
		}
		cycle = created
		return nil
	})
	if errTx != nil {
		return nil, nil, errTx
	}
	if cycle != nil {
		log.WithFields(log.Fields{"owner_id": userID, "subscription_id": sub.ID, "cycle_id": cycle.ID}).Info("billing: synthesized free tier")
	}
	return &sub, cycle, nil
}

// EnsureActiveCycle returns the owner's active cycle, creating a free one linked to subscriptionID when none exists.
func (s *SubscriptionStore) EnsureActiveCycle(ctx context.Context, userID uint64, subscriptionID *uint64) (*models.BillingCycle, error) {
	now := s.Now()
	var cycle *models.BillingCycle
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errLock := lockOwner(tx, userID); errLock != nil {
			return errLock
		}
		var existing models.BillingCycle
		errFind := activeCycleQuery(tx, userID, now).First(&existing).Error
		if errFind == nil {
			cycle = &existing
			return nil
		}
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			return fmt.Errorf("billing: find active cycle: %w", errFind)
		}
		created, errCreate := createFreeCycle(tx, userID, subscriptionID, s.FreeCredits(), now)
		if errCreate != nil {
			return errCreate
		}
		cycle = created
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return cycle, nil
}

// Balance sums the active cycle's remaining credits and every top-up remainder.
func (s *SubscriptionStore) Balance(ctx context.Context, userID uint64) (Balance, error) {
	var out Balance
	cycle, errCycle := s.ActiveCycle(ctx, userID)
	if errCycle != nil {
		return out, errCycle
	}
	if cycle != nil {
		out.CycleID = cycle.ID
		out.CycleRemaining = cycle.CreditsRemaining
	}
	var topUps int64
	errSum := s.db.WithContext(ctx).
		Model(&models.TopUp{}).
		Where("user_id = ? AND allocated_credits > used_credits", userID).
		Select("COALESCE(SUM(allocated_credits - used_credits), 0)").
		Scan(&topUps).Error
	if errSum != nil {
		return out, fmt.Errorf("billing: sum top-ups: %w", errSum)
	}
	out.TopUpRemaining = topUps
	return out, nil
}

// lockOwner row-locks the owner so free-tier synthesis and deductions for one owner run one at a time.
func lockOwner(tx *gorm.DB, userID uint64) error {
	var owner models.User
	if errFind := db.ForUpdate(tx).Select("id").First(&owner, userID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return apierr.UserNotFound(userID)
		}
		return fmt.Errorf("billing: lock owner: %w", errFind)
	}
	return nil
}

func currentSubscription(tx *gorm.DB, userID uint64) (*models.Subscription, error) {
	var sub models.Subscription
	errFind := tx.Where("user_id = ?", userID).
		Order("id DESC").
		First(&sub).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if errFind != nil {
		return nil, fmt.Errorf("billing: find subscription: %w", errFind)
	}
	return &sub, nil
}

func activeCycleQuery(tx *gorm.DB, userID uint64, at time.Time) *gorm.DB {
	return tx.Where("user_id = ? AND status = ? AND start_at <= ? AND end_at >= ?",
		userID, models.BillingCycleStatusOpen, at, at).
		Order("end_at ASC").
		Order("id ASC")
}

func createFreeCycle(tx *gorm.DB, userID uint64, subscriptionID *uint64, credits int64, now time.Time) (*models.BillingCycle, error) {
	cycle := models.BillingCycle{
		UserID:           userID,
		SubscriptionID:   subscriptionID,
		Status:           models.BillingCycleStatusOpen,
		StartAt:          now,
		EndAt:            now.AddDate(0, FreeTierMonths, 0),
		CreditsAllocated: credits,
		CreditsRemaining: credits,
	}
	if errCreate := tx.Create(&cycle).Error; errCreate != nil {
		return nil, fmt.Errorf("billing: create free cycle: %w", errCreate)
	}
	return &cycle, nil
}
