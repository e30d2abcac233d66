// Package quota admits runs: owners need credits and a usable subscription,
// guests are capped by distinct sessions per IP per day, and free-tier owners
// are capped on how many microapps they keep.
package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microapp-studio/runcore/internal/apierr"
	"github.com/microapp-studio/runcore/internal/billing"
	"github.com/microapp-studio/runcore/internal/modelregistry"
	"github.com/microapp-studio/runcore/internal/models"
	"github.com/microapp-studio/runcore/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Limits are the configured fallbacks; the settings table overrides them at runtime.
type Limits struct {
	GuestSessionLimit     int
	FreePlanMicroappLimit int
}

// Admission is the outcome of an admitted owner check.
type Admission struct {
	Plan         modelregistry.Plan
	Subscription *models.Subscription
	Balance      billing.Balance
}

// MicroappQuota summarizes the owner's microapp cap.
type MicroappQuota struct {
	Plan      modelregistry.Plan `json:"plan"`
	Count     int64              `json:"count"`
	Limit     int                `json:"limit"`
	Unlimited bool               `json:"unlimited"`
}

// Gate applies the admission policies.
type Gate struct {
	db     *gorm.DB
	subs   *billing.SubscriptionStore
	plans  billing.PlanClassifier
	limits Limits
}

// NewGate builds a gate over conn.
func NewGate(conn *gorm.DB, subs *billing.SubscriptionStore, plans billing.PlanClassifier, limits Limits) *Gate {
	return &Gate{db: conn, subs: subs, plans: plans, limits: limits}
}

// GuestSessionLimit returns the effective daily guest session cap.
func (g *Gate) GuestSessionLimit() int {
	return settings.IntValue(settings.GuestSessionLimitKey, g.limits.GuestSessionLimit)
}

// FreePlanMicroappLimit returns the effective microapp cap of free-tier owners.
func (g *Gate) FreePlanMicroappLimit() int {
	return settings.IntValue(settings.FreePlanMicroappLimitKey, g.limits.FreePlanMicroappLimit)
}

// CheckOwner admits a run billed to ownerID. A missing, ended or canceled subscription is replaced
// by a free tier first.
func (g *Gate) CheckOwner(ctx context.Context, ownerID uint64) (*Admission, error) {
	var owner models.User
	if errFind := g.db.WithContext(ctx).Select("id").First(&owner, ownerID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, apierr.UserNotFound(ownerID)
		}
		return nil, apierr.Server(fmt.Errorf("quota: find owner: %w", errFind))
	}

	sub, errSub := g.subs.Current(ctx, ownerID)
	if errSub != nil {
		return nil, apierr.Server(errSub)
	}
	if billing.NeedsFreeTier(sub, g.subs.Now()) {
		created, _, errCreate := g.subs.CreateFreeTier(ctx, ownerID)
		if errCreate != nil {
			return nil, apierr.Server(errCreate)
		}
		sub = created
	}
	if blockedStatus(sub.Status) {
		return nil, apierr.InvalidSubscription(sub.Status)
	}
	if _, errCycle := g.subs.EnsureActiveCycle(ctx, ownerID, &sub.ID); errCycle != nil {
		return nil, apierr.Server(errCycle)
	}

	balance, errBalance := g.subs.Balance(ctx, ownerID)
	if errBalance != nil {
		return nil, apierr.Server(errBalance)
	}
	if balance.Total() <= 0 {
		return nil, apierr.NoCredits()
	}
	return &Admission{Plan: g.plans.Classify(sub.PriceID), Subscription: sub, Balance: balance}, nil
}

// CheckGuest admits an anonymous run from clientIP. Only guest runs count toward the limit, and continuing
// a session already seen today is always allowed.
func (g *Gate) CheckGuest(ctx context.Context, clientIP, sessionID string) error {
	clientIP = strings.TrimSpace(clientIP)
	dayStart := startOfDay(g.subs.Now())
	runs := g.db.WithContext(ctx).Model(&models.Run{}).Where("user_id IS NULL AND user_ip = ? AND created_at >= ?", clientIP, dayStart)

	if sessionID = strings.TrimSpace(sessionID); sessionID != "" {
		var existing int64
		if errCount := runs.Session(&gorm.Session{}).Where("session_id = ?", sessionID).Count(&existing).Error; errCount != nil {
			return apierr.Server(fmt.Errorf("quota: count guest session: %w", errCount))
		}
		if existing > 0 {
			return nil
		}
	}

	var sessions int64
	if errCount := runs.Session(&gorm.Session{}).Distinct("session_id").Count(&sessions).Error; errCount != nil {
		return apierr.Server(fmt.Errorf("quota: count guest sessions: %w", errCount))
	}
	if limit := g.GuestSessionLimit(); sessions >= int64(limit) {
		log.WithFields(log.Fields{"client_ip": clientIP, "sessions": sessions, "limit": limit}).Info("quota: guest session limit reached")
		return apierr.QuotaExceeded()
	}
	return nil
}

// MicroappQuota reports the owner's microapp usage against the plan cap.
func (g *Gate) MicroappQuota(ctx context.Context, ownerID uint64) (MicroappQuota, error) {
	out := MicroappQuota{Plan: modelregistry.PlanFree}
	sub, errSub := g.subs.Current(ctx, ownerID)
	if errSub != nil {
		return out, apierr.Server(errSub)
	}
	if !billing.NeedsFreeTier(sub, g.subs.Now()) {
		out.Plan = g.plans.Classify(sub.PriceID)
	}
	if errCount := g.db.WithContext(ctx).
		Model(&models.Microapp{}).
		Where("owner_id = ? AND archived = ?", ownerID, false).
		Count(&out.Count).Error; errCount != nil {
		return out, apierr.Server(fmt.Errorf("quota: count microapps: %w", errCount))
	}
	if out.Plan != modelregistry.PlanFree {
		out.Unlimited = true
		return out, nil
	}
	out.Limit = g.FreePlanMicroappLimit()
	return out, nil
}

// CheckMicroappCap fails with microapp_limit when a free-tier owner is at the cap.
func (g *Gate) CheckMicroappCap(ctx context.Context, ownerID uint64) (MicroappQuota, error) {
	q, errQuota := g.MicroappQuota(ctx, ownerID)
	if errQuota != nil {
		return q, errQuota
	}
	if !q.Unlimited && q.Count >= int64(q.Limit) {
		return q, apierr.MicroappLimit(q.Limit)
	}
	return q, nil
}

func blockedStatus(status string) bool {
	switch status {
	case models.SubscriptionStatusIncomplete,
		models.SubscriptionStatusIncompleteExpired,
		models.SubscriptionStatusPastDue,
		models.SubscriptionStatusUnpaid:
		return true
	default:
		return false
	}
}

func startOfDay(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
