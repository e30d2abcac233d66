package run

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microapp-studio/runcore/internal/apierr"
	"github.com/microapp-studio/runcore/internal/models"
	"github.com/tidwall/gjson"
	"gorm.io/gorm"
)

// Listing limits.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// immutableFields may never appear in a PATCH body.
var immutableFields = []string{"ma_id", "microapp_id", "user_id", "owner_id", "user_ip", "app_hash_id"}

// Filter narrows GET /run to runs the caller made or owns. EndBefore is exclusive.
type Filter struct {
	CallerID   uint64
	UserID     *uint64
	MicroappID *uint64
	SessionID  string
	StartAt    *time.Time
	EndBefore  *time.Time
	Limit      int
}

// Patch updates the user feedback of a run selected by ID or, when SessionID is set, by the latest run of the session.
// Only runs the caller made or owns are visible.
type Patch struct {
	CallerID     uint64
	ID           uint64
	SessionID    string
	Satisfaction *int
	Feedback     *string
}

// Store reads and patches persisted runs.
type Store struct {
	db *gorm.DB
}

// NewStore returns a run store over conn.
func NewStore(conn *gorm.DB) *Store {
	return &Store{db: conn}
}

// List returns runs matching f, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]models.Run, error) {
	q := visibleTo(s.db.WithContext(ctx).Model(&models.Run{}), f.CallerID)
	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}
	if f.MicroappID != nil {
		q = q.Where("microapp_id = ?", *f.MicroappID)
	}
	if sessionID := strings.TrimSpace(f.SessionID); sessionID != "" {
		q = q.Where("session_id = ?", sessionID)
	}
	if f.StartAt != nil {
		q = q.Where("created_at >= ?", f.StartAt.UTC())
	}
	if f.EndBefore != nil {
		q = q.Where("created_at < ?", f.EndBefore.UTC())
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	var runs []models.Run
	if errFind := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&runs).Error; errFind != nil {
		return nil, apierr.Server(fmt.Errorf("run: list runs: %w", errFind))
	}
	return runs, nil
}

// Apply updates the run selected by p. A patch without mutable fields returns the run unchanged.
func (s *Store) Apply(ctx context.Context, p Patch) (*models.Run, error) {
	var (
		run     models.Run
		errFind error
		ref     string
	)
	q := visibleTo(s.db.WithContext(ctx), p.CallerID)
	if p.SessionID != "" {
		ref = p.SessionID
		errFind = q.Where("session_id = ?", p.SessionID).Order("created_at DESC").Order("id DESC").First(&run).Error
	} else {
		ref = strconv.FormatUint(p.ID, 10)
		errFind = q.First(&run, p.ID).Error
	}
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, apierr.RunNotFound(ref)
		}
		return nil, apierr.Server(fmt.Errorf("run: find run: %w", errFind))
	}

	updates := map[string]any{}
	if p.Satisfaction != nil {
		updates["satisfaction"] = *p.Satisfaction
	}
	if p.Feedback != nil {
		updates["feedback"] = *p.Feedback
	}
	if len(updates) == 0 {
		return &run, nil
	}
	if errUpdate := s.db.WithContext(ctx).Model(&run).Updates(updates).Error; errUpdate != nil {
		return nil, apierr.Server(fmt.Errorf("run: patch run: %w", errUpdate))
	}
	if errReload := s.db.WithContext(ctx).First(&run, run.ID).Error; errReload != nil {
		return nil, apierr.Server(fmt.Errorf("run: reload run: %w", errReload))
	}
	return &run, nil
}

// visibleTo restricts q to runs made by or billed to callerID. A zero caller sees nothing.
func visibleTo(q *gorm.DB, callerID uint64) *gorm.DB {
	return q.Where("(user_id = ? OR owner_id = ?)", callerID, callerID)
}

// ParsePatch decodes a PATCH /run body. "id" may be a numeric run id or a session UUID.
func ParsePatch(body []byte) (Patch, error) {
	var p Patch
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		return p, apierr.InvalidPayload("body must be a JSON object")
	}
	doc := gjson.ParseBytes(body)
	for _, field := range immutableFields {
		if doc.Get(field).Exists() {
			return p, apierr.InvalidPayload(fmt.Sprintf("%s cannot be changed", field))
		}
	}

	id := doc.Get("id")
	if !id.Exists() {
		id = doc.Get("session_id")
	}
	switch id.Type {
	case gjson.Number:
		if id.Num < 1 || id.Num != float64(uint64(id.Num)) {
			return p, apierr.InvalidPayload("id must be a positive integer")
		}
		p.ID = id.Uint()
	case gjson.String:
		raw := strings.TrimSpace(id.String())
		if strings.Contains(raw, "-") {
			parsed, errParse := uuid.Parse(raw)
			if errParse != nil {
				return p, apierr.InvalidPayload("id is not a valid session id")
			}
			p.SessionID = parsed.String()
		} else {
			parsed, errParse := strconv.ParseUint(raw, 10, 64)
			if errParse != nil || parsed == 0 {
				return p, apierr.InvalidPayload("id must be a positive integer")
			}
			p.ID = parsed
		}
	default:
		return p, apierr.FieldMissing("id")
	}

	if v := doc.Get("satisfaction"); v.Exists() {
		if v.Type != gjson.Number || (v.Num != -1 && v.Num != 0 && v.Num != 1) {
			return p, apierr.InvalidPayload("satisfaction must be -1, 0 or 1")
		}
		satisfaction := int(v.Int())
		p.Satisfaction = &satisfaction
	}
	if v := doc.Get("feedback"); v.Exists() {
		if v.Type != gjson.String {
			return p, apierr.InvalidPayload("feedback must be a string")
		}
		feedback := v.String()
		p.Feedback = &feedback
	}
	return p, nil
}
