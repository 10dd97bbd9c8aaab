// Package session tracks 24-hour conversational windows between tenants and
// counterparties. Concurrency is handled by the store's uniqueness constraint
// plus retry-on-conflict; there are no application-level locks.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/models"
	"gorm.io/gorm"
)

// Window is the rolling session TTL. Activity extends the window; it never
// resets the start.
const Window = 24 * time.Hour

// Result describes the outcome of DetectOrCreate.
type Result struct {
	IsNewSession bool
	SessionID    string
	WindowStart  time.Time
	WindowEnd    time.Time
	MessageCount int
}

// Tracker detects and maintains conversation sessions.
type Tracker struct {
	db *gorm.DB
}

// NewTracker creates a Tracker backed by the given store.
func NewTracker(db *gorm.DB) *Tracker {
	return &Tracker{db: db}
}

// DetectOrCreate finds the live session for (tenantID, counterpartyID) and
// extends it, or creates a new one if no window covers now. Two concurrent
// first-contact calls converge on one row: the loser of the insert race hits
// the uniqueness constraint, re-reads the winner's row and extends it.
func (t *Tracker) DetectOrCreate(tenantID, counterpartyID string, now time.Time) (*Result, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("session: tenantID is required")
	}
	if counterpartyID == "" {
		return nil, fmt.Errorf("session: counterpartyID is required")
	}

	res, err := t.extend(tenantID, counterpartyID, now)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	s := models.ConversationSession{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		CounterpartyID: counterpartyID,
		WindowStart:    now,
		WindowEnd:      now.Add(Window),
		MessageCount:   1,
	}
	createErr := t.db.Create(&s).Error
	if createErr == nil {
		return &Result{
			IsNewSession: true,
			SessionID:    s.ID,
			WindowStart:  s.WindowStart,
			WindowEnd:    s.WindowEnd,
			MessageCount: 1,
		}, nil
	}
	if !isDuplicateKey(createErr) {
		return nil, fmt.Errorf("session: create for %s/%s: %w", tenantID, counterpartyID, createErr)
	}

	// A concurrent request won the insert race. Extend the winning row.
	res, err = t.extend(tenantID, counterpartyID, now)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Conflict with no surviving live window is an anomaly the
			// ledger must hear about, not something to swallow.
			return nil, fmt.Errorf("session: lost create race for %s/%s but found no live window: %w", tenantID, counterpartyID, createErr)
		}
		return nil, err
	}
	return res, nil
}

// Current returns the live session for the pair, or gorm.ErrRecordNotFound.
func (t *Tracker) Current(tenantID, counterpartyID string, now time.Time) (*models.ConversationSession, error) {
	var s models.ConversationSession
	err := t.db.Where("tenant_id = ? AND counterparty_id = ? AND window_end >= ?", tenantID, counterpartyID, now).
		Order("window_end DESC").
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("session: query live window %s/%s: %w", tenantID, counterpartyID, err)
	}
	return &s, nil
}

// extend increments messageCount and slides windowEnd forward on the live
// session. Both updates run store-side so concurrent extends on separate
// connections never lose each other's writes.
func (t *Tracker) extend(tenantID, counterpartyID string, now time.Time) (*Result, error) {
	s, err := t.Current(tenantID, counterpartyID, now)
	if err != nil {
		return nil, err
	}

	newEnd := now.Add(Window)
	if err := t.extendRow(s.ID, newEnd); err != nil {
		return nil, err
	}
	if s.WindowEnd.After(newEnd) {
		newEnd = s.WindowEnd
	}

	return &Result{
		IsNewSession: false,
		SessionID:    s.ID,
		WindowStart:  s.WindowStart,
		WindowEnd:    newEnd,
		MessageCount: s.MessageCount + 1,
	}, nil
}

// extendRow applies one activity to the session row. window_end only moves
// forward: the comparison happens in the store, so a writer holding a stale
// read cannot shrink a window another writer already pushed further out.
func (t *Tracker) extendRow(id string, newEnd time.Time) error {
	result := t.db.Model(&models.ConversationSession{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"message_count": gorm.Expr("message_count + 1"),
			"window_end":    gorm.Expr("CASE WHEN window_end < ? THEN ? ELSE window_end END", newEnd, newEnd),
		})
	if result.Error != nil {
		return fmt.Errorf("session: extend %s: %w", id, result.Error)
	}
	return nil
}

// isDuplicateKey reports whether err is a store uniqueness violation. The
// string checks cover drivers opened without gorm error translation.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Duplicate entry")
}
