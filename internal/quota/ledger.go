package quota

import (
	"errors"
	"fmt"
	"time"

	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Status is the derived quota picture for one tenant in the current month.
// When Unlimited is set, Remaining, UsagePercent and NearingQuota carry no
// meaning and are left at their zero values; ResetDate is still computed.
type Status struct {
	TenantID       string    `json:"tenant_id"`
	Plan           string    `json:"plan"`
	Used           int       `json:"used"`
	AdjustedBy     int       `json:"adjusted_by"`
	Limit          int       `json:"limit"`
	Unlimited      bool      `json:"unlimited"`
	Remaining      int       `json:"remaining"`
	UsagePercent   int       `json:"usage_percent"`
	NearingQuota   bool      `json:"nearing_quota"`
	ResetDate      time.Time `json:"reset_date"`
	DaysUntilReset int       `json:"days_until_reset"`
}

// Ledger is the monthly usage bookkeeper.
type Ledger struct {
	db             *gorm.DB
	plans          PlanResolver
	nearingPercent int
}

// NewLedger creates a Ledger. nearingPercent is the usage percentage at which
// a tenant counts as nearing quota (0 means the default of 90).
func NewLedger(db *gorm.DB, plans PlanResolver, nearingPercent int) *Ledger {
	if nearingPercent <= 0 {
		nearingPercent = 90
	}
	return &Ledger{db: db, plans: plans, nearingPercent: nearingPercent}
}

// TrackUsage increments the tenant's conversation count for the current month
// when isNewSession is set. Message activity inside an existing window is not
// usage. The upsert is atomic: the increment runs store-side.
func (l *Ledger) TrackUsage(tenantID string, isNewSession bool, now time.Time) error {
	if tenantID == "" {
		return fmt.Errorf("quota: tenantID is required")
	}
	if !isNewSession {
		return nil
	}
	return trackUsage(l.db, tenantID, now)
}

// trackUsage runs the increment upsert on db, which may be a transaction.
func trackUsage(db *gorm.DB, tenantID string, now time.Time) error {
	month, year := int(now.Month()), now.Year()
	row := models.MonthlyUsage{
		TenantID:           tenantID,
		Month:              month,
		Year:               year,
		ConversationCount:  1,
		LastConversationAt: &now,
	}
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "month"}, {Name: "year"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"conversation_count":   gorm.Expr("conversation_count + 1"),
			"last_conversation_at": now,
			"updated_at":           now,
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("quota: track usage for %s: %w", tenantID, err)
	}
	return nil
}

// TrackSession records usage for a specific session exactly once, no matter
// how many code paths confirm it. The guard is a compare-and-swap on the
// session row's usage_recorded flag; the first caller wins and increments the
// ledger, later callers are no-ops. Flag and increment commit together, so a
// store fault rolls the flag back and a retry can still count the session.
// Returns whether this call counted.
func (l *Ledger) TrackSession(tenantID, sessionID string, now time.Time) (bool, error) {
	if sessionID == "" {
		return false, fmt.Errorf("quota: sessionID is required")
	}

	counted := false
	err := l.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.ConversationSession{}).
			Where("id = ? AND usage_recorded = ?", sessionID, false).
			Update("usage_recorded", true)
		if result.Error != nil {
			return fmt.Errorf("quota: mark session %s: %w", sessionID, result.Error)
		}
		if result.RowsAffected == 0 {
			// Either already counted or the session does not exist; the
			// latter is a caller bug and must not pass silently.
			var count int64
			if err := tx.Model(&models.ConversationSession{}).Where("id = ?", sessionID).Count(&count).Error; err != nil {
				return fmt.Errorf("quota: verify session %s: %w", sessionID, err)
			}
			if count == 0 {
				return fmt.Errorf("quota: session not found: %s", sessionID)
			}
			return nil
		}

		if err := trackUsage(tx, tenantID, now); err != nil {
			return err
		}
		counted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return counted, nil
}

// Renew adds amount to the current month's top-up balance and writes an audit
// row. Multiple calls in the same month accumulate; the balance resets
// implicitly when a new month starts a fresh ledger row.
func (l *Ledger) Renew(tenantID string, amount int, reason string, now time.Time) error {
	if tenantID == "" {
		return fmt.Errorf("quota: tenantID is required")
	}
	if amount <= 0 {
		return fmt.Errorf("quota: renew amount must be positive, got %d", amount)
	}

	month, year := int(now.Month()), now.Year()
	return l.db.Transaction(func(tx *gorm.DB) error {
		row := models.MonthlyUsage{
			TenantID:   tenantID,
			Month:      month,
			Year:       year,
			AdjustedBy: amount,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "tenant_id"}, {Name: "month"}, {Name: "year"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"adjusted_by": gorm.Expr("adjusted_by + ?", amount),
				"updated_at":  now,
			}),
		}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("quota: renew for %s: %w", tenantID, err)
		}

		audit := models.QuotaAdjustment{
			TenantID:  tenantID,
			Month:     month,
			Year:      year,
			Amount:    amount,
			Reason:    reason,
			CreatedAt: now,
		}
		if err := tx.Create(&audit).Error; err != nil {
			return fmt.Errorf("quota: audit renew for %s: %w", tenantID, err)
		}
		return nil
	})
}

// GetStatus returns the derived quota status for a tenant at now.
func (l *Ledger) GetStatus(tenantID string, now time.Time) (*Status, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("quota: tenantID is required")
	}

	plan, err := l.plans.Resolve(tenantID)
	if err != nil {
		return nil, err
	}

	var row models.MonthlyUsage
	err = l.db.Where("tenant_id = ? AND month = ? AND year = ?", tenantID, int(now.Month()), now.Year()).
		First(&row).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("quota: load usage for %s: %w", tenantID, err)
	}

	return l.derive(tenantID, plan, &row, now), nil
}

// ListNearingQuota returns statuses for all metered tenants whose usage
// percentage is at or above threshold this month. A threshold of 0 uses the
// ledger's configured nearing percentage.
func (l *Ledger) ListNearingQuota(threshold int, now time.Time) ([]Status, error) {
	if threshold <= 0 {
		threshold = l.nearingPercent
	}

	var rows []models.MonthlyUsage
	err := l.db.Where("month = ? AND year = ?", int(now.Month()), now.Year()).
		Order("tenant_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("quota: list usage: %w", err)
	}

	var out []Status
	for i := range rows {
		plan, err := l.plans.Resolve(rows[i].TenantID)
		if err != nil {
			return nil, err
		}
		st := l.derive(rows[i].TenantID, plan, &rows[i], now)
		if !st.Unlimited && st.UsagePercent >= threshold {
			out = append(out, *st)
		}
	}
	return out, nil
}

// derive computes the Status fields from a ledger row (possibly zero-valued
// for tenants with no usage this month).
func (l *Ledger) derive(tenantID string, plan Plan, row *models.MonthlyUsage, now time.Time) *Status {
	st := &Status{
		TenantID:   tenantID,
		Plan:       plan.Name,
		Used:       row.ConversationCount,
		AdjustedBy: row.AdjustedBy,
		ResetDate:  nextMonthStart(now),
	}
	st.DaysUntilReset = daysUntil(now, st.ResetDate)

	if plan.Limit == Unlimited {
		st.Unlimited = true
		st.Limit = Unlimited
		return st
	}

	st.Limit = plan.Limit + row.AdjustedBy
	st.Remaining = st.Limit - st.Used
	if st.Remaining < 0 {
		st.Remaining = 0
	}
	if st.Limit > 0 {
		st.UsagePercent = st.Used * 100 / st.Limit
	} else {
		st.UsagePercent = 100
	}
	st.NearingQuota = st.UsagePercent >= l.nearingPercent
	return st
}

// nextMonthStart returns midnight on the first day of the month after now.
func nextMonthStart(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, 1, 0)
}

// daysUntil returns the number of whole or partial days from now to then.
func daysUntil(now, then time.Time) int {
	d := then.Sub(now)
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) > 0 {
		days++
	}
	return days
}
