package models

import "time"

// MonthlyUsage is the per-tenant conversation ledger for one calendar month.
// ConversationCount counts sessions, never individual messages. AdjustedBy is
// the accumulated sum of manual top-ups for the month; a new month starts a
// fresh row at zero.
type MonthlyUsage struct {
	ID                 uint   `gorm:"primaryKey;autoIncrement"`
	TenantID           string `gorm:"size:64;not null;uniqueIndex:idx_usage_month"`
	Month              int    `gorm:"not null;uniqueIndex:idx_usage_month"`
	Year               int    `gorm:"not null;uniqueIndex:idx_usage_month"`
	ConversationCount  int    `gorm:"not null;default:0"`
	AdjustedBy         int    `gorm:"not null;default:0"`
	LastConversationAt *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// QuotaAdjustment is the audit record written for every manual top-up.
type QuotaAdjustment struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	TenantID  string `gorm:"size:64;not null;index"`
	Month     int    `gorm:"not null"`
	Year      int    `gorm:"not null"`
	Amount    int    `gorm:"not null"`
	Reason    string `gorm:"size:256"`
	CreatedAt time.Time
}
