package models

import "time"

// ConversationSession is one 24-hour conversational window between a tenant
// and a counterparty. Uniqueness on (tenant, counterparty, window_start) is
// what makes concurrent first-contact inserts converge on a single row.
type ConversationSession struct {
	ID             string    `gorm:"primaryKey;size:36"`
	TenantID       string    `gorm:"size:64;not null;uniqueIndex:idx_session_window;index:idx_session_pair"`
	CounterpartyID string    `gorm:"size:64;not null;uniqueIndex:idx_session_window;index:idx_session_pair"`
	WindowStart    time.Time `gorm:"not null;uniqueIndex:idx_session_window"`
	WindowEnd      time.Time `gorm:"not null;index"`
	MessageCount   int       `gorm:"not null;default:1"`
	UsageRecorded  bool      `gorm:"not null;default:false"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
