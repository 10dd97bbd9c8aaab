package models

import "time"

// Outbound job statuses. Transitions are monotonic except delayed->waiting
// (requeue) and active->waiting (retry or stall redelivery).
const (
	JobWaiting   = "waiting"
	JobActive    = "active"
	JobDelayed   = "delayed"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// OutboundJob is one outbound send request in the dispatch queue. The
// auto-increment ID doubles as the enqueue sequence: jobs sharing a
// ConcurrencyKey are dispatched in ascending ID order. JobID is the
// caller-facing identifier.
type OutboundJob struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	JobID          string `gorm:"size:36;not null;uniqueIndex"`
	TenantID       string `gorm:"size:64;not null;index"`
	ConversationID string `gorm:"size:64;not null"`
	ConcurrencyKey string `gorm:"size:130;not null;index:idx_job_key_status"`
	Payload        string `gorm:"type:text"`
	Priority       int    `gorm:"not null;default:0"`
	Attempts       int    `gorm:"not null;default:0"`
	Status         string `gorm:"size:16;not null;default:waiting;index:idx_job_key_status"`
	NotBefore      *time.Time
	LeaseExpiresAt *time.Time
	LastError      string `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// Live reports whether the job still occupies its concurrency key's FIFO
// slot, i.e. it has not reached a terminal status.
func (j *OutboundJob) Live() bool {
	return j.Status == JobWaiting || j.Status == JobActive || j.Status == JobDelayed
}
