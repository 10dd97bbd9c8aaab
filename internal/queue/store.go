// Package queue implements the durable outbound dispatch queue: strict FIFO
// per concurrency key, cross-key priority, per-tenant concurrency caps and a
// global rate ceiling.
package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/config"
	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrEmpty is returned by ClaimNext when no job is eligible right now.
var ErrEmpty = errors.New("queue: no eligible jobs")

var liveStatuses = []string{models.JobWaiting, models.JobActive, models.JobDelayed}

// Store is the durable job queue. All coordination state, including the
// per-tenant active count, lives in job rows: any number of worker processes
// can share one database without a side channel.
type Store struct {
	db  *gorm.DB
	cfg config.QueueConfig
}

// NewStore creates a Store.
func NewStore(db *gorm.DB, cfg config.QueueConfig) *Store {
	return &Store{db: db, cfg: cfg}
}

// Enqueue creates a waiting job and returns its caller-facing id. Jobs for
// the same (tenant, conversation) dispatch in enqueue order; priority only
// reorders across different conversations.
func (s *Store) Enqueue(tenantID, conversationID, payload string, priority int) (string, error) {
	if tenantID == "" {
		return "", fmt.Errorf("queue: tenantID is required")
	}
	if conversationID == "" {
		return "", fmt.Errorf("queue: conversationID is required")
	}
	if payload == "" {
		return "", fmt.Errorf("queue: payload is required")
	}

	job := models.OutboundJob{
		JobID:          uuid.NewString(),
		TenantID:       tenantID,
		ConversationID: conversationID,
		ConcurrencyKey: tenantID + ":" + conversationID,
		Payload:        payload,
		Priority:       priority,
		Status:         models.JobWaiting,
	}
	if err := s.db.Create(&job).Error; err != nil {
		return "", fmt.Errorf("queue: enqueue for %s: %w", job.ConcurrencyKey, err)
	}
	return job.JobID, nil
}

// ClaimNext atomically claims the next dispatchable job. Eligibility: the job
// is waiting (or delayed past its backoff), nothing older for its concurrency
// key is still live, and its tenant has a free concurrency slot. Candidates
// whose tenant is at the cap are pushed to delayed with a short pause that
// does not count as an attempt. Returns ErrEmpty when nothing is eligible.
func (s *Store) ClaimNext(workerID string, now time.Time) (*models.OutboundJob, error) {
	if workerID == "" {
		return nil, fmt.Errorf("queue: workerID is required")
	}

	var claimed *models.OutboundJob
	err := s.db.Transaction(func(tx *gorm.DB) error {
		// Promote delayed jobs whose pause has elapsed.
		if err := tx.Model(&models.OutboundJob{}).
			Where("status = ? AND not_before <= ?", models.JobDelayed, now).
			Updates(map[string]interface{}{"status": models.JobWaiting, "not_before": nil}).Error; err != nil {
			return fmt.Errorf("queue: promote delayed: %w", err)
		}

		// A waiting job is blocked while any older job shares its key and
		// is still live. This is what keeps intra-key FIFO strict even
		// when priorities differ.
		blocked := tx.Table("outbound_jobs AS b").
			Select("1").
			Where("b.concurrency_key = outbound_jobs.concurrency_key AND b.id < outbound_jobs.id AND b.status IN ?", liveStatuses)

		q := tx.Model(&models.OutboundJob{}).
			Where("status = ?", models.JobWaiting).
			Where("NOT EXISTS (?)", blocked)
		// Row locks only exist on mysql; sqlite serializes writers.
		if tx.Dialector.Name() == "mysql" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var candidates []models.OutboundJob
		result := q.Order("priority DESC, id ASC").
			Limit(10).
			Find(&candidates)
		if result.Error != nil {
			return fmt.Errorf("queue: find eligible jobs: %w", result.Error)
		}

		for i := range candidates {
			job := &candidates[i]
			// The active count is derived from job rows inside the same
			// transaction, so every process claiming against this database
			// sees the cap the same way.
			var active int64
			if err := tx.Model(&models.OutboundJob{}).
				Where("tenant_id = ? AND status = ?", job.TenantID, models.JobActive).
				Count(&active).Error; err != nil {
				return fmt.Errorf("queue: count active for %s: %w", job.TenantID, err)
			}
			if active >= int64(s.cfg.TenantConcurrency) {
				// Tenant at cap: soft backpressure, not a failed attempt.
				notBefore := now.Add(s.cfg.ConcurrencyDelay)
				if err := tx.Model(&models.OutboundJob{}).Where("id = ?", job.ID).
					Updates(map[string]interface{}{
						"status":     models.JobDelayed,
						"not_before": notBefore,
					}).Error; err != nil {
					return fmt.Errorf("queue: delay job %s: %w", job.JobID, err)
				}
				continue
			}

			lease := now.Add(s.cfg.StallLease)
			if err := tx.Model(&models.OutboundJob{}).Where("id = ?", job.ID).
				Updates(map[string]interface{}{
					"status":           models.JobActive,
					"attempts":         gorm.Expr("attempts + 1"),
					"lease_expires_at": lease,
					"not_before":       nil,
				}).Error; err != nil {
				return fmt.Errorf("queue: claim job %s for %s: %w", job.JobID, workerID, err)
			}
			job.Status = models.JobActive
			job.Attempts++
			job.LeaseExpiresAt = &lease
			claimed = job
			return nil
		}
		// Nothing claimable, but any cap-delays above must still commit.
		return nil
	})
	if err != nil {
		return nil, err
	}
	if claimed == nil {
		return nil, ErrEmpty
	}
	return claimed, nil
}

// Complete marks an active job done, freeing its tenant slot.
func (s *Store) Complete(job *models.OutboundJob, now time.Time) error {
	err := s.db.Model(&models.OutboundJob{}).Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":           models.JobCompleted,
			"completed_at":     now,
			"lease_expires_at": nil,
		}).Error
	if err != nil {
		return fmt.Errorf("queue: complete job %s: %w", job.JobID, err)
	}
	return nil
}

// Fail marks a job terminally failed, freeing its tenant slot. Terminal
// means no further automatic retry.
func (s *Store) Fail(job *models.OutboundJob, cause string, now time.Time) error {
	err := s.db.Model(&models.OutboundJob{}).Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":           models.JobFailed,
			"last_error":       cause,
			"lease_expires_at": nil,
		}).Error
	if err != nil {
		return fmt.Errorf("queue: fail job %s: %w", job.JobID, err)
	}
	return nil
}

// RetryOrFail handles a transient failure: below the attempt ceiling the job
// is delayed with exponential backoff (base doubling per attempt), at the
// ceiling it goes terminal. Returns true when the job will be retried.
func (s *Store) RetryOrFail(job *models.OutboundJob, cause string, now time.Time) (bool, error) {
	if job.Attempts >= s.cfg.MaxAttempts {
		if err := s.Fail(job, cause, now); err != nil {
			return false, err
		}
		return false, nil
	}

	exp := job.Attempts - 1
	if exp < 0 {
		exp = 0
	}
	backoff := s.cfg.BaseBackoff << exp
	notBefore := now.Add(backoff)
	err := s.db.Model(&models.OutboundJob{}).Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":           models.JobDelayed,
			"not_before":       notBefore,
			"last_error":       cause,
			"lease_expires_at": nil,
		}).Error
	if err != nil {
		return false, fmt.Errorf("queue: schedule retry for %s: %w", job.JobID, err)
	}
	return true, nil
}

// RequeueStalled returns active jobs whose lease expired to waiting, making
// them eligible for redelivery. This is the at-least-once crash recovery
// path: the external transport may see a duplicate send, which is an accepted
// tradeoff. Returns the number of jobs requeued.
func (s *Store) RequeueStalled(now time.Time) (int64, error) {
	var stalled []models.OutboundJob
	if err := s.db.Where("status = ? AND lease_expires_at < ?", models.JobActive, now).
		Find(&stalled).Error; err != nil {
		return 0, fmt.Errorf("queue: find stalled: %w", err)
	}
	if len(stalled) == 0 {
		return 0, nil
	}

	ids := make([]uint, 0, len(stalled))
	for i := range stalled {
		ids = append(ids, stalled[i].ID)
	}
	result := s.db.Model(&models.OutboundJob{}).
		Where("id IN ? AND status = ?", ids, models.JobActive).
		Updates(map[string]interface{}{
			"status":           models.JobWaiting,
			"lease_expires_at": nil,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("queue: requeue stalled: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Get returns a job by its caller-facing id.
func (s *Store) Get(jobID string) (*models.OutboundJob, error) {
	var job models.OutboundJob
	if err := s.db.Where("job_id = ?", jobID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("queue: job not found: %s", jobID)
		}
		return nil, fmt.Errorf("queue: get job %s: %w", jobID, err)
	}
	return &job, nil
}

// CountByStatus returns the number of jobs in the given status, optionally
// scoped to one tenant (empty tenantID means all tenants).
func (s *Store) CountByStatus(tenantID, status string) (int64, error) {
	q := s.db.Model(&models.OutboundJob{}).Where("status = ?", status)
	if tenantID != "" {
		q = q.Where("tenant_id = ?", tenantID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("queue: count %s jobs: %w", status, err)
	}
	return count, nil
}
