// Package sweep runs the scheduled maintenance passes: redelivering stalled
// jobs and alerting on tenants nearing their monthly quota.
package sweep

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/notify"
	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/queue"
	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/quota"
	"github.com/robfig/cron/v3"
)

// Default schedules, standard 5-field cron expressions.
const (
	DefaultStallSchedule = "* * * * *" // every minute
	DefaultQuotaSchedule = "0 * * * *" // hourly
)

// Sweeper owns the cron runner.
type Sweeper struct {
	store    *queue.Store
	ledger   *quota.Ledger
	notifier notify.Notifier

	cron *cron.Cron

	// alerted remembers tenants already flagged this month so the hourly
	// scan does not repeat the same alert.
	alerted map[string]string // tenant id -> "YYYY-MM"
}

// New creates a Sweeper. notifier may be nil when no alert destination is
// configured.
func New(store *queue.Store, ledger *quota.Ledger, notifier notify.Notifier) *Sweeper {
	return &Sweeper{
		store:    store,
		ledger:   ledger,
		notifier: notifier,
		cron:     cron.New(),
		alerted:  make(map[string]string),
	}
}

// Start registers the schedules and launches the cron runner.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(DefaultStallSchedule, func() {
		if _, err := s.RunStallSweep(time.Now()); err != nil {
			log.Printf("[SWEEP] stall sweep: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("sweep: schedule stall sweep: %w", err)
	}
	if _, err := s.cron.AddFunc(DefaultQuotaSchedule, func() {
		if err := s.RunQuotaScan(time.Now()); err != nil {
			log.Printf("[SWEEP] quota scan: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("sweep: schedule quota scan: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron runner and waits for running sweeps to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// RunStallSweep requeues active jobs whose lease expired, making them
// eligible for redelivery. Duplicate sends to the transport are possible
// here and accepted.
func (s *Sweeper) RunStallSweep(now time.Time) (int64, error) {
	n, err := s.store.RequeueStalled(now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("[SWEEP] requeued %d stalled jobs", n)
	}
	return n, nil
}

// RunQuotaScan alerts once per tenant per month when usage crosses the
// nearing threshold.
func (s *Sweeper) RunQuotaScan(now time.Time) error {
	statuses, err := s.ledger.ListNearingQuota(0, now)
	if err != nil {
		return err
	}
	if s.notifier == nil {
		return nil
	}

	monthKey := now.Format("2006-01")
	for _, st := range statuses {
		if s.alerted[st.TenantID] == monthKey {
			continue
		}
		s.alerted[st.TenantID] = monthKey
		alert := notify.Alert{
			Kind:     notify.KindNearingQuota,
			TenantID: st.TenantID,
			Subject:  fmt.Sprintf("tenant %s at %d%% of monthly quota", st.TenantID, st.UsagePercent),
			Body: fmt.Sprintf("used %d of %d conversations; resets in %d days",
				st.Used, st.Limit, st.DaysUntilReset),
		}
		if err := s.notifier.Notify(context.Background(), alert); err != nil {
			log.Printf("[SWEEP] notify %s: %v", st.TenantID, err)
		}
	}
	return nil
}
