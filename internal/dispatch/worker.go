package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/config"
	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/events"
	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/models"
	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/queue"
	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/quota"
	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/session"
	"golang.org/x/sync/errgroup"
)

// defaultPollInterval is how often an idle worker re-checks the queue.
const defaultPollInterval = 100 * time.Millisecond

// Pool runs the dispatch workers. Pool size is the global concurrency
// ceiling: each worker processes one job at a time, so at most
// GlobalConcurrency jobs are in flight across all tenants, and the shared
// rate limiter bounds aggregate throughput below that.
type Pool struct {
	store     *queue.Store
	tracker   *session.Tracker
	ledger    *quota.Ledger
	transport Transport
	bus       *events.Bus
	rate      *queue.RateLimiter
	cfg       config.QueueConfig

	pollInterval time.Duration
}

// NewPool creates a worker pool.
func NewPool(store *queue.Store, tracker *session.Tracker, ledger *quota.Ledger, transport Transport, bus *events.Bus, cfg config.QueueConfig) *Pool {
	return &Pool{
		store:        store,
		tracker:      tracker,
		ledger:       ledger,
		transport:    transport,
		bus:          bus,
		rate:         queue.NewRateLimiter(cfg.RatePerSecond),
		cfg:          cfg,
		pollInterval: defaultPollInterval,
	}
}

// Run starts the workers and blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.GlobalConcurrency; i++ {
		workerID := fmt.Sprintf("worker-%d", i+1)
		g.Go(func() error {
			return p.runWorker(ctx, workerID)
		})
	}
	return g.Wait()
}

// runWorker is one pull loop: rate gate, claim, process, repeat.
func (p *Pool) runWorker(ctx context.Context, workerID string) error {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[%s] shutting down", workerID)
			return nil
		case <-ticker.C:
			if !p.rate.Allow(time.Now()) {
				continue
			}
			job, err := p.store.ClaimNext(workerID, time.Now())
			if errors.Is(err, queue.ErrEmpty) {
				continue
			}
			if err != nil {
				log.Printf("[%s] claim: %v", workerID, err)
				continue
			}
			p.Process(ctx, workerID, job)
		}
	}
}

// Process delivers one claimed job and settles its outcome. Exported so the
// worker CLI and tests can drive single jobs without the pull loop.
func (p *Pool) Process(ctx context.Context, workerID string, job *models.OutboundJob) {
	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.AttemptTimeout)
	err := p.transport.Send(attemptCtx, job)
	cancel()
	now := time.Now()

	switch {
	case err == nil:
		if cerr := p.store.Complete(job, now); cerr != nil {
			log.Printf("[%s] complete %s: %v", workerID, job.JobID, cerr)
			return
		}
		if terr := p.trackCompletedSend(job, now); terr != nil {
			// The send went out; a tracking fault must be loud but cannot
			// un-send the message.
			log.Printf("[%s] track usage for %s: %v", workerID, job.JobID, terr)
		}
		p.publish(job, events.StatusCompleted, now)
		log.Printf("[%s] completed %s attempt=%d", workerID, job.JobID, job.Attempts)

	case IsValidation(err):
		if ferr := p.store.Fail(job, err.Error(), now); ferr != nil {
			log.Printf("[%s] fail %s: %v", workerID, job.JobID, ferr)
			return
		}
		p.publish(job, events.StatusFailed, now)
		log.Printf("[%s] failed %s: %v (not retryable)", workerID, job.JobID, err)

	default:
		// Timeouts and provider throttling are transient.
		retried, rerr := p.store.RetryOrFail(job, err.Error(), now)
		if rerr != nil {
			log.Printf("[%s] retry %s: %v", workerID, job.JobID, rerr)
			return
		}
		if retried {
			log.Printf("[%s] retrying %s attempt=%d: %v", workerID, job.JobID, job.Attempts, err)
			return
		}
		p.publish(job, events.StatusFailed, now)
		log.Printf("[%s] failed %s after %d attempts: %v", workerID, job.JobID, job.Attempts, err)
	}
}

// trackCompletedSend meters a successful queued send against the session
// window and ledger, idempotently per session.
func (p *Pool) trackCompletedSend(job *models.OutboundJob, now time.Time) error {
	res, err := p.tracker.DetectOrCreate(job.TenantID, job.ConversationID, now)
	if err != nil {
		return err
	}
	_, err = p.ledger.TrackSession(job.TenantID, res.SessionID, now)
	return err
}

func (p *Pool) publish(job *models.OutboundJob, status string, now time.Time) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(events.Event{
		JobID:          job.JobID,
		TenantID:       job.TenantID,
		ConversationID: job.ConversationID,
		Status:         status,
		Timestamp:      now,
	})
}
