package dispatch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/events"
	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/models"
	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/queue"
	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/quota"
	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/session"
)

// Send modes returned by RequestSend.
const (
	ModeSent   = "sent"
	ModeQueued = "queued"
	ModeDenied = "denied"
)

// SendResult is the outcome of an outbound send request.
type SendResult struct {
	Mode  string        `json:"mode"`
	JobID string        `json:"job_id,omitempty"`
	Quota *quota.Status `json:"quota,omitempty"`
}

// InboundResult is the outcome of an inbound message notification.
type InboundResult struct {
	IsNewSession bool      `json:"is_new_session"`
	SessionID    string    `json:"session_id"`
	WindowStart  time.Time `json:"window_start"`
	WindowEnd    time.Time `json:"window_end"`
}

// Service is the admission-and-dispatch front: every outbound path goes
// through the quota gate here, and every inbound message feeds the session
// tracker and ledger.
type Service struct {
	tracker   *session.Tracker
	ledger    *quota.Ledger
	gate      *quota.Gate
	store     *queue.Store
	transport Transport
	bus       *events.Bus
}

// NewService wires the admission path together.
func NewService(tracker *session.Tracker, ledger *quota.Ledger, gate *quota.Gate, store *queue.Store, transport Transport, bus *events.Bus) *Service {
	return &Service{
		tracker:   tracker,
		ledger:    ledger,
		gate:      gate,
		store:     store,
		transport: transport,
		bus:       bus,
	}
}

// OnInboundMessage records conversational activity from a counterparty:
// detect or create the session window, then meter the session (once) against
// the monthly ledger.
func (s *Service) OnInboundMessage(tenantID, counterpartyID string, now time.Time) (*InboundResult, error) {
	res, err := s.tracker.DetectOrCreate(tenantID, counterpartyID, now)
	if err != nil {
		return nil, err
	}
	if _, err := s.ledger.TrackSession(tenantID, res.SessionID, now); err != nil {
		return nil, err
	}
	return &InboundResult{
		IsNewSession: res.IsNewSession,
		SessionID:    res.SessionID,
		WindowStart:  res.WindowStart,
		WindowEnd:    res.WindowEnd,
	}, nil
}

// RequestSend admits an outbound send and either delivers it synchronously
// (direct=true) or enqueues it for the worker pool. A denial is reported in
// the result, not as an error; the caller renders the quota details.
func (s *Service) RequestSend(ctx context.Context, tenantID, conversationID, payload string, priority int, direct bool, now time.Time) (*SendResult, error) {
	decision, err := s.gate.CheckQuota(tenantID, now)
	if err != nil {
		if quota.IsExceeded(err) {
			return &SendResult{Mode: ModeDenied, Quota: decision.Status}, nil
		}
		return nil, err
	}
	if decision.NearingQuota {
		log.Printf("[ADMIT] tenant=%s nearing quota: %d%% used", tenantID, decision.Status.UsagePercent)
	}

	if !direct {
		jobID, err := s.store.Enqueue(tenantID, conversationID, payload, priority)
		if err != nil {
			return nil, err
		}
		return &SendResult{Mode: ModeQueued, JobID: jobID, Quota: decision.Status}, nil
	}

	// Direct path: deliver now and meter immediately.
	job := &models.OutboundJob{
		TenantID:       tenantID,
		ConversationID: conversationID,
		ConcurrencyKey: tenantID + ":" + conversationID,
		Payload:        payload,
	}
	if err := s.transport.Send(ctx, job); err != nil {
		return nil, fmt.Errorf("dispatch: direct send for %s: %w", job.ConcurrencyKey, err)
	}
	if err := s.trackSend(tenantID, conversationID, now); err != nil {
		return nil, err
	}
	return &SendResult{Mode: ModeSent, Quota: decision.Status}, nil
}

// trackSend meters an outbound send: it opens or extends the session window
// for the conversation and counts the session at most once, no matter which
// path (direct or worker) confirms it.
func (s *Service) trackSend(tenantID, conversationID string, now time.Time) error {
	res, err := s.tracker.DetectOrCreate(tenantID, conversationID, now)
	if err != nil {
		return err
	}
	if _, err := s.ledger.TrackSession(tenantID, res.SessionID, now); err != nil {
		return err
	}
	return nil
}
