package quota

import (
	"errors"
	"fmt"
	"time"
)

// ErrKindQuotaExceeded is the stable machine-readable code carried by
// admission denials.
const ErrKindQuotaExceeded = "QUOTA_EXCEEDED"

// ExceededError is returned when a tenant's monthly allowance is exhausted.
// It carries the full status so callers can render remaining/reset details.
type ExceededError struct {
	Status *Status
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota: %s: %d/%d conversations used, resets in %d days",
		ErrKindQuotaExceeded, e.Status.Used, e.Status.Limit, e.Status.DaysUntilReset)
}

// IsExceeded reports whether err is an admission denial.
func IsExceeded(err error) bool {
	var e *ExceededError
	return errors.As(err, &e)
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed      bool
	NearingQuota bool
	Status       *Status
}

// Gate is the admission check in front of every outbound-send path. Both the
// direct-send and the enqueue path must consult it; skipping either silently
// breaks enforcement for that path's traffic.
type Gate struct {
	ledger *Ledger
}

// NewGate creates a Gate over the given ledger.
func NewGate(ledger *Ledger) *Gate {
	return &Gate{ledger: ledger}
}

// CheckQuota decides whether tenantID may send. A denial returns a Decision
// with Allowed=false and an *ExceededError; infrastructure failures return
// only an error. An allowed result with NearingQuota set should be logged by
// the caller but does not block the send.
func (g *Gate) CheckQuota(tenantID string, now time.Time) (*Decision, error) {
	st, err := g.ledger.GetStatus(tenantID, now)
	if err != nil {
		return nil, err
	}

	if st.Unlimited {
		return &Decision{Allowed: true, Status: st}, nil
	}
	if st.Used >= st.Limit {
		return &Decision{Allowed: false, Status: st}, &ExceededError{Status: st}
	}
	return &Decision{Allowed: true, NearingQuota: st.NearingQuota, Status: st}, nil
}
