// Package notify delivers operational alerts (nearing quota, terminal
// dispatch failures) to chat channels watched by platform operators.
package notify

import (
	"context"
	"fmt"
	"log"
)

// Alert kinds.
const (
	KindNearingQuota = "nearing-quota"
	KindJobFailed    = "job-failed"
)

// Alert is one operator-facing notification.
type Alert struct {
	Kind     string
	TenantID string
	Subject  string
	Body     string
}

// Notifier delivers alerts to one destination.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// Multi fans an alert out to several notifiers. A failing destination is
// logged and skipped; alerts are best-effort and never block the caller's
// path.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, a Alert) error {
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			log.Printf("[NOTIFY] %s alert for %s: %v", a.Kind, a.TenantID, err)
		}
	}
	return nil
}

// format renders the standard alert text shared by the chat adapters.
func format(a Alert) string {
	return fmt.Sprintf("[%s] %s\n%s", a.Kind, a.Subject, a.Body)
}
