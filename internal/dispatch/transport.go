// Package dispatch pulls admitted jobs off the queue and delivers them to the
// external message transport, tracking usage and emitting events on the way.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/models"
)

// Transport is the external send capability (provider API, template
// rendering, phone routing). Implementations classify unrecoverable input
// problems as *ValidationError; any other error is treated as transient and
// retried.
type Transport interface {
	Send(ctx context.Context, job *models.OutboundJob) error
}

// ValidationError marks a payload the transport can never deliver. Jobs
// failing this way go terminal on the first attempt.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("dispatch: invalid payload: %s", e.Reason)
}

// NewValidationError creates a ValidationError with the given reason.
func NewValidationError(reason string) error {
	return &ValidationError{Reason: reason}
}

// IsValidation reports whether err is a validation-class failure.
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}
