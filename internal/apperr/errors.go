// Package apperr defines the error taxonomy shared by the token core
// and its boundary adapters.
package apperr

import (
	"errors"
	"fmt"

	"github.com/xelth-com/parcelseal/internal/models"
)

var (
	// ErrValidation marks malformed input, including unparsable envelopes.
	ErrValidation = errors.New("validation failed")

	// ErrAuthenticationFailure is the uniform AEAD failure. It never carries
	// detail about which check failed.
	ErrAuthenticationFailure = errors.New("authentication failed")

	ErrExpiredToken        = errors.New("token expired")
	ErrInactiveToken       = errors.New("token is no longer active")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrNotFound            = errors.New("not found")
	ErrConcurrencyConflict = errors.New("concurrent update conflict")
	ErrUnauthorizedRole    = errors.New("role not permitted")
	ErrStorageUnavailable  = errors.New("storage unavailable")

	// ErrInvalidCode is what a scanner sees for every crypto or lookup
	// failure. The real reason only goes to the scan audit log.
	ErrInvalidCode = errors.New("invalid code")
)

// InvalidTransitionError names the rejected edge so clients can show it
type InvalidTransitionError struct {
	From   models.PackageStatus
	To     models.PackageStatus
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot move package from %s to %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("cannot move package from %s to %s", e.From, e.To)
}

// Is lets errors.Is(err, ErrInvalidTransition) match
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Validation wraps a formatted message with ErrValidation
func Validation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Storage wraps a collaborator failure with ErrStorageUnavailable.
// Not-found and conflict errors pass through untouched.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConcurrencyConflict) || errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}
