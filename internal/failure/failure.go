// Package failure defines the error taxonomy shared by the client packages
// and the user-visible messages the CLI prints for each kind.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrConflict        = errors.New("conflict")
	ErrValidation      = errors.New("validation failed")
	ErrTransient       = errors.New("transient network failure")

	// ErrForbidden is a backend refusal that is not a stage claim conflict.
	ErrForbidden = errors.New("forbidden")
	// ErrNotPermitted means the role-action matrix does not offer the action
	// for the actor's role and the script's current status.
	ErrNotPermitted = errors.New("action not permitted")
	// ErrInFlight means another transition for the same script is outstanding.
	ErrInFlight = errors.New("transition already in flight")
	ErrBackend  = errors.New("backend failure")
)

// Kind returns the taxonomy sentinel err belongs to, or nil when err is not
// classified.
func Kind(err error) error {
	for _, k := range []error{
		ErrUnauthenticated, ErrNotFound, ErrConflict, ErrValidation, ErrTransient,
		ErrForbidden, ErrNotPermitted, ErrInFlight, ErrBackend,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Message renders err for a person. Every error yields a non-empty message.
func Message(err error) string {
	if err == nil {
		return ""
	}
	detail := strings.TrimSpace(err.Error())
	switch Kind(err) {
	case ErrUnauthenticated:
		return "Your session has expired or you are not signed in. Sign in again with 'sd login'."
	case ErrNotFound:
		return "The requested script or user was not found."
	case ErrConflict:
		return "This stage was already claimed or decided by someone else. Refresh the script and try again."
	case ErrValidation:
		return fmt.Sprintf("Invalid input: %s", detail)
	case ErrTransient:
		return "Could not reach the script service. Check your connection and retry."
	case ErrForbidden:
		return "The script service refused this action for your account."
	case ErrNotPermitted:
		return "This action is not available for your role at the script's current status."
	case ErrInFlight:
		return "An action on this script is still being processed. Wait for it to finish."
	case ErrBackend:
		return fmt.Sprintf("The script service reported an error: %s", detail)
	default:
		return fmt.Sprintf("Unexpected failure: %s", detail)
	}
}
