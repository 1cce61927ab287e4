package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrAlreadyInState is returned when the task already has the requested
// completion state. Callers treat it as success.
var ErrAlreadyInState = errors.New("task already in target state")

// Reasons for a definitive rejection.
const (
	ReasonNotFound   = "not found"
	ReasonPermission = "permission denied"
	ReasonInvalid    = "invalid request"
)

// NetworkError is a transient failure: timeouts, connection errors and
// 408/429/5xx responses. Retrying may succeed.
type NetworkError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: transient remote failure (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transient remote failure: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RejectedError is a definitive rejection, e.g. the task was deleted remotely
// or access was revoked. Retrying cannot succeed.
type RejectedError struct {
	Op         string
	Reason     string
	StatusCode int
	Err        error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: rejected by remote: %s", e.Op, e.Reason)
}

func (e *RejectedError) Unwrap() error { return e.Err }

// IsRejected reports whether err is a definitive rejection.
func IsRejected(err error) bool {
	var rej *RejectedError
	return errors.As(err, &rej)
}

// IsTransient reports whether err is worth retrying. Anything that is not a
// definitive rejection counts, so a pending action is never silently dropped
// because of an unclassified error.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return !IsRejected(err) && !errors.Is(err, ErrAlreadyInState)
}

// IsTimeout reports whether err came from a deadline or a network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
