package remote

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsTransient(t *testing.T) {
	rejected := &RejectedError{Op: "complete", Reason: ReasonNotFound}
	network := &NetworkError{Op: "fetch", StatusCode: 503, Err: errors.New("unavailable")}

	if IsTransient(nil) {
		t.Error("nil should not be transient")
	}
	if IsTransient(rejected) {
		t.Error("rejection should not be transient")
	}
	if IsTransient(fmt.Errorf("wrapped: %w", ErrAlreadyInState)) {
		t.Error("already-in-state should not be transient")
	}
	if !IsTransient(network) {
		t.Error("network error should be transient")
	}
	if !IsTransient(errors.New("something odd")) {
		t.Error("unclassified errors should be retried")
	}
}

func TestIsRejected_Wrapped(t *testing.T) {
	err := fmt.Errorf("push: %w", &RejectedError{Op: "complete", Reason: ReasonPermission})
	if !IsRejected(err) {
		t.Error("expected wrapped rejection to be detected")
	}
}

func TestIsTimeout(t *testing.T) {
	err := &NetworkError{Op: "fetch", Err: context.DeadlineExceeded}
	if !IsTimeout(err) {
		t.Error("expected deadline to count as timeout")
	}
	if IsTimeout(errors.New("boom")) {
		t.Error("plain error is not a timeout")
	}
}
