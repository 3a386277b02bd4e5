package chat

import (
	"errors"
	"fmt"

	"github.com/vigilapp/vigil/internal/identity"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Sentinel errors for the remote sync layer. Callers match with errors.Is.
var (
	// ErrNotAuthenticated means no current user is available.
	ErrNotAuthenticated = identity.ErrNotAuthenticated
	// ErrNotFound means the conversation or message does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPermissionDenied means the current user may not perform the action.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidState means the operation targets a deleted or inconsistent entity.
	ErrInvalidState = errors.New("invalid state")
)

// classify maps a Firestore RPC error onto the engine taxonomy.
// Unrecognized errors pass through unchanged and are treated as
// transient by the retry scheduler.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case codes.PermissionDenied:
		return fmt.Errorf("%s: %w", op, ErrPermissionDenied)
	case codes.Unauthenticated:
		return fmt.Errorf("%s: %w", op, ErrNotAuthenticated)
	case codes.FailedPrecondition:
		return fmt.Errorf("%s: %w", op, ErrInvalidState)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsPermanent reports whether err is an authorization or existence
// failure that must never be silently retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrNotAuthenticated) ||
		errors.Is(err, ErrInvalidState)
}

// fatalSubscriptionCode reports whether a listener error should close
// the subscription instead of reopening it.
func fatalSubscriptionCode(err error) bool {
	switch status.Code(err) {
	case codes.NotFound, codes.PermissionDenied, codes.Unauthenticated:
		return true
	}
	return false
}
