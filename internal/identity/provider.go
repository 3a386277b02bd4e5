// Package identity supplies the engine's current-user dependency. There
// is deliberately no fallback identity: an empty user id surfaces as
// ErrNotAuthenticated at the point of use.
package identity

import "errors"

// ErrNotAuthenticated means no current user is available.
var ErrNotAuthenticated = errors.New("not authenticated")

// Provider exposes the signed-in user, if any. An empty string means
// no user.
type Provider interface {
	CurrentUserID() string
}

// Static is a Provider with a fixed user id, as configured for a
// profile.
type Static struct {
	ID string
}

func (s Static) CurrentUserID() string { return s.ID }
