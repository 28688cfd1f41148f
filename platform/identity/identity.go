package identity

import (
	"context"
	"errors"
)

// Error codes reported by the identity provider. Callers match with
// errors.Is and translate to user-visible messages.
var (
	ErrInvalidEmail  = errors.New("auth/invalid-email")
	ErrEmailExists   = errors.New("auth/email-already-in-use")
	ErrWeakPassword  = errors.New("auth/weak-password")
	ErrWrongPassword = errors.New("auth/wrong-password")
	ErrUserNotFound  = errors.New("auth/user-not-found")
)

// Event is one "current identity changed" notification. An empty Uid means
// nobody is signed in.
type Event struct {
	Uid string `json:"uid"`
}

// Provider is the external identity service boundary: credential
// verification, account creation and a subscribable stream of identity
// changes. The provider is the single ordering authority for auth state;
// consumers never reorder its events.
//
// Subscribe delivers the current identity to a new subscriber first, then
// every subsequent change, until ctx is cancelled. Each subscriber gets an
// independent channel.
type Provider interface {
	SignIn(ctx context.Context, email, password string) (string, error)
	SignUp(ctx context.Context, email, password string) (string, error)
	SignOut(ctx context.Context) error
	Subscribe(ctx context.Context) (<-chan Event, error)
}
