package identity

import "errors"

// ErrNotAuthenticated is returned when no user is signed in.
var ErrNotAuthenticated = errors.New("not authenticated")

// Provider supplies the identity of the signed-in user. Every store
// operation is scoped to this identifier.
type Provider interface {
	// UserID returns the stable user identifier, or ErrNotAuthenticated.
	UserID() (string, error)
	// Verified reports whether the identity has been verified upstream.
	Verified() bool
}

// Static is a config-backed provider for a single signed-in user.
type Static struct {
	ID         string
	IsVerified bool
}

// UserID implements Provider.
func (s Static) UserID() (string, error) {
	if s.ID == "" {
		return "", ErrNotAuthenticated
	}
	return s.ID, nil
}

// Verified implements Provider.
func (s Static) Verified() bool {
	return s.IsVerified
}
