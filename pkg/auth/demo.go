// Package auth checks sign-in credentials for the single demo account.
package auth

import (
	"errors"

	"datapivots/pkg/domain"
)

const (
	DemoEmail    = "demo@datapivots.com"
	DemoPassword = "demo123"
	GoogleName   = "Demo User (Google)"
)

// ErrInvalidCredentials carries the message shown on the login form.
var ErrInvalidCredentials = errors.New("Invalid email or password")

// DemoUser is the account every session belongs to.
var DemoUser = domain.User{
	ID:    "demo-user-1",
	Name:  "Demo User",
	Email: DemoEmail,
}

// Authenticator verifies an email and password pair.
type Authenticator struct {
	user         domain.User
	passwordHash string
}

// NewDemoAuthenticator hashes the demo password once at startup.
func NewDemoAuthenticator() (*Authenticator, error) {
	hash, err := HashPassword(DemoPassword)
	if err != nil {
		return nil, err
	}
	return &Authenticator{user: DemoUser, passwordHash: hash}, nil
}

// Authenticate returns the account for matching credentials. The email
// comparison is exact.
func (a *Authenticator) Authenticate(email, password string) (domain.User, error) {
	if email != a.user.Email || !CheckPassword(password, a.passwordHash) {
		return domain.User{}, ErrInvalidCredentials
	}
	return a.user, nil
}

// GoogleUser is the identity produced by the simulated Google sign-in.
func (a *Authenticator) GoogleUser() domain.User {
	u := a.user
	u.Name = GoogleName
	return u
}
