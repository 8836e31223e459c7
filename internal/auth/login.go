// ABOUTME: Login credential checking for the /api/login endpoint.
// ABOUTME: Prefers a bcrypt password hash; falls back to plain comparison for dev setups.

package auth

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrBadLogin is returned for any username/password mismatch. The cause is
// deliberately not distinguished in the error.
var ErrBadLogin = errors.New("invalid username or password")

// Credentials holds the configured login identity for the single gateway user.
type Credentials struct {
	Username     string
	Password     string // plain text, dev only
	PasswordHash string // bcrypt hash, takes precedence when set
}

// CheckLogin validates a login attempt against the configured credentials.
func CheckLogin(creds Credentials, username, password string) error {
	if subtle.ConstantTimeCompare([]byte(username), []byte(creds.Username)) != 1 {
		return ErrBadLogin
	}

	if creds.PasswordHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(password)); err != nil {
			return ErrBadLogin
		}
		return nil
	}

	if subtle.ConstantTimeCompare([]byte(password), []byte(creds.Password)) != 1 {
		return ErrBadLogin
	}
	return nil
}
