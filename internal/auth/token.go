// ABOUTME: JWT token issuance and verification for gateway clients.
// ABOUTME: Uses HS256 signing; distinguishes missing credential from invalid credential.

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential errors. Both are terminal on the client side: a session that
// sees either must re-authenticate rather than retry.
var (
	// ErrNoCredential indicates no token was presented at all.
	ErrNoCredential = errors.New("no credential provided")
	// ErrInvalidCredential indicates a token was presented but failed verification.
	ErrInvalidCredential = errors.New("invalid credential")
)

// TokenVerifier defines the interface for bearer token verification.
type TokenVerifier interface {
	Verify(tokenString string) (principal string, err error)
}

// Verifier issues and verifies HS256 signed JWTs.
type Verifier struct {
	secret   []byte
	tokenTTL time.Duration // zero means tokens do not expire
}

// NewVerifier creates a Verifier with the given secret. ttl of zero issues
// non-expiring tokens, matching the original relay's login tokens.
func NewVerifier(secret []byte, ttl time.Duration) *Verifier {
	return &Verifier{secret: secret, tokenTTL: ttl}
}

// Verify validates the token and extracts the principal from the "sub" claim.
// An empty token returns ErrNoCredential; any parse or signature failure
// returns ErrInvalidCredential.
func (v *Verifier) Verify(tokenString string) (string, error) {
	if tokenString == "" {
		return "", ErrNoCredential
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if !token.Valid {
		return "", ErrInvalidCredential
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidCredential
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: missing sub claim", ErrInvalidCredential)
	}

	return sub, nil
}

// Issue creates a new signed token for the given principal.
func (v *Verifier) Issue(principal string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": principal,
		"iat": now.Unix(),
	}
	if v.tokenTTL > 0 {
		claims["exp"] = now.Add(v.tokenTTL).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
