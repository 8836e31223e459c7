// Package auth provides authentication for the thunderchat gateway.
//
// Clients authenticate with HS256 JWT bearer tokens issued by the login
// endpoint and signed with the configured jwt_secret. Verification
// distinguishes two rejection conditions that callers must treat as
// terminal (never retried):
//
//   - ErrNoCredential: no token was presented
//   - ErrInvalidCredential: the token failed signature or claim validation
//
// The hub maps these to distinct websocket close codes so a live client can
// tell session expiry apart from a transient disconnect.
package auth
