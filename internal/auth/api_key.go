// Package auth implements the optional shared-secret check guarding the
// read-only REST surface. The signaling WebSocket itself is unauthenticated;
// user identities are opaque client-assigned strings.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
)

// HeaderAPIKey is the request header carrying the shared secret.
const HeaderAPIKey = "x-api-key"

var ErrInvalidCredentials = errors.New("invalid credentials")

// APIKeyVerifier compares a presented key against the configured secret in
// constant time. A zero Expected disables the check entirely.
type APIKeyVerifier struct {
	Expected string
}

// Enabled reports whether requests must present a key.
func (v APIKeyVerifier) Enabled() bool {
	return v.Expected != ""
}

func (v APIKeyVerifier) Verify(apiKey string) error {
	if !v.Enabled() {
		return nil
	}
	if apiKey == "" {
		return ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(apiKey), []byte(v.Expected)) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}

// VerifyRequest checks the x-api-key header of r.
func (v APIKeyVerifier) VerifyRequest(r *http.Request) error {
	return v.Verify(r.Header.Get(HeaderAPIKey))
}
