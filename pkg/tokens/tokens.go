// Package tokens generates opaque credentials and reads them back from Authorization headers.
package tokens

import (
	"errors"
	"strings"

	"github.com/ohmage/ohmage-oauth/pkg/encryption"
)

const (
	// SchemeOhmage is the Authorization header scheme ohmage clients send.
	SchemeOhmage = "ohmage"
	// SchemeBearer is accepted for OAuth clients.
	SchemeBearer = "Bearer"

	tokenBytes  = 32
	secretBytes = 32
)

// ErrInvalidTokenFormat is returned when the Authorization header is missing or malformed.
var ErrInvalidTokenFormat = errors.New("invalid token format")

// NewPair returns a fresh access token and refresh token.
func NewPair() (accessToken, refreshToken string) {
	return encryption.GenerateRandomString(tokenBytes), encryption.GenerateRandomString(tokenBytes)
}

// NewSecret returns a fresh client secret.
func NewSecret() string {
	return encryption.GenerateRandomString(secretBytes)
}

// FromHeader extracts the token from an Authorization header value of the form "ohmage <token>" or
// "Bearer <token>". The scheme is matched case-insensitively.
func FromHeader(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok {
		return "", ErrInvalidTokenFormat
	}
	if !strings.EqualFold(scheme, SchemeOhmage) && !strings.EqualFold(scheme, SchemeBearer) {
		return "", ErrInvalidTokenFormat
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", ErrInvalidTokenFormat
	}
	return token, nil
}
