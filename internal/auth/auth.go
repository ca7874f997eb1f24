// Package auth supplies the client credential sent in the first frame of a
// signaling connection. The signaling server verifies; this side only mints.
package auth

import (
	"errors"
	"fmt"
)

type Mode string

const (
	ModeNone   Mode = "none"
	ModeAPIKey Mode = "api_key"
	ModeJWT    Mode = "jwt"
)

var ErrNoCredential = errors.New("auth: no credential configured")

// Provider produces the credential string for the signaling auth handshake.
// Implementations may mint a fresh credential per call (JWTs expire).
type Provider interface {
	Credential() (string, error)
}

// NewProvider selects a provider for the configured auth mode.
//
// userID becomes the JWT `sid` claim: the signaling server uses it as the
// stable per-user key so one user cannot hold multiple signaling sessions.
func NewProvider(mode Mode, apiKey, jwtSecret, userID string) (Provider, error) {
	switch mode {
	case ModeNone:
		return noneProvider{}, nil
	case ModeAPIKey:
		if apiKey == "" {
			return nil, fmt.Errorf("%w: api_key mode requires a key", ErrNoCredential)
		}
		return APIKeyProvider{Key: apiKey}, nil
	case ModeJWT:
		if jwtSecret == "" {
			return nil, fmt.Errorf("%w: jwt mode requires a secret", ErrNoCredential)
		}
		if userID == "" {
			return nil, fmt.Errorf("%w: jwt mode requires a user id", ErrNoCredential)
		}
		return NewJWTProvider(jwtSecret, userID), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", mode)
	}
}

type noneProvider struct{}

func (noneProvider) Credential() (string, error) { return "", nil }

type APIKeyProvider struct {
	Key string
}

func (p APIKeyProvider) Credential() (string, error) { return p.Key, nil }
