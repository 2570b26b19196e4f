package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrMissingBearer = errors.New("missing bearer token")
	ErrInvalidKey    = errors.New("invalid api key")
)

// KeyAuthenticator checks requests against a single opaque service key.
// An empty configured key disables the check for consumer endpoints;
// operator endpoints refuse to run without one.
type KeyAuthenticator struct {
	Key string
}

func NewKeyAuthenticator(key string) *KeyAuthenticator {
	return &KeyAuthenticator{Key: key}
}

// Enabled reports whether a key is configured at all.
func (a *KeyAuthenticator) Enabled() bool {
	return a.Key != ""
}

// Authenticate validates the Authorization bearer against the configured key.
func (a *KeyAuthenticator) Authenticate(r *http.Request) error {
	if !a.Enabled() {
		return ErrInvalidKey
	}
	bearer, err := extractBearer(r)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(bearer), []byte(a.Key)) != 1 {
		return ErrInvalidKey
	}
	return nil
}

func extractBearer(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingBearer
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", ErrInvalidKey
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", ErrInvalidKey
	}
	return token, nil
}
