package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthenticate(t *testing.T) {
	a := NewKeyAuthenticator("svc-key-1")

	r := httptest.NewRequest("GET", "/v1/ops/health", nil)
	assert.ErrorIs(t, a.Authenticate(r), ErrMissingBearer)

	r.Header.Set("Authorization", "Basic abc")
	assert.ErrorIs(t, a.Authenticate(r), ErrInvalidKey)

	r.Header.Set("Authorization", "Bearer wrong")
	assert.ErrorIs(t, a.Authenticate(r), ErrInvalidKey)

	r.Header.Set("Authorization", "Bearer svc-key-1")
	assert.NoError(t, a.Authenticate(r))
}

func TestUnconfiguredKeyNeverAuthenticates(t *testing.T) {
	a := NewKeyAuthenticator("")
	assert.False(t, a.Enabled())

	r := httptest.NewRequest("GET", "/v1/ops/health", nil)
	r.Header.Set("Authorization", "Bearer anything")
	assert.ErrorIs(t, a.Authenticate(r), ErrInvalidKey)
}
