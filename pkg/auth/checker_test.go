package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func headersFrom(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}

func TestAPIKeyAuth(t *testing.T) {
	checker := APIKeyAuth{Key: "secret"}

	assert.True(t, checker.Authorize(headersFrom(map[string]string{
		"X-API-Key": "secret",
	})))
	assert.False(t, checker.Authorize(headersFrom(map[string]string{
		"X-API-Key": "wrong",
	})))
	assert.False(t, checker.Authorize(headersFrom(nil)))
}

func TestBearerAuth(t *testing.T) {
	checker := BearerAuth{Token: "tok123"}

	assert.True(t, checker.Authorize(headersFrom(map[string]string{
		"Authorization": "Bearer tok123",
	})))
	assert.True(t, checker.Authorize(headersFrom(map[string]string{
		"Authorization": "bearer tok123",
	})))
	assert.False(t, checker.Authorize(headersFrom(map[string]string{
		"Authorization": "tok123",
	})))
	assert.False(t, checker.Authorize(headersFrom(map[string]string{
		"Authorization": "Bearer other",
	})))
}

func TestTokenAuth(t *testing.T) {
	service := NewService([]byte("signing-key"))

	info, err := service.Issue("client-1", time.Hour)
	assert.NoError(t, err)

	checker := TokenAuth{Service: service}

	assert.True(t, checker.Authorize(headersFrom(map[string]string{
		"Authorization": "Bearer " + info.Token,
	})))
	assert.False(t, checker.Authorize(headersFrom(map[string]string{
		"Authorization": "Bearer not-a-jwt",
	})))
}
