// ABOUTME: Tests for identity normalization, context helpers and bearer parsing
// ABOUTME: Verifies normalization idempotence and header edge cases

package auth

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLogin(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Alice", "alice"},
		{"alice ", "alice"},
		{"  ALICE\t", "alice"},
		{"octo-cat", "octo-cat"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := NormalizeLogin(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, NormalizeLogin(got), "normalization must be idempotent")
		})
	}
}

func TestNormalizeLogin_SameKey(t *testing.T) {
	assert.Equal(t, NormalizeLogin("Alice"), NormalizeLogin("alice "))
}

func TestIdentityContext(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, FromContext(ctx))

	id := &Identity{Login: "alice", Provider: ProviderGitHub}
	ctx = WithIdentity(ctx, id)
	got := FromContext(ctx)
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.Login)
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		wantToken string
		wantErr   string
	}{
		{"valid", "Bearer abc123", "abc123", ""},
		{"lowercase scheme", "bearer abc123", "abc123", ""},
		{"missing", "", "", "missing authorization header"},
		{"basic scheme", "Basic dXNlcjpwYXNz", "", "invalid authorization header format"},
		{"no space", "Bearerabc", "", "invalid authorization header format"},
		{"empty token", "Bearer   ", "", "empty token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, errMsg := ExtractBearerToken(tt.header)
			assert.Equal(t, tt.wantToken, token)
			assert.Equal(t, tt.wantErr, errMsg)
		})
	}
}

func TestWriteUnauthorized(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteUnauthorized(rec, "invalid token")

	assert.Equal(t, 401, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
	assert.JSONEq(t, `{"error":"invalid token"}`, rec.Body.String())
}
