// ABOUTME: Authenticated identity carried through request handlers
// ABOUTME: Provides Identity, login normalization and WithIdentity/FromContext helpers

package auth

import (
	"context"
	"strings"
)

// ProviderGitHub is the only upstream identity provider.
const ProviderGitHub = "github"

// Identity is produced once per successful upstream callback and bound to the
// grant behind every local bearer token. It is never mutated afterwards.
type Identity struct {
	Login       string `json:"login"` // normalized, the actor key
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
	AccessToken string `json:"access_token,omitempty"` // upstream token
	Provider    string `json:"provider"`
}

// NormalizeLogin lowercases and trims a login so "Alice" and "alice " address
// the same actor. Applying it twice yields the same result.
func NormalizeLogin(login string) string {
	return strings.ToLower(strings.TrimSpace(login))
}

// identityContextKey is the key type for storing Identity in context.Context.
type identityContextKey struct{}

// WithIdentity returns a new context with the Identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// FromContext retrieves the Identity from the context, returning nil if not present.
func FromContext(ctx context.Context) *Identity {
	id, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok {
		return nil
	}
	return id
}
