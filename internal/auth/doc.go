// Package auth defines the authenticated identity shared by the OAuth flow,
// the token endpoints and the session actors.
//
// # Identity
//
// An Identity is created once, by the upstream callback, from the GitHub
// profile of the signed-in user:
//
//   - Login: the GitHub login passed through NormalizeLogin. This is the
//     stable key for the user's session actor.
//   - DisplayName, Email: profile fields, possibly empty.
//   - AccessToken: the upstream GitHub token.
//   - Provider: always "github".
//
// The identity is stored as the props of the local grant and recovered from
// any bearer token minted for that grant.
//
// # Login Normalization
//
// NormalizeLogin trims surrounding whitespace and lowercases. It is
// idempotent, so "Alice", "alice " and "ALICE" all address one actor.
//
// # Bearer Tokens
//
// ExtractBearerToken parses an Authorization header:
//
//	token, errMsg := auth.ExtractBearerToken(r.Header.Get("Authorization"))
//	if errMsg != "" {
//	    auth.WriteUnauthorized(w, errMsg)
//	    return
//	}
//
// # Context
//
// Handlers that run after token verification attach the identity with
// WithIdentity and read it back with FromContext.
package auth
