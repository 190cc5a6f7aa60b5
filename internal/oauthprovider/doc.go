// Package oauthprovider is the gateway's own OAuth 2.1 authorization server.
//
// MCP clients register dynamically (RFC 7591), send the user through
// /authorize, and exchange the resulting code at /token. The authorization
// flow package handles the browser side; this package owns everything that
// is stored.
//
// # Storage
//
// All records live in the kv store under typed prefixes:
//
//	client:<id>              registered client, secret bcrypt-hashed
//	grant:<user>:<grant>     authorization with the upstream identity as props
//	code:<sha256>            single-use code, taken on exchange
//	access:<sha256>          access token record
//	refresh:<sha256>         refresh token record, rotated on use
//
// Codes and tokens have the form user:grant:secret. Only their SHA-256
// digests are used as keys.
//
// # Verification
//
// VerifyToken satisfies the go-sdk auth.TokenVerifier signature so the MCP
// endpoint can be wrapped with auth.RequireBearerToken directly.
package oauthprovider
