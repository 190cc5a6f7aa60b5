// Package gateway orchestrates the bookshelf-gateway server components.
//
// # Overview
//
// The Gateway owns the HTTP server and everything behind it: the SQLite
// actor store, the KV store holding OAuth clients and grants, the OAuth
// provider, the GitHub authorization flow, the actor namespace and the MCP
// endpoint. New builds all of them from config.Config; options replace
// individual collaborators in tests.
//
// # Routes
//
//	GET/POST /authorize                          consent page, redirect to GitHub
//	GET      /callback                           GitHub redirect target
//	POST     /token                              code and refresh token exchange
//	POST     /register                           dynamic client registration
//	GET      /.well-known/oauth-authorization-server
//	GET      /.well-known/oauth-protected-resource
//	GET      /token-info                         describe a bearer token
//	GET      /health                             liveness
//	GET      /metrics                            Prometheus, when enabled
//	*        /mcp and every other path           MCP endpoint, bearer required
//
// The four OAuth endpoints share a per-client-IP token bucket. Requests over
// the limit get 429.
//
// # Lifecycle
//
// Run blocks until its context is canceled or the server fails, then shuts
// down with a five second budget. Shutdown stops background loops and closes
// both stores; calling it again is harmless.
package gateway
