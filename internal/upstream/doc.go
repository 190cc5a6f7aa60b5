// Package upstream talks to GitHub, the identity provider behind the
// authorization flow.
//
// GitHub is used for two calls: exchanging the callback code for a GitHub
// access token (golang.org/x/oauth2), and reading the signed-in user's
// profile from the REST API. Only the read:user scope is requested.
//
// A failed exchange that carries an HTTP response from GitHub is returned as
// *ExchangeError so the callback handler can forward it unchanged.
package upstream
