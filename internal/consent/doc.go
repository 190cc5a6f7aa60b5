// Package consent remembers which OAuth clients a browser has approved so the
// approval page is shown only once per client.
//
// The approved set lives entirely in the browser, in the cookie named by
// CookieName. Its value is an HS256 JWT whose claims carry the client IDs and
// an expiry. The server verifies signature and expiry on every read and never
// trusts the contents otherwise.
//
// Skipping the approval page is the only effect of a valid cookie. Access is
// still granted only after the user signs in upstream.
package consent
