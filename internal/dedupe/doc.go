// Package dedupe provides a time-bounded guard that accepts each value once.
// The OAuth callback claims every state parameter it receives so a captured
// redirect cannot be replayed within the state lifetime.
package dedupe
