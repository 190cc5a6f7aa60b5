// Package authflow runs the browser side of authorization: the consent
// step, the redirect to GitHub and the callback that turns a GitHub login
// into a grant for the requesting client.
//
// # States
//
//	AwaitingApproval     approval page shown, nothing recorded
//	RedirectedUpstream   browser sent to GitHub with the request as state
//	CallbackReceived     GitHub code exchanged, profile fetched
//	GrantIssued          grant stored, client redirected with a code
//
// A browser whose consent cookie already lists the client skips the
// approval page.
//
// # State parameter
//
// The client request travels through GitHub as base64url JSON. It is not
// signed. Every redirect to GitHub adds a fresh nonce, so two logins with the
// same client request carry different states. A state value is accepted by
// /callback at most once within the state TTL.
//
// # Errors
//
// Bad parameters and undecodable state answer 400 with a fixed message. A
// token error response from GitHub is relayed as received. Every other
// callback failure is a generic 400; the cause is only logged.
package authflow
