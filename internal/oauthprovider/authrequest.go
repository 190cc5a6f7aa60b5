// ABOUTME: Parsing and validation of OAuth authorization requests
// ABOUTME: Checks client, redirect URI, response type and PKCE parameters

package oauthprovider

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

// PKCE methods.
const (
	PKCEMethodS256  = "S256"
	PKCEMethodPlain = "plain"
)

// AuthRequest is a client's authorization request. Its JSON form travels
// through the upstream provider as the opaque state parameter.
type AuthRequest struct {
	ResponseType        string   `json:"responseType"`
	ClientID            string   `json:"clientId"`
	RedirectURI         string   `json:"redirectUri"`
	Scope               []string `json:"scope"`
	State               string   `json:"state"`
	CodeChallenge       string   `json:"codeChallenge,omitempty"`
	CodeChallengeMethod string   `json:"codeChallengeMethod,omitempty"`
}

// ParseAuthRequest reads an authorization request from the query string and
// checks it against the registered client.
func (p *Provider) ParseAuthRequest(ctx context.Context, r *http.Request) (*AuthRequest, error) {
	q := r.URL.Query()
	req := &AuthRequest{
		ResponseType:        strings.TrimSpace(q.Get("response_type")),
		ClientID:            strings.TrimSpace(q.Get("client_id")),
		RedirectURI:         strings.TrimSpace(q.Get("redirect_uri")),
		Scope:               strings.Fields(q.Get("scope")),
		State:               q.Get("state"),
		CodeChallenge:       strings.TrimSpace(q.Get("code_challenge")),
		CodeChallengeMethod: strings.TrimSpace(q.Get("code_challenge_method")),
	}

	if req.ClientID == "" {
		return nil, fmt.Errorf("%w: client_id is required", ErrInvalidRequest)
	}
	if req.ResponseType == "" {
		req.ResponseType = "code"
	}
	if req.ResponseType != "code" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedResponseType, req.ResponseType)
	}

	client, err := p.LookupClient(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	if req.RedirectURI == "" {
		if len(client.RedirectURIs) != 1 {
			return nil, fmt.Errorf("%w: redirect_uri is required", ErrInvalidRequest)
		}
		req.RedirectURI = client.RedirectURIs[0]
	}
	if !client.AllowsRedirect(req.RedirectURI) {
		return nil, fmt.Errorf("%w: redirect_uri is not registered", ErrInvalidRedirectURI)
	}

	if req.CodeChallenge != "" {
		if req.CodeChallengeMethod == "" {
			req.CodeChallengeMethod = PKCEMethodPlain
		}
		if req.CodeChallengeMethod != PKCEMethodS256 && req.CodeChallengeMethod != PKCEMethodPlain {
			return nil, fmt.Errorf("%w: unsupported code_challenge_method %q", ErrInvalidRequest, req.CodeChallengeMethod)
		}
	} else if req.CodeChallengeMethod != "" {
		return nil, fmt.Errorf("%w: code_challenge_method without code_challenge", ErrInvalidRequest)
	} else if client.Public() {
		return nil, fmt.Errorf("%w: public clients must use PKCE", ErrInvalidRequest)
	}

	return req, nil
}

// verifyPKCE checks a code_verifier against the stored challenge.
func verifyPKCE(challenge, method, verifier string) bool {
	if challenge == "" {
		return verifier == ""
	}
	if verifier == "" {
		return false
	}
	computed := verifier
	if method == PKCEMethodS256 {
		sum := sha256.Sum256([]byte(verifier))
		computed = base64.RawURLEncoding.EncodeToString(sum[:])
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
