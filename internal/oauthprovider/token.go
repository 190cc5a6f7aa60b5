// ABOUTME: Token endpoint for the authorization_code and refresh_token grants
// ABOUTME: Authenticates clients, verifies PKCE and issues rotated token pairs

package oauthprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/2389/bookshelf-gateway/internal/kv"
)

// TokenResponse is the OAuth token response payload.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// HandleToken serves POST /token.
func (p *Provider) HandleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeOAuthError(w, http.StatusMethodNotAllowed, ErrInvalidRequest, "method not allowed")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, ErrInvalidRequest, "invalid form body")
		return
	}

	client, err := p.authenticateClient(r)
	if err != nil {
		p.writeError(w, err)
		return
	}

	var resp *TokenResponse
	switch grantType := strings.TrimSpace(r.PostForm.Get("grant_type")); grantType {
	case "authorization_code":
		resp, err = p.exchangeCode(r.Context(), client,
			strings.TrimSpace(r.PostForm.Get("code")),
			strings.TrimSpace(r.PostForm.Get("redirect_uri")),
			strings.TrimSpace(r.PostForm.Get("code_verifier")))
	case "refresh_token":
		resp, err = p.refresh(r.Context(), client, strings.TrimSpace(r.PostForm.Get("refresh_token")))
	case "":
		err = fmt.Errorf("%w: grant_type is required", ErrInvalidRequest)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedGrantType, grantType)
	}
	if err != nil {
		p.writeError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}

// authenticateClient resolves the client from HTTP basic auth or the form.
// Confidential clients must present their secret.
func (p *Provider) authenticateClient(r *http.Request) (*Client, error) {
	clientID, secret, basic := r.BasicAuth()
	if !basic {
		clientID = r.PostForm.Get("client_id")
		secret = r.PostForm.Get("client_secret")
	}
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, fmt.Errorf("%w: client authentication required", ErrInvalidClient)
	}

	client, err := p.LookupClient(r.Context(), clientID)
	if err != nil {
		return nil, err
	}
	if client.Public() {
		return client, nil
	}
	if secret == "" || bcrypt.CompareHashAndPassword(client.SecretHash, []byte(secret)) != nil {
		return nil, fmt.Errorf("%w: invalid client credentials", ErrInvalidClient)
	}
	return client, nil
}

func (p *Provider) exchangeCode(ctx context.Context, client *Client, code, redirectURI, verifier string) (*TokenResponse, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: code is required", ErrInvalidRequest)
	}

	raw, err := p.kv.Take(ctx, prefixCode+hashToken(code))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, fmt.Errorf("%w: code is invalid, expired or already used", ErrInvalidGrant)
		}
		return nil, err
	}
	var rec codeRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decoding code: %w", err)
	}

	switch {
	case !rec.ExpiresAt.After(p.now()):
		return nil, fmt.Errorf("%w: code expired", ErrInvalidGrant)
	case rec.ClientID != client.ClientID:
		return nil, fmt.Errorf("%w: code was issued to another client", ErrInvalidGrant)
	case redirectURI != "" && redirectURI != rec.RedirectURI:
		return nil, fmt.Errorf("%w: redirect_uri mismatch", ErrInvalidGrant)
	case !verifyPKCE(rec.CodeChallenge, rec.CodeChallengeMethod, verifier):
		return nil, fmt.Errorf("%w: code_verifier mismatch", ErrInvalidGrant)
	}

	grant, err := p.loadGrant(ctx, rec.UserID, rec.GrantID)
	if err != nil {
		return nil, fmt.Errorf("%w: grant no longer exists", ErrInvalidGrant)
	}
	return p.issueTokens(ctx, grant)
}

func (p *Provider) refresh(ctx context.Context, client *Client, token string) (*TokenResponse, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: refresh_token is required", ErrInvalidRequest)
	}

	raw, err := p.kv.Take(ctx, prefixRefresh+hashToken(token))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, fmt.Errorf("%w: refresh_token is invalid or expired", ErrInvalidGrant)
		}
		return nil, err
	}
	var rec tokenRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decoding refresh token: %w", err)
	}
	if !rec.ExpiresAt.After(p.now()) {
		return nil, fmt.Errorf("%w: refresh_token expired", ErrInvalidGrant)
	}
	if rec.ClientID != client.ClientID {
		return nil, fmt.Errorf("%w: refresh_token was issued to another client", ErrInvalidGrant)
	}

	grant, err := p.loadGrant(ctx, rec.UserID, rec.GrantID)
	if err != nil {
		return nil, fmt.Errorf("%w: grant no longer exists", ErrInvalidGrant)
	}
	return p.issueTokens(ctx, grant)
}

// issueTokens mints an access and refresh token pair for grant and extends
// the grant to outlive the new refresh token.
func (p *Provider) issueTokens(ctx context.Context, grant *Grant) (*TokenResponse, error) {
	now := p.now().UTC()

	access, err := newToken(grant.UserID, grant.ID)
	if err != nil {
		return nil, err
	}
	refresh, err := newToken(grant.UserID, grant.ID)
	if err != nil {
		return nil, err
	}

	base := tokenRecord{
		GrantID:  grant.ID,
		UserID:   grant.UserID,
		ClientID: grant.ClientID,
		Scope:    grant.Scope,
	}

	accessRec := base
	accessRec.ExpiresAt = now.Add(p.accessTokenTTL)
	if err := p.putJSON(ctx, prefixAccess+hashToken(access), &accessRec, p.accessTokenTTL); err != nil {
		return nil, fmt.Errorf("storing access token: %w", err)
	}

	refreshRec := base
	refreshRec.ExpiresAt = now.Add(p.refreshTokenTTL)
	if err := p.putJSON(ctx, prefixRefresh+hashToken(refresh), &refreshRec, p.refreshTokenTTL); err != nil {
		return nil, fmt.Errorf("storing refresh token: %w", err)
	}

	if err := p.putJSON(ctx, grantKey(grant.UserID, grant.ID), grant, p.refreshTokenTTL); err != nil {
		return nil, fmt.Errorf("extending grant: %w", err)
	}

	p.logger.Debug("tokens issued", "user", grant.UserID, "client_id", grant.ClientID, "grant_id", grant.ID)
	return &TokenResponse{
		AccessToken:  access,
		TokenType:    "bearer",
		ExpiresIn:    int64(p.accessTokenTTL.Seconds()),
		RefreshToken: refresh,
		Scope:        strings.Join(grant.Scope, " "),
	}, nil
}
