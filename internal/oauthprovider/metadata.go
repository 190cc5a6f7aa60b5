// ABOUTME: Discovery documents and JSON error responses for the OAuth endpoints
// ABOUTME: RFC 8414 server metadata and RFC 9728 protected resource metadata

package oauthprovider

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/oauthex"

	"github.com/2389/bookshelf-gateway/internal/upstream"
)

// Well-known discovery paths.
const (
	AuthServerMetadataPath        = "/.well-known/oauth-authorization-server"
	ProtectedResourceMetadataPath = "/.well-known/oauth-protected-resource"
)

// AuthServerMetadata is RFC 8414 authorization server metadata.
type AuthServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
}

// Metadata returns the authorization server metadata document.
func (p *Provider) Metadata() *AuthServerMetadata {
	return &AuthServerMetadata{
		Issuer:                            p.issuer,
		AuthorizationEndpoint:             p.issuer + "/authorize",
		TokenEndpoint:                     p.issuer + "/token",
		RegistrationEndpoint:              p.issuer + "/register",
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		TokenEndpointAuthMethodsSupported: []string{AuthMethodClientSecretBasic, AuthMethodClientSecretPost, AuthMethodNone},
		CodeChallengeMethodsSupported:     []string{PKCEMethodS256, PKCEMethodPlain},
		ScopesSupported:                   []string{upstream.Scope},
	}
}

// HandleAuthServerMetadata serves the RFC 8414 document.
func (p *Provider) HandleAuthServerMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, p.Metadata())
}

// ProtectedResourceMetadata describes the MCP endpoint at resourcePath.
func (p *Provider) ProtectedResourceMetadata(resourcePath string) *oauthex.ProtectedResourceMetadata {
	return &oauthex.ProtectedResourceMetadata{
		Resource:               p.issuer + "/" + strings.TrimPrefix(resourcePath, "/"),
		AuthorizationServers:   []string{p.issuer},
		ScopesSupported:        []string{upstream.Scope},
		BearerMethodsSupported: []string{"header"},
	}
}

type oauthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// writeError maps a provider error to its OAuth status and JSON body.
// Unrecognized errors are logged and answered with a generic 500.
func (p *Provider) writeError(w http.ResponseWriter, err error) {
	for _, m := range []struct {
		code   error
		status int
	}{
		{ErrInvalidClient, http.StatusUnauthorized},
		{ErrInvalidRequest, http.StatusBadRequest},
		{ErrInvalidGrant, http.StatusBadRequest},
		{ErrUnsupportedGrantType, http.StatusBadRequest},
		{ErrUnsupportedResponseType, http.StatusBadRequest},
		{ErrInvalidClientMetadata, http.StatusBadRequest},
		{ErrInvalidRedirectURI, http.StatusBadRequest},
	} {
		if errors.Is(err, m.code) {
			if m.status == http.StatusUnauthorized {
				w.Header().Set("WWW-Authenticate", `Basic realm="bookshelf"`)
			}
			writeOAuthError(w, m.status, m.code, describeError(err, m.code))
			return
		}
	}
	p.logger.Error("oauth request failed", "error", err)
	writeOAuthError(w, http.StatusInternalServerError, errors.New("server_error"), "")
}

// describeError strips the code prefix that wrapping adds.
func describeError(err, code error) string {
	return strings.TrimPrefix(strings.TrimPrefix(err.Error(), code.Error()), ": ")
}

func writeOAuthError(w http.ResponseWriter, status int, code error, description string) {
	writeJSON(w, status, oauthError{Error: code.Error(), ErrorDescription: description})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
