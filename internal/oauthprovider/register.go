// ABOUTME: Dynamic client registration endpoint (RFC 7591)
// ABOUTME: Validates client metadata and stores bcrypt-hashed client secrets

package oauthprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Token endpoint authentication methods.
const (
	AuthMethodNone              = "none"
	AuthMethodClientSecretBasic = "client_secret_basic"
	AuthMethodClientSecretPost  = "client_secret_post"
)

// RegistrationRequest is the client metadata accepted by /register.
type RegistrationRequest struct {
	RedirectURIs            []string `json:"redirect_uris" validate:"required,min=1,max=10,dive,required,redirect_uri"`
	ClientName              string   `json:"client_name,omitempty" validate:"max=200"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty" validate:"omitempty,oneof=none client_secret_basic client_secret_post"`
	GrantTypes              []string `json:"grant_types,omitempty" validate:"omitempty,dive,oneof=authorization_code refresh_token"`
	ResponseTypes           []string `json:"response_types,omitempty" validate:"omitempty,dive,eq=code"`
}

// RegistrationResponse is returned by /register.
type RegistrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	ClientSecretExpiresAt   int64    `json:"client_secret_expires_at"`
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
}

var registrationValidate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("redirect_uri", func(fl validator.FieldLevel) bool {
		return validRedirectURI(fl.Field().String())
	})
	return v
}()

// validRedirectURI accepts absolute URIs without fragments. Plain http is
// only allowed for loopback hosts.
func validRedirectURI(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Fragment != "" {
		return false
	}
	switch u.Scheme {
	case "https":
		return u.Host != ""
	case "http":
		host := u.Hostname()
		return host == "localhost" || host == "127.0.0.1" || host == "::1"
	case "javascript", "data", "file":
		return false
	default:
		// private-use schemes for native apps (RFC 8252)
		return strings.Contains(u.Scheme, ".")
	}
}

// RegisterClient validates req and stores a new client. The returned
// response holds the only copy of the plaintext secret.
func (p *Provider) RegisterClient(ctx context.Context, req *RegistrationRequest) (*RegistrationResponse, error) {
	if err := registrationValidate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			if strings.HasPrefix(fe.Namespace(), "RegistrationRequest.RedirectURIs") {
				return nil, fmt.Errorf("%w: redirect_uris must be absolute https, loopback http or private-use URIs", ErrInvalidRedirectURI)
			}
			return nil, fmt.Errorf("%w: %s failed %s", ErrInvalidClientMetadata, fe.Field(), fe.Tag())
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientMetadata, err)
	}

	method := req.TokenEndpointAuthMethod
	if method == "" {
		method = AuthMethodClientSecretBasic
	}

	now := p.now().UTC()
	client := &Client{
		ClientID:                uuid.NewString(),
		Name:                    strings.TrimSpace(req.ClientName),
		RedirectURIs:            append([]string{}, req.RedirectURIs...),
		TokenEndpointAuthMethod: method,
		CreatedAt:               now,
	}

	var secret string
	if !client.Public() {
		var err error
		secret, err = randomToken(32)
		if err != nil {
			return nil, err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(secret), p.bcryptCost)
		if err != nil {
			return nil, fmt.Errorf("hashing client secret: %w", err)
		}
		client.SecretHash = hash
	}

	if err := p.putJSON(ctx, prefixClient+client.ClientID, client, 0); err != nil {
		return nil, fmt.Errorf("storing client: %w", err)
	}
	p.logger.Info("client registered", "client_id", client.ClientID, "name", client.Name, "auth_method", method)

	return &RegistrationResponse{
		ClientID:                client.ClientID,
		ClientSecret:            secret,
		ClientIDIssuedAt:        now.Unix(),
		ClientName:              client.Name,
		RedirectURIs:            client.RedirectURIs,
		TokenEndpointAuthMethod: method,
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
	}, nil
}

// HandleRegister serves POST /register.
func (p *Provider) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeOAuthError(w, http.StatusMethodNotAllowed, ErrInvalidRequest, "method not allowed")
		return
	}

	var req RegistrationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeOAuthError(w, http.StatusBadRequest, ErrInvalidClientMetadata, "body must be a JSON object")
		return
	}

	resp, err := p.RegisterClient(r.Context(), &req)
	if err != nil {
		p.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}
