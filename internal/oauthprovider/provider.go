// ABOUTME: Local OAuth 2.1 authorization server backing the bookshelf MCP endpoint
// ABOUTME: Stores clients, grants, codes and hashed tokens in the kv store

package oauthprovider

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	mcpauth "github.com/modelcontextprotocol/go-sdk/auth"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/bookshelf-gateway/internal/kv"
)

// OAuth error codes (RFC 6749 section 5.2). Wrapped errors carry the detail.
var (
	ErrInvalidRequest          = errors.New("invalid_request")
	ErrInvalidClient           = errors.New("invalid_client")
	ErrInvalidGrant            = errors.New("invalid_grant")
	ErrUnsupportedGrantType    = errors.New("unsupported_grant_type")
	ErrUnsupportedResponseType = errors.New("unsupported_response_type")
	ErrInvalidClientMetadata   = errors.New("invalid_client_metadata")
	ErrInvalidRedirectURI      = errors.New("invalid_redirect_uri")
)

const (
	defaultCodeTTL         = 10 * time.Minute
	defaultAccessTokenTTL  = time.Hour
	defaultRefreshTokenTTL = 30 * 24 * time.Hour
)

// Key prefixes in the kv store.
const (
	prefixClient  = "client:"
	prefixGrant   = "grant:"
	prefixCode    = "code:"
	prefixAccess  = "access:"
	prefixRefresh = "refresh:"
)

// Config configures a Provider.
type Config struct {
	// Issuer is the externally visible base URL of the gateway.
	Issuer          string
	CodeTTL         time.Duration
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Logger          *slog.Logger
}

// Client is a dynamically registered OAuth client.
type Client struct {
	ClientID                string    `json:"client_id"`
	SecretHash              []byte    `json:"secret_hash,omitempty"`
	Name                    string    `json:"client_name,omitempty"`
	RedirectURIs            []string  `json:"redirect_uris"`
	TokenEndpointAuthMethod string    `json:"token_endpoint_auth_method"`
	CreatedAt               time.Time `json:"created_at"`
}

// Public reports whether the client authenticates without a secret.
func (c *Client) Public() bool {
	return c.TokenEndpointAuthMethod == AuthMethodNone
}

// AllowsRedirect reports whether uri is one of the registered redirect URIs.
func (c *Client) AllowsRedirect(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// Grant is one user's authorization of one client. Props is whatever the
// authorization flow attached, usually the upstream identity.
type Grant struct {
	ID        string          `json:"id"`
	ClientID  string          `json:"client_id"`
	UserID    string          `json:"user_id"`
	Scope     []string        `json:"scope"`
	Props     json.RawMessage `json:"props"`
	CreatedAt time.Time       `json:"created_at"`
}

type codeRecord struct {
	GrantID             string    `json:"grant_id"`
	UserID              string    `json:"user_id"`
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	CodeChallenge       string    `json:"code_challenge,omitempty"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty"`
	ExpiresAt           time.Time `json:"expires_at"`
}

type tokenRecord struct {
	GrantID   string    `json:"grant_id"`
	UserID    string    `json:"user_id"`
	ClientID  string    `json:"client_id"`
	Scope     []string  `json:"scope"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Provider issues codes and tokens for grants created by the authorization
// flow and verifies bearer tokens for the MCP endpoint.
type Provider struct {
	kv              kv.Store
	issuer          string
	codeTTL         time.Duration
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
	bcryptCost      int
	logger          *slog.Logger
	now             func() time.Time
}

// New creates a Provider over store.
func New(store kv.Store, cfg Config) (*Provider, error) {
	if store == nil {
		return nil, errors.New("oauthprovider: kv store is required")
	}
	issuer := strings.TrimRight(strings.TrimSpace(cfg.Issuer), "/")
	if issuer == "" {
		return nil, errors.New("oauthprovider: issuer is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{
		kv:              store,
		issuer:          issuer,
		codeTTL:         cfg.CodeTTL,
		accessTokenTTL:  cfg.AccessTokenTTL,
		refreshTokenTTL: cfg.RefreshTokenTTL,
		bcryptCost:      bcrypt.DefaultCost,
		logger:          logger.With("component", "oauth"),
		now:             time.Now,
	}
	if p.codeTTL <= 0 {
		p.codeTTL = defaultCodeTTL
	}
	if p.accessTokenTTL <= 0 {
		p.accessTokenTTL = defaultAccessTokenTTL
	}
	if p.refreshTokenTTL <= 0 {
		p.refreshTokenTTL = defaultRefreshTokenTTL
	}
	return p, nil
}

// Issuer returns the base URL used in metadata documents.
func (p *Provider) Issuer() string {
	return p.issuer
}

// LookupClient loads a registered client.
func (p *Provider) LookupClient(ctx context.Context, clientID string) (*Client, error) {
	if clientID == "" {
		return nil, fmt.Errorf("%w: client_id is required", ErrInvalidRequest)
	}
	var c Client
	if err := p.getJSON(ctx, prefixClient+clientID, &c); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown client", ErrInvalidClient)
		}
		return nil, err
	}
	return &c, nil
}

// CompleteRequest describes a finished authorization.
type CompleteRequest struct {
	Request *AuthRequest
	// UserID is the normalized login the grant belongs to.
	UserID string
	Scope  []string
	Props  any
}

// CompleteAuthorization stores a grant, mints a single-use code and returns
// the client redirect URL carrying code and state.
func (p *Provider) CompleteAuthorization(ctx context.Context, req CompleteRequest) (string, error) {
	if req.Request == nil || req.Request.ClientID == "" {
		return "", fmt.Errorf("%w: missing authorization request", ErrInvalidRequest)
	}
	if req.UserID == "" || strings.Contains(req.UserID, ":") {
		return "", fmt.Errorf("%w: invalid user id", ErrInvalidRequest)
	}
	client, err := p.LookupClient(ctx, req.Request.ClientID)
	if err != nil {
		return "", err
	}
	if !client.AllowsRedirect(req.Request.RedirectURI) {
		return "", fmt.Errorf("%w: redirect_uri is not registered", ErrInvalidRedirectURI)
	}

	props, err := json.Marshal(req.Props)
	if err != nil {
		return "", fmt.Errorf("encoding grant props: %w", err)
	}

	now := p.now().UTC()
	grant := &Grant{
		ID:        uuid.NewString(),
		ClientID:  client.ClientID,
		UserID:    req.UserID,
		Scope:     append([]string{}, req.Scope...),
		Props:     props,
		CreatedAt: now,
	}
	if err := p.putJSON(ctx, grantKey(grant.UserID, grant.ID), grant, p.refreshTokenTTL); err != nil {
		return "", fmt.Errorf("storing grant: %w", err)
	}

	code, err := newToken(grant.UserID, grant.ID)
	if err != nil {
		return "", err
	}
	rec := &codeRecord{
		GrantID:             grant.ID,
		UserID:              grant.UserID,
		ClientID:            client.ClientID,
		RedirectURI:         req.Request.RedirectURI,
		CodeChallenge:       req.Request.CodeChallenge,
		CodeChallengeMethod: req.Request.CodeChallengeMethod,
		ExpiresAt:           now.Add(p.codeTTL),
	}
	if err := p.putJSON(ctx, prefixCode+hashToken(code), rec, p.codeTTL); err != nil {
		return "", fmt.Errorf("storing code: %w", err)
	}

	u, err := url.Parse(req.Request.RedirectURI)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRedirectURI, err)
	}
	q := u.Query()
	q.Set("code", code)
	if req.Request.State != "" {
		q.Set("state", req.Request.State)
	}
	u.RawQuery = q.Encode()

	p.logger.Info("authorization completed", "user", grant.UserID, "client_id", client.ClientID, "grant_id", grant.ID)
	return u.String(), nil
}

// VerifyToken implements the go-sdk auth.TokenVerifier for access tokens.
// The grant's props are returned in Extra["props"].
func (p *Provider) VerifyToken(ctx context.Context, token string, _ *http.Request) (*mcpauth.TokenInfo, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", mcpauth.ErrInvalidToken)
	}

	var rec tokenRecord
	if err := p.getJSON(ctx, prefixAccess+hashToken(token), &rec); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, fmt.Errorf("%w: token not found", mcpauth.ErrInvalidToken)
		}
		return nil, fmt.Errorf("%w: %v", mcpauth.ErrInvalidToken, err)
	}
	if !rec.ExpiresAt.After(p.now()) {
		return nil, fmt.Errorf("%w: token expired", mcpauth.ErrInvalidToken)
	}

	grant, err := p.loadGrant(ctx, rec.UserID, rec.GrantID)
	if err != nil {
		return nil, fmt.Errorf("%w: grant unavailable", mcpauth.ErrInvalidToken)
	}

	return &mcpauth.TokenInfo{
		Scopes:     append([]string(nil), rec.Scope...),
		Expiration: rec.ExpiresAt,
		UserID:     rec.UserID,
		Extra: map[string]any{
			"client_id": rec.ClientID,
			"grant_id":  rec.GrantID,
			"props":     grant.Props,
		},
	}, nil
}

// Lookup returns the grant behind a valid access token.
func (p *Provider) Lookup(ctx context.Context, token string) (*Grant, error) {
	info, err := p.VerifyToken(ctx, token, nil)
	if err != nil {
		return nil, err
	}
	grantID, _ := info.Extra["grant_id"].(string)
	return p.loadGrant(ctx, info.UserID, grantID)
}

func (p *Provider) loadGrant(ctx context.Context, userID, grantID string) (*Grant, error) {
	var g Grant
	if err := p.getJSON(ctx, grantKey(userID, grantID), &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (p *Provider) getJSON(ctx context.Context, key string, v any) error {
	raw, err := p.kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding %s: %w", strings.SplitN(key, ":", 2)[0], err)
	}
	return nil
}

func (p *Provider) putJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.kv.Put(ctx, key, raw, ttl)
}

func grantKey(userID, grantID string) string {
	return prefixGrant + userID + ":" + grantID
}

// newToken returns userID:grantID:secret with 32 random bytes of secret.
func newToken(userID, grantID string) (string, error) {
	secret, err := randomToken(32)
	if err != nil {
		return "", err
	}
	return userID + ":" + grantID + ":" + secret, nil
}

func randomToken(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// hashToken is the storage key for codes and tokens. Raw values never reach the store.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
