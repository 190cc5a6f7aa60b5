// ABOUTME: Tests for client registration, authorization requests and the token endpoint
// ABOUTME: Drives full code and refresh exchanges against an in-memory badger store

package oauthprovider

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	mcpauth "github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/bookshelf-gateway/internal/kv"
)

const (
	issuer      = "https://books.example.com"
	redirectURI = "https://client.example.com/cb"
	verifier    = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
)

func challengeFor(v string) string {
	sum := sha256.Sum256([]byte(v))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func newTestProvider(t *testing.T) (*Provider, kv.Store) {
	t.Helper()
	store, err := kv.OpenBadger(kv.InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	p, err := New(store, Config{
		Issuer: issuer + "/",
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	p.bcryptCost = bcrypt.MinCost
	return p, store
}

func registerPublic(t *testing.T, p *Provider) string {
	t.Helper()
	resp, err := p.RegisterClient(context.Background(), &RegistrationRequest{
		RedirectURIs:            []string{redirectURI},
		ClientName:              "Test Client",
		TokenEndpointAuthMethod: AuthMethodNone,
	})
	require.NoError(t, err)
	return resp.ClientID
}

func authRequest(clientID string) *AuthRequest {
	return &AuthRequest{
		ResponseType:        "code",
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		Scope:               []string{"read:user"},
		State:               "client-state",
		CodeChallenge:       challengeFor(verifier),
		CodeChallengeMethod: PKCEMethodS256,
	}
}

type props struct {
	Login string `json:"login"`
}

func completeAuthorization(t *testing.T, p *Provider, clientID string) string {
	t.Helper()
	to, err := p.CompleteAuthorization(context.Background(), CompleteRequest{
		Request: authRequest(clientID),
		UserID:  "alice",
		Scope:   []string{"read:user"},
		Props:   props{Login: "alice"},
	})
	require.NoError(t, err)

	u, err := url.Parse(to)
	require.NoError(t, err)
	assert.Equal(t, "client.example.com", u.Host)
	assert.Equal(t, "client-state", u.Query().Get("state"))
	code := u.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

func postToken(t *testing.T, p *Provider, form url.Values, basicUser, basicPass string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if basicUser != "" {
		req.SetBasicAuth(basicUser, basicPass)
	}
	rec := httptest.NewRecorder()
	p.HandleToken(rec, req)
	return rec
}

func decodeTokens(t *testing.T, rec *httptest.ResponseRecorder) TokenResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tr TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tr))
	return tr
}

func oauthErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var e oauthError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e), rec.Body.String())
	return e.Error
}

func TestNew_Validation(t *testing.T) {
	store, err := kv.OpenBadger(kv.InMemoryBadgerConfig())
	require.NoError(t, err)
	defer store.Close()

	_, err = New(nil, Config{Issuer: issuer})
	assert.Error(t, err)
	_, err = New(store, Config{})
	assert.Error(t, err)

	p, err := New(store, Config{Issuer: issuer + "/"})
	require.NoError(t, err)
	assert.Equal(t, issuer, p.Issuer())
	assert.Equal(t, 10*time.Minute, p.codeTTL)
}

func TestRegisterClient(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	pub, err := p.RegisterClient(ctx, &RegistrationRequest{RedirectURIs: []string{redirectURI}, TokenEndpointAuthMethod: AuthMethodNone})
	require.NoError(t, err)
	assert.Empty(t, pub.ClientSecret)
	assert.Equal(t, AuthMethodNone, pub.TokenEndpointAuthMethod)

	conf, err := p.RegisterClient(ctx, &RegistrationRequest{RedirectURIs: []string{"http://127.0.0.1:8976/cb"}})
	require.NoError(t, err)
	assert.NotEmpty(t, conf.ClientSecret)
	assert.Equal(t, AuthMethodClientSecretBasic, conf.TokenEndpointAuthMethod)

	client, err := p.LookupClient(ctx, conf.ClientID)
	require.NoError(t, err)
	assert.NotEqual(t, conf.ClientSecret, string(client.SecretHash))
	assert.NoError(t, bcrypt.CompareHashAndPassword(client.SecretHash, []byte(conf.ClientSecret)))
}

func TestRegisterClient_Rejects(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  RegistrationRequest
		want error
	}{
		{"no redirect uris", RegistrationRequest{}, ErrInvalidRedirectURI},
		{"plain http remote", RegistrationRequest{RedirectURIs: []string{"http://evil.example.com/cb"}}, ErrInvalidRedirectURI},
		{"fragment", RegistrationRequest{RedirectURIs: []string{"https://client.example.com/cb#x"}}, ErrInvalidRedirectURI},
		{"relative", RegistrationRequest{RedirectURIs: []string{"/cb"}}, ErrInvalidRedirectURI},
		{"javascript", RegistrationRequest{RedirectURIs: []string{"javascript:alert(1)"}}, ErrInvalidRedirectURI},
		{"auth method", RegistrationRequest{RedirectURIs: []string{redirectURI}, TokenEndpointAuthMethod: "private_key_jwt"}, ErrInvalidClientMetadata},
		{"grant type", RegistrationRequest{RedirectURIs: []string{redirectURI}, GrantTypes: []string{"password"}}, ErrInvalidClientMetadata},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.RegisterClient(ctx, &tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRegisterClient_NativeScheme(t *testing.T) {
	p, _ := newTestProvider(t)
	_, err := p.RegisterClient(context.Background(), &RegistrationRequest{RedirectURIs: []string{"com.example.app:/oauth2redirect"}})
	assert.NoError(t, err)
}

func TestHandleRegister(t *testing.T) {
	p, _ := newTestProvider(t)

	body := `{"redirect_uris":["https://client.example.com/cb"],"client_name":"Claude","token_endpoint_auth_method":"none"}`
	rec := httptest.NewRecorder()
	p.HandleRegister(rec, httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body)))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp RegistrationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ClientID)
	assert.Equal(t, "Claude", resp.ClientName)
	assert.Equal(t, []string{"code"}, resp.ResponseTypes)

	rec = httptest.NewRecorder()
	p.HandleRegister(rec, httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(`{"redirect_uris":[]}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_redirect_uri", oauthErrorCode(t, rec))

	rec = httptest.NewRecorder()
	p.HandleRegister(rec, httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	p.HandleRegister(rec, httptest.NewRequest(http.MethodGet, "/register", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestParseAuthRequest(t *testing.T) {
	p, _ := newTestProvider(t)
	clientID := registerPublic(t, p)
	ctx := context.Background()

	parse := func(q url.Values) (*AuthRequest, error) {
		return p.ParseAuthRequest(ctx, httptest.NewRequest(http.MethodGet, "/authorize?"+q.Encode(), nil))
	}
	valid := func() url.Values {
		return url.Values{
			"response_type":         {"code"},
			"client_id":             {clientID},
			"redirect_uri":          {redirectURI},
			"scope":                 {"read:user profile"},
			"state":                 {"xyz"},
			"code_challenge":        {challengeFor(verifier)},
			"code_challenge_method": {"S256"},
		}
	}

	req, err := parse(valid())
	require.NoError(t, err)
	assert.Equal(t, clientID, req.ClientID)
	assert.Equal(t, []string{"read:user", "profile"}, req.Scope)
	assert.Equal(t, "xyz", req.State)

	q := valid()
	q.Del("redirect_uri")
	req, err = parse(q)
	require.NoError(t, err)
	assert.Equal(t, redirectURI, req.RedirectURI, "single registered URI is the default")

	q = valid()
	q.Del("code_challenge_method")
	req, err = parse(q)
	require.NoError(t, err)
	assert.Equal(t, PKCEMethodPlain, req.CodeChallengeMethod)

	cases := map[string]struct {
		mutate func(url.Values)
		want   error
	}{
		"missing client":    {func(q url.Values) { q.Del("client_id") }, ErrInvalidRequest},
		"unknown client":    {func(q url.Values) { q.Set("client_id", "nope") }, ErrInvalidClient},
		"token flow":        {func(q url.Values) { q.Set("response_type", "token") }, ErrUnsupportedResponseType},
		"foreign redirect":  {func(q url.Values) { q.Set("redirect_uri", "https://evil.example.com/cb") }, ErrInvalidRedirectURI},
		"bad pkce method":   {func(q url.Values) { q.Set("code_challenge_method", "S512") }, ErrInvalidRequest},
		"public sans pkce":  {func(q url.Values) { q.Del("code_challenge"); q.Del("code_challenge_method") }, ErrInvalidRequest},
		"method sans value": {func(q url.Values) { q.Del("code_challenge") }, ErrInvalidRequest},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			q := valid()
			tc.mutate(q)
			_, err := parse(q)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestAuthorizationCodeFlow(t *testing.T) {
	p, store := newTestProvider(t)
	clientID := registerPublic(t, p)
	code := completeAuthorization(t, p, clientID)

	parts := strings.SplitN(code, ":", 3)
	require.Len(t, parts, 3)
	assert.Equal(t, "alice", parts[0])

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {clientID},
		"redirect_uri":  {redirectURI},
		"code_verifier": {verifier},
	}
	rec := postToken(t, p, form, "", "")
	tr := decodeTokens(t, rec)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "bearer", tr.TokenType)
	assert.Equal(t, int64(3600), tr.ExpiresIn)
	assert.Equal(t, "read:user", tr.Scope)
	assert.NotEmpty(t, tr.RefreshToken)
	assert.True(t, strings.HasPrefix(tr.AccessToken, "alice:"+parts[1]+":"))

	_, err := store.Get(context.Background(), prefixAccess+tr.AccessToken)
	assert.ErrorIs(t, err, kv.ErrNotFound, "raw tokens are never stored")

	info, err := p.VerifyToken(context.Background(), tr.AccessToken, nil)
	require.NoError(t, err)
	assert.Equal(t, "alice", info.UserID)
	assert.Equal(t, []string{"read:user"}, info.Scopes)
	assert.Equal(t, clientID, info.Extra["client_id"])
	assert.JSONEq(t, `{"login":"alice"}`, string(info.Extra["props"].(json.RawMessage)))

	grant, err := p.Lookup(context.Background(), tr.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, parts[1], grant.ID)

	rec = postToken(t, p, form, "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "codes are single use")
	assert.Equal(t, "invalid_grant", oauthErrorCode(t, rec))
}

func TestAuthorizationCodeFlow_Rejections(t *testing.T) {
	p, _ := newTestProvider(t)
	clientID := registerPublic(t, p)
	other := registerPublic(t, p)

	tests := []struct {
		name   string
		mutate func(url.Values)
		status int
		code   string
	}{
		{"wrong verifier", func(f url.Values) { f.Set("code_verifier", "not-the-verifier") }, http.StatusBadRequest, "invalid_grant"},
		{"missing verifier", func(f url.Values) { f.Del("code_verifier") }, http.StatusBadRequest, "invalid_grant"},
		{"redirect mismatch", func(f url.Values) { f.Set("redirect_uri", "https://client.example.com/other") }, http.StatusBadRequest, "invalid_grant"},
		{"other client", func(f url.Values) { f.Set("client_id", other) }, http.StatusBadRequest, "invalid_grant"},
		{"unknown client", func(f url.Values) { f.Set("client_id", "ghost") }, http.StatusUnauthorized, "invalid_client"},
		{"no grant type", func(f url.Values) { f.Del("grant_type") }, http.StatusBadRequest, "invalid_request"},
		{"password grant", func(f url.Values) { f.Set("grant_type", "password") }, http.StatusBadRequest, "unsupported_grant_type"},
		{"garbage code", func(f url.Values) { f.Set("code", "alice:x:y") }, http.StatusBadRequest, "invalid_grant"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := completeAuthorization(t, p, clientID)
			form := url.Values{
				"grant_type":    {"authorization_code"},
				"code":          {code},
				"client_id":     {clientID},
				"redirect_uri":  {redirectURI},
				"code_verifier": {verifier},
			}
			tt.mutate(form)
			rec := postToken(t, p, form, "", "")
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, oauthErrorCode(t, rec))
		})
	}
}

func TestExpiredCode(t *testing.T) {
	p, _ := newTestProvider(t)
	clientID := registerPublic(t, p)
	code := completeAuthorization(t, p, clientID)

	p.now = func() time.Time { return time.Now().Add(11 * time.Minute) }
	rec := postToken(t, p, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {clientID},
		"code_verifier": {verifier},
	}, "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", oauthErrorCode(t, rec))
}

func TestRefreshRotation(t *testing.T) {
	p, _ := newTestProvider(t)
	clientID := registerPublic(t, p)
	code := completeAuthorization(t, p, clientID)

	first := decodeTokens(t, postToken(t, p, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {clientID},
		"code_verifier": {verifier},
	}, "", ""))

	refreshForm := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {first.RefreshToken},
		"client_id":     {clientID},
	}
	second := decodeTokens(t, postToken(t, p, refreshForm, "", ""))
	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	info, err := p.VerifyToken(context.Background(), second.AccessToken, nil)
	require.NoError(t, err)
	assert.Equal(t, "alice", info.UserID)

	rec := postToken(t, p, refreshForm, "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "old refresh token is consumed")
	assert.Equal(t, "invalid_grant", oauthErrorCode(t, rec))
}

func TestConfidentialClientAuthentication(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()
	reg, err := p.RegisterClient(ctx, &RegistrationRequest{RedirectURIs: []string{redirectURI}})
	require.NoError(t, err)

	issue := func() string {
		req := authRequest(reg.ClientID)
		req.CodeChallenge, req.CodeChallengeMethod = "", ""
		to, err := p.CompleteAuthorization(ctx, CompleteRequest{Request: req, UserID: "bob", Props: props{Login: "bob"}})
		require.NoError(t, err)
		u, _ := url.Parse(to)
		return u.Query().Get("code")
	}

	form := url.Values{"grant_type": {"authorization_code"}, "code": {issue()}}
	rec := postToken(t, p, form, reg.ClientID, "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_client", oauthErrorCode(t, rec))
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	form = url.Values{"grant_type": {"authorization_code"}, "code": {issue()}}
	decodeTokens(t, postToken(t, p, form, reg.ClientID, reg.ClientSecret))

	form = url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {issue()},
		"client_id":     {reg.ClientID},
		"client_secret": {reg.ClientSecret},
	}
	decodeTokens(t, postToken(t, p, form, "", ""))
}

func TestCompleteAuthorization_Rejects(t *testing.T) {
	p, _ := newTestProvider(t)
	clientID := registerPublic(t, p)
	ctx := context.Background()

	_, err := p.CompleteAuthorization(ctx, CompleteRequest{Request: authRequest(clientID)})
	assert.ErrorIs(t, err, ErrInvalidRequest, "user id required")

	_, err = p.CompleteAuthorization(ctx, CompleteRequest{Request: authRequest(clientID), UserID: "a:b"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	req := authRequest(clientID)
	req.RedirectURI = "https://evil.example.com/cb"
	_, err = p.CompleteAuthorization(ctx, CompleteRequest{Request: req, UserID: "alice"})
	assert.ErrorIs(t, err, ErrInvalidRedirectURI)

	_, err = p.CompleteAuthorization(ctx, CompleteRequest{Request: authRequest("ghost"), UserID: "alice"})
	assert.ErrorIs(t, err, ErrInvalidClient)
}

func TestVerifyToken_Invalid(t *testing.T) {
	p, _ := newTestProvider(t)
	clientID := registerPublic(t, p)
	code := completeAuthorization(t, p, clientID)
	tr := decodeTokens(t, postToken(t, p, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {clientID},
		"code_verifier": {verifier},
	}, "", ""))
	ctx := context.Background()

	_, err := p.VerifyToken(ctx, "", nil)
	assert.ErrorIs(t, err, mcpauth.ErrInvalidToken)

	_, err = p.VerifyToken(ctx, tr.AccessToken+"x", nil)
	assert.ErrorIs(t, err, mcpauth.ErrInvalidToken)

	_, err = p.VerifyToken(ctx, tr.RefreshToken, nil)
	assert.ErrorIs(t, err, mcpauth.ErrInvalidToken, "refresh tokens are not bearer tokens")

	p.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = p.VerifyToken(ctx, tr.AccessToken, nil)
	assert.ErrorIs(t, err, mcpauth.ErrInvalidToken)
}

func TestMetadata(t *testing.T) {
	p, _ := newTestProvider(t)

	rec := httptest.NewRecorder()
	p.HandleAuthServerMetadata(rec, httptest.NewRequest(http.MethodGet, AuthServerMetadataPath, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var meta AuthServerMetadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
	assert.Equal(t, issuer, meta.Issuer)
	assert.Equal(t, issuer+"/authorize", meta.AuthorizationEndpoint)
	assert.Equal(t, issuer+"/token", meta.TokenEndpoint)
	assert.Equal(t, issuer+"/register", meta.RegistrationEndpoint)
	assert.Contains(t, meta.CodeChallengeMethodsSupported, "S256")

	prm := p.ProtectedResourceMetadata("/mcp")
	assert.Equal(t, issuer+"/mcp", prm.Resource)
	assert.Equal(t, []string{issuer}, prm.AuthorizationServers)
}

func TestVerifyPKCE(t *testing.T) {
	assert.True(t, verifyPKCE(challengeFor(verifier), PKCEMethodS256, verifier))
	assert.False(t, verifyPKCE(challengeFor(verifier), PKCEMethodS256, verifier+"x"))
	assert.True(t, verifyPKCE("plain-value", PKCEMethodPlain, "plain-value"))
	assert.False(t, verifyPKCE("plain-value", PKCEMethodPlain, ""))
	assert.True(t, verifyPKCE("", "", ""))
	assert.False(t, verifyPKCE("", "", "unexpected"))
}
