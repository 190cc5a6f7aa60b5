// ABOUTME: End-to-end tests for the gateway HTTP surface with a fake GitHub
// ABOUTME: Covers the browser flow, token exchange, token-info, MCP, CORS and rate limits

package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/2389/bookshelf-gateway/internal/config"
	"github.com/2389/bookshelf-gateway/internal/kv"
	"github.com/2389/bookshelf-gateway/internal/oauthprovider"
	"github.com/2389/bookshelf-gateway/internal/recommend"
	"github.com/2389/bookshelf-gateway/internal/store"
	"github.com/2389/bookshelf-gateway/internal/upstream"
)

const (
	testBaseURL    = "https://books.example.com"
	clientRedirect = "http://127.0.0.1:33418/callback"
	pkceVerifier   = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk-0123"
)

type fakeGitHub struct{}

func (fakeGitHub) AuthCodeURL(state string) string {
	return "https://github.com/login/oauth/authorize?state=" + url.QueryEscape(state)
}

func (fakeGitHub) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "gho_" + code}, nil
}

func (fakeGitHub) FetchUser(context.Context, *oauth2.Token) (*upstream.Profile, error) {
	return &upstream.Profile{Login: "Alice", Name: "Alice Liddell", Email: "alice@example.com"}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{HTTPAddr: "127.0.0.1:0", BaseURL: testBaseURL},
		GitHub: config.GitHubConfig{ClientID: "gh-client", ClientSecret: "gh-secret"},
		Auth: config.AuthConfig{
			CookieSecret:    strings.Repeat("s", 32),
			ConsentTTL:      24 * time.Hour,
			StateTTL:        10 * time.Minute,
			CodeTTL:         10 * time.Minute,
			AccessTokenTTL:  time.Hour,
			RefreshTokenTTL: 24 * time.Hour,
		},
		Recommender: config.RecommenderConfig{Model: "test-model", APIKey: "test", MaxTokens: 300},
		RateLimit:   config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
		Metrics:     config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

type testGateway struct {
	gw  *Gateway
	ts  *httptest.Server
	reg *prometheus.Registry
}

func newTestGateway(t *testing.T, cfg *config.Config) *testGateway {
	t.Helper()

	kvStore, err := kv.OpenBadger(kv.InMemoryBadgerConfig())
	require.NoError(t, err)
	reg := prometheus.NewRegistry()

	gw, err := New(context.Background(), cfg, testLogger(),
		WithStore(store.NewMockStore()),
		WithKV(kvStore),
		WithUpstream(fakeGitHub{}),
		WithRecommender(recommend.Func(func(context.Context, string, int) (string, error) {
			return "1. The Left Hand of Darkness by Ursula K. Le Guin", nil
		})),
		WithRegistry(reg),
	)
	require.NoError(t, err)

	ts := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = gw.gracefulShutdown()
	})
	return &testGateway{gw: gw, ts: ts, reg: reg}
}

func noRedirectClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

var stateInput = regexp.MustCompile(`name="state" value="([^"]+)"`)

// authorize runs the browser side of the flow and returns the token response.
func (tg *testGateway) authorize(t *testing.T) *oauthprovider.TokenResponse {
	t.Helper()
	c := noRedirectClient()

	regBody := `{"redirect_uris":["` + clientRedirect + `"],"client_name":"Desktop Reader","token_endpoint_auth_method":"none"}`
	resp, err := c.Post(tg.ts.URL+"/register", "application/json", strings.NewReader(regBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var client oauthprovider.RegistrationResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&client))
	resp.Body.Close()

	sum := sha256.Sum256([]byte(pkceVerifier))
	q := url.Values{
		"response_type":         {"code"},
		"client_id":             {client.ClientID},
		"redirect_uri":          {clientRedirect},
		"state":                 {"xyz"},
		"code_challenge":        {base64.RawURLEncoding.EncodeToString(sum[:])},
		"code_challenge_method": {"S256"},
	}
	resp, err = c.Get(tg.ts.URL + "/authorize?" + q.Encode())
	require.NoError(t, err)
	page, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, string(page))
	m := stateInput.FindSubmatch(page)
	require.NotNil(t, m, "approval page carries the state")

	resp, err = c.PostForm(tg.ts.URL+"/authorize", url.Values{"state": {string(m[1])}})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	ghURL, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "github.com", ghURL.Host)

	cb := url.Values{"code": {"abc"}, "state": {ghURL.Query().Get("state")}}
	resp, err = c.Get(tg.ts.URL + "/callback?" + cb.Encode())
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	back, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "xyz", back.Query().Get("state"))

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {back.Query().Get("code")},
		"client_id":     {client.ClientID},
		"redirect_uri":  {clientRedirect},
		"code_verifier": {pkceVerifier},
	}
	resp, err = c.PostForm(tg.ts.URL+"/token", form)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tok oauthprovider.TokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tok))
	require.NotEmpty(t, tok.AccessToken)
	return &tok
}

func getWithBearer(t *testing.T, rawURL, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestTokenInfo(t *testing.T) {
	tg := newTestGateway(t, testConfig())
	tok := tg.authorize(t)

	resp := getWithBearer(t, tg.ts.URL+"/token-info", tok.AccessToken)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info TokenInfoResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, tok.AccessToken, info.Token)
	assert.Equal(t, "alice", info.User.Login)
	assert.Equal(t, "Alice Liddell", info.User.DisplayName)
	assert.Equal(t, testBaseURL+"/mcp", info.Instructions.SessionURL)
	assert.Contains(t, info.Instructions.Usage, testBaseURL+"/mcp")
}

func TestTokenInfo_NeverLeaksUpstreamToken(t *testing.T) {
	tg := newTestGateway(t, testConfig())
	tok := tg.authorize(t)

	resp := getWithBearer(t, tg.ts.URL+"/token-info", tok.AccessToken)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.NotContains(t, string(body), "gho_abc")
}

func TestTokenInfo_Unauthorized(t *testing.T) {
	tg := newTestGateway(t, testConfig())

	tests := map[string]string{
		"missing header": "",
		"unknown token":  "Bearer alice:nope:nope",
		"wrong scheme":   "Basic dXNlcjpwYXNz",
	}
	for name, header := range tests {
		t.Run(name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, tg.ts.URL+"/token-info", nil)
			require.NoError(t, err)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
			assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))
		})
	}
}

type bearerTransport struct {
	token string
}

func (b bearerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("Authorization", "Bearer "+b.token)
	return http.DefaultTransport.RoundTrip(r)
}

func TestMCPSession_WithIssuedToken(t *testing.T) {
	tg := newTestGateway(t, testConfig())
	tok := tg.authorize(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	session, err := client.Connect(ctx, &mcpsdk.StreamableClientTransport{
		Endpoint:   tg.ts.URL + MCPPath,
		HTTPClient: &http.Client{Transport: bearerTransport{token: tok.AccessToken}},
	}, nil)
	require.NoError(t, err)
	defer session.Close()

	_, err = session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      "addGenre",
		Arguments: map[string]any{"genre": "Science Fiction"},
	})
	require.NoError(t, err)

	res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: "getProfile", Arguments: map[string]any{}})
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcpsdk.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "Alice Liddell")
	assert.Contains(t, text.Text, "science fiction")
	assert.Contains(t, text.Text, "Interactions: 2")

	resp, err := http.Get(tg.ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `bookshelf_tool_calls_total{outcome="ok",tool="addGenre"} 1`)
	assert.Contains(t, string(body), `bookshelf_oauth_callbacks_total{outcome="ok"} 1`)
}

func TestMCP_RequiresBearer(t *testing.T) {
	tg := newTestGateway(t, testConfig())

	for _, path := range []string{MCPPath, "/anything/else"} {
		resp, err := http.Post(tg.ts.URL+path, "application/json",
			strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
		assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"), path)
	}
}

func TestCORSPreflight_AnyPath(t *testing.T) {
	tg := newTestGateway(t, testConfig())

	for _, path := range []string{MCPPath, "/sse", "/"} {
		req, err := http.NewRequest(http.MethodOptions, tg.ts.URL+path, nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "https://example.org")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusNoContent, resp.StatusCode, path)
		assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "GET, POST, OPTIONS", resp.Header.Get("Access-Control-Allow-Methods"))
		assert.Equal(t, "Content-Type, Authorization", resp.Header.Get("Access-Control-Allow-Headers"))
		assert.Equal(t, "86400", resp.Header.Get("Access-Control-Max-Age"))
	}
}

func TestDiscoveryMetadata(t *testing.T) {
	tg := newTestGateway(t, testConfig())

	resp, err := http.Get(tg.ts.URL + oauthprovider.AuthServerMetadataPath)
	require.NoError(t, err)
	var meta oauthprovider.AuthServerMetadata
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&meta))
	resp.Body.Close()
	assert.Equal(t, testBaseURL, meta.Issuer)
	assert.Equal(t, testBaseURL+"/register", meta.RegistrationEndpoint)

	resp, err = http.Get(tg.ts.URL + oauthprovider.ProtectedResourceMetadataPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var prm map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&prm))
	assert.Equal(t, testBaseURL+"/mcp", prm["resource"])
}

func TestHealth(t *testing.T) {
	tg := newTestGateway(t, testConfig())

	resp, err := http.Get(tg.ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = false
	tg := newTestGateway(t, cfg)

	resp, err := http.Get(tg.ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "falls through to the bearer-gated endpoint")
}

func TestRateLimit_OAuthEndpoints(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2}
	tg := newTestGateway(t, cfg)

	var codes []int
	for range 3 {
		resp, err := http.Post(tg.ts.URL+"/register", "application/json", strings.NewReader(`{}`))
		require.NoError(t, err)
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{http.StatusBadRequest, http.StatusBadRequest, http.StatusTooManyRequests}, codes)

	resp, err := http.Get(tg.ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health is not limited")
}

func TestIPLimiter_Sweep(t *testing.T) {
	l := newIPLimiter(1, 1)
	defer l.Close()
	now := time.Now()
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("10.0.0.1"))
	assert.False(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.2"))

	now = now.Add(limiterIdleTTL + time.Second)
	assert.Equal(t, 2, l.sweep())
	assert.True(t, l.allow("10.0.0.1"))
}

func TestIPLimiter_DisabledAllowsAll(t *testing.T) {
	l := newIPLimiter(0, 0)
	defer l.Close()
	for range 100 {
		require.True(t, l.allow("10.0.0.1"))
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	kvStore, err := kv.OpenBadger(kv.InMemoryBadgerConfig())
	require.NoError(t, err)
	gw, err := New(context.Background(), testConfig(), testLogger(),
		WithStore(store.NewMockStore()),
		WithKV(kvStore),
		WithUpstream(fakeGitHub{}),
		WithRecommender(recommend.Func(func(context.Context, string, int) (string, error) { return "", nil })),
	)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.NoError(t, gw.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestNew_BuildsStoresFromConfig(t *testing.T) {
	cfg := testConfig()
	dir := t.TempDir()
	cfg.Database.Path = dir + "/bookshelf.db"
	cfg.KV = config.KVConfig{Driver: "badger", Path: dir + "/kv"}

	gw, err := New(context.Background(), cfg, testLogger(), WithUpstream(fakeGitHub{}))
	require.NoError(t, err)
	require.NoError(t, gw.gracefulShutdown())
}
