// ABOUTME: Tests for the GitHub client against an httptest stand-in
// ABOUTME: Covers authorize URL, code exchange, error forwarding and profile decoding

package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeGitHub struct {
	*httptest.Server
	tokenStatus int
	tokenBody   string
	userStatus  int
	user        map[string]any
	gotCode     string
	gotAuth     string
}

func newFakeGitHub(t *testing.T) *fakeGitHub {
	t.Helper()
	f := &fakeGitHub{
		tokenStatus: http.StatusOK,
		tokenBody:   `{"access_token":"gho_abc","token_type":"bearer","scope":"read:user"}`,
		userStatus:  http.StatusOK,
		user:        map[string]any{"login": "Alice", "name": "Alice Liddell", "email": "alice@example.com"},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.gotCode = r.PostForm.Get("code")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.tokenStatus)
		_, _ = io.WriteString(w, f.tokenBody)
	})
	mux.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
		f.gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.userStatus)
		_ = json.NewEncoder(w).Encode(f.user)
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func newTestClient(t *testing.T, f *fakeGitHub) *GitHub {
	t.Helper()
	g, err := NewGitHub(Config{
		ClientID:     "gh-client",
		ClientSecret: "gh-secret",
		RedirectURL:  "https://books.example.com/callback",
		AuthURL:      f.URL + "/login/oauth/authorize",
		TokenURL:     f.URL + "/login/oauth/access_token",
		APIURL:       f.URL,
		HTTPClient:   f.Client(),
	}, testLogger())
	require.NoError(t, err)
	return g
}

func TestNewGitHub_RequiresCredentials(t *testing.T) {
	_, err := NewGitHub(Config{ClientID: "x", RedirectURL: "https://a/callback"}, nil)
	assert.Error(t, err)
}

func TestAuthCodeURL(t *testing.T) {
	g, err := NewGitHub(Config{ClientID: "gh-client", ClientSecret: "s", RedirectURL: "https://books.example.com/callback"}, nil)
	require.NoError(t, err)

	u, err := url.Parse(g.AuthCodeURL("opaque-state"))
	require.NoError(t, err)

	assert.Equal(t, "github.com", u.Host)
	q := u.Query()
	assert.Equal(t, "gh-client", q.Get("client_id"))
	assert.Equal(t, "read:user", q.Get("scope"))
	assert.Equal(t, "opaque-state", q.Get("state"))
	assert.Equal(t, "https://books.example.com/callback", q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
}

func TestExchangeAndFetchUser(t *testing.T) {
	f := newFakeGitHub(t)
	g := newTestClient(t, f)
	ctx := context.Background()

	tok, err := g.Exchange(ctx, "code-123")
	require.NoError(t, err)
	assert.Equal(t, "gho_abc", tok.AccessToken)
	assert.Equal(t, "code-123", f.gotCode)

	p, err := g.FetchUser(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, "Alice", p.Login)
	assert.Equal(t, "Alice Liddell", p.Name)
	assert.Equal(t, "alice@example.com", p.Email)
	assert.Equal(t, "Bearer gho_abc", f.gotAuth)
}

func TestExchange_ForwardsUpstreamError(t *testing.T) {
	f := newFakeGitHub(t)
	f.tokenStatus = http.StatusUnauthorized
	f.tokenBody = `{"error":"bad_verification_code","error_description":"The code passed is incorrect or expired."}`
	g := newTestClient(t, f)

	_, err := g.Exchange(context.Background(), "stale")
	var xerr *ExchangeError
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, http.StatusUnauthorized, xerr.Status)
	assert.Equal(t, f.tokenBody, string(xerr.Body))
	assert.Equal(t, "application/json", xerr.ContentType)
}

func TestExchange_TransportFailure(t *testing.T) {
	f := newFakeGitHub(t)
	g := newTestClient(t, f)
	f.Close()

	_, err := g.Exchange(context.Background(), "code")
	require.Error(t, err)
	var xerr *ExchangeError
	assert.False(t, errors.As(err, &xerr), "transport errors are not forwarded")
}

func TestFetchUser_Failures(t *testing.T) {
	f := newFakeGitHub(t)
	g := newTestClient(t, f)
	ctx := context.Background()
	tok, err := g.Exchange(ctx, "code")
	require.NoError(t, err)

	f.userStatus = http.StatusForbidden
	_, err = g.FetchUser(ctx, tok)
	assert.ErrorContains(t, err, "status 403")

	f.userStatus = http.StatusOK
	f.user = map[string]any{"login": "  ", "name": "Nobody"}
	_, err = g.FetchUser(ctx, tok)
	assert.ErrorIs(t, err, ErrNoLogin)
}
