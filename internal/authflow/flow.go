// ABOUTME: Browser side of the OAuth authorization-code flow federated to GitHub
// ABOUTME: /authorize consent and redirect, /callback exchange and grant completion

package authflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/2389/bookshelf-gateway/internal/auth"
	"github.com/2389/bookshelf-gateway/internal/consent"
	"github.com/2389/bookshelf-gateway/internal/dedupe"
	"github.com/2389/bookshelf-gateway/internal/metrics"
	"github.com/2389/bookshelf-gateway/internal/oauthprovider"
	"github.com/2389/bookshelf-gateway/internal/upstream"
)

// AuthRequest is the client's authorization request as it travels through
// the flow.
type AuthRequest = oauthprovider.AuthRequest

// Messages returned to browsers. Details are only logged.
const (
	msgInvalidRequest = "Invalid request"
	msgInvalidState   = "Invalid state"
	msgCallbackFailed = "Authorization failed"
)

// Callback outcomes reported to metrics.
const (
	outcomeOK            = "ok"
	outcomeInvalidState  = "invalid_state"
	outcomeReplayed      = "replayed"
	outcomeUpstreamError = "upstream_error"
	outcomeFailed        = "failed"
)

// Error is a failure with the HTTP status and the message shown to the caller.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func badRequest(msg string, err error) *Error {
	return &Error{Status: http.StatusBadRequest, Message: msg, Err: err}
}

// Upstream is the identity provider the flow federates to.
type Upstream interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	FetchUser(ctx context.Context, tok *oauth2.Token) (*upstream.Profile, error)
}

// Config holds the collaborators of a Flow.
type Config struct {
	Provider *oauthprovider.Provider
	Consent  *consent.Cache
	Upstream Upstream
	// StateTTL is how long a state value stays claimed after its first callback.
	StateTTL time.Duration
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Flow implements /authorize and /callback. It keeps no per-request state
// beyond the replay guard.
type Flow struct {
	provider *oauthprovider.Provider
	consent  *consent.Cache
	upstream Upstream
	replay   *dedupe.Guard
	page     *approvalPage
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a Flow. Close releases the replay guard.
func New(cfg Config) (*Flow, error) {
	if cfg.Provider == nil || cfg.Consent == nil || cfg.Upstream == nil {
		return nil, errors.New("authflow: provider, consent and upstream are required")
	}
	page, err := loadApprovalPage()
	if err != nil {
		return nil, err
	}
	ttl := cfg.StateTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Flow{
		provider: cfg.Provider,
		consent:  cfg.Consent,
		upstream: cfg.Upstream,
		replay:   dedupe.New(ttl, 100_000),
		page:     page,
		metrics:  cfg.Metrics,
		logger:   logger.With("component", "authflow"),
	}, nil
}

// Close stops the replay guard's sweeper.
func (f *Flow) Close() {
	f.replay.Close()
}

// HandleAuthorize serves GET and POST /authorize.
func (f *Flow) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	var err error
	switch r.Method {
	case http.MethodGet:
		err = f.StartAuthorization(w, r)
	case http.MethodPost:
		err = f.SubmitApproval(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		err = &Error{Status: http.StatusMethodNotAllowed, Message: "Method not allowed"}
	}
	if err != nil {
		f.writeError(w, r, err)
	}
}

// StartAuthorization validates the client request. Clients this browser
// already approved go straight to GitHub; others get the approval page.
func (f *Flow) StartAuthorization(w http.ResponseWriter, r *http.Request) error {
	req, err := f.provider.ParseAuthRequest(r.Context(), r)
	if err != nil {
		return badRequest(msgInvalidRequest, err)
	}

	if f.consent.CheckApproved(consent.FromRequest(r), req.ClientID) {
		f.logger.Debug("client already approved", "client_id", req.ClientID)
		return f.redirectUpstream(w, r, req)
	}

	client, err := f.provider.LookupClient(r.Context(), req.ClientID)
	if err != nil {
		return badRequest(msgInvalidRequest, err)
	}
	state, err := EncodeState(req)
	if err != nil {
		return err
	}

	setPageHeaders(w)
	return f.page.render(w, req, client.Name, state)
}

// SubmitApproval records the approval in the consent cookie and continues
// to GitHub.
func (f *Flow) SubmitApproval(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := r.ParseForm(); err != nil {
		return badRequest(msgInvalidRequest, err)
	}
	req, err := DecodeState(r.PostForm.Get("state"))
	if err != nil {
		return badRequest(msgInvalidRequest, err)
	}

	client, err := f.provider.LookupClient(r.Context(), req.ClientID)
	if err != nil {
		return badRequest(msgInvalidRequest, err)
	}
	if !client.AllowsRedirect(req.RedirectURI) {
		return badRequest(msgInvalidRequest, oauthprovider.ErrInvalidRedirectURI)
	}

	cookie, err := f.consent.RecordApproval(consent.FromRequest(r), req.ClientID)
	if err != nil {
		return fmt.Errorf("recording approval: %w", err)
	}
	http.SetCookie(w, cookie)
	f.logger.Info("client approved", "client_id", req.ClientID)

	return f.redirectUpstream(w, r, req)
}

func (f *Flow) redirectUpstream(w http.ResponseWriter, r *http.Request, req *AuthRequest) error {
	state, err := encodeUpstreamState(req)
	if err != nil {
		return err
	}
	http.Redirect(w, r, f.upstream.AuthCodeURL(state), http.StatusFound)
	return nil
}

// HandleCallback serves GET /callback.
func (f *Flow) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		f.writeError(w, r, &Error{Status: http.StatusMethodNotAllowed, Message: "Method not allowed"})
		return
	}

	q := r.URL.Query()
	redirectTo, err := f.Callback(r.Context(), q.Get("code"), q.Get("state"))
	if err != nil {
		var xerr *upstream.ExchangeError
		if errors.As(err, &xerr) {
			f.forwardUpstreamError(w, xerr)
			return
		}
		f.writeError(w, r, err)
		return
	}
	http.Redirect(w, r, redirectTo, http.StatusFound)
}

// Callback finishes the flow for one upstream redirect and returns the
// client redirect URL carrying a fresh authorization code.
func (f *Flow) Callback(ctx context.Context, code, state string) (string, error) {
	req, err := DecodeState(state)
	if err != nil {
		f.metrics.ObserveCallback(outcomeInvalidState)
		return "", badRequest(msgInvalidState, err)
	}
	if !f.replay.Claim(state) {
		f.metrics.ObserveCallback(outcomeReplayed)
		return "", badRequest(msgInvalidState, errors.New("state already used"))
	}
	if code == "" {
		f.metrics.ObserveCallback(outcomeFailed)
		return "", badRequest(msgCallbackFailed, errors.New("missing code"))
	}

	tok, err := f.upstream.Exchange(ctx, code)
	if err != nil {
		var xerr *upstream.ExchangeError
		if errors.As(err, &xerr) {
			f.metrics.ObserveCallback(outcomeUpstreamError)
			return "", xerr
		}
		f.metrics.ObserveCallback(outcomeFailed)
		return "", badRequest(msgCallbackFailed, err)
	}

	profile, err := f.upstream.FetchUser(ctx, tok)
	if err != nil {
		f.metrics.ObserveCallback(outcomeFailed)
		return "", badRequest(msgCallbackFailed, err)
	}

	identity := &auth.Identity{
		Login:       auth.NormalizeLogin(profile.Login),
		DisplayName: profile.Name,
		Email:       profile.Email,
		AccessToken: tok.AccessToken,
		Provider:    auth.ProviderGitHub,
	}

	redirectTo, err := f.provider.CompleteAuthorization(ctx, oauthprovider.CompleteRequest{
		Request: req,
		UserID:  identity.Login,
		Scope:   req.Scope,
		Props:   identity,
	})
	if err != nil {
		f.metrics.ObserveCallback(outcomeFailed)
		return "", badRequest(msgCallbackFailed, err)
	}

	f.metrics.ObserveCallback(outcomeOK)
	f.logger.Info("user authorized", "user", identity.Login, "client_id", req.ClientID)
	return redirectTo, nil
}

// forwardUpstreamError relays GitHub's token error response unchanged. A
// 2xx error body is relayed as 502 so the browser sees a failure.
func (f *Flow) forwardUpstreamError(w http.ResponseWriter, xerr *upstream.ExchangeError) {
	f.logger.Warn("forwarding upstream token error", "status", xerr.Status)
	status := xerr.Status
	if status < http.StatusBadRequest {
		status = http.StatusBadGateway
	}
	if xerr.ContentType != "" {
		w.Header().Set("Content-Type", xerr.ContentType)
	}
	w.WriteHeader(status)
	_, _ = w.Write(xerr.Body)
}

func (f *Flow) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ferr *Error
	if !errors.As(err, &ferr) {
		f.logger.Error("authorization request failed", "path", r.URL.Path, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	f.logger.Warn("authorization request rejected", "path", r.URL.Path, "status", ferr.Status, "error", ferr.Err)
	http.Error(w, ferr.Message, ferr.Status)
}

func setPageHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; frame-ancestors 'none'")
}
