// ABOUTME: GitHub OAuth client: authorize URL, code exchange and profile fetch
// ABOUTME: Wraps golang.org/x/oauth2 and surfaces upstream token errors verbatim

package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

// Scope is the only GitHub scope requested.
const Scope = "read:user"

// DefaultAPIURL is the public GitHub REST API.
const DefaultAPIURL = "https://api.github.com"

// ErrNoLogin indicates a profile response without a login.
var ErrNoLogin = errors.New("github profile has no login")

// ExchangeError is a token exchange failure that GitHub answered with an
// HTTP response. Status and Body are what GitHub sent.
type ExchangeError struct {
	Status      int
	ContentType string
	Body        []byte
	Err         error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("github token exchange failed with status %d", e.Status)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// Config holds the GitHub OAuth application settings.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// AuthURL and TokenURL default to github.com when empty.
	AuthURL  string
	TokenURL string
	APIURL   string
	// HTTPClient defaults to a client with a 15s timeout.
	HTTPClient *http.Client
}

// Profile is the part of GET /user the gateway keeps.
type Profile struct {
	Login string `json:"login"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// GitHub is the upstream client.
type GitHub struct {
	oauth      *oauth2.Config
	apiURL     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGitHub validates cfg and builds a client.
func NewGitHub(cfg Config, logger *slog.Logger) (*GitHub, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RedirectURL == "" {
		return nil, errors.New("github oauth config missing required fields")
	}
	if logger == nil {
		logger = slog.Default()
	}

	endpoint := github.Endpoint
	if cfg.AuthURL != "" || cfg.TokenURL != "" {
		endpoint = oauth2.Endpoint{
			AuthURL:   cfg.AuthURL,
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		}
	}

	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	return &GitHub{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{Scope},
		},
		apiURL:     apiURL,
		httpClient: httpClient,
		logger:     logger.With("component", "upstream"),
	}, nil
}

// AuthCodeURL returns the GitHub authorize URL carrying state.
func (g *GitHub) AuthCodeURL(state string) string {
	return g.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

func (g *GitHub) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
}

// Exchange trades a callback code for a GitHub token. When GitHub answered
// with an error response the result is an *ExchangeError.
func (g *GitHub) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := g.oauth.Exchange(g.clientContext(ctx), code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			xerr := &ExchangeError{
				Status:      re.Response.StatusCode,
				ContentType: re.Response.Header.Get("Content-Type"),
				Body:        re.Body,
				Err:         err,
			}
			g.logger.Warn("github token exchange rejected", "status", xerr.Status, "error_code", re.ErrorCode)
			return nil, xerr
		}
		return nil, fmt.Errorf("github token exchange failed: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, errors.New("github returned an empty access token")
	}
	return tok, nil
}

// FetchUser reads the profile of the token's owner.
func (g *GitHub) FetchUser(ctx context.Context, tok *oauth2.Token) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.apiURL+"/user", nil)
	if err != nil {
		return nil, fmt.Errorf("building profile request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "bookshelf-gateway")

	client := g.oauth.Client(g.clientContext(ctx), tok)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching github profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("github profile request failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var p Profile
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&p); err != nil {
		return nil, fmt.Errorf("decoding github profile: %w", err)
	}
	if strings.TrimSpace(p.Login) == "" {
		return nil, ErrNoLogin
	}
	return &p, nil
}
