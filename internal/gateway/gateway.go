// ABOUTME: Gateway orchestrator that wires OAuth, actors and the MCP endpoint
// ABOUTME: Owns the HTTP server, stores and background loops and their shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/2389/bookshelf-gateway/internal/actor"
	"github.com/2389/bookshelf-gateway/internal/authflow"
	"github.com/2389/bookshelf-gateway/internal/config"
	"github.com/2389/bookshelf-gateway/internal/consent"
	"github.com/2389/bookshelf-gateway/internal/kv"
	"github.com/2389/bookshelf-gateway/internal/mcp"
	"github.com/2389/bookshelf-gateway/internal/metrics"
	"github.com/2389/bookshelf-gateway/internal/oauthprovider"
	"github.com/2389/bookshelf-gateway/internal/recommend"
	"github.com/2389/bookshelf-gateway/internal/store"
	"github.com/2389/bookshelf-gateway/internal/tools"
	"github.com/2389/bookshelf-gateway/internal/upstream"
)

// MCPPath is where the session protocol endpoint is mounted. Every path
// without its own route is served by it as well.
const MCPPath = "/mcp"

// Version is reported in the MCP initialize response.
var Version = "dev"

// Gateway orchestrates the bookshelf-gateway server components.
type Gateway struct {
	config     *config.Config
	store      store.Store
	kv         kv.Store
	provider   *oauthprovider.Provider
	flow       *authflow.Flow
	actors     *actor.Namespace
	mcpServer  *mcp.Server
	metrics    *metrics.Metrics
	limiter    *ipLimiter
	httpServer *http.Server
	logger     *slog.Logger

	startedAt time.Time
	closeOnce sync.Once
	closeErrs []error
}

// Option overrides a component New would otherwise build from config.
type Option func(*options)

type options struct {
	store       store.Store
	kv          kv.Store
	upstream    authflow.Upstream
	recommender recommend.Completer
	registry    *prometheus.Registry
}

// WithStore uses s for actor state instead of opening database.path.
func WithStore(s store.Store) Option {
	return func(o *options) { o.store = s }
}

// WithKV uses s for OAuth records instead of opening the kv driver.
func WithKV(s kv.Store) Option {
	return func(o *options) { o.kv = s }
}

// WithUpstream replaces the GitHub client.
func WithUpstream(u authflow.Upstream) Option {
	return func(o *options) { o.upstream = u }
}

// WithRecommender replaces the OpenAI-compatible recommender.
func WithRecommender(c recommend.Completer) Option {
	return func(o *options) { o.recommender = c }
}

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// New creates a Gateway from cfg. Stores are opened here and closed by
// Shutdown, including ones passed in with options.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	baseURL := strings.TrimRight(cfg.Server.BaseURL, "/")
	gw := &Gateway{
		config:    cfg,
		logger:    logger.With("component", "gateway"),
		startedAt: time.Now(),
	}

	if err := gw.openStores(ctx, &o, logger); err != nil {
		return nil, err
	}

	reg := o.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	gw.metrics = metrics.New(reg)

	provider, err := oauthprovider.New(gw.kv, oauthprovider.Config{
		Issuer:          baseURL,
		CodeTTL:         cfg.Auth.CodeTTL,
		AccessTokenTTL:  cfg.Auth.AccessTokenTTL,
		RefreshTokenTTL: cfg.Auth.RefreshTokenTTL,
		Logger:          logger,
	})
	if err != nil {
		gw.closeComponents()
		return nil, fmt.Errorf("creating oauth provider: %w", err)
	}
	gw.provider = provider

	up := o.upstream
	if up == nil {
		gh, err := upstream.NewGitHub(upstream.Config{
			ClientID:     cfg.GitHub.ClientID,
			ClientSecret: cfg.GitHub.ClientSecret,
			RedirectURL:  baseURL + "/callback",
			AuthURL:      cfg.GitHub.AuthURL,
			TokenURL:     cfg.GitHub.TokenURL,
			APIURL:       cfg.GitHub.APIURL,
		}, logger)
		if err != nil {
			gw.closeComponents()
			return nil, fmt.Errorf("creating github client: %w", err)
		}
		up = gh
	}

	flow, err := authflow.New(authflow.Config{
		Provider: provider,
		Consent:  consent.New([]byte(cfg.Auth.CookieSecret), cfg.Auth.ConsentTTL),
		Upstream: up,
		StateTTL: cfg.Auth.StateTTL,
		Metrics:  gw.metrics,
		Logger:   logger,
	})
	if err != nil {
		gw.closeComponents()
		return nil, fmt.Errorf("creating authorization flow: %w", err)
	}
	gw.flow = flow

	recommender := o.recommender
	if recommender == nil {
		oc, err := recommend.NewOpenAIClient(recommend.Config{
			BaseURL: cfg.Recommender.BaseURL,
			APIKey:  cfg.Recommender.APIKey,
			Model:   cfg.Recommender.Model,
			Timeout: cfg.Recommender.Timeout,
		}, logger.With("component", "recommender"))
		if err != nil {
			gw.closeComponents()
			return nil, fmt.Errorf("creating recommender: %w", err)
		}
		recommender = oc
	}

	dispatcher := tools.NewDispatcher(tools.Config{
		Recommender: recommender,
		MaxTokens:   cfg.Recommender.MaxTokens,
		Logger:      logger,
	})
	gw.actors = actor.NewNamespace(actor.Config{
		Store:       gw.store,
		Dispatcher:  dispatcher,
		IdleTimeout: cfg.Actors.IdleTimeout,
		Metrics:     gw.metrics,
		Logger:      logger,
	})

	mcpServer, err := mcp.NewServer(mcp.Config{
		Dispatcher:          dispatcher,
		Actors:              gw.actors,
		Verifier:            provider.VerifyToken,
		ResourceMetadataURL: baseURL + oauthprovider.ProtectedResourceMetadataPath,
		Version:             Version,
		Logger:              logger,
	})
	if err != nil {
		gw.closeComponents()
		return nil, fmt.Errorf("creating mcp server: %w", err)
	}
	gw.mcpServer = mcpServer

	gw.limiter = newIPLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

func (g *Gateway) openStores(ctx context.Context, o *options, logger *slog.Logger) error {
	g.store = o.store
	if g.store == nil {
		s, err := store.NewSQLiteStore(g.config.Database.Path, logger)
		if err != nil {
			return fmt.Errorf("initializing store: %w", err)
		}
		g.store = s
	}

	g.kv = o.kv
	if g.kv == nil {
		s, err := kv.Open(ctx, g.config.KV, logger.With("component", "kv"))
		if err != nil {
			_ = g.store.Close()
			return fmt.Errorf("initializing kv store: %w", err)
		}
		g.kv = s
	}
	return nil
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run listens on server.http_addr and blocks until ctx is canceled or the
// server fails, then shuts down.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		_ = g.gracefulShutdown()
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String(), "base_url", g.config.Server.BaseURL)
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown uses a fresh context because the caller's is already done.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeComponents stops background loops and closes both stores. Only the
// first call does anything.
func (g *Gateway) closeComponents() []error {
	g.closeOnce.Do(func() {
		if g.actors != nil {
			g.actors.Close()
		}
		if g.flow != nil {
			g.flow.Close()
		}
		if g.limiter != nil {
			g.limiter.Close()
		}
		g.closeErrs = g.closeStores()
	})
	return g.closeErrs
}

func (g *Gateway) closeStores() []error {
	var errs []error
	if g.kv != nil {
		errs = appendCloseError(errs, "kv close", g.kv.Close())
	}
	if g.store != nil {
		errs = appendCloseError(errs, "store close", g.store.Close())
	}
	return errs
}

// Shutdown stops the HTTP server and releases every component.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = append(errs, g.closeComponents()...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}
