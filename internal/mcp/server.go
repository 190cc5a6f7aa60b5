// ABOUTME: MCP Streamable HTTP endpoint exposing the bookshelf tools
// ABOUTME: Bearer-gated via the OAuth provider; each call runs on the caller's actor

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	mcpauth "github.com/modelcontextprotocol/go-sdk/auth"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/2389/bookshelf-gateway/internal/actor"
	"github.com/2389/bookshelf-gateway/internal/auth"
	"github.com/2389/bookshelf-gateway/internal/tools"
)

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// ServerName is advertised in the initialize response.
const ServerName = "bookshelf"

const serverInstructions = "Personal reading assistant. Use addGenre and rateBook to record what the reader likes, " +
	"getProfile to review it and getRecommendations for suggestions. Preferences are kept per GitHub account."

// Messages returned as tool errors. Internal details are only logged.
const (
	msgNotAuthenticated = "Not authenticated. Reconnect and sign in with GitHub."
	msgUnknownTool      = "Unknown tool."
	msgToolFailed       = "Something went wrong while running this tool. Please try again."
)

// Invoker runs one tool for an identity. *actor.Namespace implements it.
type Invoker interface {
	Invoke(ctx context.Context, id *auth.Identity, tool string, args json.RawMessage) (*tools.Result, error)
}

// Config holds configuration for the MCP server.
type Config struct {
	Dispatcher *tools.Dispatcher
	Actors     Invoker
	// Verifier checks bearer tokens. Nil serves the endpoint without auth.
	Verifier mcpauth.TokenVerifier
	// ResourceMetadataURL is sent in WWW-Authenticate on 401 responses.
	ResourceMetadataURL string
	Version             string
	Logger              *slog.Logger
}

// Server exposes the dispatcher's tools over MCP.
type Server struct {
	sdk     *mcpsdk.Server
	handler http.Handler
	actors  Invoker
	logger  *slog.Logger
}

// NewServer creates the MCP server and registers every dispatcher tool.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if cfg.Actors == nil {
		return nil, errors.New("actors are required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		actors: cfg.Actors,
		logger: logger.With("component", "mcp"),
	}
	s.sdk = mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    ServerName,
		Version: version,
	}, &mcpsdk.ServerOptions{
		Instructions: serverInstructions,
	})
	for _, t := range cfg.Dispatcher.Tools() {
		s.sdk.AddTool(&mcpsdk.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		}, s.toolHandler(t.Name))
	}

	var h http.Handler = mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server {
		return s.sdk
	}, nil)
	if cfg.Verifier != nil {
		h = mcpauth.RequireBearerToken(cfg.Verifier, &mcpauth.RequireBearerTokenOptions{
			ResourceMetadataURL: cfg.ResourceMetadataURL,
		})(h)
	}
	s.handler = CORS(limitBody(h))
	return s, nil
}

// Handler returns the HTTP handler for the MCP endpoint, CORS included.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// SDK returns the underlying go-sdk server.
func (s *Server) SDK() *mcpsdk.Server {
	return s.sdk
}

func (s *Server) toolHandler(name string) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		id, err := identityFromRequest(req)
		if err != nil {
			s.logger.Warn("tool call without identity", "tool", name, "error", err)
			return errorResult(msgNotAuthenticated), nil
		}
		ctx = auth.WithIdentity(ctx, id)

		var args json.RawMessage
		if req.Params != nil {
			args = req.Params.Arguments
		}

		res, err := s.actors.Invoke(ctx, id, name, args)
		if err != nil {
			return s.toolError(name, id, err), nil
		}

		out := &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: res.Text}},
		}
		if res.Data != nil {
			out.StructuredContent = res.Data
		}
		return out, nil
	}
}

func (s *Server) toolError(name string, id *auth.Identity, err error) *mcpsdk.CallToolResult {
	var vErr *tools.ValidationError
	switch {
	case errors.As(err, &vErr):
		return errorResult(vErr.Message)
	case errors.Is(err, tools.ErrToolNotFound):
		return errorResult(msgUnknownTool)
	case errors.Is(err, actor.ErrNoIdentity):
		return errorResult(msgNotAuthenticated)
	default:
		s.logger.Error("tool call failed", "tool", name, "user", id.Login, "error", err)
		return errorResult(msgToolFailed)
	}
}

func errorResult(msg string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: msg}},
		IsError: true,
	}
}

// identityFromRequest decodes the Identity stored in the grant props of the
// verified token. The token's user ID is used when props carry no login.
func identityFromRequest(req *mcpsdk.CallToolRequest) (*auth.Identity, error) {
	if req == nil || req.Extra == nil || req.Extra.TokenInfo == nil {
		return nil, actor.ErrNoIdentity
	}
	info := req.Extra.TokenInfo

	id := &auth.Identity{}
	if raw, ok := info.Extra["props"]; ok && raw != nil {
		var data []byte
		switch v := raw.(type) {
		case json.RawMessage:
			data = v
		case []byte:
			data = v
		case string:
			data = []byte(v)
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("encoding token props: %w", err)
			}
			data = b
		}
		if err := json.Unmarshal(data, id); err != nil {
			return nil, fmt.Errorf("decoding token props: %w", err)
		}
	}
	if strings.TrimSpace(id.Login) == "" {
		id.Login = info.UserID
	}
	id.Login = auth.NormalizeLogin(id.Login)
	if id.Login == "" {
		return nil, actor.ErrNoIdentity
	}
	if id.Provider == "" {
		id.Provider = auth.ProviderGitHub
	}
	return id, nil
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
		}
		next.ServeHTTP(w, r)
	})
}
