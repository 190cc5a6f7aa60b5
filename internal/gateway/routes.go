// ABOUTME: HTTP routing for the gateway: OAuth endpoints, token info, health, metrics
// ABOUTME: Everything without its own route is handed to the MCP endpoint

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	mcpauth "github.com/modelcontextprotocol/go-sdk/auth"

	"github.com/2389/bookshelf-gateway/internal/auth"
	"github.com/2389/bookshelf-gateway/internal/mcp"
	"github.com/2389/bookshelf-gateway/internal/oauthprovider"
)

const tokenInfoUsage = "Add %s as a remote MCP server in your client and send this token as " +
	"\"Authorization: Bearer <token>\". Tools: getProfile, addGenre, rateBook, getRecommendations."

// TokenInfoResponse is the body of GET /token-info.
type TokenInfoResponse struct {
	Token        string            `json:"token"`
	User         TokenInfoUser     `json:"user"`
	Instructions TokenInstructions `json:"instructions"`
}

// TokenInfoUser is the public part of the identity behind a token. The
// upstream access token is never included.
type TokenInfoUser struct {
	Login       string `json:"login"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
	Provider    string `json:"provider"`
}

// TokenInstructions tells a user how to connect a client with the token.
type TokenInstructions struct {
	SessionURL string `json:"session_url"`
	Usage      string `json:"usage"`
}

func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()
	limited := g.limiter.Middleware

	mux.Handle("/authorize", limited(http.HandlerFunc(g.flow.HandleAuthorize)))
	mux.Handle("/callback", limited(http.HandlerFunc(g.flow.HandleCallback)))
	mux.Handle("/token", limited(http.HandlerFunc(g.provider.HandleToken)))
	mux.Handle("/register", limited(http.HandlerFunc(g.provider.HandleRegister)))
	mux.HandleFunc(oauthprovider.AuthServerMetadataPath, g.provider.HandleAuthServerMetadata)
	mux.Handle(oauthprovider.ProtectedResourceMetadataPath,
		mcp.CORS(mcpauth.ProtectedResourceMetadataHandler(g.provider.ProtectedResourceMetadata(MCPPath))))

	mux.HandleFunc("/token-info", g.handleTokenInfo)
	mux.HandleFunc("/health", g.handleHealth)
	if g.config.Metrics.Enabled {
		mux.Handle(g.config.Metrics.Path, g.metrics.Handler())
	}

	mux.Handle(MCPPath, g.mcpServer.Handler())
	mux.Handle("/", g.mcpServer.Handler())
	return mux
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(g.startedAt).Seconds()),
		"active_actors":  g.actors.Len(),
	})
}

// handleTokenInfo describes a valid bearer token and how to use it.
func (g *Gateway) handleTokenInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token, msg := auth.ExtractBearerToken(r.Header.Get("Authorization"))
	if msg != "" {
		auth.WriteUnauthorized(w, msg)
		return
	}

	grant, err := g.provider.Lookup(r.Context(), token)
	if err != nil {
		g.logger.Debug("token-info rejected", "error", err)
		auth.WriteUnauthorized(w, "invalid token")
		return
	}

	var id auth.Identity
	if err := json.Unmarshal(grant.Props, &id); err != nil || id.Login == "" {
		g.logger.Error("grant has no identity", "grant_id", grant.ID, "error", err)
		auth.WriteUnauthorized(w, "invalid token")
		return
	}

	sessionURL := strings.TrimRight(g.config.Server.BaseURL, "/") + MCPPath
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(TokenInfoResponse{
		Token: token,
		User: TokenInfoUser{
			Login:       id.Login,
			DisplayName: id.DisplayName,
			Email:       id.Email,
			Provider:    id.Provider,
		},
		Instructions: TokenInstructions{
			SessionURL: sessionURL,
			Usage:      fmt.Sprintf(tokenInfoUsage, sessionURL),
		},
	})
}
