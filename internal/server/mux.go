// Package server provides HTTP server construction for the Linear MCP
// server.
package server

import (
	"log/slog"
	"net/http"

	"linearmcp/internal/auth"
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Broker     *auth.Broker
	Flows      *auth.FlowStore
	Tokens     *auth.TokenStore
	APIKey     string
	MCPHandler http.Handler
	Logger     *slog.Logger
	ServerURL  string
}

// NewMux builds the HTTP mux with OAuth discovery, registration,
// authorization, callback, token, and MCP endpoints. The MCP endpoint
// is protected by Bearer token middleware.
func NewMux(cfg MuxConfig) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/oauth-protected-resource", auth.HandleProtectedResourceMetadata(cfg.ServerURL))
	mux.HandleFunc("/.well-known/oauth-authorization-server", auth.HandleServerMetadata(cfg.ServerURL))
	mux.HandleFunc("/oauth/register", auth.HandleRegistration(cfg.Flows, cfg.Logger, cfg.ServerURL))
	mux.HandleFunc("/oauth/authorize", cfg.Broker.HandleAuthorize)
	mux.HandleFunc("/oauth/callback", cfg.Broker.HandleCallback)
	mux.HandleFunc("/oauth/token", cfg.Broker.HandleToken)
	mux.HandleFunc("/oauth/revoke", cfg.Broker.HandleRevoke)

	authMiddleware := auth.Middleware(cfg.Tokens, cfg.APIKey, cfg.Logger, cfg.ServerURL)
	mux.Handle("/mcp", authMiddleware(cfg.MCPHandler))

	return mux
}
