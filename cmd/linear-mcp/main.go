// linear-mcp runs an MCP server for Linear issue tracking with an
// embedded OAuth authorization server. Calling agents complete an
// authorization-code + PKCE flow against this server; it brokers the
// handshake with Linear, keeps the Linear tokens server-side, and hands
// out opaque resource-server tokens in their place.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"linearmcp/internal/auth"
	"linearmcp/internal/config"
	"linearmcp/internal/linear"
	"linearmcp/internal/logging"
	"linearmcp/internal/mcpserver"
	"linearmcp/internal/models"
	"linearmcp/internal/ratelimit"
	"linearmcp/internal/server"
	"linearmcp/internal/state"
)

var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)

	// Token persistence is optional; without it RS tokens die with the
	// process and clients re-authorize on restart.
	var persist *state.Store
	if cfg.TokenStorePath != "" {
		persist, err = state.Open(cfg.TokenStorePath)
		if err != nil {
			return fmt.Errorf("opening token store: %w", err)
		}
		defer persist.Close()
		logger.Info("token store opened", slog.String("path", cfg.TokenStorePath))
	} else {
		logger.Warn("no TOKEN_STORE_PATH set, tokens are volatile")
	}

	tokens, err := auth.NewTokenStore(persist, logger)
	if err != nil {
		return fmt.Errorf("loading token store: %w", err)
	}

	flows := auth.NewFlowStore()
	defer flows.Stop()

	redirects := auth.NewRedirectValidator(
		cfg.DefaultRedirectURI,
		cfg.ParseAllowedRedirectURIs(),
		cfg.AllowAllRedirects,
		!cfg.IsProduction(),
	)

	var upstream *auth.Upstream
	if cfg.UpstreamConfigured() {
		upstream = auth.NewUpstream(
			cfg.LinearClientID,
			cfg.LinearClientSecret,
			cfg.LinearAuthorizeURL,
			cfg.LinearTokenURL,
			cfg.ServerURL+"/oauth/callback",
			cfg.LinearScope,
		)
		logger.Info("upstream oauth configured", slog.String("client_id", cfg.LinearClientID))
	} else {
		logger.Warn("no LINEAR_CLIENT_ID set, running in dev shortcut mode")
	}

	broker := auth.NewBroker(auth.BrokerConfig{
		Flows:              flows,
		Tokens:             tokens,
		Redirects:          redirects,
		Upstream:           upstream,
		DefaultRedirectURI: cfg.DefaultRedirectURI,
		ServerURL:          cfg.ServerURL,
		Logger:             logger,
	})

	// Outbound client: concurrency gate plus one dual request/complexity
	// limiter per auth type, with config overrides on the budgets.
	client := linear.NewClient(linear.ClientConfig{
		APIURL: cfg.LinearAPIURL,
		Gate:   ratelimit.NewGate(cfg.MaxConcurrentRequests),
		Limiters: map[models.AuthType]*ratelimit.ProviderLimiter{
			models.AuthTypeAPIKey: ratelimit.NewProviderLimiter(models.AuthTypeAPIKey, ratelimit.Limits{
				RequestsPerHour:   cfg.APIKeyRequestsPerHour,
				ComplexityPerHour: cfg.APIKeyComplexityPerHour,
			}),
			models.AuthTypeOAuth: ratelimit.NewProviderLimiter(models.AuthTypeOAuth, ratelimit.Limits{
				RequestsPerHour:   cfg.OAuthRequestsPerHour,
				ComplexityPerHour: cfg.OAuthComplexityPerHour,
			}),
			models.AuthTypeNone: ratelimit.NewProviderLimiter(models.AuthTypeNone, ratelimit.Limits{
				RequestsPerHour:   cfg.UnauthRequestsPerHour,
				ComplexityPerHour: cfg.UnauthComplexityPerHour,
			}),
		},
		MaxRetries:     cfg.HTTPMaxRetries,
		AttemptTimeout: time.Duration(cfg.HTTPTimeoutSec) * time.Second,
		Logger:         logger,
	})

	// MCP server setup.
	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "linear-mcp", Version: Version},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, client)

	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	mux := server.NewMux(server.MuxConfig{
		Broker:     broker,
		Flows:      flows,
		Tokens:     tokens,
		APIKey:     cfg.LinearAPIKey,
		MCPHandler: mcpHandler,
		Logger:     logger,
		ServerURL:  cfg.ServerURL,
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("starting server",
		slog.String("listen", cfg.ListenAddr),
		slog.String("server_url", cfg.ServerURL),
		slog.Bool("upstream", upstream != nil),
	)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}
