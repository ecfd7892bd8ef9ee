package config

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for linear-mcp.
type Config struct {
	// HTTP server settings.
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8090"`

	// ServerURL is the external URL clients use to reach this server.
	// It doubles as the OAuth issuer identifier.
	ServerURL string `env:"SERVER_URL"`

	// Environment controls log format and dev-mode escapes.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Upstream Linear OAuth application. When LINEAR_CLIENT_ID is empty
	// the broker runs in dev-shortcut mode: authorization codes are
	// minted without an upstream handshake and tokens carry no real
	// credential.
	LinearAuthorizeURL string `env:"LINEAR_AUTHORIZE_URL" envDefault:"https://linear.app/oauth/authorize"`
	LinearTokenURL     string `env:"LINEAR_TOKEN_URL" envDefault:"https://api.linear.app/oauth/token"`
	LinearAPIURL       string `env:"LINEAR_API_URL" envDefault:"https://api.linear.app/graphql"`
	LinearClientID     string `env:"LINEAR_CLIENT_ID"`
	LinearClientSecret string `env:"LINEAR_CLIENT_SECRET"`
	LinearScope        string `env:"LINEAR_SCOPE" envDefault:"read,write"`

	// LinearAPIKey is an optional personal API key used for outbound
	// calls when a request carries no resolvable Bearer token. Leaving
	// it empty enforces RS-token-only access to /mcp.
	LinearAPIKey string `env:"LINEAR_API_KEY"`

	// Redirect URI validation.
	DefaultRedirectURI  string `env:"DEFAULT_REDIRECT_URI" envDefault:"http://localhost:3000/callback"`
	AllowedRedirectURIs string `env:"ALLOWED_REDIRECT_URIS"`

	// AllowAllRedirects disables redirect URI validation entirely.
	// Development-only escape hatch; Load rejects it in production.
	AllowAllRedirects bool `env:"ALLOW_ALL_REDIRECTS" envDefault:"false"`

	// TokenStorePath is the bbolt database for RS token records.
	// Empty means the token store is volatile and lost on restart.
	TokenStorePath string `env:"TOKEN_STORE_PATH"`

	// Outbound HTTP client settings.
	MaxConcurrentRequests int64 `env:"MAX_CONCURRENT_REQUESTS" envDefault:"5"`
	HTTPTimeoutSec        int   `env:"HTTP_TIMEOUT_SEC" envDefault:"30"`
	HTTPMaxRetries        int   `env:"HTTP_MAX_RETRIES" envDefault:"3"`

	// Per-auth-type rate limit overrides. Zero means built-in defaults.
	APIKeyRequestsPerHour   int `env:"RATELIMIT_APIKEY_REQUESTS_PER_HOUR"`
	APIKeyComplexityPerHour int `env:"RATELIMIT_APIKEY_COMPLEXITY_PER_HOUR"`
	OAuthRequestsPerHour    int `env:"RATELIMIT_OAUTH_REQUESTS_PER_HOUR"`
	OAuthComplexityPerHour  int `env:"RATELIMIT_OAUTH_COMPLEXITY_PER_HOUR"`
	UnauthRequestsPerHour   int `env:"RATELIMIT_UNAUTH_REQUESTS_PER_HOUR"`
	UnauthComplexityPerHour int `env:"RATELIMIT_UNAUTH_COMPLEXITY_PER_HOUR"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate enforces required settings and rejects production
// configurations that enable development escape hatches.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("SERVER_URL is required")
	}

	if c.LinearClientID != "" && c.LinearClientSecret == "" {
		return fmt.Errorf("LINEAR_CLIENT_SECRET is required when LINEAR_CLIENT_ID is set")
	}

	if c.MaxConcurrentRequests < 1 {
		return fmt.Errorf("MAX_CONCURRENT_REQUESTS must be at least 1")
	}

	if c.HTTPMaxRetries < 1 {
		return fmt.Errorf("HTTP_MAX_RETRIES must be at least 1")
	}

	if c.IsProduction() {
		if c.AllowAllRedirects {
			return fmt.Errorf("ALLOW_ALL_REDIRECTS cannot be enabled in production")
		}

		// Without an upstream client the broker mints codes with no real
		// credential behind them. That shortcut is for local development.
		if c.LinearClientID == "" {
			return fmt.Errorf("LINEAR_CLIENT_ID is required in production")
		}
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// UpstreamConfigured reports whether a Linear OAuth application is set up.
func (c *Config) UpstreamConfigured() bool {
	return c.LinearClientID != ""
}

// ParseAllowedRedirectURIs splits the comma-separated allow-list.
func (c *Config) ParseAllowedRedirectURIs() []string {
	if c.AllowedRedirectURIs == "" {
		return nil
	}

	var uris []string
	for _, u := range strings.Split(c.AllowedRedirectURIs, ",") {
		u = strings.TrimSpace(u)
		if u != "" {
			uris = append(uris, u)
		}
	}

	return uris
}
