package auth

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Broker orchestrates the authorization flow: /oauth/authorize mints a
// transaction and redirects to Linear, the callback attaches the
// upstream tokens and issues a one-time code, and /oauth/token verifies
// PKCE and mints the RS token pair.
type Broker struct {
	flows     *FlowStore
	tokens    *TokenStore
	redirects *RedirectValidator

	// upstream is nil when no Linear OAuth application is configured;
	// the broker then takes the dev shortcut of minting codes directly.
	upstream *Upstream

	defaultRedirectURI string
	serverURL          string
	logger             *slog.Logger
}

// BrokerConfig holds the broker's dependencies.
type BrokerConfig struct {
	Flows              *FlowStore
	Tokens             *TokenStore
	Redirects          *RedirectValidator
	Upstream           *Upstream
	DefaultRedirectURI string
	ServerURL          string
	Logger             *slog.Logger
}

// NewBroker wires up the authorization flow controller.
func NewBroker(cfg BrokerConfig) *Broker {
	return &Broker{
		flows:              cfg.Flows,
		tokens:             cfg.Tokens,
		redirects:          cfg.Redirects,
		upstream:           cfg.Upstream,
		defaultRedirectURI: cfg.DefaultRedirectURI,
		serverURL:          cfg.ServerURL,
		logger:             cfg.Logger,
	}
}

// Tokens exposes the token store for bearer resolution middleware.
func (b *Broker) Tokens() *TokenStore {
	return b.tokens
}

// compositeState is round-tripped through Linear's state parameter so
// the broker can recover the caller's context when the upstream calls
// back. Upstream state echo is the only channel available.
type compositeState struct {
	TransactionID     string `json:"txn"`
	CallerState       string `json:"state,omitempty"`
	CallerRedirectURI string `json:"redirect_uri,omitempty"`
}

func encodeState(cs compositeState) string {
	data, _ := json.Marshal(cs)
	return base64.RawURLEncoding.EncodeToString(data)
}

// decodeState recovers a composite state. Providers and clients that do
// not echo state exactly are tolerated: on decode failure the caller
// falls back to treating the raw value as a transaction id.
func decodeState(s string) (compositeState, bool) {
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return compositeState{}, false
	}

	var cs compositeState
	if err := json.Unmarshal(data, &cs); err != nil || cs.TransactionID == "" {
		return compositeState{}, false
	}
	return cs, true
}

// writeJSONError emits an RFC 6749 style error body.
func writeJSONError(w http.ResponseWriter, status int, errCode, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":             errCode,
		"error_description": description,
	})
}

// redirectWithParams redirects the user-agent to uri with params
// appended. Uses "&" when the URI already carries a query component
// (RFC 6749 Section 4.1.2 requires retaining existing parameters).
func redirectWithParams(w http.ResponseWriter, r *http.Request, uri string, params url.Values) {
	sep := "?"
	if strings.Contains(uri, "?") {
		sep = "&"
	}
	http.Redirect(w, r, uri+sep+params.Encode(), http.StatusFound)
}

// normalizeScope collapses a comma- or space-separated scope parameter
// into the canonical space-separated form.
func normalizeScope(s string) string {
	return strings.Join(splitScopes(s), " ")
}
