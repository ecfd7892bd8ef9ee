package auth

import (
	"log/slog"
	"net/http"
	"net/url"
)

// HandleAuthorize serves GET /oauth/authorize. PKCE with S256 is
// mandatory: violations are explicit 400s, never a fallback redirect to
// an unvalidated URI.
//
// With an upstream configured the user-agent is sent to Linear's
// authorize endpoint, carrying the broker's callback as redirect target
// and the composite state. Without one, the dev shortcut mints a code
// immediately and sends the caller straight back.
func (b *Broker) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()

	redirectURI := q.Get("redirect_uri")
	if redirectURI == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "redirect_uri is required")
		return
	}

	codeChallenge := q.Get("code_challenge")
	if codeChallenge == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "code_challenge is required (PKCE)")
		return
	}

	if method := q.Get("code_challenge_method"); method != "S256" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "only S256 code_challenge_method is supported")
		return
	}

	callerState := q.Get("state")
	scope := normalizeScope(q.Get("scope"))

	txn := b.flows.CreateTransaction(codeChallenge, callerState, scope)

	b.logger.Debug("authorization started",
		slog.String("txn", txn.ID),
		slog.Bool("upstream", b.upstream != nil),
	)

	if b.upstream != nil {
		state := encodeState(compositeState{
			TransactionID:     txn.ID,
			CallerState:       callerState,
			CallerRedirectURI: redirectURI,
		})
		http.Redirect(w, r, b.upstream.AuthCodeURL(state), http.StatusFound)
		return
	}

	// Dev shortcut: no upstream handshake, so the code carries no real
	// credential. An unlisted redirect URI falls back to the configured
	// default rather than following the caller-supplied value.
	target := redirectURI
	if !b.redirects.IsAllowed(target) {
		b.logger.Warn("redirect_uri not allowed, using default",
			slog.String("redirect_uri", redirectURI),
		)
		target = b.defaultRedirectURI
	}

	code := b.flows.MintCode(txn.ID)

	params := url.Values{}
	params.Set("code", code)
	if callerState != "" {
		params.Set("state", callerState)
	}
	redirectWithParams(w, r, target, params)
}
