package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	apperrors "linearmcp/internal/errors"
)

// HandleCallback serves the upstream redirect target. Linear sends back
// its authorization code and echoes the composite state; the broker
// exchanges the code server-to-server, attaches the upstream tokens to
// the transaction, and hands the caller a fresh one-time code.
//
// Exchange failures are surfaced as 500s and never retried here: the
// user restarts the interactive flow. Retry discipline belongs to the
// rate-limited API client, not the handshake.
func (b *Broker) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if b.upstream == nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "no upstream provider configured")
		return
	}

	q := r.URL.Query()

	code := q.Get("code")
	rawState := q.Get("state")
	if code == "" || rawState == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "code and state are required")
		return
	}

	cs, ok := decodeState(rawState)
	if !ok {
		// Tolerate providers that mangle the state: treat the raw value
		// as a bare transaction id.
		cs = compositeState{TransactionID: rawState}
	}

	txn := b.flows.GetTransaction(cs.TransactionID)
	if txn == nil {
		writeJSONError(w, http.StatusBadRequest, "unknown_txn", "unknown or expired transaction")
		return
	}

	upstream, err := b.upstream.Exchange(r.Context(), code)
	if err != nil {
		b.logger.Error("upstream code exchange failed",
			slog.String("txn", txn.ID),
			slog.String("error", err.Error()),
		)

		errCode := "upstream_token_error"
		if errors.Is(err, apperrors.ErrUpstreamNoToken) {
			errCode = "upstream_no_token"
		}
		writeJSONError(w, http.StatusInternalServerError, errCode, "exchanging code with upstream provider failed")

		return
	}

	if !b.flows.AttachUpstream(txn.ID, *upstream) {
		// The sweep won the race; indistinguishable from a late callback.
		writeJSONError(w, http.StatusBadRequest, "unknown_txn", "unknown or expired transaction")
		return
	}

	target := cs.CallerRedirectURI
	if target == "" {
		target = b.defaultRedirectURI
	}
	if !b.redirects.IsAllowed(target) {
		// Never fall through to an unvalidated URI with a live code.
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "redirect_uri not allowed")
		return
	}

	newCode := b.flows.MintCode(txn.ID)

	b.logger.Info("upstream callback completed", slog.String("txn", txn.ID))

	params := url.Values{}
	params.Set("code", newCode)
	if cs.CallerState != "" {
		params.Set("state", cs.CallerState)
	}
	redirectWithParams(w, r, target, params)
}
