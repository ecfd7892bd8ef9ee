package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"linearmcp/internal/models"
)

// accessTokenTTL is advisory: it populates expires_in on the token
// response so clients refresh proactively. The store itself does not
// expire records; refresh rotation is the invalidation mechanism.
const accessTokenTTL = time.Hour

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	CodeVerifier string `json:"code_verifier"`
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
}

// HandleToken serves POST /oauth/token with the authorization_code and
// refresh_token grants. Bodies may be form-urlencoded or JSON.
func (b *Broker) HandleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req tokenRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid form data")
			return
		}
		req = tokenRequest{
			GrantType:    r.FormValue("grant_type"),
			Code:         r.FormValue("code"),
			CodeVerifier: r.FormValue("code_verifier"),
			RefreshToken: r.FormValue("refresh_token"),
		}
	}

	switch req.GrantType {
	case "authorization_code":
		b.exchangeCode(w, req)
	case "refresh_token":
		b.refreshToken(w, req)
	default:
		writeJSONError(w, http.StatusBadRequest, "unsupported_grant_type", "grant_type must be authorization_code or refresh_token")
	}
}

// exchangeCode verifies PKCE and mints the RS token pair. The code and
// its transaction are deleted unconditionally: there is no replay
// window, success or failure.
func (b *Broker) exchangeCode(w http.ResponseWriter, req tokenRequest) {
	if req.Code == "" || req.CodeVerifier == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "code and code_verifier are required")
		return
	}

	txnID, ok := b.flows.ConsumeCode(req.Code)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid_grant", "invalid or expired authorization code")
		return
	}

	txn := b.flows.GetTransaction(txnID)
	// A swept transaction and a bogus code are indistinguishable to the
	// caller: both are invalid_grant.
	if txn == nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_grant", "invalid or expired authorization code")
		return
	}
	defer b.flows.DeleteTransaction(txnID)

	if !verifyPKCE(req.CodeVerifier, txn.CodeChallenge) {
		writeJSONError(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")
		return
	}

	var upstream models.UpstreamToken
	if txn.Upstream != nil {
		upstream = *txn.Upstream
	}

	access := MintToken(upstream)
	refresh := MintToken(upstream)

	if txn.Upstream != nil {
		b.tokens.Store(access, upstream, refresh)
	} else {
		// Dev shortcut tokens carry no mapping: they authenticate against
		// this server but resolve to no upstream credential.
		b.logger.Debug("minted unmapped dev tokens", slog.String("txn", txn.ID))
	}

	b.logger.Info("token exchange completed", slog.String("txn", txn.ID))

	writeTokenResponse(w, tokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(accessTokenTTL.Seconds()),
		Scope:        txn.Scope,
	})
}

// refreshToken rotates the RS access token while keeping the refresh
// token stable. The upstream envelope is carried over unchanged;
// refreshing the upstream credential itself is a collaborator concern.
func (b *Broker) refreshToken(w http.ResponseWriter, req tokenRequest) {
	if req.RefreshToken == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	rec := b.tokens.ByRefresh(req.RefreshToken)
	if rec == nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_grant", "unknown refresh token")
		return
	}

	access := MintToken(rec.Upstream)
	updated := b.tokens.UpdateByRefresh(req.RefreshToken, rec.Upstream, access)
	if updated == nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_grant", "unknown refresh token")
		return
	}

	writeTokenResponse(w, tokenResponse{
		AccessToken:  updated.AccessToken,
		RefreshToken: updated.RefreshToken,
		TokenType:    "bearer",
		ExpiresIn:    int(accessTokenTTL.Seconds()),
		Scope:        strings.Join(updated.Upstream.Scopes, " "),
	})
}

func writeTokenResponse(w http.ResponseWriter, resp tokenResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(resp)
}

// verifyPKCE checks that SHA256(verifier), base64url-encoded without
// padding, matches the challenge byte for byte (S256 method).
func verifyPKCE(verifier, challenge string) bool {
	h := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(h[:])
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
