package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"linearmcp/internal/models"
)

// registrationRequest is the DCR POST body (RFC 7591).
type registrationRequest struct {
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
}

// registrationResponse is the DCR response. Only public clients are
// issued: client_secret_expires_at is always 0 and no secret is minted.
type registrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	ClientSecretExpiresAt   int64    `json:"client_secret_expires_at"`
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	RegistrationClientURI   string   `json:"registration_client_uri"`
	RegistrationAccessToken string   `json:"registration_access_token"`
}

// HandleRegistration returns the POST /oauth/register handler. The
// endpoint is unauthenticated, so registrations are rate limited to
// 10 per minute process-wide.
func HandleRegistration(store *FlowStore, logger *slog.Logger, serverURL string) http.HandlerFunc {
	limiter := rate.NewLimiter(rate.Every(6*time.Second), 10)

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if !limiter.Allow() {
			writeJSONError(w, http.StatusTooManyRequests, "rate_limited", "too many registration requests")
			return
		}

		var req registrationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_client_metadata", "invalid request body")
			return
		}

		clientID := randomToken()

		grantTypes := req.GrantTypes
		if len(grantTypes) == 0 {
			grantTypes = []string{"authorization_code", "refresh_token"}
		}
		responseTypes := req.ResponseTypes
		if len(responseTypes) == 0 {
			responseTypes = []string{"code"}
		}

		if !store.RegisterClient(&models.OAuthClient{
			ClientID:     clientID,
			ClientName:   req.ClientName,
			RedirectURIs: req.RedirectURIs,
		}) {
			writeJSONError(w, http.StatusServiceUnavailable, "too_many_clients", "client registration limit reached")
			return
		}

		logger.Info("client registered",
			slog.String("client_id", clientID),
			slog.String("client_name", req.ClientName),
		)

		resp := registrationResponse{
			ClientID:                clientID,
			ClientIDIssuedAt:        time.Now().Unix(),
			ClientSecretExpiresAt:   0,
			ClientName:              req.ClientName,
			RedirectURIs:            req.RedirectURIs,
			GrantTypes:              grantTypes,
			ResponseTypes:           responseTypes,
			TokenEndpointAuthMethod: "none",
			RegistrationClientURI:   serverURL + "/oauth/register/" + clientID,
			RegistrationAccessToken: randomToken(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(resp)
	}
}
