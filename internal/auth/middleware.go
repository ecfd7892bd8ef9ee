package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"linearmcp/internal/models"
)

type contextKey int

const (
	ctxCredential contextKey = iota
	ctxSessionID
	ctxRemoteIP
)

// CredentialFromContext returns the upstream credential resolved for
// this request, or a zero Credential with Type AuthTypeNone.
func CredentialFromContext(ctx context.Context) models.Credential {
	if c, ok := ctx.Value(ctxCredential).(models.Credential); ok {
		return c
	}
	return models.Credential{Type: models.AuthTypeNone}
}

// SessionIDFromContext returns the request's session identifier, or "".
func SessionIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxSessionID).(string)
	return v
}

// RequestRemoteIP returns the client IP from the context, or "".
func RequestRemoteIP(ctx context.Context) string {
	v, _ := ctx.Value(ctxRemoteIP).(string)
	return v
}

// Middleware returns HTTP middleware that resolves RS Bearer tokens to
// upstream Linear credentials. Downstream handlers only ever see the
// resolved credential; the RS token stays at this boundary.
//
// When the token does not resolve and a fallback API key is configured,
// the request proceeds under that key. Otherwise the response is a 401
// whose WWW-Authenticate challenge points at the discovery document and
// carries a session id for client correlation.
func Middleware(tokens *TokenStore, apiKey string, logger *slog.Logger, serverURL string) func(http.Handler) http.Handler {
	discoveryURL := serverURL + "/.well-known/oauth-authorization-server"

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			sessionID := uuid.NewString()

			ctx := r.Context()
			ctx = context.WithValue(ctx, ctxSessionID, sessionID)
			ctx = context.WithValue(ctx, ctxRemoteIP, ip)

			authHeader := r.Header.Get("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				token := strings.TrimPrefix(authHeader, "Bearer ")

				if upstream := tokens.ByAccess(token); upstream != nil {
					logger.Debug("bearer token resolved",
						slog.String("ip", ip),
						slog.String("session_id", sessionID),
					)

					ctx = context.WithValue(ctx, ctxCredential, models.Credential{
						Token: upstream.AccessToken,
						Type:  models.AuthTypeOAuth,
					})
					next.ServeHTTP(w, r.WithContext(ctx))

					return
				}
			}

			if apiKey != "" {
				logger.Debug("using configured API key",
					slog.String("ip", ip),
					slog.String("session_id", sessionID),
				)

				ctx = context.WithValue(ctx, ctxCredential, models.Credential{
					Token: apiKey,
					Type:  models.AuthTypeAPIKey,
				})
				next.ServeHTTP(w, r.WithContext(ctx))

				return
			}

			logger.Debug("unauthenticated request rejected",
				slog.String("ip", ip),
				slog.String("path", r.URL.Path),
				slog.String("session_id", sessionID),
			)

			w.Header().Set("WWW-Authenticate", fmt.Sprintf(
				`Bearer realm="MCP", authorization_uri=%q, session_id=%q`,
				discoveryURL, sessionID,
			))
			w.WriteHeader(http.StatusUnauthorized)
		})
	}
}
