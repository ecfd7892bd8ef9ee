package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"linearmcp/internal/errors"
	"linearmcp/internal/models"
)

// Upstream performs the server-to-server leg of the handshake against
// Linear's OAuth endpoints. The broker's own callback URL is used as the
// upstream redirect target, so the composite state parameter is the only
// channel for recovering caller context on the way back.
type Upstream struct {
	cfg oauth2.Config
}

// NewUpstream configures the Linear OAuth application endpoints.
func NewUpstream(clientID, clientSecret, authorizeURL, tokenURL, callbackURL, scope string) *Upstream {
	return &Upstream{
		cfg: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   authorizeURL,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			RedirectURL: callbackURL,
			Scopes:      splitScopes(scope),
		},
	}
}

// AuthCodeURL builds the Linear authorize URL carrying the composite state.
func (u *Upstream) AuthCodeURL(state string) string {
	return u.cfg.AuthCodeURL(state)
}

// Exchange swaps the upstream authorization code for Linear tokens.
// A non-2xx response or a response without an access token is a hard
// failure; the interactive flow is never retried here.
func (u *Upstream) Exchange(ctx context.Context, code string) (*models.UpstreamToken, error) {
	tok, err := u.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrUpstreamExchange, err)
	}

	if tok.AccessToken == "" {
		return nil, errors.ErrUpstreamNoToken
	}

	up := &models.UpstreamToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() && tok.Expiry.After(time.Unix(0, 0)) {
		up.ExpiresAt = tok.Expiry
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		up.Scopes = splitScopes(scope)
	}

	return up, nil
}

// splitScopes normalizes a scope string that may be comma or space
// separated (Linear uses commas, RFC 6749 uses spaces).
func splitScopes(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ','
	})
	if len(fields) == 0 {
		return nil
	}
	return fields
}
