// Package models defines types shared across internal packages.
package models

import "time"

// AuthType classifies the credential used for an upstream Linear call.
// Rate limits differ per auth type.
type AuthType string

// Credential auth types.
const (
	AuthTypeAPIKey AuthType = "apikey"
	AuthTypeOAuth  AuthType = "oauth"
	AuthTypeNone   AuthType = "none"
)

// UpstreamToken is the credential envelope obtained from Linear. The
// broker stores it but never hands it to the calling agent.
type UpstreamToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	Scopes       []string  `json:"scopes,omitempty"`
}

// Transaction records one in-flight authorization attempt. It is created
// on /oauth/authorize, gains Upstream once the Linear callback completes,
// and is deleted on token exchange or by the periodic sweep.
type Transaction struct {
	ID            string
	CodeChallenge string
	CallerState   string
	Scope         string
	CreatedAt     time.Time
	Upstream      *UpstreamToken
}

// TokenRecord maps broker-minted RS tokens to the upstream credential.
// The refresh token is the stable long-lived handle; the access token
// rotates on every refresh.
type TokenRecord struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	CreatedAt    time.Time     `json:"created_at"`
	Upstream     UpstreamToken `json:"upstream"`
}

// Credential is the resolved identity for an outbound Linear call:
// the raw token value plus how to present it.
type Credential struct {
	Token string
	Type  AuthType
}

// OAuthClient represents a dynamically registered OAuth client.
// Only public clients are supported, so no secret is stored.
type OAuthClient struct {
	ClientID     string   `json:"client_id"`
	ClientName   string   `json:"client_name,omitempty"`
	RedirectURIs []string `json:"redirect_uris"`
}
