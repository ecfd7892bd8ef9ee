package errors

import "errors"

// Broker errors.
var (
	ErrInvalidGrant       = errors.New("invalid or expired grant")
	ErrUnknownTransaction = errors.New("unknown transaction")
)

// Upstream exchange errors.
var (
	ErrUpstreamExchange = errors.New("upstream token exchange failed")
	ErrUpstreamNoToken  = errors.New("upstream response missing access token")
)

// Rate limiting errors.
var (
	ErrRateLimited   = errors.New("rate limit exceeded")
	ErrRateLimitWait = errors.New("timed out waiting for rate limit capacity")
)
