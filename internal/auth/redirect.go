package auth

import "net/url"

// RedirectValidator enforces the redirect URI allow-list. A URI is
// allowed when its scheme://host/path form (query and fragment
// stripped) or its exact raw string is a member of the configured set.
// In development mode any loopback URI is additionally allowed
// (RFC 8252 Section 7.3 permits dynamic ports for native clients).
type RedirectValidator struct {
	// allowAll bypasses validation entirely. Development-only escape
	// hatch; config validation rejects it in production.
	allowAll bool
	devMode  bool
	allowed  map[string]struct{}
}

// NewRedirectValidator builds a validator from the configured default
// redirect URI plus the comma-separated allow-list.
func NewRedirectValidator(defaultURI string, allowList []string, allowAll, devMode bool) *RedirectValidator {
	v := &RedirectValidator{
		allowAll: allowAll,
		devMode:  devMode,
		allowed:  make(map[string]struct{}),
	}

	for _, raw := range append([]string{defaultURI}, allowList...) {
		if raw == "" {
			continue
		}
		v.allowed[raw] = struct{}{}
		if norm, ok := normalizeURI(raw); ok {
			v.allowed[norm] = struct{}{}
		}
	}

	return v
}

// IsAllowed reports whether uri may receive authorization codes.
// Malformed URIs are never allowed.
func (v *RedirectValidator) IsAllowed(uri string) bool {
	if v.allowAll {
		return true
	}

	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" {
		return false
	}

	if v.devMode && isLoopbackHost(u.Hostname()) {
		return true
	}

	if _, ok := v.allowed[uri]; ok {
		return true
	}

	norm, ok := normalizeURI(uri)
	if !ok {
		return false
	}
	_, ok = v.allowed[norm]
	return ok
}

// normalizeURI reduces a URI to scheme://host/path, dropping query and
// fragment so callers may append their own parameters.
func normalizeURI(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return "", false
	}
	return u.Scheme + "://" + u.Host + u.Path, true
}

// isLoopbackHost returns true if the hostname is a loopback address.
func isLoopbackHost(host string) bool {
	return host == "127.0.0.1" || host == "localhost" || host == "::1"
}
