package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedirectValidator_AllowList(t *testing.T) {
	v := NewRedirectValidator("https://app.example.com/callback",
		[]string{"https://other.example.com/cb"}, false, false)

	assert.True(t, v.IsAllowed("https://app.example.com/callback"))
	assert.True(t, v.IsAllowed("https://other.example.com/cb"))
	assert.True(t, v.IsAllowed("https://app.example.com/callback?foo=bar"))

	assert.False(t, v.IsAllowed("https://evil.example.net/callback"))
	assert.False(t, v.IsAllowed("https://app.example.com/other"))
}

func TestRedirectValidator_Malformed(t *testing.T) {
	v := NewRedirectValidator("https://app.example.com/callback", nil, false, true)

	assert.False(t, v.IsAllowed("not a url"))
	assert.False(t, v.IsAllowed(""))
	assert.False(t, v.IsAllowed("relative/path"))
}

func TestRedirectValidator_DevLoopback(t *testing.T) {
	v := NewRedirectValidator("https://app.example.com/callback", nil, false, true)

	// RFC 8252 native clients bind arbitrary loopback ports.
	assert.True(t, v.IsAllowed("http://localhost:49152/cb"))
	assert.True(t, v.IsAllowed("http://127.0.0.1:3000/callback"))
	assert.False(t, v.IsAllowed("http://192.168.1.5:3000/callback"))
}

func TestRedirectValidator_LoopbackBlockedInProduction(t *testing.T) {
	v := NewRedirectValidator("https://app.example.com/callback", nil, false, false)
	assert.False(t, v.IsAllowed("http://localhost:3000/callback"))
}

func TestRedirectValidator_AllowAll(t *testing.T) {
	v := NewRedirectValidator("https://app.example.com/callback", nil, true, false)
	assert.True(t, v.IsAllowed("https://anywhere.example.net/x"))
	assert.True(t, v.IsAllowed("garbage"))
}
