package auth

import (
	"encoding/json"
	"net/http"
)

// HandleRevoke serves POST /oauth/revoke. Per RFC 7009 revocation
// always reports success; this implementation does not invalidate the
// token. Real revocation semantics are intentionally out of scope.
func (b *Broker) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
