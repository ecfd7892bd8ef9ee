// Package auth implements the credential broker: an embedded OAuth 2.0
// authorization server that performs an authorization-code-with-PKCE
// handshake on behalf of a calling agent, exchanges the resulting code
// with Linear, and mints opaque resource-server tokens bound to the
// upstream credential. The agent never sees the real Linear secret.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	"github.com/google/uuid"

	"linearmcp/internal/models"
)

const (
	// txnTTL is how long an authorization attempt may stay in flight.
	// Codes bound to older transactions fail exchange with invalid_grant.
	txnTTL = 10 * time.Minute

	// sweepInterval controls how often expired transactions are reaped.
	sweepInterval = 60 * time.Second

	// maxClients caps the number of registered clients to prevent
	// unbounded growth from unauthenticated registration requests.
	maxClients = 100

	// tokenBytes is the number of random bytes in broker-minted tokens
	// and authorization codes (base64url-encoded, unpadded).
	tokenBytes = 32
)

// FlowStore holds the volatile state of in-flight authorization
// attempts: transactions, one-time codes, and registered clients.
// All operations are single-key and atomic under one mutex; nothing
// suspends while holding it.
type FlowStore struct {
	mu      sync.Mutex
	txns    map[string]*models.Transaction
	codes   map[string]string // code -> transaction id
	clients map[string]*models.OAuthClient
	stopGC  chan struct{}
}

// NewFlowStore creates an empty flow store and starts a background
// goroutine that sweeps expired transactions. Call Stop to clean up.
func NewFlowStore() *FlowStore {
	s := &FlowStore{
		txns:    make(map[string]*models.Transaction),
		codes:   make(map[string]string),
		clients: make(map[string]*models.OAuthClient),
		stopGC:  make(chan struct{}),
	}
	go s.gcLoop()
	return s
}

// Stop terminates the background sweep goroutine.
func (s *FlowStore) Stop() {
	close(s.stopGC)
}

func (s *FlowStore) gcLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopGC:
			return
		}
	}
}

// sweep removes transactions older than their TTL and any codes left
// pointing at them. The sweep may race with an in-flight exchange;
// the exchange path treats the resulting "not found" as invalid_grant.
func (s *FlowStore) sweep() {
	cutoff := time.Now().Add(-txnTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, txn := range s.txns {
		if txn.CreatedAt.Before(cutoff) {
			delete(s.txns, id)
		}
	}
	for code, id := range s.codes {
		if _, ok := s.txns[id]; !ok {
			delete(s.codes, code)
		}
	}
}

// CreateTransaction records a new authorization attempt.
func (s *FlowStore) CreateTransaction(codeChallenge, callerState, scope string) *models.Transaction {
	txn := &models.Transaction{
		ID:            uuid.NewString(),
		CodeChallenge: codeChallenge,
		CallerState:   callerState,
		Scope:         scope,
		CreatedAt:     time.Now(),
	}

	s.mu.Lock()
	s.txns[txn.ID] = txn
	s.mu.Unlock()

	return copyTransaction(txn)
}

// GetTransaction returns a snapshot of the transaction, or nil if
// unknown or expired. Expired entries behave exactly like absent ones.
// The snapshot is taken under the lock: a callback attaching upstream
// tokens concurrently never shares memory with the caller's copy.
func (s *FlowStore) GetTransaction(id string) *models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.txns[id]
	if !ok {
		return nil
	}
	if time.Since(txn.CreatedAt) > txnTTL {
		delete(s.txns, id)
		return nil
	}
	return copyTransaction(txn)
}

// AttachUpstream stores the upstream token envelope on the transaction
// once the Linear callback completes. Returns false if the transaction
// is unknown or expired.
func (s *FlowStore) AttachUpstream(id string, tok models.UpstreamToken) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.txns[id]
	if !ok || time.Since(txn.CreatedAt) > txnTTL {
		return false
	}
	txn.Upstream = &tok
	return true
}

// DeleteTransaction removes a transaction unconditionally.
func (s *FlowStore) DeleteTransaction(id string) {
	s.mu.Lock()
	delete(s.txns, id)
	s.mu.Unlock()
}

// MintCode issues a fresh one-time authorization code bound to the
// given transaction.
func (s *FlowStore) MintCode(txnID string) string {
	code := randomToken()

	s.mu.Lock()
	s.codes[code] = txnID
	s.mu.Unlock()

	return code
}

// ConsumeCode resolves a code to its transaction id and deletes it,
// regardless of what the caller does next. A code is usable exactly once.
func (s *FlowStore) ConsumeCode(code string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.codes[code]
	if !ok {
		return "", false
	}
	delete(s.codes, code)
	return id, true
}

// RegisterClient stores a dynamically registered client. Returns false
// if the maximum number of registered clients has been reached.
func (s *FlowStore) RegisterClient(c *models.OAuthClient) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.clients) >= maxClients {
		return false
	}
	s.clients[c.ClientID] = c
	return true
}

// GetClient returns the client info for a given client_id, or nil.
func (s *FlowStore) GetClient(clientID string) *models.OAuthClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clients[clientID]
}

// copyTransaction snapshots a stored transaction, including the
// upstream envelope, so no live store state escapes the mutex.
func copyTransaction(txn *models.Transaction) *models.Transaction {
	cp := *txn
	if txn.Upstream != nil {
		up := *txn.Upstream
		cp.Upstream = &up
	}
	return &cp
}

// randomToken generates an unguessable opaque token: 32 random bytes,
// base64url-encoded without padding.
func randomToken() string {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
