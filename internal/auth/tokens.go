package auth

import (
	"log/slog"
	"sync"
	"time"

	"linearmcp/internal/models"
	"linearmcp/internal/state"
)

// TokenStore maps broker-minted RS tokens to upstream Linear
// credentials. Records are indexed by both access and refresh token for
// O(1) resolution; exactly one live record exists per refresh token.
//
// When a persistence store is configured, every mutation is written
// through best-effort: a failed write is logged and the in-memory
// operation still succeeds, degrading durability only. Without
// persistence the store is volatile and callers must treat it as a
// cache, not a source of truth.
type TokenStore struct {
	mu        sync.RWMutex
	byAccess  map[string]*models.TokenRecord
	byRefresh map[string]*models.TokenRecord

	persist *state.Store // nil when running volatile
	logger  *slog.Logger
}

// NewTokenStore creates a token store, reloading any persisted records.
// persist may be nil for a purely in-memory store.
func NewTokenStore(persist *state.Store, logger *slog.Logger) (*TokenStore, error) {
	s := &TokenStore{
		byAccess:  make(map[string]*models.TokenRecord),
		byRefresh: make(map[string]*models.TokenRecord),
		persist:   persist,
		logger:    logger,
	}

	if persist != nil {
		records, err := persist.AllRecords()
		if err != nil {
			return nil, err
		}
		for i := range records {
			rec := records[i]
			s.byAccess[rec.AccessToken] = &rec
			s.byRefresh[rec.RefreshToken] = &rec
		}
		logger.Info("token store loaded", slog.Int("records", len(records)))
	}

	return s, nil
}

// MintToken generates a fresh RS token guaranteed to differ from every
// value in the upstream envelope. The agent must never be able to
// present the real Linear secret, even by coincidence.
func MintToken(upstream models.UpstreamToken) string {
	for {
		tok := randomToken()
		if tok != upstream.AccessToken && tok != upstream.RefreshToken {
			return tok
		}
	}
}

// Store records an RS access token -> upstream credential mapping.
// If rsRefresh names an existing record, that record's access token is
// rotated and its upstream envelope replaced in place, preserving the
// refresh token as the caller's long-lived handle. Otherwise a new
// record is created, generating a refresh token when none is given.
func (s *TokenStore) Store(rsAccess string, upstream models.UpstreamToken, rsRefresh string) *models.TokenRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.byRefresh[rsRefresh]; rsRefresh != "" && ok {
		delete(s.byAccess, rec.AccessToken)
		rec.AccessToken = rsAccess
		rec.Upstream = upstream
		s.byAccess[rsAccess] = rec
		s.writeThrough(rec)
		return copyRecord(rec)
	}

	if rsRefresh == "" {
		rsRefresh = MintToken(upstream)
	}

	rec := &models.TokenRecord{
		AccessToken:  rsAccess,
		RefreshToken: rsRefresh,
		CreatedAt:    time.Now(),
		Upstream:     upstream,
	}
	s.byAccess[rsAccess] = rec
	s.byRefresh[rsRefresh] = rec
	s.writeThrough(rec)

	return copyRecord(rec)
}

// ByAccess resolves an RS access token to its upstream credential, or
// nil if unknown.
func (s *TokenStore) ByAccess(token string) *models.UpstreamToken {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byAccess[token]
	if !ok {
		return nil
	}
	up := rec.Upstream
	return &up
}

// ByRefresh resolves an RS refresh token to its record, or nil.
func (s *TokenStore) ByRefresh(token string) *models.TokenRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byRefresh[token]
	if !ok {
		return nil
	}
	return copyRecord(rec)
}

// UpdateByRefresh replaces the upstream envelope of the record named by
// refreshToken, optionally rotating its access token. Returns nil if
// the refresh token is unknown; callers must treat that as
// invalid_grant.
func (s *TokenStore) UpdateByRefresh(refreshToken string, upstream models.UpstreamToken, newAccessToken string) *models.TokenRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byRefresh[refreshToken]
	if !ok {
		return nil
	}

	if newAccessToken != "" {
		delete(s.byAccess, rec.AccessToken)
		rec.AccessToken = newAccessToken
		s.byAccess[newAccessToken] = rec
	}
	rec.Upstream = upstream
	s.writeThrough(rec)

	return copyRecord(rec)
}

// writeThrough persists a record best-effort. Callers hold the mutex;
// bbolt writes are fast single-key puts and write volume is per-login,
// not per-request.
func (s *TokenStore) writeThrough(rec *models.TokenRecord) {
	if s.persist == nil {
		return
	}
	if err := s.persist.PutRecord(*rec); err != nil {
		s.logger.Warn("token record persistence failed",
			slog.String("error", err.Error()),
		)
	}
}

func copyRecord(rec *models.TokenRecord) *models.TokenRecord {
	cp := *rec
	return &cp
}
