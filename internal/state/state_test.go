package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linearmcp/internal/models"
)

func testStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tokens.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func testRecord(refresh string) models.TokenRecord {
	return models.TokenRecord{
		AccessToken:  "rs_access",
		RefreshToken: refresh,
		CreatedAt:    time.Now().Truncate(time.Second),
		Upstream: models.UpstreamToken{
			AccessToken:  "lin_access",
			RefreshToken: "lin_refresh",
			Scopes:       []string{"read", "write"},
		},
	}
}

func TestStore_RecordRoundTrip(t *testing.T) {
	s, _ := testStore(t)

	require.NoError(t, s.PutRecord(testRecord("rs_refresh")))

	records, err := s.AllRecords()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "rs_access", records[0].AccessToken)
	assert.Equal(t, "lin_access", records[0].Upstream.AccessToken)
	assert.Equal(t, []string{"read", "write"}, records[0].Upstream.Scopes)
}

func TestStore_PutOverwritesByRefreshToken(t *testing.T) {
	s, _ := testStore(t)

	rec := testRecord("rs_refresh")
	require.NoError(t, s.PutRecord(rec))

	rec.AccessToken = "rs_access_rotated"
	require.NoError(t, s.PutRecord(rec))

	records, err := s.AllRecords()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "rs_access_rotated", records[0].AccessToken)
}

func TestStore_RequiresRefreshToken(t *testing.T) {
	s, _ := testStore(t)
	err := s.PutRecord(models.TokenRecord{AccessToken: "rs_access"})
	require.Error(t, err)
}

func TestStore_DeleteRecord(t *testing.T) {
	s, _ := testStore(t)

	require.NoError(t, s.PutRecord(testRecord("rs_refresh")))
	require.NoError(t, s.DeleteRecord("rs_refresh"))

	records, err := s.AllRecords()
	require.NoError(t, err)
	assert.Empty(t, records)

	// Deleting an absent key is not an error.
	assert.NoError(t, s.DeleteRecord("nonexistent"))
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "tokens.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.PutRecord(testRecord("rs_refresh")))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	records, err := s.AllRecords()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "rs_refresh", records[0].RefreshToken)
}
