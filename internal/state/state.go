// Package state persists RS token records in a bbolt database. Records
// are written through on every token store mutation; losing the database
// only degrades durability, never in-memory correctness.
package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"linearmcp/internal/models"
)

const (
	// stateDirPerm is the permission mode for the database directory.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the database file. Records
	// contain upstream credentials, so they must not be group readable.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

// Records are keyed by RS refresh token: it is the stable handle that
// survives access token rotation.
var tokenRecordsBucket = []byte("token_records")

// Store wraps a bbolt database holding RS token records.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the token record database at the given path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(tokenRecordsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutRecord writes a token record through to disk.
func (s *Store) PutRecord(rec models.TokenRecord) error {
	if rec.RefreshToken == "" {
		return fmt.Errorf("refresh token is required for persistence")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}

		return tx.Bucket(tokenRecordsBucket).Put([]byte(rec.RefreshToken), data)
	})
}

// DeleteRecord removes a token record by refresh token.
func (s *Store) DeleteRecord(refreshToken string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(tokenRecordsBucket).Delete([]byte(refreshToken))
	})
}

// AllRecords returns every persisted token record. Called once at
// startup to rebuild the in-memory indexes.
func (s *Store) AllRecords() ([]models.TokenRecord, error) {
	var records []models.TokenRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(tokenRecordsBucket)

		return b.ForEach(func(k, v []byte) error {
			var rec models.TokenRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}

			records = append(records, rec)

			return nil
		})
	})

	return records, err
}
