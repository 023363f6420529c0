package apikeys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/dockpeek/dockpeek/pkg/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS api_keys (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	key_hash TEXT NOT NULL UNIQUE,
	key_prefix TEXT NOT NULL,
	label TEXT NOT NULL,
	created_at TEXT NOT NULL,
	expires_at TEXT NOT NULL,
	last_used_at TEXT,
	is_active INTEGER DEFAULT 1,
	created_by TEXT DEFAULT 'admin'
);
`

// keyPrefixLen is how much of the plaintext is kept for display.
const keyPrefixLen = 8

// cleanupRetention is how long expired keys linger before hard deletion.
const cleanupRetention = 7 * 24 * time.Hour

// KeyInfo is the public view of a stored key. The hash never leaves the
// store; the plaintext exists only in the creation response.
type KeyInfo struct {
	ID         int64   `db:"id" json:"id"`
	Prefix     string  `db:"key_prefix" json:"prefix"`
	Label      string  `db:"label" json:"label"`
	CreatedAt  string  `db:"created_at" json:"created_at"`
	ExpiresAt  string  `db:"expires_at" json:"expires_at"`
	LastUsedAt *string `db:"last_used_at" json:"last_used_at,omitempty"`
	Active     bool    `db:"is_active" json:"is_active"`
}

// Revoked reports the display-friendly inverse of Active.
func (k KeyInfo) Revoked() bool {
	return !k.Active
}

// Store is the persistent token store for programmatic access. Tokens are
// dpk_ plus 64 hex characters; only their SHA-256 is persisted. A single
// process-local mutex serializes writes; initialization is lazy under the
// same mutex.
type Store struct {
	path   string
	logger zerolog.Logger

	mu          sync.Mutex
	db          *sqlx.DB
	initialized bool
}

// NewStore creates a store backed by the given file.
func NewStore(path string) *Store {
	return &Store{
		path:   path,
		logger: log.WithComponent("apikeys"),
	}
}

func hashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

func generateKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate key material: %w", err)
	}
	return "dpk_" + hex.EncodeToString(raw), nil
}

// initialize opens the database and applies the schema once. Callers must
// hold s.mu.
func (s *Store) initialize() error {
	if s.initialized {
		return nil
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create key store directory: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("failed to open key store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return fmt.Errorf("failed to apply key store schema: %w", err)
	}

	s.db = db
	s.initialized = true
	s.logger.Info().Str("path", s.path).Msg("api key store initialized")
	return nil
}

// Create issues a new key with the given label and lifetime, returning its
// id and the plaintext. The plaintext is irrecoverable afterwards.
func (s *Store) Create(label string, ttl time.Duration) (int64, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initialize(); err != nil {
		return 0, "", err
	}

	plaintext, err := generateKey()
	if err != nil {
		return 0, "", err
	}

	now := time.Now().UTC()
	res, err := s.db.Exec(`
		INSERT INTO api_keys (key_hash, key_prefix, label, created_at, expires_at, is_active, created_by)
		VALUES (?, ?, ?, ?, ?, 1, 'admin')`,
		hashKey(plaintext), plaintext[:keyPrefixLen], label,
		now.Format(time.RFC3339Nano), now.Add(ttl).Format(time.RFC3339Nano))
	if err != nil {
		return 0, "", fmt.Errorf("failed to store key: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, "", err
	}

	s.logger.Info().Int64("id", id).Str("prefix", plaintext[:keyPrefixLen]).Str("label", label).Msg("created api key")
	return id, plaintext, nil
}

// Validate hashes the submitted plaintext, looks it up, and rejects
// inactive or expired rows. The last-used timestamp is updated on success.
func (s *Store) Validate(plaintext string) *KeyInfo {
	if plaintext == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initialize(); err != nil {
		s.logger.Error().Err(err).Msg("key store unavailable")
		return nil
	}

	var row struct {
		ID        int64  `db:"id"`
		Prefix    string `db:"key_prefix"`
		Label     string `db:"label"`
		CreatedAt string `db:"created_at"`
		ExpiresAt string `db:"expires_at"`
		Active    bool   `db:"is_active"`
	}
	err := s.db.Get(&row, `
		SELECT id, key_prefix, label, created_at, expires_at, is_active
		FROM api_keys
		WHERE key_hash = ?`, hashKey(plaintext))
	if err != nil {
		return nil
	}

	if !row.Active {
		s.logger.Debug().Str("prefix", row.Prefix).Msg("rejected revoked api key")
		return nil
	}

	now := time.Now().UTC()
	expires, err := time.Parse(time.RFC3339Nano, row.ExpiresAt)
	if err != nil || !now.Before(expires) {
		s.logger.Debug().Str("prefix", row.Prefix).Msg("rejected expired api key")
		return nil
	}

	if _, err := s.db.Exec(`UPDATE api_keys SET last_used_at = ? WHERE id = ?`,
		now.Format(time.RFC3339Nano), row.ID); err != nil {
		s.logger.Debug().Err(err).Msg("failed to update last_used_at")
	}

	return &KeyInfo{
		ID:        row.ID,
		Prefix:    row.Prefix,
		Label:     row.Label,
		CreatedAt: row.CreatedAt,
		ExpiresAt: row.ExpiresAt,
		Active:    true,
	}
}

// List returns every key, newest first, without hashes.
func (s *Store) List() ([]KeyInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initialize(); err != nil {
		return nil, err
	}

	var keys []KeyInfo
	err := s.db.Select(&keys, `
		SELECT id, key_prefix, label, created_at, expires_at, last_used_at, is_active
		FROM api_keys
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return keys, nil
}

// Revoke deactivates a key by id. Returns false when no row matched.
func (s *Store) Revoke(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initialize(); err != nil {
		return false
	}

	res, err := s.db.Exec(`UPDATE api_keys SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		s.logger.Error().Err(err).Int64("id", id).Msg("failed to revoke key")
		return false
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		s.logger.Warn().Int64("id", id).Msg("revoke requested for unknown key")
		return false
	}

	s.logger.Info().Int64("id", id).Msg("revoked api key")
	return true
}

// CleanupExpired hard-deletes keys whose expiry is more than seven days in
// the past and returns how many were removed.
func (s *Store) CleanupExpired() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initialize(); err != nil {
		return 0
	}

	cutoff := time.Now().UTC().Add(-cleanupRetention).Format(time.RFC3339Nano)
	res, err := s.db.Exec(`DELETE FROM api_keys WHERE expires_at < ?`, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to cleanup expired keys")
		return 0
	}

	deleted, _ := res.RowsAffected()
	if deleted > 0 {
		s.logger.Info().Int64("count", deleted).Msg("cleaned up expired api keys")
	}
	return deleted
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.initialized = false
	return err
}
