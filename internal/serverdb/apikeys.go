package serverdb

import (
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// APIKeyPrefix starts every plaintext key.
const APIKeyPrefix = "os_live_"

// APIKey is a stored key. The plaintext is never stored, only its sha256.
type APIKey struct {
	ID         string
	UserID     int64
	KeyPrefix  string // first characters of the secret, for display
	Name       string
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

// Expired reports whether the key's expiry has passed at now.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}

const apiKeyColumns = `id, user_id, key_prefix, name, expires_at, last_used_at, created_at`

func scanAPIKey(row interface{ Scan(...any) error }) (*APIKey, error) {
	k := &APIKey{}
	err := row.Scan(&k.ID, &k.UserID, &k.KeyPrefix, &k.Name, &k.ExpiresAt, &k.LastUsedAt, &k.CreatedAt)
	return k, err
}

func hashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

func newKeyID() string {
	id := uuid.New()
	return "ak_" + hex.EncodeToString(id[:8])
}

// GenerateAPIKey creates a key for userID. The plaintext is returned once
// and cannot be recovered later.
func (db *ServerDB) GenerateAPIKey(userID int64, name string, expiresAt *time.Time) (string, *APIKey, error) {
	u, err := db.GetUserByID(userID)
	if err != nil {
		return "", nil, err
	}
	if u == nil {
		return "", nil, fmt.Errorf("user not found: %d", userID)
	}

	if expiresAt != nil {
		utc := expiresAt.UTC()
		expiresAt = &utc
	}

	secret := rand.Text()
	plaintext := APIKeyPrefix + secret
	key := &APIKey{
		ID:        newKeyID(),
		UserID:    userID,
		KeyPrefix: secret[:8],
		Name:      name,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := db.conn.Exec(`
		INSERT INTO api_keys (id, user_id, key_hash, key_prefix, name, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, key.ID, key.UserID, hashKey(plaintext), key.KeyPrefix, key.Name, key.ExpiresAt, key.CreatedAt); err != nil {
		return "", nil, fmt.Errorf("insert api key: %w", err)
	}
	return plaintext, key, nil
}

// VerifyAPIKey resolves a plaintext key to its key and owner and stamps
// last_used_at. Unknown and expired keys return (nil, nil, nil).
func (db *ServerDB) VerifyAPIKey(plaintext string) (*APIKey, *User, error) {
	hash := hashKey(plaintext)
	key, err := scanAPIKey(db.conn.QueryRow(`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = ?`, hash))
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("serverdb: unknown api key", "hash", hash[:8])
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("verify api key: %w", err)
	}

	now := time.Now().UTC()
	if key.Expired(now) {
		slog.Debug("serverdb: expired api key", "key", key.ID, "expires_at", key.ExpiresAt)
		return nil, nil, nil
	}
	if _, err := db.conn.Exec(`UPDATE api_keys SET last_used_at = ? WHERE id = ?`, now, key.ID); err != nil {
		slog.Warn("serverdb: touch api key", "key", key.ID, "err", err)
	}
	key.LastUsedAt = &now

	u, err := db.GetUserByID(key.UserID)
	if err != nil || u == nil {
		return nil, nil, err
	}
	return key, u, nil
}

// RevokeAPIKey deletes keyID if userID owns it.
func (db *ServerDB) RevokeAPIKey(keyID string, userID int64) error {
	res, err := db.conn.Exec(`DELETE FROM api_keys WHERE id = ? AND user_id = ?`, keyID, userID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("api key %s not found for user %d", keyID, userID)
	}
	return nil
}

// ListAPIKeys returns the keys of userID, oldest first.
func (db *ServerDB) ListAPIKeys(userID int64) ([]*APIKey, error) {
	rows, err := db.conn.Query(`SELECT `+apiKeyColumns+` FROM api_keys WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// CleanupExpiredAPIKeys deletes expired keys and returns how many went.
func (db *ServerDB) CleanupExpiredAPIKeys() (int64, error) {
	res, err := db.conn.Exec(`DELETE FROM api_keys WHERE expires_at IS NOT NULL AND expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("cleanup expired api keys: %w", err)
	}
	return res.RowsAffected()
}
