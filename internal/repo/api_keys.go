package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"

	"procureiq/internal/domain"
)

// HashAPIKey returns a stable SHA-256 hex digest for the provided key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// InsertAPIKey stores a hashed API key. KeyHash must already contain the hashed value.
func (r Repo) InsertAPIKey(ctx context.Context, key domain.APIKey) (domain.APIKey, error) {
	if key.ID == "" {
		return key, errors.New("id required")
	}
	if strings.TrimSpace(key.Actor) == "" {
		return key, errors.New("actor required")
	}
	if key.KeyHash == "" {
		return key, errors.New("key_hash required")
	}
	key.CreatedAt = r.now()
	_, err := r.DB.ExecContext(ctx, `INSERT INTO api_keys(id,actor,name,key_hash,created_at) VALUES (?,?,?,?,?)`,
		key.ID, key.Actor, nullable(key.Name), key.KeyHash, key.CreatedAt)
	if isUniqueViolation(err) {
		return key, ErrConflict
	}
	return key, err
}

// GetAPIKeyByHash returns an unrevoked API key by its hashed value.
func (r Repo) GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,actor,COALESCE(name,''),key_hash,created_at FROM api_keys WHERE key_hash=? AND revoked_at IS NULL LIMIT 1`, hash)
	var key domain.APIKey
	err := row.Scan(&key.ID, &key.Actor, &key.Name, &key.KeyHash, &key.CreatedAt)
	if err == sql.ErrNoRows {
		return domain.APIKey{}, ErrNotFound
	}
	return key, err
}

func (r Repo) ListAPIKeys(ctx context.Context) ([]domain.APIKey, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,actor,COALESCE(name,''),key_hash,created_at,revoked_at FROM api_keys ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []domain.APIKey
	for rows.Next() {
		var key domain.APIKey
		var revoked sql.NullString
		if err := rows.Scan(&key.ID, &key.Actor, &key.Name, &key.KeyHash, &key.CreatedAt, &revoked); err != nil {
			return nil, err
		}
		if revoked.Valid {
			key.RevokedAt = &revoked.String
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// RevokeAPIKey marks a key unusable. Keys are kept for audit.
func (r Repo) RevokeAPIKey(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("id required")
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE api_keys SET revoked_at=? WHERE id=? AND revoked_at IS NULL`, r.now(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
