package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	"caseline/internal/domain"
)

const apiKeyColumns = `id,actor_id,name,key_hash,roles_json,created_at`

// HashAPIKey is the stored form of a plaintext key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// InsertAPIKey stores key. KeyHash must already be hashed.
func (r Repo) InsertAPIKey(ctx context.Context, tx *sql.Tx, key domain.APIKey) error {
	for field, v := range map[string]string{"id": key.ID, "actor_id": key.ActorID, "key_hash": key.KeyHash} {
		if strings.TrimSpace(v) == "" {
			return errors.New(field + " required")
		}
	}
	if key.CreatedAt == "" {
		key.CreatedAt = nowRFC3339()
	}
	roles, err := json.Marshal(nonNilStrings(key.Roles))
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO api_keys(`+apiKeyColumns+`) VALUES (?,?,?,?,?,?)`,
		key.ID, key.ActorID, key.Name, key.KeyHash, string(roles), key.CreatedAt)
	return err
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func (r Repo) selectAPIKeys(ctx context.Context, where string, args ...any) ([]domain.APIKey, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []domain.APIKey
	for rows.Next() {
		var key domain.APIKey
		var roles string
		if err := rows.Scan(&key.ID, &key.ActorID, &key.Name, &key.KeyHash, &roles, &key.CreatedAt); err != nil {
			return nil, err
		}
		if roles != "" {
			if err := json.Unmarshal([]byte(roles), &key.Roles); err != nil {
				return nil, err
			}
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// GetAPIKeyByHash returns the key whose hash matches.
func (r Repo) GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	keys, err := r.selectAPIKeys(ctx, `WHERE key_hash=? LIMIT 1`, hash)
	if err != nil {
		return domain.APIKey{}, err
	}
	if len(keys) == 0 {
		return domain.APIKey{}, ErrNotFound
	}
	return keys[0], nil
}

// ListAPIKeys returns keys newest first, for one actor when actorID is set.
func (r Repo) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	if actorID != "" {
		return r.selectAPIKeys(ctx, `WHERE actor_id=? ORDER BY created_at DESC, id`, actorID)
	}
	return r.selectAPIKeys(ctx, `ORDER BY created_at DESC, id`)
}

// DeleteAPIKey removes a key by id.
func (r Repo) DeleteAPIKey(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("id required")
	}
	res, err := r.DB.ExecContext(ctx, `DELETE FROM api_keys WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
