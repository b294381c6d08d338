package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"caseline/internal/domain"
	"caseline/internal/engine/auth"
	"caseline/internal/repo"
)

const apiKeyPrefix = "cl_"

// APIKeyCreateOptions are parameters for issuing an API key.
type APIKeyCreateOptions struct {
	ActorID string
	Name    string
	Roles   []string
}

// CreateAPIKey stores a new key for ActorID and returns the record along with
// the plaintext key. Only the hash is persisted.
func (e Engine) CreateAPIKey(ctx context.Context, opts APIKeyCreateOptions) (domain.APIKey, string, error) {
	actor := strings.TrimSpace(opts.ActorID)
	if actor == "" {
		return domain.APIKey{}, "", errors.New("actor_id required")
	}
	svc := auth.Service{Config: e.Config}
	roles := make([]string, 0, len(opts.Roles))
	for _, role := range opts.Roles {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		if !svc.KnownRole(role) {
			return domain.APIKey{}, "", fmt.Errorf("invalid role %q", role)
		}
		roles = append(roles, role)
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("generate key: %w", err)
	}
	plain := apiKeyPrefix + hex.EncodeToString(buf)
	rec := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actor,
		Name:      strings.TrimSpace(opts.Name),
		KeyHash:   repo.HashAPIKey(plain),
		Roles:     roles,
		CreatedAt: e.stamp(),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, rec); err != nil {
		return domain.APIKey{}, "", err
	}
	e.Log.Info("api key created", "key_id", rec.ID, "actor_id", actor, "roles", roles)
	return rec, plain, nil
}

// RevokeAPIKey deletes a key by id.
func (e Engine) RevokeAPIKey(ctx context.Context, id string) error {
	if err := e.Repo.DeleteAPIKey(ctx, id); err != nil {
		return err
	}
	e.Log.Info("api key revoked", "key_id", id)
	return nil
}
