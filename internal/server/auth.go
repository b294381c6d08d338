package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"caseline/internal/logger"
	"caseline/internal/repo"
)

const (
	sourceJWT    = "jwt"
	sourceAPIKey = "api_key"
	sourceHeader = "actor_header"
)

type AuthConfig struct {
	JWTSecret string
	// AllowLegacyActorHeader trusts X-Actor-Id with no credentials. The
	// principal gets the config default role only.
	AllowLegacyActorHeader bool
	Logger                 *logger.Logger
}

// Principal is the authenticated caller of a request.
type Principal struct {
	ActorID     string
	Roles       []string
	Permissions []string
	Source      string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

type caselineClaims struct {
	jwt.RegisteredClaims
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// SignToken issues a non-expiring HS256 token for actorID.
func SignToken(secret, actorID string, roles []string) (string, error) {
	return SignTokenTTL(secret, actorID, roles, 0)
}

// SignTokenTTL issues an HS256 token that expires after ttl; ttl <= 0 means
// no expiry.
func SignTokenTTL(secret, actorID string, roles []string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	if strings.TrimSpace(actorID) == "" {
		return "", errors.New("actor_id required")
	}
	now := time.Now()
	claims := caselineClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  actorID,
			Issuer:   "caseline",
			IssuedAt: jwt.NewNumericDate(now),
		},
		Roles: roles,
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

type authenticator struct {
	cfg  AuthConfig
	repo repo.Repo
}

func (a authenticator) fromJWT(raw string) (Principal, error) {
	if strings.TrimSpace(a.cfg.JWTSecret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	fields := strings.Fields(raw)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "bearer") {
		return Principal{}, errors.New("malformed authorization header")
	}
	var claims caselineClaims
	_, err := jwt.ParseWithClaims(fields[1], &claims, func(*jwt.Token) (any, error) {
		return []byte(a.cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Principal{}, err
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("token has no subject")
	}
	return Principal{ActorID: claims.Subject, Roles: claims.Roles, Permissions: claims.Permissions, Source: sourceJWT}, nil
}

func (a authenticator) fromAPIKey(ctx context.Context, key string) (Principal, error) {
	rec, err := a.repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if errors.Is(err, repo.ErrNotFound) {
		return Principal{}, errors.New("unknown api key")
	}
	if err != nil {
		return Principal{}, fmt.Errorf("api key lookup: %w", err)
	}
	return Principal{ActorID: rec.ActorID, Roles: rec.Roles, Source: sourceAPIKey}, nil
}

// authenticate returns the request principal. ok is false when the request
// carries no credentials at all.
func (a authenticator) authenticate(req *http.Request) (p Principal, source string, ok bool, err error) {
	if authz := strings.TrimSpace(req.Header.Get("Authorization")); authz != "" {
		p, err = a.fromJWT(authz)
		return p, sourceJWT, true, err
	}
	if key := strings.TrimSpace(req.Header.Get("X-Api-Key")); key != "" {
		p, err = a.fromAPIKey(req.Context(), key)
		return p, sourceAPIKey, true, err
	}
	if actor := strings.TrimSpace(req.Header.Get("X-Actor-Id")); actor != "" && a.cfg.AllowLegacyActorHeader {
		return Principal{ActorID: actor, Source: sourceHeader}, sourceHeader, true, nil
	}
	return Principal{}, "", false, nil
}

// newAuthMiddleware guards every route under basePath except health and the
// OpenAPI document.
func newAuthMiddleware(basePath string, cfg AuthConfig, r repo.Repo) func(http.Handler) http.Handler {
	open := map[string]bool{
		path.Join(basePath, "health"):       true,
		path.Join(basePath, "openapi.json"): true,
	}
	a := authenticator{cfg: cfg, repo: r}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !strings.HasPrefix(req.URL.Path, basePath) || open[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}
			p, source, ok, err := a.authenticate(req)
			switch {
			case !ok:
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			case err != nil:
				cfg.Logger.Warn("authentication failed", "source", source, "path", req.URL.Path, "error", err.Error())
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			if source == sourceHeader {
				cfg.Logger.Warn("trusting X-Actor-Id header", "actor_id", p.ActorID)
			}
			next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), p)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}
