package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/inkwell/inkwell/internal/auth"
	"github.com/inkwell/inkwell/internal/cache"
	"github.com/inkwell/inkwell/internal/model"
	"github.com/inkwell/inkwell/internal/repository"
)

const (
	// minAuthDuration is the minimum time to spend on API key auth to
	// prevent timing attacks.
	minAuthDuration = 200 * time.Millisecond
)

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	Logger     *slog.Logger
	Repository *repository.Repository
	Cache      *cache.Cache
	Tokens     *auth.TokenIssuer
}

// Auth returns a middleware that authenticates backoffice requests.
// Credentials starting with "ik_" are treated as API keys and verified
// against the key store; anything else is parsed as a session token.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential := extractCredential(r)
			if credential == "" {
				logAuthFailure(cfg.Logger, r, "missing_credential")
				writeAuthError(w)
				return
			}

			if strings.HasPrefix(credential, "ik_") {
				authenticateAPIKey(cfg, next, w, r, credential)
				return
			}

			authenticateSession(cfg, next, w, r, credential)
		})
	}
}

// authenticateSession verifies a JWT session token.
func authenticateSession(cfg AuthConfig, next http.Handler, w http.ResponseWriter, r *http.Request, token string) {
	claims, err := cfg.Tokens.Verify(token)
	if err != nil {
		logAuthFailure(cfg.Logger, r, "invalid_session")
		writeAuthError(w)
		return
	}

	authCtx := &model.AuthContext{
		UserID: claims.UserID,
		Scopes: claims.Scopes,
	}

	ctx := auth.ContextWithAuth(r.Context(), authCtx)
	next.ServeHTTP(w, r.WithContext(ctx))
}

// authenticateAPIKey verifies an API key with a cache-aside lookup.
func authenticateAPIKey(cfg AuthConfig, next http.Handler, w http.ResponseWriter, r *http.Request, key string) {
	startTime := time.Now()

	// Ensure consistent timing regardless of outcome
	defer func() {
		elapsed := time.Since(startTime)
		if elapsed < minAuthDuration {
			time.Sleep(minAuthDuration - elapsed)
		}
	}()

	parsed, err := auth.ParseAPIKey(key)
	if err != nil {
		logAuthFailure(cfg.Logger, r, "invalid_format")
		writeAuthError(w)
		return
	}

	// Check cache first
	cacheKey := auth.QuickHash(key)
	authCtx, _ := cfg.Cache.GetAuthContext(r.Context(), cacheKey)

	if authCtx != nil {
		cfg.Logger.Info("authentication successful",
			slog.String("key_id", authCtx.KeyID),
			slog.String("key_prefix", authCtx.KeyPrefix),
			slog.String("user_id", authCtx.UserID),
			slog.Bool("cache_hit", true),
			slog.String("request_id", GetRequestID(r.Context())),
		)

		ctx := auth.ContextWithAuth(r.Context(), authCtx)
		next.ServeHTTP(w, r.WithContext(ctx))
		return
	}

	// Cache miss - lookup by prefix
	keys, err := cfg.Repository.GetAPIKeysByPrefix(r.Context(), parsed.Prefix)
	if err != nil {
		cfg.Logger.Error("database error during auth",
			slog.String("error", err.Error()),
			slog.String("request_id", GetRequestID(r.Context())),
		)
		writeAuthError(w)
		return
	}

	// Verify against each candidate key (handles prefix collisions)
	var matchedKey *model.APIKey
	for _, k := range keys {
		match, err := auth.VerifySecret(key, k.KeyHash)
		if err != nil {
			continue
		}
		if match {
			matchedKey = k
			break
		}
	}

	if matchedKey == nil {
		logAuthFailure(cfg.Logger, r, "invalid_key")
		writeAuthError(w)
		return
	}

	authCtx = &model.AuthContext{
		KeyID:     matchedKey.ID,
		KeyPrefix: matchedKey.KeyPrefix,
		UserID:    matchedKey.UserID,
		Scopes:    matchedKey.Scopes,
	}

	// Cache the result
	_ = cfg.Cache.SetAuthContext(r.Context(), cacheKey, authCtx)

	// Update last_used_at off the request path
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = cfg.Repository.TouchAPIKeyLastUsed(ctx, matchedKey.ID)
	}()

	cfg.Logger.Info("authentication successful",
		slog.String("key_id", authCtx.KeyID),
		slog.String("key_prefix", authCtx.KeyPrefix),
		slog.String("user_id", authCtx.UserID),
		slog.Bool("cache_hit", false),
		slog.String("request_id", GetRequestID(r.Context())),
	)

	ctx := auth.ContextWithAuth(r.Context(), authCtx)
	next.ServeHTTP(w, r.WithContext(ctx))
}

func logAuthFailure(logger *slog.Logger, r *http.Request, reason string) {
	logger.Warn("authentication failed",
		slog.String("reason", reason),
		slog.String("ip", r.RemoteAddr),
		slog.String("endpoint", r.Method+" "+r.URL.Path),
		slog.String("request_id", GetRequestID(r.Context())),
	)
}

// extractCredential extracts the API key or session token from the request.
// Supports both "Authorization: Bearer <credential>" and "X-API-Key: <key>".
func extractCredential(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		if strings.HasPrefix(authHeader, "Bearer ") {
			return strings.TrimPrefix(authHeader, "Bearer ")
		}
	}

	return r.Header.Get("X-API-Key")
}

// writeAuthError writes a 401 Unauthorized response.
// Uses the same message for all auth failures to prevent enumeration.
func writeAuthError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"UNAUTHORIZED","message":"Invalid or missing credentials"}}`))
}
