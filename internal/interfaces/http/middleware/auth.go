package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/monitoring/logging"
)

// contextKey is an unexported type for context keys to prevent collisions.
type contextKey int

const (
	// apiKeyNameContextKey carries the masked name of the authenticated key.
	apiKeyNameContextKey contextKey = iota
)

// APIKeyAuthConfig holds configuration for the API-key auth middleware.
type APIKeyAuthConfig struct {
	// Enabled toggles authentication. When false every request passes.
	Enabled bool

	// Header is the request header carrying the key. Defaults to X-API-Key.
	Header string

	// Keys is the set of accepted API keys.
	Keys []string

	// SkipPaths are paths that bypass authentication entirely.
	SkipPaths []string
}

// DefaultAPIKeyAuthConfig returns the default auth configuration.
func DefaultAPIKeyAuthConfig() APIKeyAuthConfig {
	return APIKeyAuthConfig{
		Enabled: false,
		Header:  "X-API-Key",
	}
}

// APIKeyAuth returns middleware that enforces static API-key authentication.
// Keys are compared in constant time. Requests without a valid key receive
// 401 Unauthorized; when the middleware is disabled everything passes through.
func APIKeyAuth(config APIKeyAuthConfig, logger logging.Logger) func(http.Handler) http.Handler {
	header := config.Header
	if header == "" {
		header = "X-API-Key"
	}

	return func(next http.Handler) http.Handler {
		if !config.Enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if pathInSkipList(r.URL.Path, config.SkipPaths) {
				next.ServeHTTP(w, r)
				return
			}

			key := extractAPIKey(r, header)
			if key == "" {
				writeUnauthorized(w, header, "authentication required")
				return
			}

			if !matchAPIKey(key, config.Keys) {
				logger.Warn("rejected request with invalid api key",
					logging.String("path", r.URL.Path),
					logging.String("remote_addr", r.RemoteAddr),
				)
				writeUnauthorized(w, header, "invalid api key")
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyNameContextKey, maskAPIKey(key))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func pathInSkipList(path string, skipPaths []string) bool {
	for _, skip := range skipPaths {
		if path == skip || strings.HasPrefix(path, skip+"/") {
			return true
		}
	}
	return false
}

// extractAPIKey pulls the key from the configured header, an Authorization
// Bearer value, or the api_key query parameter, in that order.
func extractAPIKey(r *http.Request, header string) string {
	if key := strings.TrimSpace(r.Header.Get(header)); key != "" {
		return key
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return r.URL.Query().Get("api_key")
}

// matchAPIKey compares the presented key against every configured key so the
// comparison time does not depend on which key matched.
func matchAPIKey(presented string, keys []string) bool {
	matched := false
	for _, k := range keys {
		if subtle.ConstantTimeCompare([]byte(presented), []byte(k)) == 1 {
			matched = true
		}
	}
	return matched
}

// maskAPIKey reduces a key to a loggable identifier.
func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****"
}

// ContextGetAPIKeyName retrieves the masked API key name from the request
// context. Returns empty string when the request was not authenticated.
func ContextGetAPIKeyName(ctx context.Context) string {
	name, ok := ctx.Value(apiKeyNameContextKey).(string)
	if !ok {
		return ""
	}
	return name
}

// writeUnauthorized writes a 401 Unauthorized JSON response. The message is
// kept vague to avoid leaking which part of the credential check failed.
func writeUnauthorized(w http.ResponseWriter, header, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("WWW-Authenticate", header+` realm="bioseq"`)
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"success":false,"error":{"code":"COMMON_003","message":"` + message + `"}}`))
}
