package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// ValidateAPIKey returns true if providedKey matches configKey.
func ValidateAPIKey(providedKey string, configKey string) bool {
	if configKey == "" || providedKey == "" {
		return false
	}
	if len(providedKey) != len(configKey) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(providedKey), []byte(configKey)) == 1
}

// ExtractAPIKey extracts an API key from an Authorization: Bearer <key> header.
func ExtractAPIKey(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("missing Authorization header")
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", errors.New("invalid Authorization header format")
	}

	key := strings.TrimSpace(header[len(prefix):])
	if key == "" {
		return "", errors.New("missing API key")
	}
	return key, nil
}

// authMiddleware enforces the bearer key. Without a configured key the API
// is open, which doctor flags for non-loopback listeners.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		apiKey, err := ExtractAPIKey(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if !ValidateAPIKey(apiKey, s.config.APIKey) {
			s.writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}
