package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

// HashKey returns the hex SHA-256 of a raw key, the form admin keys are
// configured in.
func HashKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// RequireKey rejects requests whose key does not hash to one of hashes.
// With no hashes configured every request is let through.
func RequireKey(hashes []string) func(http.Handler) http.Handler {
	want := make([][]byte, 0, len(hashes))
	for _, h := range hashes {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			want = append(want, []byte(h))
		}
	}
	return func(next http.Handler) http.Handler {
		if len(want) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := extractAPIKey(r)
			if key == "" {
				writeKeyError(w, "missing api key")
				return
			}
			got := []byte(HashKey(key))
			for _, h := range want {
				if subtle.ConstantTimeCompare(got, h) == 1 {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeKeyError(w, "invalid api key")
		})
	}
}

// extractAPIKey reads Authorization: Bearer <key>, then X-API-Key.
func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if key, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(key)
		}
	}
	return r.Header.Get("X-API-Key")
}

func writeKeyError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + message + `"}`))
}
