package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmptyKey     = errors.New("api key is empty")
	ErrInvalidToken = errors.New("invalid token")
)

// APIKeyAuth checks bearer tokens against a single API key. Only the bcrypt
// hash of the key is kept in memory.
type APIKeyAuth struct {
	hash   []byte
	exempt map[string]bool
}

// NewAPIKeyAuth hashes key with the given bcrypt cost. Requests to any of
// exemptPaths skip authentication.
func NewAPIKeyAuth(key string, cost int, exemptPaths ...string) (*APIKeyAuth, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash api key: %w", err)
	}

	exempt := make(map[string]bool, len(exemptPaths))
	for _, p := range exemptPaths {
		exempt[p] = true
	}

	return &APIKeyAuth{hash: hash, exempt: exempt}, nil
}

// Validate checks a presented key
func (a *APIKeyAuth) Validate(token string) error {
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(token)); err != nil {
		return ErrInvalidToken
	}
	return nil
}

// Middleware requires "Authorization: Bearer <key>" on non-exempt paths
func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.exempt[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || a.Validate(token) != nil {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
