package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestNewAPIKeyAuth_EmptyKey(t *testing.T) {
	if _, err := NewAPIKeyAuth("", bcrypt.MinCost); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("Expected ErrEmptyKey, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	a, err := NewAPIKeyAuth("s3cret", bcrypt.MinCost, "/health")
	if err != nil {
		t.Fatalf("NewAPIKeyAuth failed: %v", err)
	}

	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{name: "Valid key", path: "/test", header: "Bearer s3cret", want: http.StatusOK},
		{name: "Missing header", path: "/test", want: http.StatusUnauthorized},
		{name: "Wrong key", path: "/test", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "Wrong scheme", path: "/test", header: "Basic s3cret", want: http.StatusUnauthorized},
		{name: "Exempt path", path: "/health", want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, rr.Code)
			}
		})
	}
}
