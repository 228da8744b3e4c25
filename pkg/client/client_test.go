package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/psantana5/workgate/pkg/retry"
)

func fastRetry() retry.Config {
	return retry.Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1}
}

func TestClient_Test(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/test" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer k" {
			t.Errorf("Expected bearer token, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"elapsed": 3.0012}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", WithAPIKey("k"), WithRetry(fastRetry()))
	res, err := c.Test(context.Background())
	if err != nil {
		t.Fatalf("Test failed: %v", err)
	}
	if res.Elapsed != 3.0012 {
		t.Errorf("Expected elapsed 3.0012, got %v", res.Elapsed)
	}
}

func TestClient_RetriesUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"elapsed": 1.5}`))
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL, WithRetry(fastRetry())).Test(context.Background())
	if err != nil {
		t.Fatalf("Test failed: %v", err)
	}
	if res.Elapsed != 1.5 || calls.Load() != 2 {
		t.Errorf("Expected success on second call, got %v after %d calls", res.Elapsed, calls.Load())
	}
}

func TestClient_TestDoesNotRepeatAfterDroppedConnection(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		conn, _, err := w.(http.Hijacker).Hijack()
		if err != nil {
			t.Errorf("Hijack failed: %v", err)
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, WithRetry(fastRetry())).Test(context.Background())
	if err == nil {
		t.Fatal("Expected an error for a dropped connection")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("Expected exactly one request to reach the server, got %d", got)
	}
}

func TestClient_TestDoesNotRetryGatewayErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "upstream reset", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, WithRetry(fastRetry())).Test(context.Background())

	var statusErr *retry.StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusBadGateway {
		t.Errorf("Expected status 502 error, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("Expected one attempt, got %d", got)
	}
}

func TestClient_HealthRetriesGatewayErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "upstream reset", http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, WithRetry(fastRetry())).Health(context.Background()); err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("Expected two attempts, got %d", got)
	}
}

func TestClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"work unit failed"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, WithRetry(fastRetry())).Test(context.Background())

	var statusErr *retry.StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500 error, got %v", err)
	}
}

func TestClient_Health(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"healthy","held":true,"waiting":2,"uptime":"1s"}`))
	}))
	defer srv.Close()

	h, err := NewClient(srv.URL).Health(context.Background())
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if h.Status != "healthy" || !h.Held || h.Waiting != 2 {
		t.Errorf("Unexpected health %+v", h)
	}
}
