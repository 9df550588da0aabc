package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
})

func serveFrom(h http.Handler, remoteAddr, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = remoteAddr
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func newLimiter(t *testing.T, rps float64, burst int) *RateLimiter {
	t.Helper()
	l := NewRateLimiter(rps, burst)
	t.Cleanup(l.Stop)
	return l
}

func TestRateLimit_AllowsWithinBurst(t *testing.T) {
	handler := newLimiter(t, 10, 5).Middleware()(okHandler)

	for i := 0; i < 5; i++ {
		if rr := serveFrom(handler, "192.168.1.1:12345", "/api/v1/channels"); rr.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i+1, rr.Code)
		}
	}
}

func TestRateLimit_BlocksOverLimit(t *testing.T) {
	handler := newLimiter(t, 1, 2).Middleware()(okHandler)

	for i := 0; i < 2; i++ {
		if rr := serveFrom(handler, "10.0.0.1:12345", "/api/v1/channels"); rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rr.Code)
		}
	}

	rr := serveFrom(handler, "10.0.0.1:12345", "/api/v1/channels")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body["error"] != "rate limit exceeded" {
		t.Errorf("expected error 'rate limit exceeded', got %q", body["error"])
	}
}

func TestRateLimit_SeparateBucketsPerClient(t *testing.T) {
	l := newLimiter(t, 1, 1)
	handler := l.Middleware()(okHandler)

	if rr := serveFrom(handler, "10.0.0.1:12345", "/x"); rr.Code != http.StatusOK {
		t.Fatalf("first client: expected 200, got %d", rr.Code)
	}
	if rr := serveFrom(handler, "10.0.0.1:54321", "/x"); rr.Code != http.StatusTooManyRequests {
		t.Errorf("same host on another port: expected 429, got %d", rr.Code)
	}
	if rr := serveFrom(handler, "10.0.0.2:12345", "/x"); rr.Code != http.StatusOK {
		t.Errorf("second client: expected 200, got %d", rr.Code)
	}
	if l.Len() != 2 {
		t.Errorf("expected 2 tracked clients, got %d", l.Len())
	}
}

func TestRateLimit_ExemptPaths(t *testing.T) {
	handler := newLimiter(t, 1, 1).Middleware("/healthz")(okHandler)

	for i := 0; i < 3; i++ {
		if rr := serveFrom(handler, "10.0.0.1:1", "/healthz"); rr.Code != http.StatusOK {
			t.Errorf("health probe %d: expected 200, got %d", i+1, rr.Code)
		}
	}
}

func TestRateLimit_XForwardedForIgnored(t *testing.T) {
	handler := newLimiter(t, 1, 1).Middleware()(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "10.0.0.1:12345"
	req.Header.Set("X-Forwarded-For", "203.0.113.50")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "10.0.0.1:12345"
	req.Header.Set("X-Forwarded-For", "198.51.100.99")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("spoofed header must not grant a new bucket, got %d", rr.Code)
	}
}

func TestRateLimit_WithMuxRouter(t *testing.T) {
	r := mux.NewRouter()
	r.Use(newLimiter(t, 1, 1).Middleware())
	r.HandleFunc("/api/v1/channels", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	if rr := serveFrom(r, "10.0.0.1:12345", "/api/v1/channels"); rr.Code != http.StatusOK {
		t.Fatalf("mux request 1: expected 200, got %d", rr.Code)
	}
	if rr := serveFrom(r, "10.0.0.1:12345", "/api/v1/channels"); rr.Code != http.StatusTooManyRequests {
		t.Errorf("mux request 2: expected 429, got %d", rr.Code)
	}
}

func TestRateLimit_EvictIdle(t *testing.T) {
	l := newLimiter(t, 1, 1)
	l.Allow("10.0.0.1")
	l.Allow("10.0.0.2")

	l.evictIdle(time.Now().Add(limiterIdleTTL + time.Second))
	if l.Len() != 0 {
		t.Errorf("expected idle clients to be evicted, %d left", l.Len())
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		want       string
	}{
		{"with port", "192.168.1.1:8080", "192.168.1.1"},
		{"without port", "192.168.1.1", "192.168.1.1"},
		{"ipv6", "[::1]:443", "::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
