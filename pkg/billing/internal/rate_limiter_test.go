package internal

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.allow("1.2.3.4") {
			t.Fatalf("Request %d should be allowed", i)
		}
	}
	if rl.allow("1.2.3.4") {
		t.Error("Fourth request should be blocked")
	}

	// A different client has its own bucket.
	if !rl.allow("5.6.7.8") {
		t.Error("Different IP should be allowed")
	}
}

func TestRateLimiter_WindowReset(t *testing.T) {
	rl := NewRateLimiter(1, 10*time.Millisecond)

	if !rl.allow("1.2.3.4") {
		t.Fatal("First request should be allowed")
	}
	if rl.allow("1.2.3.4") {
		t.Fatal("Second request should be blocked")
	}

	time.Sleep(15 * time.Millisecond)
	if !rl.allow("1.2.3.4") {
		t.Error("Request after window reset should be allowed")
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	req.RemoteAddr = "1.2.3.4:5678"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("First request status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("Second request status = %d, want 429", rec.Code)
	}
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	if ip := GetClientIP(req); ip != "10.0.0.1:1234" {
		t.Errorf("IP = %q, want RemoteAddr", ip)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if ip := GetClientIP(req); ip != "203.0.113.7" {
		t.Errorf("IP = %q, want first X-Forwarded-For entry", ip)
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(5, 5*time.Millisecond)
	rl.allow("1.1.1.1")
	rl.allow("2.2.2.2")

	time.Sleep(10 * time.Millisecond)
	rl.Cleanup()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.requests) != 0 {
		t.Errorf("Expected expired buckets to be removed, have %d", len(rl.requests))
	}
}
