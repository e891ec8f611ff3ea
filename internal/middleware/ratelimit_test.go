package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestLimiterStore_AllowAndCleanup(t *testing.T) {
	// allow 5 events immediately then the 6th should be rejected
	s := NewLimiterStore(5, 5, 100*time.Millisecond)
	defer s.Stop()

	ctx := context.Background()
	key := "user:64b7f0c2e1a4b3c2d1e0f9a8"
	for i := 0; i < 5; i++ {
		if !s.Allow(ctx, key) {
			t.Fatalf("expected allow at iteration %d", i)
		}
	}

	if s.Allow(ctx, key) {
		t.Fatalf("expected limiter to block after burst consumed")
	}

	if !s.Allow(ctx, "someone-else") {
		t.Fatalf("keys must be limited independently")
	}

	s.sweep(time.Now().Add(time.Minute))
	s.mu.Lock()
	n := len(s.clients)
	s.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected idle entries to be swept, %d left", n)
	}

	s.Stop()
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string) bool { return false }

func TestRateLimitHTTP(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	rec := httptest.NewRecorder()
	RateLimit(denyAll{}, nil)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/sign-in", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode 429 body: %v", err)
	}
	if len(body) != 1 || body["message"] != "rate limit exceeded" {
		t.Fatalf("unexpected 429 body %v", body)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After on 429")
	}
	if called {
		t.Fatal("handler must not run when rate limited")
	}

	s := NewLimiterStore(60, 1, time.Minute)
	defer s.Stop()
	h := RateLimit(s, nil)(next)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/sign-in", nil))
	if rec.Code != http.StatusOK || !called {
		t.Fatalf("first request should pass, got %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/sign-in", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request should be limited, got %d", rec.Code)
	}
}

func TestRateLimitUnaryInterceptor(t *testing.T) {
	handler := func(ctx context.Context, req interface{}) (interface{}, error) { return "ok", nil }
	limited := map[string]bool{"/svc/Limited": true}
	icpt := RateLimitUnaryInterceptor(denyAll{}, limited, nil)

	resp, err := icpt(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/svc/Free"}, handler)
	if err != nil || resp != "ok" {
		t.Fatalf("unlimited method should pass: %v %v", resp, err)
	}

	_, err = icpt(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/svc/Limited"}, handler)
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("expected ResourceExhausted got %v", err)
	}
}
