package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func TestAllow(t *testing.T) {
	l := New(10)
	for i := 0; i < 10; i++ {
		if ok, _ := l.Allow("alice"); !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	ok, wait := l.Allow("alice")
	if ok {
		t.Fatal("11th request should be denied")
	}
	if wait <= 0 || wait > 6*time.Second+time.Millisecond*100 {
		t.Errorf("unexpected wait %v", wait)
	}

	// Other users have their own bucket.
	if ok, _ := l.Allow("bob"); !ok {
		t.Error("bob should be allowed")
	}
}

func TestAllow_DeniedRequestsDoNotConsume(t *testing.T) {
	l := New(60) // one token per second
	for i := 0; i < 60; i++ {
		l.Allow("alice")
	}
	for i := 0; i < 5; i++ {
		l.Allow("alice")
	}
	time.Sleep(1100 * time.Millisecond)
	if ok, _ := l.Allow("alice"); !ok {
		t.Error("should be allowed after refill")
	}
}

func TestUnlimited(t *testing.T) {
	l := New(0)
	for i := 0; i < 1000; i++ {
		if ok, _ := l.Allow("alice"); !ok {
			t.Fatalf("request %d should be allowed (unlimited)", i+1)
		}
	}
	if l.Len() != 0 {
		t.Error("unlimited limiter should not track keys")
	}
}

func TestCleanup(t *testing.T) {
	l := New(5)
	l.Allow("alice")
	l.Cleanup(time.Hour)
	if l.Len() != 1 {
		t.Fatal("recent bucket removed")
	}
	time.Sleep(10 * time.Millisecond)
	l.Cleanup(time.Millisecond)
	if l.Len() != 0 {
		t.Error("stale bucket kept")
	}
}

func TestMiddleware(t *testing.T) {
	l := New(1)
	h := l.Middleware(func(r *http.Request) string {
		return r.Header.Get("X-User")
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	send := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/stager/jobs", nil)
		req.Header.Set("X-User", user)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := send("alice"); rec.Code != http.StatusOK {
		t.Fatalf("first request: %d", rec.Code)
	}
	rec := send("alice")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: %d", rec.Code)
	}
	if s, err := strconv.Atoi(rec.Header().Get("Retry-After")); err != nil || s < 1 {
		t.Errorf("Retry-After %q", rec.Header().Get("Retry-After"))
	}
	for i := 0; i < 3; i++ {
		if rec := send(""); rec.Code != http.StatusOK {
			t.Errorf("anonymous request limited: %d", rec.Code)
		}
	}
}
