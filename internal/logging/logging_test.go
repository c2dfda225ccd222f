package logging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func withObserver(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	prev := globalLogger
	globalLogger = zap.New(core)
	t.Cleanup(func() { globalLogger = prev })
	return logs
}

func TestMiddleware_GeneratesRequestID(t *testing.T) {
	logs := withObserver(t)

	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("hi"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fs/dir", nil))

	if seen == "" {
		t.Fatal("request id not set in context")
	}
	if got := rec.Header().Get(RequestIDHeader); got != seen {
		t.Errorf("header id %q, context id %q", got, seen)
	}

	completed := logs.FilterMessage("request completed").All()
	if len(completed) != 1 {
		t.Fatalf("expected 1 completion entry, got %d", len(completed))
	}
	fields := completed[0].ContextMap()
	if fields["status"] != int64(http.StatusTeapot) {
		t.Errorf("status field = %v", fields["status"])
	}
	if fields["size"] != int64(2) {
		t.Errorf("size field = %v", fields["size"])
	}
	if _, ok := fields["duration"]; !ok {
		t.Error("duration field missing")
	}
	if fields["request_id"] != seen {
		t.Errorf("request_id field = %v", fields["request_id"])
	}
}

func TestMiddleware_KeepsIncomingRequestID(t *testing.T) {
	withObserver(t)

	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Errorf("request id = %q, want abc-123", got)
	}
}

func TestWithContext_FallsBackToGlobal(t *testing.T) {
	if WithContext(context.Background()) == nil {
		t.Fatal("expected a logger")
	}
}

func TestWithFields_TagsContextLogger(t *testing.T) {
	logs := withObserver(t)

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithFields(ctx, User("alice"), Bool("legacy", true))
	WithContext(ctx).Info("planned")

	entries := logs.FilterMessage("planned").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["user"] != "alice" || fields["request_id"] != "req-1" || fields["legacy"] != true {
		t.Errorf("fields = %v", fields)
	}
}

func TestLevelHandler(t *testing.T) {
	prev := globalLevel.Level()
	t.Cleanup(func() { globalLevel.SetLevel(prev) })

	req := httptest.NewRequest(http.MethodPut, "/log/level", strings.NewReader(`{"level":"debug"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	LevelHandler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status %d: %s", rec.Code, rec.Body.String())
	}
	if globalLevel.Level() != zap.DebugLevel {
		t.Errorf("level = %v, want debug", globalLevel.Level())
	}

	rec = httptest.NewRecorder()
	LevelHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/log/level", nil))
	if !strings.Contains(rec.Body.String(), `"debug"`) {
		t.Errorf("GET body %q", rec.Body.String())
	}
}
