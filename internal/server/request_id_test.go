package server

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"wavecrate/internal/observability/logging"
)

func TestRequestIDMiddlewarePropagatesExistingHeader(t *testing.T) {
	var seen string
	handler := requestIDMiddleware(slog.Default(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = logging.RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/uploads/sess-1/progress", nil)
	req.Header.Set("X-Request-Id", "req-supplied")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "req-supplied" {
		t.Fatalf("context request ID = %q, want the supplied header", seen)
	}
	if got := rec.Header().Get("X-Request-Id"); got != "req-supplied" {
		t.Fatalf("response header = %q, want the supplied header", got)
	}
}

func TestRequestIDMiddlewareGeneratesWhenAbsent(t *testing.T) {
	generated := "generated-id"
	handler := requestIDMiddlewareWithGenerator(slog.Default(), func() string { return generated },
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if got := rec.Header().Get("X-Request-Id"); got != generated {
		t.Fatalf("response header = %q, want %q", got, generated)
	}
}

func TestRequestIDMiddlewareAttachesSessionID(t *testing.T) {
	var sessionID string
	var hasSession bool
	handler := requestIDMiddleware(slog.Default(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID, hasSession = logging.SessionIDFromContext(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(),
		httptest.NewRequest(http.MethodPost, "/api/uploads/sess-42/chunks/3", nil))
	if !hasSession || sessionID != "sess-42" {
		t.Fatalf("session ID = (%q, %v), want sess-42", sessionID, hasSession)
	}

	hasSession = false
	handler.ServeHTTP(httptest.NewRecorder(),
		httptest.NewRequest(http.MethodPost, "/api/uploads", nil))
	if hasSession {
		t.Fatalf("collection route must not carry a session ID, got %q", sessionID)
	}
}

func TestSessionIDFromPath(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{path: "/api/uploads/sess-1/progress", want: "sess-1"},
		{path: "/api/uploads/sess-1", want: "sess-1"},
		{path: "/api/uploads", want: ""},
		{path: "/healthz", want: ""},
	}
	for _, tc := range cases {
		if got := sessionIDFromPath(tc.path); got != tc.want {
			t.Fatalf("sessionIDFromPath(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}
