package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewRespectsCustomWriter(t *testing.T) {
	var buf bytes.Buffer

	logger := New(Config{Writer: &buf})
	logger.Info("custom writer")

	if buf.Len() == 0 {
		t.Fatalf("expected output in custom writer, got none")
	}
}

func TestNewFormatSelection(t *testing.T) {
	var buf bytes.Buffer
	New(Config{Writer: &buf, Format: "text"}).Info("hello")
	if strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Fatalf("expected text output, got %q", buf.String())
	}

	buf.Reset()
	New(Config{Writer: &buf}).Info("hello")
	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("expected JSON by default, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected slog.Level
	}{
		{name: "debug", input: "debug", expected: slog.LevelDebug},
		{name: "warning", input: "warning", expected: slog.LevelWarn},
		{name: "warn", input: "warn", expected: slog.LevelWarn},
		{name: "error", input: "error", expected: slog.LevelError},
		{name: "info", input: "info", expected: slog.LevelInfo},
		{name: "empty", input: "", expected: slog.LevelInfo},
		{name: "mixed case", input: " DeBuG ", expected: slog.LevelDebug},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			leveler := parseLevel(tc.input)
			if leveler == nil {
				t.Fatalf("expected leveler, got nil")
			}

			if got := leveler.Level(); got != tc.expected {
				t.Fatalf("expected %v, got %v", tc.expected, got)
			}
		})
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	WithComponent(logger, "upload").Info("component set")

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("failed to unmarshal log output: %v", err)
	}
	if payload["component"] != "upload" {
		t.Fatalf("expected component \"upload\", got %v", payload["component"])
	}
	if WithComponent(nil, "upload") != nil {
		t.Fatalf("expected nil logger passthrough")
	}
}

func TestContextCarriesRequestAndSessionIDs(t *testing.T) {
	ctx := context.Background()

	if _, ok := RequestIDFromContext(ctx); ok {
		t.Fatalf("empty context must carry no request ID")
	}
	ctx = ContextWithRequestID(ctx, " req-123 ")
	if id, ok := RequestIDFromContext(ctx); !ok || id != "req-123" {
		t.Fatalf("request ID = (%q, %v)", id, ok)
	}
	if ContextWithRequestID(context.Background(), "  ") != context.Background() {
		t.Fatalf("blank request ID must not modify the context")
	}

	ctx = ContextWithSessionID(ctx, "sess-9")
	if id, ok := SessionIDFromContext(ctx); !ok || id != "sess-9" {
		t.Fatalf("session ID = (%q, %v)", id, ok)
	}
}

func TestWithContextAnnotatesLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := ContextWithRequestID(context.Background(), "req-123")
	ctx = ContextWithSessionID(ctx, "sess-9")
	WithContext(ctx, logger).Info("annotated")

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("failed to unmarshal log output: %v", err)
	}
	if payload["request_id"] != "req-123" || payload["session_id"] != "sess-9" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestRequestLoggerEmitsRequestLine(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := RequestLogger(RequestLoggerConfig{Logger: logger})(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))

	req := httptest.NewRequest(http.MethodGet, "/api/uploads", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("failed to unmarshal log output: %v", err)
	}
	if payload["method"] != "GET" || payload["path"] != "/api/uploads" {
		t.Fatalf("payload = %v", payload)
	}
	if payload["status"] != float64(http.StatusTeapot) {
		t.Fatalf("status = %v", payload["status"])
	}
	if _, ok := payload["remote_addr"]; !ok {
		t.Fatalf("expected remote_addr by default, payload = %v", payload)
	}
}

func TestRequestLoggerAdditionalFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := RequestLogger(RequestLoggerConfig{
		Logger:            logger,
		DisableRemoteAddr: true,
		AdditionalFields: func(*http.Request, int, time.Duration) []any {
			return []any{"tenant", "acme"}
		},
	})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("failed to unmarshal log output: %v", err)
	}
	if payload["tenant"] != "acme" {
		t.Fatalf("payload = %v", payload)
	}
	if _, ok := payload["remote_addr"]; ok {
		t.Fatalf("remote_addr must be suppressed, payload = %v", payload)
	}
}
