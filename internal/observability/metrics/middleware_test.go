package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPMiddlewareRecordsRequests(t *testing.T) {
	recorder := New()
	handler := HTTPMiddleware(recorder, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	label := requestLabel{method: "POST", path: "/api/uploads", status: "201"}
	recorder.mu.RLock()
	count := recorder.requestCount[label]
	recorder.mu.RUnlock()
	if count != 1 {
		t.Fatalf("request count = %d, want 1", count)
	}
}

func TestResponseRecorderDefaultsTo200(t *testing.T) {
	rec := NewResponseRecorder(httptest.NewRecorder())
	if rec.Status() != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Status())
	}
	rec.WriteHeader(http.StatusNotFound)
	if rec.Status() != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Status())
	}
}

func TestHTTPMiddlewareFallsBackToDefaultRecorder(t *testing.T) {
	handler := HTTPMiddleware(nil, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
}
