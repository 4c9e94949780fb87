package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithRequestLogging_PassesThroughStatusAndBody(t *testing.T) {
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	})

	rec := httptest.NewRecorder()
	WithRequestLogging(next, log).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want 418", rec.Code)
	}
	if rec.Body.String() != "short and stout" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestLoggingResponseWriter_PreservesOptionalInterfaces(t *testing.T) {
	lrw := &loggingResponseWriter{ResponseWriter: httptest.NewRecorder()}

	// The websocket upgrade needs Hijacker reachable through the wrapper.
	var w http.ResponseWriter = lrw
	if _, ok := w.(http.Hijacker); !ok {
		t.Fatalf("wrapper does not expose Hijacker")
	}
	if _, ok := w.(http.Flusher); !ok {
		t.Fatalf("wrapper does not expose Flusher")
	}

	type unwrapper interface{ Unwrap() http.ResponseWriter }
	u, ok := w.(unwrapper)
	if !ok {
		t.Fatalf("wrapper does not expose Unwrap")
	}
	if u.Unwrap() == nil {
		t.Fatalf("Unwrap returned nil")
	}

	// Recorder cannot hijack; the wrapper must surface an error, not panic.
	if _, _, err := lrw.Hijack(); err == nil {
		t.Fatalf("expected hijack error on a non-hijackable writer")
	}
}

func TestLoggingResponseWriter_CountsBytes(t *testing.T) {
	lrw := &loggingResponseWriter{ResponseWriter: httptest.NewRecorder()}

	if _, err := lrw.Write([]byte("12345")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := lrw.Write([]byte("678")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if lrw.bytes != 8 {
		t.Fatalf("bytes = %d, want 8", lrw.bytes)
	}
}
