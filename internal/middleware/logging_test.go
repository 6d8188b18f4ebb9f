package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestErrorCodeContext(t *testing.T) {
	ctx := SetErrorCode(context.Background(), "not_found")
	if got := GetErrorCode(ctx); got != "not_found" {
		t.Errorf("got %q", got)
	}
	if got := GetErrorCode(context.Background()); got != "" {
		t.Errorf("empty context returned %q", got)
	}
}

func TestResponseWriterCapturesStatusAndSize(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec, context.Background())

	rw.WriteHeader(http.StatusTeapot)
	rw.WriteHeader(http.StatusOK) // second call ignored
	if _, err := rw.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}

	if rw.statusCode != http.StatusTeapot {
		t.Errorf("status = %d", rw.statusCode)
	}
	if rw.size != 5 {
		t.Errorf("size = %d", rw.size)
	}
}

func TestUpdateResponseContext(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec, context.Background())

	ctx := SetErrorCode(context.Background(), "validation_error")
	UpdateResponseContext(rw, ctx)
	if got := GetErrorCode(rw.ctx); got != "validation_error" {
		t.Errorf("carried error code = %q", got)
	}

	// A plain recorder does not implement the carrier; must not panic.
	UpdateResponseContext(rec, ctx)
}

func logLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("parse log line %q: %v", buf.String(), err)
	}
	return entry
}

func TestLoggingMiddlewareFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := RequestID(Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})))

	req := httptest.NewRequest(http.MethodGet, "/v1/audited-types", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := logLine(t, &buf)
	if entry["method"] != "GET" {
		t.Errorf("method = %v", entry["method"])
	}
	if entry["path"] != "/v1/audited-types" {
		t.Errorf("path = %v", entry["path"])
	}
	if entry["status"] != float64(200) {
		t.Errorf("status = %v", entry["status"])
	}
	if entry["request_id"] == nil || entry["request_id"] == "" {
		t.Error("request_id missing from log entry")
	}
	if entry["level"] != "INFO" {
		t.Errorf("level = %v", entry["level"])
	}
}

func TestLoggingMiddlewareErrorCode(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		UpdateResponseContext(w, SetErrorCode(r.Context(), "no_records"))
		w.WriteHeader(http.StatusNotFound)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/records/note/x/latest", nil))

	entry := logLine(t, &buf)
	if entry["error_code"] != "no_records" {
		t.Errorf("error_code = %v", entry["error_code"])
	}
	if entry["level"] != "WARN" {
		t.Errorf("level = %v", entry["level"])
	}
}

func TestLoggingMiddlewareServerErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	entry := logLine(t, &buf)
	if entry["level"] != "ERROR" {
		t.Errorf("level = %v", entry["level"])
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health", "/health"},
		{"/metrics", "/metrics"},
		{"/v1/audited-types", "/v1/audited-types"},
		{"/v1/records/note/n-1", "/v1/records/{type}/{id}"},
		{"/v1/records/note/n-1/latest", "/v1/records/{type}/{id}/latest"},
		{"/v1/records/note/n-1/revision", "/v1/records/{type}/{id}/revision"},
		{"/v1/records/note/n-1/undo", "/v1/records/{type}/{id}/undo"},
		{"/v1/records/note/n-1/other", "/v1/records/note/n-1/other"},
		{"/v1/notes", "/v1/notes"},
		{"/v1/notes/n-1", "/v1/notes/{id}"},
		{"/unknown/route", "/unknown/route"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
