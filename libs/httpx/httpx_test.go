package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestWithRequestIDKeepsInboundAndMintsMissing(t *testing.T) {
	var seen string
	h := WithRequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "req-123" || rec.Header().Get(RequestIDHeader) != "req-123" {
		t.Fatalf("expected inbound id to be kept, got ctx=%q header=%q", seen, rec.Header().Get(RequestIDHeader))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || seen == "req-123" {
		t.Fatalf("expected a fresh id, got %q", seen)
	}
}

func TestRateLimiterBlocksAfterLimitAndResets(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if ok, _ := rl.allow("1.2.3.4"); !ok {
			t.Fatalf("expected request %d to pass", i+1)
		}
	}
	if ok, wait := rl.allow("1.2.3.4"); ok || wait <= 0 {
		t.Fatalf("expected third request to be limited with a wait, got ok=%v wait=%v", ok, wait)
	}
	if ok, _ := rl.allow("5.6.7.8"); !ok {
		t.Fatal("expected a different client to pass")
	}

	now = now.Add(time.Minute)
	if ok, _ := rl.allow("1.2.3.4"); !ok {
		t.Fatal("expected window reset to allow the client again")
	}
}

func TestRateLimiterMiddlewareSetsRetryAfter(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	h := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestCORSPreflight(t *testing.T) {
	h := WithCORS(CORSPolicy{
		AllowedOrigins: []string{"https://clinic.example"},
		AllowedMethods: []string{"GET", "POST"},
		MaxAge:         10 * time.Minute,
	})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/appointments", nil)
	req.Header.Set("Origin", "https://clinic.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://clinic.example" {
		t.Fatalf("expected origin echo, got %q", got)
	}
	if got := rec.Header().Get("Access-Control-Max-Age"); got != "600" {
		t.Fatalf("expected max age 600, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("expected no CORS headers for unlisted origin")
	}
	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected request to reach handler, got %d", rec.Code)
	}
}

func TestDecodeJSONRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a","extra":1}`))
	if err := DecodeJSON(req, &dst); err == nil {
		t.Fatal("expected unknown field error")
	}
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a"}{"name":"b"}`))
	if err := DecodeJSON(req, &dst); err == nil {
		t.Fatal("expected trailing data error")
	}
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a"}`))
	if err := DecodeJSON(req, &dst); err != nil || dst.Name != "a" {
		t.Fatalf("expected decode success, got %v (%+v)", err, dst)
	}
}

func TestDecodeJSONEmptyBody(t *testing.T) {
	var dst struct{ Name string }

	chunked := httptest.NewRequest(http.MethodPost, "/", nil)
	chunked.ContentLength = -1
	chunked.Body = io.NopCloser(strings.NewReader(""))
	if err := DecodeJSON(chunked, &dst); !errors.Is(err, ErrEmptyBody) {
		t.Fatalf("expected ErrEmptyBody for empty chunked body, got %v", err)
	}
	if err := DecodeJSON(httptest.NewRequest(http.MethodPost, "/", nil), &dst); !errors.Is(err, ErrEmptyBody) {
		t.Fatalf("expected ErrEmptyBody for missing body, got %v", err)
	}
	truncated := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":`))
	if err := DecodeJSON(truncated, &dst); err == nil || errors.Is(err, ErrEmptyBody) {
		t.Fatalf("expected a json error for truncated body, got %v", err)
	}
}

func TestRecoverWritesJSON500(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), WithRequestID, WithRecover(logger))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body map[string]ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected json body, got %v", err)
	}
	if body["error"].Kind != "internal" {
		t.Fatalf("expected internal kind, got %+v", body)
	}
	if !strings.Contains(buf.String(), "handler panic") {
		t.Fatalf("expected panic to be logged, got %s", buf.String())
	}
}
