package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestReadyzReportsFailures(t *testing.T) {
	mux := NewBaseMuxWithReady(
		ReadyCheck{Name: "db", Check: func(context.Context) error { return nil }},
		ReadyCheck{Name: "kafka", Check: func(context.Context) error { return errors.New("dial refused") }},
	)

	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rw.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rw.Code)
	}
	var report readyReport
	if err := json.NewDecoder(rw.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Failures["kafka"] != "dial refused" {
		t.Fatalf("expected kafka failure, got %+v", report.Failures)
	}
	if _, ok := report.Failures["db"]; ok {
		t.Fatal("db check should have passed")
	}
}

func TestHealthzAlwaysOK(t *testing.T) {
	mux := NewBaseMuxWithReady()
	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
}
