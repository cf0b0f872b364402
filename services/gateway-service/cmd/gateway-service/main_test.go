package main

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/odontocare/odontocare/libs/auth"
)

func TestRequireAuthHS256(t *testing.T) {
	secret := "test-secret"
	claims := auth.NewClaims("user-1", "receptionist", time.Hour)
	token, err := auth.SignHS256(claims, secret)
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}

	h := requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(headerUserID) != "user-1" || r.Header.Get(headerRole) != "receptionist" || r.Header.Get("X-Center-Id") != "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}), secret, nil)

	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(headerRole, "admin")
	req.Header.Set("X-Center-Id", "center-9")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}

	for _, header := range []string{"", "Bearer ", "Bearer badtoken", "Basic dXNlcjpwYXNz"} {
		reqBad := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
		if header != "" {
			reqBad.Header.Set("Authorization", header)
		}
		rwBad := httptest.NewRecorder()
		h.ServeHTTP(rwBad, reqBad)
		if rwBad.Code != http.StatusUnauthorized {
			t.Fatalf("%q: expected 401, got %d", header, rwBad.Code)
		}
	}
}

func TestRequireAuthRS256ViaKeyID(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey failed: %v", err)
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, auth.NewClaims("user-2", "doctor", time.Hour))
	tok.Header["kid"] = "kid-1"
	token, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	keys := func(kid string) (*rsa.PublicKey, error) {
		if kid != "kid-1" {
			return nil, auth.ErrKeyNotFound
		}
		return &key.PublicKey, nil
	}

	var gotRole string
	h := requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRole = r.Header.Get(headerRole)
	}), "", keys)

	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK || gotRole != "doctor" {
		t.Fatalf("expected 200 with doctor role, got %d %q", rw.Code, gotRole)
	}
}

func TestRoutesProxyAppointments(t *testing.T) {
	var seen *http.Request
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Clone(r.Context())
		w.WriteHeader(http.StatusCreated)
	}))
	defer backend.Close()
	target, _ := url.Parse(backend.URL)

	mux := http.NewServeMux()
	registerRoutes(mux, newProxy(target, http.DefaultTransport), "s", nil)
	token, _ := auth.SignHS256(auth.NewClaims("user-9", "admin", time.Hour), "s")

	req := httptest.NewRequest(http.MethodPost, "http://gateway/api/v1/appointments", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(headerUserID, "spoofed")
	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, req)
	if rw.Code != http.StatusCreated {
		t.Fatalf("expected 201 from backend, got %d", rw.Code)
	}
	if seen == nil || seen.URL.Path != "/api/v1/appointments" || seen.Header.Get(headerUserID) != "user-9" {
		t.Fatalf("unexpected upstream request %+v", seen)
	}

	req = httptest.NewRequest(http.MethodGet, "http://gateway/api/v1/availability?doctor_id=d1", nil)
	rw = httptest.NewRecorder()
	mux.ServeHTTP(rw, req)
	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rw.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "http://gateway/api/v1/billing", nil)
	rw = httptest.NewRecorder()
	mux.ServeHTTP(rw, req)
	if rw.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown route, got %d", rw.Code)
	}
}

type failingTransport struct{}

func (failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

func TestProxyUpstreamFailureIsJSON(t *testing.T) {
	target, _ := url.Parse("http://appointment-service:8001")
	proxy := newProxy(target, failingTransport{})

	rw := httptest.NewRecorder()
	proxy.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "http://gateway/api/v1/appointments", nil))
	if rw.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rw.Code)
	}
	var body struct {
		Error struct {
			Kind      string `json:"kind"`
			Retryable bool   `json:"retryable"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rw.Body.Bytes(), &body); err != nil || body.Error.Kind != "upstream_unavailable" || !body.Error.Retryable {
		t.Fatalf("unexpected body %q err=%v", rw.Body.String(), err)
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("APPOINTMENT_URL", "http://appointments:9000")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://clinic.example, https://admin.example")
	t.Setenv("RATE_LIMIT_FAIL_OPEN", "false")
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("expected config, got %v", err)
	}
	if cfg.AppointmentURL.Host != "appointments:9000" || len(cfg.CORSOrigins) != 2 || cfg.RateLimitFailOK {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.RateLimit != 60 || cfg.RequestTimeout != 10*time.Second {
		t.Fatalf("unexpected defaults %+v", cfg)
	}

	t.Setenv("RATE_LIMIT_PER_MINUTE", "zero")
	if _, err := loadConfig(); err == nil {
		t.Fatal("expected invalid rate limit to be rejected")
	}
}
