package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestJWKSClientCachesAndServesStaleOnFailure(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey failed: %v", err)
	}
	var hits atomic.Int32
	var failing atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		if failing.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(jwks{Keys: []jwk{{
			Kty: "RSA",
			Kid: "kid-1",
			Use: "sig",
			Alg: "RS256",
			N:   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		}}})
	}))
	defer srv.Close()

	client := NewJWKSClient(srv.URL, time.Minute)
	pub, err := client.Get("kid-1")
	if err != nil {
		t.Fatalf("expected key, got %v", err)
	}
	if pub.N.Cmp(key.PublicKey.N) != 0 {
		t.Fatal("expected fetched modulus to match")
	}
	if _, err := client.Get("kid-1"); err != nil {
		t.Fatalf("expected cached key, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected 1 fetch, got %d", hits.Load())
	}

	failing.Store(true)
	client.expires = time.Time{}
	if _, err := client.Get("kid-1"); err != nil {
		t.Fatalf("expected stale key on refresh failure, got %v", err)
	}
	if _, err := client.Get("kid-unknown"); err == nil {
		t.Fatal("expected error for unknown kid")
	}
}
