package config

import (
	"testing"
	"time"
)

func TestDuration(t *testing.T) {
	t.Setenv("CATALOG_TIMEOUT", "")
	d, err := Duration("CATALOG_TIMEOUT", 5*time.Second)
	if err != nil || d != 5*time.Second {
		t.Fatalf("expected fallback 5s, got %v (err %v)", d, err)
	}

	t.Setenv("CATALOG_TIMEOUT", "3")
	d, err = Duration("CATALOG_TIMEOUT", 5*time.Second)
	if err != nil || d != 3*time.Second {
		t.Fatalf("expected 3s, got %v (err %v)", d, err)
	}

	t.Setenv("CATALOG_TIMEOUT", "750ms")
	d, err = Duration("CATALOG_TIMEOUT", 5*time.Second)
	if err != nil || d != 750*time.Millisecond {
		t.Fatalf("expected 750ms, got %v (err %v)", d, err)
	}

	t.Setenv("CATALOG_TIMEOUT", "-1s")
	if _, err := Duration("CATALOG_TIMEOUT", 5*time.Second); err == nil {
		t.Fatal("expected error for negative duration")
	}
}

func TestInt(t *testing.T) {
	t.Setenv("RETRY_MAX_ATTEMPTS", "abc")
	if _, err := Int("RETRY_MAX_ATTEMPTS", 3); err == nil {
		t.Fatal("expected error for non-numeric value")
	}
	t.Setenv("RETRY_MAX_ATTEMPTS", "4")
	n, err := Int("RETRY_MAX_ATTEMPTS", 3)
	if err != nil || n != 4 {
		t.Fatalf("expected 4, got %d (err %v)", n, err)
	}
}

func TestPort(t *testing.T) {
	t.Setenv("PORT", "70000")
	if _, err := Port("PORT", "8001"); err == nil {
		t.Fatal("expected error for out of range port")
	}
}

func TestBoolAndList(t *testing.T) {
	t.Setenv("RATE_LIMIT_FAIL_OPEN", "yes")
	if !Bool("RATE_LIMIT_FAIL_OPEN", false) {
		t.Fatal("expected true")
	}
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	got := List("CORS_ALLOWED_ORIGINS", "")
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("unexpected list: %#v", got)
	}
}
