package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestDoRetriesTransientFailures(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastPolicy(3), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("connection reset")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Fatalf("expected ok after 3 calls, got %q after %d", got, calls)
	}
}

func TestDoStopsAtMaxAttempts(t *testing.T) {
	calls := 0
	boom := errors.New("unavailable")
	_, err := Do(context.Background(), fastPolicy(2), func(context.Context) (int, error) {
		calls++
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestDoDoesNotRetryPermanent(t *testing.T) {
	calls := 0
	notFound := errors.New("not found")
	_, err := Do(context.Background(), fastPolicy(5), func(context.Context) (int, error) {
		calls++
		return 0, Permanent(notFound)
	})
	if !errors.Is(err, notFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}
