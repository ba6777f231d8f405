package utils

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRetrySucceedsEventually(t *testing.T) {
	r := &RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, Logger: NewNopLogger()}

	calls := 0
	err := r.Do("flaky", func() error {
		calls++
		if calls < 3 {
			return errors.New("boom")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls: got %d, want 3", calls)
	}
}

func TestRetryWrapsLastError(t *testing.T) {
	sentinel := errors.New("still failing")
	r := &RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond}

	err := r.Do("fetch-page", func() error { return sentinel })

	if !errors.Is(err, sentinel) {
		t.Errorf("expected wrapped sentinel, got %v", err)
	}
	if !strings.Contains(err.Error(), "fetch-page failed after 2 attempts") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &RetryConfig{MaxAttempts: 5, BaseDelay: time.Hour}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- r.DoContext(ctx, "slow", func(context.Context) error {
			calls++
			return errors.New("nope")
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("DoContext did not return after cancel")
	}
	if calls != 1 {
		t.Errorf("calls: got %d, want 1", calls)
	}
}

func TestErrorKinds(t *testing.T) {
	base := errors.New("no rows")
	err := Wrap(ErrNotFound, "listing abc", base)

	if !IsKind(err, ErrNotFound) {
		t.Error("expected not_found kind")
	}
	if !errors.Is(err, base) {
		t.Error("expected cause to be reachable via errors.Is")
	}
	if KindOf(errors.New("plain")) != "" {
		t.Error("plain errors carry no kind")
	}
	if Wrap(ErrStorage, "x", nil) != nil {
		t.Error("wrapping nil should yield nil")
	}
}

func TestBackoffDoublesUpToCap(t *testing.T) {
	r := &RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	for i, w := range want {
		if got := r.Backoff(i + 1); got != w {
			t.Errorf("attempt %d: got %v, want %v", i+1, got, w)
		}
	}
}
