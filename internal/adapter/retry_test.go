package adapter

import (
	"context"
	"errors"
	"testing"
)

func TestWithRetryRetriesTransientErrors(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), RetryConfig{BaseDelay: 1, MaxDelay: 1, MaxAttempts: 3}, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &TransientProviderError{Op: "test", Err: errors.New("boom")}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestWithRetryDoesNotRetryPermanentErrors(t *testing.T) {
	calls := 0
	wantErr := &PermanentInputError{Op: "test", Err: errors.New("bad input")}
	err := WithRetry(context.Background(), DefaultRetryConfig(), func(ctx context.Context) error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) && err != wantErr {
		t.Fatalf("expected permanent error to propagate, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on permanent error)", calls)
	}
}

func TestWithRetryGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), RetryConfig{BaseDelay: 1, MaxDelay: 1, MaxAttempts: 3}, func(ctx context.Context) error {
		calls++
		return &TransientProviderError{Op: "test", Err: errors.New("still down")}
	})
	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}
