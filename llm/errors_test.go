package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsTimeoutError(t *testing.T) {
	if !IsTimeoutError(NewTimeoutError("timed out", nil)) {
		t.Error("timeout Error should be a timeout")
	}
	if !IsTimeoutError(context.DeadlineExceeded) {
		t.Error("bare DeadlineExceeded should be a timeout")
	}
	if !IsTimeoutError(fmt.Errorf("wrapped: %w", NewTimeoutError("t", nil))) {
		t.Error("wrapped timeout Error should be a timeout")
	}
	if IsTimeoutError(NewProviderError("boom", nil)) {
		t.Error("provider Error should not be a timeout")
	}
	if IsTimeoutError(errors.New("plain")) {
		t.Error("plain error should not be a timeout")
	}
}

func TestIsRetryableError(t *testing.T) {
	if !IsRetryableError(NewRateLimitError("slow down", nil)) {
		t.Error("rate limit errors are retryable")
	}
	if !IsRetryableError(NewTimeoutError("timed out", nil)) {
		t.Error("timeouts are retryable")
	}
	if IsRetryableError(NewProviderError("bad request", nil)) {
		t.Error("provider errors are not retryable")
	}
	if IsRetryableError(errors.New("plain")) {
		t.Error("plain errors are not retryable")
	}
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("upstream 429")
	err := NewRateLimitError("rate limited", inner)
	if !errors.Is(err, inner) {
		t.Error("Error should unwrap to its provider error")
	}
	want := "rate limited: upstream 429"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrapContextError(t *testing.T) {
	wrapped := WrapContextError(context.DeadlineExceeded)
	if wrapped == nil || wrapped.Type != ErrorTypeTimeout {
		t.Fatalf("WrapContextError(DeadlineExceeded) = %v", wrapped)
	}
	if WrapContextError(errors.New("other")) != nil {
		t.Error("non-context errors must not be wrapped")
	}
}

func TestWithTimeout(t *testing.T) {
	slow := ClientFunc(func(ctx context.Context, p string) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Second):
			return "done", nil
		}
	})

	client := WithTimeout(slow, 10*time.Millisecond)
	_, err := client.Generate(context.Background(), "prompt")
	if err == nil {
		t.Fatal("expected timeout")
	}
	if !IsTimeoutError(err) {
		t.Errorf("expected timeout error, got %v", err)
	}

	fast := ClientFunc(func(ctx context.Context, p string) (string, error) {
		return "quick", nil
	})
	out, err := WithTimeout(fast, time.Second).Generate(context.Background(), "prompt")
	if err != nil || out != "quick" {
		t.Errorf("fast call: out=%q err=%v", out, err)
	}
}
