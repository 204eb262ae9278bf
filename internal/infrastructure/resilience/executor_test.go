package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetries(attempts int) Config {
	return Config{
		RetryMaxAttempts:    attempts,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
	}
}

func TestExecuteRetryPolicy(t *testing.T) {
	errBusy := errors.New("model busy")
	errBadInput := errors.New("bad input")

	cases := []struct {
		name         string
		failures     []error
		wantErr      error
		wantAttempts int
	}{
		{name: "recovers after transient failures", failures: []error{errBusy, errBusy}, wantAttempts: 3},
		{name: "gives up after max attempts", failures: []error{errBusy, errBusy, errBusy, errBusy}, wantErr: errBusy, wantAttempts: 3},
		{name: "permanent failure is not retried", failures: []error{errBadInput}, wantErr: errBadInput, wantAttempts: 1},
	}
	classify := func(err error) ErrorClassification {
		return ErrorClassification{Retryable: errors.Is(err, errBusy), RecordFailure: true}
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exec := NewExecutor(fastRetries(3))
			attempts := 0
			err := exec.Execute(context.Background(), "embed", func(context.Context) error {
				attempts++
				if attempts <= len(tc.failures) {
					return tc.failures[attempts-1]
				}
				return nil
			}, classify)

			if !errors.Is(err, tc.wantErr) || (tc.wantErr == nil && err != nil) {
				t.Fatalf("Execute() error = %v, want %v", err, tc.wantErr)
			}
			if attempts != tc.wantAttempts {
				t.Fatalf("attempts = %d, want %d", attempts, tc.wantAttempts)
			}
		})
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	cfg := fastRetries(1)
	cfg.BreakerEnabled = true
	cfg.BreakerMinRequests = 2
	cfg.BreakerFailureRatio = 0.5
	cfg.BreakerOpenTimeout = time.Minute
	cfg.BreakerHalfOpenMaxCalls = 1
	exec := NewExecutor(cfg)

	errDown := errors.New("connection refused")
	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "ollama.chat", func(context.Context) error { return errDown }, nil)
		if !errors.Is(err, errDown) {
			t.Fatalf("call %d: expected upstream error, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "ollama.chat", func(context.Context) error {
		t.Fatalf("open circuit must not call upstream")
		return nil
	}, nil)
	if !IsCircuitOpen(err) {
		t.Fatalf("expected open circuit, got %v", err)
	}

	// Breakers are per operation.
	if err := exec.Execute(context.Background(), "ollama.embed", func(context.Context) error { return nil }, nil); err != nil {
		t.Fatalf("other operation should be unaffected, got %v", err)
	}
}

func TestExecuteAppliesAttemptTimeout(t *testing.T) {
	cfg := fastRetries(2)
	cfg.AttemptTimeout = 5 * time.Millisecond
	exec := NewExecutor(cfg)

	attempts := 0
	err := exec.Execute(context.Background(), "slow", func(ctx context.Context) error {
		attempts++
		<-ctx.Done()
		return ctx.Err()
	}, ClassifyHTTPError)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected timed out attempt to be retried once, got %d attempts", attempts)
	}
}

func TestExecuteStopsWhenCallerCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := NewExecutor(fastRetries(3)).Execute(ctx, "op", func(context.Context) error {
		called = true
		return nil
	}, nil)
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("expected canceled before any attempt, got %v (called=%v)", err, called)
	}
}

func TestNormalizeFillsDefaults(t *testing.T) {
	got := Config{RetryInitialBackoff: time.Second, RetryMaxBackoff: time.Millisecond, BreakerFailureRatio: 3}.normalize()
	def := DefaultConfig()
	if got.RetryMaxAttempts != def.RetryMaxAttempts || got.RetryMultiplier != def.RetryMultiplier {
		t.Fatalf("expected retry defaults, got %+v", got)
	}
	if got.RetryMaxBackoff != time.Second {
		t.Fatalf("max backoff must not be below initial backoff, got %s", got.RetryMaxBackoff)
	}
	if got.BreakerFailureRatio != def.BreakerFailureRatio || got.RetryAfterCap != def.RetryAfterCap {
		t.Fatalf("expected breaker defaults, got %+v", got)
	}
}

func TestClassifyHTTPError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{name: "bad gateway", err: &StatusError{Service: "hf", Operation: "embed", StatusCode: 502}, retryable: true},
		{name: "rate limited", err: &StatusError{Service: "hf", Operation: "embed", StatusCode: 429}, retryable: true},
		{name: "bad request", err: &StatusError{Service: "hf", Operation: "embed", StatusCode: 400}, retryable: false},
		{name: "canceled", err: context.Canceled, retryable: false},
		{name: "deadline", err: context.DeadlineExceeded, retryable: true},
		{name: "plain", err: errors.New("decode failure"), retryable: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyHTTPError(tc.err).Retryable; got != tc.retryable {
				t.Fatalf("Retryable = %v, want %v", got, tc.retryable)
			}
		})
	}
}
