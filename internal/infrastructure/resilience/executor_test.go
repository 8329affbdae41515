package resilience

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

var errTransient = errors.New("transient")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func retryOnly(attempts int) Policy {
	return Policy{
		Attempts:       attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Multiplier:     2,
	}
}

func retryTransient(err error) ErrorClassification {
	return ErrorClassification{Retryable: errors.Is(err, errTransient), RecordFailure: true}
}

func TestExecuteRetriesTransientFailure(t *testing.T) {
	exec := NewExecutor(retryOnly(3), WithLogger(quietLogger()))

	attempts := 0
	err := exec.Execute(context.Background(), "publish", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errTransient
		}
		return nil
	}, retryTransient)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteStopsAfterLastAttempt(t *testing.T) {
	exec := NewExecutor(retryOnly(2), WithLogger(quietLogger()))

	attempts := 0
	err := exec.Execute(context.Background(), "publish", func(context.Context) error {
		attempts++
		return errTransient
	}, retryTransient)
	if !errors.Is(err, errTransient) || attempts != 2 {
		t.Fatalf("expected transient error after 2 attempts, got %v after %d", err, attempts)
	}
}

func TestExecuteDoesNotRetryPermanentFailure(t *testing.T) {
	exec := NewExecutor(retryOnly(3), WithLogger(quietLogger()))

	attempts := 0
	errPermanent := errors.New("permanent")
	err := exec.Execute(context.Background(), "publish", func(context.Context) error {
		attempts++
		return errPermanent
	}, retryTransient)
	if !errors.Is(err, errPermanent) || attempts != 1 {
		t.Fatalf("expected single permanent failure, got %v after %d", err, attempts)
	}
}

func TestExecuteHonoursCancelledContext(t *testing.T) {
	exec := NewExecutor(retryOnly(3), WithLogger(quietLogger()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := exec.Execute(ctx, "publish", func(context.Context) error {
		t.Fatalf("operation must not run with a cancelled context")
		return nil
	}, retryTransient)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestExecuteOpensCircuitAndNotifiesListener(t *testing.T) {
	var (
		mu          sync.Mutex
		transitions []string
	)
	policy := retryOnly(1)
	policy.Breaker = BreakerPolicy{
		Enabled:          true,
		MinRequests:      2,
		FailureRatio:     0.5,
		OpenTimeout:      time.Minute,
		HalfOpenMaxCalls: 1,
	}
	exec := NewExecutor(policy, WithLogger(quietLogger()), WithStateListener(func(op, from, to string) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, op+":"+from+"->"+to)
	}))

	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "nats.publish", func(context.Context) error {
			return errTransient
		}, nil)
		if !errors.Is(err, errTransient) {
			t.Fatalf("expected transient error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "nats.publish", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, nil)
	if !errors.Is(err, gobreaker.ErrOpenState) || !IsCircuitOpen(err) {
		t.Fatalf("expected open state error, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 1 || transitions[0] != "nats.publish:closed->open" {
		t.Fatalf("unexpected transitions %v", transitions)
	}
}

func TestPolicyBackoffIsCapped(t *testing.T) {
	p := Policy{Attempts: 5, InitialBackoff: 10 * time.Millisecond, MaxBackoff: 25 * time.Millisecond, Multiplier: 2}.normalize()

	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 25 * time.Millisecond, 25 * time.Millisecond}
	for i, w := range want {
		if got := p.backoff(i + 1); got != w {
			t.Fatalf("backoff(%d) = %s, want %s", i+1, got, w)
		}
	}
}
