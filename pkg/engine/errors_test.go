package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		class       ErrorClass
		code        string
		recoverable bool
	}{
		{"timeout", errors.New("request timed out"), ErrorClassTransient, ErrCodeTimeout, true},
		{"deadline", context.DeadlineExceeded, ErrorClassTransient, ErrCodeTimeout, true},
		{"rate limit", errors.New("HTTP 429: Too Many Requests"), ErrorClassThrottled, ErrCodeRateLimited, true},
		{"fee", errors.New("replacement transaction underpriced"), ErrorClassTransient, ErrCodeInsufficientFee, true},
		{"stale block", errors.New("header not found"), ErrorClassTransient, ErrCodeStaleBlock, true},
		{"permanent", errors.New("execution reverted: STF"), ErrorClassPermanent, ErrCodeExecutionFailed, false},
		{"wrapped", fmt.Errorf("venue: %w", NewConflictError("nonce in use", nil).WithCode(ErrCodeConflict)), ErrorClassConflict, ErrCodeConflict, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got.Class != tt.class {
				t.Errorf("Expected class %s, got %s", tt.class, got.Class)
			}
			if got.Code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, got.Code)
			}
			if got.Recoverable() != tt.recoverable {
				t.Errorf("Expected recoverable %v, got %v", tt.recoverable, got.Recoverable())
			}
		})
	}

	if Classify(nil) != nil {
		t.Error("Expected nil for nil error")
	}
}

func TestClassify_CopyDoesNotMutateShared(t *testing.T) {
	shared := NewTransientError("node busy", nil).WithCode(ErrCodeTimeout)

	a := classify(shared, "op-a")
	b := classify(shared, "op-b")

	if shared.OperationID != "" {
		t.Errorf("Expected shared error to stay unbound, got %s", shared.OperationID)
	}
	if a.OperationID != "op-a" || b.OperationID != "op-b" {
		t.Errorf("Expected private copies, got %s and %s", a.OperationID, b.OperationID)
	}
}

func TestEngineError_Error(t *testing.T) {
	err := NewPermanentError("bad params", errors.New("amount is zero")).WithOperation("op-1")

	msg := err.Error()
	for _, want := range []string{"[permanent]", "bad params", "operation=op-1", "amount is zero"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Expected %q in %q", want, msg)
		}
	}
}

func TestEngineError_Is(t *testing.T) {
	err := fmt.Errorf("planning: %w", NewPermanentError("cycle", nil).WithCode(ErrCodeCyclicDependency))

	if !errors.Is(err, ErrCyclicDependency) {
		t.Error("Expected errors.Is to match on class and code")
	}
	if errors.Is(err, ErrUnknownDependency) {
		t.Error("Expected different codes not to match")
	}
}

func TestErrorPredicates(t *testing.T) {
	if !IsTransient(NewTransientError("x", nil)) {
		t.Error("Expected transient")
	}
	if !IsThrottled(NewThrottledError("x", nil)) {
		t.Error("Expected throttled")
	}
	if !IsConflict(NewConflictError("x", nil)) {
		t.Error("Expected conflict")
	}
	if !IsPermanent(NewPermanentError("x", nil)) {
		t.Error("Expected permanent")
	}
	if IsRetryable(NewPermanentError("x", nil)) {
		t.Error("Expected permanent errors not to be retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("Expected plain errors not to be retryable")
	}
}

func TestBackoff(t *testing.T) {
	policy := RetryPolicy{BaseDelay: 10 * time.Millisecond, MaxDelay: 200 * time.Millisecond}

	tests := []struct {
		name    string
		class   ErrorClass
		attempt int
		want    time.Duration
	}{
		{"first transient", ErrorClassTransient, 1, 10 * time.Millisecond},
		{"second transient", ErrorClassTransient, 2, 20 * time.Millisecond},
		{"third transient", ErrorClassTransient, 3, 40 * time.Millisecond},
		{"throttled", ErrorClassThrottled, 1, 50 * time.Millisecond},
		{"conflict", ErrorClassConflict, 2, 40 * time.Millisecond},
		{"capped", ErrorClassThrottled, 4, 200 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := backoff(policy, &EngineError{Class: tt.class}, tt.attempt)
			if got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}
