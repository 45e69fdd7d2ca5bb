package coreerr

import (
	"errors"
	"testing"
)

func TestErrorUnwrap(t *testing.T) {
	base := errors.New("timeout")
	err := New(KindTransportFailure, "distribution.distribute", base)

	if !errors.Is(err, base) {
		t.Error("expected Unwrap to expose the underlying error")
	}
	if !Is(err, KindTransportFailure) {
		t.Error("expected Is to match KindTransportFailure")
	}
	if Is(err, KindTetherFailure) {
		t.Error("did not expect Is to match an unrelated kind")
	}
}

func TestRetryablePolicy(t *testing.T) {
	cases := []struct {
		kind      Kind
		retryable bool
		fatal     bool
	}{
		{KindTransportFailure, true, false},
		{KindTetherFailure, false, true},
		{KindInvariantViolation, false, true},
		{KindSchemaViolation, false, false},
		{KindConflictDetected, false, false},
		{KindNotFound, false, false},
		{KindPolicyDeny, false, false},
	}

	for _, c := range cases {
		err := New(c.kind, "op", nil)
		if got := Retryable(err); got != c.retryable {
			t.Errorf("Retryable(%s) = %v, want %v", c.kind, got, c.retryable)
		}
		if got := Fatal(err); got != c.fatal {
			t.Errorf("Fatal(%s) = %v, want %v", c.kind, got, c.fatal)
		}
	}
}

func TestErrorMessageWithoutWrapped(t *testing.T) {
	err := New(KindNotFound, "registry.get", nil)
	if err.Error() == "" {
		t.Error("expected non-empty error message")
	}
	if err.Unwrap() != nil {
		t.Error("expected nil Unwrap when no underlying error set")
	}
}
