// Package coreerr provides the shared error-kind taxonomy used across the
// verification and trust-propagation components. Each component wraps its
// failures in an *Error carrying one of the Kind values below so callers can
// branch on errors.As without depending on any single package's sentinel
// errors.
package coreerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by its propagation policy, not by which
// component raised it.
type Kind string

const (
	// KindSchemaViolation: malformed seal/consensus/node. Reject write at
	// the boundary; surface to caller; never propagate internally.
	KindSchemaViolation Kind = "schema_violation"

	// KindInvariantViolation: duplicate node in consensus, revoked-node
	// write. Reject; fatal for the operation; log.
	KindInvariantViolation Kind = "invariant_violation"

	// KindTetherFailure: contract version / phase id mismatch. Fatal;
	// record a critical conflict; do not produce output.
	KindTetherFailure Kind = "tether_failure"

	// KindTransportFailure: per-target delivery timeout or rejection.
	// Recorded as a failed receipt; eligible for retry; never fatal to
	// the record.
	KindTransportFailure Kind = "transport_failure"

	// KindConflictDetected: disagreement in consensus. Not an error in
	// the ordinary sense; state transition to CONFLICTED and await
	// resolution.
	KindConflictDetected Kind = "conflict_detected"

	// KindNotFound: unknown id in query. Return a structured "not found"
	// result, never exception-as-control.
	KindNotFound Kind = "not_found"

	// KindPolicyDeny: boundary enforcement returns false. Not an error;
	// normal deny path; logged with reason.
	KindPolicyDeny Kind = "policy_deny"
)

// Error is the shared wrapper type. Op names the failing operation
// ("seal.create", "consensus.add_result", ...) for log correlation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error for the given kind and operation.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err is a coreerr.Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Retryable reports whether the propagation policy for this error's kind
// permits a retry. Only TransportFailure is retryable (spec.md §7).
func Retryable(err error) bool {
	return Is(err, KindTransportFailure)
}

// Fatal reports whether the propagation policy for this error's kind
// forbids silent recovery. TetherFailure and InvariantViolation are fatal.
func Fatal(err error) bool {
	return Is(err, KindTetherFailure) || Is(err, KindInvariantViolation)
}
