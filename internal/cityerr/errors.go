// Package cityerr provides the typed error kinds shared across CityRollup's
// block production pipeline, plus a small Wrap helper used the way the
// teacher pack's utility packages wrap errors with context.
package cityerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how it should propagate through the block
// production pipeline: some kinds drop one request and continue the block,
// others abort the block or the process outright.
type Kind uint8

const (
	// KindNotFound marks a benign store miss in a floor read; fatal only if
	// surfaced through an exact-match lookup.
	KindNotFound Kind = iota
	// KindInvalidArgument marks a programmer error (malformed key, bad fuzzy
	// suffix); it is returned to the caller like every other kind.
	KindInvalidArgument
	// KindInvalidRequest marks a caller-visible rejection (stale nonce,
	// insufficient balance, unknown user, duplicate claim). The request is
	// dropped; the block continues.
	KindInvalidRequest
	// KindProofFailure marks a discarded job result from a failed circuit
	// assertion.
	KindProofFailure
	// KindWhitelistViolation marks a sighash-introspection variant outside
	// the whitelist tree. Fatal for the block.
	KindWhitelistViolation
	// KindL1Error marks an L1 RPC failure (broadcast, fee estimation).
	KindL1Error
	// KindFatal marks store corruption or a fingerprint mismatch; the
	// process should abort.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindInvalidRequest:
		return "invalid_request"
	case KindProofFailure:
		return "proof_failure"
	case KindWhitelistViolation:
		return "whitelist_violation"
	case KindL1Error:
		return "l1_error"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a typed CityRollup error: a Kind plus a wrapped cause.
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

// New constructs a typed error for op with the given kind and cause.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err carries the given Kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Wrap adds context to an error message. It returns nil if err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
