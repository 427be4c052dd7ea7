// Package errs defines the error taxonomy shared by the provenance and OTS
// packages so the HTTP adapter can map failures to status codes without
// string matching.
package errs

import (
	"fmt"
	"net/http"
)

// Kind classifies a failure mode surfaced by the core.
type Kind int

const (
	// IO covers disk and socket failures.
	IO Kind = iota
	// NotFound covers a missing artifact, share, or file.
	NotFound
	// Conflict covers a unique-key violation on event insert.
	Conflict
	// BadKey covers a malformed public or private key.
	BadKey
	// BadSignature covers a malformed signature encoding, and a signature
	// that does not verify where the operation requires it to (a transfer,
	// a share resolve).
	BadSignature
	// Malformed covers an event missing a required role/signature pair.
	Malformed
	// DigestMismatch covers an OTS start digest that disagrees with the artifact digest.
	DigestMismatch
	// MerkleMismatch covers an OTS Bitcoin attestation that disagrees with the block's merkle root.
	MerkleMismatch
	// Oversize covers an upstream response exceeding its configured cap.
	Oversize
	// Upstream covers a non-2xx response from a calendar or block explorer.
	Upstream
	// NotYet covers a 404 from a calendar's upgrade endpoint.
	NotYet
	// Unverified covers a Verify call that produced no confirmed attestation.
	Unverified
)

func (k Kind) String() string {
	switch k {
	case IO:
		return "io"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case BadKey:
		return "bad_key"
	case BadSignature:
		return "bad_signature"
	case Malformed:
		return "malformed"
	case DigestMismatch:
		return "digest_mismatch"
	case MerkleMismatch:
		return "merkle_mismatch"
	case Oversize:
		return "oversize"
	case Upstream:
		return "upstream"
	case NotYet:
		return "not_yet"
	case Unverified:
		return "unverified"
	default:
		return "unknown"
	}
}

// Error wraps a Kind with context and an optional underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus maps the error's Kind to the status code the adapter should
// return, per the propagation table in the error handling design.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case BadKey, BadSignature, Malformed, DigestMismatch, MerkleMismatch:
		return http.StatusBadRequest
	case Oversize, Upstream:
		return http.StatusBadGateway
	case Unverified:
		return http.StatusOK
	case IO:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// New builds an *Error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error around an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}
