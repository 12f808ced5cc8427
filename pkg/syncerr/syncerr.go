// Package syncerr defines the error taxonomy the synchronization core
// uses to decide what to retry, what to drop, and what to surface to
// the caller.
package syncerr

import "errors"

// Kind classifies an error for outbox retry purposes.
type Kind string

const (
	// KindLocalStorage is fatal to the current operation and is
	// surfaced to the caller synchronously.
	KindLocalStorage Kind = "local_storage"
	// KindValidation is thrown synchronously at bundle/operation
	// construction time (bad opId, missing entityId, unknown step
	// kind).
	KindValidation Kind = "validation"
	// KindRemoteReal is a 4xx-semantic remote failure: not-found,
	// unauthorized, invalid, conflict, quota. Limited retries
	// (maxRetries), then DLQ.
	KindRemoteReal Kind = "remote_real"
	// KindRemoteNetwork is a transient remote failure: timeout, 5xx,
	// rate limit, connection error. Generous retries
	// (maxNetworkRetries) with a gentler backoff.
	KindRemoteNetwork Kind = "remote_network"
	// KindNotFoundOnDelete is treated as success: deleting something
	// already gone is idempotent.
	KindNotFoundOnDelete Kind = "not_found_on_delete"
	// KindOrphaned marks an operation whose entity no longer exists
	// locally; it is silently dropped.
	KindOrphaned Kind = "orphaned"
)

// Error wraps an underlying cause with a Kind so the outbox can
// classify it without re-inspecting the original error text.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with Kind. A nil err is still wrapped so classifiers
// can compare by Kind.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Is reports whether err carries Kind k anywhere in its chain.
func Is(err error, k Kind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == k
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to KindRemoteNetwork
// for unclassified errors: unknown errors are treated conservatively
// as network failures, since that's the retry path that never gives
// up.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindRemoteNetwork
}
