package interfaces

import "errors"

var (
	// ErrNotFound indicates a reference to a nonexistent key, part, source or
	// anchor.
	ErrNotFound = errors.New("not found")

	// ErrGatewayUnavailable indicates the signer gateway or the replication
	// driver could not be reached. Never retried automatically; the operator
	// retries.
	ErrGatewayUnavailable = errors.New("gateway unavailable")

	// ErrTokenUnavailable indicates the signer gateway reported the requested
	// token missing or locked.
	ErrTokenUnavailable = errors.New("token unavailable")

	// ErrNoActiveKey indicates anchor generation was attempted on a source
	// without an active signing key.
	ErrNoActiveKey = errors.New("no active signing key")

	// ErrValidationFailed indicates an uploaded artifact was rejected by
	// validation tooling. Stored state is untouched.
	ErrValidationFailed = errors.New("validation failed")

	// ErrSameInstance indicates a trusted anchor declared this instance's own
	// identifier. Self-trust is rejected before anything is persisted.
	ErrSameInstance = errors.New("anchor belongs to this instance")
)
