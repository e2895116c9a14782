package engine

import "errors"

// Errors returned by Engine operations.
var (
	// ErrConflictPending is returned by Sync when reconciliation found a
	// count mismatch that needs a Resolve decision.
	ErrConflictPending = errors.New("conflict pending resolution")

	// ErrNoConflict is returned by Resolve when nothing is in conflict.
	ErrNoConflict = errors.New("no conflict to resolve")

	// ErrUnknownKind is returned for a collection kind the engine does not
	// manage.
	ErrUnknownKind = errors.New("unknown collection kind")

	// ErrInvalidChoice is returned by Resolve when a choice is missing,
	// unknown, or given for a kind that is not in conflict.
	ErrInvalidChoice = errors.New("invalid resolution choice")

	// ErrNoRemote is returned by Reconcile when no remote store is configured.
	ErrNoRemote = errors.New("no remote store configured")
)

// Upload abort reasons. Neither is surfaced to callers.
var (
	errDisconnected = errors.New("connectivity lost during upload")
	errSuperseded   = errors.New("upload superseded by a newer snapshot")
)
