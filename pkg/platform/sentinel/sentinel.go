package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and platform adapters return
// these (optionally wrapped) so services can translate them into domain outcomes.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: record does not exist in the store or on the platform
// - ErrUnavailable: store or remote service could not be reached
// - ErrTimeout: a remote call exceeded its deadline
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrForbidden: the bot or the caller lacks the capability for the operation
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnavailable  = errors.New("unavailable")
	ErrTimeout      = errors.New("timeout")
	ErrInvalidState = errors.New("invalid state")
	ErrForbidden    = errors.New("forbidden")
)
