package sentinel

import "errors"

// Infrastructure facts returned (optionally wrapped) by stores, lockers and
// outbound adapters. Services translate them into domain errors:
//   - ErrNotFound: the record does not exist
//   - ErrConflict: a concurrent writer or lock holder got there first
//   - ErrInvalidState: the record is in the wrong state for the operation
//   - ErrUnavailable: a backing service could not be reached
//
// Input validation failures use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
