package repositories

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates the attempted write would violate a uniqueness constraint.
	ErrConflict = errors.New("record conflict")
	// ErrDuplicateOwner indicates an owner with the same username or email already exists.
	ErrDuplicateOwner = errors.New("duplicate owner")
	// ErrIllegalTransition indicates the attempted analysis-state change violates
	// the library state machine. The row is left untouched.
	ErrIllegalTransition = errors.New("illegal state transition")
	// ErrScoreOutOfRange indicates an analysis score outside the declared bounds.
	ErrScoreOutOfRange = errors.New("overall score out of range")
)
