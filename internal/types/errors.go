package types

import "errors"

var (
	// ErrNotFound is returned when a signal or project does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPhaseConflict is returned when a compare-and-set phase transition
	// finds a different current phase than expected.
	ErrPhaseConflict = errors.New("concurrent phase modification")

	// ErrInvalidTransition is returned for transitions the phase state
	// machine does not allow.
	ErrInvalidTransition = errors.New("invalid phase transition")

	// ErrPrerequisiteMissing is returned when a derived field is written
	// before the field it depends on (e.g. candidates without an embedding).
	ErrPrerequisiteMissing = errors.New("prerequisite field not set")
)
